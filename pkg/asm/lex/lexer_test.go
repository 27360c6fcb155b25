package lex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allTokens(t *testing.T, l *Lexer) []Token {
	t.Helper()
	var out []Token
	for {
		tok, err := l.Next()
		require.NoError(t, err)
		out = append(out, tok)
		if tok.Kind == KindEOF {
			return out
		}
	}
}

func TestLexLabelAndDirective(t *testing.T) {
	l := New("t.s", ".loop %ARMv3\n")
	toks := allTokens(t, l)
	require.GreaterOrEqual(t, len(toks), 3)
	assert.Equal(t, KindLabel, toks[0].Kind)
	assert.Equal(t, "loop", toks[0].Text)
	assert.Equal(t, KindDirective, toks[1].Kind)
	assert.Equal(t, "ARMv3", toks[1].Text)
}

func TestLexCommentToNewline(t *testing.T) {
	l := New("t.s", "MOV R0, #1 ; comment here\nADD")
	toks := allTokens(t, l)
	var texts []string
	for _, tok := range toks {
		if tok.Kind != KindNewline && tok.Kind != KindEOF {
			texts = append(texts, tok.Text)
		}
	}
	assert.Equal(t, []string{"MOV", "R0", ",", "#", "1", "ADD"}, texts)
}

func TestLexLineContinuation(t *testing.T) {
	l := New("t.s", "MOV R0, \\\n  #1\n")
	toks := allTokens(t, l)
	assert.Equal(t, KindIdent, toks[0].Kind)
	assert.Equal(t, KindRegister, toks[1].Kind)
	assert.Equal(t, uint32(0), toks[1].RegIndex)
}

func TestLexRegisterAliases(t *testing.T) {
	l := New("t.s", "SP LR PC R7")
	toks := allTokens(t, l)
	require.Equal(t, KindRegister, toks[0].Kind)
	assert.Equal(t, uint32(13), toks[0].RegIndex)
	assert.Equal(t, uint32(14), toks[1].RegIndex)
	assert.True(t, toks[2].IsPC)
	assert.Equal(t, uint32(7), toks[3].RegIndex)
}

func TestLexIntLiteralRadixes(t *testing.T) {
	cases := []struct {
		src   string
		radix int
	}{
		{"42", 10},
		{"0x2A", 16},
		{"&2A", 16},
		{"0b101010", 2},
	}
	for _, c := range cases {
		l := New("t.s", c.src)
		tok, err := l.Next()
		require.NoError(t, err)
		assert.Equal(t, KindIntLiteral, tok.Kind)
		assert.Equal(t, c.radix, tok.Radix)
	}
}

func TestLexStringEscapes(t *testing.T) {
	l := New("t.s", `"hi\n\x41"`)
	tok, err := l.Next()
	require.NoError(t, err)
	assert.Equal(t, KindStringLiteral, tok.Kind)
	assert.Equal(t, "hi\nA", tok.Text)
}

func TestLexPSRNameUnderContext(t *testing.T) {
	l := New("t.s", "CPSR_fc")
	l.Push(ContextPSRName)
	tok, err := l.Next()
	require.NoError(t, err)
	assert.Equal(t, KindPSR, tok.Kind)
	assert.Equal(t, "CPSR_FC", tok.Text)
}

func TestLexPunctAndOperators(t *testing.T) {
	l := New("t.s", "R0!, {R1-R4}^ << 2")
	toks := allTokens(t, l)
	var kinds []Kind
	for _, tok := range toks {
		if tok.Kind != KindEOF {
			kinds = append(kinds, tok.Kind)
		}
	}
	assert.Contains(t, kinds, KindPunct)
	assert.Contains(t, kinds, KindOperator)
}

func TestLexUnexpectedCharacterErrors(t *testing.T) {
	l := New("t.s", "@")
	_, err := l.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLex)
}
