package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/armcore/pkg/asm/lex"
	"github.com/bassosimone/armcore/pkg/value"
)

type fakeCtx struct {
	symbols map[string]value.Value
	loc     int64
}

func (f fakeCtx) Resolve(name string) (value.Value, bool) { v, ok := f.symbols[name]; return v, ok }
func (f fakeCtx) Location() value.Value                   { return value.NewInt64(f.loc) }

func evalString(t *testing.T, src string, ctx Context) value.Value {
	t.Helper()
	l := lex.New("t.s", src)
	l.Push(lex.ContextExpression)
	v, err := Eval(l, ctx)
	require.NoError(t, err)
	return v
}

func evalInt(t *testing.T, src string, ctx Context) int64 {
	t.Helper()
	v := evalString(t, src, ctx)
	n, err := AsInt(v, lex.Location{})
	require.NoError(t, err)
	return n
}

func TestEvalArithmeticPrecedence(t *testing.T) {
	assert.Equal(t, int64(14), evalInt(t, "2 + 3 * 4", fakeCtx{}))
}

func TestEvalParenthesesOverridePrecedence(t *testing.T) {
	assert.Equal(t, int64(20), evalInt(t, "(2 + 3) * 4", fakeCtx{}))
}

func TestEvalShiftAndUnary(t *testing.T) {
	assert.Equal(t, int64(-16), evalInt(t, "-1 << 4", fakeCtx{}))
}

func TestEvalNegativeShiftCountInvertsDirection(t *testing.T) {
	assert.Equal(t, int64(4), evalInt(t, "16 << (0 - 2)", fakeCtx{}))
	assert.Equal(t, int64(16), evalInt(t, "4 >> (0 - 2)", fakeCtx{}))
}

func TestEvalModulusAndBitwise(t *testing.T) {
	assert.Equal(t, int64(2), evalInt(t, "17 % 5", fakeCtx{}))
	assert.Equal(t, int64(0x0A), evalInt(t, "&FF & &0A", fakeCtx{}))
	assert.Equal(t, int64(0xF0|0x0F), evalInt(t, "&F0 | &0F", fakeCtx{}))
	assert.Equal(t, int64(0xFF^0x0F), evalInt(t, "&FF ^ &0F", fakeCtx{}))
	assert.Equal(t, int64(^int64(0)), evalInt(t, "~0", fakeCtx{}))
}

func TestEvalDivisionByZeroFails(t *testing.T) {
	l := lex.New("t.s", "1 / 0")
	l.Push(lex.ContextExpression)
	_, err := Eval(l, fakeCtx{})
	assert.ErrorIs(t, err, ErrExpr)

	l2 := lex.New("t.s", "1 % 0")
	l2.Push(lex.ContextExpression)
	_, err = Eval(l2, fakeCtx{})
	assert.ErrorIs(t, err, ErrExpr)
}

func TestEvalSymbolResolution(t *testing.T) {
	ctx := fakeCtx{symbols: map[string]value.Value{"loop": value.NewInt64(0x100)}}
	assert.Equal(t, int64(0x104), evalInt(t, "loop + 4", ctx))
}

func TestEvalUndefinedSymbolErrors(t *testing.T) {
	l := lex.New("t.s", "missing")
	_, err := Eval(l, fakeCtx{symbols: map[string]value.Value{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpr)
}

func TestEvalLocationCounter(t *testing.T) {
	assert.Equal(t, int64(0x28), evalInt(t, "$ + 8", fakeCtx{loc: 0x20}))
}

func TestEvalRealPromotion(t *testing.T) {
	v := evalString(t, "1 + 0.5", fakeCtx{})
	require.True(t, v.IsFloat())
	assert.Equal(t, 1.5, v.AsFloat64())
}

func TestEvalStringConcatAndRepeat(t *testing.T) {
	ctx := fakeCtx{symbols: map[string]value.Value{
		"greet": value.NewString("hi"),
	}}
	v := evalString(t, `greet + greet`, ctx)
	require.Equal(t, value.String, v.Kind())
	assert.Equal(t, "hihi", v.Str())

	v = evalString(t, `greet * 3`, ctx)
	require.Equal(t, value.String, v.Kind())
	assert.Equal(t, "hihihi", v.Str())
}

func TestEvalStringRejectsNumericOperators(t *testing.T) {
	ctx := fakeCtx{symbols: map[string]value.Value{"s": value.NewString("x")}}
	l := lex.New("t.s", "s / 2")
	l.Push(lex.ContextExpression)
	_, err := Eval(l, ctx)
	assert.ErrorIs(t, err, ErrExpr)
}

func TestEvalHexAndAmpersandLiterals(t *testing.T) {
	assert.Equal(t, int64(0x2A), evalInt(t, "0x2A", fakeCtx{}))
	assert.Equal(t, int64(0x2A), evalInt(t, "&2A", fakeCtx{}))
}
