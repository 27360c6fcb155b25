// Package lex implements the assembler's lexer stack: a pluggable set of
// character-to-token contexts (statement, expression, register list, PSR
// name) pushed and popped by the parser as it descends into operands of a
// given kind, per spec.md 4.I.
package lex

import "fmt"

// Kind classifies a Token.
type Kind int

const (
	KindEOF Kind = iota
	KindNewline
	KindLabel      // .name
	KindIdent      // bare identifier: mnemonic, symbol, directive name sans %
	KindDirective  // %name
	KindRegister   // R0-R15, PC, SP, LR aliases
	KindCondition  // EQ, NE, CS, ... suffix recognised during mnemonic split
	KindPSR        // CPSR / SPSR with optional _fsxc suffix
	KindIntLiteral // decimal, &hex, 0x hex, 0b binary
	KindRealLiteral
	KindStringLiteral
	KindCharLiteral
	KindPunct // , ( ) { } [ ] ! ^ # (! and ^ are operators in expression context)
	KindOperator
)

func (k Kind) String() string {
	names := [...]string{
		"EOF", "Newline", "Label", "Ident", "Directive", "Register",
		"Condition", "PSR", "IntLiteral", "RealLiteral", "StringLiteral",
		"CharLiteral", "Punct", "Operator",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "?"
}

// Location is a position in an assembler source file (possibly reached
// through a chain of %include directives).
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string { return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column) }

// Token is one lexical unit: a kind, a location, the raw text, and typed
// properties filled in for literal/register/condition kinds.
type Token struct {
	Kind     Kind
	Loc      Location
	Text     string
	Radix    int    // valid for KindIntLiteral
	RegIndex uint32 // valid for KindRegister
	IsPC     bool   // register text was PC (R15 alias)
}
