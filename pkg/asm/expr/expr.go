// Package expr implements the assembler's expression evaluator: a small
// recursive-descent parser over the lexer's expression context, producing
// a Node tree that resolves against a symbol table supplied at assembly
// time, per spec.md 4.K. Operands are value.Value, so the evaluator shares
// the Value/Variant conversion lattice with the rest of the system: any
// real operand promotes the whole expression to real, strings participate
// only in the string operations, and everything else is integer
// arithmetic.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bassosimone/armcore/pkg/asm/lex"
	"github.com/bassosimone/armcore/pkg/value"
)

// ErrExpr is the sentinel wrapped by every expression evaluation error.
var ErrExpr = fmt.Errorf("expr: error")

// Context resolves symbols and the current location counter ('$') during
// evaluation. Assemblers pass a per-pass implementation; a symbol unknown
// in pass one but known in pass two is the normal two-pass resolution
// story, not an error condition by itself.
type Context interface {
	Resolve(name string) (value.Value, bool)
	Location() value.Value
}

// Node is one expression tree node.
type Node interface {
	Eval(ctx Context) (value.Value, error)
}

// AsInt coerces an evaluated expression result to the signed integer the
// operand encoders need (addresses, immediates, shift amounts), truncating
// a real and rejecting a string.
func AsInt(v value.Value, loc lex.Location) (int64, error) {
	switch {
	case v.Kind() == value.String:
		return 0, fmt.Errorf("%w: %s: expected a numeric value, got a string", ErrExpr, loc)
	case v.IsFloat():
		return int64(v.AsFloat64()), nil
	case v.IsNumeric():
		return v.AsInt64(), nil
	default:
		return 0, fmt.Errorf("%w: %s: expression has no value", ErrExpr, loc)
	}
}

type litNode struct{ v value.Value }

func (n litNode) Eval(Context) (value.Value, error) { return n.v, nil }

type locNode struct{}

func (locNode) Eval(ctx Context) (value.Value, error) { return ctx.Location(), nil }

type symNode struct {
	name string
	loc  lex.Location
}

func (n symNode) Eval(ctx Context) (value.Value, error) {
	v, ok := ctx.Resolve(n.name)
	if !ok {
		return value.Unset, fmt.Errorf("%w: %s: undefined symbol %q", ErrExpr, n.loc, n.name)
	}
	return v, nil
}

type unaryNode struct {
	op  string
	x   Node
	loc lex.Location
}

func (n unaryNode) Eval(ctx Context) (value.Value, error) {
	v, err := n.x.Eval(ctx)
	if err != nil {
		return value.Unset, err
	}
	switch n.op {
	case "-":
		if v.IsFloat() {
			return value.NewFloat64(-v.AsFloat64()), nil
		}
		if !v.IsNumeric() {
			return value.Unset, fmt.Errorf("%w: %s: unary - requires a numeric operand", ErrExpr, n.loc)
		}
		return value.NewInt64(-v.AsInt64()), nil
	case "~", "!":
		// Both spellings are the bitwise complement on integers; spec.md
		// 4.K's "logical NOT on unsigned produces same-width bitwise
		// complement" collapses them.
		if v.IsFloat() || !v.IsNumeric() {
			return value.Unset, fmt.Errorf("%w: %s: %s requires an integer operand", ErrExpr, n.loc, n.op)
		}
		return value.NewInt64(^v.AsInt64()), nil
	default:
		return value.Unset, fmt.Errorf("%w: %s: unknown unary operator %q", ErrExpr, n.loc, n.op)
	}
}

type binNode struct {
	op   string
	a, b Node
	loc  lex.Location
}

func (n binNode) Eval(ctx Context) (value.Value, error) {
	a, err := n.a.Eval(ctx)
	if err != nil {
		return value.Unset, err
	}
	b, err := n.b.Eval(ctx)
	if err != nil {
		return value.Unset, err
	}
	if a.Kind() == value.String || b.Kind() == value.String {
		return n.evalString(a, b)
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return value.Unset, fmt.Errorf("%w: %s: operator %q requires numeric operands", ErrExpr, n.loc, n.op)
	}
	if a.IsFloat() || b.IsFloat() {
		return n.evalReal(a.AsFloat64(), b.AsFloat64())
	}
	return n.evalInt(a.AsInt64(), b.AsInt64())
}

// evalString implements the string operations of spec.md 4.K: concat via
// '+', repeat via '*' with an integer; anything else fails.
func (n binNode) evalString(a, b value.Value) (value.Value, error) {
	switch n.op {
	case "+":
		if a.Kind() != value.String || b.Kind() != value.String {
			return value.Unset, fmt.Errorf("%w: %s: string + requires two strings", ErrExpr, n.loc)
		}
		return value.NewString(a.Str() + b.Str()), nil
	case "*":
		s, count := a, b
		if s.Kind() != value.String {
			s, count = b, a
		}
		if count.IsFloat() || !count.IsNumeric() {
			return value.Unset, fmt.Errorf("%w: %s: string * requires an integer repeat count", ErrExpr, n.loc)
		}
		k := count.AsInt64()
		if k < 0 {
			return value.Unset, fmt.Errorf("%w: %s: negative string repeat count", ErrExpr, n.loc)
		}
		return value.NewString(strings.Repeat(s.Str(), int(k))), nil
	default:
		return value.Unset, fmt.Errorf("%w: %s: operator %q is not a string operation", ErrExpr, n.loc, n.op)
	}
}

func (n binNode) evalReal(a, b float64) (value.Value, error) {
	switch n.op {
	case "+":
		return value.NewFloat64(a + b), nil
	case "-":
		return value.NewFloat64(a - b), nil
	case "*":
		return value.NewFloat64(a * b), nil
	case "/":
		if b == 0 {
			return value.Unset, fmt.Errorf("%w: %s: division by zero", ErrExpr, n.loc)
		}
		return value.NewFloat64(a / b), nil
	default:
		return value.Unset, fmt.Errorf("%w: %s: operator %q requires integer operands", ErrExpr, n.loc, n.op)
	}
}

func (n binNode) evalInt(a, b int64) (value.Value, error) {
	switch n.op {
	case "+":
		return value.NewInt64(a + b), nil
	case "-":
		return value.NewInt64(a - b), nil
	case "*":
		return value.NewInt64(a * b), nil
	case "/":
		if b == 0 {
			return value.Unset, fmt.Errorf("%w: %s: division by zero", ErrExpr, n.loc)
		}
		return value.NewInt64(a / b), nil
	case "%":
		if b == 0 {
			return value.Unset, fmt.Errorf("%w: %s: modulus by zero", ErrExpr, n.loc)
		}
		return value.NewInt64(a % b), nil
	case "<<":
		return value.NewInt64(shiftInt(a, b)), nil
	case ">>":
		return value.NewInt64(shiftInt(a, -b)), nil
	case "&":
		return value.NewInt64(a & b), nil
	case "|":
		return value.NewInt64(a | b), nil
	case "^":
		return value.NewInt64(a ^ b), nil
	default:
		return value.Unset, fmt.Errorf("%w: %s: unknown binary operator %q", ErrExpr, n.loc, n.op)
	}
}

// shiftInt shifts left by count bits; a negative count inverts the
// direction, per spec.md 4.K.
func shiftInt(v, count int64) int64 {
	if count < 0 {
		if count <= -64 {
			return v >> 63
		}
		return v >> uint(-count)
	}
	if count >= 64 {
		return 0
	}
	return v << uint(count)
}

// Parser consumes tokens from a lex.Lexer already pushed into
// lex.ContextExpression and builds a Node tree for one expression.
type Parser struct {
	l   *lex.Lexer
	tok lex.Token
}

// NewParser primes the parser with the first lookahead token.
func NewParser(l *lex.Lexer) (*Parser, error) {
	p := &Parser{l: l}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	tok, err := p.l.Next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

// Peek returns the current lookahead token without consuming it.
func (p *Parser) Peek() lex.Token { return p.tok }

// Parse parses one expression at the lowest precedence (+ -), stopping at
// the first token that cannot extend it.
func (p *Parser) Parse() (Node, error) { return p.parseAddSub() }

func (p *Parser) binaryLevel(next func() (Node, error), ops ...string) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == lex.KindOperator && contains(ops, p.tok.Text) {
		op := p.tok.Text
		loc := p.tok.Loc
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op, a: left, b: right, loc: loc}
	}
	return left, nil
}

func contains(ss []string, s string) bool {
	for _, c := range ss {
		if c == s {
			return true
		}
	}
	return false
}

func (p *Parser) parseAddSub() (Node, error) {
	return p.binaryLevel(p.parseBitwise, "+", "-")
}

func (p *Parser) parseBitwise() (Node, error) {
	return p.binaryLevel(p.parseMulDiv, "&", "|", "^")
}

func (p *Parser) parseMulDiv() (Node, error) {
	return p.binaryLevel(p.parseShift, "*", "/", "%")
}

func (p *Parser) parseShift() (Node, error) {
	return p.binaryLevel(p.parseUnary, "<<", ">>")
}

func (p *Parser) parseUnary() (Node, error) {
	if p.tok.Kind == lex.KindOperator && (p.tok.Text == "-" || p.tok.Text == "~" || p.tok.Text == "!") {
		op := p.tok.Text
		loc := p.tok.Loc
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, x: x, loc: loc}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.tok
	switch tok.Kind {
	case lex.KindIntLiteral:
		v, err := parseIntLiteral(tok)
		if err != nil {
			return nil, err
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return litNode{v: value.NewInt64(v)}, nil
	case lex.KindRealLiteral:
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrExpr, tok.Loc, err)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return litNode{v: value.NewFloat64(v)}, nil
	case lex.KindCharLiteral:
		if err := p.advance(); err != nil {
			return nil, err
		}
		runes := []rune(tok.Text)
		if len(runes) == 1 {
			return litNode{v: value.NewChar32(runes[0])}, nil
		}
		// A multi-character 'quoted' run is a string, same as "quoted".
		return litNode{v: value.NewString(tok.Text)}, nil
	case lex.KindStringLiteral:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return litNode{v: value.NewString(tok.Text)}, nil
	case lex.KindOperator:
		if tok.Text == "$" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			return locNode{}, nil
		}
	case lex.KindIdent, lex.KindRegister:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return symNode{name: tok.Text, loc: tok.Loc}, nil
	case lex.KindPunct:
		if tok.Text == "(" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			inner, err := p.Parse()
			if err != nil {
				return nil, err
			}
			if p.tok.Kind != lex.KindPunct || p.tok.Text != ")" {
				return nil, fmt.Errorf("%w: %s: expected closing ')'", ErrExpr, p.tok.Loc)
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			return inner, nil
		}
		if tok.Text == "#" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			return p.parsePrimary()
		}
	}
	return nil, fmt.Errorf("%w: %s: unexpected token %s %q in expression", ErrExpr, tok.Loc, tok.Kind, tok.Text)
}

func parseIntLiteral(tok lex.Token) (int64, error) {
	v, err := strconv.ParseInt(tok.Text, tok.Radix, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrExpr, tok.Loc, err)
	}
	return v, nil
}

// Eval is a convenience wrapper combining NewParser+Parse+Eval for callers
// that only need the resulting value of one expression.
func Eval(l *lex.Lexer, ctx Context) (value.Value, error) {
	n, err := Parse0(l)
	if err != nil {
		return value.Unset, err
	}
	return n.Eval(ctx)
}

// NewParserFromToken primes a Parser whose first lookahead token has
// already been consumed by the caller (e.g. the statement parser, which
// must see one token of an operand before knowing it's an expression).
func NewParserFromToken(l *lex.Lexer, first lex.Token) *Parser {
	return &Parser{l: l, tok: first}
}

// Parse0 parses one expression tree from l without evaluating it, for
// callers (the ast package) that must defer evaluation to assembly time
// against a not-yet-complete symbol table. The one token of lookahead the
// grammar needs is pushed back onto l, so the caller's next read sees the
// token immediately after the expression.
func Parse0(l *lex.Lexer) (Node, error) {
	p, err := NewParser(l)
	if err != nil {
		return nil, err
	}
	n, err := p.Parse()
	if err != nil {
		return nil, err
	}
	l.Unread(p.tok)
	return n, nil
}

// ParseFromToken is Parse0 for a lookahead token the caller already holds.
// It returns the parsed Node plus the token immediately following the
// expression (the first token the expression's grammar did not consume).
func ParseFromToken(l *lex.Lexer, first lex.Token) (Node, lex.Token, error) {
	p := NewParserFromToken(l, first)
	n, err := p.Parse()
	if err != nil {
		return nil, lex.Token{}, err
	}
	return n, p.tok, nil
}
