// Package ast parses one source line at a time into a Statement, the unit
// the assembler driver collects in pass one and encodes in pass two. The
// parser pushes lexer contexts (lex.ContextRegisterList, ContextPSRName,
// ContextExpression) as it descends into each operand, per spec.md 4.I/4.J.
package ast

import (
	"fmt"
	"strings"

	"github.com/bassosimone/armcore/pkg/asm/expr"
	"github.com/bassosimone/armcore/pkg/asm/lex"
	"github.com/bassosimone/armcore/pkg/cpu"
)

// ErrParse is the sentinel wrapped by every statement-level parse error.
var ErrParse = fmt.Errorf("ast: parse error")

// OperandKind discriminates the shape an Operand was parsed as.
type OperandKind int

const (
	OperandRegister OperandKind = iota
	OperandImmediate
	OperandShiftedRegister
	OperandMemory
	OperandRegisterList
	OperandPSR
)

// Operand is one parsed instruction argument. Only the fields relevant to
// Kind are populated; the encoder (pkg/asm) reads them back out by Kind.
type Operand struct {
	Kind OperandKind

	Reg  uint32
	IsPC bool

	Expr expr.Node // OperandImmediate: the value/address expression

	ShiftReg   uint32 // OperandShiftedRegister
	ShiftType  cpu.ShiftType
	ShiftByReg bool
	ShiftRs    uint32
	ShiftExpr  expr.Node

	Base            uint32 // OperandMemory
	OffsetReg       uint32
	OffsetIsReg     bool
	OffsetExpr      expr.Node
	OffsetNegative  bool
	OffsetShifted   bool // register offset carries a constant shift
	OffsetShiftType cpu.ShiftType
	OffsetShiftExpr expr.Node
	PreIndexed      bool
	Writeback       bool

	RegList  uint16 // OperandRegisterList
	UserBank bool   // trailing '^'

	PSRName string // OperandPSR: "CPSR" or "SPSR"
	PSRMask string // fsxc subset, "" means all fields
}

// Statement is one parsed assembler source line: either a directive or a
// machine instruction, optionally preceded by a label.
type Statement struct {
	Loc   lex.Location
	Label string

	IsDirective bool
	Directive   string // e.g. "EQUB", "ARMv3", "ALIGN", "INCLUDE"

	Mnemonic string // base mnemonic, e.g. "ADD", "LDR", "ADR"
	Cond     cpu.Condition
	SFlag    bool
	PFlag    bool   // pre-v3 TSTP/TEQP/CMPP/CMNP: writes result to PSR instead of flags
	ByteFlag bool   // LDR/STR B suffix
	AddrMode string // LDM/STM suffix: IA/IB/DA/DB/FD/FA/ED/EA ("" means IA)

	Operands []Operand

	// DataExprs/DataStrings hold EQUB/EQUW/EQUD payloads, %INCLUDE's path,
	// and ALIGN's optional boundary expression.
	DataExprs   []expr.Node
	DataStrings []string

	// EQUSItems holds EQUS's payload in source order: a comma-separated mix
	// of quoted text (each byte of its UTF-8 encoding emitted verbatim) and
	// numeric expressions (each emitted as one low byte), e.g.
	// `EQUS 'Hello World!',13,10`.
	EQUSItems []EQUSItem
}

// EQUSItem is one comma-separated element of an EQUS directive.
type EQUSItem struct {
	IsText bool
	Text   string    // valid when IsText
	Expr   expr.Node // valid when !IsText
}

func parseCond(s string) (cpu.Condition, bool) {
	switch s {
	case "EQ":
		return cpu.CondEQ, true
	case "NE":
		return cpu.CondNE, true
	case "CS", "HS":
		return cpu.CondCS, true
	case "CC", "LO":
		return cpu.CondCC, true
	case "MI":
		return cpu.CondMI, true
	case "PL":
		return cpu.CondPL, true
	case "VS":
		return cpu.CondVS, true
	case "VC":
		return cpu.CondVC, true
	case "HI":
		return cpu.CondHI, true
	case "LS":
		return cpu.CondLS, true
	case "GE":
		return cpu.CondGE, true
	case "LT":
		return cpu.CondLT, true
	case "GT":
		return cpu.CondGT, true
	case "LE":
		return cpu.CondLE, true
	case "AL":
		return cpu.CondAL, true
	case "NV":
		return cpu.CondNV, true
	default:
		return cpu.CondAL, false
	}
}

// splitSuffix peels a known trailing suffix (the longest match in suffixes,
// which must include "" to represent "no suffix") and an optional 2-letter
// condition code preceding it, from the remainder of a mnemonic after its
// base has already been stripped.
func splitSuffix(remainder string, suffixes []string) (cond cpu.Condition, suffix string, ok bool) {
	for _, suf := range suffixes {
		if !strings.HasSuffix(remainder, suf) {
			continue
		}
		pre := remainder[:len(remainder)-len(suf)]
		if pre == "" {
			return cpu.CondAL, suf, true
		}
		if c, ok2 := parseCond(pre); ok2 && len(pre) <= 2 {
			return c, suf, true
		}
	}
	return cpu.CondAL, "", false
}

var aluBases = []string{"ADC", "ADD", "AND", "BIC", "EOR", "MOV", "MVN", "ORR", "RSB", "RSC", "SBC", "SUB"}
var cmpBases = []string{"CMP", "CMN", "TST", "TEQ"}
var ldmStmAddrModes = []string{"", "IA", "IB", "DA", "DB", "FD", "FA", "ED", "EA"}

type mnemonicInfo struct {
	base       string
	cond       cpu.Condition
	sFlag      bool
	pFlag      bool // pre-v3 TSTP/TEQP/CMPP/CMNP: writes result to PSR
	byteFlag   bool
	addrMode   string
	isB        bool
	isBL       bool
	isBX       bool
	signed     bool // UMULL/SMULL family
	accumulate bool // UMLAL/SMLAL family
}

// splitMnemonic decomposes an uppercased identifier into base mnemonic,
// condition code, and family-specific suffix flags.
func splitMnemonic(ident string) (mnemonicInfo, bool) {
	// The branch family is ambiguous by prefix: "BLT" is B+LT, not BL+T,
	// while "BLLT" is BL+LT. Try BX first, then BL with a valid condition,
	// then plain B -- so an unparsable BL remainder falls through to the
	// one-letter base rather than failing outright.
	if strings.HasPrefix(ident, "BX") {
		if cond, suf, ok := splitSuffix(ident[2:], []string{""}); ok {
			return mnemonicInfo{base: "BX", cond: cond, isBX: true, addrMode: suf}, true
		}
	}
	if strings.HasPrefix(ident, "BL") {
		if cond, _, ok := splitSuffix(ident[2:], []string{""}); ok {
			return mnemonicInfo{base: "B", cond: cond, isBL: true}, true
		}
	}
	if strings.HasPrefix(ident, "B") {
		if cond, _, ok := splitSuffix(ident[1:], []string{""}); ok {
			return mnemonicInfo{base: "B", cond: cond, isB: true}, true
		}
	}
	for _, base := range aluBases {
		if strings.HasPrefix(ident, base) {
			if cond, suf, ok := splitSuffix(ident[len(base):], []string{"", "S"}); ok {
				return mnemonicInfo{base: base, cond: cond, sFlag: suf == "S"}, true
			}
		}
	}
	for _, base := range cmpBases {
		if strings.HasPrefix(ident, base) {
			if cond, suf, ok := splitSuffix(ident[len(base):], []string{"", "P"}); ok {
				return mnemonicInfo{base: base, cond: cond, pFlag: suf == "P"}, true
			}
		}
	}
	if ident == "MUL" || ident == "MLA" || strings.HasPrefix(ident, "MUL") || strings.HasPrefix(ident, "MLA") {
		base := ident[:3]
		if cond, suf, ok := splitSuffix(ident[3:], []string{"", "S"}); ok {
			return mnemonicInfo{base: base, cond: cond, sFlag: suf == "S"}, true
		}
	}
	if strings.HasPrefix(ident, "SWI") {
		if cond, _, ok := splitSuffix(ident[3:], []string{""}); ok {
			return mnemonicInfo{base: "SWI", cond: cond}, true
		}
	}
	for _, base := range []string{"LDR", "STR"} {
		if strings.HasPrefix(ident, base) {
			if cond, suf, ok := splitSuffix(ident[3:], []string{"", "B"}); ok {
				return mnemonicInfo{base: base, cond: cond, byteFlag: suf == "B"}, true
			}
		}
	}
	for _, base := range []string{"LDM", "STM"} {
		if strings.HasPrefix(ident, base) {
			if cond, suf, ok := splitSuffix(ident[3:], ldmStmAddrModes); ok {
				return mnemonicInfo{base: base, cond: cond, addrMode: suf}, true
			}
		}
	}
	if strings.HasPrefix(ident, "ADR") {
		if info, ok := splitADR(ident[3:]); ok {
			return info, true
		}
	}
	for _, base := range []string{"SWPB", "SWP"} {
		if strings.HasPrefix(ident, base) {
			if cond, _, ok := splitSuffix(ident[len(base):], []string{""}); ok {
				return mnemonicInfo{base: base, cond: cond}, true
			}
		}
	}
	if strings.HasPrefix(ident, "MRS") {
		if cond, _, ok := splitSuffix(ident[3:], []string{""}); ok {
			return mnemonicInfo{base: "MRS", cond: cond}, true
		}
	}
	if strings.HasPrefix(ident, "MSR") {
		if cond, _, ok := splitSuffix(ident[3:], []string{""}); ok {
			return mnemonicInfo{base: "MSR", cond: cond}, true
		}
	}
	if strings.HasPrefix(ident, "BKPT") {
		return mnemonicInfo{base: "BKPT", cond: cpu.CondAL}, true
	}
	for _, pair := range [][2]bool{{false, false}, {false, true}, {true, false}, {true, true}} {
		signed, accumulate := pair[0], pair[1]
		base := longMulName(signed, accumulate)
		if strings.HasPrefix(ident, base) {
			if cond, suf, ok := splitSuffix(ident[len(base):], []string{"", "S"}); ok {
				return mnemonicInfo{base: base, cond: cond, sFlag: suf == "S", signed: signed, accumulate: accumulate}, true
			}
		}
	}
	return mnemonicInfo{}, false
}

// splitADR decomposes what follows "ADR": an optional condition and an
// optional long-form letter (L for two words, E for three), accepted in
// either order so both ADRLEQ and ADREQL parse.
func splitADR(rest string) (mnemonicInfo, bool) {
	if rest == "" {
		return mnemonicInfo{base: "ADR", cond: cpu.CondAL}, true
	}
	if rest == "L" || rest == "E" {
		return mnemonicInfo{base: "ADR" + rest, cond: cpu.CondAL}, true
	}
	if c, ok := parseCond(rest); ok {
		return mnemonicInfo{base: "ADR", cond: c}, true
	}
	for _, form := range []string{"L", "E"} {
		if strings.HasSuffix(rest, form) {
			if c, ok := parseCond(strings.TrimSuffix(rest, form)); ok {
				return mnemonicInfo{base: "ADR" + form, cond: c}, true
			}
		}
		if strings.HasPrefix(rest, form) {
			if c, ok := parseCond(strings.TrimPrefix(rest, form)); ok {
				return mnemonicInfo{base: "ADR" + form, cond: c}, true
			}
		}
	}
	return mnemonicInfo{}, false
}

func longMulName(signed, accumulate bool) string {
	switch {
	case !signed && !accumulate:
		return "UMULL"
	case !signed && accumulate:
		return "UMLAL"
	case signed && !accumulate:
		return "SMULL"
	default:
		return "SMLAL"
	}
}

// directiveDataNames are the data directives that appear bare in source
// (no '%' prefix), unlike the architecture directives.
var directiveDataNames = map[string]bool{
	"EQUB": true, "EQUW": true, "EQUD": true, "EQUS": true, "ALIGN": true,
}

var directiveArchNames = map[string]bool{
	"ARMV2": true, "ARMV2A": true, "ARMV3": true, "ARMV4": true,
	"FPA": true, "VFPV1": true,
	"26BIT": true, "32BIT": true, "ARM": true, "THUMB": true,
}

// Parser turns one source file's token stream into a sequence of
// Statements, stopping at EOF. It recovers from a malformed statement by
// skipping to the next statement terminator (newline or ':'), per
// spec.md 4.J.
type Parser struct {
	l    *lex.Lexer
	file string
}

// NewParser builds a Parser reading from source, tagging diagnostics with
// file.
func NewParser(file, source string) *Parser {
	return &Parser{l: lex.New(file, source), file: file}
}

// Next parses and returns the next statement, or (Statement{}, false, nil)
// at end of input. A non-nil error means the statement was malformed; the
// parser has already recovered to the next terminator and Next may be
// called again.
func (p *Parser) Next() (Statement, bool, error) {
	for {
		tok, err := p.l.Next()
		if err != nil {
			p.recover()
			return Statement{}, true, err
		}
		switch tok.Kind {
		case lex.KindEOF:
			return Statement{}, false, nil
		case lex.KindNewline:
			continue
		case lex.KindLabel:
			stmt, err := p.parseAfterLabel(tok)
			return stmt, true, err
		case lex.KindDirective:
			stmt, err := p.parseDirective(tok)
			return stmt, true, err
		case lex.KindIdent:
			if directiveDataNames[strings.ToUpper(tok.Text)] {
				stmt, err := p.parseDirective(tok)
				return stmt, true, err
			}
			stmt, err := p.parseInstruction(tok)
			return stmt, true, err
		default:
			p.recover()
			return Statement{}, true, fmt.Errorf("%w: %s: unexpected token %s at start of statement", ErrParse, tok.Loc, tok.Kind)
		}
	}
}

func (p *Parser) recover() {
	for {
		tok, err := p.l.Next()
		if err != nil {
			continue
		}
		if tok.Kind == lex.KindEOF || tok.Kind == lex.KindNewline {
			return
		}
	}
}

func (p *Parser) parseAfterLabel(labelTok lex.Token) (Statement, error) {
	stmt := Statement{Loc: labelTok.Loc, Label: labelTok.Text}
	tok, err := p.l.Next()
	if err != nil {
		p.recover()
		return stmt, err
	}
	switch tok.Kind {
	case lex.KindNewline, lex.KindEOF:
		return stmt, nil
	case lex.KindDirective:
		rest, err := p.parseDirective(tok)
		rest.Label = stmt.Label
		rest.Loc = stmt.Loc
		return rest, err
	case lex.KindIdent:
		var rest Statement
		var err error
		if directiveDataNames[strings.ToUpper(tok.Text)] {
			rest, err = p.parseDirective(tok)
		} else {
			rest, err = p.parseInstruction(tok)
		}
		rest.Label = stmt.Label
		rest.Loc = stmt.Loc
		return rest, err
	default:
		p.recover()
		return stmt, fmt.Errorf("%w: %s: unexpected token %s after label", ErrParse, tok.Loc, tok.Kind)
	}
}

func (p *Parser) parseDirective(tok lex.Token) (Statement, error) {
	name := strings.ToUpper(tok.Text)
	stmt := Statement{Loc: tok.Loc, IsDirective: true, Directive: name}
	switch {
	case directiveArchNames[name]:
		if err := p.expectTerminator(); err != nil {
			return stmt, err
		}
		return stmt, nil
	case name == "EQUS":
		p.l.Push(lex.ContextExpression)
		defer p.l.Pop()
		for {
			itemTok, err := p.l.Next()
			if err != nil {
				p.recover()
				return stmt, err
			}
			switch itemTok.Kind {
			case lex.KindStringLiteral, lex.KindCharLiteral:
				stmt.EQUSItems = append(stmt.EQUSItems, EQUSItem{IsText: true, Text: itemTok.Text})
				next, err := p.l.Next()
				if err != nil {
					p.recover()
					return stmt, err
				}
				if next.Kind == lex.KindPunct && next.Text == "," {
					continue
				}
				if next.Kind == lex.KindNewline || next.Kind == lex.KindEOF {
					return stmt, nil
				}
				p.recover()
				return stmt, fmt.Errorf("%w: %s: expected ',' or end of statement in EQUS, got %s", ErrParse, next.Loc, next.Kind)
			default:
				n, next, err := expr.ParseFromToken(p.l, itemTok)
				if err != nil {
					p.recover()
					return stmt, err
				}
				stmt.EQUSItems = append(stmt.EQUSItems, EQUSItem{Expr: n})
				if next.Kind == lex.KindPunct && next.Text == "," {
					continue
				}
				if next.Kind == lex.KindNewline || next.Kind == lex.KindEOF {
					return stmt, nil
				}
				p.recover()
				return stmt, fmt.Errorf("%w: %s: expected ',' or end of statement in EQUS, got %s", ErrParse, next.Loc, next.Kind)
			}
		}
	case name == "EQUB" || name == "EQUW" || name == "EQUD":
		p.l.Push(lex.ContextExpression)
		defer p.l.Pop()
		for {
			first, err := p.l.Next()
			if err != nil {
				p.recover()
				return stmt, err
			}
			n, next, err := expr.ParseFromToken(p.l, first)
			if err != nil {
				p.recover()
				return stmt, err
			}
			stmt.DataExprs = append(stmt.DataExprs, n)
			if next.Kind == lex.KindPunct && next.Text == "," {
				continue
			}
			if next.Kind == lex.KindNewline || next.Kind == lex.KindEOF {
				return stmt, nil
			}
			p.recover()
			return stmt, fmt.Errorf("%w: %s: expected ',' or end of statement, got %s", ErrParse, next.Loc, next.Kind)
		}
	case name == "ALIGN":
		first, err := p.l.Next()
		if err != nil {
			p.recover()
			return stmt, err
		}
		if first.Kind == lex.KindNewline || first.Kind == lex.KindEOF {
			return stmt, nil
		}
		p.l.Push(lex.ContextExpression)
		n, next, err := expr.ParseFromToken(p.l, first)
		p.l.Pop()
		if err != nil {
			p.recover()
			return stmt, err
		}
		stmt.DataExprs = []expr.Node{n}
		if next.Kind != lex.KindNewline && next.Kind != lex.KindEOF {
			p.recover()
			return stmt, fmt.Errorf("%w: %s: expected end of statement after ALIGN argument", ErrParse, next.Loc)
		}
		return stmt, nil
	case name == "INCLUDE":
		pathTok, err := p.l.Next()
		if err != nil {
			p.recover()
			return stmt, err
		}
		stmt.DataStrings = []string{pathTok.Text}
		if err := p.expectTerminator(); err != nil {
			return stmt, err
		}
		return stmt, nil
	default:
		p.recover()
		return stmt, fmt.Errorf("%w: %s: unknown directive %%%s", ErrParse, tok.Loc, tok.Text)
	}
}

func (p *Parser) expectTerminator() error {
	tok, err := p.l.Next()
	if err != nil {
		p.recover()
		return err
	}
	if tok.Kind != lex.KindNewline && tok.Kind != lex.KindEOF {
		p.recover()
		return fmt.Errorf("%w: %s: expected end of statement, got %s", ErrParse, tok.Loc, tok.Kind)
	}
	return nil
}

func (p *Parser) parseInstruction(tok lex.Token) (Statement, error) {
	info, ok := splitMnemonic(strings.ToUpper(tok.Text))
	if !ok {
		p.recover()
		return Statement{}, fmt.Errorf("%w: %s: unrecognised mnemonic %q", ErrParse, tok.Loc, tok.Text)
	}
	stmt := Statement{
		Loc: tok.Loc, Mnemonic: info.base, Cond: info.cond, SFlag: info.sFlag,
		PFlag: info.pFlag, ByteFlag: info.byteFlag, AddrMode: info.addrMode,
	}
	if info.isBL {
		stmt.Mnemonic = "BL"
	}
	if info.isBX {
		stmt.Mnemonic = "BX"
	}

	if stmt.Mnemonic == "MSR" {
		// MSR's first operand is a PSR name: switch the lexer into the PSR
		// context so "CPSR_fc" arrives as one typed token. parsePSR pops it.
		p.l.Push(lex.ContextPSRName)
	}
	first, err := p.l.Next()
	if stmt.Mnemonic == "MSR" && (err != nil || first.Kind != lex.KindPSR) {
		p.l.Pop()
	}
	if err != nil {
		p.recover()
		return stmt, err
	}
	if first.Kind == lex.KindNewline || first.Kind == lex.KindEOF {
		return stmt, nil
	}

	operands, err := p.parseOperandList(first)
	stmt.Operands = operands
	if err != nil {
		p.recover()
		return stmt, err
	}
	return stmt, nil
}

func (p *Parser) parseOperandList(first lex.Token) ([]Operand, error) {
	var ops []Operand
	tok := first
	for {
		op, next, err := p.parseOperand(tok)
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
		if next.Kind == lex.KindNewline || next.Kind == lex.KindEOF {
			return ops, nil
		}
		if next.Kind == lex.KindPunct && next.Text == "," {
			tok, err = p.l.Next()
			if err != nil {
				return ops, err
			}
			continue
		}
		return ops, fmt.Errorf("%w: %s: expected ',' or end of statement, got %s", ErrParse, next.Loc, next.Kind)
	}
}

// parseOperand parses one operand starting at tok, returning it plus the
// token that follows it (a comma, newline, or EOF).
func (p *Parser) parseOperand(tok lex.Token) (Operand, lex.Token, error) {
	switch {
	case tok.Kind == lex.KindRegister:
		return p.parseRegisterOrShifted(tok)
	case tok.Kind == lex.KindPunct && tok.Text == "#":
		p.l.Push(lex.ContextExpression)
		n, err := expr.Parse0(p.l)
		p.l.Pop()
		if err != nil {
			return Operand{}, lex.Token{}, err
		}
		next, err := p.l.Next()
		if err != nil {
			return Operand{}, lex.Token{}, err
		}
		return Operand{Kind: OperandImmediate, Expr: n}, next, nil
	case tok.Kind == lex.KindPunct && tok.Text == "{":
		return p.parseRegisterList()
	case tok.Kind == lex.KindPunct && tok.Text == "[":
		return p.parseMemory(tok)
	case tok.Kind == lex.KindPSR:
		return p.parsePSR(tok)
	case tok.Kind == lex.KindIdent && (strings.EqualFold(tok.Text, "CPSR") || strings.EqualFold(tok.Text, "SPSR") || strings.HasPrefix(strings.ToUpper(tok.Text), "CPSR_") || strings.HasPrefix(strings.ToUpper(tok.Text), "SPSR_")):
		return p.parsePSR(tok)
	default:
		// A bare expression (branch target, ADR source, symbol).
		p.l.Push(lex.ContextExpression)
		n, next, err := p.parseExprOperandFrom(tok)
		p.l.Pop()
		if err != nil {
			return Operand{}, lex.Token{}, err
		}
		return Operand{Kind: OperandImmediate, Expr: n}, next, nil
	}
}

func (p *Parser) parseExprOperandFrom(first lex.Token) (expr.Node, lex.Token, error) {
	n, rest, err := expr.ParseFromToken(p.l, first)
	return n, rest, err
}

func (p *Parser) parsePSR(tok lex.Token) (Operand, lex.Token, error) {
	if tok.Kind == lex.KindPSR {
		// The PSR context pushed for this operand ends with its one token.
		p.l.Pop()
	}
	text := strings.ToUpper(tok.Text)
	op := Operand{Kind: OperandPSR, PSRName: "CPSR"}
	if strings.HasPrefix(text, "SPSR") {
		op.PSRName = "SPSR"
	}
	if idx := strings.IndexByte(text, '_'); idx >= 0 {
		op.PSRMask = strings.ToLower(text[idx+1:])
	}
	next, err := p.l.Next()
	return op, next, err
}

// parseRegisterOrShifted parses "Rn", "Rn!" (handled by caller for memory
// operands) or "Rn, LSL #n" / "Rn, LSL Rm" shifted-register operands.
func (p *Parser) parseRegisterOrShifted(tok lex.Token) (Operand, lex.Token, error) {
	op := Operand{Kind: OperandRegister, Reg: tok.RegIndex, IsPC: tok.IsPC}
	next, err := p.l.Next()
	if err != nil {
		return op, lex.Token{}, err
	}
	if next.Kind == lex.KindPunct && next.Text == "!" {
		// LDM/STM base-register writeback, e.g. "R13!".
		op.Writeback = true
		next, err = p.l.Next()
		if err != nil {
			return op, lex.Token{}, err
		}
	}
	if next.Kind != lex.KindPunct || next.Text != "," {
		return op, next, nil
	}
	shiftTok, err := p.l.Next()
	if err != nil {
		return op, lex.Token{}, err
	}
	shiftName := strings.ToUpper(shiftTok.Text)
	st, ok := shiftTypeFromName(shiftName)
	if shiftTok.Kind != lex.KindIdent || !ok {
		// The comma was an operand separator, not a shift specifier: push
		// the lookahead back and hand the comma to the operand-list loop.
		p.l.Unread(shiftTok)
		return op, next, nil
	}
	result := Operand{Kind: OperandShiftedRegister, Reg: tok.RegIndex, IsPC: tok.IsPC, ShiftType: st}
	if shiftName == "RRX" {
		// RRX takes no shift amount; the barrel shifter's ROR-by-0 encoding
		// already means RRX, so no ShiftExpr is needed.
		final, err := p.l.Next()
		return result, final, err
	}
	amountTok, err := p.l.Next()
	if err != nil {
		return result, lex.Token{}, err
	}
	if amountTok.Kind == lex.KindRegister {
		result.ShiftByReg = true
		result.ShiftRs = amountTok.RegIndex
		final, err := p.l.Next()
		return result, final, err
	}
	n, final, err := p.parseExprOperandFrom(amountTok)
	if err != nil {
		return result, lex.Token{}, err
	}
	result.ShiftExpr = n
	return result, final, nil
}

func shiftTypeFromName(name string) (cpu.ShiftType, bool) {
	switch name {
	case "LSL":
		return cpu.ShiftLSL, true
	case "LSR":
		return cpu.ShiftLSR, true
	case "ASR":
		return cpu.ShiftASR, true
	case "ROR":
		return cpu.ShiftROR, true
	case "RRX":
		return cpu.ShiftROR, true
	default:
		return 0, false
	}
}

func (p *Parser) parseRegisterList() (Operand, lex.Token, error) {
	p.l.Push(lex.ContextRegisterList)
	defer p.l.Pop()
	var mask uint16
	for {
		tok, err := p.l.Next()
		if err != nil {
			return Operand{}, lex.Token{}, err
		}
		if tok.Kind != lex.KindRegister {
			return Operand{}, lex.Token{}, fmt.Errorf("%w: %s: expected register in register list", ErrParse, tok.Loc)
		}
		lo := tok.RegIndex
		hi := lo
		sep, err := p.l.Next()
		if err != nil {
			return Operand{}, lex.Token{}, err
		}
		if sep.Kind == lex.KindOperator && sep.Text == "-" {
			hiTok, err := p.l.Next()
			if err != nil {
				return Operand{}, lex.Token{}, err
			}
			if hiTok.Kind != lex.KindRegister {
				return Operand{}, lex.Token{}, fmt.Errorf("%w: %s: expected register after '-' in register list", ErrParse, hiTok.Loc)
			}
			hi = hiTok.RegIndex
			sep, err = p.l.Next()
			if err != nil {
				return Operand{}, lex.Token{}, err
			}
		}
		for r := lo; r <= hi; r++ {
			mask |= 1 << r
		}
		if sep.Kind == lex.KindPunct && sep.Text == "," {
			continue
		}
		if sep.Kind == lex.KindPunct && sep.Text == "}" {
			break
		}
		return Operand{}, lex.Token{}, fmt.Errorf("%w: %s: malformed register list", ErrParse, sep.Loc)
	}
	op := Operand{Kind: OperandRegisterList, RegList: mask}
	next, err := p.l.Next()
	if err == nil && next.Kind == lex.KindPunct && next.Text == "^" {
		op.UserBank = true
		next, err = p.l.Next()
	}
	return op, next, err
}

// parseMemory parses "[Rn]", "[Rn, #imm]", "[Rn, #imm]!", "[Rn], #imm",
// "[Rn, Rm]" and the negated-offset forms.
func (p *Parser) parseMemory(open lex.Token) (Operand, lex.Token, error) {
	baseTok, err := p.l.Next()
	if err != nil {
		return Operand{}, lex.Token{}, err
	}
	if baseTok.Kind != lex.KindRegister {
		return Operand{}, lex.Token{}, fmt.Errorf("%w: %s: expected base register in memory operand", ErrParse, baseTok.Loc)
	}
	op := Operand{Kind: OperandMemory, Base: baseTok.RegIndex, PreIndexed: true}

	tok, err := p.l.Next()
	if err != nil {
		return Operand{}, lex.Token{}, err
	}
	if tok.Kind == lex.KindPunct && tok.Text == "]" {
		// [Rn] with no offset.
		return p.finishMemory(op)
	}
	if tok.Kind != lex.KindPunct || tok.Text != "," {
		return Operand{}, lex.Token{}, fmt.Errorf("%w: %s: expected ',' or ']' in memory operand", ErrParse, tok.Loc)
	}
	neg, err := p.parseOffset(&op)
	op.OffsetNegative = neg
	if err != nil {
		return Operand{}, lex.Token{}, err
	}
	closeTok, err := p.l.Next()
	if err != nil {
		return Operand{}, lex.Token{}, err
	}
	if closeTok.Kind != lex.KindPunct || closeTok.Text != "]" {
		return Operand{}, lex.Token{}, fmt.Errorf("%w: %s: expected ']' closing memory operand", ErrParse, closeTok.Loc)
	}
	return p.finishMemory(op)
}

func (p *Parser) parseOffset(op *Operand) (bool, error) {
	tok, err := p.l.Next()
	if err != nil {
		return false, err
	}
	negative := false
	if tok.Kind == lex.KindOperator && tok.Text == "-" {
		negative = true
		tok, err = p.l.Next()
		if err != nil {
			return false, err
		}
	}
	if tok.Kind == lex.KindRegister {
		op.OffsetIsReg = true
		op.OffsetReg = tok.RegIndex
		sep, err := p.l.Next()
		if err != nil {
			return negative, err
		}
		if sep.Kind != lex.KindPunct || sep.Text != "," {
			p.l.Unread(sep)
			return negative, nil
		}
		// "[Rn, Rm, LSL #n]": a constant-shifted register offset.
		shiftTok, err := p.l.Next()
		if err != nil {
			return negative, err
		}
		st, ok := cpu.ShiftType(0), false
		if shiftTok.Kind == lex.KindIdent {
			st, ok = shiftTypeFromName(strings.ToUpper(shiftTok.Text))
		}
		if !ok {
			return negative, fmt.Errorf("%w: %s: expected a shift specifier after register offset", ErrParse, shiftTok.Loc)
		}
		op.OffsetShifted = true
		op.OffsetShiftType = st
		if strings.EqualFold(shiftTok.Text, "RRX") {
			return negative, nil
		}
		amountTok, err := p.l.Next()
		if err != nil {
			return negative, err
		}
		n, next, err := expr.ParseFromToken(p.l, amountTok)
		if err != nil {
			return negative, err
		}
		p.l.Unread(next)
		op.OffsetShiftExpr = n
		return negative, nil
	}
	if tok.Kind == lex.KindPunct && tok.Text == "#" {
		p.l.Push(lex.ContextExpression)
		n, err := expr.Parse0(p.l)
		p.l.Pop()
		if err != nil {
			return negative, err
		}
		op.OffsetExpr = n
		return negative, nil
	}
	return negative, fmt.Errorf("%w: %s: expected register or '#' immediate offset", ErrParse, tok.Loc)
}

// finishMemory consumes an optional post-index writeback mark ('!') or a
// post-indexed offset following ']'.
func (p *Parser) finishMemory(op Operand) (Operand, lex.Token, error) {
	next, err := p.l.Next()
	if err != nil {
		return op, lex.Token{}, err
	}
	if next.Kind == lex.KindPunct && next.Text == "!" {
		op.Writeback = true
		next, err = p.l.Next()
		return op, next, err
	}
	if next.Kind == lex.KindPunct && next.Text == "," {
		// Post-indexed: [Rn], #imm -- not pre-indexed, implicit writeback.
		op.PreIndexed = false
		op.Writeback = true
		neg, err := p.parseOffset(&op)
		op.OffsetNegative = neg
		if err != nil {
			return op, lex.Token{}, err
		}
		next, err = p.l.Next()
		return op, next, err
	}
	return op, next, nil
}
