package asm

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bassosimone/armcore/pkg/asm/ast"
	"github.com/bassosimone/armcore/pkg/asm/expr"
	"github.com/bassosimone/armcore/pkg/asm/lex"
	"github.com/bassosimone/armcore/pkg/cpu"
	"github.com/bassosimone/armcore/pkg/diag"
)

// ErrAssemble is the sentinel wrapped by %INCLUDE failures (a circular
// %INCLUDE, an unreadable include file). Like every other error they are
// collected as located diagnostics: the collect pass skips the failing
// %INCLUDE and goes on, and the run then returns no object code.
var ErrAssemble = fmt.Errorf("asm: assemble error")

// locatedStmt is one statement after pass one has assigned it an address
// and byte size, carrying the architecture state active when it was
// collected (spec.md 4.L's %ARMv2/%ARMv3/%ARMv4/26BIT/32BIT directives
// take effect from that point in the source onward).
type locatedStmt struct {
	stmt      ast.Statement
	addr      uint32
	size      uint32
	instrSet  InstructionSet
	addrWidth cpu.AddressWidth
}

// Assemble runs the two-pass assembler over source (named file for
// diagnostics), resolving %INCLUDEs relative to the including file's
// directory and opts.IncludeDirs, per spec.md 4.L.
func Assemble(file, source string, opts Options) (ObjectCode, *diag.Messages) {
	diags := &diag.Messages{}
	syms := newSymbolTable()

	pc := int64(opts.LoadAddress)
	curSet := opts.InstructionSet
	curWidth := opts.AddressWidth
	extensions := append([]string(nil), opts.Extensions...)

	var stmts []locatedStmt
	visiting := map[string]bool{}

	var collect func(fname, src string) error
	collect = func(fname, src string) error {
		if visiting[fname] {
			return fmt.Errorf("%w: %s: circular %%INCLUDE", ErrAssemble, fname)
		}
		visiting[fname] = true
		defer delete(visiting, fname)

		p := ast.NewParser(fname, src)
		for {
			stmt, more, err := p.Next()
			if err != nil {
				diags.Error(stmtLoc(stmt), "%v", err)
			}
			if !more {
				return nil
			}
			if stmt.Label != "" {
				syms.define(stmt.Label, pc)
			}
			if !stmt.IsDirective && stmt.Mnemonic == "" {
				// A label-only line emits nothing.
				continue
			}
			if stmt.IsDirective {
				switch stmt.Directive {
				case "ARMV2":
					curSet = ARMv2
				case "ARMV2A":
					curSet = ARMv2a
				case "ARMV3":
					curSet = ARMv3
				case "ARMV4":
					curSet = ARMv4
				case "FPA":
					extensions = addExtension(extensions, "FPA")
				case "VFPV1":
					extensions = addExtension(extensions, "VFPv1")
				case "THUMB":
					extensions = addExtension(extensions, "Thumb")
				case "26BIT":
					curWidth = cpu.Addr26Bit
				case "32BIT":
					curWidth = cpu.Addr32Bit
				case "ARM":
					// Marks a return to ARM-mode assembly; no state change of
					// our own is needed since nothing is ever assembled as Thumb.
				case "INCLUDE":
					path := ""
					if len(stmt.DataStrings) > 0 {
						path = stmt.DataStrings[0]
					}
					resolved, content, ferr := loadInclude(path, fname, opts.IncludeDirs)
					if ferr != nil {
						diags.Error(stmtLoc(stmt), "%v", ferr)
						continue
					}
					if cerr := collect(resolved, content); cerr != nil {
						diags.Error(stmtLoc(stmt), "%v", cerr)
					}
				case "EQUB":
					size := int64(len(stmt.DataExprs))
					stmts = append(stmts, locatedStmt{stmt, uint32(pc), uint32(size), curSet, curWidth})
					pc += size
				case "EQUW":
					size := int64(len(stmt.DataExprs)) * 2
					stmts = append(stmts, locatedStmt{stmt, uint32(pc), uint32(size), curSet, curWidth})
					pc += size
				case "EQUD":
					size := int64(len(stmt.DataExprs)) * 4
					stmts = append(stmts, locatedStmt{stmt, uint32(pc), uint32(size), curSet, curWidth})
					pc += size
				case "EQUS":
					size := equsSize(stmt.EQUSItems)
					stmts = append(stmts, locatedStmt{stmt, uint32(pc), uint32(size), curSet, curWidth})
					pc += size
				case "ALIGN":
					boundary := int64(4)
					if len(stmt.DataExprs) == 1 {
						v, everr := stmt.DataExprs[0].Eval(exprContext{syms, pc})
						if everr != nil {
							diags.Warning(stmtLoc(stmt), "ALIGN boundary not resolvable in pass one, defaulting to 4: %v", everr)
						} else if n, nerr := expr.AsInt(v, lex.Location{}); nerr == nil && n > 0 {
							if n&(n-1) != 0 {
								diags.Error(stmtLoc(stmt), "ALIGN boundary %d is not a power of two", n)
							} else {
								boundary = n
							}
						}
					}
					pad := (boundary - pc%boundary) % boundary
					stmts = append(stmts, locatedStmt{stmt, uint32(pc), uint32(pad), curSet, curWidth})
					pc += pad
				default:
					diags.Error(stmtLoc(stmt), "unknown directive %%%s", stmt.Directive)
				}
				continue
			}

			size := int64(4)
			if n := declaredWordsForADR(stmt.Mnemonic); n > 0 {
				size = int64(n) * 4
			}
			stmts = append(stmts, locatedStmt{stmt, uint32(pc), uint32(size), curSet, curWidth})
			pc += size
		}
	}

	if err := collect(file, source); err != nil {
		diags.Error(diag.Location{File: file}, "%v", err)
	}
	if diags.HasErrors() {
		return ObjectCode{}, diags
	}

	total := pc - int64(opts.LoadAddress)
	out := make([]byte, total)
	for _, ls := range stmts {
		ctx := exprContext{syms: syms, pc: int64(ls.addr)}
		b, err := encodeStatement(ls, ctx)
		if err != nil {
			diags.Error(stmtLoc(ls.stmt), "%v", err)
			continue
		}
		offset := int64(ls.addr) - int64(opts.LoadAddress)
		copy(out[offset:offset+int64(len(b))], b)
	}

	symbols := make(map[string]uint32, len(syms.values))
	for name, v := range syms.values {
		symbols[name] = uint32(v)
	}
	obj := ObjectCode{Bytes: out, Symbols: symbols, LoadAddress: opts.LoadAddress}
	if diags.HasErrors() {
		return ObjectCode{}, diags
	}
	return obj, diags
}

func stmtLoc(stmt ast.Statement) diag.Location {
	return diag.Location{File: stmt.Loc.File, Line: stmt.Loc.Line, Column: stmt.Loc.Column}
}

func addExtension(exts []string, name string) []string {
	for _, e := range exts {
		if e == name {
			return exts
		}
	}
	return append(exts, name)
}

func equsSize(items []ast.EQUSItem) int64 {
	var n int64
	for _, it := range items {
		if it.IsText {
			n += int64(len([]byte(it.Text)))
		} else {
			n++
		}
	}
	return n
}

// loadInclude resolves path relative to fromFile's directory first, then
// each of includeDirs in order, per spec.md 4.L.
func loadInclude(path, fromFile string, includeDirs []string) (string, string, error) {
	candidates := []string{filepath.Join(filepath.Dir(fromFile), path)}
	for _, dir := range includeDirs {
		candidates = append(candidates, filepath.Join(dir, path))
	}
	var lastErr error
	for _, c := range candidates {
		b, err := os.ReadFile(c)
		if err == nil {
			return c, string(b), nil
		}
		lastErr = err
	}
	return "", "", fmt.Errorf("%w: %%INCLUDE %q: %v", ErrAssemble, path, lastErr)
}

var aluMnemonics = map[string]bool{
	"AND": true, "EOR": true, "SUB": true, "RSB": true, "ADD": true, "ADC": true,
	"SBC": true, "RSC": true, "ORR": true, "MOV": true, "BIC": true, "MVN": true,
}
var cmpMnemonics = map[string]bool{"TST": true, "TEQ": true, "CMP": true, "CMN": true}
var longMulMnemonics = map[string]bool{"UMULL": true, "UMLAL": true, "SMULL": true, "SMLAL": true}

// encodeStatement dispatches one located statement to its encoder and
// returns its final bytes (1-3 little-endian words for instructions and
// pseudo-ops, raw bytes for data directives).
func encodeStatement(ls locatedStmt, ctx expr.Context) ([]byte, error) {
	stmt := ls.stmt
	if stmt.IsDirective {
		return encodeDirective(stmt, ctx)
	}
	switch {
	case stmt.Mnemonic == "ADR" || stmt.Mnemonic == "ADRL" || stmt.Mnemonic == "ADRE":
		words, err := encodeADR(stmt, ls.addr, ls.addrWidth, ctx)
		if err != nil {
			return nil, err
		}
		return wordsToBytes(words), nil
	case aluMnemonics[stmt.Mnemonic]:
		w, err := encodeAlu(stmt, ctx)
		return word1(w), err
	case cmpMnemonics[stmt.Mnemonic]:
		w, err := encodeCompare(stmt, ctx)
		return word1(w), err
	case stmt.Mnemonic == "MUL" || stmt.Mnemonic == "MLA":
		w, err := encodeMultiply(stmt)
		return word1(w), err
	case longMulMnemonics[stmt.Mnemonic]:
		if ls.instrSet < ARMv3 {
			return nil, fmt.Errorf("%w: %s: requires %%ARMv3 or later", ErrEncode, stmt.Mnemonic)
		}
		w, err := encodeLongMultiply(stmt)
		return word1(w), err
	case stmt.Mnemonic == "LDR" || stmt.Mnemonic == "STR":
		w, err := encodeDataTransfer(stmt, ctx)
		return word1(w), err
	case stmt.Mnemonic == "LDM" || stmt.Mnemonic == "STM":
		w, err := encodeMultiTransfer(stmt)
		return word1(w), err
	case stmt.Mnemonic == "B" || stmt.Mnemonic == "BL":
		w, err := encodeBranch(stmt, ls.addr, ctx)
		return word1(w), err
	case stmt.Mnemonic == "BX":
		if ls.instrSet < ARMv4 {
			return nil, fmt.Errorf("%w: BX: requires %%ARMv4 or later", ErrEncode)
		}
		w, err := encodeBranchExchange(stmt)
		return word1(w), err
	case stmt.Mnemonic == "SWI":
		w, err := encodeSoftwareIrq(stmt, ctx)
		return word1(w), err
	case stmt.Mnemonic == "BKPT":
		w, err := encodeBreakpoint(stmt, ctx)
		return word1(w), err
	case stmt.Mnemonic == "SWP" || stmt.Mnemonic == "SWPB":
		w, err := encodeSwap(stmt)
		return word1(w), err
	case stmt.Mnemonic == "MRS":
		if ls.instrSet < ARMv3 {
			return nil, fmt.Errorf("%w: MRS: requires %%ARMv3 or later", ErrEncode)
		}
		w, err := encodeMRS(stmt)
		return word1(w), err
	case stmt.Mnemonic == "MSR":
		if ls.instrSet < ARMv3 {
			return nil, fmt.Errorf("%w: MSR: requires %%ARMv3 or later", ErrEncode)
		}
		w, err := encodeMSR(stmt, ctx)
		return word1(w), err
	default:
		return nil, fmt.Errorf("%w: %s: not encodable (decode/disassemble only)", ErrEncode, stmt.Mnemonic)
	}
}

func word1(w uint32) []byte { return wordsToBytes([]uint32{w}) }

func wordsToBytes(words []uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func encodeDirective(stmt ast.Statement, ctx expr.Context) ([]byte, error) {
	switch stmt.Directive {
	case "EQUB":
		b := make([]byte, len(stmt.DataExprs))
		for i, n := range stmt.DataExprs {
			v, err := evalExprInt(n, ctx)
			if err != nil {
				return nil, err
			}
			b[i] = byte(v)
		}
		return b, nil
	case "EQUW":
		b := make([]byte, len(stmt.DataExprs)*2)
		for i, n := range stmt.DataExprs {
			v, err := evalExprInt(n, ctx)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
		}
		return b, nil
	case "EQUD":
		b := make([]byte, len(stmt.DataExprs)*4)
		for i, n := range stmt.DataExprs {
			v, err := evalExprInt(n, ctx)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
		}
		return b, nil
	case "EQUS":
		var b []byte
		for _, item := range stmt.EQUSItems {
			if item.IsText {
				b = append(b, []byte(item.Text)...)
				continue
			}
			v, err := evalExprInt(item.Expr, ctx)
			if err != nil {
				return nil, err
			}
			b = append(b, byte(v))
		}
		return b, nil
	case "ALIGN", "ARMV2", "ARMV2A", "ARMV3", "ARMV4", "FPA", "VFPV1", "THUMB", "26BIT", "32BIT", "ARM", "INCLUDE":
		return make([]byte, 0), nil
	default:
		return nil, fmt.Errorf("%w: %%%s: not encodable", ErrEncode, stmt.Directive)
	}
}
