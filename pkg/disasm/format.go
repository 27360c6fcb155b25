package disasm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bassosimone/armcore/pkg/cpu"
)

// Format renders a Descriptor back to assembler source text in the
// grammar pkg/asm accepts, per spec.md 4.M. Condition-code synonyms are
// canonicalised (HS/LO never appear; cpu.Condition.String already returns
// CS/CC), and AL renders as the empty suffix.
func Format(desc Descriptor, opts Options) string {
	if desc.IsAddressIdiom {
		return fmt.Sprintf("%s%s %s, %s", desc.AdrMnemonic, desc.AdrCond, regName(desc.AdrRd), num(uint64(desc.AdrTarget), opts))
	}
	return formatInstruction(desc.Instr, desc.Addr, opts)
}

func regName(r uint32) string { return fmt.Sprintf("R%d", r) }

// num renders an unsigned value per opts.Hex: "&"-prefixed hex (matching
// the assembler's &-literal syntax) or plain decimal.
func num(v uint64, opts Options) string {
	if opts.Hex {
		return fmt.Sprintf("&%X", v)
	}
	return strconv.FormatUint(v, 10)
}

func signedNum(negative bool, v uint64, opts Options) string {
	s := num(v, opts)
	if negative {
		return "-" + s
	}
	return s
}

func formatInstruction(instr cpu.Instruction, addr uint32, opts Options) string {
	cond := instr.Cond.String()
	switch instr.Class {
	case cpu.ClassCoreAlu:
		return formatAlu(instr, cond, opts)
	case cpu.ClassCoreCompare:
		return formatCompare(instr, cond, opts)
	case cpu.ClassCoreMultiply:
		return formatMultiply(instr, cond, opts)
	case cpu.ClassLongMultiply:
		return formatLongMultiply(instr, cond, opts)
	case cpu.ClassCoreDataTransfer:
		return formatDataTransfer(instr, cond, opts)
	case cpu.ClassCoreMultiTransfer:
		return formatMultiTransfer(instr, cond, opts)
	case cpu.ClassBranch:
		return formatBranch(instr, addr, cond, opts)
	case cpu.ClassSoftwareIrq:
		op := instr.SoftwareIrq()
		return fmt.Sprintf("SWI%s %s", cond, num(uint64(op.Comment), opts))
	case cpu.ClassBreakpoint:
		op := instr.Breakpoint()
		return fmt.Sprintf("BKPT %s", num(uint64(op.Comment), opts))
	case cpu.ClassAtomicSwap:
		op := instr.AtomicSwap()
		return fmt.Sprintf("%s%s %s, %s, [%s]", instr.Mnemonic, cond, regName(op.Rd), regName(op.Rm), regName(op.Rn))
	case cpu.ClassMoveFromPSR:
		op := instr.MoveFromPSR()
		return fmt.Sprintf("MRS%s %s, %s", cond, regName(op.Rd), psrName(op.UseSPSR))
	case cpu.ClassMoveToPSR:
		return formatMoveToPSR(instr, cond, opts)
	case cpu.ClassBranchExchange:
		op := instr.BranchExchange()
		return fmt.Sprintf("BX%s %s", cond, regName(op.Rm))
	case cpu.ClassCoProcDataTransfer:
		return formatCoProcDataTransfer(instr, cond, opts)
	case cpu.ClassCoProcRegisterTransfer:
		op := instr.CoProcRegisterTransfer()
		return fmt.Sprintf("%s%s p%d, %d, %s, c%d, c%d, %d", instr.Mnemonic, cond, op.CpNum, op.Opcode1,
			regName(op.Rd), op.CRn, op.CRm, op.Opcode2)
	case cpu.ClassCoProcDataProcessing:
		op := instr.CoProcDataProcessing()
		return fmt.Sprintf("CDP%s p%d, %d, c%d, c%d, c%d, %d", cond, op.CpNum, op.Opcode1, op.CRd, op.CRn, op.CRm, op.Opcode2)
	case cpu.ClassFpaDataTransfer, cpu.ClassFpaDyadic, cpu.ClassFpaMonadic,
		cpu.ClassFpaRegisterTransfer, cpu.ClassFpaComparison:
		// Decode/format only, per spec.md 9's open question: render the raw
		// word rather than a reconstructed FPA mnemonic the assembler has no
		// grammar for.
		op := instr.Fpa()
		return fmt.Sprintf("; FPA &%08X (decode-only)", op.Raw)
	default:
		return fmt.Sprintf("; undefined &%08X", addr)
	}
}

func psrName(spsr bool) string {
	if spsr {
		return "SPSR"
	}
	return "CPSR"
}

func formatAlu(instr cpu.Instruction, cond string, opts Options) string {
	op := instr.Alu()
	s := ""
	if op.S {
		s = "S"
	}
	op2 := operand2Text(op.Op2, opts)
	if op.Opcode == cpu.AluMOV || op.Opcode == cpu.AluMVN {
		return fmt.Sprintf("%s%s%s %s, %s", instr.Mnemonic, cond, s, regName(op.Rd), op2)
	}
	return fmt.Sprintf("%s%s%s %s, %s, %s", instr.Mnemonic, cond, s, regName(op.Rd), regName(op.Rn), op2)
}

func formatCompare(instr cpu.Instruction, cond string, opts Options) string {
	op := instr.Compare()
	return fmt.Sprintf("%s%s %s, %s", instr.Mnemonic, cond, regName(op.Rn), operand2Text(op.Op2, opts))
}

func formatMultiply(instr cpu.Instruction, cond string, opts Options) string {
	op := instr.Multiply()
	s := ""
	if op.S {
		s = "S"
	}
	if op.Accumulate {
		return fmt.Sprintf("MLA%s%s %s, %s, %s, %s", cond, s, regName(op.Rd), regName(op.Rm), regName(op.Rs), regName(op.Rn))
	}
	return fmt.Sprintf("MUL%s%s %s, %s, %s", cond, s, regName(op.Rd), regName(op.Rm), regName(op.Rs))
}

func formatLongMultiply(instr cpu.Instruction, cond string, opts Options) string {
	op := instr.LongMultiply()
	s := ""
	if op.S {
		s = "S"
	}
	return fmt.Sprintf("%s%s%s %s, %s, %s, %s", instr.Mnemonic, cond, s, regName(op.RdLo), regName(op.RdHi), regName(op.Rm), regName(op.Rs))
}

// operand2Text renders a data-processing/compare second operand: an
// already-rotated immediate, a bare register, or a shifted register.
func operand2Text(op cpu.ShifterOperand, opts Options) string {
	if op.Immediate {
		return "#" + num(uint64(op.Imm), opts)
	}
	return regName(op.Rm) + shiftSuffix(op, opts)
}

func shiftSuffix(op cpu.ShifterOperand, opts Options) string {
	if op.Shift == cpu.ShiftRRX {
		return ", RRX"
	}
	if !op.ShiftByReg && (op.Shift == cpu.ShiftNone || op.Shift == cpu.ShiftLSL) && op.ShiftAmt == 0 {
		return ""
	}
	if op.ShiftByReg {
		return fmt.Sprintf(", %s %s", op.Shift, regName(op.Rs))
	}
	return fmt.Sprintf(", %s #%s", op.Shift, num(uint64(op.ShiftAmt), opts))
}

func memOperandText(addr cpu.AddressOperand, opts Options) string {
	base := regName(addr.Rn)
	offset := addressOffsetText(addr, opts)
	switch {
	case addr.PreIndexed && offset == "":
		return fmt.Sprintf("[%s]", base)
	case addr.PreIndexed:
		wb := ""
		if addr.Writeback {
			wb = "!"
		}
		return fmt.Sprintf("[%s, %s]%s", base, offset, wb)
	default:
		if offset == "" {
			return fmt.Sprintf("[%s]", base)
		}
		return fmt.Sprintf("[%s], %s", base, offset)
	}
}

func addressOffsetText(addr cpu.AddressOperand, opts Options) string {
	off := addr.Offset
	if off.Immediate {
		if off.Imm == 0 {
			if !opts.ShowOffsets {
				return ""
			}
			return "#" + signedNum(addr.NegativeOffset, 0, opts)
		}
		return "#" + signedNum(addr.NegativeOffset, uint64(off.Imm), opts)
	}
	reg := regName(off.Rm) + shiftSuffix(off, opts)
	if addr.NegativeOffset {
		return "-" + reg
	}
	return reg
}

func formatDataTransfer(instr cpu.Instruction, cond string, opts Options) string {
	op := instr.DataTransfer()
	return fmt.Sprintf("%s%s %s, %s", instr.Mnemonic, cond, regName(op.Rd), memOperandText(op.Address, opts))
}

// stmSuffix/ldmSuffix map (pre,up) back to the canonical addressing-mode
// suffix, or (when UseStackModesOnR13 and Rn==R13) the FA/FD/EA/ED stack
// synonym, per spec.md 4.M and pkg/asm's encodeMultiTransfer tables.
func stmSuffix(pre, up, stack bool) string {
	switch {
	case !pre && up:
		if stack {
			return "EA"
		}
		return "IA"
	case pre && up:
		if stack {
			return "FA"
		}
		return "IB"
	case !pre && !up:
		if stack {
			return "ED"
		}
		return "DA"
	default: // pre && !up
		if stack {
			return "FD"
		}
		return "DB"
	}
}

func ldmSuffix(pre, up, stack bool) string {
	switch {
	case !pre && up:
		if stack {
			return "FD"
		}
		return "IA"
	case pre && up:
		if stack {
			return "ED"
		}
		return "IB"
	case !pre && !up:
		if stack {
			return "FA"
		}
		return "DA"
	default: // pre && !up
		if stack {
			return "EA"
		}
		return "DB"
	}
}

func formatMultiTransfer(instr cpu.Instruction, cond string, opts Options) string {
	op := instr.MultiTransfer()
	stack := opts.UseStackModesOnR13 && op.Rn == 13
	var suffix string
	if op.Load {
		suffix = ldmSuffix(op.PreIndexed, op.Up, stack)
	} else {
		suffix = stmSuffix(op.PreIndexed, op.Up, stack)
	}
	wb := ""
	if op.Writeback {
		wb = "!"
	}
	caret := ""
	if op.UserBank {
		caret = "^"
	}
	return fmt.Sprintf("%s%s%s %s%s, %s%s", instr.Mnemonic, cond, suffix, regName(op.Rn), wb, registerListText(op.RegisterList), caret)
}

func registerListText(mask uint16) string {
	var parts []string
	for i := 0; i < 16; {
		if mask&(1<<uint(i)) == 0 {
			i++
			continue
		}
		start := i
		for i < 16 && mask&(1<<uint(i)) != 0 {
			i++
		}
		end := i - 1
		if start == end {
			parts = append(parts, regName(uint32(start)))
		} else {
			parts = append(parts, fmt.Sprintf("%s-%s", regName(uint32(start)), regName(uint32(end))))
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatBranch(instr cpu.Instruction, addr uint32, cond string, opts Options) string {
	op := instr.Branch()
	target := uint32(int64(addr) + 8 + int64(op.Offset))
	return fmt.Sprintf("%s%s %s", instr.Mnemonic, cond, num(uint64(target), opts))
}

func formatMoveToPSR(instr cpu.Instruction, cond string, opts Options) string {
	op := instr.MoveToPSR()
	name := psrName(op.UseSPSR)
	if suf := op.FieldMask.Letters(); suf != "" {
		name += "_" + suf
	}
	var src string
	if op.Immediate {
		src = "#" + num(uint64(op.Imm), opts)
	} else {
		src = regName(op.Rm)
	}
	return fmt.Sprintf("MSR%s %s, %s", cond, name, src)
}

func formatCoProcDataTransfer(instr cpu.Instruction, cond string, opts Options) string {
	op := instr.CoProcDataTransfer()
	l := ""
	if op.Long {
		l = "L"
	}
	return fmt.Sprintf("%s%s%s p%d, c%d, %s", instr.Mnemonic, l, cond, op.CpNum, op.CRd, memOperandText(op.Address, opts))
}
