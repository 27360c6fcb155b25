package asm

import (
	"fmt"
	"math/bits"

	"github.com/bassosimone/armcore/pkg/asm/ast"
	"github.com/bassosimone/armcore/pkg/asm/expr"
	"github.com/bassosimone/armcore/pkg/asm/lex"
	"github.com/bassosimone/armcore/pkg/cpu"
)

// ErrEncode is the sentinel wrapped by every EncodeError (spec.md 7): an
// instruction that cannot be encoded in the selected instruction
// set/mode. It halts emission of that one statement, not the whole run.
var ErrEncode = fmt.Errorf("asm: encode error")

func condBits(c cpu.Condition) uint32 { return uint32(c) << 28 }

func evalExprInt(n expr.Node, ctx expr.Context) (int64, error) {
	v, err := n.Eval(ctx)
	if err != nil {
		return 0, err
	}
	return expr.AsInt(v, lex.Location{})
}

// encodeRotatedImmediate finds an (imm8, rotate-field) pair such that
// ROR(imm8, rotate*2) == value, the representation every data-processing
// and MSR immediate operand requires.
func encodeRotatedImmediate(value uint32) (imm8, rotField uint32, ok bool) {
	for rot := uint32(0); rot < 32; rot += 2 {
		rotated := bits.RotateLeft32(value, int(rot))
		if rotated <= 0xFF {
			return rotated, rot / 2, true
		}
	}
	return 0, 0, false
}

var aluOpcodeByName = map[string]cpu.AluOpcode{
	"AND": cpu.AluAND, "EOR": cpu.AluEOR, "SUB": cpu.AluSUB, "RSB": cpu.AluRSB,
	"ADD": cpu.AluADD, "ADC": cpu.AluADC, "SBC": cpu.AluSBC, "RSC": cpu.AluRSC,
	"TST": cpu.AluTST, "TEQ": cpu.AluTEQ, "CMP": cpu.AluCMP, "CMN": cpu.AluCMN,
	"ORR": cpu.AluORR, "MOV": cpu.AluMOV, "BIC": cpu.AluBIC, "MVN": cpu.AluMVN,
}

func shiftTypeBits(st cpu.ShiftType) uint32 {
	switch st {
	case cpu.ShiftLSR:
		return 1
	case cpu.ShiftASR:
		return 2
	case cpu.ShiftROR:
		return 3
	default: // ShiftLSL, ShiftNone, ShiftRRX (RRX shares ROR's field, amt 0)
		return 0
	}
}

// encodeShifterOperand encodes operand2 of a data-processing/compare
// instruction: an immediate, a bare register, or a shifted register. It
// returns the 12 low bits of the instruction plus the data-processing "I"
// bit.
func encodeShifterOperand(op ast.Operand, ctx expr.Context) (bits12 uint32, immediate bool, err error) {
	switch op.Kind {
	case ast.OperandImmediate:
		v, err := evalExprInt(op.Expr, ctx)
		if err != nil {
			return 0, false, err
		}
		imm8, rot, ok := encodeRotatedImmediate(uint32(v))
		if !ok {
			return 0, false, fmt.Errorf("%w: immediate %#x has no rotated 8-bit encoding", ErrEncode, uint32(v))
		}
		return rot<<8 | imm8, true, nil
	case ast.OperandRegister:
		return op.Reg, false, nil
	case ast.OperandShiftedRegister:
		typeBits := shiftTypeBits(op.ShiftType)
		if op.ShiftByReg {
			return op.ShiftRs<<8 | typeBits<<5 | 1<<4 | op.Reg, false, nil
		}
		var amt uint32
		if op.ShiftExpr != nil {
			v, err := evalExprInt(op.ShiftExpr, ctx)
			if err != nil {
				return 0, false, err
			}
			amt = uint32(v) & 0x1F
		}
		return amt<<7 | typeBits<<5 | op.Reg, false, nil
	default:
		return 0, false, fmt.Errorf("%w: expected register or immediate operand2", ErrEncode)
	}
}

func encodeAlu(stmt ast.Statement, ctx expr.Context) (uint32, error) {
	opcode, ok := aluOpcodeByName[stmt.Mnemonic]
	if !ok {
		return 0, fmt.Errorf("%w: unknown data-processing mnemonic %q", ErrEncode, stmt.Mnemonic)
	}
	isUnary := opcode == cpu.AluMOV || opcode == cpu.AluMVN
	var rd, rn ast.Operand
	var op2 ast.Operand
	switch {
	case isUnary && len(stmt.Operands) == 2:
		rd, op2 = stmt.Operands[0], stmt.Operands[1]
	case !isUnary && len(stmt.Operands) == 3:
		rd, rn, op2 = stmt.Operands[0], stmt.Operands[1], stmt.Operands[2]
	default:
		return 0, fmt.Errorf("%w: %s: wrong operand count", ErrEncode, stmt.Mnemonic)
	}
	if rd.Kind != ast.OperandRegister {
		return 0, fmt.Errorf("%w: %s: destination must be a register", ErrEncode, stmt.Mnemonic)
	}
	bits12, immBit, err := encodeShifterOperand(op2, ctx)
	if err != nil {
		return 0, err
	}
	word := condBits(stmt.Cond) | uint32(opcode)<<21 | rd.Reg<<12 | bits12
	if immBit {
		word |= 1 << 25
	}
	if stmt.SFlag {
		word |= 1 << 20
	}
	if !isUnary {
		word |= rn.Reg << 16
	}
	return word, nil
}

func encodeCompare(stmt ast.Statement, ctx expr.Context) (uint32, error) {
	opcode, ok := aluOpcodeByName[stmt.Mnemonic]
	if !ok {
		return 0, fmt.Errorf("%w: unknown compare mnemonic %q", ErrEncode, stmt.Mnemonic)
	}
	if len(stmt.Operands) != 2 {
		return 0, fmt.Errorf("%w: %s: wrong operand count", ErrEncode, stmt.Mnemonic)
	}
	rn, op2 := stmt.Operands[0], stmt.Operands[1]
	if rn.Kind != ast.OperandRegister {
		return 0, fmt.Errorf("%w: %s: first operand must be a register", ErrEncode, stmt.Mnemonic)
	}
	bits12, immBit, err := encodeShifterOperand(op2, ctx)
	if err != nil {
		return 0, err
	}
	word := condBits(stmt.Cond) | uint32(opcode)<<21 | rn.Reg<<16 | bits12
	if !stmt.PFlag {
		word |= 1 << 20
	}
	if immBit {
		word |= 1 << 25
	}
	return word, nil
}

func encodeMultiply(stmt ast.Statement) (uint32, error) {
	accumulate := stmt.Mnemonic == "MLA"
	want := 3
	if accumulate {
		want = 4
	}
	if len(stmt.Operands) != want {
		return 0, fmt.Errorf("%w: %s: wrong operand count", ErrEncode, stmt.Mnemonic)
	}
	for _, o := range stmt.Operands {
		if o.Kind != ast.OperandRegister {
			return 0, fmt.Errorf("%w: %s: operands must be registers", ErrEncode, stmt.Mnemonic)
		}
	}
	rd, rm, rs := stmt.Operands[0].Reg, stmt.Operands[1].Reg, stmt.Operands[2].Reg
	word := condBits(stmt.Cond) | rd<<16 | rs<<8 | 0b1001<<4 | rm
	if accumulate {
		word |= 1 << 21
		word |= stmt.Operands[3].Reg << 12
	}
	if stmt.SFlag {
		word |= 1 << 20
	}
	return word, nil
}

func encodeLongMultiply(stmt ast.Statement) (uint32, error) {
	if len(stmt.Operands) != 4 {
		return 0, fmt.Errorf("%w: %s: wrong operand count", ErrEncode, stmt.Mnemonic)
	}
	for _, o := range stmt.Operands {
		if o.Kind != ast.OperandRegister {
			return 0, fmt.Errorf("%w: %s: operands must be registers", ErrEncode, stmt.Mnemonic)
		}
	}
	rdLo, rdHi, rm, rs := stmt.Operands[0].Reg, stmt.Operands[1].Reg, stmt.Operands[2].Reg, stmt.Operands[3].Reg
	word := condBits(stmt.Cond) | 1<<23 | rdHi<<16 | rdLo<<12 | rs<<8 | 0b1001<<4 | rm
	switch stmt.Mnemonic {
	case "SMULL", "SMLAL":
		word |= 1 << 22
	}
	switch stmt.Mnemonic {
	case "UMLAL", "SMLAL":
		word |= 1 << 21
	}
	if stmt.SFlag {
		word |= 1 << 20
	}
	return word, nil
}

// encodeAddress encodes the 12 low bits of a single-word LDR/STR plus the
// P/U/I control bits, for word and byte transfers. Halfword and
// signed-byte/halfword transfers (v4+) are decode/disassemble only: the
// assembler does not emit them (see DESIGN.md).
func encodeAddress(mem ast.Operand, ctx expr.Context) (word uint32, err error) {
	if mem.Kind != ast.OperandMemory {
		return 0, fmt.Errorf("%w: expected a memory operand", ErrEncode)
	}
	if mem.PreIndexed {
		word |= 1 << 24
		if mem.Writeback {
			word |= 1 << 21
		}
	}
	word |= mem.Base << 16
	negative := mem.OffsetNegative
	switch {
	case mem.OffsetIsReg:
		word |= 1 << 25
		word |= mem.OffsetReg
		if mem.OffsetShifted {
			var amt uint32
			if mem.OffsetShiftExpr != nil {
				v, err := evalExprInt(mem.OffsetShiftExpr, ctx)
				if err != nil {
					return 0, err
				}
				amt = uint32(v) & 0x1F
			}
			word |= amt<<7 | shiftTypeBits(mem.OffsetShiftType)<<5
		}
	case mem.OffsetExpr != nil:
		v, err := evalExprInt(mem.OffsetExpr, ctx)
		if err != nil {
			return 0, err
		}
		// "#-4" arrives as a negative value; "-#4" as the negative flag.
		if v < 0 {
			negative = !negative
			v = -v
		}
		if v > 0xFFF {
			return 0, fmt.Errorf("%w: offset %d out of 12-bit range", ErrEncode, v)
		}
		word |= uint32(v)
	}
	if !negative {
		word |= 1 << 23
	}
	return word, nil
}

func encodeDataTransfer(stmt ast.Statement, ctx expr.Context) (uint32, error) {
	if len(stmt.Operands) != 2 {
		return 0, fmt.Errorf("%w: %s: wrong operand count", ErrEncode, stmt.Mnemonic)
	}
	rd, mem := stmt.Operands[0], stmt.Operands[1]
	if rd.Kind != ast.OperandRegister {
		return 0, fmt.Errorf("%w: %s: destination must be a register", ErrEncode, stmt.Mnemonic)
	}
	addrBits, err := encodeAddress(mem, ctx)
	if err != nil {
		return 0, err
	}
	word := condBits(stmt.Cond) | 0b01<<26 | addrBits | rd.Reg<<12
	if stmt.ByteFlag {
		word |= 1 << 22
	}
	if stmt.Mnemonic == "LDR" {
		word |= 1 << 20
	}
	return word, nil
}

type puFlags struct{ pre, up bool }

var stmSynonyms = map[string]puFlags{
	"": {false, true}, "IA": {false, true}, "IB": {true, true}, "DA": {false, false}, "DB": {true, false},
	"FA": {true, true}, "EA": {false, true}, "FD": {true, false}, "ED": {false, false},
}

var ldmSynonyms = map[string]puFlags{
	"": {false, true}, "IA": {false, true}, "IB": {true, true}, "DA": {false, false}, "DB": {true, false},
	"FA": {false, false}, "EA": {true, false}, "FD": {false, true}, "ED": {true, true},
}

func encodeMultiTransfer(stmt ast.Statement) (uint32, error) {
	if len(stmt.Operands) != 2 {
		return 0, fmt.Errorf("%w: %s: wrong operand count", ErrEncode, stmt.Mnemonic)
	}
	rn, list := stmt.Operands[0], stmt.Operands[1]
	if rn.Kind != ast.OperandRegister {
		return 0, fmt.Errorf("%w: %s: base must be a register", ErrEncode, stmt.Mnemonic)
	}
	if list.Kind != ast.OperandRegisterList {
		return 0, fmt.Errorf("%w: %s: expected a register list", ErrEncode, stmt.Mnemonic)
	}
	load := stmt.Mnemonic == "LDM"
	table := stmSynonyms
	if load {
		table = ldmSynonyms
	}
	pu, ok := table[stmt.AddrMode]
	if !ok {
		return 0, fmt.Errorf("%w: %s%s: unknown addressing mode", ErrEncode, stmt.Mnemonic, stmt.AddrMode)
	}
	word := condBits(stmt.Cond) | 0b10<<26 | rn.Reg<<16 | uint32(list.RegList)
	if pu.pre {
		word |= 1 << 24
	}
	if pu.up {
		word |= 1 << 23
	}
	if list.UserBank {
		word |= 1 << 22
	}
	if rn.Writeback {
		word |= 1 << 21
	}
	if load {
		word |= 1 << 20
	}
	return word, nil
}

// encodeBranch computes the B/BL 24-bit word-offset field from a target
// address expression, relative to PC+8 at the branch's own address.
func encodeBranch(stmt ast.Statement, addr uint32, ctx expr.Context) (uint32, error) {
	if len(stmt.Operands) != 1 || stmt.Operands[0].Kind != ast.OperandImmediate {
		return 0, fmt.Errorf("%w: %s: expected one target expression", ErrEncode, stmt.Mnemonic)
	}
	target, err := evalExprInt(stmt.Operands[0].Expr, ctx)
	if err != nil {
		return 0, err
	}
	delta := target - (int64(addr) + 8)
	if delta%4 != 0 {
		return 0, fmt.Errorf("%w: branch target %#x is not word-aligned relative to PC", ErrEncode, target)
	}
	offset := delta / 4
	if offset < -(1<<23) || offset >= (1<<23) {
		return 0, fmt.Errorf("%w: branch target %#x out of range", ErrEncode, target)
	}
	word := condBits(stmt.Cond) | 0b101<<25 | uint32(offset)&0x00FFFFFF
	if stmt.Mnemonic == "BL" {
		word |= 1 << 24
	}
	return word, nil
}

func encodeSoftwareIrq(stmt ast.Statement, ctx expr.Context) (uint32, error) {
	if len(stmt.Operands) != 1 || stmt.Operands[0].Kind != ast.OperandImmediate {
		return 0, fmt.Errorf("%w: SWI: expected one comment expression", ErrEncode)
	}
	v, err := evalExprInt(stmt.Operands[0].Expr, ctx)
	if err != nil {
		return 0, err
	}
	return condBits(stmt.Cond) | 0b1111<<24 | uint32(v)&0x00FFFFFF, nil
}

func encodeBreakpoint(stmt ast.Statement, ctx expr.Context) (uint32, error) {
	if len(stmt.Operands) != 1 || stmt.Operands[0].Kind != ast.OperandImmediate {
		return 0, fmt.Errorf("%w: BKPT: expected one comment expression", ErrEncode)
	}
	v, err := evalExprInt(stmt.Operands[0].Expr, ctx)
	if err != nil {
		return 0, err
	}
	imm := uint32(v)
	word := condBits(cpu.CondAL) | 0b00010010<<20 | (imm>>4)<<8 | 0b0111<<4 | imm&0xF
	return word, nil
}

func encodeSwap(stmt ast.Statement) (uint32, error) {
	if len(stmt.Operands) != 3 {
		return 0, fmt.Errorf("%w: %s: wrong operand count", ErrEncode, stmt.Mnemonic)
	}
	for _, o := range stmt.Operands {
		if o.Kind != ast.OperandRegister && o.Kind != ast.OperandMemory {
			return 0, fmt.Errorf("%w: %s: unexpected operand kind", ErrEncode, stmt.Mnemonic)
		}
	}
	rd, rm := stmt.Operands[0], stmt.Operands[1]
	mem := stmt.Operands[2]
	if mem.Kind != ast.OperandMemory || mem.OffsetIsReg || mem.OffsetExpr != nil {
		return 0, fmt.Errorf("%w: %s: third operand must be a plain [Rn]", ErrEncode, stmt.Mnemonic)
	}
	word := condBits(stmt.Cond) | 0b00010<<23 | mem.Base<<16 | rd.Reg<<12 | 0b1001<<4 | rm.Reg
	if stmt.Mnemonic == "SWPB" {
		word |= 1 << 22
	}
	return word, nil
}

func encodeMRS(stmt ast.Statement) (uint32, error) {
	if len(stmt.Operands) != 2 || stmt.Operands[0].Kind != ast.OperandRegister || stmt.Operands[1].Kind != ast.OperandPSR {
		return 0, fmt.Errorf("%w: MRS: expected Rd, CPSR|SPSR", ErrEncode)
	}
	word := condBits(stmt.Cond) | 0b00010<<23 | 0b001111<<16 | stmt.Operands[0].Reg<<12
	if stmt.Operands[1].PSRName == "SPSR" {
		word |= 1 << 22
	}
	return word, nil
}

var psrFieldLetters = map[byte]uint32{'c': 1 << 16, 'x': 1 << 17, 's': 1 << 18, 'f': 1 << 19}

func encodeMSR(stmt ast.Statement, ctx expr.Context) (uint32, error) {
	if len(stmt.Operands) != 2 || stmt.Operands[0].Kind != ast.OperandPSR {
		return 0, fmt.Errorf("%w: MSR: expected CPSR|SPSR[_fields], operand", ErrEncode)
	}
	psr, src := stmt.Operands[0], stmt.Operands[1]
	word := condBits(stmt.Cond) | 0b00010<<23 | 1<<21 | 0b1111<<12
	if psr.PSRName == "SPSR" {
		word |= 1 << 22
	}
	mask := psr.PSRMask
	if mask == "" {
		mask = "fc" // no field suffix writes the flags and control fields
	}
	for i := 0; i < len(mask); i++ {
		bit, ok := psrFieldLetters[mask[i]]
		if !ok {
			return 0, fmt.Errorf("%w: MSR: unknown PSR field letter %q", ErrEncode, mask[i])
		}
		word |= bit
	}
	switch src.Kind {
	case ast.OperandRegister:
		word |= src.Reg
	case ast.OperandImmediate:
		v, err := evalExprInt(src.Expr, ctx)
		if err != nil {
			return 0, err
		}
		imm8, rot, ok := encodeRotatedImmediate(uint32(v))
		if !ok {
			return 0, fmt.Errorf("%w: MSR: immediate %#x has no rotated 8-bit encoding", ErrEncode, uint32(v))
		}
		word |= 1 << 25
		word |= rot<<8 | imm8
	default:
		return 0, fmt.Errorf("%w: MSR: source must be a register or immediate", ErrEncode)
	}
	return word, nil
}

func encodeBranchExchange(stmt ast.Statement) (uint32, error) {
	if len(stmt.Operands) != 1 || stmt.Operands[0].Kind != ast.OperandRegister {
		return 0, fmt.Errorf("%w: BX: expected one register operand", ErrEncode)
	}
	return condBits(stmt.Cond) | 0x012FFF10 | stmt.Operands[0].Reg, nil
}
