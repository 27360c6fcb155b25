package cpu

import "fmt"

// ErrUndefinedInstruction is returned by Decode when no recognised
// instruction class matches the bit pattern (and by Execute's coprocessor
// path when no handler is registered for the addressed CpId).
var ErrUndefinedInstruction = fmt.Errorf("cpu: undefined instruction")

func bit(w uint32, n uint) bool { return w&(1<<n) != 0 }
func bitsField(w uint32, hi, lo uint) uint32 {
	return (w >> lo) & ((1 << (hi - lo + 1)) - 1)
}

// Decode dispatches on the top-level opcode bits into an operation class,
// then extracts that class's operand fields, per spec.md 4.F.
func Decode(word uint32) (Instruction, error) {
	cond := Condition(bitsField(word, 31, 28))
	grp := bitsField(word, 27, 26)

	switch grp {
	case 0b00:
		return decodeGroup0(word, cond)
	case 0b01:
		return decodeSingleTransfer(word, cond)
	case 0b10:
		if bit(word, 25) {
			return decodeBranch(word, cond)
		}
		return decodeMultiTransfer(word, cond)
	default: // 0b11
		return decodeGroup3(word, cond)
	}
}

func decodeGroup0(word uint32, cond Condition) (Instruction, error) {
	if !bit(word, 25) && bit(word, 4) {
		// Multiply / long multiply / swap / halfword-transfer / BX share
		// this sub-space, discriminated by bits [27:23] and bit 7.
		if bitsField(word, 27, 23) == 0b00010 && bitsField(word, 21, 20) == 0b00 && bitsField(word, 11, 4) == 0b00001001 {
			return decodeSwap(word, cond)
		}
		if bitsField(word, 27, 22) == 0b000000 && bit(word, 7) {
			return decodeMultiply(word, cond)
		}
		if bitsField(word, 27, 23) == 0b00001 && bit(word, 7) {
			return decodeLongMultiply(word, cond)
		}
		if bitsField(word, 27, 4) == 0b000100101111111111110001 {
			return newInstruction(cond, ClassBranchExchange, "BX", BranchExchangeOp{Rm: bitsField(word, 3, 0)}), nil
		}
		if bitsField(word, 27, 25) == 0b000 && bit(word, 7) {
			return decodeHalfwordTransfer(word, cond)
		}
	}
	if bitsField(word, 27, 23) == 0b00010 && !bit(word, 21) && !bit(word, 20) && bitsField(word, 7, 4) == 0b0000 {
		return decodeMRS(word, cond)
	}
	if bitsField(word, 27, 23) == 0b00110 || (bitsField(word, 27, 23) == 0b00010 && bitsField(word, 21, 21) == 1 && bitsField(word, 7, 4) == 0b0000) {
		if isMSRPattern(word) {
			return decodeMSR(word, cond)
		}
	}
	return decodeDataProcessing(word, cond)
}

func isMSRPattern(word uint32) bool {
	// MSR: bits[27:26]=00, bit25 selects immediate operand2, bits[24:23]=10,
	// bit21=1 (MSR, vs MRS bit21=0), bits[20]=0, bits[15:12]=1111.
	return bitsField(word, 27, 26) == 0b00 && bitsField(word, 24, 23) == 0b10 && bit(word, 21) && !bit(word, 20) && bitsField(word, 15, 12) == 0b1111
}

func decodeMRS(word uint32, cond Condition) (Instruction, error) {
	return newInstruction(cond, ClassMoveFromPSR, "MRS", MoveFromPSROp{
		UseSPSR: bit(word, 22),
		Rd:      bitsField(word, 15, 12),
	}), nil
}

func decodeMSR(word uint32, cond Condition) (Instruction, error) {
	var mask psrFieldMask
	if bit(word, 19) {
		mask |= PSRFieldFlags
	}
	if bit(word, 18) {
		mask |= PSRFieldStatus
	}
	if bit(word, 17) {
		mask |= PSRFieldExtension
	}
	if bit(word, 16) {
		mask |= PSRFieldControl
	}
	op := MoveToPSROp{UseSPSR: bit(word, 22), FieldMask: mask, Immediate: bit(word, 25)}
	if op.Immediate {
		imm := bitsField(word, 7, 0)
		rot := bitsField(word, 11, 8) * 2
		v := imm // Shift reads ROR #0 as RRX; an unrotated immediate is used as-is
		if rot != 0 {
			v, _ = Shift(imm, ShiftROR, rot, false)
		}
		op.Imm = v
	} else {
		op.Rm = bitsField(word, 3, 0)
	}
	return newInstruction(cond, ClassMoveToPSR, "MSR", op), nil
}

func decodeSwap(word uint32, cond Condition) (Instruction, error) {
	op := AtomicSwapOp{
		Byte: bit(word, 22),
		Rn:   bitsField(word, 19, 16),
		Rd:   bitsField(word, 15, 12),
		Rm:   bitsField(word, 3, 0),
	}
	mnemonic := "SWP"
	if op.Byte {
		mnemonic = "SWPB"
	}
	return newInstruction(cond, ClassAtomicSwap, mnemonic, op), nil
}

func decodeMultiply(word uint32, cond Condition) (Instruction, error) {
	op := CoreMultiplyOp{
		Accumulate: bit(word, 21),
		S:          bit(word, 20),
		Rd:         bitsField(word, 19, 16),
		Rn:         bitsField(word, 15, 12),
		Rs:         bitsField(word, 11, 8),
		Rm:         bitsField(word, 3, 0),
	}
	mnemonic := "MUL"
	if op.Accumulate {
		mnemonic = "MLA"
	}
	return newInstruction(cond, ClassCoreMultiply, mnemonic, op), nil
}

func decodeLongMultiply(word uint32, cond Condition) (Instruction, error) {
	op := LongMultiplyOp{
		Signed:     bit(word, 22),
		Accumulate: bit(word, 21),
		S:          bit(word, 20),
		RdHi:       bitsField(word, 19, 16),
		RdLo:       bitsField(word, 15, 12),
		Rs:         bitsField(word, 11, 8),
		Rm:         bitsField(word, 3, 0),
	}
	names := map[[2]bool]string{
		{false, false}: "UMULL", {false, true}: "UMLAL",
		{true, false}: "SMULL", {true, true}: "SMLAL",
	}
	return newInstruction(cond, ClassLongMultiply, names[[2]bool{op.Signed, op.Accumulate}], op), nil
}

func decodeHalfwordTransfer(word uint32, cond Condition) (Instruction, error) {
	sh := bitsField(word, 6, 5)
	if sh == 0 {
		return Instruction{}, fmt.Errorf("%w: reserved halfword-transfer shift field", ErrUndefinedInstruction)
	}
	var width DataTransferWidth
	switch sh {
	case 0b01:
		width = TransferHalfword
	case 0b10:
		width = TransferSignedByte
	default:
		width = TransferSignedHalfword
	}
	immediate := bit(word, 22)
	var off ShifterOperand
	if immediate {
		off = ShifterOperand{Immediate: true, Imm: bitsField(word, 11, 8)<<4 | bitsField(word, 3, 0)}
	} else {
		off = ShifterOperand{Immediate: false, Rm: bitsField(word, 3, 0)}
	}
	op := CoreDataTransferOp{
		Load:  bit(word, 20),
		Width: width,
		Rd:    bitsField(word, 15, 12),
		Address: AddressOperand{
			Rn:             bitsField(word, 19, 16),
			Offset:         off,
			PreIndexed:     bit(word, 24),
			NegativeOffset: !bit(word, 23),
			Writeback:      bit(word, 21),
		},
	}
	return newInstruction(cond, ClassCoreDataTransfer, halfwordMnemonic(op), op), nil
}

func halfwordMnemonic(op CoreDataTransferOp) string {
	verb := "STR"
	if op.Load {
		verb = "LDR"
	}
	switch op.Width {
	case TransferHalfword:
		return verb + "H"
	case TransferSignedByte:
		return verb + "SB"
	case TransferSignedHalfword:
		return verb + "SH"
	default:
		return verb
	}
}

func decodeDataProcessing(word uint32, cond Condition) (Instruction, error) {
	opcode := AluOpcode(bitsField(word, 24, 21))
	s := bit(word, 20)
	rn := bitsField(word, 19, 16)
	rd := bitsField(word, 15, 12)
	op2 := decodeShifterOperand(word)

	if opcode.IsCompare() && !s {
		// Pre-v3 "P" suffix: the compare writes its result to PSR/R15
		// instead of discarding it, per spec.md 4.F.
		return newInstruction(cond, ClassCoreCompare, opcode.String()+"P", CoreCompareOp{
			Opcode: opcode, PFlag: true, Rn: rn, Op2: op2,
		}), nil
	}
	if opcode.IsCompare() {
		return newInstruction(cond, ClassCoreCompare, opcode.String(), CoreCompareOp{
			Opcode: opcode, Rn: rn, Op2: op2,
		}), nil
	}
	return newInstruction(cond, ClassCoreAlu, opcode.String(), CoreAluOp{
		Opcode: opcode, S: s, Rn: rn, Rd: rd, Op2: op2,
	}), nil
}

func decodeShifterOperand(word uint32) ShifterOperand {
	if bit(word, 25) {
		imm := bitsField(word, 7, 0)
		rot := bitsField(word, 11, 8) * 2
		if rot == 0 {
			// Shift reads ROR #0 as RRX; an unrotated immediate is used as-is.
			return ShifterOperand{Immediate: true, Imm: imm}
		}
		v, carry := Shift(imm, ShiftROR, rot, false)
		return ShifterOperand{Immediate: true, Imm: v, ImmCarry: carry}
	}
	rm := bitsField(word, 3, 0)
	shiftType := decodeShiftType(bitsField(word, 6, 5))
	if bit(word, 4) {
		return ShifterOperand{Rm: rm, Shift: shiftType, ShiftByReg: true, Rs: bitsField(word, 11, 8)}
	}
	amt := bitsField(word, 11, 7)
	if shiftType == ShiftROR && amt == 0 {
		shiftType = ShiftRRX
	}
	return ShifterOperand{Rm: rm, Shift: shiftType, ShiftAmt: amt}
}

func decodeShiftType(bits2 uint32) ShiftType {
	switch bits2 {
	case 0b00:
		return ShiftLSL
	case 0b01:
		return ShiftLSR
	case 0b10:
		return ShiftASR
	default:
		return ShiftROR
	}
}

func decodeSingleTransfer(word uint32, cond Condition) (Instruction, error) {
	var off ShifterOperand
	if bit(word, 25) {
		amt := bitsField(word, 11, 7)
		st := decodeShiftType(bitsField(word, 6, 5))
		if st == ShiftROR && amt == 0 {
			st = ShiftRRX
		}
		off = ShifterOperand{Rm: bitsField(word, 3, 0), Shift: st, ShiftAmt: amt}
	} else {
		off = ShifterOperand{Immediate: true, Imm: bitsField(word, 11, 0)}
	}
	width := TransferWord
	if bit(word, 22) {
		width = TransferByte
	}
	op := CoreDataTransferOp{
		Load:  bit(word, 20),
		Width: width,
		Rd:    bitsField(word, 15, 12),
		Address: AddressOperand{
			Rn:             bitsField(word, 19, 16),
			Offset:         off,
			PreIndexed:     bit(word, 24),
			NegativeOffset: !bit(word, 23),
			Writeback:      bit(word, 21),
		},
	}
	verb := "STR"
	if op.Load {
		verb = "LDR"
	}
	if op.Width == TransferByte {
		verb += "B"
	}
	return newInstruction(cond, ClassCoreDataTransfer, verb, op), nil
}

func decodeMultiTransfer(word uint32, cond Condition) (Instruction, error) {
	op := CoreMultiTransferOp{
		Load:         bit(word, 20),
		PreIndexed:   bit(word, 24),
		Up:           bit(word, 23),
		UserBank:     bit(word, 22),
		Writeback:    bit(word, 21),
		Rn:           bitsField(word, 19, 16),
		RegisterList: uint16(bitsField(word, 15, 0)),
	}
	verb := "STM"
	if op.Load {
		verb = "LDM"
	}
	return newInstruction(cond, ClassCoreMultiTransfer, verb, op), nil
}

func decodeBranch(word uint32, cond Condition) (Instruction, error) {
	raw := bitsField(word, 23, 0)
	signed := int32(raw<<8) >> 8 // sign-extend 24 -> 32
	op := BranchOp{Link: bit(word, 24), Offset: signed << 2}
	mnemonic := "B"
	if op.Link {
		mnemonic = "BL"
	}
	return newInstruction(cond, ClassBranch, mnemonic, op), nil
}

func decodeGroup3(word uint32, cond Condition) (Instruction, error) {
	if bitsField(word, 27, 24) == 0b1111 {
		return newInstruction(cond, ClassSoftwareIrq, "SWI", SoftwareIrqOp{Comment: bitsField(word, 23, 0)}), nil
	}
	if bit(word, 25) {
		if bit(word, 4) {
			return decodeCoprocRegisterTransfer(word, cond)
		}
		return decodeCoprocDataProcessing(word, cond)
	}
	return decodeCoprocDataTransfer(word, cond)
}

func decodeCoprocDataTransfer(word uint32, cond Condition) (Instruction, error) {
	cpNum := bitsField(word, 11, 8)
	op := CoProcDataTransferOp{
		Load:  bit(word, 20),
		Long:  bit(word, 22),
		CpNum: cpNum,
		CRd:   bitsField(word, 15, 12),
		Address: AddressOperand{
			Rn: bitsField(word, 19, 16),
			Offset: ShifterOperand{
				Immediate: true,
				Imm:       bitsField(word, 7, 0) << 2,
			},
			PreIndexed:     bit(word, 24),
			NegativeOffset: !bit(word, 23),
			Writeback:      bit(word, 21),
		},
	}
	if isFpaCpNum(cpNum) {
		return decodeFpaDataTransfer(word, cond, op)
	}
	verb := "STC"
	if op.Load {
		verb = "LDC"
	}
	return newInstruction(cond, ClassCoProcDataTransfer, verb, op), nil
}

func decodeCoprocRegisterTransfer(word uint32, cond Condition) (Instruction, error) {
	cpNum := bitsField(word, 11, 8)
	if isFpaCpNum(cpNum) {
		return newInstruction(cond, ClassFpaRegisterTransfer, "FPA", FpaOp{Raw: word, Rd: bitsField(word, 15, 12)}), nil
	}
	op := CoProcRegisterTransferOp{
		ToCoprocessor: !bit(word, 20),
		CpNum:         cpNum,
		Opcode1:       bitsField(word, 23, 21),
		CRn:           bitsField(word, 19, 16),
		Rd:            bitsField(word, 15, 12),
		CRm:           bitsField(word, 3, 0),
		Opcode2:       bitsField(word, 7, 5),
	}
	mnemonic := "MRC"
	if op.ToCoprocessor {
		mnemonic = "MCR"
	}
	return newInstruction(cond, ClassCoProcRegisterTransfer, mnemonic, op), nil
}

func decodeCoprocDataProcessing(word uint32, cond Condition) (Instruction, error) {
	cpNum := bitsField(word, 11, 8)
	if isFpaCpNum(cpNum) {
		return decodeFpaDataProcessing(word, cond)
	}
	op := CoProcDataProcessingOp{
		CpNum:   cpNum,
		Opcode1: bitsField(word, 23, 20),
		CRn:     bitsField(word, 19, 16),
		CRd:     bitsField(word, 15, 12),
		CRm:     bitsField(word, 3, 0),
		Opcode2: bitsField(word, 7, 5),
	}
	return newInstruction(cond, ClassCoProcDataProcessing, "CDP", op), nil
}

// isFpaCpNum reports whether cpNum addresses the Floating Point
// Accelerator's reserved coprocessor numbers (1 and 2), decoded specially
// because FPA has its own disassembly mnemonics even though it rides the
// generic coprocessor encoding space.
func isFpaCpNum(cpNum uint32) bool { return cpNum == 1 || cpNum == 2 }

func decodeFpaDataTransfer(word uint32, cond Condition, base CoProcDataTransferOp) (Instruction, error) {
	return newInstruction(cond, ClassFpaDataTransfer, "FPA", FpaOp{
		Raw: word, Fd: base.CRd, Precision: bitsField(word, 8, 7),
	}), nil
}

func decodeFpaDataProcessing(word uint32, cond Condition) (Instruction, error) {
	op := FpaOp{
		Raw:       word,
		Opcode:    bitsField(word, 19, 16),
		Fd:        bitsField(word, 15, 12),
		Fn:        bitsField(word, 19, 16),
		Fm:        bitsField(word, 3, 0),
		Precision: bitsField(word, 8, 7),
	}
	class := ClassFpaDyadic
	if bitsField(word, 19, 16) == 0 {
		class = ClassFpaMonadic
	}
	return newInstruction(cond, class, "FPA", op), nil
}
