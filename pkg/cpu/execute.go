package cpu

import (
	"fmt"
	"math/bits"

	"github.com/bassosimone/armcore/pkg/memory"
)

// ErrRuntimeAbort is raised by Execute when asked to run a class of
// instruction the core can decode/format but never executes -- per spec.md
// 9's open-question decision, that's every Fpa* class.
var ErrRuntimeAbort = fmt.Errorf("cpu: runtime abort")

// ErrSoftwareInterrupt signals that a SWI instruction retired; the Host
// turns this into entry to the SVC exception vector.
var ErrSoftwareInterrupt = fmt.Errorf("cpu: software interrupt")

// ErrBreakpointHit signals a BKPT instruction retired.
var ErrBreakpointHit = fmt.Errorf("cpu: breakpoint")

// Core is the execution context Execute operates against: the register
// file, the routable address space (the read/write map pair), and the
// coprocessor bus, per spec.md 4.G/4.H.
type Core struct {
	Regs  *Registers
	Mem   *memory.Bus
	Copro *CoprocessorBus

	pcWritten bool
}

// NewCore wires a register file, memory bus, and coprocessor bus into one
// execution context.
func NewCore(regs *Registers, mem *memory.Bus, copro *CoprocessorBus) *Core {
	return &Core{Regs: regs, Mem: mem, Copro: copro}
}

// TookBranch reports, and clears, whether the last executed instruction
// retargeted the program counter. The host's step loop advances PC past
// the fetched instruction only when it didn't, which keeps a
// branch-to-self (the idle loop every ROM has somewhere) spinning in
// place instead of falling through.
func (c *Core) TookBranch() bool {
	taken := c.pcWritten
	c.pcWritten = false
	return taken
}

func (c *Core) setPC(addr uint32) {
	c.Regs.SetPC(addr)
	c.pcWritten = true
}

// Execute runs one decoded instruction to completion, returning its cycle
// cost. A non-nil error is either a routine exception trigger
// (ErrSoftwareInterrupt, ErrBreakpointHit, ErrRuntimeAbort, a wrapped
// memory.ErrBusError) that the Host is expected to turn into the matching
// exception entry, or ErrUndefinedInstruction for an unrecognised
// coprocessor number.
func (c *Core) Execute(instr Instruction) (CycleCounts, error) {
	if !instr.Cond.Eval(c.Regs.CPSR()) {
		// A failed condition still costs one sequential fetch cycle,
		// per spec.md 8.
		return CycleCounts{S: 1}, nil
	}
	switch instr.Class {
	case ClassCoreAlu:
		return c.execAlu(instr.Alu())
	case ClassCoreCompare:
		return c.execCompare(instr.Compare())
	case ClassCoreMultiply:
		return c.execMultiply(instr.Multiply())
	case ClassLongMultiply:
		return c.execLongMultiply(instr.LongMultiply())
	case ClassCoreDataTransfer:
		return c.execDataTransfer(instr.DataTransfer())
	case ClassCoreMultiTransfer:
		return c.execMultiTransfer(instr.MultiTransfer())
	case ClassBranch:
		return c.execBranch(instr.Branch())
	case ClassSoftwareIrq:
		return CycleCounts{S: 1}, fmt.Errorf("%w: #%d", ErrSoftwareInterrupt, instr.SoftwareIrq().Comment)
	case ClassBreakpoint:
		return CycleCounts{S: 1}, ErrBreakpointHit
	case ClassAtomicSwap:
		return c.execSwap(instr.AtomicSwap())
	case ClassMoveFromPSR:
		return c.execMRS(instr.MoveFromPSR())
	case ClassMoveToPSR:
		return c.execMSR(instr.MoveToPSR())
	case ClassBranchExchange:
		return c.execBX(instr.BranchExchange())
	case ClassCoProcDataTransfer:
		return c.execCoprocDataTransfer(instr.CoProcDataTransfer())
	case ClassCoProcRegisterTransfer:
		return c.execCoprocRegisterTransfer(instr.CoProcRegisterTransfer())
	case ClassCoProcDataProcessing:
		return c.execCoprocDataProcessing(instr.CoProcDataProcessing())
	case ClassFpaDataTransfer, ClassFpaDyadic, ClassFpaMonadic, ClassFpaRegisterTransfer, ClassFpaComparison:
		return CycleCounts{S: 1}, fmt.Errorf("%w: FPA execution not implemented", ErrRuntimeAbort)
	default:
		return CycleCounts{}, fmt.Errorf("%w: class %s", ErrUndefinedInstruction, instr.Class)
	}
}

func (c *Core) operand(i uint32) uint32 {
	if i == 15 {
		return c.Regs.ReadPC()
	}
	return c.Regs.Read(i)
}

// writeReg routes a result register write, turning a write to R15 into a
// PC retarget (address-only, never the packed PSR bits, per spec.md 4.D).
func (c *Core) writeReg(i, v uint32) {
	if i == 15 {
		c.setPC(v)
		return
	}
	c.Regs.Write(i, v)
}

// evalShifterOperand computes the second ALU operand and the carry it would
// latch into CPSR.C, per spec.md 4.E.
func (c *Core) evalShifterOperand(op ShifterOperand, carryIn bool) (uint32, bool) {
	if op.Immediate {
		return op.Imm, op.ImmCarry
	}
	value := c.operand(op.Rm)
	amount := op.ShiftAmt
	if op.ShiftByReg {
		amount = c.Regs.Read(op.Rs) & 0xFF
		if amount == 0 {
			// A register-specified shift of zero leaves value and carry
			// untouched; the amount==0 special cases (LSR/ASR #32, RRX)
			// apply only to the immediate-encoded forms.
			return value, carryIn
		}
	}
	return Shift(value, op.Shift, amount, carryIn)
}

func setNZ(p *PSR, result uint32) {
	p.Z = result == 0
	p.N = result&(1<<31) != 0
}

func addWithFlags(a, b uint32, carryIn bool) (result uint32, carryOut, overflow bool) {
	var cin uint64
	if carryIn {
		cin = 1
	}
	wide := uint64(a) + uint64(b) + cin
	result = uint32(wide)
	carryOut = wide > 0xFFFFFFFF
	sa, sb, sr := int32(a) >= 0, int32(b) >= 0, int32(result) >= 0
	overflow = sa == sb && sa != sr
	return
}

// subWithFlags implements ARM's SUB/SBC family as the architecture defines
// them: Rn + NOT(op2) + carryIn, where SUB/CMP fix carryIn=true (no borrow)
// and SBC/RSC pass the live C flag.
func subWithFlags(a, b uint32, carryIn bool) (result uint32, carryOut, overflow bool) {
	return addWithFlags(a, ^b, carryIn)
}

func (c *Core) execAlu(op CoreAluOp) (CycleCounts, error) {
	p := c.Regs.CPSR()
	rn := c.operand(op.Rn)
	op2, shiftCarry := c.evalShifterOperand(op.Op2, p.C)
	var result uint32
	var carryOut, overflow bool
	carryOut = p.C
	switch op.Opcode {
	case AluAND:
		result, carryOut = rn&op2, shiftCarry
	case AluEOR:
		result, carryOut = rn^op2, shiftCarry
	case AluSUB:
		result, carryOut, overflow = subWithFlags(rn, op2, true)
	case AluRSB:
		result, carryOut, overflow = subWithFlags(op2, rn, true)
	case AluADD:
		result, carryOut, overflow = addWithFlags(rn, op2, false)
	case AluADC:
		result, carryOut, overflow = addWithFlags(rn, op2, p.C)
	case AluSBC:
		result, carryOut, overflow = subWithFlags(rn, op2, p.C)
	case AluRSC:
		result, carryOut, overflow = subWithFlags(op2, rn, p.C)
	case AluORR:
		result, carryOut = rn|op2, shiftCarry
	case AluMOV:
		result, carryOut = op2, shiftCarry
	case AluBIC:
		result, carryOut = rn&^op2, shiftCarry
	case AluMVN:
		result, carryOut = ^op2, shiftCarry
	default:
		return CycleCounts{}, fmt.Errorf("%w: alu opcode %v", ErrUndefinedInstruction, op.Opcode)
	}
	if op.Rd == 15 {
		c.setPC(result)
		if op.S {
			if restored, ok := c.Regs.SPSR(c.Regs.Mode()); ok {
				c.Regs.SetCPSR(restored)
			}
		}
	} else {
		c.Regs.Write(op.Rd, result)
		if op.S {
			p.C, p.V = carryOut, overflow
			setNZ(&p, result)
			c.Regs.SetCPSR(p)
		}
	}
	return aluCycles(op.Rd), nil
}

func aluCycles(rd uint32) CycleCounts {
	if rd == 15 {
		return CycleCounts{S: 2, N: 1}
	}
	return CycleCounts{S: 1}
}

func (c *Core) execCompare(op CoreCompareOp) (CycleCounts, error) {
	p := c.Regs.CPSR()
	rn := c.operand(op.Rn)
	op2, shiftCarry := c.evalShifterOperand(op.Op2, p.C)
	var result uint32
	var carryOut, overflow bool
	switch op.Opcode {
	case AluTST:
		result, carryOut = rn&op2, shiftCarry
	case AluTEQ:
		result, carryOut = rn^op2, shiftCarry
	case AluCMP:
		result, carryOut, overflow = subWithFlags(rn, op2, true)
	case AluCMN:
		result, carryOut, overflow = addWithFlags(rn, op2, false)
	default:
		return CycleCounts{}, fmt.Errorf("%w: compare opcode %v", ErrUndefinedInstruction, op.Opcode)
	}
	if op.PFlag {
		// Pre-v3 "P" form writes the comparison's would-be result into the
		// CPSR/R15 PSR bits instead of discarding it; User mode may change
		// only the flags, and the PC itself is never written.
		mask := PSRFieldFlags | PSRFieldControl
		keep := uint32(0x03FFFFFC)
		if c.Regs.Mode() == ModeUser {
			mask, keep = PSRFieldFlags, 0x0FFFFFFF
		}
		if c.Regs.AddressWidth() == Addr26Bit {
			c.Regs.UnpackPSR26(result&^keep | c.Regs.PackPSR26()&keep)
		} else {
			c.Regs.SetCPSR(applyMasked(p, result, mask))
		}
		return CycleCounts{S: 1}, nil
	}
	p.C, p.V = carryOut, overflow
	setNZ(&p, result)
	c.Regs.SetCPSR(p)
	return CycleCounts{S: 1}, nil
}

func (c *Core) execMultiply(op CoreMultiplyOp) (CycleCounts, error) {
	rs, rm := c.Regs.Read(op.Rs), c.Regs.Read(op.Rm)
	result := rs * rm
	if op.Accumulate {
		result += c.Regs.Read(op.Rn)
	}
	c.Regs.Write(op.Rd, result)
	if op.S {
		p := c.Regs.CPSR()
		setNZ(&p, result)
		c.Regs.SetCPSR(p)
	}
	internal := uint64(multiplierCycles(rs))
	if op.Accumulate {
		internal++
	}
	return CycleCounts{S: 1, I: internal}, nil
}

func multiplierCycles(rs uint32) int {
	// Early-termination multiplier: one internal cycle per non-trivial byte
	// of the multiplier, per the real ARM2/ARM3 timing model.
	n := 1
	for _, shift := range []uint{24, 16, 8} {
		b := (rs >> shift) & 0xFF
		if b != 0 && b != 0xFF {
			n++
		}
	}
	return n
}

func (c *Core) execLongMultiply(op LongMultiplyOp) (CycleCounts, error) {
	rs, rm := c.Regs.Read(op.Rs), c.Regs.Read(op.Rm)
	var hi, lo uint32
	if op.Signed {
		product := int64(int32(rm)) * int64(int32(rs))
		hi, lo = uint32(uint64(product)>>32), uint32(uint64(product))
	} else {
		hi, lo = bits.Mul32(rm, rs)
	}
	if op.Accumulate {
		sum := uint64(hi)<<32 | uint64(lo)
		sum += uint64(c.Regs.Read(op.RdHi))<<32 | uint64(c.Regs.Read(op.RdLo))
		hi, lo = uint32(sum>>32), uint32(sum)
	}
	c.Regs.Write(op.RdHi, hi)
	c.Regs.Write(op.RdLo, lo)
	if op.S {
		p := c.Regs.CPSR()
		p.Z = hi == 0 && lo == 0
		p.N = hi&(1<<31) != 0
		c.Regs.SetCPSR(p)
	}
	internal := uint64(multiplierCycles(rs) + 1)
	if op.Accumulate {
		internal++
	}
	return CycleCounts{S: 1, I: internal}, nil
}

func (c *Core) resolveAddress(addr AddressOperand) (effective, base uint32) {
	base = c.operand(addr.Rn)
	offVal, _ := c.evalShifterOperand(addr.Offset, c.Regs.CPSR().C)
	if addr.NegativeOffset {
		offVal = -offVal
	}
	if addr.PreIndexed {
		return base + offVal, base + offVal
	}
	return base, base + offVal
}

func (c *Core) execDataTransfer(op CoreDataTransferOp) (CycleCounts, error) {
	effective, writebackVal := c.resolveAddress(op.Address)
	width := memory.Word
	switch op.Width {
	case TransferByte, TransferSignedByte:
		width = memory.Byte
	case TransferHalfword, TransferSignedHalfword:
		width = memory.Half
	}
	// The map only ever sees aligned offsets: the CPU aligns the address
	// down and, on an unaligned word load, rotates the fetched word so the
	// addressed byte lands in bits [7:0] -- the ARMv2/v3 fix-up of spec.md
	// 4.B/4.F.
	misalign := effective % uint32(width)
	aligned := effective - misalign
	if op.Load {
		raw, err := c.Mem.Read(aligned, width)
		if err != nil {
			return CycleCounts{N: 1}, err
		}
		if width == memory.Word && misalign != 0 {
			raw, _ = Shift(raw, ShiftROR, 8*misalign, false)
		}
		value := signExtend(raw, op.Width)
		if op.Rd == 15 {
			c.setPC(value &^ 0b11)
		} else {
			c.Regs.Write(op.Rd, value)
		}
	} else {
		value := c.operand(op.Rd)
		if err := c.Mem.Write(aligned, width, value); err != nil {
			return CycleCounts{N: 1}, err
		}
	}
	// Writeback happens unless the load's destination is the base itself,
	// in which case the loaded value wins.
	if (!op.Address.PreIndexed || op.Address.Writeback) && !(op.Load && op.Rd == op.Address.Rn) {
		c.Regs.Write(op.Address.Rn, writebackVal)
	}
	if op.Load {
		if op.Rd == 15 {
			return CycleCounts{N: 2, S: 2, I: 1}, nil
		}
		return CycleCounts{N: 1, S: 1, I: 1}, nil
	}
	return CycleCounts{N: 2}, nil
}

func signExtend(raw uint32, width DataTransferWidth) uint32 {
	switch width {
	case TransferSignedByte:
		return uint32(int32(int8(raw)))
	case TransferSignedHalfword:
		return uint32(int32(int16(raw)))
	default:
		return raw
	}
}

func (c *Core) execMultiTransfer(op CoreMultiTransferOp) (CycleCounts, error) {
	base := c.Regs.Read(op.Rn)
	regList := expandRegList(op.RegisterList)
	n := uint32(len(regList))
	if n == 0 {
		return CycleCounts{N: 1}, nil
	}
	var start uint32
	if op.Up {
		start = base
		if op.PreIndexed {
			start += 4
		}
	} else {
		start = base - 4*n
		if !op.PreIndexed {
			start += 4
		}
	}
	// The `^` flag means "transfer the User bank" only when R15 is absent;
	// with R15 in an LDM list it instead turns the R15 load into an
	// exception return (CPSR restored from the current mode's SPSR), and
	// the other registers stay on the current mode's bank.
	hasR15 := op.RegisterList&(1<<15) != 0
	mode := c.Regs.Mode()
	if op.UserBank && !hasR15 {
		mode = ModeUser
	}
	addr := start
	for _, reg := range regList {
		if op.Load {
			v, err := c.Mem.Read(addr, memory.Word)
			if err != nil {
				return CycleCounts{N: 1}, err
			}
			if reg == 15 {
				c.setPC(v &^ 0b11)
				if op.UserBank {
					if restored, ok := c.Regs.SPSR(c.Regs.Mode()); ok {
						c.Regs.SetCPSR(restored)
					}
				}
			} else {
				c.Regs.WriteBanked(reg, mode, v)
			}
		} else {
			v := c.Regs.ReadBanked(reg, mode)
			if err := c.Mem.Write(addr, memory.Word, v); err != nil {
				return CycleCounts{N: 1}, err
			}
		}
		addr += 4
	}
	if op.Writeback && !(op.Load && op.RegisterList&(1<<op.Rn) != 0) {
		if op.Up {
			c.Regs.Write(op.Rn, base+4*n)
		} else {
			c.Regs.Write(op.Rn, base-4*n)
		}
	}
	s := uint64(n) - 1
	if s < 1 {
		s = 1
	}
	cost := CycleCounts{N: 1, S: s}
	if op.Load {
		cost.I = 1
		if regList[len(regList)-1] == 15 {
			cost.N++
			cost.S++
		}
	}
	return cost, nil
}

func expandRegList(mask uint16) []uint32 {
	var out []uint32
	for i := uint32(0); i < 16; i++ {
		if mask&(1<<i) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func (c *Core) execBranch(op BranchOp) (CycleCounts, error) {
	pc := c.Regs.ReadPC()
	if op.Link {
		c.Regs.Write(14, pc-4)
	}
	c.setPC(uint32(int32(pc) + op.Offset))
	return CycleCounts{S: 2, N: 1}, nil
}

func (c *Core) execSwap(op AtomicSwapOp) (CycleCounts, error) {
	width := memory.Word
	if op.Byte {
		width = memory.Byte
	}
	addr := c.Regs.Read(op.Rn)
	if width == memory.Word {
		addr &^= 3
	}
	old, err := c.Mem.Read(addr, width)
	if err != nil {
		return CycleCounts{N: 1}, err
	}
	if err := c.Mem.Write(addr, width, c.Regs.Read(op.Rm)); err != nil {
		return CycleCounts{N: 1}, err
	}
	c.writeReg(op.Rd, old)
	return CycleCounts{N: 2, S: 1, I: 1}, nil
}

func (c *Core) execMRS(op MoveFromPSROp) (CycleCounts, error) {
	var p PSR
	if op.UseSPSR {
		p, _ = c.Regs.SPSR(c.Regs.Mode())
	} else {
		p = c.Regs.CPSR()
	}
	c.writeReg(op.Rd, p.Pack32())
	return CycleCounts{S: 1}, nil
}

func (c *Core) execMSR(op MoveToPSROp) (CycleCounts, error) {
	var src uint32
	if op.Immediate {
		src = op.Imm
	} else {
		src = c.operand(op.Rm)
	}
	if op.UseSPSR {
		mode := c.Regs.Mode()
		cur, ok := c.Regs.SPSR(mode)
		if !ok {
			return CycleCounts{S: 1}, nil
		}
		c.Regs.SetSPSR(mode, applyMasked(cur, src, op.FieldMask))
	} else {
		mask := op.FieldMask
		if c.Regs.Mode() == ModeUser {
			// User mode may touch the flags but never the control byte.
			mask &^= PSRFieldControl
		}
		c.Regs.SetCPSR(applyMasked(c.Regs.CPSR(), src, mask))
	}
	return CycleCounts{S: 1}, nil
}

func (c *Core) execBX(op BranchExchangeOp) (CycleCounts, error) {
	target := c.Regs.Read(op.Rm)
	p := c.Regs.CPSR()
	p.T = target&1 != 0
	c.Regs.SetCPSR(p)
	c.setPC(target &^ 1)
	return CycleCounts{S: 2, N: 1}, nil
}

func (c *Core) execCoprocDataTransfer(op CoProcDataTransferOp) (CycleCounts, error) {
	handler, err := c.Copro.handler(op.CpNum)
	if err != nil {
		return CycleCounts{}, err
	}
	effective, writebackVal := c.resolveAddress(op.Address)
	outcome, cost, err := handler.DataTransfer(op, effective, c.Mem)
	if err != nil {
		return cost, err
	}
	if outcome == CoprocRefused {
		return cost, fmt.Errorf("%w: coprocessor %d refused", ErrUndefinedInstruction, op.CpNum)
	}
	if !op.Address.PreIndexed || op.Address.Writeback {
		c.Regs.Write(op.Address.Rn, writebackVal)
	}
	return cost, nil
}

func (c *Core) execCoprocRegisterTransfer(op CoProcRegisterTransferOp) (CycleCounts, error) {
	handler, err := c.Copro.handler(op.CpNum)
	if err != nil {
		return CycleCounts{}, err
	}
	var rdValue uint32
	if op.ToCoprocessor {
		rdValue = c.operand(op.Rd)
	}
	outcome, result, cost := handler.RegisterTransfer(op, rdValue)
	if outcome == CoprocRefused {
		return cost, fmt.Errorf("%w: coprocessor %d refused", ErrUndefinedInstruction, op.CpNum)
	}
	if !op.ToCoprocessor {
		if op.Rd == 15 {
			p := c.Regs.CPSR()
			p.N, p.Z, p.C, p.V = result&(1<<31) != 0, result&(1<<30) != 0, result&(1<<29) != 0, result&(1<<28) != 0
			c.Regs.SetCPSR(p)
		} else {
			c.Regs.Write(op.Rd, result)
		}
	}
	return cost, nil
}

func (c *Core) execCoprocDataProcessing(op CoProcDataProcessingOp) (CycleCounts, error) {
	handler, err := c.Copro.handler(op.CpNum)
	if err != nil {
		return CycleCounts{}, err
	}
	outcome, cost := handler.DataProcessing(op)
	if outcome == CoprocRefused {
		return cost, fmt.Errorf("%w: coprocessor %d refused", ErrUndefinedInstruction, op.CpNum)
	}
	return cost, nil
}
