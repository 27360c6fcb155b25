package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/armcore/pkg/memory"
)

func newTestCore(t *testing.T) (*Core, *memory.Bus) {
	t.Helper()
	regs := NewRegisters(Addr32Bit)
	regs.SetCPSR(PSR{Mode: ModeSVC})
	bus := memory.NewBus()
	ok, err := bus.MapBoth(0, 0x1000, memory.NewRAM(0x1000))
	require.NoError(t, err)
	require.True(t, ok)
	return NewCore(regs, bus, NewCoprocessorBus()), bus
}

func TestExecuteAddSetsFlags(t *testing.T) {
	c, _ := newTestCore(t)
	c.Regs.Write(1, 0xFFFFFFFF)
	instr := newInstruction(CondAL, ClassCoreAlu, "ADDS", CoreAluOp{
		Opcode: AluADD, S: true, Rn: 1, Rd: 0,
		Op2: ShifterOperand{Immediate: true, Imm: 1},
	})
	_, err := c.Execute(instr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), c.Regs.Read(0))
	assert.True(t, c.Regs.CPSR().Z)
	assert.True(t, c.Regs.CPSR().C)
}

func TestExecuteConditionFailureSkipsAndCostsOneCycle(t *testing.T) {
	c, _ := newTestCore(t)
	c.Regs.Write(0, 42)
	p := c.Regs.CPSR()
	p.Z = false
	c.Regs.SetCPSR(p)
	instr := newInstruction(CondEQ, ClassCoreAlu, "MOVEQ", CoreAluOp{
		Opcode: AluMOV, Rd: 0, Op2: ShifterOperand{Immediate: true, Imm: 7},
	})
	cost, err := c.Execute(instr)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), c.Regs.Read(0))
	assert.Equal(t, CycleCounts{S: 1}, cost)
}

func TestExecuteCompareDoesNotWriteRd(t *testing.T) {
	c, _ := newTestCore(t)
	c.Regs.Write(0, 5)
	instr := newInstruction(CondAL, ClassCoreCompare, "CMP", CoreCompareOp{
		Opcode: AluCMP, Rn: 0, Op2: ShifterOperand{Immediate: true, Imm: 5},
	})
	_, err := c.Execute(instr)
	require.NoError(t, err)
	assert.True(t, c.Regs.CPSR().Z)
	assert.Equal(t, uint32(5), c.Regs.Read(0))
}

func TestExecuteBranchWithLink(t *testing.T) {
	c, _ := newTestCore(t)
	c.Regs.SetPC(0x100)
	instr := newInstruction(CondAL, ClassBranch, "BL", BranchOp{Link: true, Offset: 0x20})
	_, err := c.Execute(instr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x100+8+0x20), c.Regs.Read(15))
	assert.Equal(t, uint32(0x100+8-4), c.Regs.Read(14))
}

func TestExecuteLoadStoreRoundTrip(t *testing.T) {
	c, mem := newTestCore(t)
	c.Regs.Write(0, 0)
	c.Regs.Write(1, 0xCAFEBABE)
	str := newInstruction(CondAL, ClassCoreDataTransfer, "STR", CoreDataTransferOp{
		Load: false, Width: TransferWord, Rd: 1,
		Address: AddressOperand{Rn: 0, PreIndexed: true, Offset: ShifterOperand{Immediate: true, Imm: 0}},
	})
	_, err := c.Execute(str)
	require.NoError(t, err)
	v, err := mem.Read(0, memory.Word)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), v)

	ldr := newInstruction(CondAL, ClassCoreDataTransfer, "LDR", CoreDataTransferOp{
		Load: true, Width: TransferWord, Rd: 2,
		Address: AddressOperand{Rn: 0, PreIndexed: true, Offset: ShifterOperand{Immediate: true, Imm: 0}},
	})
	_, err = c.Execute(ldr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), c.Regs.Read(2))
}

func TestExecuteMultiplyAccumulate(t *testing.T) {
	c, _ := newTestCore(t)
	c.Regs.Write(1, 6)
	c.Regs.Write(2, 7)
	c.Regs.Write(3, 1)
	instr := newInstruction(CondAL, ClassCoreMultiply, "MLA", CoreMultiplyOp{
		Accumulate: true, Rd: 0, Rn: 3, Rs: 2, Rm: 1,
	})
	_, err := c.Execute(instr)
	require.NoError(t, err)
	assert.Equal(t, uint32(43), c.Regs.Read(0))
}

func TestExecuteUndefinedCoprocessorRefused(t *testing.T) {
	c, _ := newTestCore(t)
	instr := newInstruction(CondAL, ClassCoProcDataProcessing, "CDP", CoProcDataProcessingOp{CpNum: 9})
	_, err := c.Execute(instr)
	assert.ErrorIs(t, err, ErrUndefinedInstruction)
}

func TestExecuteFpaClassRaisesRuntimeAbort(t *testing.T) {
	c, _ := newTestCore(t)
	instr := newInstruction(CondAL, ClassFpaMonadic, "FPA", FpaOp{})
	_, err := c.Execute(instr)
	assert.ErrorIs(t, err, ErrRuntimeAbort)
}

func TestExecuteUnalignedWordLoadRotates(t *testing.T) {
	// Pre-v4 fix-up: loading a word at addr&3 == 1 fetches the aligned word
	// and rotates it so the addressed byte lands in bits [7:0].
	c, mem := newTestCore(t)
	require.NoError(t, mem.Write(0, memory.Word, 0x44332211))
	c.Regs.Write(0, 1)
	ldr := newInstruction(CondAL, ClassCoreDataTransfer, "LDR", CoreDataTransferOp{
		Load: true, Width: TransferWord, Rd: 2,
		Address: AddressOperand{Rn: 0, PreIndexed: true, Offset: ShifterOperand{Immediate: true, Imm: 0}},
	})
	_, err := c.Execute(ldr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11443322), c.Regs.Read(2))
}

func TestExecuteLoadToBaseSuppressesWriteback(t *testing.T) {
	c, mem := newTestCore(t)
	require.NoError(t, mem.Write(0x10, memory.Word, 0xAABBCCDD))
	c.Regs.Write(0, 0x10)
	ldr := newInstruction(CondAL, ClassCoreDataTransfer, "LDR", CoreDataTransferOp{
		Load: true, Width: TransferWord, Rd: 0,
		Address: AddressOperand{Rn: 0, PreIndexed: false, Offset: ShifterOperand{Immediate: true, Imm: 4}},
	})
	_, err := c.Execute(ldr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAABBCCDD), c.Regs.Read(0), "the loaded value wins over the post-index writeback")
}

func TestExecuteSoftwareInterruptReturnsCommentInError(t *testing.T) {
	c, _ := newTestCore(t)
	instr := newInstruction(CondAL, ClassSoftwareIrq, "SWI", SoftwareIrqOp{Comment: 0x11})
	_, err := c.Execute(instr)
	assert.ErrorIs(t, err, ErrSoftwareInterrupt)
}
