package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataProcessingImmediate(t *testing.T) {
	// ADDS R0, R1, #1  (cond=AL, opcode=ADD, S=1, Rn=1, Rd=0, imm=1)
	word := uint32(0b1110_00_1_0100_1_0001_0000_0000_00000001)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, ClassCoreAlu, instr.Class)
	alu := instr.Alu()
	assert.Equal(t, AluADD, alu.Opcode)
	assert.True(t, alu.S)
	assert.Equal(t, uint32(1), alu.Rn)
	assert.Equal(t, uint32(0), alu.Rd)
	assert.True(t, alu.Op2.Immediate)
	assert.Equal(t, uint32(1), alu.Op2.Imm)
}

func TestDecodeBranchSignExtendsBackward(t *testing.T) {
	// B . (branch to itself, two instructions back from PC+8): offset
	// field = -2 (0xFFFFFE), byte offset -8
	word := uint32(0b1110_101_0_111111111111111111111110)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, ClassBranch, instr.Class)
	assert.Equal(t, int32(-8), instr.Branch().Offset)
	assert.False(t, instr.Branch().Link)
}

func TestDecodeBranchLinkSetsLink(t *testing.T) {
	word := uint32(0b1110_101_1_000000000000000000000001)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.True(t, instr.Branch().Link)
	assert.Equal(t, int32(4), instr.Branch().Offset)
}

func TestDecodeSoftwareInterrupt(t *testing.T) {
	word := uint32(0xEF00_00AB)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, ClassSoftwareIrq, instr.Class)
	assert.Equal(t, uint32(0xAB), instr.SoftwareIrq().Comment)
}

func TestDecodeSingleDataTransferImmediateOffset(t *testing.T) {
	// LDR R1, [R0, #4]
	word := uint32(0b1110_01_0_1_1_0_0_1_0000_0001_000000000100)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, ClassCoreDataTransfer, instr.Class)
	dt := instr.DataTransfer()
	assert.True(t, dt.Load)
	assert.Equal(t, uint32(0), dt.Address.Rn)
	assert.Equal(t, uint32(1), dt.Rd)
	assert.True(t, dt.Address.Offset.Immediate)
	assert.Equal(t, uint32(4), dt.Address.Offset.Imm)
	assert.True(t, dt.Address.PreIndexed)
	assert.False(t, dt.Address.NegativeOffset)
}

func TestDecodeBlockTransferRegisterList(t *testing.T) {
	// STMIA R13!, {R0,R1,R4}
	word := uint32(0b1110_100_0_1_0_1_0_1101_0000000000010011)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, ClassCoreMultiTransfer, instr.Class)
	mt := instr.MultiTransfer()
	assert.False(t, mt.Load)
	assert.True(t, mt.Up)
	assert.True(t, mt.Writeback)
	assert.Equal(t, uint16(0b10011), mt.RegisterList)
}

func TestDecodeBranchExchange(t *testing.T) {
	word := uint32(0b1110_0001_0010_1111_1111_1111_0001_0001)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, ClassBranchExchange, instr.Class)
	assert.Equal(t, uint32(1), instr.BranchExchange().Rm)
}

func TestDecodeMultiplyVsLongMultiply(t *testing.T) {
	// MUL R0, R1, R2 : cond 0000000 0000 Rd Rn Rs 1001 Rm
	mul := uint32(0b1110_000000_0_0_0000_0000_0010_1001_0001)
	instr, err := Decode(mul)
	require.NoError(t, err)
	assert.Equal(t, ClassCoreMultiply, instr.Class)

	// UMULL RdLo,RdHi,Rm,Rs : cond 00001 00 S RdHi RdLo Rs 1001 Rm
	umull := uint32(0b1110_00001_00_0_0001_0000_0010_1001_0011)
	instr2, err := Decode(umull)
	require.NoError(t, err)
	assert.Equal(t, ClassLongMultiply, instr2.Class)
	assert.Equal(t, "UMULL", instr2.Mnemonic)
}

func TestDecodeSwap(t *testing.T) {
	word := uint32(0b1110_00010_0_00_0001_0010_00001001_0011)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, ClassAtomicSwap, instr.Class)
	assert.False(t, instr.AtomicSwap().Byte)
}

func TestDecodeCoprocessorDataProcessing(t *testing.T) {
	word := uint32(0b1110_1110_0001_0010_0011_1111_0100_0101)
	instr, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, ClassCoProcDataProcessing, instr.Class)
	cdp := instr.CoProcDataProcessing()
	assert.Equal(t, uint32(0xF), cdp.CpNum)
}
