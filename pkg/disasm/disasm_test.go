package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/armcore/pkg/cpu"
)

var hexOpts = Options{Hex: true, AddressWidth: cpu.Addr26Bit}

func TestFormatSoftwareInterrupt(t *testing.T) {
	// SWI &AB (scenario 1)
	word := uint32(0xEF0000AB)
	desc, err := Disassemble([]uint32{word}, 0, hexOpts)
	require.NoError(t, err)
	assert.Equal(t, "SWI &AB", Format(desc, hexOpts))
}

func TestFormatDataProcessingMOV(t *testing.T) {
	// MOV R0, #1
	word := uint32(0b1110_00_1_1101_0_0000_0000_000000000001)
	desc, err := Disassemble([]uint32{word}, 0, hexOpts)
	require.NoError(t, err)
	assert.Equal(t, "MOV R0, #&1", Format(desc, hexOpts))
}

func TestFormatBranchComputesAbsoluteTarget(t *testing.T) {
	// B +8, at address 0: target = 0 + 8 + 8 = &10
	word := uint32(0b1110_101_0_000000000000000000000010)
	desc, err := Disassemble([]uint32{word}, 0, hexOpts)
	require.NoError(t, err)
	assert.Equal(t, "B &10", Format(desc, hexOpts))
}

func TestFormatMultiTransferStackSynonymSTMFD(t *testing.T) {
	// STMFD R13!, {R0-R4}  ==  STMDB R13!, {R0-R4} == 0xE92D001F (scenario 4)
	word := uint32(0xE92D001F)
	stackOpts := Options{Hex: true, UseStackModesOnR13: true, AddressWidth: cpu.Addr26Bit}
	desc, err := Disassemble([]uint32{word}, 0, stackOpts)
	require.NoError(t, err)
	assert.Equal(t, "STMFD R13!, {R0-R4}", Format(desc, stackOpts))

	// without the stack-mode option, the same word renders canonically
	desc2, err := Disassemble([]uint32{word}, 0, hexOpts)
	require.NoError(t, err)
	assert.Equal(t, "STMDB R13!, {R0-R4}", Format(desc2, hexOpts))
}

func TestFormatMultiTransferLDMFD(t *testing.T) {
	// LDMFD R13!, {R0-R4} == LDMIA R13!, {R0-R4}
	word := uint32(0xE8BD001F)
	stackOpts := Options{Hex: true, UseStackModesOnR13: true, AddressWidth: cpu.Addr26Bit}
	desc, err := Disassemble([]uint32{word}, 0, stackOpts)
	require.NoError(t, err)
	assert.Equal(t, "LDMFD R13!, {R0-R4}", Format(desc, stackOpts))
}

func TestFormatAddressIdiomADR(t *testing.T) {
	// ADR R0, &108 at address &100: ADD R0, R15, #0 (0 = 0x108-0x100-8)
	// word encodes ADD R0, PC, #0 -> target = addr+8+0
	word := uint32(0b1110_00_1_0100_0_1111_0000_0000_00000000)
	desc, err := Disassemble([]uint32{word}, 0x100, hexOpts)
	require.NoError(t, err)
	assert.True(t, desc.IsAddressIdiom)
	assert.Equal(t, "ADR", desc.AdrMnemonic)
	assert.Equal(t, "ADR R0, &108", Format(desc, hexOpts))
}

func TestFormatConditionSuffixCanonicalised(t *testing.T) {
	// MOVCS R0, R1 (condition field 2 == CS, never renders as HS)
	word := uint32(0b0010_00_0_1101_0_0000_0000_000000000001)
	desc, err := Disassemble([]uint32{word}, 0, hexOpts)
	require.NoError(t, err)
	assert.Equal(t, "MOVCS R0, R1", Format(desc, hexOpts))
}

func TestModelGateRejectsNewerEncodings(t *testing.T) {
	umull := uint32(0xE0810392)
	v2 := Options{Hex: true, Model: ModelARMv2}
	_, err := Disassemble([]uint32{umull}, 0, v2)
	assert.ErrorIs(t, err, ErrMiss)

	v3 := Options{Hex: true, Model: ModelARMv3}
	desc, err := Disassemble([]uint32{umull}, 0, v3)
	require.NoError(t, err)
	assert.Equal(t, "UMULL R0, R1, R2, R3", Format(desc, v3))

	// The zero-value options accept everything.
	_, err = Disassemble([]uint32{umull}, 0, Options{})
	assert.NoError(t, err)
}

func TestFPAGate(t *testing.T) {
	// An FPA coprocessor-space word (CDP on cp1) misses unless AllowFPA.
	word := uint32(0xEE000120)
	_, err := Disassemble([]uint32{word}, 0, Options{})
	assert.ErrorIs(t, err, ErrMiss)

	desc, err := Disassemble([]uint32{word}, 0, Options{AllowFPA: true})
	require.NoError(t, err)
	assert.Contains(t, Format(desc, Options{AllowFPA: true}), "FPA")
}

func TestFormatDecimalOption(t *testing.T) {
	word := uint32(0b1110_00_1_1101_0_0000_0000_000000001010) // MOV R0, #10
	decOpts := Options{AddressWidth: cpu.Addr26Bit}
	desc, err := Disassemble([]uint32{word}, 0, decOpts)
	require.NoError(t, err)
	assert.Equal(t, "MOV R0, #10", Format(desc, decOpts))
}
