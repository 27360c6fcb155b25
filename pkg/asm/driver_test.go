package asm

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/armcore/pkg/cpu"
	"github.com/bassosimone/armcore/pkg/disasm"
)

func assemble(t *testing.T, source string, opts Options) ObjectCode {
	t.Helper()
	obj, msgs := Assemble("test.s", source, opts)
	require.False(t, msgs.HasErrors(), "unexpected diagnostics:\n%s", msgs.String())
	return obj
}

func words(t *testing.T, obj ObjectCode) []uint32 {
	t.Helper()
	require.Zero(t, len(obj.Bytes)%4)
	out := make([]uint32, len(obj.Bytes)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(obj.Bytes[i*4:])
	}
	return out
}

func TestAssembleSWI(t *testing.T) {
	// Scenario 1: SWI &DEAD -> 0xEF00DEAD; SWIVS &CAFEEE -> 0x6FCAFEEE.
	obj := assemble(t, "SWI &DEAD\nSWIVS &CAFEEE\n", Options{LoadAddress: 0})
	assert.Equal(t, []uint32{0xEF00DEAD, 0x6FCAFEEE}, words(t, obj))
}

func TestAssembleDataProcessing(t *testing.T) {
	obj := assemble(t, "MOV R0, #1\nADD R2, R0, R1\nMOV R6, R3\n", Options{})
	ws := words(t, obj)
	assert.Equal(t, uint32(0xE3A00001), ws[0])
	assert.Equal(t, uint32(0xE0802001), ws[1])
	// MOV Rd, Rm goes through the ordinary shifter-register operand2 path
	// (Rm with an implicit LSL #0), the only register-move encoding ARM has.
	assert.Equal(t, uint32(0xE1A06003), ws[2])
}

func TestAssembleADRForward(t *testing.T) {
	// Scenario 2: at load 0x10000, ADR R1, &10010 -> ADD R1, PC, #8.
	obj := assemble(t, "ADR R1, &10010\n", Options{LoadAddress: 0x10000})
	assert.Equal(t, []uint32{0xE28F1008}, words(t, obj))
}

func TestAssembleADRBackward(t *testing.T) {
	// Scenario 2: at load 0x10000, ADR R4, &FFF0 -> SUB R4, PC, #24.
	obj := assemble(t, "ADR R4, &FFF0\n", Options{LoadAddress: 0x10000})
	assert.Equal(t, []uint32{0xE24F4018}, words(t, obj))
}

func TestAssembleADRLPadded(t *testing.T) {
	// Scenario 3: ADRL R8, $-99 at 0x10000 emits the one SUB that fits plus
	// a MOV R0,R0 pad -- the declared two-word form dominates.
	obj := assemble(t, "ADRL R8, $-99\n", Options{LoadAddress: 0x10000})
	assert.Equal(t, []uint32{0xE24F806B, 0xE1A00000}, words(t, obj))
}

func TestAssembleADRConditionalLongFormKeepsPadding(t *testing.T) {
	// ADREQL: the declared long form emits two words even when the short
	// form would encode.
	obj := assemble(t, "ADREQL R8, $-99\n", Options{LoadAddress: 0x10000})
	ws := words(t, obj)
	require.Len(t, ws, 2)
	assert.Equal(t, uint32(0x024F806B), ws[0], "SUB with the EQ condition")
	assert.Equal(t, uint32(0xE1A00000), ws[1], "unconditional MOV R0,R0 pad")
}

func TestAssembleSTMFDStackSynonym(t *testing.T) {
	// Scenario 4: STMFD R13!, {R0-R4} -> 0xE92D001F.
	obj := assemble(t, "STMFD R13!, {R0-R4}\n", Options{})
	assert.Equal(t, []uint32{0xE92D001F}, words(t, obj))
}

func TestAssembleMultiPassLabel(t *testing.T) {
	// Scenario 5: 24 bytes at load 0x8000; the forward-referenced word
	// resolves to 0x8018.
	source := "EQUD 0xCAFEBABE\n" +
		"EQUD myLabel\n" +
		"EQUS 'Hello World!',13,10\n" +
		"ALIGN\n" +
		".myLabel\n"
	obj := assemble(t, source, Options{LoadAddress: 0x8000})
	require.Len(t, obj.Bytes, 24)
	assert.Equal(t, uint32(0xCAFEBABE), binary.LittleEndian.Uint32(obj.Bytes[0:]))
	assert.Equal(t, uint32(0x00008018), binary.LittleEndian.Uint32(obj.Bytes[4:]))
	assert.Equal(t, []byte("Hello World!\r\n"), obj.Bytes[8:22])
	assert.Equal(t, uint32(0x8018), obj.Symbols["myLabel"])
}

func TestAssembleBranchConditions(t *testing.T) {
	// BLT is branch-if-less-than; BLLT is branch-and-link with LT.
	obj := assemble(t, ".top\nBLT top\nBLLT top\n", Options{LoadAddress: 0x8000})
	ws := words(t, obj)
	require.Len(t, ws, 2)
	assert.Equal(t, uint32(0xBAFFFFFE), ws[0], "B{LT} back to .top")
	assert.Equal(t, uint32(0xBBFFFFFD), ws[1], "BL{LT} back to .top")
}

func TestAssembleLoadStore(t *testing.T) {
	obj := assemble(t, "LDR R1, [R0, #4]\nSTRB R2, [R3], #1\nLDR R5, [R6, -R7, LSL #2]!\n", Options{})
	ws := words(t, obj)
	assert.Equal(t, uint32(0xE5901004), ws[0])
	assert.Equal(t, uint32(0xE4C32001), ws[1])
	assert.Equal(t, uint32(0xE7365107), ws[2])
}

func TestAssembleMSRAndMRS(t *testing.T) {
	obj := assemble(t, "MRS R0, CPSR\nMSR CPSR_f, R1\nMSR SPSR, R2\n", Options{InstructionSet: ARMv3})
	ws := words(t, obj)
	assert.Equal(t, uint32(0xE10F0000), ws[0])
	assert.Equal(t, uint32(0xE128F001), ws[1])
	assert.Equal(t, uint32(0xE169F002), ws[2])
}

func TestAssembleInstructionSetGating(t *testing.T) {
	_, msgs := Assemble("test.s", "UMULL R0, R1, R2, R3\n", Options{InstructionSet: ARMv2})
	require.True(t, msgs.HasErrors())
	assert.Contains(t, msgs.All()[0].Text, "ARMv3")

	// The %ARMv3 directive lifts the restriction from that point on.
	obj := assemble(t, "%ARMv3\nUMULL R0, R1, R2, R3\n", Options{InstructionSet: ARMv2})
	assert.Equal(t, []uint32{0xE0810392}, words(t, obj))
}

func TestAssembleCollectsDiagnosticsAndContinues(t *testing.T) {
	_, msgs := Assemble("test.s", "MOV R0, #1\nNOPE R1\nMOV R2, #2\n", Options{})
	assert.True(t, msgs.HasErrors())
	// The bad statement is reported once; the run still sees the rest.
	assert.Len(t, msgs.All(), 1)
}

func TestAssembleUndefinedSymbolIsLocatedError(t *testing.T) {
	_, msgs := Assemble("test.s", "B nowhere\n", Options{})
	require.True(t, msgs.HasErrors())
	assert.Contains(t, msgs.All()[0].Text, "nowhere")
}

// Round-trip property (spec.md 8): everything the assembler emits
// disassembles, with matching options, to text the assembler re-assembles
// to the same words.
func TestRoundTripAssembleDisassembleAssemble(t *testing.T) {
	source := "MOV R0, #1\n" +
		"ADDS R2, R0, R1\n" +
		"SUB R3, R2, R0, LSL #2\n" +
		"CMP R0, #255\n" +
		"MVNNE R4, R0\n" +
		"LDR R1, [R0, #4]\n" +
		"LDR R4, [R0, #-4]\n" +
		"STR R1, [R0], #8\n" +
		"STMEQDB R13!, {R0-R4}\n" +
		"LDMIA R13!, {R0,R2,R4-R6}\n" +
		"MUL R3, R1, R2\n" +
		"SWP R1, R2, [R3]\n" +
		"MRS R0, CPSR\n" +
		"MSR CPSR_f, R1\n" +
		"BX R14\n" +
		"SWI &11\n"
	loadAddr := uint32(0x8000)
	opts4 := Options{LoadAddress: loadAddr, InstructionSet: ARMv4}
	obj := assemble(t, source, opts4)
	ws := words(t, obj)

	opts := disasm.Options{Hex: true, AddressWidth: cpu.Addr26Bit}
	addr := loadAddr
	var rendered string
	for i := 0; i < len(ws); {
		desc, err := disasm.Disassemble(ws[i:], addr, opts)
		require.NoError(t, err, "word %#08x at %#x must disassemble", ws[i], addr)
		rendered += disasm.Format(desc, opts) + "\n"
		i += desc.WordCount
		addr += uint32(desc.WordCount) * 4
	}

	obj2 := assemble(t, rendered, opts4)
	if diff := cmp.Diff(obj.Bytes, obj2.Bytes); diff != "" {
		t.Fatalf("round trip changed the emitted bytes (-first +second):\n%s\nintermediate text:\n%s", diff, rendered)
	}
}
