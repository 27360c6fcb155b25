package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/armcore/pkg/cpu"
	"github.com/bassosimone/armcore/pkg/memory"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	bus := memory.NewBus()
	ok, err := bus.MapBoth(0, 0x1000, memory.NewRAM(0x1000))
	require.NoError(t, err)
	require.True(t, ok)
	h := New(bus, cpu.Addr32Bit, nil, Options{EventBuffer: 8})
	h.Reset()
	return h
}

func encodeMOVImm(rd, imm uint32) uint32 {
	// MOV Rd, #imm  (cond=AL, I=1, opcode=MOV=13, S=0)
	return 0xE3A00000 | (rd << 12) | imm
}

func TestStepAdvancesPCByFour(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, encodeMOVImm(0, 5)))
	_, err := h.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), h.Core.Regs.Read(15))
	assert.Equal(t, uint32(5), h.Core.Regs.Read(0))
}

func TestRunUntilPCStopsAtTarget(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, encodeMOVImm(0, 1)))
	require.NoError(t, h.WriteWord(4, encodeMOVImm(1, 2)))
	require.NoError(t, h.WriteWord(8, encodeMOVImm(2, 3)))
	err := h.RunUntil(context.Background(), StopAtPC(8))
	require.NoError(t, err)
	assert.Equal(t, uint32(8), h.Core.Regs.Read(15))
	assert.Equal(t, uint32(1), h.Core.Regs.Read(0))
	assert.Equal(t, uint32(2), h.Core.Regs.Read(1))
}

func TestUndefinedInstructionEntersUndefinedMode(t *testing.T) {
	h := newTestHost(t)
	// A halfword-transfer encoding with the reserved sh=00 field: decodes
	// to nothing, per cpu.Decode's ErrUndefinedInstruction path.
	reserved := uint32(0b1110_000_1_1_1_0_1_0000_0000_0000_1_00_1_0000)
	require.NoError(t, h.WriteWord(0, reserved))
	_, err := h.Step()
	require.NoError(t, err)
	assert.Equal(t, cpu.ModeUndefined, h.Core.Regs.Mode())
	assert.Equal(t, VectorUndefined, h.Core.Regs.Read(15))
}

func TestSoftwareInterruptEntersSVCAtVector8(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, 0xEF000001))
	_, err := h.Step()
	require.NoError(t, err)
	assert.Equal(t, cpu.ModeSVC, h.Core.Regs.Mode())
	assert.Equal(t, VectorSoftwareIrq, h.Core.Regs.Read(15))
}

func TestBreakpointStopsRunUntilBeforeExecuting(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, encodeMOVImm(0, 1)))
	require.NoError(t, h.WriteWord(4, encodeMOVImm(1, 2)))
	require.NoError(t, h.WriteWord(8, encodeMOVImm(2, 3)))
	h.SetBreakpoint(4, nil)
	err := h.RunUntil(context.Background(), StopAtPC(8))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), h.Core.Regs.Read(15))
	assert.Equal(t, uint32(1), h.Core.Regs.Read(0))
	assert.Equal(t, uint32(0), h.Core.Regs.Read(1), "breakpoint fires before the instruction at its address executes")

	ev := <-h.Events()
	assert.Equal(t, EventInstructionRetired, ev.Kind, "the MOV at 0 retires before the breakpoint fires")
	ev = <-h.Events()
	assert.Equal(t, EventBreakpointHit, ev.Kind)
	assert.Equal(t, uint32(4), ev.PC)
}

func TestConditionalBreakpointOnlyFiresWhenPredicateHolds(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, encodeMOVImm(0, 1)))
	require.NoError(t, h.WriteWord(4, encodeMOVImm(1, 2)))
	require.NoError(t, h.WriteWord(8, encodeMOVImm(2, 3)))
	h.SetBreakpoint(4, func(h *Host) bool { return h.Core.Regs.Read(0) == 99 })
	err := h.RunUntil(context.Background(), StopAtPC(8))
	require.NoError(t, err)
	assert.Equal(t, uint32(8), h.Core.Regs.Read(15), "unsatisfied predicate does not halt the run")

	h.Core.Regs.SetPC(0)
	h.ClearBreakpoint(4)
	h.SetBreakpoint(8, nil)
	assert.Len(t, h.Breakpoints(), 1)
	h.ClearAllBreakpoints()
	assert.Empty(t, h.Breakpoints())
}

// The spec.md 8 "run-loop basic" scenario: a tiny ROM computes 1+2 and
// fires SWI &11; the host must land in Supervisor mode at the SWI vector
// with the return address in R14_svc.
func TestRunLoopBasicScenario(t *testing.T) {
	bus := memory.NewBus()
	ok, err := bus.MapBoth(0, 0x400, memory.NewRAM(0x400))
	require.NoError(t, err)
	require.True(t, ok)

	program := []uint32{
		0xE3A00001, // MOV R0, #1
		0xE3A01002, // MOV R1, #2
		0xE0802001, // ADD R2, R0, R1
		0xEF000011, // SWI &11
	}
	image := make([]byte, 4*len(program))
	for i, w := range program {
		image[i*4+0] = byte(w)
		image[i*4+1] = byte(w >> 8)
		image[i*4+2] = byte(w >> 16)
		image[i*4+3] = byte(w >> 24)
	}
	rom := memory.NewROM(image, true)
	ok, err = bus.MapReadOnly(0x3400000, rom.Size(), rom)
	require.NoError(t, err)
	require.True(t, ok)

	h := New(bus, cpu.Addr32Bit, nil, Options{})
	h.Reset()
	h.Core.Regs.SetPC(0x3400000)

	err = h.RunUntil(context.Background(), StopAtPC(VectorSoftwareIrq))
	require.NoError(t, err)

	assert.Equal(t, uint32(1), h.Core.Regs.Read(0))
	assert.Equal(t, uint32(2), h.Core.Regs.Read(1))
	assert.Equal(t, uint32(3), h.Core.Regs.Read(2))
	assert.Equal(t, cpu.ModeSVC, h.Core.Regs.Mode())
	assert.Equal(t, uint32(0x340000C+4), h.Core.Regs.Read(14), "R14_svc holds the SWI's address + 4")
}

// LDM with `^` and R15 in the list is the ARM exception return: the PC
// load also restores CPSR from the handler mode's SPSR, taking the
// processor back to the interrupted mode with its flags intact.
func TestLDMUserBankPCRestoresCPSR(t *testing.T) {
	h := newTestHost(t)
	pre := cpu.PSR{Mode: cpu.ModeUser, N: true, C: true}
	h.Core.Regs.SetCPSR(pre)
	h.Core.Regs.SetPC(0x100)
	h.Core.Regs.Write(0, 7)

	require.NoError(t, h.WriteWord(0x100, 0xEF000000)) // SWI 0
	require.NoError(t, h.WriteWord(8, 0xE92D4000))     // STMDB R13!, {R14}
	require.NoError(t, h.WriteWord(12, 0xE8FD8000))    // LDMIA R13!, {PC}^

	_, err := h.Step() // SWI: enter Supervisor at vector 8
	require.NoError(t, err)
	require.Equal(t, cpu.ModeSVC, h.Core.Regs.Mode())
	h.Core.Regs.Write(13, 0x800) // handler stack

	_, err = h.Step() // push the return address
	require.NoError(t, err)
	_, err = h.Step() // exception return
	require.NoError(t, err)

	assert.Equal(t, cpu.ModeUser, h.Core.Regs.Mode())
	assert.Equal(t, pre, h.Core.Regs.CPSR(), "CPSR comes back from SPSR_svc bit-exactly")
	assert.Equal(t, uint32(0x104), h.Core.Regs.PC(), "execution resumes after the SWI")
	assert.Equal(t, uint32(7), h.Core.Regs.Read(0), "unbanked registers survive the round trip")
}

// Scenario 7: a failed condition still retires (instruction count +1) but
// costs only a single sequential cycle.
func TestConditionFailIsCycleCheap(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, 0xE1500000)) // CMP R0, R0
	require.NoError(t, h.WriteWord(4, 0x12811001)) // ADDNE R1, R1, #1
	err := h.RunUntil(context.Background(), StopAtPC(8))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h.Core.Regs.Read(1), "ADDNE after CMP R0,R0 must not execute")
	assert.Equal(t, uint64(2), h.Metrics.InstructionCount)
	assert.Equal(t, cpu.CycleCounts{S: 2}, h.Metrics.Cycles, "S+S: one cycle each for the compare and the failed condition")
}

// A branch-to-self must not fall through to the next word.
func TestBranchToSelfSpins(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, 0xEAFFFFFE)) // B . (offset -8)
	for i := 0; i < 3; i++ {
		_, err := h.Step()
		require.NoError(t, err)
		assert.Equal(t, uint32(0), h.Core.Regs.PC())
	}
}

// Cycle accounting is additive: running a then b accumulates exactly
// metrics(a) + metrics(b), per spec.md 8.
func TestCycleAccountingAdditivity(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, encodeMOVImm(0, 1)))
	require.NoError(t, h.WriteWord(4, encodeMOVImm(1, 2)))
	a, err := h.Step()
	require.NoError(t, err)
	b, err := h.Step()
	require.NoError(t, err)
	assert.Equal(t, a.Add(b), h.Metrics.Cycles)
	assert.Equal(t, uint64(2), h.Metrics.InstructionCount)
	assert.Equal(t, h.cyclesToNs(a.Total())+h.cyclesToNs(b.Total()), h.Metrics.ElapsedTimeNs)
}

func TestEventStreamReportsRetiredInstruction(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.WriteWord(0, encodeMOVImm(0, 9)))
	_, err := h.Step()
	require.NoError(t, err)
	ev := <-h.Events()
	assert.Equal(t, EventInstructionRetired, ev.Kind)
	assert.Equal(t, uint32(0), ev.PC)
}
