// Package host assembles the CPU core, the address space, and the
// coprocessor bus into one runnable system: reset, single-step, and
// run-until-event loops, plus the debug-facing accessors spec.md 4.H
// describes. It is the one package that knows about exception vectors and
// priority; pkg/cpu itself only executes what it's handed.
package host

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bassosimone/armcore/pkg/cpu"
	"github.com/bassosimone/armcore/pkg/memory"
)

// Exception vector addresses, fixed by the architecture regardless of
// address-map contents.
const (
	VectorReset         uint32 = 0x00
	VectorUndefined     uint32 = 0x04
	VectorSoftwareIrq   uint32 = 0x08
	VectorPrefetchAbort uint32 = 0x0C
	VectorDataAbort     uint32 = 0x10
	VectorIRQ           uint32 = 0x18
	VectorFIQ           uint32 = 0x1C
)

// EventKind classifies an entry on the Host's event stream.
type EventKind int

const (
	EventInstructionRetired EventKind = iota
	EventExceptionTaken
	EventBreakpointHit
)

// Event is one item on the Host's event stream, per spec.md 4.H's
// "subscribable" requirement -- modelled as a channel, in the teacher's
// AssemblerAsync streaming style, rather than a callback list.
type Event struct {
	Kind   EventKind
	PC     uint32
	Vector uint32 // valid when Kind == EventExceptionTaken
	Err    error
}

// Options configures optional host behavior installed at construction time
// (spec.md 4.H's "InstallOption").
type Options struct {
	// EventBuffer sizes the Events() channel; 0 means events are dropped
	// if nobody is listening (non-blocking send).
	EventBuffer int

	// ClockHz is the simulated processor frequency used to derive the
	// elapsed-time counter from cycle counts. 0 selects the 8MHz of the
	// ARM2 machines this models.
	ClockHz uint64
}

const defaultClockHz = 8_000_000

// Host composes a register file, coprocessor bus, and the read/write
// memory bus into a runnable ARM system.
type Host struct {
	Core    *cpu.Core
	Mem     *memory.Bus
	Metrics cpu.ExecutionMetrics

	logger  *zap.Logger
	events  chan Event
	clockHz uint64

	irqPending bool
	fiqPending bool

	breakpoints map[uint32]BreakpointPredicate
}

// New builds a Host around an already-populated memory bus.
func New(mem *memory.Bus, width cpu.AddressWidth, logger *zap.Logger, opts Options) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ClockHz == 0 {
		opts.ClockHz = defaultClockHz
	}
	regs := cpu.NewRegisters(width)
	core := cpu.NewCore(regs, mem, cpu.NewCoprocessorBus())
	return &Host{
		Core:    core,
		Mem:     mem,
		logger:  logger,
		events:  make(chan Event, opts.EventBuffer),
		clockHz: opts.ClockHz,
	}
}

func (h *Host) cyclesToNs(cycles uint64) int64 {
	return int64(cycles * 1_000_000_000 / h.clockHz)
}

// Events returns the host's event stream. Reading it is optional; events
// are dropped (not blocked on) whenever the buffer is full, which with
// EventBuffer==0 means whenever no receiver is waiting.
func (h *Host) Events() <-chan Event { return h.events }

func (h *Host) emit(e Event) {
	select {
	case h.events <- e:
	default:
	}
}

// Reset enters Supervisor mode at the reset vector with interrupts
// disabled, per spec.md 4.D/4.H.
func (h *Host) Reset() {
	p := cpu.PSR{Mode: cpu.ModeSVC, I: true, F: true}
	h.Core.Regs.SetCPSR(p)
	h.Core.Regs.SetPC(VectorReset)
	h.Metrics = cpu.ExecutionMetrics{}
	h.logger.Info("reset", zap.Uint32("vector", VectorReset))
}

// RaiseIRQ/LowerIRQ/RaiseFIQ/LowerFIQ implement memory.InterruptLine so an
// MMIO device can request attention without importing this package.
func (h *Host) RaiseIRQ() { h.irqPending = true }
func (h *Host) LowerIRQ() { h.irqPending = false }
func (h *Host) RaiseFIQ() { h.fiqPending = true }
func (h *Host) LowerFIQ() { h.fiqPending = false }

// enterException performs the common exception-entry prologue: bank into
// mode, save the return address and CPSR, mask interrupts, and jump to
// vector.
func (h *Host) enterException(mode cpu.Mode, vector uint32, returnAddr uint32, maskFIQ bool) {
	if h.Core.Regs.AddressWidth() == cpu.Addr26Bit && (mode == cpu.ModeAbort || mode == cpu.ModeUndefined) {
		// 26-bit R15 has no encoding for Abort/Undefined; ARMv2 takes both in SVC.
		mode = cpu.ModeSVC
	}
	p := h.Core.Regs.CPSR()
	h.Core.Regs.EnterMode(mode, returnAddr)
	p.Mode = mode
	p.I = true
	if maskFIQ {
		p.F = true
	}
	h.Core.Regs.SetCPSR(p)
	h.Core.Regs.SetPC(vector)
	h.emit(Event{Kind: EventExceptionTaken, PC: returnAddr, Vector: vector})
}

// checkPendingInterrupts applies the exception-priority order of spec.md
// 4.D (Reset > Data Abort > FIQ > IRQ > Prefetch Abort > Undefined/SWI) for
// the two host-raised, asynchronous sources; the synchronous ones are
// handled inline in Step from the error Execute returns.
func (h *Host) checkPendingInterrupts() bool {
	cpsr := h.Core.Regs.CPSR()
	pc := h.Core.Regs.PC()
	if h.fiqPending && !cpsr.F {
		h.enterException(cpu.ModeFIQ, VectorFIQ, pc+4, true)
		return true
	}
	if h.irqPending && !cpsr.I {
		h.enterException(cpu.ModeIRQ, VectorIRQ, pc+4, false)
		return true
	}
	return false
}

// Step executes exactly one instruction (or one taken exception), advancing
// the raw program counter by 4 unless the instruction itself retargeted it.
func (h *Host) Step() (cpu.CycleCounts, error) {
	if h.checkPendingInterrupts() {
		return cpu.CycleCounts{S: 1, N: 1}, nil
	}
	fetchAddr := h.Core.Regs.PC()
	word, err := h.Mem.Read(fetchAddr, memory.Word)
	if err != nil {
		h.enterException(cpu.ModeAbort, VectorPrefetchAbort, fetchAddr+4, false)
		return cpu.CycleCounts{N: 1}, nil
	}
	instr, err := cpu.Decode(word)
	if err != nil {
		h.enterException(cpu.ModeUndefined, VectorUndefined, fetchAddr+4, false)
		return cpu.CycleCounts{N: 1}, nil
	}
	cost, execErr := h.Core.Execute(instr)
	branched := h.Core.TookBranch()
	switch {
	case execErr == nil:
		if !branched {
			h.Core.Regs.SetPC(fetchAddr + 4)
		}
		h.emit(Event{Kind: EventInstructionRetired, PC: fetchAddr})
	case errors.Is(execErr, cpu.ErrSoftwareInterrupt):
		h.enterException(cpu.ModeSVC, VectorSoftwareIrq, fetchAddr+4, false)
	case errors.Is(execErr, cpu.ErrUndefinedInstruction):
		h.enterException(cpu.ModeUndefined, VectorUndefined, fetchAddr+4, false)
	case errors.Is(execErr, cpu.ErrBreakpointHit):
		h.emit(Event{Kind: EventBreakpointHit, PC: fetchAddr})
		if !branched {
			h.Core.Regs.SetPC(fetchAddr + 4)
		}
	case errors.Is(execErr, memory.ErrBusError), errors.Is(execErr, memory.ErrReadOnly):
		h.enterException(cpu.ModeAbort, VectorDataAbort, fetchAddr+8, false)
	case errors.Is(execErr, cpu.ErrRuntimeAbort):
		h.enterException(cpu.ModeUndefined, VectorUndefined, fetchAddr+4, false)
	default:
		return cost, execErr
	}
	h.Metrics.Add(cost, h.cyclesToNs(cost.Total()))
	return cost, nil
}

// StopCondition reports whether RunUntil should stop after the instruction
// just retired.
type StopCondition func(h *Host) bool

// StopAtPC stops once the raw program counter reaches addr.
func StopAtPC(addr uint32) StopCondition {
	return func(h *Host) bool { return h.Core.Regs.PC() == addr }
}

// StopAfterCycles stops once total cycle count reaches at least n.
func StopAfterCycles(n uint64) StopCondition {
	return func(h *Host) bool { return h.Metrics.Cycles.Total() >= n }
}

// RunUntil steps the host until cond reports true or ctx is cancelled,
// checked cooperatively between instructions (spec.md 5's concurrency
// model: the run loop owns no locks a caller need fear, and responds to
// cancellation within one instruction).
func (h *Host) RunUntil(ctx context.Context, cond StopCondition) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if h.atBreakpoint() {
			h.emit(Event{Kind: EventBreakpointHit, PC: h.Core.Regs.PC()})
			return nil
		}
		if _, err := h.Step(); err != nil {
			return fmt.Errorf("host: run aborted: %w", err)
		}
		if cond(h) {
			return nil
		}
	}
}

// SnapshotRegisters returns the register file as currently visible.
func (h *Host) SnapshotRegisters() cpu.Snapshot { return h.Core.Regs.SnapshotRegisters() }

// ReadWord/ReadByte/WriteWord/WriteByte are debugger-facing accessors that
// go straight through the address map, bypassing instruction fetch.
func (h *Host) ReadWord(addr uint32) (uint32, error) { return h.Mem.Read(addr, memory.Word) }
func (h *Host) ReadByte(addr uint32) (uint32, error) { return h.Mem.Read(addr, memory.Byte) }
func (h *Host) WriteWord(addr, value uint32) error   { return h.Mem.Write(addr, memory.Word, value) }
func (h *Host) WriteByte(addr, value uint32) error   { return h.Mem.Write(addr, memory.Byte, value) }
