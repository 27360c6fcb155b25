package cpu

import (
	"fmt"

	"github.com/bassosimone/armcore/pkg/memory"
)

// CoprocessorOutcome is the result a coprocessor handler hands back to the
// dispatcher, per spec.md 4.G: a coprocessor may execute an operation
// immediately, ask the core to stall and retry (Busy, e.g. waiting on a
// pending FPA result), or refuse it outright (Refused, routed to the
// Undefined Instruction exception exactly like an unrecognised opcode).
type CoprocessorOutcome int

const (
	CoprocExecuted CoprocessorOutcome = iota
	CoprocBusy
	CoprocRefused
)

// CoprocessorHandler is implemented by anything registered on a
// CoprocessorBus slot.
type CoprocessorHandler interface {
	DataProcessing(op CoProcDataProcessingOp) (CoprocessorOutcome, CycleCounts)
	RegisterTransfer(op CoProcRegisterTransferOp, rdValue uint32) (outcome CoprocessorOutcome, result uint32, cost CycleCounts)
	DataTransfer(op CoProcDataTransferOp, addr uint32, mem *memory.Bus) (CoprocessorOutcome, CycleCounts, error)
}

// CoprocessorBus holds the 16 coprocessor slots (CpNum 0-15) addressable by
// CDP/MCR/MRC/LDC/STC, per spec.md 4.G.
type CoprocessorBus struct {
	slots [16]CoprocessorHandler
}

// NewCoprocessorBus returns a bus with every slot empty.
func NewCoprocessorBus() *CoprocessorBus { return &CoprocessorBus{} }

// ErrNoSuchCoprocessor is returned (and, by the executor, translated into
// Undefined Instruction) when CpNum addresses a slot with no registered
// handler.
var ErrNoSuchCoprocessor = fmt.Errorf("cpu: %w: no coprocessor registered", ErrUndefinedInstruction)

// Register installs handler at cpNum (0-15), replacing whatever was there.
func (b *CoprocessorBus) Register(cpNum uint32, handler CoprocessorHandler) {
	b.slots[cpNum&0xF] = handler
}

func (b *CoprocessorBus) handler(cpNum uint32) (CoprocessorHandler, error) {
	h := b.slots[cpNum&0xF]
	if h == nil {
		return nil, ErrNoSuchCoprocessor
	}
	return h, nil
}
