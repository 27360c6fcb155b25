package memory

import "fmt"

// InterruptLine lets an MMIO device request attention from the system
// host without depending on the host package (which in turn depends on
// memory), per spec.md 4.C: "may request IRQ by calling the system host's
// raise/lower interrupt".
type InterruptLine interface {
	RaiseIRQ()
	LowerIRQ()
}

// MMIODevice is a small state machine backing a memory-mapped peripheral.
// Real MEMC/VIDC-style devices implement this directly; RegisterFile below
// is a minimal generic one used for tests and simple host composition.
type MMIODevice interface {
	Device
}

// RegisterFile is a generic MMIO device: a flat array of named 32-bit
// registers with optional read/write hooks, enough to model a timer,
// interrupt controller, or VIDC/MEMC-style control block without a bespoke
// type for each one. OnRead, if set, runs before the register's value is
// returned (so it may update it); OnWrite, if set, runs after the plain
// register store. Both may use irq to assert/deassert.
type RegisterFile struct {
	regs    []uint32
	irq     InterruptLine
	OnRead  func(index uint32, width Width, irq InterruptLine)
	OnWrite func(index uint32, width Width, value uint32, irq InterruptLine)
}

// NewRegisterFile creates an MMIO block of count 32-bit registers.
func NewRegisterFile(count uint32, irq InterruptLine) *RegisterFile {
	return &RegisterFile{regs: make([]uint32, count), irq: irq}
}

func (r *RegisterFile) Size() uint32 { return uint32(len(r.regs)) * 4 }

func (r *RegisterFile) Read(offset uint32, width Width) (uint32, error) {
	if err := checkAlign(offset, width); err != nil {
		return 0, err
	}
	idx := offset / 4
	if idx >= uint32(len(r.regs)) {
		return 0, fmt.Errorf("memory: read past end of register block at 0x%x", offset)
	}
	if r.OnRead != nil {
		r.OnRead(idx, width, r.irq)
	}
	shift := (offset % 4) * 8
	return (r.regs[idx] >> shift) & widthMask(width), nil
}

func (r *RegisterFile) Write(offset uint32, width Width, value uint32) error {
	if err := checkAlign(offset, width); err != nil {
		return err
	}
	idx := offset / 4
	if idx >= uint32(len(r.regs)) {
		return fmt.Errorf("memory: write past end of register block at 0x%x", offset)
	}
	if width == Word {
		r.regs[idx] = value
	} else {
		shift := (offset % 4) * 8
		mask := widthMask(width) << shift
		r.regs[idx] = (r.regs[idx] &^ mask) | ((value << shift) & mask)
	}
	if r.OnWrite != nil {
		r.OnWrite(idx, width, value, r.irq)
	}
	return nil
}

// IsVolatile reports every register as volatile by default: MMIO is the
// textbook case of a read with side effects. Callers that know a given
// block is idempotent can wrap RegisterFile and override this.
func (r *RegisterFile) IsVolatile(offset uint32, width Width) bool { return true }

func widthMask(w Width) uint32 {
	switch w {
	case Byte:
		return 0xFF
	case Half:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}
