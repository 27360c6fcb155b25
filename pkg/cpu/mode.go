// Package cpu implements the ARM2/ARM3-class execution core: the banked
// register file, the barrel shifter, instruction decode/execute, and the
// coprocessor bus, per spec.md 4.D-4.G.
package cpu

import "fmt"

// Mode is the processor mode, encoded exactly as the real CPSR mode field
// (bits [4:0]) so CPSR packing/unpacking needs no translation table.
type Mode uint32

const (
	ModeUser      Mode = 0b10000
	ModeFIQ       Mode = 0b10001
	ModeIRQ       Mode = 0b10010
	ModeSVC       Mode = 0b10011
	ModeAbort     Mode = 0b10111
	ModeUndefined Mode = 0b11011
	ModeSystem    Mode = 0b11111
)

// String renders the conventional three/four-letter mode mnemonic.
func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "USR"
	case ModeFIQ:
		return "FIQ"
	case ModeIRQ:
		return "IRQ"
	case ModeSVC:
		return "SVC"
	case ModeAbort:
		return "ABT"
	case ModeUndefined:
		return "UND"
	case ModeSystem:
		return "SYS"
	default:
		return fmt.Sprintf("MODE(%05b)", uint32(m))
	}
}

// mode2 returns the legacy 2-bit mode field used when packing/unpacking R15
// in 26-bit-address ARMv2/ARMv3 mode: only the four original user-visible
// modes exist there.
func (m Mode) mode2() (uint32, error) {
	switch m {
	case ModeUser:
		return 0b00, nil
	case ModeFIQ:
		return 0b01, nil
	case ModeIRQ:
		return 0b10, nil
	case ModeSVC:
		return 0b11, nil
	default:
		return 0, fmt.Errorf("cpu: mode %s has no 26-bit encoding", m)
	}
}

func mode2ToMode(v uint32) Mode {
	switch v & 0b11 {
	case 0b00:
		return ModeUser
	case 0b01:
		return ModeFIQ
	case 0b10:
		return ModeIRQ
	default:
		return ModeSVC
	}
}

// HasSPSR reports whether mode owns a private SPSR bank (every mode except
// User and System).
func (m Mode) HasSPSR() bool {
	return m != ModeUser && m != ModeSystem
}

// BanksFIQRegisters reports whether mode has its own private R8-R12.
func (m Mode) BanksFIQRegisters() bool {
	return m == ModeFIQ
}
