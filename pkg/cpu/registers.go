package cpu

import "fmt"

// AddressWidth selects whether R15 carries a packed PSR (26-bit address
// space, ARMv2/ARMv3) or a plain 32-bit address with the PSR held
// separately in CPSR (ARMv3-with-32-bit-mode and ARMv4+), per spec.md 3.
type AddressWidth int

const (
	Addr26Bit AddressWidth = iota
	Addr32Bit
)

// loKey groups modes that share an R13/R14 bank: User and System share one,
// every other mode owns its own.
type loKey Mode

func bankKeyLo(m Mode) loKey {
	if m == ModeUser || m == ModeSystem {
		return loKey(ModeUser)
	}
	return loKey(m)
}

// Registers is the banked ARM register file. The live array r holds
// exactly the sixteen registers visible to the *current* mode; on a mode
// transition (EnterMode/ReturnFromException/an MSR that changes the mode
// field) the previously-live R13/R14 (and R8-R12 for FIQ) are swapped out
// to their bank and the new mode's bank is swapped in -- mirroring how the
// physical register file actually behaves, rather than indirecting every
// access through a mode lookup.
type Registers struct {
	r [16]uint32

	fiqBank [5]uint32           // R8-R12 belonging to whichever of {FIQ, everyone else} is not live
	loBank  map[loKey][2]uint32 // R13,R14 for every bank group not currently live
	spsr    map[Mode]PSR

	cpsr  PSR
	width AddressWidth
}

// NewRegisters returns a register file reset to Supervisor mode (the
// architectural reset mode) with all registers zero.
func NewRegisters(width AddressWidth) *Registers {
	r := &Registers{
		loBank: map[loKey][2]uint32{
			loKey(ModeUser):      {},
			loKey(ModeFIQ):       {},
			loKey(ModeIRQ):       {},
			loKey(ModeSVC):       {},
			loKey(ModeAbort):     {},
			loKey(ModeUndefined): {},
		},
		spsr: map[Mode]PSR{
			ModeFIQ:       {Mode: ModeFIQ},
			ModeIRQ:       {Mode: ModeIRQ},
			ModeSVC:       {Mode: ModeSVC},
			ModeAbort:     {Mode: ModeAbort},
			ModeUndefined: {Mode: ModeUndefined},
		},
		cpsr:  PSR{Mode: ModeSVC},
		width: width,
	}
	return r
}

// CPSR returns the current Program Status Register.
func (r *Registers) CPSR() PSR { return r.cpsr }

// SetCPSR overwrites CPSR, bank-switching registers if the mode field
// changed. Used by reset and by any MSR that writes the control byte.
func (r *Registers) SetCPSR(p PSR) {
	if p.Mode != r.cpsr.Mode {
		r.switchMode(p.Mode)
	}
	r.cpsr = p
}

// Mode returns the current processor mode.
func (r *Registers) Mode() Mode { return r.cpsr.Mode }

// AddressWidth reports whether R15 carries a packed PSR.
func (r *Registers) AddressWidth() AddressWidth { return r.width }

// SetAddressWidth implements the %26Bit/%32Bit architecture switch: it only
// changes how R15 is packed/unpacked on read/write, never the bank
// contents.
func (r *Registers) SetAddressWidth(w AddressWidth) { r.width = w }

// switchMode swaps the live R8-R14 out to the old mode's bank and the new
// mode's bank in. It does not touch r.cpsr; callers update that field.
func (r *Registers) switchMode(newMode Mode) {
	old := r.cpsr.Mode
	if old == newMode {
		return
	}
	// R13/R14.
	oldKey, newKey := bankKeyLo(old), bankKeyLo(newMode)
	if oldKey != newKey {
		saved := r.loBank[oldKey]
		saved[0], saved[1] = r.r[13], r.r[14]
		r.loBank[oldKey] = saved
		next := r.loBank[newKey]
		r.r[13], r.r[14] = next[0], next[1]
	}
	// R8-R12, FIQ only.
	if old.BanksFIQRegisters() != newMode.BanksFIQRegisters() {
		var saved [5]uint32
		copy(saved[:], r.r[8:13])
		copy(r.r[8:13], r.fiqBank[:])
		r.fiqBank = saved
	}
}

// Read returns register i (0-15) as seen by the CURRENT mode. Reading R15
// returns the packed 26-bit value (address+PSR) in Addr26Bit width, or the
// plain address in Addr32Bit width; use ReadPC for the architectural
// current-instruction+8 view during execution. Cross-mode reads (e.g. a
// debugger inspecting FIQ's R8 while running in User mode) go through
// ReadBanked.
func (r *Registers) Read(i uint32) uint32 {
	if i == 15 {
		return r.readR15()
	}
	return r.r[i]
}

// Write stores value into register i (0-15) as seen by the current mode.
func (r *Registers) Write(i uint32, value uint32) {
	if i == 15 {
		r.writeR15(value)
		return
	}
	r.r[i] = value
}

// ReadBanked reads register i as it would appear in mode, without making
// mode current; used by LDM/STM's `^` user-bank flag and by debugger
// register views.
func (r *Registers) ReadBanked(i uint32, mode Mode) uint32 {
	if mode == r.cpsr.Mode {
		return r.Read(i)
	}
	switch {
	case i >= 8 && i <= 12:
		if mode.BanksFIQRegisters() == r.cpsr.Mode.BanksFIQRegisters() {
			return r.r[i]
		}
		return r.fiqBank[i-8]
	case i == 13 || i == 14:
		if bankKeyLo(mode) == bankKeyLo(r.cpsr.Mode) {
			return r.r[i]
		}
		b := r.loBank[bankKeyLo(mode)]
		return b[i-13]
	default:
		return r.r[i]
	}
}

// WriteBanked is the write counterpart of ReadBanked.
func (r *Registers) WriteBanked(i uint32, mode Mode, value uint32) {
	if mode == r.cpsr.Mode {
		r.Write(i, value)
		return
	}
	switch {
	case i >= 8 && i <= 12 && mode.BanksFIQRegisters() != r.cpsr.Mode.BanksFIQRegisters():
		r.fiqBank[i-8] = value
	case (i == 13 || i == 14) && bankKeyLo(mode) != bankKeyLo(r.cpsr.Mode):
		b := r.loBank[bankKeyLo(mode)]
		b[i-13] = value
		r.loBank[bankKeyLo(mode)] = b
	default:
		r.r[i] = value
	}
}

func (r *Registers) readR15() uint32 {
	if r.width == Addr32Bit {
		return r.r[15]
	}
	return r.PackPSR26()
}

func (r *Registers) writeR15(value uint32) {
	if r.width == Addr32Bit {
		r.r[15] = value
		return
	}
	r.UnpackPSR26(value)
}

// PC returns the raw program counter -- the address of the current
// instruction with no prefetch offset and, in 26-bit width, none of the
// PSR bits packed alongside it in R15. The host's fetch loop and the
// debugger use this; Read(15) returns the packed architectural view.
func (r *Registers) PC() uint32 {
	if r.width == Addr32Bit {
		return r.r[15]
	}
	return r.r[15] & 0x03FFFFFC
}

// ReadPC returns the architectural PC: the address of the current
// instruction plus 8, reflecting the ARM two-stage prefetch, per spec.md
// 4.D. The executor is responsible for having already set r15 to the
// current instruction's own address before calling this (see Execute).
func (r *Registers) ReadPC() uint32 {
	if r.width == Addr32Bit {
		return r.r[15] + 8
	}
	return (r.PackPSR26() & 0x03FFFFFC) + 8
}

// SetPC sets the raw program counter to addr (no +8 offset applied), used
// by the executor after computing a branch/sequential-fetch target. This
// never touches the PSR bits packed alongside R15 in 26-bit mode, matching
// the address-only write spec.md 4.D requires for e.g. ADR.
func (r *Registers) SetPC(addr uint32) {
	if r.width == Addr32Bit {
		r.r[15] = addr
		return
	}
	r.r[15] = addr & 0x03FFFFFC
}

// PackPSR26 folds flags+mode into the R15 layout used by 26-bit-address
// ARMv2/ARMv3 CPUs: N,Z,C,V in bits [31:28], F/I masks in bits [27:26], the
// 24-bit word address in bits [25:2], and the 2-bit mode in bits [1:0].
func (r *Registers) PackPSR26() uint32 {
	var v uint32
	p := r.cpsr
	if p.N {
		v |= 1 << 31
	}
	if p.Z {
		v |= 1 << 30
	}
	if p.C {
		v |= 1 << 29
	}
	if p.V {
		v |= 1 << 28
	}
	if p.F {
		v |= 1 << 27
	}
	if p.I {
		v |= 1 << 26
	}
	v |= r.r[15] & 0x03FFFFFC
	m2, err := p.Mode.mode2()
	if err != nil {
		// Privileged modes without a 26-bit encoding (Abort/Undefined) only
		// arise on v4+, which always runs Addr32Bit; reaching here in
		// Addr26Bit is a configuration bug upstream, not user data.
		panic(fmt.Errorf("cpu: %w", err))
	}
	v |= m2
	return v
}

// UnpackPSR26 is the inverse of PackPSR26: it both updates the flags/mode
// in CPSR (bank-switching if the mode changed) and stores the address part
// in the PC storage slot.
func (r *Registers) UnpackPSR26(v uint32) {
	newMode := mode2ToMode(v)
	if newMode != r.cpsr.Mode {
		r.switchMode(newMode)
	}
	r.cpsr.N = v&(1<<31) != 0
	r.cpsr.Z = v&(1<<30) != 0
	r.cpsr.C = v&(1<<29) != 0
	r.cpsr.V = v&(1<<28) != 0
	r.cpsr.F = v&(1<<27) != 0
	r.cpsr.I = v&(1<<26) != 0
	r.cpsr.Mode = newMode
	r.r[15] = v & 0x03FFFFFC
}

// EnterMode banks R13/R14 (and R8-R12 for FIQ) into the new mode, copies
// CPSR into the new mode's SPSR, and stores returnAddr in the new mode's
// R14 -- the common prologue every exception entry performs, per spec.md
// 4.D.
func (r *Registers) EnterMode(newMode Mode, returnAddr uint32) {
	old := r.cpsr
	r.switchMode(newMode)
	r.cpsr.Mode = newMode
	if newMode.HasSPSR() {
		r.spsr[newMode] = old
	}
	r.Write(14, returnAddr)
}

// ReturnFromException restores CPSR from the current mode's SPSR
// (bank-switching back to whatever mode that SPSR names).
func (r *Registers) ReturnFromException() error {
	mode := r.cpsr.Mode
	if !mode.HasSPSR() {
		return fmt.Errorf("cpu: mode %s has no SPSR to return from", mode)
	}
	restored := r.spsr[mode]
	r.switchMode(restored.Mode)
	r.cpsr = restored
	return nil
}

// SPSR returns the SPSR of the given mode; ok is false for User/System,
// which have none.
func (r *Registers) SPSR(mode Mode) (PSR, bool) {
	if !mode.HasSPSR() {
		return PSR{}, false
	}
	return r.spsr[mode], true
}

// SetSPSR overwrites the SPSR of the given mode.
func (r *Registers) SetSPSR(mode Mode, p PSR) {
	if mode.HasSPSR() {
		r.spsr[mode] = p
	}
}

// Snapshot captures the register file as seen by the current mode, for the
// host's debugger-facing accessor (spec.md 4.H).
type Snapshot struct {
	Mode Mode
	CPSR PSR
	R    [16]uint32
}

// SnapshotRegisters returns the register file as seen by the current mode.
func (r *Registers) SnapshotRegisters() Snapshot {
	s := Snapshot{Mode: r.cpsr.Mode, CPSR: r.cpsr}
	for i := uint32(0); i < 16; i++ {
		s.R[i] = r.Read(i)
	}
	return s
}
