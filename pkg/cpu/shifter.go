package cpu

// ShiftType selects the barrel shifter's operating mode, per spec.md 3
// ("Shifter operand").
type ShiftType int

const (
	ShiftNone ShiftType = iota
	ShiftLSL
	ShiftLSR
	ShiftASR
	ShiftROR
	ShiftRRX
)

func (s ShiftType) String() string {
	switch s {
	case ShiftLSL:
		return "LSL"
	case ShiftLSR:
		return "LSR"
	case ShiftASR:
		return "ASR"
	case ShiftROR:
		return "ROR"
	case ShiftRRX:
		return "RRX"
	default:
		return "NONE"
	}
}

// Shift implements the barrel shifter of spec.md 4.E: given a value, a
// shift mode, a shift amount, and the incoming carry, it returns the
// shifted result and the carry that would be latched into CPSR.C when the
// instruction updates flags.
//
// Special cases handled exactly as spec.md specifies:
//   - LSL #0 passes value and carryIn through unchanged.
//   - LSR #0 and ASR #0 mean a shift by 32 (zero result for LSR; sign
//     fill for ASR) -- Shift itself treats amount==0 like amount==32 for
//     LSR/ASR so callers just pass through the decoded field.
//   - ROR #0 is RRX (rotate right one bit through the carry flag).
//   - Shift-by-register amounts >= 32 apply the per-type semantics below
//     rather than wrapping modulo 32.
func Shift(value uint32, mode ShiftType, amount uint32, carryIn bool) (result uint32, carryOut bool) {
	switch mode {
	case ShiftNone:
		return value, carryIn
	case ShiftLSL:
		return shiftLSL(value, amount, carryIn)
	case ShiftLSR:
		return shiftLSR(value, amount, carryIn)
	case ShiftASR:
		return shiftASR(value, amount, carryIn)
	case ShiftROR:
		if amount == 0 {
			return shiftRRX(value, carryIn)
		}
		return shiftROR(value, amount, carryIn)
	case ShiftRRX:
		return shiftRRX(value, carryIn)
	default:
		return value, carryIn
	}
}

func shiftLSL(value, amount uint32, carryIn bool) (uint32, bool) {
	switch {
	case amount == 0:
		return value, carryIn
	case amount < 32:
		carryOut := value&(1<<(32-amount)) != 0
		return value << amount, carryOut
	case amount == 32:
		return 0, value&1 != 0
	default:
		return 0, false
	}
}

func shiftLSR(value, amount uint32, carryIn bool) (uint32, bool) {
	switch {
	case amount == 0:
		// Encodes "shift by 32" per the assembler/decoder convention for
		// LSR #0.
		return 0, value&(1<<31) != 0
	case amount < 32:
		carryOut := value&(1<<(amount-1)) != 0
		return value >> amount, carryOut
	case amount == 32:
		return 0, value&(1<<31) != 0
	default:
		return 0, false
	}
}

func shiftASR(value, amount uint32, carryIn bool) (uint32, bool) {
	signed := int32(value)
	signBit := signed < 0
	switch {
	case amount == 0:
		// ASR #0 encodes "shift by 32": result is all sign bits.
		amount = 32
	}
	if amount >= 32 {
		if signBit {
			return 0xFFFFFFFF, true
		}
		return 0, false
	}
	carryOut := value&(1<<(amount-1)) != 0
	return uint32(signed >> amount), carryOut
}

func shiftROR(value, amount uint32, carryIn bool) (uint32, bool) {
	amount %= 32
	if amount == 0 {
		// ROR by a multiple of 32 (amount != 0 before the modulo): result
		// unchanged, carry out is the value's top bit.
		return value, value&(1<<31) != 0
	}
	result := (value >> amount) | (value << (32 - amount))
	carryOut := value&(1<<(amount-1)) != 0
	return result, carryOut
}

func shiftRRX(value uint32, carryIn bool) (uint32, bool) {
	carryOut := value&1 != 0
	result := value >> 1
	if carryIn {
		result |= 1 << 31
	}
	return result, carryOut
}
