package asm

import (
	"fmt"

	"github.com/bassosimone/armcore/pkg/asm/ast"
	"github.com/bassosimone/armcore/pkg/asm/expr"
	"github.com/bassosimone/armcore/pkg/cpu"
)

// nopWord is the literal "MOV R0,R0" idiom the assembler pads under-used
// ADRL/ADRE slots with, per spec.md 4.L: "padding with MOV R0,R0 if a
// declared longer form is under-used (so the instruction count stays as
// requested for patching)".
const nopWord uint32 = 0xE1A00000

// declaredWordsForADR returns how many words a pseudo-op's declared form
// always emits, regardless of how few are needed to reach the target.
func declaredWordsForADR(mnemonic string) int {
	switch mnemonic {
	case "ADR":
		return 1
	case "ADRL":
		return 2
	case "ADRE":
		return 3
	default:
		return 0
	}
}

// decomposeByteLanes splits magnitude into at most maxChunks non-overlapping
// 8-bit-wide, even-aligned bit lanes whose sum (equivalently, bitwise OR)
// reconstructs magnitude -- the same lane-at-a-time peeling every
// ADD/SUB-chain address-materialising pseudo-op uses to build a 32-bit
// constant out of rotated-immediate pieces.
func decomposeByteLanes(magnitude uint32, maxChunks int) ([]uint32, bool) {
	var chunks []uint32
	remaining := magnitude
	for remaining != 0 {
		if len(chunks) >= maxChunks {
			return nil, false
		}
		msb := 31 - leadingZeros32(remaining)
		start := msb - 7
		if start < 0 {
			start = 0
		}
		start += start & 1 // rotate fields only start at even bit positions; rounding up keeps msb in the lane
		mask := uint32(0xFF) << uint(start)
		chunk := remaining & mask
		chunks = append(chunks, chunk)
		remaining &^= chunk
	}
	return chunks, true
}

func leadingZeros32(v uint32) int {
	n := 0
	for i := 31; i >= 0; i-- {
		if v&(1<<uint(i)) != 0 {
			break
		}
		n++
	}
	return n
}

// encodeADR emits the 1..3 words of an ADR/ADRL/ADRE pseudo-op: the first
// word computes Rd from PC, any further words accumulate onto Rd, and any
// declared-but-unused slot is padded with nopWord so the instruction always
// occupies its declared word count (spec.md's "declared form dominates"
// rule, scenario 3 of 4.L's worked examples).
func encodeADR(stmt ast.Statement, addr uint32, width cpu.AddressWidth, ctx expr.Context) ([]uint32, error) {
	if len(stmt.Operands) != 2 || stmt.Operands[0].Kind != ast.OperandRegister {
		return nil, fmt.Errorf("%w: %s: expected Rd, expression", ErrEncode, stmt.Mnemonic)
	}
	rd := stmt.Operands[0].Reg
	target, err := evalExprInt(stmt.Operands[1].Expr, ctx)
	if err != nil {
		return nil, err
	}
	if width == cpu.Addr26Bit && (target < 0 || target > 0x03FFFFFF) {
		return nil, fmt.Errorf("%w: %s: target %#x outside the 26-bit address space", ErrEncode, stmt.Mnemonic, target)
	}
	declared := declaredWordsForADR(stmt.Mnemonic)
	displacement := target - (int64(addr) + 8)
	negative := displacement < 0
	magnitude := displacement
	if negative {
		magnitude = -magnitude
	}
	if magnitude > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: %s: displacement %#x too large", ErrEncode, stmt.Mnemonic, displacement)
	}
	chunks, ok := decomposeByteLanes(uint32(magnitude), declared)
	if !ok {
		return nil, fmt.Errorf("%w: %s: displacement %#x needs more than %d word(s)", ErrEncode, stmt.Mnemonic, displacement, declared)
	}
	if len(chunks) == 0 {
		chunks = []uint32{0}
	}
	opcodeBits := uint32(0b0100) << 21 // ADD
	if negative {
		opcodeBits = uint32(0b0010) << 21 // SUB
	}
	var words []uint32
	for i, chunk := range chunks {
		imm8, rot, ok := encodeRotatedImmediate(chunk)
		if !ok {
			return nil, fmt.Errorf("%w: %s: chunk %#x has no rotated 8-bit encoding", ErrEncode, stmt.Mnemonic, chunk)
		}
		rn := uint32(15) // PC
		if i > 0 {
			rn = rd
		}
		word := condBits(stmt.Cond) | 1<<25 | opcodeBits | rn<<16 | rd<<12 | rot<<8 | imm8
		words = append(words, word)
	}
	for len(words) < declared {
		words = append(words, nopWord)
	}
	return words, nil
}
