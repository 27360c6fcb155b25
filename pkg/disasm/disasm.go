// Package disasm turns decoded words back into assembler source text,
// sharing pkg/cpu's decode tables so the two stay in lock-step: whatever
// Decode recognises, Format renders in the grammar pkg/asm accepts, per
// spec.md 4.M.
package disasm

import (
	"fmt"
	"strings"

	"github.com/bassosimone/armcore/pkg/cpu"
)

// Model selects the newest architecture whose encodings Disassemble
// accepts, mirroring the assembler's instruction-set directives. The zero
// value accepts everything.
type Model int

const (
	ModelAll Model = iota
	ModelARMv2
	ModelARMv2a
	ModelARMv3
	ModelARMv4
)

// ParseModel maps a CLI -s/--instructionset token to a Model.
func ParseModel(name string) (Model, error) {
	switch strings.ToUpper(strings.TrimPrefix(name, "%")) {
	case "ARMV2":
		return ModelARMv2, nil
	case "ARMV2A":
		return ModelARMv2a, nil
	case "ARMV3":
		return ModelARMv3, nil
	case "ARMV4":
		return ModelARMv4, nil
	default:
		return ModelAll, fmt.Errorf("disasm: unknown instruction set %q", name)
	}
}

// Options configures rendering: which register-list mnemonic family LDM/STM
// prints in, whether to show the implicit zero offset, and which encodings
// the selected model admits.
type Options struct {
	// UseStackModesOnR13 renders LDM/STM on R13 using the FD/FA/ED/EA stack
	// synonyms instead of the raw IA/IB/DA/DB addressing mode.
	UseStackModesOnR13 bool

	// ShowOffsets renders "[Rn, #0]" instead of "[Rn]" for a zero offset.
	ShowOffsets bool

	// AddressWidth is carried for symmetry with the assembler's
	// Options.AddressWidth. Disassemble and Format do not read it, so
	// ADR/ADRL/ADRE targets are computed in 32 bits in either width.
	AddressWidth cpu.AddressWidth

	// Hex renders immediates and addresses in "&"-prefixed hex instead of
	// decimal.
	Hex bool

	// Model rejects encodings newer than the selected architecture as a
	// miss (the caller reports the raw word). ModelAll accepts everything.
	Model Model

	// AllowFPA admits the FPA coprocessor encodings; without it they are
	// reported as misses like any other unrecognised pattern.
	AllowFPA bool
}

// ErrMiss is returned when a word decodes only in a model or extension the
// options exclude -- the DisassembleMiss of spec.md 7. Callers render the
// raw bytes and continue.
var ErrMiss = fmt.Errorf("disasm: does not decode in the selected model")

// Descriptor is one disassembled unit: either a plain decoded instruction,
// or a recognised multi-word ADR/ADRL/ADRE idiom folded back into a single
// pseudo-op, per spec.md 4.M.
type Descriptor struct {
	Addr      uint32
	WordCount int

	IsAddressIdiom bool
	AdrMnemonic    string // "ADR", "ADRL", "ADRE"
	AdrCond        cpu.Condition
	AdrRd          uint32
	AdrTarget      uint32

	Instr cpu.Instruction // valid when !IsAddressIdiom
}

// nopWord is the literal "MOV R0,R0" padding idiom the assembler emits for
// under-used ADRL/ADRE slots (see pkg/asm's adr.go); recognised here so a
// padded multi-word pseudo-op disassembles back to one ADR/ADRL/ADRE.
const nopWord uint32 = 0xE1A00000

// Disassemble decodes the instruction at words[0] (the instruction whose
// address is addr), peeking at up to two following words to recognise the
// ADR/ADRL/ADRE address-materialising idiom described in spec.md 4.L.
func Disassemble(words []uint32, addr uint32, opts Options) (Descriptor, error) {
	if len(words) == 0 {
		return Descriptor{}, fmt.Errorf("disasm: no words to decode")
	}
	if desc, ok := recognizeAddressIdiom(words, addr); ok {
		return desc, nil
	}
	instr, err := cpu.Decode(words[0])
	if err != nil {
		return Descriptor{}, err
	}
	if err := checkModel(instr, opts); err != nil {
		return Descriptor{}, err
	}
	return Descriptor{Addr: addr, WordCount: 1, Instr: instr}, nil
}

func checkModel(instr cpu.Instruction, opts Options) error {
	switch instr.Class {
	case cpu.ClassFpaDataTransfer, cpu.ClassFpaDyadic, cpu.ClassFpaMonadic,
		cpu.ClassFpaRegisterTransfer, cpu.ClassFpaComparison:
		if !opts.AllowFPA {
			return fmt.Errorf("%w: FPA", ErrMiss)
		}
		return nil
	}
	if opts.Model == ModelAll {
		return nil
	}
	if opts.Model < minModelFor(instr) {
		return fmt.Errorf("%w: %s", ErrMiss, instr.Mnemonic)
	}
	return nil
}

// minModelFor reports the oldest architecture that carries the decoded
// encoding; the halfword/signed transfer widths discriminate within
// ClassCoreDataTransfer.
func minModelFor(instr cpu.Instruction) Model {
	switch instr.Class {
	case cpu.ClassAtomicSwap:
		return ModelARMv2a
	case cpu.ClassLongMultiply, cpu.ClassMoveFromPSR, cpu.ClassMoveToPSR:
		return ModelARMv3
	case cpu.ClassBranchExchange, cpu.ClassBreakpoint:
		return ModelARMv4
	case cpu.ClassCoreDataTransfer:
		switch instr.DataTransfer().Width {
		case cpu.TransferHalfword, cpu.TransferSignedByte, cpu.TransferSignedHalfword:
			return ModelARMv4
		}
		return ModelARMv2
	default:
		return ModelARMv2
	}
}

// recognizeAddressIdiom peeks at up to three words looking for the
// ADD/SUB-from-PC-then-accumulate chain pkg/asm's encodeADR emits, followed
// by any nopWord padding, per spec.md 4.L/4.M.
func recognizeAddressIdiom(words []uint32, addr uint32) (Descriptor, bool) {
	first, ok := decodeAdrChunk(words[0], true, 0)
	if !ok {
		return Descriptor{}, false
	}
	rd := first.rd
	target := int64(addr) + 8 + first.signedImm()
	n := 1
	for n < len(words) && n < 3 {
		w := words[n]
		if w == nopWord {
			n++
			continue
		}
		chunk, ok := decodeAdrChunk(w, false, rd)
		if !ok || chunk.cond != first.cond {
			break
		}
		target += chunk.signedImm()
		n++
	}
	// Trailing nopWord padding beyond the last real chunk still belongs to
	// the declared word count (ADRL always 2, ADRE always 3).
	for n < len(words) && n < 3 && words[n] == nopWord {
		n++
	}
	mnemonic := "ADR"
	switch n {
	case 2:
		mnemonic = "ADRL"
	case 3:
		mnemonic = "ADRE"
	}
	return Descriptor{
		Addr: addr, WordCount: n, IsAddressIdiom: true,
		AdrMnemonic: mnemonic, AdrCond: first.cond, AdrRd: rd, AdrTarget: uint32(target),
	}, true
}

type adrChunk struct {
	cond   cpu.Condition
	rd     uint32
	rn     uint32
	negate bool
	imm    uint32
}

func (c adrChunk) signedImm() int64 {
	if c.negate {
		return -int64(c.imm)
	}
	return int64(c.imm)
}

// decodeAdrChunk recognises one word of the chain as "ADD/SUB Rd, Rn,
// #imm" with a rotated-immediate operand2 and no S flag -- the shape every
// word of the assembler's ADR/ADRL/ADRE output has. fromPC requires Rn==PC
// (the first word); otherwise Rn must equal rd (the accumulate words).
func decodeAdrChunk(word uint32, fromPC bool, rd uint32) (adrChunk, bool) {
	if word>>26&0b11 != 0b00 || word>>25&1 != 1 {
		return adrChunk{}, false // not a data-processing immediate form
	}
	opcode := cpu.AluOpcode(word >> 21 & 0xF)
	if opcode != cpu.AluADD && opcode != cpu.AluSUB {
		return adrChunk{}, false
	}
	if word>>20&1 != 0 {
		return adrChunk{}, false // S flag set: not an ADR chunk
	}
	rn := word >> 16 & 0xF
	thisRd := word >> 12 & 0xF
	if fromPC {
		if rn != 15 {
			return adrChunk{}, false
		}
	} else if rn != rd || thisRd != rd {
		return adrChunk{}, false
	}
	imm8 := word & 0xFF
	rot := (word >> 8 & 0xF) * 2
	value := imm8 // cpu.Shift reads ROR #0 as RRX; an unrotated immediate is used as-is
	if rot != 0 {
		value, _ = cpu.Shift(imm8, cpu.ShiftROR, rot, false)
	}
	return adrChunk{cond: cpu.Condition(word >> 28), rd: thisRd, rn: rn, negate: opcode == cpu.AluSUB, imm: value}, true
}
