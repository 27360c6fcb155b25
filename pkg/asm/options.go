// Package asm implements the two-pass assembler driver: it turns a source
// file (plus any files it %INCLUDEs) into an ObjectCode, generalizing the
// teacher's one-word-per-statement AssemblerAsync into variable-length
// multi-word emission for the ADR/ADRL/ADRE pseudo-ops and the data
// directives, per spec.md 4.L.
package asm

import (
	"fmt"
	"strings"

	"github.com/bassosimone/armcore/pkg/cpu"
)

// InstructionSet selects the base architecture version a source targets,
// switchable mid-file via the %ARMv2/%ARMv3/%ARMv4 directives (spec.md
// 4.L). It gates the mnemonics introduced after ARMv2: the long-multiply
// family, MRS and MSR need ARMv3, BX needs ARMv4. FPA/VFP stay
// decode/disassemble-only regardless.
type InstructionSet int

const (
	ARMv2 InstructionSet = iota
	ARMv2a
	ARMv3
	ARMv4
)

// ParseInstructionSet maps a CLI -s/--instructionset token (case
// insensitive, "%" prefix optional) to an InstructionSet, for cmd/armasm,
// per spec.md 6.
func ParseInstructionSet(name string) (InstructionSet, error) {
	switch strings.ToUpper(strings.TrimPrefix(name, "%")) {
	case "ARMV2":
		return ARMv2, nil
	case "ARMV2A":
		return ARMv2a, nil
	case "ARMV3":
		return ARMv3, nil
	case "ARMV4":
		return ARMv4, nil
	default:
		return 0, fmt.Errorf("asm: unknown instruction set %q", name)
	}
}

func (s InstructionSet) String() string {
	switch s {
	case ARMv2:
		return "ARMv2"
	case ARMv2a:
		return "ARMv2a"
	case ARMv3:
		return "ARMv3"
	case ARMv4:
		return "ARMv4"
	default:
		return "?"
	}
}

// Options configures one assembly run: built from CLI flags by cmd/armasm,
// or supplied programmatically by a test, per spec.md 4.L/6.
type Options struct {
	// LoadAddress is the address of the first emitted byte. The assembler
	// always assembles against it, whatever PositionIndependent says.
	LoadAddress uint32

	// PositionIndependent records that no -b/--base flag was given.
	// cmd/armasm then leaves LoadAddress at 0, so the object code is
	// produced against a synthetic zero base. The assembler itself does
	// not read this field.
	PositionIndependent bool

	// IncludeDirs is searched, in order, for a %INCLUDE path that is not
	// found relative to the including file's own directory.
	IncludeDirs []string

	// InstructionSet is the architecture level in force at the start of
	// the file; %ARMv2.. directives may change it mid-file.
	InstructionSet InstructionSet

	// Extensions lists enabled coprocessor/mode extensions: "FPA",
	// "VFPv1", "Thumb".
	Extensions []string

	// AddressWidth is the address width in force at the start of the file
	// (%26Bit/%32Bit may change it mid-file). In 26-bit mode ADR/ADRL/ADRE
	// reject targets outside the 26-bit address space; branch encoding
	// does not depend on it.
	AddressWidth cpu.AddressWidth
}

// ObjectCode is the assembler's output: the emitted bytes, the resolved
// global symbol table, and the load address they were assembled against,
// per spec.md 3's "ObjectCode" data model entry.
type ObjectCode struct {
	Bytes       []byte
	Symbols     map[string]uint32
	LoadAddress uint32
}
