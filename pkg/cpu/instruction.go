package cpu

import "fmt"

// Class discriminates the operation-class variants of spec.md 3's
// "Instruction descriptor".
type Class int

const (
	ClassCoreAlu Class = iota
	ClassCoreCompare
	ClassCoreAddress
	ClassCoreMultiply
	ClassCoreDataTransfer
	ClassCoreMultiTransfer
	ClassBranch
	ClassSoftwareIrq
	ClassBreakpoint
	ClassAtomicSwap
	ClassMoveFromPSR
	ClassMoveToPSR
	ClassBranchExchange
	ClassLongMultiply
	ClassCoProcDataTransfer
	ClassCoProcRegisterTransfer
	ClassCoProcDataProcessing
	ClassFpaDataTransfer
	ClassFpaDyadic
	ClassFpaMonadic
	ClassFpaRegisterTransfer
	ClassFpaComparison
	ClassUndefined
)

func (c Class) String() string {
	names := [...]string{
		"CoreAlu", "CoreCompare", "CoreAddress", "CoreMultiply",
		"CoreDataTransfer", "CoreMultiTransfer", "Branch", "SoftwareIrq",
		"Breakpoint", "AtomicSwap", "MoveFromPSR", "MoveToPSR",
		"BranchExchange", "LongMultiply", "CoProcDataTransfer",
		"CoProcRegisterTransfer", "CoProcDataProcessing", "FpaDataTransfer",
		"FpaDyadic", "FpaMonadic", "FpaRegisterTransfer", "FpaComparison",
		"Undefined",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return "?"
}

// ShifterOperand is the second ALU operand, per spec.md 3.
type ShifterOperand struct {
	Immediate  bool // true: Imm is a ready-to-use 32-bit constant
	Rm         uint32
	Rs         uint32 // valid only when ShiftByReg
	Shift      ShiftType
	ShiftByReg bool
	ShiftAmt   uint32 // immediate shift amount, valid when !ShiftByReg
	Imm        uint32
	ImmCarry   bool // carry-out produced by the rotate-immediate encoding, valid when Immediate
}

// AddressOperand is the CoreDataTransfer/CoreMultiTransfer memory operand,
// per spec.md 3.
type AddressOperand struct {
	Rn             uint32
	Offset         ShifterOperand
	PreIndexed     bool
	NegativeOffset bool
	Writeback      bool
}

// CoreAluOp carries the fields of a data-processing instruction that writes
// Rd (ADD, SUB, MOV, AND, ORR, ...).
type CoreAluOp struct {
	Opcode AluOpcode
	S      bool // update flags
	Rn, Rd uint32
	Op2    ShifterOperand
}

// AluOpcode enumerates the 16 data-processing operations.
type AluOpcode uint32

const (
	AluAND AluOpcode = iota
	AluEOR
	AluSUB
	AluRSB
	AluADD
	AluADC
	AluSBC
	AluRSC
	AluTST
	AluTEQ
	AluCMP
	AluCMN
	AluORR
	AluMOV
	AluBIC
	AluMVN
)

var aluMnemonics = [...]string{
	"AND", "EOR", "SUB", "RSB", "ADD", "ADC", "SBC", "RSC",
	"TST", "TEQ", "CMP", "CMN", "ORR", "MOV", "BIC", "MVN",
}

func (o AluOpcode) String() string {
	if int(o) < len(aluMnemonics) {
		return aluMnemonics[o]
	}
	return "?"
}

// IsCompare reports whether opcode is one of TST/TEQ/CMP/CMN, which never
// write Rd.
func (o AluOpcode) IsCompare() bool {
	switch o {
	case AluTST, AluTEQ, AluCMP, AluCMN:
		return true
	default:
		return false
	}
}

// CoreCompareOp carries the fields of TST/TEQ/CMP/CMN.
type CoreCompareOp struct {
	Opcode AluOpcode
	PFlag  bool // pre-v3 "P" variant: result is written to PSR, not discarded
	Rn     uint32
	Op2    ShifterOperand
}

// CoreMultiplyOp is MUL/MLA.
type CoreMultiplyOp struct {
	Accumulate     bool
	S              bool
	Rd, Rn, Rs, Rm uint32
}

// LongMultiplyOp is UMULL/UMLAL/SMULL/SMLAL.
type LongMultiplyOp struct {
	Signed             bool
	Accumulate         bool
	S                  bool
	RdHi, RdLo, Rs, Rm uint32
}

// DataTransferWidth selects the transfer size of a single load/store.
type DataTransferWidth int

const (
	TransferWord DataTransferWidth = iota
	TransferByte
	TransferHalfword
	TransferSignedByte
	TransferSignedHalfword
)

// CoreDataTransferOp is LDR/STR (and the v4+ halfword/signed variants).
type CoreDataTransferOp struct {
	Load    bool
	Width   DataTransferWidth
	Rd      uint32
	Address AddressOperand
}

// CoreMultiTransferOp is LDM/STM.
type CoreMultiTransferOp struct {
	Load         bool
	PreIndexed   bool
	Up           bool // true: add offset (IA/IB); false: subtract (DA/DB)
	UserBank     bool // the `^` flag
	Writeback    bool
	Rn           uint32
	RegisterList uint16
}

// BranchOp is B/BL.
type BranchOp struct {
	Link   bool
	Offset int32 // already sign-extended and shifted left 2
}

// SoftwareIrqOp is SWI.
type SoftwareIrqOp struct {
	Comment uint32
}

// BreakpointOp is BKPT (v5). Decode does not recognise BKPT, so no decoded
// Instruction carries this payload.
type BreakpointOp struct {
	Comment uint32
}

// AtomicSwapOp is SWP/SWPB.
type AtomicSwapOp struct {
	Byte       bool
	Rn, Rd, Rm uint32
}

// MoveFromPSROp is MRS.
type MoveFromPSROp struct {
	UseSPSR bool
	Rd      uint32
}

// MoveToPSROp is MSR.
type MoveToPSROp struct {
	UseSPSR   bool
	FieldMask psrFieldMask
	Immediate bool
	Rm        uint32
	Imm       uint32
}

// BranchExchangeOp is BX.
type BranchExchangeOp struct {
	Rm uint32
}

// CoProcDataTransferOp is LDC/STC.
type CoProcDataTransferOp struct {
	Load    bool
	Long    bool
	CpNum   uint32
	CRd     uint32
	Address AddressOperand
}

// CoProcRegisterTransferOp is MRC/MCR.
type CoProcRegisterTransferOp struct {
	ToCoprocessor bool // MCR: true; MRC: false
	CpNum         uint32
	Opcode1       uint32
	CRn, CRd, CRm uint32
	Opcode2       uint32
	Rd            uint32
}

// CoProcDataProcessingOp is CDP.
type CoProcDataProcessingOp struct {
	CpNum         uint32
	Opcode1       uint32
	CRn, CRd, CRm uint32
	Opcode2       uint32
}

// FpaOp carries the decoded bit fields of an FPA instruction. Per spec.md
// 9's open question, FPA is decode/format only: Execute raises
// RuntimeAbort for every Fpa* class.
type FpaOp struct {
	Opcode     uint32
	Fd, Fn, Fm uint32
	Rd         uint32
	Precision  uint32
	Raw        uint32
}

// Instruction is a decoded instruction: a condition code, a class tag, and
// exactly one populated payload selected by that tag. Accessing the wrong
// payload is a TypeMismatch (spec.md 7): it panics, because it is a
// decoder bug, not recoverable user input.
type Instruction struct {
	Cond     Condition
	Class    Class
	Mnemonic string
	payload  interface{}
}

// ErrTypeMismatch mirrors value.ErrTypeMismatch for the instruction union.
var ErrTypeMismatch = fmt.Errorf("cpu: instruction payload type mismatch")

func newInstruction(cond Condition, class Class, mnemonic string, payload interface{}) Instruction {
	return Instruction{Cond: cond, Class: class, Mnemonic: mnemonic, payload: payload}
}

func payloadAs[T any](i Instruction) T {
	v, ok := i.payload.(T)
	if !ok {
		panic(fmt.Errorf("%w: class %s does not carry %T", ErrTypeMismatch, i.Class, *new(T)))
	}
	return v
}

func (i Instruction) Alu() CoreAluOp                     { return payloadAs[CoreAluOp](i) }
func (i Instruction) Compare() CoreCompareOp             { return payloadAs[CoreCompareOp](i) }
func (i Instruction) Multiply() CoreMultiplyOp           { return payloadAs[CoreMultiplyOp](i) }
func (i Instruction) LongMultiply() LongMultiplyOp       { return payloadAs[LongMultiplyOp](i) }
func (i Instruction) DataTransfer() CoreDataTransferOp   { return payloadAs[CoreDataTransferOp](i) }
func (i Instruction) MultiTransfer() CoreMultiTransferOp { return payloadAs[CoreMultiTransferOp](i) }
func (i Instruction) Branch() BranchOp                   { return payloadAs[BranchOp](i) }
func (i Instruction) SoftwareIrq() SoftwareIrqOp         { return payloadAs[SoftwareIrqOp](i) }
func (i Instruction) Breakpoint() BreakpointOp           { return payloadAs[BreakpointOp](i) }
func (i Instruction) AtomicSwap() AtomicSwapOp           { return payloadAs[AtomicSwapOp](i) }
func (i Instruction) MoveFromPSR() MoveFromPSROp         { return payloadAs[MoveFromPSROp](i) }
func (i Instruction) MoveToPSR() MoveToPSROp             { return payloadAs[MoveToPSROp](i) }
func (i Instruction) BranchExchange() BranchExchangeOp   { return payloadAs[BranchExchangeOp](i) }
func (i Instruction) CoProcDataTransfer() CoProcDataTransferOp {
	return payloadAs[CoProcDataTransferOp](i)
}
func (i Instruction) CoProcRegisterTransfer() CoProcRegisterTransferOp {
	return payloadAs[CoProcRegisterTransferOp](i)
}
func (i Instruction) CoProcDataProcessing() CoProcDataProcessingOp {
	return payloadAs[CoProcDataProcessingOp](i)
}
func (i Instruction) Fpa() FpaOp { return payloadAs[FpaOp](i) }
