package ebpf

import "fmt"

// Kind identifies the category of a VM error. Kept as an enum rather than
// distinct error types per kind, the way bassosimone-risc32's vm package
// keeps a flat set of sentinel errors compared with errors.Is — except
// these carry structured fields (pc, operands), so a single tagged struct
// is a better fit than N sentinel values.
type Kind int

const (
	_ Kind = iota
	NoProgram
	InvalidDestinationRegister
	InvalidSourceRegister
	ShiftWithOverflow
	DivisionByZero
	DivideOverflow
	UnsupportedLEBEArgument
	IncompleteLDDW
	JumpOutOfCode
	JumpToMiddleOfLDDW
	InvalidFunction
	UnknownOpCode
	CannotWriteR10
	CallDepthExceeded
	CallOutsideTextSegment
	ExceededMaxInstructions
	AccessViolation
	UnsupportedInstruction
	ExecutionOverrun
	ExhaustedTextSegment
	JitNotCompiled
)

var kindNames = map[Kind]string{
	NoProgram:                  "NoProgram",
	InvalidDestinationRegister: "InvalidDestinationRegister",
	InvalidSourceRegister:      "InvalidSourceRegister",
	ShiftWithOverflow:          "ShiftWithOverflow",
	DivisionByZero:             "DivisionByZero",
	DivideOverflow:             "DivideOverflow",
	UnsupportedLEBEArgument:    "UnsupportedLEBEArgument",
	IncompleteLDDW:             "IncompleteLDDW",
	JumpOutOfCode:              "JumpOutOfCode",
	JumpToMiddleOfLDDW:         "JumpToMiddleOfLDDW",
	InvalidFunction:            "InvalidFunction",
	UnknownOpCode:              "UnknownOpCode",
	CannotWriteR10:             "CannotWriteR10",
	CallDepthExceeded:          "CallDepthExceeded",
	CallOutsideTextSegment:     "CallOutsideTextSegment",
	ExceededMaxInstructions:    "ExceededMaxInstructions",
	AccessViolation:            "AccessViolation",
	UnsupportedInstruction:     "UnsupportedInstruction",
	ExecutionOverrun:           "ExecutionOverrun",
	ExhaustedTextSegment:       "ExhaustedTextSegment",
	JitNotCompiled:             "JitNotCompiled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// AccessType distinguishes load from store for AccessViolation errors.
type AccessType int

const (
	AccessLoad AccessType = iota
	AccessStore
)

func (a AccessType) String() string {
	if a == AccessStore {
		return "store"
	}
	return "load"
}

// VMError is the single error type used for every Kind in §7. PC holds the
// raw instruction index; Error() adds ELFInsnDumpOffset when formatting so
// that messages match disassembly line numbers.
type VMError struct {
	Kind Kind
	PC   int

	// Populated depending on Kind.
	Target   int    // JumpOutOfCode, JumpToMiddleOfLDDW
	Key      uint32 // InvalidFunction
	Amount   int32  // ShiftWithOverflow
	Width    int    // ShiftWithOverflow
	Limit    int    // CallDepthExceeded
	TargetVM uint64 // CallOutsideTextSegment
	Access   AccessType
	VMAddr   uint64
	Length   int
	Opcode   uint8
}

// ELFInsnDumpOffset is added to pc before it is surfaced to a caller, so
// error messages line up with the disassembler's line numbers (§7).
const ELFInsnDumpOffset = 0

func (e *VMError) Error() string {
	pc := e.PC + ELFInsnDumpOffset
	switch e.Kind {
	case NoProgram:
		return "no program loaded"
	case InvalidDestinationRegister:
		return fmt.Sprintf("invalid destination register at pc %d", pc)
	case InvalidSourceRegister:
		return fmt.Sprintf("invalid source register at pc %d", pc)
	case ShiftWithOverflow:
		return fmt.Sprintf("shift amount %d overflows %d-bit operand at pc %d", e.Amount, e.Width, pc)
	case DivisionByZero:
		return fmt.Sprintf("division by zero at pc %d", pc)
	case DivideOverflow:
		return fmt.Sprintf("divide overflow at pc %d", pc)
	case UnsupportedLEBEArgument:
		return fmt.Sprintf("unsupported LE/BE argument at pc %d", pc)
	case IncompleteLDDW:
		return fmt.Sprintf("incomplete lddw at pc %d", pc)
	case JumpOutOfCode:
		return fmt.Sprintf("jump to %d out of code at pc %d", e.Target, pc)
	case JumpToMiddleOfLDDW:
		return fmt.Sprintf("jump to %d lands in the middle of a lddw at pc %d", e.Target, pc)
	case InvalidFunction:
		return fmt.Sprintf("invalid function key %#x", e.Key)
	case UnknownOpCode:
		return fmt.Sprintf("unknown opcode %#02x at pc %d", e.Opcode, pc)
	case CannotWriteR10:
		return fmt.Sprintf("cannot write r10 at pc %d", pc)
	case CallDepthExceeded:
		return fmt.Sprintf("call depth exceeded limit %d at pc %d", e.Limit, pc)
	case CallOutsideTextSegment:
		return fmt.Sprintf("call target %#x outside text segment at pc %d", e.TargetVM, pc)
	case ExceededMaxInstructions:
		return fmt.Sprintf("exceeded max instructions at pc %d", pc)
	case AccessViolation:
		return fmt.Sprintf("access violation: %s of %d bytes at vm addr %#x, pc %d", e.Access, e.Length, e.VMAddr, pc)
	case UnsupportedInstruction:
		return fmt.Sprintf("unsupported instruction at pc %d", pc)
	case ExecutionOverrun:
		return fmt.Sprintf("execution overran the program at pc %d", pc)
	case ExhaustedTextSegment:
		return fmt.Sprintf("exhausted text segment at pc %d", pc)
	case JitNotCompiled:
		return "program was not JIT compiled"
	default:
		return fmt.Sprintf("vm error %s at pc %d", e.Kind, pc)
	}
}

// Is lets callers write errors.Is(err, ebpf.ErrKind(ExceededMaxInstructions))
// without caring about the populated fields, matching the
// errors.Is(err, vm.ErrHalted) idiom bassosimone-risc32 uses in its driver.
func (e *VMError) Is(target error) bool {
	other, ok := target.(*VMError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// ErrKind builds a bare *VMError carrying only a Kind, suitable as the
// target of errors.Is.
func ErrKind(k Kind) *VMError { return &VMError{Kind: k} }
