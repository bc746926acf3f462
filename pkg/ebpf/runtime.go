package ebpf

// ProgramResult stands in for a Rust Result<u64, EbpfError>; Go has no sum
// type so the zero value of Err is the discriminant (§3 "program-result (a sum of Ok(u64) | Err(ErrorKind))").
type ProgramResult struct {
	Err   error
	Value uint64
}

// Ok reports whether the program completed without a runtime error.
func (r ProgramResult) Ok() bool { return r.Err == nil }

// RuntimeEnvironmentSlotCount is the number of slot indices below (§3
// "Slots, in order"); because SlotProgramResult spans three 8-byte words,
// the slots take eleven words in all.
const RuntimeEnvironmentSlotCount = 9

// Runtime-environment slot indices. This order is the JIT's ABI contract:
// emitted loads/stores address these slots at compile-time-known offsets
// through the rbp-pivot register (§3, §4.H). A test in runtime_test.go
// asserts the slot fields start at offset 0 and are laid out in this order.
// Byte offsets are not index * 8: the slots after SlotProgramResult sit two
// words further out, and the JIT takes every offset from unsafe.Offsetof.
const (
	SlotHostStackPointer = iota
	SlotCallDepth
	SlotVMStackPointer
	SlotContextObjectPointer
	SlotPreviousInstructionMeter
	SlotStopwatchNumerator
	SlotStopwatchDenominator
	SlotProgramResult // three words: Err (a two-word interface) + Value
	SlotMemoryMapping
)

// RuntimeEnvironment is the per-invocation mutable record aliased between
// the host (interpreter, CLI driver) and JIT-emitted code (§4.H). Field
// order matches the slot constants above; do not reorder without updating
// the JIT's displacement table in internal/jit.
type RuntimeEnvironment struct {
	HostStackPointer        uint64
	CallDepth               uint64
	VMStackPointer          uint64
	ContextObjectPointer    uintptr // keeps the slot order; nothing sets or reads it
	PreviousInstructionMeter uint64
	StopwatchNumerator      uint64
	StopwatchDenominator    uint64
	ProgramResult           ProgramResult
	MemoryMapping           *MemoryMapping

	// Ctx is the actual Go-side context object, read directly by the
	// interpreter and by the JIT's Go-side driver (emitted code never reads
	// it). Holding it as an interface mirrors rbpf's RuntimeEnvironment<C>
	// generic parameter without requiring Go generics across the
	// JIT/interpreter boundary (which would force the JIT to be generated
	// per ContextObject type).
	Ctx ContextObject

	CallFrames []CallFrame

	// The fields below exist only for the JIT/host boundary (internal/jit):
	// compiled code cannot call back into arbitrary Go closures, so it
	// "yields" to its Go caller by filling these in and returning, the way
	// a generator yields a value instead of being called back into. Native
	// code never touches anything else on this struct except through the
	// fixed-offset slots above and RegionTable below.

	// ExitReason distinguishes why compiled code returned control:
	// 0 = finished (ProgramResult is final), 1 = pending external call
	// (PendingCallKey/PendingCallArgs are set, resume at ResumePC),
	// 2 = fault (FaultKind/FaultPC describe it).
	ExitReason     uint64
	FaultKind      int32
	FaultPC        int32
	ResumePC       int32
	PendingCallKey uint32
	PendingCallArgs [5]uint64

	// RegistersPtr is the address of the [12]uint64 register array Invoke
	// was called with, so compiled code can spill/reload it around a yield
	// without the host needing a dedicated register to carry the pointer.
	RegistersPtr uintptr

	// RegionTable is a bounded snapshot of MemoryMapping's regions, refreshed
	// by the host before every entry into compiled code so the translate-
	// address anchor can resolve a vm address with pure register/memory
	// comparisons instead of calling back into Go (§4.G, §4.B rationale).
	RegionTable [MaxJitRegions]RegionBounds
	RegionCount int32

	// PCSectionBase and TextSectionBase let compiled code resolve a CALL_REG
	// target (a vm address) to a native entry point without a register
	// permanently reserved for either: the host loads them once before
	// invoking, and emitted code reads them back through the rbp-pivot only
	// at the point it executes a CALL_REG (§4.F dynamic call).
	PCSectionBase   uintptr
	TextSectionBase uintptr
}

// MaxJitRegions bounds RegionTable; four regions (program, stack, heap,
// input) cover every scenario in §8, with headroom for a caller-supplied
// rodata region.
const MaxJitRegions = 8

// RegionBounds is the native-code-readable projection of a MemoryRegion.
type RegionBounds struct {
	HostBase   uintptr
	VMBase     uint64
	Length     uint64
	Permission Permission
	GapStride  uint64
}

// RefreshRegionTable copies mapping's regions into env.RegionTable, called by
// the JIT driver immediately before every entry/resume into compiled code.
func (env *RuntimeEnvironment) RefreshRegionTable() {
	regions := env.MemoryMapping.regions
	n := len(regions)
	if n > MaxJitRegions {
		n = MaxJitRegions
	}
	for i := 0; i < n; i++ {
		r := regions[i]
		env.RegionTable[i] = RegionBounds{
			HostBase:   r.HostBase,
			VMBase:     r.VMBase,
			Length:     r.Length,
			Permission: r.Permission,
			GapStride:  r.GapStride,
		}
	}
	env.RegionCount = int32(n)
}

// CallFrame is one entry of the internal call stack (§4.F): the return pc
// and the vm stack pointer to restore on EXIT at depth > 0.
type CallFrame struct {
	ReturnPC       int
	SavedVMSP      uint64
	SavedRegisters [ScratchRegs]uint64
}

// NewRuntimeEnvironment allocates a fresh runtime environment for one
// invocation around the caller-supplied context object and memory mapping,
// with the vm stack pointer set to vmStackTop; it allocates no memory
// regions itself (§5 "each invocation owns its own runtime environment").
func NewRuntimeEnvironment(ctx ContextObject, mapping *MemoryMapping, vmStackTop uint64) *RuntimeEnvironment {
	return &RuntimeEnvironment{
		VMStackPointer: vmStackTop,
		Ctx:            ctx,
		MemoryMapping:  mapping,
	}
}
