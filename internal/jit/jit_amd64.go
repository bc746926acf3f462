//go:build amd64 && unix

// Package jit compiles a verified program into native x86-64 machine code
// (§4.G). It is a single-pass translator in the style of the bytecode
// decoders in pkg/ebpf: walk pc 0..n once, emit a fixed-ish amount of native
// code per instruction, and fix up forward references once every
// instruction's text offset is known.
//
// Compiled code and its Go host cross exactly one boundary: invokeNative,
// called from Go. Anything compiled code cannot do itself (run an external
// function, report a fault with proper Go error values) it does by filling
// in RuntimeEnvironment's yield fields and returning, the way a generator
// yields instead of calling back into its caller — entering Go code from
// raw emitted bytes with no known calling convention is the one thing this
// package avoids entirely, following the exit-and-resume design
// tetratelabs-wazero's compiler engine uses for host-function calls.
package jit

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"runtime"
	"time"
	"unsafe"

	"github.com/ebpfcore/ebpfcore/pkg/ebpf"
)

// maxBytesPerInstruction upper-bounds how much native code one bytecode
// instruction can expand to, carried verbatim from
// original_source/src/jit.rs's MAX_MACHINE_CODE_LENGTH_PER_INSTRUCTION so
// the text-section allocation is sized generously enough in one pass.
const maxBytesPerInstruction = 110

// Anchor indices: shared subroutines emitted once, after every
// instruction's own code, and reached by relocated jumps (§4.G).
const (
	anchorEpilogue = iota
	anchorFaultDivideByZero
	anchorFaultDivideOverflow
	anchorFaultCallDepthExceeded
	anchorFaultCallOutsideTextSegment
	anchorFaultExceededMaxInstructions
	anchorFaultUnknownOpcode
	anchorFaultNestedYield
	anchorTranslateLoad
	anchorTranslateStore
	anchorResume
	numAnchors
)

// Field offsets into ebpf.RuntimeEnvironment, computed once at package init
// via unsafe.Offsetof rather than hardcoded: whatever layout the Go compiler
// picks, the JIT emits displacements that match it exactly.
var (
	offHostStackPointer         int32
	offCallDepth                int32
	offVMStackPointer           int32
	offPreviousInstructionMeter int32
	offProgramResultErr         int32
	offExitReason               int32
	offFaultKind                int32
	offFaultPC                  int32
	offResumePC                 int32
	offPendingCallKey           int32
	offPendingCallArgs          int32
	offRegistersPtr             int32
	offRegionTable              int32
	offRegionCount              int32
	offPCSectionBase            int32
	offTextSectionBase          int32
	offProgramResultValue       int32
)

func init() {
	var e ebpf.RuntimeEnvironment
	offHostStackPointer = int32(unsafe.Offsetof(e.HostStackPointer))
	offCallDepth = int32(unsafe.Offsetof(e.CallDepth))
	offVMStackPointer = int32(unsafe.Offsetof(e.VMStackPointer))
	offPreviousInstructionMeter = int32(unsafe.Offsetof(e.PreviousInstructionMeter))
	offProgramResultErr = int32(unsafe.Offsetof(e.ProgramResult))
	offExitReason = int32(unsafe.Offsetof(e.ExitReason))
	offFaultKind = int32(unsafe.Offsetof(e.FaultKind))
	offFaultPC = int32(unsafe.Offsetof(e.FaultPC))
	offResumePC = int32(unsafe.Offsetof(e.ResumePC))
	offPendingCallKey = int32(unsafe.Offsetof(e.PendingCallKey))
	offPendingCallArgs = int32(unsafe.Offsetof(e.PendingCallArgs))
	offRegistersPtr = int32(unsafe.Offsetof(e.RegistersPtr))
	offRegionTable = int32(unsafe.Offsetof(e.RegionTable))
	offRegionCount = int32(unsafe.Offsetof(e.RegionCount))
	offPCSectionBase = int32(unsafe.Offsetof(e.PCSectionBase))
	offTextSectionBase = int32(unsafe.Offsetof(e.TextSectionBase))
	offProgramResultValue = int32(unsafe.Offsetof(e.ProgramResult.Value))
}

// regionBoundsSize and field offsets within one ebpf.RegionBounds entry,
// used by the translate-address anchor's unrolled region scan.
var (
	regionBoundsSize      int32
	regionFieldVMBase     int32
	regionFieldLength     int32
	regionFieldPermission int32
	regionFieldHostBase   int32
)

func init() {
	var r ebpf.RegionBounds
	regionBoundsSize = int32(unsafe.Sizeof(r))
	regionFieldHostBase = int32(unsafe.Offsetof(r.HostBase))
	regionFieldVMBase = int32(unsafe.Offsetof(r.VMBase))
	regionFieldLength = int32(unsafe.Offsetof(r.Length))
	regionFieldPermission = int32(unsafe.Offsetof(r.Permission))
}

// invokeNative jumps into compiled code at entry with R15 pointed at env;
// implemented in invoke_amd64.s. Every return path in compiled code
// restores RSP from env.HostStackPointer before its final RET, so this
// always returns to here regardless of internal-call nesting depth at the
// moment compiled code decided to stop.
//
//go:noescape
func invokeNative(entry uintptr, env *ebpf.RuntimeEnvironment)

// Program is a compiled, loaded, ready-to-invoke artifact. It implements
// ebpf.CompiledProgram.
type Program struct {
	pages        *codePages
	entryOffset  int32
	resumeOffset int32
	pcToText     []int32
	externals    ebpf.ExternalFunctionTable
	registry     *ebpf.FunctionRegistry
	cfg          ebpf.Config
}

// Compile translates a verified Executable into native code. The Executable
// must already have Verify called successfully (§4.D "Any verifier failure
// is fatal before execution begins" applies transitively to compilation).
func Compile(exe *ebpf.Executable) (*Program, error) {
	if !exe.Verified() {
		return nil, &ebpf.VMError{Kind: ebpf.UnsupportedInstruction}
	}
	n := ebpf.NumInsns(exe.Program)
	c := &compiler{
		asm:      ebpf_asm_new(n * maxBytesPerInstruction),
		program:  exe.Program,
		cfg:      exe.Config,
		registry: exe.Registry,
		pcToText: make([]int32, n+1),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := c.compileAll(n); err != nil {
		return nil, err
	}
	entry, ok := exe.Registry.Lookup(ebpf.EntryPointKey)
	if !ok {
		return nil, &ebpf.VMError{Kind: ebpf.InvalidFunction, Key: ebpf.EntryPointKey}
	}
	// Entry stub: run the prologue, then jump to the entry function's code.
	entryOffset := int32(c.asm.Len())
	c.emitPrologue()
	c.asm.JmpRelPC(entry.PC)
	c.emitAnchors()
	c.resolveRelocations()

	pages, err := allocatePages(len(c.pcToText)*4, c.asm.Len())
	if err != nil {
		return nil, fmt.Errorf("allocating jit pages: %w", err)
	}
	for i, off := range c.pcToText {
		binary.LittleEndian.PutUint32(pages.pcSection[i*4:], uint32(off))
	}
	copy(pages.text, c.asm.Code)
	// Fill the rest of the mapped text page(s) with int3 trap bytes.
	for i, tail := len(pages.text), roundSlice(pages.text); i < len(tail); i++ {
		tail[i] = 0xcc
	}
	if err := pages.seal(); err != nil {
		return nil, err
	}

	p := &Program{
		pages:        pages,
		entryOffset:  entryOffset,
		resumeOffset: c.anchorOffset[anchorResume],
		pcToText:     c.pcToText,
		externals:    exe.Externals,
		registry:     exe.Registry,
		cfg:          exe.Config,
	}
	runtime.SetFinalizer(p, func(p *Program) { p.pages.release() })
	return p, nil
}

func ebpf_asm_new(capacity int) *Asm { return NewAsm(capacity) }

// Invoke runs the compiled program, handling yields (external calls) by
// resuming compiled code after dispatching them on the Go side, and
// translates a terminal fault into an *ebpf.VMError carrying the fault's
// Kind and PC (§8 equivalence invariant); the kind-specific detail fields
// the interpreter also fills in are left zero.
func (p *Program) Invoke(env *ebpf.RuntimeEnvironment, registers [12]uint64) (uint64, error) {
	env.RefreshRegionTable()
	env.RegistersPtr = uintptr(unsafe.Pointer(&registers))
	env.PCSectionBase = uintptr(unsafe.Pointer(&p.pages.pcSection[0]))
	env.TextSectionBase = uintptr(unsafe.Pointer(&p.pages.text[0]))
	initialRemaining := env.Ctx.GetRemaining()
	env.PreviousInstructionMeter = initialRemaining

	entry := uintptr(unsafe.Pointer(&p.pages.text[p.entryOffset]))
	for {
		invokeNative(entry, env)

		switch env.ExitReason {
		case 0:
			env.Ctx.Consume(initialRemaining - env.PreviousInstructionMeter)
			return env.ProgramResult.Value, env.ProgramResult.Err

		case 1:
			fn, ok := p.externals.Lookup(env.PendingCallKey)
			if !ok {
				return 0, &ebpf.VMError{Kind: ebpf.InvalidFunction, Key: env.PendingCallKey}
			}
			args := env.PendingCallArgs
			result, err := fn(env.Ctx, args[0], args[1], args[2], args[3], args[4], env.MemoryMapping)
			if err != nil {
				return 0, err
			}
			registers[ebpf.R0] = result
			env.RefreshRegionTable()
			// The Go call above may have moved this goroutine's stack and
			// clobbers arbitrary registers, so resuming jumps through a
			// trampoline that reloads RSP/registers from env rather than
			// continuing directly at ResumePC's text offset (§4.G).
			entry = uintptr(unsafe.Pointer(&p.pages.text[p.resumeOffset]))
			continue

		default: // 2: fault
			return 0, &ebpf.VMError{Kind: ebpf.Kind(env.FaultKind), PC: int(env.FaultPC)}
		}
	}
}
