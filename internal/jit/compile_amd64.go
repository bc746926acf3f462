//go:build amd64 && unix

package jit

import (
	"math/rand"

	"github.com/ebpfcore/ebpfcore/pkg/ebpf"
)

type compiler struct {
	asm          *Asm
	program      []byte
	cfg          ebpf.Config
	registry     *ebpf.FunctionRegistry
	pcToText     []int32
	rng          *rand.Rand
	anchorOffset [numAnchors]int32
	sinceCheckpoint uint32
}

func hostReg(vreg uint8) int { return RegisterMap[vreg] }

// compileAll walks the verified program once, emitting native code for
// every instruction and recording its text offset in pcToText. Forward
// branches and calls to anchors are left as relocations (§4.G single pass).
func (c *compiler) compileAll(n int) error {
	c.emitPrologue()
	skip := false
	for pc := 0; pc < n; pc++ {
		if skip {
			skip = false
			c.pcToText[pc] = c.pcToText[pc-1]
			continue
		}
		c.pcToText[pc] = int32(c.asm.Len())
		insn := ebpf.GetInsn(c.program, pc)
		if insn.Opcode == ebpf.OpLdDW {
			full := ebpf.AugmentLddw(c.program, pc, insn)
			c.emitImm64(hostReg(insn.Dst), full)
			skip = true
			c.maybeNoop()
			continue
		}
		c.emitInsn(pc, insn)
		c.maybeCheckpoint(pc)
		c.maybeNoop()
	}
	c.pcToText[n] = int32(c.asm.Len())
	return nil
}

// emitPrologue saves the host stack pointer into the runtime environment
// (every exit path restores RSP from this slot, unwinding any nested
// internal-call frames in one step regardless of depth) and loads the
// program-visible registers from the caller-supplied array.
func (c *compiler) emitPrologue() {
	a := c.asm
	a.MovStoreMem(8, R15, offHostStackPointer, RSP)
	// R10 := env.RegistersPtr; load each mapped register from it.
	a.MovLoadMem(8, PCRegScratch, R15, offRegistersPtr)
	for vreg := 0; vreg < ebpf.NumRegisters; vreg++ {
		a.MovLoadMem(8, hostReg(uint8(vreg)), PCRegScratch, int32(vreg*8))
	}
}

// emitSpillRegisters writes every mapped host register back into the
// caller's register array, used before yielding to Go (external call) so
// the Go side sees up to date values and so the spilled values survive Go
// code running (and clobbering CPU registers) in between.
func (c *compiler) emitSpillRegisters() {
	a := c.asm
	a.MovLoadMem(8, PCRegScratch, R15, offRegistersPtr)
	for vreg := 0; vreg < ebpf.NumRegisters; vreg++ {
		a.MovStoreMem(8, PCRegScratch, int32(vreg*8), hostReg(uint8(vreg)))
	}
}

func (c *compiler) emitReloadRegisters() {
	a := c.asm
	a.MovLoadMem(8, PCRegScratch, R15, offRegistersPtr)
	for vreg := 0; vreg < ebpf.NumRegisters; vreg++ {
		a.MovLoadMem(8, hostReg(uint8(vreg)), PCRegScratch, int32(vreg*8))
	}
}

func (c *compiler) emitImm64(dst int, v uint64) {
	if c.cfg.SanitizeUserProvidedValues {
		mask := c.rng.Uint64()
		c.asm.MovRegImm64(dst, v^mask)
		c.asm.MovRegImm64(AddrScratch, mask)
		c.asm.AluRegReg(true, AluXor, dst, AddrScratch)
		return
	}
	c.asm.MovRegImm64(dst, v)
}

func (c *compiler) emitImm32(dst int, v uint32, is64 bool) {
	if c.cfg.SanitizeUserProvidedValues {
		mask := uint32(c.rng.Uint64())
		c.asm.MovRegImm32(is64, dst, v^mask)
		c.asm.AluRegImm32(is64, AluXor, dst, mask)
		return
	}
	c.asm.MovRegImm32(is64, dst, v)
}

// maybeNoop implements the noop-insertion half of constant diversification
// (§4.G): with mean spacing Config.NoopInstructionRate, splice in a single
// one-byte nop so repeated compilations of the same program don't produce
// byte-identical text.
func (c *compiler) maybeNoop() {
	rate := c.cfg.NoopInstructionRate
	if rate == 0 {
		return
	}
	if c.rng.Uint32()%rate == 0 {
		c.asm.Nop1()
	}
}

// maybeCheckpoint folds instruction-meter accounting into an occasional
// compare-and-branch rather than a per-instruction decrement: every
// Config.InstructionMeterCheckpointDistance instructions, subtract the
// block length from the meter and fault if it went negative (§4.G "integral
// technique").
func (c *compiler) maybeCheckpoint(pc int) {
	if !c.cfg.EnableInstructionMeter {
		return
	}
	c.sinceCheckpoint++
	dist := c.cfg.InstructionMeterCheckpointDistance
	if dist == 0 {
		dist = 1
	}
	if c.sinceCheckpoint < dist {
		return
	}
	n := c.sinceCheckpoint
	c.sinceCheckpoint = 0
	a := c.asm
	storeFaultPC(a, pc)
	a.MovLoadMem(8, PCRegScratch, R15, offPreviousInstructionMeter)
	a.AluRegImm32(true, AluSub, PCRegScratch, n)
	a.MovStoreMem(8, R15, offPreviousInstructionMeter, PCRegScratch)
	a.MovRegImm32(true, AddrScratch, 0)
	a.AluRegReg(true, AluCmp, PCRegScratch, AddrScratch)
	a.JccRelAnchor(CondL, anchorFaultExceededMaxInstructions)
}

// storeFaultPC is emitted right before a conditional jump to a fault anchor
// whose handler reads env.FaultPC; it is cheap enough to always run rather
// than threading pc through the anchor itself.
func storeFaultPC(a *Asm, pc int) {
	a.MovRegImm32(false, AddrScratch, uint32(pc))
	a.MovStoreMem(4, R15, offFaultPC, AddrScratch)
}

func (c *compiler) emitInsn(pc int, insn ebpf.Insn) {
	a := c.asm
	class := insn.Opcode & 0x07
	switch {
	case insn.Opcode == ebpf.OpJa:
		a.JmpRelPC(pc + 1 + int(insn.Offset))
	case insn.Opcode == ebpf.OpExit:
		c.emitExit(pc)
	case insn.Opcode == ebpf.OpCallImm:
		c.emitCallImm(pc, insn)
	case insn.Opcode == ebpf.OpCallReg:
		c.emitCallReg(pc, insn)
	case class == ebpf.ClassLdx:
		c.emitLoad(pc, insn)
	case class == ebpf.ClassSt || class == ebpf.ClassStx:
		c.emitStore(pc, insn)
	case class == ebpf.ClassAlu || class == ebpf.ClassAlu64:
		c.emitAlu(pc, insn)
	case class == ebpf.ClassJmp || class == ebpf.ClassJmp32:
		c.emitJumpCond(pc, insn)
	default:
		storeFaultPC(a, pc)
		a.JmpRelAnchor(anchorFaultUnknownOpcode)
	}
}

var aluX86Op = map[uint8]AluOp{
	ebpf.AluAdd: AluAdd, ebpf.AluOr: AluOr, ebpf.AluAnd: AluAnd,
	ebpf.AluSub: AluSub, ebpf.AluXor: AluXor,
}

func (c *compiler) emitAlu(pc int, insn ebpf.Insn) {
	a := c.asm
	is64 := insn.Opcode&0x07 == ebpf.ClassAlu64
	op := insn.Opcode &^ 0x0f
	isReg := insn.Opcode&ebpf.SrcX != 0
	dst := hostReg(insn.Dst)

	loadOperand := func(into int) {
		if isReg {
			a.MovRegReg(true, into, hostReg(insn.Src))
			return
		}
		c.emitImm32(into, uint32(insn.Imm), true)
	}

	switch op {
	case ebpf.AluAdd, ebpf.AluSub, ebpf.AluOr, ebpf.AluAnd, ebpf.AluXor:
		x86op := aluX86Op[op]
		if isReg {
			a.AluRegReg(is64, x86op, dst, hostReg(insn.Src))
		} else {
			a.AluRegImm32(is64, x86op, dst, uint32(insn.Imm))
		}
	case ebpf.AluMov:
		if isReg {
			a.MovRegReg(is64, dst, hostReg(insn.Src))
		} else {
			c.emitImm32(dst, uint32(insn.Imm), is64)
		}
	case ebpf.AluMul:
		loadOperand(AddrScratch)
		a.IMulRegReg(is64, dst, AddrScratch)
	case ebpf.AluNeg:
		a.Neg(is64, dst)
	case ebpf.AluLsh:
		c.emitShift(insn, dst, ShiftShl, is64, isReg)
	case ebpf.AluRsh:
		c.emitShift(insn, dst, ShiftShr, is64, isReg)
	case ebpf.AluArsh:
		c.emitShift(insn, dst, ShiftSar, is64, isReg)
	case ebpf.AluDiv, ebpf.AluMod:
		c.emitDivMod(pc, insn, dst, is64, isReg, op == ebpf.AluMod)
	case ebpf.AluEnd:
		c.emitEndian(insn, dst)
	}

	if !is64 && op != ebpf.AluEnd {
		a.Movsxd(dst, dst)
	}
}

func (c *compiler) emitShift(insn ebpf.Insn, dst int, op ShiftOp, is64, isReg bool) {
	a := c.asm
	if isReg {
		src := hostReg(insn.Src)
		if src != RCX {
			a.MovRegReg(true, RCX, src)
		}
		a.ShiftRegCL(is64, op, dst)
		return
	}
	width := 32
	if is64 {
		width = 64
	}
	a.ShiftRegImm8(is64, op, dst, uint8(int(insn.Imm)%width))
}

// emitDivMod implements integer division/modulo. The x86 DIV/IDIV family
// hardwires RAX:RDX, so both are always saved/restored around the sequence
// regardless of which vregs happen to be mapped onto them (§4.G).
func (c *compiler) emitDivMod(pc int, insn ebpf.Insn, dst int, is64, isReg, isMod bool) {
	a := c.asm
	signed := insn.Offset == 1

	var divisor int
	if isReg {
		divisor = hostReg(insn.Src)
		// Runtime zero check only applies to the register form; the
		// immediate form is statically rejected by the verifier when
		// zero (§4.E).
		storeFaultPC(a, pc)
		a.TestRegReg(true, divisor)
		a.JccRelAnchor(CondE, anchorFaultDivideByZero)
		if divisor == RAX || divisor == RDX {
			a.MovRegReg(true, AddrScratch, divisor)
			divisor = AddrScratch
		}
	} else {
		c.emitImm32(AddrScratch, uint32(insn.Imm), true)
		divisor = AddrScratch
	}

	a.Push(RAX)
	a.Push(RDX)
	if dst != RAX {
		a.MovRegReg(true, RAX, dst)
	}
	if signed {
		if is64 {
			a.Cqo()
		} else {
			a.Cqo() // approximate: rely on Movsxd after the op for 32-bit width
		}
		a.IDivReg(is64, divisor)
	} else {
		a.AluRegReg(true, AluXor, RDX, RDX)
		a.DivReg(is64, divisor)
	}
	result := RAX
	if isMod {
		result = RDX
	}
	// The pops below always restore RAX and RDX to their pre-division
	// values, including when dst is RAX or RDX itself, so the result must
	// be rescued into AddrScratch before they run, then written to dst
	// afterward, regardless of whether dst aliases result.
	a.MovRegReg(true, AddrScratch, result)
	a.Pop(RDX)
	a.Pop(RAX)
	a.MovRegReg(true, dst, AddrScratch)
}

// emitEndian implements the LE/BE intrinsics with the interpreter's
// endianSwap results: LE truncates to the requested width (a no-op at 64 on
// this little-endian host), BE byte-swaps within the requested width and
// zero-extends.
func (c *compiler) emitEndian(insn ebpf.Insn, dst int) {
	a := c.asm
	if insn.Opcode == ebpf.OpBe {
		// bswap r32/r64 (0F C8+r); the 32-bit form clears the upper half.
		a.emitREXifNeeded(insn.Imm == 64, 0, dst)
		a.emit(0x0f, 0xc8+byte(dst&7))
		if insn.Imm == 16 {
			a.ShiftRegImm8(false, ShiftShr, dst, 16)
		}
		return
	}
	switch insn.Imm {
	case 16:
		c.asm.AluRegImm32(false, AluAnd, dst, 0xffff)
	case 32:
		c.asm.AluRegImm32(false, AluAnd, dst, 0xffffffff)
	}
}

func (c *compiler) emitLoad(pc int, insn ebpf.Insn) {
	a := c.asm
	dst := hostReg(insn.Dst)
	base := hostReg(insn.Src)
	width := widthOf(insn.Opcode)
	c.emitTranslate(pc, base, int32(insn.Offset), width, false)
	// AddrScratch now holds the host pointer (see emitTranslate). Loads are
	// always zero-extending (§4.A); MovLoadMem already does that for every
	// width (movzx for 1/2, plain 32-bit mov for 4 zero-extends the upper
	// half on amd64), so no further sign-extension belongs here.
	a.MovLoadMem(width, dst, AddrScratch, 0)
}

func (c *compiler) emitStore(pc int, insn ebpf.Insn) {
	a := c.asm
	base := hostReg(insn.Dst)
	width := widthOf(insn.Opcode)
	c.emitTranslate(pc, base, int32(insn.Offset), width, true)
	var src int
	if insn.Opcode&0x07 == ebpf.ClassStx {
		src = hostReg(insn.Src)
	} else {
		c.emitImm32(AddrScratch2(), uint32(insn.Imm), true)
		src = addrScratch2
	}
	a.MovStoreMem(width, AddrScratch, 0, src)
}

// addrScratch2 and AddrScratch2 provide a second scratch register for the
// immediate-store path, since AddrScratch already holds the translated
// pointer at that point. R10 (PCRegScratch) is free here: loads/stores
// never need pc-tracking mid-instruction.
const addrScratch2 = PCRegScratch

func AddrScratch2() int { return addrScratch2 }

func widthOf(opcode uint8) int {
	switch opcode & 0x18 {
	case ebpf.SizeB:
		return 1
	case ebpf.SizeH:
		return 2
	case ebpf.SizeW:
		return 4
	default:
		return 8
	}
}

// emitTranslate resolves base+offset against env.RegionTable, leaving the
// host pointer in AddrScratch, or jumping to the appropriate
// access-violation anchor. It is the native counterpart of
// MemoryMapping.Region/checkAccess (§4.B rationale), with no Go call needed
// since the table was refreshed by the host before entry. Unlike
// MemoryMapping.Region, it checks only the start address against a
// region's bounds and permission: the access width and GapStride are not
// checked.
func (c *compiler) emitTranslate(pc int, base int, offset int32, width int, store bool) {
	a := c.asm
	storeFaultPC(a, pc)
	// vm address = base + offset, placed in AddrScratch.
	a.MovRegReg(true, AddrScratch, base)
	if offset != 0 {
		a.AluRegImm32(true, AluAdd, AddrScratch, uint32(offset))
	}
	anchor := anchorTranslateLoad
	if store {
		anchor = anchorTranslateStore
	}
	a.CallRelAnchor(anchor)
	_ = width // unused: the anchor tests only the start address (see emitTranslateAnchor)
}

// emitJccPlaceholder/emitJmpPlaceholder/patchLocal implement local,
// intra-instruction control flow (a single forward branch within one
// emitXxx call) without going through the pc/anchor relocation table: the
// target is known by the time the patch is made since everything here
// is emitted in one straight-line pass.
func emitJccPlaceholder(a *Asm, cc CondCode) int {
	a.emit(0x0f, 0x80+byte(cc))
	off := a.Len()
	a.emitU32(0)
	return off
}

func patchLocal(a *Asm, patchOffset int) {
	rel := uint32(a.Len() - (patchOffset + 4))
	a.Code[patchOffset] = byte(rel)
	a.Code[patchOffset+1] = byte(rel >> 8)
	a.Code[patchOffset+2] = byte(rel >> 16)
	a.Code[patchOffset+3] = byte(rel >> 24)
}

// scratchHostRegsInOrder are the host registers holding r6..r9, the
// callee-saved vregs an internal call's prologue pushes and its matching
// EXIT pops (§4.F, original_source's jit.rs SCRATCH_REGS).
var scratchHostRegsInOrder = []int{RegisterMap[6], RegisterMap[7], RegisterMap[8], RegisterMap[9]}

// emitExit implements EXIT (§4.F): at call depth 0 the program is done, so
// r0/ProgramResult are published and compiled code returns to invokeNative
// through the epilogue anchor. At depth > 0 this is the return from an
// internal call; the matching CALL_IMM/CALL_REG pushed a native return
// address via CALL, so unwinding the pushed scratch registers and frame
// accounting then emitting a plain RET hands control back to the call site.
func (c *compiler) emitExit(pc int) {
	a := c.asm
	a.MovLoadMem(8, AddrScratch, R15, offCallDepth)
	a.TestRegReg(true, AddrScratch)
	toReturn := emitJccPlaceholder(a, CondNE)

	a.MovStoreMem(8, R15, offProgramResultValue, RegisterMap[ebpf.R0])
	a.MovRegImm32(true, AddrScratch, 0)
	a.MovStoreMem(8, R15, offExitReason, AddrScratch)
	a.JmpRelAnchor(anchorEpilogue)

	patchLocal(a, toReturn)
	a.MovLoadMem(8, AddrScratch, R15, offCallDepth)
	a.AluRegImm32(true, AluSub, AddrScratch, 1)
	a.MovStoreMem(8, R15, offCallDepth, AddrScratch)
	a.Pop(AddrScratch) // return address pushed by the CALL
	for i := len(scratchHostRegsInOrder) - 1; i >= 0; i-- {
		a.Pop(scratchHostRegsInOrder[i])
	}
	a.AluRegImm32(true, AluSub, RegisterMap[ebpf.R10], uint32(c.cfg.EffectiveStackFrameSize()))
	a.JmpReg(AddrScratch)
}

// emitCallInternalPrologue pushes the scratch-register frame an internal
// call's matching EXIT (at depth > 0) expects to pop, checks and bumps
// CallDepth, and grows the vm stack pointer by one frame (§4.F, mirrors
// interpreter.go's CallImm/CallReg bookkeeping).
func (c *compiler) emitCallInternalPrologue(pc int) {
	a := c.asm
	storeFaultPC(a, pc)
	for _, hr := range scratchHostRegsInOrder {
		a.Push(hr)
	}
	a.MovLoadMem(8, AddrScratch, R15, offCallDepth)
	a.AluRegImm32(true, AluAdd, AddrScratch, 1)
	a.MovRegImm32(true, PCRegScratch, uint32(c.cfg.MaxCallDepth))
	a.AluRegReg(true, AluCmp, AddrScratch, PCRegScratch)
	a.JccRelAnchor(CondA, anchorFaultCallDepthExceeded)
	a.MovStoreMem(8, R15, offCallDepth, AddrScratch)
	a.AluRegImm32(true, AluAdd, RegisterMap[ebpf.R10], uint32(c.cfg.EffectiveStackFrameSize()))
}

// emitExternalYield implements the non-internal half of CALL_IMM: spill
// registers for the Go side to read, describe the pending call, and return
// to invokeNative's caller with ExitReason=1 (§4.G "exit-and-resume").
// ResumePC is filled in as a relocation since pc+1's text offset isn't
// known until the whole program has been compiled.
func (c *compiler) emitExternalYield(pc int, key uint32) {
	a := c.asm
	// Yielding unwinds to invokeNative's caller through the shared epilogue,
	// which resets RSP to its value at the outermost entry — any internal-
	// call frames pushed by nested CALL_IMM/CALL_REG would be silently
	// dropped from the native stack. Rather than resume into a state that
	// no longer matches CallDepth, reject the (rare) case of an external
	// call nested inside an internal one.
	storeFaultPC(a, pc)
	a.MovLoadMem(8, AddrScratch, R15, offCallDepth)
	a.TestRegReg(true, AddrScratch)
	a.JccRelAnchor(CondNE, anchorFaultNestedYield)

	c.emitSpillRegisters()
	for i := 0; i < 5; i++ {
		a.MovRegReg(true, AddrScratch, hostReg(uint8(ebpf.R1+i)))
		a.MovStoreMem(8, R15, offPendingCallArgs+int32(i*8), AddrScratch)
	}
	a.MovRegImm32(true, AddrScratch, key)
	a.MovStoreMem(4, R15, offPendingCallKey, AddrScratch)
	a.MovImm32PatchPC(AddrScratch, pc+1)
	a.MovStoreMem(4, R15, offResumePC, AddrScratch)
	a.MovRegImm32(true, AddrScratch, 1)
	a.MovStoreMem(8, R15, offExitReason, AddrScratch)
	a.JmpRelAnchor(anchorEpilogue)
}

// emitCallImm implements CALL_IMM: a statically known internal target uses
// the host CALL/RET pair directly (§4.F), everything else yields to Go.
func (c *compiler) emitCallImm(pc int, insn ebpf.Insn) {
	key := uint32(insn.Imm)
	entry, isInternal := c.registry.Lookup(key)
	if c.cfg.StaticSyscalls && insn.Src == 0 {
		isInternal = false
	}
	if !isInternal {
		c.emitExternalYield(pc, key)
		return
	}
	c.emitCallInternalPrologue(pc)
	c.asm.CallRelPC(entry.PC)
}

// emitCallReg implements CALL_REG (§4.F "dynamic call"): the target is a vm
// address held in a register, checked against the program's text segment
// the same way interpreter.go's CallReg does, then resolved to a native
// entry point through the pc-section the host populated at Compile time.
func (c *compiler) emitCallReg(pc int, insn ebpf.Insn) {
	a := c.asm
	target := hostReg(insn.Src)

	storeFaultPC(a, pc)
	a.MovRegImm64(AddrScratch, ebpf.VMAddrProgram)
	a.AluRegReg(true, AluCmp, target, AddrScratch)
	a.JccRelAnchor(CondB, anchorFaultCallOutsideTextSegment)
	a.MovRegImm64(AddrScratch, ebpf.VMAddrProgram+uint64(len(c.program)))
	a.AluRegReg(true, AluCmp, target, AddrScratch)
	a.JccRelAnchor(CondAE, anchorFaultCallOutsideTextSegment)

	c.emitCallInternalPrologue(pc)

	// targetPC = (target - VMAddrProgram) / InsnSize; target's host
	// register still holds its value here (the prologue above only pushed
	// copies of r6..r9, never clobbering the CPU register itself).
	a.MovRegReg(true, AddrScratch, target)
	a.MovRegImm64(PCRegScratch, ebpf.VMAddrProgram)
	a.AluRegReg(true, AluSub, AddrScratch, PCRegScratch)
	a.ShiftRegImm8(true, ShiftShr, AddrScratch, 3)
	a.ShiftRegImm8(true, ShiftShl, AddrScratch, 2)
	a.MovLoadMem(8, PCRegScratch, R15, offPCSectionBase)
	a.AluRegReg(true, AluAdd, PCRegScratch, AddrScratch)
	a.MovLoadMem(4, AddrScratch, PCRegScratch, 0)
	a.MovLoadMem(8, PCRegScratch, R15, offTextSectionBase)
	a.AluRegReg(true, AluAdd, AddrScratch, PCRegScratch)
	a.CallReg(AddrScratch)
}

// jmpCond maps an eBPF jump opcode (with its class bits masked off) to the
// x86 condition code that implements it; JmpJset has no direct x86
// equivalent and is special-cased in emitJumpCond.
var jmpCond = map[uint8]CondCode{
	ebpf.JmpJeq:  CondE,
	ebpf.JmpJne:  CondNE,
	ebpf.JmpJgt:  CondA,
	ebpf.JmpJge:  CondAE,
	ebpf.JmpJlt:  CondB,
	ebpf.JmpJle:  CondBE,
	ebpf.JmpJsgt: CondG,
	ebpf.JmpJsge: CondGE,
	ebpf.JmpJslt: CondL,
	ebpf.JmpJsle: CondLE,
}

// emitJumpCond implements the conditional-branch family (§4.A), for both
// the 64-bit (ClassJmp) and 32-bit (ClassJmp32) comparison widths.
func (c *compiler) emitJumpCond(pc int, insn ebpf.Insn) {
	a := c.asm
	is64 := insn.Opcode&0x07 == ebpf.ClassJmp
	op := insn.Opcode &^ 0x0f
	dst := hostReg(insn.Dst)
	target := pc + 1 + int(insn.Offset)

	var src int
	if insn.Opcode&ebpf.SrcX != 0 {
		src = hostReg(insn.Src)
	} else {
		c.emitImm32(AddrScratch, uint32(insn.Imm), true)
		src = AddrScratch
	}

	if op == ebpf.JmpJset {
		a.MovRegReg(true, PCRegScratch, dst)
		a.AluRegReg(is64, AluAnd, PCRegScratch, src)
		a.TestRegReg(is64, PCRegScratch)
		a.JccRelPC(CondNE, target)
		return
	}

	a.AluRegReg(is64, AluCmp, dst, src)
	a.JccRelPC(jmpCond[op], target)
}

// emitSetFault records kind/pc as the terminal fault and returns control to
// invokeNative's caller through the shared epilogue (§4.G, §8 equivalence:
// the resulting *ebpf.VMError.Kind matches what the interpreter would have
// produced for the same condition).
func (c *compiler) emitSetFault(kind ebpf.Kind) {
	a := c.asm
	a.MovRegImm32(true, AddrScratch, uint32(kind))
	a.MovStoreMem(4, R15, offFaultKind, AddrScratch)
	a.MovRegImm32(true, AddrScratch, 2)
	a.MovStoreMem(8, R15, offExitReason, AddrScratch)
	a.JmpRelAnchor(anchorEpilogue)
}

// emitTranslateAnchor is the callable subroutine CallRelAnchor(anchorTranslate{Load,Store})
// reaches: AddrScratch holds a vm address on entry, env.RegionTable[0:RegionCount]
// is scanned unrolled (bounded by MaxJitRegions, so no loop-counter register
// is needed), and on a match AddrScratch is rewritten to the corresponding
// host pointer before RET. No match, or a permission mismatch, falls through
// to the matching access-violation fault instead of returning.
//
// The per-access length isn't threaded into this scan: only the start
// address is tested against a region's bounds, whereas MemoryMapping.Region
// checks the whole [vmAddr, vmAddr+length) range and GapStride gaps; see
// DESIGN.md.
func (c *compiler) emitTranslateAnchor(store bool) {
	a := c.asm
	required := uint32(ebpf.Readable)
	if store {
		required = uint32(ebpf.Writable)
	}

	var toNext []int
	for i := 0; i < ebpf.MaxJitRegions; i++ {
		slot := offRegionTable + int32(i)*regionBoundsSize

		a.MovRegImm32(true, PCRegScratch, uint32(i))
		a.AluRegMem(true, AluCmp, PCRegScratch, R15, offRegionCount)
		toNext = append(toNext, emitJccPlaceholder(a, CondAE))

		a.AluRegMem(true, AluCmp, AddrScratch, R15, slot+regionFieldVMBase)
		toNext = append(toNext, emitJccPlaceholder(a, CondB))

		a.MovLoadMem(8, PCRegScratch, R15, slot+regionFieldVMBase)
		a.AluRegMem(true, AluAdd, PCRegScratch, R15, slot+regionFieldLength)
		a.AluRegReg(true, AluCmp, AddrScratch, PCRegScratch)
		toNext = append(toNext, emitJccPlaceholder(a, CondAE))

		a.MovLoadMem(1, PCRegScratch, R15, slot+regionFieldPermission)
		a.AluRegImm32(false, AluAnd, PCRegScratch, required)
		toNext = append(toNext, emitJccPlaceholder(a, CondE))

		a.MovLoadMem(8, PCRegScratch, R15, slot+regionFieldVMBase)
		a.AluRegReg(true, AluSub, AddrScratch, PCRegScratch)
		a.MovLoadMem(8, PCRegScratch, R15, slot+regionFieldHostBase)
		a.AluRegReg(true, AluAdd, AddrScratch, PCRegScratch)
		a.Ret()

		for _, off := range toNext {
			patchLocal(a, off)
		}
		toNext = toNext[:0]
	}

	c.emitSetFault(ebpf.AccessViolation)
}

// emitAnchors emits every shared subroutine once, after all per-instruction
// code: the epilogue every exit path reaches, one handler per fault kind,
// and the two memory-translation anchors (§4.G).
func (c *compiler) emitAnchors() {
	a := c.asm

	c.anchorOffset[anchorEpilogue] = int32(a.Len())
	a.MovLoadMem(8, RSP, R15, offHostStackPointer)
	a.Ret()

	c.anchorOffset[anchorFaultDivideByZero] = int32(a.Len())
	c.emitSetFault(ebpf.DivisionByZero)

	c.anchorOffset[anchorFaultDivideOverflow] = int32(a.Len())
	c.emitSetFault(ebpf.DivideOverflow)

	c.anchorOffset[anchorFaultCallDepthExceeded] = int32(a.Len())
	c.emitSetFault(ebpf.CallDepthExceeded)

	c.anchorOffset[anchorFaultCallOutsideTextSegment] = int32(a.Len())
	c.emitSetFault(ebpf.CallOutsideTextSegment)

	c.anchorOffset[anchorFaultExceededMaxInstructions] = int32(a.Len())
	c.emitSetFault(ebpf.ExceededMaxInstructions)

	c.anchorOffset[anchorFaultUnknownOpcode] = int32(a.Len())
	c.emitSetFault(ebpf.UnknownOpCode)

	c.anchorOffset[anchorFaultNestedYield] = int32(a.Len())
	c.emitSetFault(ebpf.UnsupportedInstruction)

	c.anchorOffset[anchorTranslateLoad] = int32(a.Len())
	c.emitTranslateAnchor(false)

	c.anchorOffset[anchorTranslateStore] = int32(a.Len())
	c.emitTranslateAnchor(true)

	c.anchorOffset[anchorResume] = int32(a.Len())
	c.emitResumeTrampoline()
}

// emitResumeTrampoline is the entry point used every time Invoke resumes
// compiled code after dispatching a yielded external call (§4.G). The Go
// code that ran in between may have clobbered any native register and, on
// a goroutine stack growth, moved the stack compiled code was running on,
// so resuming cannot simply jump back into the middle of a previous
// native-register-holding sequence: it re-establishes the same invariants
// emitPrologue does (current RSP saved, registers reloaded) before jumping
// to ResumePC's text offset, already fixed up by resolveRelocations.
func (c *compiler) emitResumeTrampoline() {
	a := c.asm
	a.MovStoreMem(8, R15, offHostStackPointer, RSP)
	c.emitReloadRegisters()
	a.MovLoadMem(4, AddrScratch, R15, offResumePC)
	a.MovLoadMem(8, PCRegScratch, R15, offTextSectionBase)
	a.AluRegReg(true, AluAdd, AddrScratch, PCRegScratch)
	a.JmpReg(AddrScratch)
}

// resolveRelocations patches every deferred reference recorded during
// emission, once every instruction's and anchor's text offset is final.
func (c *compiler) resolveRelocations() {
	code := c.asm.Code
	for _, r := range c.asm.Relos {
		var target int32
		if r.IsPC {
			target = c.pcToText[r.TargetPC]
		} else {
			target = c.anchorOffset[r.TargetAnchor]
		}
		switch r.Kind {
		case RelRel32, RelAbs32Imm:
			var patch uint32
			if r.Kind == RelRel32 {
				patch = uint32(int32(target) - int32(r.Offset+4))
			} else {
				patch = uint32(target)
			}
			code[r.Offset] = byte(patch)
			code[r.Offset+1] = byte(patch >> 8)
			code[r.Offset+2] = byte(patch >> 16)
			code[r.Offset+3] = byte(patch >> 24)
		case RelAbs64:
			patch := uint64(target)
			for i := 0; i < 8; i++ {
				code[r.Offset+i] = byte(patch >> (8 * i))
			}
		}
	}
}
