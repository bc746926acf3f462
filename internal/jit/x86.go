// Package jit emits x86-64 machine code for verified eBPF programs (§4.G).
// It hand-rolls instruction encoding rather than reaching for a generic
// code-generator framework (an explicit spec.md Non-goal): bytes are
// appended directly to a growable buffer, the way
// xyproto-vibe67/mov.go's movX86RegToReg builds REX+ModRM by hand instead
// of calling into an assembler library.
package jit

// General-purpose x86-64 register encodings (low 4 bits of the full
// register number; bit 3 becomes REX.R/X/B as needed).
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
	R12 = 12
	R13 = 13
	R14 = 14
	R15 = 15
)

// REGISTER_MAP is the fixed bijection from the 11 eBPF program registers to
// host registers (§4.G "Register assignment"), carried over from
// original_source/src/jit.rs's REGISTER_MAP in spirit: r0 in the RAX
// accumulator, r1..r6 in the six SysV argument registers (RDI, RSI, RDX,
// RCX, R8, R9), r7..r9 in R12, R13 and RBP, r10 (frame pointer) in RBX.
// R14 is not used: on amd64 Go reserves R14 for the current goroutine
// everywhere outside this package, so the map leaves it untouched.
var RegisterMap = [11]int{
	RAX, // r0
	RDI, // r1
	RSI, // r2
	RDX, // r3
	RCX, // r4
	R8,  // r5
	R9,  // r6
	R12, // r7
	R13, // r8
	RBP, // r9
	RBX, // r10 (frame pointer)
}

// EnvPivotReg holds the runtime environment's base address, and every field
// access is an Offsetof-derived displacement from it (§4.G "rbp-pivot");
// Config.RuntimeEnvironmentKey is not applied to it. R15 is otherwise unused
// by RegisterMap.
const EnvPivotReg = R15

// PCRegScratch and AddrScratch are caller-saved scratch registers used by
// the memory-translation and call anchors; none of them collide with
// RegisterMap or EnvPivotReg.
const (
	PCRegScratch = R10
	AddrScratch  = R11
)

// Asm is a growable x86-64 instruction buffer plus the relocation records
// needed to patch forward references once the whole program is emitted.
// Mirrors the teacher's preference for one flat struct over a builder
// hierarchy (robertodauria-ebpf-vm/pkg/vm.VM keeps all execution state as
// plain fields).
type Asm struct {
	Code  []byte
	Relos []Relocation
}

// RelocationKind distinguishes the width/form of a deferred patch.
type RelocationKind int

const (
	RelRel32     RelocationKind = iota // 4-byte PC-relative displacement
	RelAbs64                           // 8-byte absolute (movabs immediate)
	RelAbs32Imm                        // 4-byte raw value (not pc-relative), e.g. a stored text offset
)

// Relocation records a deferred patch: at offset Offset in Code, write the
// relocated value once Target is known (an anchor's text offset, or
// another bytecode pc's pc_section slot).
type Relocation struct {
	Offset int
	Kind   RelocationKind
	// One of TargetAnchor (index into the anchor table) or TargetPC
	// (bytecode pc whose text offset becomes the patch value) is set.
	TargetAnchor int
	TargetPC     int
	IsPC         bool
}

func NewAsm(capacity int) *Asm {
	return &Asm{Code: make([]byte, 0, capacity)}
}

func (a *Asm) Len() int { return len(a.Code) }

func (a *Asm) emit(b ...byte) { a.Code = append(a.Code, b...) }

func (a *Asm) emitU32(v uint32) {
	a.emit(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *Asm) emitU64(v uint64) {
	a.emitU32(uint32(v))
	a.emitU32(uint32(v >> 32))
}

func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// emitREXifNeeded appends a REX prefix whenever w is set or either operand
// register needs its extension bit, matching how every 64-bit-operand or
// extended-register instruction below must be prefixed.
func (a *Asm) emitREXifNeeded(w bool, reg, rm int) {
	r := reg >= 8
	b := rm >= 8
	if w || r || b {
		a.emit(rex(w, r, false, b))
	}
}

// MovRegReg emits `mov dst, src` (64-bit when w is set).
func (a *Asm) MovRegReg(w bool, dst, src int) {
	a.emitREXifNeeded(w, src, dst)
	a.emit(0x89, modrm(0b11, byte(src), byte(dst)))
}

// MovRegImm64 emits `movabs dst, imm64`.
func (a *Asm) MovRegImm64(dst int, imm uint64) {
	a.emit(rex(true, false, false, dst >= 8))
	a.emit(0xb8 + byte(dst&7))
	a.emitU64(imm)
}

// MovRegImm32 emits a sign/zero-extended 32-bit immediate move.
func (a *Asm) MovRegImm32(w bool, dst int, imm uint32) {
	a.emitREXifNeeded(w, 0, dst)
	a.emit(0xc7, modrm(0b11, 0, byte(dst)))
	a.emitU32(imm)
}

// AluOp identifies the arithmetic/logic opcode extension used by both the
// reg-reg (0x01 +8*op group) and reg-imm32 (0x81 /op) encodings.
type AluOp byte

const (
	AluAdd AluOp = 0
	AluOr  AluOp = 1
	AluAdc AluOp = 2
	AluSbb AluOp = 3
	AluAnd AluOp = 4
	AluSub AluOp = 5
	AluXor AluOp = 6
	AluCmp AluOp = 7
)

// AluRegReg emits `<op> dst, src` for the eight basic ALU opcodes.
func (a *Asm) AluRegReg(w bool, op AluOp, dst, src int) {
	a.emitREXifNeeded(w, src, dst)
	a.emit(0x01+byte(op)*8, modrm(0b11, byte(src), byte(dst)))
}

// AluRegImm32 emits `<op> dst, imm32`.
func (a *Asm) AluRegImm32(w bool, op AluOp, dst int, imm uint32) {
	a.emitREXifNeeded(w, 0, dst)
	a.emit(0x81, modrm(0b11, byte(op), byte(dst)))
	a.emitU32(imm)
}

// AluRegMem emits `<op> dst, [base+disp]` (the Gv,Ev encoding: dst
// accumulates a memory operand), used by the translate-address anchor to
// fold a region-table field straight into a comparison or address
// computation without needing a third scratch register.
func (a *Asm) AluRegMem(w bool, op AluOp, dst, base int, disp int32) {
	a.emitREXifNeeded(w, dst, base)
	a.emit(0x03+byte(op)*8)
	a.emitMemOperand(dst, base, disp)
}

// ShiftOp identifies a shift-group opcode extension (/4 shl, /5 shr, /7 sar).
type ShiftOp byte

const (
	ShiftShl ShiftOp = 4
	ShiftShr ShiftOp = 5
	ShiftSar ShiftOp = 7
)

// ShiftRegCL emits `<op> dst, cl` (variable shift amount in CL).
func (a *Asm) ShiftRegCL(w bool, op ShiftOp, dst int) {
	a.emitREXifNeeded(w, 0, dst)
	a.emit(0xd3, modrm(0b11, byte(op), byte(dst)))
}

// ShiftRegImm8 emits `<op> dst, imm8`.
func (a *Asm) ShiftRegImm8(w bool, op ShiftOp, dst int, imm uint8) {
	a.emitREXifNeeded(w, 0, dst)
	a.emit(0xc1, modrm(0b11, byte(op), byte(dst)))
	a.emit(imm)
}

// Neg emits `neg dst`.
func (a *Asm) Neg(w bool, dst int) {
	a.emitREXifNeeded(w, 0, dst)
	a.emit(0xf7, modrm(0b11, 3, byte(dst)))
}

// IDiv/Div (signed/unsigned division of rdx:rax) and Cqo are emitted inline
// by emitDivMod, which pre-stages the dividend in rax/rdx.
func (a *Asm) Cqo() { a.emit(rex(true, false, false, false), 0x99) }

func (a *Asm) DivReg(w bool, divisor int) {
	a.emitREXifNeeded(w, 0, divisor)
	a.emit(0xf7, modrm(0b11, 6, byte(divisor)))
}

func (a *Asm) IDivReg(w bool, divisor int) {
	a.emitREXifNeeded(w, 0, divisor)
	a.emit(0xf7, modrm(0b11, 7, byte(divisor)))
}

// Movsxd emits `movsxd dst64, src32` (sign-extend 32 to 64), used after any
// 32-bit ALU result so native registers match the interpreter's
// SignExtend32 post-processing (§4.A).
func (a *Asm) Movsxd(dst, src int) {
	a.emit(rex(true, dst >= 8, false, src >= 8))
	a.emit(0x63, modrm(0b11, byte(dst), byte(src)))
}

func (a *Asm) IMulRegReg(w bool, dst, src int) {
	a.emitREXifNeeded(w, dst, src)
	a.emit(0x0f, 0xaf, modrm(0b11, byte(dst), byte(src)))
}

// MovLoadMem loads a zero-extended value of the given width from
// [base+disp32] into dst.
func (a *Asm) MovLoadMem(width int, dst, base int, disp int32) {
	switch width {
	case 1:
		a.emitREXifNeeded(false, dst, base)
		a.emit(0x0f, 0xb6)
	case 2:
		a.emitREXifNeeded(false, dst, base)
		a.emit(0x0f, 0xb7)
	case 4:
		a.emitREXifNeeded(false, dst, base)
		a.emit(0x8b)
	case 8:
		a.emitREXifNeeded(true, dst, base)
		a.emit(0x8b)
	}
	a.emitMemOperand(dst, base, disp)
}

// MovStoreMem stores width bytes of src into [base+disp32].
func (a *Asm) MovStoreMem(width int, base int, disp int32, src int) {
	switch width {
	case 1:
		a.emitREXifNeeded(false, src, base)
		a.emit(0x88)
	case 2:
		a.emit(0x66)
		a.emitREXifNeeded(false, src, base)
		a.emit(0x89)
	case 4:
		a.emitREXifNeeded(false, src, base)
		a.emit(0x89)
	case 8:
		a.emitREXifNeeded(true, src, base)
		a.emit(0x89)
	}
	a.emitMemOperand(src, base, disp)
}

func (a *Asm) emitMemOperand(reg, base int, disp int32) {
	if disp == 0 && base&7 != RBP {
		a.emit(modrm(0b00, byte(reg), byte(base)))
		if base&7 == RSP {
			a.emit(0x24) // SIB: no index, base=rsp
		}
		return
	}
	if disp >= -128 && disp <= 127 {
		a.emit(modrm(0b01, byte(reg), byte(base)))
		if base&7 == RSP {
			a.emit(0x24)
		}
		a.emit(byte(disp))
		return
	}
	a.emit(modrm(0b10, byte(reg), byte(base)))
	if base&7 == RSP {
		a.emit(0x24)
	}
	a.emitU32(uint32(disp))
}

// Push/Pop emit single-register stack operations (used by internal-call
// prologues, EXIT and emitDivMod to save scratch state).
func (a *Asm) Push(reg int) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 + byte(reg&7))
}

func (a *Asm) Pop(reg int) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 + byte(reg&7))
}

// Ret emits `ret`.
func (a *Asm) Ret() { a.emit(0xc3) }

// Int3 emits one debugger-trap byte, the value Compile fills unused
// text-section tail space with (§4.G, §5 "debugger-trap fill").
func (a *Asm) Int3() { a.emit(0xcc) }

// CallRelAnchor emits a near call with a 4-byte placeholder displacement and
// records a relocation against anchor index.
func (a *Asm) CallRelAnchor(anchor int) {
	a.emit(0xe8)
	a.Relos = append(a.Relos, Relocation{Offset: len(a.Code), Kind: RelRel32, TargetAnchor: anchor})
	a.emitU32(0)
}

// JmpRelAnchor emits an unconditional jump to anchor with a deferred patch.
func (a *Asm) JmpRelAnchor(anchor int) {
	a.emit(0xe9)
	a.Relos = append(a.Relos, Relocation{Offset: len(a.Code), Kind: RelRel32, TargetAnchor: anchor})
	a.emitU32(0)
}

// JmpRelPC emits an unconditional jump to the text offset that will be
// recorded for bytecode pc.
func (a *Asm) JmpRelPC(pc int) {
	a.emit(0xe9)
	a.Relos = append(a.Relos, Relocation{Offset: len(a.Code), Kind: RelRel32, TargetPC: pc, IsPC: true})
	a.emitU32(0)
}

// CallRelPC emits a near call to the text offset that will be recorded for
// bytecode pc, used for internal eBPF calls whose target is statically
// known at compile time (§4.G "Calls"): the x86 CALL pushes a return
// address, so the matching eBPF EXIT can simply x86-RET.
func (a *Asm) CallRelPC(pc int) {
	a.emit(0xe8)
	a.Relos = append(a.Relos, Relocation{Offset: len(a.Code), Kind: RelRel32, TargetPC: pc, IsPC: true})
	a.emitU32(0)
}

// MovImm32PatchPC emits `mov dst, imm32` where imm32 is filled in once pc's
// text offset is known, written as a raw value rather than a pc-relative
// displacement (used for the yield protocol's ResumePC field).
func (a *Asm) MovImm32PatchPC(dst int, pc int) {
	a.emitREXifNeeded(true, 0, dst)
	a.emit(0xc7, modrm(0b11, 0, byte(dst)))
	a.Relos = append(a.Relos, Relocation{Offset: len(a.Code), Kind: RelAbs32Imm, TargetPC: pc, IsPC: true})
	a.emitU32(0)
}

// CondCode is an x86 condition code used by Jcc/Setcc.
type CondCode byte

const (
	CondE  CondCode = 0x4
	CondNE CondCode = 0x5
	CondA  CondCode = 0x7 // unsigned >
	CondAE CondCode = 0x3 // unsigned >=
	CondB  CondCode = 0x2 // unsigned <
	CondBE CondCode = 0x6 // unsigned <=
	CondG  CondCode = 0xf // signed >
	CondGE CondCode = 0xd // signed >=
	CondL  CondCode = 0xc // signed <
	CondLE CondCode = 0xe // signed <=
)

// JccRelPC emits a conditional near jump (0F 8x) to bytecode pc's
// eventual text offset.
func (a *Asm) JccRelPC(cc CondCode, pc int) {
	a.emit(0x0f, 0x80+byte(cc))
	a.Relos = append(a.Relos, Relocation{Offset: len(a.Code), Kind: RelRel32, TargetPC: pc, IsPC: true})
	a.emitU32(0)
}

// JccRelAnchor emits a conditional near jump to an anchor.
func (a *Asm) JccRelAnchor(cc CondCode, anchor int) {
	a.emit(0x0f, 0x80+byte(cc))
	a.Relos = append(a.Relos, Relocation{Offset: len(a.Code), Kind: RelRel32, TargetAnchor: anchor})
	a.emitU32(0)
}

// CallReg emits `call dst` (indirect, register-addressed).
func (a *Asm) CallReg(dst int) {
	if dst >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xff, modrm(0b11, 2, byte(dst)))
}

// JmpReg emits `jmp dst` (indirect, register-addressed).
func (a *Asm) JmpReg(dst int) {
	if dst >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xff, modrm(0b11, 4, byte(dst)))
}

// Nop1 emits a single-byte no-op, used by the constant-blinding/noop
// insertion pass (§4.G "Constant diversification").
func (a *Asm) Nop1() { a.emit(0x90) }

// TestRegReg emits `test dst, dst` (used to check a pointer/flag for
// zero without a separate cmp-against-0).
func (a *Asm) TestRegReg(w bool, dst int) {
	a.emitREXifNeeded(w, dst, dst)
	a.emit(0x85, modrm(0b11, byte(dst), byte(dst)))
}
