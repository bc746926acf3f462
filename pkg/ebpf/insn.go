package ebpf

import "encoding/binary"

// InsnSize is the size in bytes of a single instruction word. LD_DW_IMM
// consumes two consecutive words.
const InsnSize = 8

// Opcode classes occupy the low 3 bits of the opcode byte.
const (
	ClassLd    = 0x00
	ClassLdx   = 0x01
	ClassSt    = 0x02
	ClassStx   = 0x03
	ClassAlu   = 0x04
	ClassJmp   = 0x05
	ClassJmp32 = 0x06
	ClassAlu64 = 0x07
)

// Size modifiers for load/store classes, bits 3-4.
const (
	SizeW  = 0x00 // word, 4 bytes
	SizeH  = 0x08 // half word, 2 bytes
	SizeB  = 0x10 // byte
	SizeDW = 0x18 // double word, 8 bytes
)

// Addressing modes for load/store classes, bits 5-7.
const (
	ModeImm = 0x00
	ModeAbs = 0x20
	ModeInd = 0x40
	ModeMem = 0x60
	ModeXAdd = 0xc0
)

// Source bit (bit 3) shared by ALU/ALU64/JMP classes.
const (
	SrcK = 0x00 // immediate operand
	SrcX = 0x08 // src register operand
)

// ALU/ALU64 operation codes, upper 4 bits.
const (
	AluAdd  = 0x00
	AluSub  = 0x10
	AluMul  = 0x20
	AluDiv  = 0x30
	AluOr   = 0x40
	AluAnd  = 0x50
	AluLsh  = 0x60
	AluRsh  = 0x70
	AluNeg  = 0x80
	AluMod  = 0x90
	AluXor  = 0xa0
	AluMov  = 0xb0
	AluArsh = 0xc0
	AluEnd  = 0xd0
)

// Jump operation codes, upper 4 bits.
const (
	JmpJa   = 0x00
	JmpJeq  = 0x10
	JmpJgt  = 0x20
	JmpJge  = 0x30
	JmpJset = 0x40
	JmpJne  = 0x50
	JmpJsgt = 0x60
	JmpJsge = 0x70
	JmpCall = 0x80
	JmpExit = 0x90
	JmpJlt  = 0xa0
	JmpJle  = 0xb0
	JmpJslt = 0xc0
	JmpJsle = 0xd0
)

// Full opcodes used by the verifier, interpreter and JIT. Named as
// class|size|mode or class|op|src, matching the canonical eBPF encoding.
const (
	OpLdDW = ClassLd | SizeDW | ModeImm // 0x18, two-word immediate load

	OpLdxW  = ClassLdx | SizeW | ModeMem
	OpLdxH  = ClassLdx | SizeH | ModeMem
	OpLdxB  = ClassLdx | SizeB | ModeMem
	OpLdxDW = ClassLdx | SizeDW | ModeMem

	OpStW  = ClassSt | SizeW | ModeMem
	OpStH  = ClassSt | SizeH | ModeMem
	OpStB  = ClassSt | SizeB | ModeMem
	OpStDW = ClassSt | SizeDW | ModeMem

	OpStxW  = ClassStx | SizeW | ModeMem
	OpStxH  = ClassStx | SizeH | ModeMem
	OpStxB  = ClassStx | SizeB | ModeMem
	OpStxDW = ClassStx | SizeDW | ModeMem

	OpAdd32Imm  = ClassAlu | AluAdd | SrcK
	OpAdd32Reg  = ClassAlu | AluAdd | SrcX
	OpSub32Imm  = ClassAlu | AluSub | SrcK
	OpSub32Reg  = ClassAlu | AluSub | SrcX
	OpMul32Imm  = ClassAlu | AluMul | SrcK
	OpMul32Reg  = ClassAlu | AluMul | SrcX
	OpDiv32Imm  = ClassAlu | AluDiv | SrcK
	OpDiv32Reg  = ClassAlu | AluDiv | SrcX
	OpOr32Imm   = ClassAlu | AluOr | SrcK
	OpOr32Reg   = ClassAlu | AluOr | SrcX
	OpAnd32Imm  = ClassAlu | AluAnd | SrcK
	OpAnd32Reg  = ClassAlu | AluAnd | SrcX
	OpLsh32Imm  = ClassAlu | AluLsh | SrcK
	OpLsh32Reg  = ClassAlu | AluLsh | SrcX
	OpRsh32Imm  = ClassAlu | AluRsh | SrcK
	OpRsh32Reg  = ClassAlu | AluRsh | SrcX
	OpNeg32     = ClassAlu | AluNeg
	OpMod32Imm  = ClassAlu | AluMod | SrcK
	OpMod32Reg  = ClassAlu | AluMod | SrcX
	OpXor32Imm  = ClassAlu | AluXor | SrcK
	OpXor32Reg  = ClassAlu | AluXor | SrcX
	OpMov32Imm  = ClassAlu | AluMov | SrcK
	OpMov32Reg  = ClassAlu | AluMov | SrcX
	OpArsh32Imm = ClassAlu | AluArsh | SrcK
	OpArsh32Reg = ClassAlu | AluArsh | SrcX
	OpLe        = ClassAlu | AluEnd | SrcK
	OpBe        = ClassAlu | AluEnd | SrcX

	OpAdd64Imm  = ClassAlu64 | AluAdd | SrcK
	OpAdd64Reg  = ClassAlu64 | AluAdd | SrcX
	OpSub64Imm  = ClassAlu64 | AluSub | SrcK
	OpSub64Reg  = ClassAlu64 | AluSub | SrcX
	OpMul64Imm  = ClassAlu64 | AluMul | SrcK
	OpMul64Reg  = ClassAlu64 | AluMul | SrcX
	OpDiv64Imm  = ClassAlu64 | AluDiv | SrcK
	OpDiv64Reg  = ClassAlu64 | AluDiv | SrcX
	OpOr64Imm   = ClassAlu64 | AluOr | SrcK
	OpOr64Reg   = ClassAlu64 | AluOr | SrcX
	OpAnd64Imm  = ClassAlu64 | AluAnd | SrcK
	OpAnd64Reg  = ClassAlu64 | AluAnd | SrcX
	OpLsh64Imm  = ClassAlu64 | AluLsh | SrcK
	OpLsh64Reg  = ClassAlu64 | AluLsh | SrcX
	OpRsh64Imm  = ClassAlu64 | AluRsh | SrcK
	OpRsh64Reg  = ClassAlu64 | AluRsh | SrcX
	OpNeg64     = ClassAlu64 | AluNeg
	OpMod64Imm  = ClassAlu64 | AluMod | SrcK
	OpMod64Reg  = ClassAlu64 | AluMod | SrcX
	OpXor64Imm  = ClassAlu64 | AluXor | SrcK
	OpXor64Reg  = ClassAlu64 | AluXor | SrcX
	OpMov64Imm  = ClassAlu64 | AluMov | SrcK
	OpMov64Reg  = ClassAlu64 | AluMov | SrcX
	OpArsh64Imm = ClassAlu64 | AluArsh | SrcK
	OpArsh64Reg = ClassAlu64 | AluArsh | SrcX

	OpJa      = ClassJmp | JmpJa
	OpJeqImm  = ClassJmp | JmpJeq | SrcK
	OpJeqReg  = ClassJmp | JmpJeq | SrcX
	OpJgtImm  = ClassJmp | JmpJgt | SrcK
	OpJgtReg  = ClassJmp | JmpJgt | SrcX
	OpJgeImm  = ClassJmp | JmpJge | SrcK
	OpJgeReg  = ClassJmp | JmpJge | SrcX
	OpJsetImm = ClassJmp | JmpJset | SrcK
	OpJsetReg = ClassJmp | JmpJset | SrcX
	OpJneImm  = ClassJmp | JmpJne | SrcK
	OpJneReg  = ClassJmp | JmpJne | SrcX
	OpJsgtImm = ClassJmp | JmpJsgt | SrcK
	OpJsgtReg = ClassJmp | JmpJsgt | SrcX
	OpJsgeImm = ClassJmp | JmpJsge | SrcK
	OpJsgeReg = ClassJmp | JmpJsge | SrcX
	OpJltImm  = ClassJmp | JmpJlt | SrcK
	OpJltReg  = ClassJmp | JmpJlt | SrcX
	OpJleImm  = ClassJmp | JmpJle | SrcK
	OpJleReg  = ClassJmp | JmpJle | SrcX
	OpJsltImm = ClassJmp | JmpJslt | SrcK
	OpJsltReg = ClassJmp | JmpJslt | SrcX
	OpJsleImm = ClassJmp | JmpJsle | SrcK
	OpJsleReg = ClassJmp | JmpJsle | SrcX
	OpCallImm = ClassJmp | JmpCall | SrcK
	OpCallReg = ClassJmp | JmpCall | SrcX
	OpExit    = ClassJmp | JmpExit
)

// Register indices. R10 is the read-only frame pointer; R11 is the
// dynamic-frame stack pointer pseudo-register (only meaningful when
// Config.DynamicStackFrames is set).
const (
	R0  = 0
	R1  = 1
	R2  = 2
	R3  = 3
	R4  = 4
	R5  = 5
	R6  = 6
	R7  = 7
	R8  = 8
	R9  = 9
	R10 = 10 // frame pointer, read-only
	R11 = 11 // dynamic stack pointer pseudo-register

	NumRegisters = 11 // program-visible registers r0..r10

	FirstScratchReg = 6
	ScratchRegs     = 4
)

// Insn is a decoded eBPF instruction word.
type Insn struct {
	Opcode uint8
	Dst    uint8
	Src    uint8
	Offset int16
	Imm    int32
}

// GetInsn decodes the instruction word at pc (in 8-byte units). It performs
// no bounds or legality checking: callers must have run it through the
// verifier first, exactly as the interpreter and JIT assume.
func GetInsn(program []byte, pc int) Insn {
	off := pc * InsnSize
	word := program[off : off+InsnSize]
	return Insn{
		Opcode: word[0],
		Dst:    word[1] & 0x0f,
		Src:    word[1] >> 4,
		Offset: int16(binary.LittleEndian.Uint16(word[2:4])),
		Imm:    int32(binary.LittleEndian.Uint32(word[4:8])),
	}
}

// AugmentLddw merges the high 32 bits carried in the next instruction word
// into insn.Imm, producing the full 64-bit literal for LD_DW_IMM. The
// caller must already know pc+1 is in range (the verifier's IncompleteLDDW
// check establishes this before execution).
func AugmentLddw(program []byte, pc int, insn Insn) uint64 {
	next := GetInsn(program, pc+1)
	return uint64(uint32(insn.Imm)) | uint64(uint32(next.Imm))<<32
}

// NumInsns returns the number of 8-byte instruction slots in program.
func NumInsns(program []byte) int {
	return len(program) / InsnSize
}

// IsLddwTail reports whether pc is the second word of a preceding LD_DW_IMM,
// and therefore neither a valid instruction start nor a valid jump target.
// Walking from 0 rather than keeping per-pc state mirrors how the verifier
// and JIT both need to answer this question during their single pass.
func IsLddwTail(program []byte, pc int) bool {
	n := NumInsns(program)
	i := 0
	for i < n && i < pc {
		insn := GetInsn(program, i)
		if insn.Opcode == OpLdDW {
			if i+1 == pc {
				return true
			}
			i += 2
			continue
		}
		i++
	}
	return false
}

// SignExtend32 sign-extends the low 32 bits of v to 64 bits, mandatory
// after every ALU32 write (§4.A).
func SignExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}
