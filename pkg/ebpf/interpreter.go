package ebpf

const (
	minInt64 = -1 << 63
	minInt32 = -1 << 31
)

// Interpreter is the reference fetch-decode-execute loop (§4.F). It is the
// oracle the JIT is specified against: same ProgramResult, same billed
// instruction count, for every verified program and input (§8).
type Interpreter struct {
	exe *Executable
}

// NewInterpreter wraps an already-verified Executable. Running an
// unverified one is a programming error, not a runtime error: the verifier
// establishes every invariant the loop below relies on without re-checking.
func NewInterpreter(exe *Executable) (*Interpreter, error) {
	if !exe.Verified() {
		return nil, &VMError{Kind: UnsupportedInstruction, PC: 0}
	}
	return &Interpreter{exe: exe}, nil
}

// Run executes the program starting at its registered entry point, with
// r1..r5 set from args, against env's memory mapping. It returns the same
// ProgramResult the JIT would for the same verified program and inputs.
func (ip *Interpreter) Run(env *RuntimeEnvironment, args [5]uint64) ProgramResult {
	cfg := ip.exe.Config
	program := ip.exe.Program
	n := NumInsns(program)

	var regs [NumRegisters + 1]uint64 // r0..r10, r11 used only with dynamic frames
	regs[R10] = env.VMStackPointer
	for i, a := range args {
		regs[R1+i] = a
	}

	pc := ip.exe.EntryPC()
	depth := 0

	for {
		if pc < 0 || pc >= n {
			return ProgramResult{Err: &VMError{Kind: ExecutionOverrun, PC: pc}}
		}
		if cfg.EnableInstructionMeter {
			if env.Ctx.GetRemaining() == 0 {
				return ProgramResult{Err: &VMError{Kind: ExceededMaxInstructions, PC: pc}}
			}
			env.Ctx.Consume(1)
		}
		if cfg.EnableInstructionTracing {
			var snap [12]uint64
			copy(snap[:11], regs[:11])
			snap[11] = uint64(pc)
			env.Ctx.Trace(RegisterSnapshot{PC: pc, Reg: snap})
		}

		insn := GetInsn(program, pc)
		nextPC := pc + 1

		switch insn.Opcode {
		case OpLdDW:
			regs[insn.Dst] = AugmentLddw(program, pc, insn)
			nextPC = pc + 2

		case OpLdxW, OpLdxH, OpLdxB, OpLdxDW:
			addr := uint64(int64(regs[insn.Src]) + int64(insn.Offset))
			v, err := loadSized(env.MemoryMapping, insn.Opcode, addr, pc)
			if err != nil {
				return ProgramResult{Err: err}
			}
			regs[insn.Dst] = v

		case OpStW, OpStH, OpStB, OpStDW:
			addr := uint64(int64(regs[insn.Dst]) + int64(insn.Offset))
			if err := storeSized(env.MemoryMapping, insn.Opcode, addr, uint64(insn.Imm), pc); err != nil {
				return ProgramResult{Err: err}
			}

		case OpStxW, OpStxH, OpStxB, OpStxDW:
			addr := uint64(int64(regs[insn.Dst]) + int64(insn.Offset))
			if err := storeSized(env.MemoryMapping, insn.Opcode, addr, regs[insn.Src], pc); err != nil {
				return ProgramResult{Err: err}
			}

		case OpJa:
			nextPC = pc + 1 + int(insn.Offset)

		case OpExit:
			if depth == 0 {
				return ProgramResult{Value: regs[R0]}
			}
			frame := env.CallFrames[len(env.CallFrames)-1]
			env.CallFrames = env.CallFrames[:len(env.CallFrames)-1]
			depth--
			for i, v := range frame.SavedRegisters {
				regs[FirstScratchReg+i] = v
			}
			regs[R10] = frame.SavedVMSP
			nextPC = frame.ReturnPC

		case OpCallImm:
			key := uint32(insn.Imm)
			entry, isInternal := ip.exe.Registry.Lookup(key)
			external := cfg.StaticSyscalls && insn.Src == 0
			if external {
				isInternal = false
			} else if cfg.StaticSyscalls && !isInternal {
				return ProgramResult{Err: &VMError{Kind: InvalidFunction, Key: key, PC: pc}}
			}
			if isInternal {
				if uint64(depth+1) > cfg.MaxCallDepth {
					return ProgramResult{Err: &VMError{Kind: CallDepthExceeded, PC: pc, Limit: int(cfg.MaxCallDepth)}}
				}
				var frame CallFrame
				for i := 0; i < ScratchRegs; i++ {
					frame.SavedRegisters[i] = regs[FirstScratchReg+i]
				}
				frame.SavedVMSP = regs[R10]
				frame.ReturnPC = pc + 1
				env.CallFrames = append(env.CallFrames, frame)
				depth++
				regs[R10] += cfg.EffectiveStackFrameSize()
				nextPC = entry.PC
				break
			}
			fn, ok := ip.exe.Externals.Lookup(key)
			if !ok {
				return ProgramResult{Err: &VMError{Kind: InvalidFunction, Key: key, PC: pc}}
			}
			result, err := fn(env.Ctx, regs[R1], regs[R2], regs[R3], regs[R4], regs[R5], env.MemoryMapping)
			if err != nil {
				return ProgramResult{Err: err}
			}
			regs[R0] = result

		case OpCallReg:
			target := regs[insn.Src]
			if target < VMAddrProgram || target >= VMAddrProgram+uint64(len(program)) {
				return ProgramResult{Err: &VMError{Kind: CallOutsideTextSegment, PC: pc, TargetVM: target}}
			}
			targetPC := int((target - VMAddrProgram) / InsnSize)
			if uint64(depth+1) > cfg.MaxCallDepth {
				return ProgramResult{Err: &VMError{Kind: CallDepthExceeded, PC: pc, Limit: int(cfg.MaxCallDepth)}}
			}
			var frame CallFrame
			for i := 0; i < ScratchRegs; i++ {
				frame.SavedRegisters[i] = regs[FirstScratchReg+i]
			}
			frame.SavedVMSP = regs[R10]
			frame.ReturnPC = pc + 1
			env.CallFrames = append(env.CallFrames, frame)
			depth++
			regs[R10] += cfg.EffectiveStackFrameSize()
			nextPC = targetPC

		default:
			if err := execALUOrJump(&regs, insn, pc, cfg, &nextPC); err != nil {
				return ProgramResult{Err: err}
			}
		}

		pc = nextPC
	}
}

func loadSized(m *MemoryMapping, opcode uint8, addr uint64, pc int) (uint64, error) {
	switch opcode {
	case OpLdxB:
		v, err := Load[uint8](m, addr, pc)
		return uint64(v), err
	case OpLdxH:
		v, err := Load[uint16](m, addr, pc)
		return uint64(v), err
	case OpLdxW:
		v, err := Load[uint32](m, addr, pc)
		return uint64(v), err
	default: // OpLdxDW
		return Load[uint64](m, addr, pc)
	}
}

func storeSized(m *MemoryMapping, opcode uint8, addr, value uint64, pc int) error {
	switch opcode {
	case OpStB, OpStxB:
		return Store[uint8](m, uint8(value), addr, pc)
	case OpStH, OpStxH:
		return Store[uint16](m, uint16(value), addr, pc)
	case OpStW, OpStxW:
		return Store[uint32](m, uint32(value), addr, pc)
	default: // OpStDW, OpStxDW
		return Store[uint64](m, value, addr, pc)
	}
}

// execALUOrJump handles every ALU32/ALU64/conditional-jump opcode; split
// out of Run's switch because this is most of the opcode space and keeping
// it inline would make the dispatch loop unreadable.
func execALUOrJump(regs *[NumRegisters + 1]uint64, insn Insn, pc int, cfg Config, nextPC *int) error {
	class := insn.Opcode & 0x07
	isReg := insn.Opcode&SrcX != 0
	op := insn.Opcode &^ 0x0f

	operand := func() uint64 {
		if isReg {
			return regs[insn.Src]
		}
		return uint64(insn.Imm)
	}

	switch class {
	case ClassAlu, ClassAlu64:
		is64 := class == ClassAlu64
		dst := regs[insn.Dst]
		src := operand()
		var result uint64
		switch op {
		case AluAdd:
			result = dst + src
		case AluSub:
			result = dst - src
		case AluMul:
			result = dst * src
		case AluDiv:
			if src == 0 {
				return &VMError{Kind: DivisionByZero, PC: pc}
			}
			if insn.Offset == 1 { // signed variant, gated by Config.EnableSDiv (§6, §9)
				if is64 && int64(dst) == minInt64 && int64(src) == -1 {
					return &VMError{Kind: DivideOverflow, PC: pc}
				}
				if !is64 && int32(uint32(dst)) == minInt32 && int32(uint32(src)) == -1 {
					return &VMError{Kind: DivideOverflow, PC: pc}
				}
				if is64 {
					result = uint64(int64(dst) / int64(src))
				} else {
					result = SignExtend32(uint32(int32(uint32(dst)) / int32(uint32(src))))
					regs[insn.Dst] = result
					return nil
				}
				regs[insn.Dst] = result
				return nil
			}
			result = dst / src
		case AluMod:
			if src == 0 {
				return &VMError{Kind: DivisionByZero, PC: pc}
			}
			if insn.Offset == 1 {
				if is64 {
					result = uint64(int64(dst) % int64(src))
				} else {
					result = SignExtend32(uint32(int32(uint32(dst)) % int32(uint32(src))))
					regs[insn.Dst] = result
					return nil
				}
				regs[insn.Dst] = result
				return nil
			}
			result = dst % src
		case AluOr:
			result = dst | src
		case AluAnd:
			result = dst & src
		case AluXor:
			result = dst ^ src
		case AluMov:
			result = src
		case AluNeg:
			if is64 {
				result = uint64(-int64(dst))
			} else {
				result = SignExtend32(uint32(-int32(uint32(dst))))
			}
			regs[insn.Dst] = result
			return nil
		case AluLsh:
			shift := src
			if !is64 {
				shift &= 31
			} else {
				shift &= 63
			}
			if is64 {
				result = dst << shift
			} else {
				result = SignExtend32(uint32(dst) << shift)
			}
			regs[insn.Dst] = result
			return nil
		case AluRsh:
			shift := src
			if !is64 {
				shift &= 31
			} else {
				shift &= 63
			}
			if is64 {
				result = dst >> shift
			} else {
				result = SignExtend32(uint32(dst) >> shift)
			}
			regs[insn.Dst] = result
			return nil
		case AluArsh:
			shift := src
			if !is64 {
				shift &= 31
				result = SignExtend32(uint32(int32(uint32(dst)) >> shift))
			} else {
				shift &= 63
				result = uint64(int64(dst) >> shift)
			}
			regs[insn.Dst] = result
			return nil
		case AluEnd:
			regs[insn.Dst] = endianSwap(dst, insn)
			return nil
		}
		if !is64 {
			result = SignExtend32(uint32(result))
		}
		regs[insn.Dst] = result
		return nil

	case ClassJmp, ClassJmp32:
		dst := regs[insn.Dst]
		src := operand()
		taken := false
		switch insn.Opcode &^ 0x0f {
		case JmpJeq:
			taken = dst == src
		case JmpJne:
			taken = dst != src
		case JmpJgt:
			taken = dst > src
		case JmpJge:
			taken = dst >= src
		case JmpJlt:
			taken = dst < src
		case JmpJle:
			taken = dst <= src
		case JmpJset:
			taken = dst&src != 0
		case JmpJsgt:
			taken = int64(dst) > int64(src)
		case JmpJsge:
			taken = int64(dst) >= int64(src)
		case JmpJslt:
			taken = int64(dst) < int64(src)
		case JmpJsle:
			taken = int64(dst) <= int64(src)
		}
		if taken {
			*nextPC = pc + 1 + int(insn.Offset)
		}
		return nil
	}
	return &VMError{Kind: UnknownOpCode, Opcode: insn.Opcode, PC: pc}
}

// endianSwap implements the LE/BE intrinsics. This host is little-endian,
// so LE is always a no-op (truncated to the requested width) regardless of
// Imm — including LE 64, which is intentional per §9 Open Questions and
// would need revisiting on a big-endian port. BE always swaps.
func endianSwap(v uint64, insn Insn) uint64 {
	if insn.Opcode == OpLe {
		switch insn.Imm {
		case 16:
			return uint64(uint16(v))
		case 32:
			return uint64(uint32(v))
		default:
			return v
		}
	}
	switch insn.Imm {
	case 16:
		return uint64(uint16(v>>8) | uint16(v)<<8)
	case 32:
		x := uint32(v)
		return uint64((x>>24)&0xff | (x>>8)&0xff00 | (x<<8)&0xff0000 | (x<<24)&0xff000000)
	default:
		return bswap64(v)
	}
}

func bswap64(v uint64) uint64 {
	var r uint64
	for i := 0; i < 8; i++ {
		r = r<<8 | (v & 0xff)
		v >>= 8
	}
	return r
}
