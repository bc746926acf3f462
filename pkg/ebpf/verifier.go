package ebpf

// Verifier is a capability rather than a concrete type (§9 "Polymorphism"):
// at least three variants exist — tautology (always accept, for testing),
// contradiction (always reject, for testing), and RequisiteVerifier, the
// real checker.
type Verifier interface {
	Verify(program []byte, cfg Config, registry *FunctionRegistry, externals ExternalFunctionTable) error
}

// TautologyVerifier always accepts, used to prove a test harness exercises
// the execution path rather than silently short-circuiting on a verifier
// rejection.
type TautologyVerifier struct{}

func (TautologyVerifier) Verify([]byte, Config, *FunctionRegistry, ExternalFunctionTable) error {
	return nil
}

// ContradictionVerifier always rejects, used to prove that verification is
// actually load-bearing: if a test's program still runs after being passed
// through this verifier, the test harness has a bug, not the VM.
type ContradictionVerifier struct{}

func (ContradictionVerifier) Verify([]byte, Config, *FunctionRegistry, ExternalFunctionTable) error {
	return &VMError{Kind: UnsupportedInstruction, PC: 0}
}

// RequisiteVerifier is the real checker described in §4.E.
type RequisiteVerifier struct{}

// Verify performs the single pass over instructions described in §4.E,
// steps 1-10.
func (RequisiteVerifier) Verify(program []byte, cfg Config, registry *FunctionRegistry, externals ExternalFunctionTable) error {
	n := NumInsns(program)
	if n == 0 {
		return &VMError{Kind: NoProgram}
	}

	// funcStart marks pcs that begin a function body, derived from the
	// registry (§4.E step 10 needs to know where one function ends and the
	// next begins).
	funcStart := make(map[int]bool, registry.Len())
	for _, key := range registry.Keys() {
		entry, _ := registry.Lookup(key)
		funcStart[entry.PC] = true
	}

	skipNext := false
	isTerminator := false // whether the instruction just processed was EXIT/JA
	for pc := 0; pc < n; pc++ {
		if skipNext {
			skipNext = false
			continue
		}
		insn := GetInsn(program, pc)

		if err := verifyRegisters(insn, pc, cfg); err != nil {
			return err
		}

		isTerminator = false
		switch insn.Opcode {
		case OpLdDW:
			if pc+1 >= n {
				return &VMError{Kind: IncompleteLDDW, PC: pc}
			}
			skipNext = true
		case OpLsh32Imm, OpRsh32Imm, OpArsh32Imm:
			if err := checkShift(insn, pc, 32); err != nil {
				return err
			}
		case OpLsh64Imm, OpRsh64Imm, OpArsh64Imm:
			if err := checkShift(insn, pc, 64); err != nil {
				return err
			}
		case OpDiv32Imm, OpMod32Imm, OpDiv64Imm, OpMod64Imm:
			if insn.Imm == 0 {
				return &VMError{Kind: DivisionByZero, PC: pc}
			}
			if insn.Offset == 1 {
				if !cfg.EnableSDiv {
					return &VMError{Kind: UnknownOpCode, Opcode: insn.Opcode, PC: pc}
				}
				// imm == -1 is the one signed-overflow case decidable at
				// verify time without knowing dst (§9 Open Questions); the
				// register-register case needs the interpreter/JIT's
				// runtime probe.
				if insn.Imm == -1 && (insn.Opcode == OpDiv64Imm || insn.Opcode == OpDiv32Imm) {
					return &VMError{Kind: DivideOverflow, PC: pc}
				}
			}
		case OpDiv32Reg, OpMod32Reg, OpDiv64Reg, OpMod64Reg:
			if insn.Offset == 1 && !cfg.EnableSDiv {
				return &VMError{Kind: UnknownOpCode, Opcode: insn.Opcode, PC: pc}
			}
		case OpLe, OpBe:
			if insn.Imm != 16 && insn.Imm != 32 && insn.Imm != 64 {
				return &VMError{Kind: UnsupportedLEBEArgument, PC: pc}
			}
		case OpJa, OpJeqImm, OpJeqReg, OpJgtImm, OpJgtReg, OpJgeImm, OpJgeReg,
			OpJsetImm, OpJsetReg, OpJneImm, OpJneReg, OpJsgtImm, OpJsgtReg,
			OpJsgeImm, OpJsgeReg, OpJltImm, OpJltReg, OpJleImm, OpJleReg,
			OpJsltImm, OpJsltReg, OpJsleImm, OpJsleReg:
			target := pc + 1 + int(insn.Offset)
			if target < 0 || target >= n {
				return &VMError{Kind: JumpOutOfCode, Target: target, PC: pc}
			}
			if IsLddwTail(program, target) {
				return &VMError{Kind: JumpToMiddleOfLDDW, Target: target, PC: pc}
			}
			if insn.Opcode == OpJa {
				isTerminator = true
			}
		case OpCallImm:
			if err := verifyCall(insn, pc, cfg, registry, externals); err != nil {
				return err
			}
		case OpCallReg:
			// Target register resolved at runtime; nothing static to check
			// beyond the register legality already verified above.
		case OpExit:
			isTerminator = true
		case OpAdd32Imm, OpAdd32Reg, OpSub32Imm, OpSub32Reg, OpMul32Imm, OpMul32Reg,
			OpOr32Imm, OpOr32Reg, OpAnd32Imm, OpAnd32Reg, OpLsh32Reg, OpRsh32Reg,
			OpNeg32, OpXor32Imm, OpXor32Reg, OpMov32Imm, OpMov32Reg, OpArsh32Reg,
			OpAdd64Imm, OpAdd64Reg, OpSub64Imm, OpSub64Reg, OpMul64Imm, OpMul64Reg,
			OpOr64Imm, OpOr64Reg, OpAnd64Imm, OpAnd64Reg,
			OpLsh64Reg, OpRsh64Reg, OpNeg64, OpXor64Imm, OpXor64Reg,
			OpMov64Imm, OpMov64Reg, OpArsh64Reg,
			OpLdxW, OpLdxH, OpLdxB, OpLdxDW, OpStW, OpStH, OpStB, OpStDW,
			OpStxW, OpStxH, OpStxB, OpStxDW:
			// No further static check beyond register legality.
		default:
			return &VMError{Kind: UnknownOpCode, Opcode: insn.Opcode, PC: pc}
		}

		// §4.E step 10: falling off the end of a function into another is
		// InvalidFunction. Checked when the next instruction begins a new
		// function body and the current one wasn't a terminator.
		next := pc + 1
		if skipNext {
			next = pc + 2
		}
		if next < n && funcStart[next] && !isTerminator {
			return &VMError{Kind: InvalidFunction, Key: EntryPointKey, PC: pc}
		}
		if next >= n && !isTerminator {
			// Falling off the end of the whole program is the same defect.
			return &VMError{Kind: InvalidFunction, Key: EntryPointKey, PC: pc}
		}
	}
	return nil
}

func verifyRegisters(insn Insn, pc int, cfg Config) error {
	writesDst := classWrites(insn.Opcode)
	if writesDst {
		if insn.Dst == R10 {
			return &VMError{Kind: CannotWriteR10, PC: pc}
		}
		if insn.Dst == R11 && !cfg.DynamicStackFrames {
			return &VMError{Kind: InvalidDestinationRegister, PC: pc}
		}
		if insn.Dst == R11 && !isAddSubImm(insn) {
			return &VMError{Kind: InvalidDestinationRegister, PC: pc}
		}
		if insn.Dst > R11 {
			return &VMError{Kind: InvalidDestinationRegister, PC: pc}
		}
	} else if insn.Dst > R10 {
		return &VMError{Kind: InvalidDestinationRegister, PC: pc}
	}
	if usesSrc(insn.Opcode) {
		if insn.Src == R11 && !cfg.DynamicStackFrames {
			return &VMError{Kind: InvalidSourceRegister, PC: pc}
		}
		if insn.Src > R11 {
			return &VMError{Kind: InvalidSourceRegister, PC: pc}
		}
	}
	return nil
}

func isAddSubImm(insn Insn) bool {
	class := insn.Opcode & 0x07
	op := insn.Opcode &^ 0x0f
	src := insn.Opcode & SrcX
	return class == ClassAlu64 && src == SrcK && (op == AluAdd || op == AluSub)
}

func classWrites(opcode uint8) bool {
	class := opcode & 0x07
	switch class {
	case ClassLdx, ClassAlu, ClassAlu64:
		return true
	case ClassLd:
		return opcode == OpLdDW
	default:
		return false
	}
}

func usesSrc(opcode uint8) bool {
	class := opcode & 0x07
	switch class {
	case ClassStx:
		return true
	case ClassAlu, ClassAlu64, ClassJmp, ClassJmp32:
		return opcode&SrcX != 0 || (opcode&0x07 == ClassJmp && opcode&0xf0 == JmpCall)
	default:
		return false
	}
}

func checkShift(insn Insn, pc int, width int) error {
	if int(insn.Imm) < 0 || int(insn.Imm) >= width {
		return &VMError{Kind: ShiftWithOverflow, PC: pc, Amount: insn.Imm, Width: width}
	}
	return nil
}

func verifyCall(insn Insn, pc int, cfg Config, registry *FunctionRegistry, externals ExternalFunctionTable) error {
	key := uint32(insn.Imm)
	if cfg.StaticSyscalls {
		if insn.Src != 0 {
			// internal call: must resolve in the function registry.
			if _, ok := registry.Lookup(key); !ok {
				return &VMError{Kind: InvalidFunction, Key: key, PC: pc}
			}
			return nil
		}
		// external call: resolve against the externals table when one was
		// supplied; without it, fall back to the registry so an unresolved
		// key is still caught rather than silently passed through (§4.E
		// step 9).
		if externals != nil {
			if _, ok := externals.Lookup(key); !ok {
				return &VMError{Kind: InvalidFunction, Key: key, PC: pc}
			}
			return nil
		}
		if _, ok := registry.Lookup(key); !ok {
			return &VMError{Kind: InvalidFunction, Key: key, PC: pc}
		}
		return nil
	}
	// Without static syscalls, any resolvable key (internal or external)
	// is acceptable; the distinguishing src field is unused.
	if _, ok := registry.Lookup(key); ok {
		return nil
	}
	if externals != nil {
		if _, ok := externals.Lookup(key); ok {
			return nil
		}
	}
	return &VMError{Kind: InvalidFunction, Key: key, PC: pc}
}
