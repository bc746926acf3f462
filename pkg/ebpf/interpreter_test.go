package ebpf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildExecutable(t *testing.T, src string, cfg Config) *Executable {
	t.Helper()
	program, _, err := Assemble(strings.NewReader(src))
	require.NoError(t, err)
	registry := NewFunctionRegistry()
	registry.Register(EntryPointKey, 0, "entry")
	exe, err := FromText(program, registry, MapExternalFunctions{}, cfg)
	require.NoError(t, err)
	require.NoError(t, exe.Verify(RequisiteVerifier{}))
	return exe
}

func newTestEnv(ctx ContextObject) *RuntimeEnvironment {
	stack := NewRegion(VMAddrStack, make([]byte, 4096), Readable|Writable, 0)
	heap := NewRegion(VMAddrHeap, make([]byte, 4096), Readable|Writable, 0)
	mapping := NewMemoryMapping([]*MemoryRegion{stack, heap})
	return NewRuntimeEnvironment(ctx, mapping, VMAddrStack+4096)
}

func TestInterpreterAddition(t *testing.T) {
	exe := buildExecutable(t, "mov64 r0, 2\nadd64 r0, 3\nexit\n", DefaultConfig())
	ip, err := NewInterpreter(exe)
	require.NoError(t, err)

	ctx := &TestContextObject{Remaining: 100}
	env := newTestEnv(ctx)
	result := ip.Run(env, [5]uint64{})
	require.True(t, result.Ok())
	require.Equal(t, uint64(5), result.Value)
	require.Equal(t, uint64(97), ctx.Remaining)
}

func TestInterpreterMemoryLoadStore(t *testing.T) {
	exe := buildExecutable(t, "stxdw [r10-8], r1\nldxdw r0, [r10-8]\nexit\n", DefaultConfig())
	ip, err := NewInterpreter(exe)
	require.NoError(t, err)

	env := newTestEnv(&TestContextObject{Remaining: 100})
	result := ip.Run(env, [5]uint64{0x2a})
	require.True(t, result.Ok())
	require.Equal(t, uint64(0x2a), result.Value)
}

func TestInterpreterDivisionByZeroFaults(t *testing.T) {
	exe := buildExecutable(t, "mov64 r1, 0\ndiv64 r0, r1\nexit\n", DefaultConfig())
	ip, err := NewInterpreter(exe)
	require.NoError(t, err)

	env := newTestEnv(&TestContextObject{Remaining: 100})
	result := ip.Run(env, [5]uint64{})
	require.False(t, result.Ok())
	require.ErrorIs(t, result.Err, ErrKind(DivisionByZero))
}

func TestInterpreterInstructionMeterExhaustion(t *testing.T) {
	exe := buildExecutable(t, "ja -1\n", DefaultConfig())
	ip, err := NewInterpreter(exe)
	require.NoError(t, err)

	env := newTestEnv(&TestContextObject{Remaining: 3})
	result := ip.Run(env, [5]uint64{})
	require.False(t, result.Ok())
	require.ErrorIs(t, result.Err, ErrKind(ExceededMaxInstructions))
}

func TestInterpreterInternalCall(t *testing.T) {
	program, _, err := Assemble(strings.NewReader(
		"call 1\nexit\nmov64 r0, 42\nexit\n",
	))
	require.NoError(t, err)

	registry := NewFunctionRegistry()
	registry.Register(EntryPointKey, 0, "entry")
	registry.Register(1, 2, "helper")

	cfg := DefaultConfig()
	cfg.StaticSyscalls = false
	exe, err := FromText(program, registry, MapExternalFunctions{}, cfg)
	require.NoError(t, err)
	require.NoError(t, exe.Verify(RequisiteVerifier{}))

	ip, err := NewInterpreter(exe)
	require.NoError(t, err)
	env := newTestEnv(&TestContextObject{Remaining: 100})
	result := ip.Run(env, [5]uint64{})
	require.True(t, result.Ok())
	require.Equal(t, uint64(42), result.Value)
}

func TestInterpreterExternalCall(t *testing.T) {
	program, _, err := Assemble(strings.NewReader("call 7\nexit\n"))
	require.NoError(t, err)

	registry := NewFunctionRegistry()
	registry.Register(EntryPointKey, 0, "entry")

	called := false
	externals := MapExternalFunctions{
		7: func(ctx ContextObject, r1, r2, r3, r4, r5 uint64, mapping *MemoryMapping) (uint64, error) {
			called = true
			return r1 + r2, nil
		},
	}

	cfg := DefaultConfig()
	exe, err := FromText(program, registry, externals, cfg)
	require.NoError(t, err)
	require.NoError(t, exe.Verify(RequisiteVerifier{}))

	ip, err := NewInterpreter(exe)
	require.NoError(t, err)
	env := newTestEnv(&TestContextObject{Remaining: 100})
	result := ip.Run(env, [5]uint64{3, 4})
	require.True(t, result.Ok())
	require.True(t, called)
	require.Equal(t, uint64(7), result.Value)
}

func TestInterpreterRefusesUnverifiedExecutable(t *testing.T) {
	program, _, err := Assemble(strings.NewReader("exit\n"))
	require.NoError(t, err)
	registry := NewFunctionRegistry()
	registry.Register(EntryPointKey, 0, "entry")
	exe, err := FromText(program, registry, MapExternalFunctions{}, DefaultConfig())
	require.NoError(t, err)

	_, err = NewInterpreter(exe)
	require.Error(t, err)
}

func TestEndianSwap(t *testing.T) {
	require.Equal(t, uint64(0x0201), endianSwap(0x0102, Insn{Opcode: OpBe, Imm: 16}))
	require.Equal(t, uint64(0x0102), endianSwap(0x0102, Insn{Opcode: OpLe, Imm: 16}))
}
