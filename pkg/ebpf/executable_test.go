package ebpf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromTextRequiresNonEmptyProgram(t *testing.T) {
	registry := NewFunctionRegistry()
	registry.Register(EntryPointKey, 0, "entry")
	_, err := FromText(nil, registry, MapExternalFunctions{}, DefaultConfig())
	require.ErrorIs(t, err, ErrKind(NoProgram))
}

func TestFromTextRequiresEntryPoint(t *testing.T) {
	program, _, err := Assemble(strings.NewReader("exit\n"))
	require.NoError(t, err)
	_, err = FromText(program, NewFunctionRegistry(), MapExternalFunctions{}, DefaultConfig())
	require.ErrorIs(t, err, ErrKind(InvalidFunction))
}

func TestExecutableInvokeWithoutCompiledReportsJitNotCompiled(t *testing.T) {
	exe := buildExecutable(t, "exit\n", DefaultConfig())
	require.False(t, exe.Compiled())
	_, err := exe.Invoke(newTestEnv(&TestContextObject{Remaining: 10}), [12]uint64{})
	require.ErrorIs(t, err, ErrKind(JitNotCompiled))
}

type stubCompiled struct{ value uint64 }

func (s stubCompiled) Invoke(env *RuntimeEnvironment, registers [12]uint64) (uint64, error) {
	return s.value, nil
}

func TestExecutableSetCompiledDelegatesInvoke(t *testing.T) {
	exe := buildExecutable(t, "exit\n", DefaultConfig())
	exe.SetCompiled(stubCompiled{value: 99})
	require.True(t, exe.Compiled())

	v, err := exe.Invoke(newTestEnv(&TestContextObject{Remaining: 10}), [12]uint64{})
	require.NoError(t, err)
	require.Equal(t, uint64(99), v)
}

func TestExecutableEntryPC(t *testing.T) {
	program, _, err := Assemble(strings.NewReader("exit\n"))
	require.NoError(t, err)
	registry := NewFunctionRegistry()
	registry.Register(EntryPointKey, 3, "entry")
	exe, err := FromText(program, registry, MapExternalFunctions{}, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, 3, exe.EntryPC())
}
