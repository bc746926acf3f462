package ebpf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func assembleOrFail(t *testing.T, src string) []byte {
	t.Helper()
	program, _, err := Assemble(strings.NewReader(src))
	require.NoError(t, err)
	return program
}

func TestVerifierAcceptsValidProgram(t *testing.T) {
	program := assembleOrFail(t, "mov64 r0, 7\nexit\n")
	registry := NewFunctionRegistry()
	registry.Register(EntryPointKey, 0, "entry")
	require.NoError(t, RequisiteVerifier{}.Verify(program, DefaultConfig(), registry, nil))
}

func TestVerifierRejectsEmptyProgram(t *testing.T) {
	err := RequisiteVerifier{}.Verify(nil, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(NoProgram))
}

func TestVerifierRejectsWriteToR10(t *testing.T) {
	program := assembleOrFail(t, "mov64 r10, 1\nexit\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(CannotWriteR10))
}

func TestVerifierRejectsJumpOutOfCode(t *testing.T) {
	program := assembleOrFail(t, "ja +10\nexit\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(JumpOutOfCode))
}

func TestVerifierRejectsJumpIntoLddwTail(t *testing.T) {
	program := assembleOrFail(t, "ja +1\nlddw r0, 0x1\nexit\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(JumpToMiddleOfLDDW))
}

func TestVerifierRejectsDivisionByZeroImmediate(t *testing.T) {
	program := assembleOrFail(t, "div64 r0, 0\nexit\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(DivisionByZero))
}

func TestVerifierRejectsShiftOverflow(t *testing.T) {
	program := assembleOrFail(t, "lsh32 r0, 32\nexit\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(ShiftWithOverflow))
}

// TestVerifierRejectsUnresolvedExternalCallWithoutExternalsTable exercises
// the external-call branch (the bare "call" mnemonic always assembles
// Src==0): with no externals table supplied, verifyCall falls back to the
// registry, which key 99 does not resolve against.
func TestVerifierRejectsUnresolvedExternalCallWithoutExternalsTable(t *testing.T) {
	program := assembleOrFail(t, "call 99\nexit\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(InvalidFunction))
}

// TestVerifierRejectsUnresolvedExternalCallAgainstExternalsTable exercises
// the other half of the same branch: an externals table is supplied, so
// resolution defers to it instead of the registry, and an unregistered key
// is still rejected.
func TestVerifierRejectsUnresolvedExternalCallAgainstExternalsTable(t *testing.T) {
	program := assembleOrFail(t, "call 7\nexit\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), MapExternalFunctions{})
	require.ErrorIs(t, err, ErrKind(InvalidFunction))
}

func TestVerifierAcceptsExternalCallResolvedByExternalsTable(t *testing.T) {
	program := assembleOrFail(t, "call 7\nexit\n")
	externals := MapExternalFunctions{7: func(ContextObject, uint64, uint64, uint64, uint64, uint64, *MemoryMapping) (uint64, error) {
		return 0, nil
	}}
	require.NoError(t, RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), externals))
}

// TestVerifierRejectsUnresolvedLocalCall exercises the Src!=0 ("calllocal")
// branch directly, which the bare "call" mnemonic can never produce.
func TestVerifierRejectsUnresolvedLocalCall(t *testing.T) {
	program := assembleOrFail(t, "calllocal 99\nexit\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(InvalidFunction))
}

func TestVerifierAcceptsResolvedLocalCall(t *testing.T) {
	program := assembleOrFail(t, "calllocal 5\nexit\n")
	registry := NewFunctionRegistry()
	registry.Register(5, 0, "helper")
	require.NoError(t, RequisiteVerifier{}.Verify(program, DefaultConfig(), registry, nil))
}

func TestVerifierRejectsFallThroughPastEnd(t *testing.T) {
	program := assembleOrFail(t, "mov64 r0, 1\n")
	err := RequisiteVerifier{}.Verify(program, DefaultConfig(), NewFunctionRegistry(), nil)
	require.ErrorIs(t, err, ErrKind(InvalidFunction))
}

func TestTautologyAndContradictionVerifiers(t *testing.T) {
	require.NoError(t, TautologyVerifier{}.Verify(nil, Config{}, nil, nil))
	require.Error(t, ContradictionVerifier{}.Verify(nil, Config{}, nil, nil))
}
