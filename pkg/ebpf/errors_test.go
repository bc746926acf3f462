package ebpf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVMErrorIsMatchesByKindOnly(t *testing.T) {
	a := &VMError{Kind: AccessViolation, PC: 5, VMAddr: 0x400000000}
	b := &VMError{Kind: AccessViolation, PC: 99}
	require.True(t, errors.Is(a, b))
	require.True(t, errors.Is(a, ErrKind(AccessViolation)))
	require.False(t, errors.Is(a, ErrKind(DivisionByZero)))
}

func TestVMErrorMessageMentionsKindSpecifics(t *testing.T) {
	err := &VMError{Kind: ShiftWithOverflow, PC: 3, Amount: 40, Width: 32}
	require.Contains(t, err.Error(), "40")
	require.Contains(t, err.Error(), "32")
	require.Contains(t, err.Error(), "3")
}

func TestKindStringFallsBackForUnknownValue(t *testing.T) {
	require.Equal(t, "NoProgram", NoProgram.String())
	require.Contains(t, Kind(9999).String(), "Kind(9999)")
}

func TestAccessTypeString(t *testing.T) {
	require.Equal(t, "load", AccessLoad.String())
	require.Equal(t, "store", AccessStore.String())
}
