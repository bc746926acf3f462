package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterMapIsBijectiveAndAvoidsGoroutineRegister(t *testing.T) {
	seen := make(map[int]bool, len(RegisterMap))
	for _, reg := range RegisterMap {
		require.False(t, seen[reg], "register %d used twice in RegisterMap", reg)
		seen[reg] = true
		require.NotEqual(t, R14, reg, "R14 is Go's goroutine register and must never be in RegisterMap")
	}
	require.NotEqual(t, R14, EnvPivotReg)
	require.NotEqual(t, R14, PCRegScratch)
	require.NotEqual(t, R14, AddrScratch)
}

func TestRegisterMapDisjointFromPivotAndScratch(t *testing.T) {
	reserved := map[int]bool{EnvPivotReg: true, PCRegScratch: true, AddrScratch: true}
	for i, reg := range RegisterMap {
		require.False(t, reserved[reg], "RegisterMap[%d]=%d collides with a reserved register", i, reg)
	}
}

func TestMovRegRegEncoding(t *testing.T) {
	a := NewAsm(8)
	a.MovRegReg(true, RAX, RDI) // mov rax, rdi
	require.Equal(t, []byte{0x48, 0x89, 0xf8}, a.Code)
}

func TestMovRegRegRequiresRexForExtendedRegisters(t *testing.T) {
	a := NewAsm(8)
	a.MovRegReg(false, R8, RAX) // mov r8d, eax needs REX.B
	require.Equal(t, []byte{0x41, 0x89, 0xc0}, a.Code)
}

func TestAluRegImm32Encoding(t *testing.T) {
	a := NewAsm(8)
	a.AluRegImm32(true, AluAdd, RBX, 10) // add rbx, 10
	require.Equal(t, byte(0x48), a.Code[0])
	require.Equal(t, byte(0x81), a.Code[1])
	require.EqualValues(t, 10, a.Code[len(a.Code)-4])
}

func TestMovLoadMemSmallDisplacement(t *testing.T) {
	a := NewAsm(8)
	a.MovLoadMem(8, RAX, R15, 16) // mov rax, [r15+16]
	require.Contains(t, a.Code, byte(0x8b))
	require.Equal(t, byte(16), a.Code[len(a.Code)-1])
}

func TestCallRelAnchorRecordsRelocation(t *testing.T) {
	a := NewAsm(8)
	a.CallRelAnchor(3)
	require.Len(t, a.Relos, 1)
	require.Equal(t, RelRel32, a.Relos[0].Kind)
	require.Equal(t, 3, a.Relos[0].TargetAnchor)
	require.Equal(t, 1, a.Relos[0].Offset)
	require.Equal(t, byte(0xe8), a.Code[0])
}

func TestPushPopRoundTripEncoding(t *testing.T) {
	a := NewAsm(8)
	a.Push(R12)
	a.Pop(R12)
	require.Equal(t, []byte{0x41, 0x54, 0x41, 0x5c}, a.Code)
}
