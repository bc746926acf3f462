package ebpf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInsnDecodesFields(t *testing.T) {
	program := make([]byte, InsnSize)
	program[0] = OpAdd64Imm
	program[1] = 0x3 | (0x5 << 4) // dst=3, src=5
	program[2] = 0x02
	program[3] = 0x00
	program[4] = 0x2a
	program[5] = 0x00
	program[6] = 0x00
	program[7] = 0x00

	insn := GetInsn(program, 0)
	require.Equal(t, uint8(OpAdd64Imm), insn.Opcode)
	require.EqualValues(t, 3, insn.Dst)
	require.EqualValues(t, 5, insn.Src)
	require.EqualValues(t, 2, insn.Offset)
	require.EqualValues(t, 0x2a, insn.Imm)
}

func TestAugmentLddwMergesHighWord(t *testing.T) {
	program := make([]byte, 2*InsnSize)
	program[0] = OpLdDW
	program[4] = 0xef
	program[5] = 0xbe
	program[6] = 0xad
	program[7] = 0xde // low word 0xdeadbeef
	program[1*InsnSize+4] = 0x78
	program[1*InsnSize+5] = 0x56
	program[1*InsnSize+6] = 0x34
	program[1*InsnSize+7] = 0x12 // high word 0x12345678

	insn := GetInsn(program, 0)
	full := AugmentLddw(program, 0, insn)
	require.Equal(t, uint64(0x12345678deadbeef), full)
}

func TestNumInsns(t *testing.T) {
	require.Equal(t, 0, NumInsns(nil))
	require.Equal(t, 3, NumInsns(make([]byte, 3*InsnSize)))
}

func TestIsLddwTail(t *testing.T) {
	program := make([]byte, 3*InsnSize)
	program[0] = OpLdDW
	program[2*InsnSize] = OpExit

	require.False(t, IsLddwTail(program, 0))
	require.True(t, IsLddwTail(program, 1))
	require.False(t, IsLddwTail(program, 2))
}

func TestSignExtend32(t *testing.T) {
	require.Equal(t, uint64(0xffffffffffffffff), SignExtend32(0xffffffff))
	require.Equal(t, uint64(1), SignExtend32(1))
}
