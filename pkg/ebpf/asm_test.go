package ebpf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembleBasicProgram(t *testing.T) {
	src := `
		; compute r0 = 2 + 3 and exit
		mov64 r0, 2
		add64 r0, 3
		exit
	`
	program, labels, err := Assemble(strings.NewReader(src))
	require.NoError(t, err)
	require.Empty(t, labels)
	require.Equal(t, 3, NumInsns(program))

	insn := GetInsn(program, 0)
	require.Equal(t, uint8(OpMov64Imm), insn.Opcode)
	require.EqualValues(t, 0, insn.Dst)
	require.EqualValues(t, 2, insn.Imm)

	insn = GetInsn(program, 1)
	require.Equal(t, uint8(OpAdd64Imm), insn.Opcode)
	require.EqualValues(t, 3, insn.Imm)

	insn = GetInsn(program, 2)
	require.Equal(t, uint8(OpExit), insn.Opcode)
}

func TestAssembleLabelsAndJumps(t *testing.T) {
	src := `
		mov64 r1, 0
	loop:
		add64 r1, 1
		jne r1, 10, loop
		exit
	`
	program, labels, err := Assemble(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, 1, labels["loop"])

	jmp := GetInsn(program, 2)
	require.Equal(t, uint8(OpJneImm), jmp.Opcode)
	require.EqualValues(t, -2, jmp.Offset)
}

func TestAssembleLddwSpansTwoWords(t *testing.T) {
	program, _, err := Assemble(strings.NewReader("lddw r0, 0x1122334455667788\nexit\n"))
	require.NoError(t, err)
	require.Equal(t, 3, NumInsns(program))

	insn := GetInsn(program, 0)
	full := AugmentLddw(program, 0, insn)
	require.Equal(t, uint64(0x1122334455667788), full)
}

func TestAssembleMemoryOperands(t *testing.T) {
	program, _, err := Assemble(strings.NewReader("stxdw [r10-8], r1\nldxdw r2, [r10-8]\nexit\n"))
	require.NoError(t, err)

	st := GetInsn(program, 0)
	require.Equal(t, uint8(OpStxDW), st.Opcode)
	require.EqualValues(t, R10, st.Dst)
	require.EqualValues(t, R1, st.Src)
	require.EqualValues(t, -8, st.Offset)

	ld := GetInsn(program, 1)
	require.Equal(t, uint8(OpLdxDW), ld.Opcode)
	require.EqualValues(t, R2, ld.Dst)
	require.EqualValues(t, R10, ld.Src)
	require.EqualValues(t, -8, ld.Offset)
}

func TestAssembleUnknownMnemonicErrors(t *testing.T) {
	_, _, err := Assemble(strings.NewReader("frobnicate r0\n"))
	require.Error(t, err)
}
