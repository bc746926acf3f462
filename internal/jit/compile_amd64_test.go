//go:build amd64 && unix

package jit

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRelocationsPatchesAnchorAndPCTargets(t *testing.T) {
	c := &compiler{
		asm:      NewAsm(32),
		pcToText: []int32{0, 5, 10},
	}
	c.anchorOffset[anchorEpilogue] = 99

	c.asm.CallRelAnchor(anchorEpilogue) // offset 0: e8 + 4-byte placeholder
	c.asm.JmpRelPC(1)                   // offset 5: e9 + 4-byte placeholder

	c.resolveRelocations()

	wantAnchor := int32(99) - int32(0+1+4)
	gotAnchor := int32(binary.LittleEndian.Uint32(c.asm.Code[1:5]))
	require.Equal(t, wantAnchor, gotAnchor)

	wantPC := int32(5) - int32(5+1+4)
	gotPC := int32(binary.LittleEndian.Uint32(c.asm.Code[6:10]))
	require.Equal(t, wantPC, gotPC)
}

func TestPatchLocalWritesRelativeDisplacement(t *testing.T) {
	a := NewAsm(16)
	off := emitJccPlaceholder(a, CondE)
	a.Nop1()
	a.Nop1()
	patchLocal(a, off)

	rel := int32(binary.LittleEndian.Uint32(a.Code[off : off+4]))
	require.Equal(t, int32(a.Len()-(off+4)), rel)
}

func TestHostRegMatchesRegisterMap(t *testing.T) {
	for vreg := 0; vreg < len(RegisterMap); vreg++ {
		require.Equal(t, RegisterMap[vreg], hostReg(uint8(vreg)))
	}
}

func TestScratchHostRegsInOrderMatchesR6ThroughR9(t *testing.T) {
	require.Equal(t, []int{RegisterMap[6], RegisterMap[7], RegisterMap[8], RegisterMap[9]}, scratchHostRegsInOrder)
}
