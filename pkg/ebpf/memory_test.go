package ebpf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadStoreRoundTrip(t *testing.T) {
	backing := make([]byte, 64)
	region := NewRegion(VMAddrHeap, backing, Readable|Writable, 0)
	mapping := NewMemoryMapping([]*MemoryRegion{region})

	require.NoError(t, Store[uint32](mapping, 0xdeadbeef, VMAddrHeap+8, 0))
	v, err := Load[uint32](mapping, VMAddrHeap+8, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), v)
}

func TestLoadOutOfBoundsIsAccessViolation(t *testing.T) {
	backing := make([]byte, 16)
	region := NewRegion(VMAddrHeap, backing, Readable|Writable, 0)
	mapping := NewMemoryMapping([]*MemoryRegion{region})

	_, err := Load[uint64](mapping, VMAddrHeap+12, 5)
	require.Error(t, err)
	var verr *VMError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, AccessViolation, verr.Kind)
	require.Equal(t, 5, verr.PC)
}

func TestStoreRejectsReadOnlyRegion(t *testing.T) {
	backing := make([]byte, 16)
	region := NewRegion(VMAddrProgram, backing, Readable, 0)
	mapping := NewMemoryMapping([]*MemoryRegion{region})

	err := Store[uint8](mapping, 1, VMAddrProgram, 0)
	require.ErrorIs(t, err, ErrKind(AccessViolation))
}

func TestGappedStackBlocksSecondHalf(t *testing.T) {
	backing := make([]byte, 32)
	region := NewRegion(VMAddrStack, backing, Readable|Writable, 8)
	mapping := NewMemoryMapping([]*MemoryRegion{region})

	require.NoError(t, Store[uint8](mapping, 1, VMAddrStack+4, 0))

	_, err := Load[uint8](mapping, VMAddrStack+12, 0)
	require.ErrorIs(t, err, ErrKind(AccessViolation))
}

func TestRegionLookupMissReturnsNil(t *testing.T) {
	mapping := NewMemoryMapping(nil)
	require.Nil(t, mapping.Region(VMAddrHeap, 1))
}
