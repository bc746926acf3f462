package ebpf

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// The JIT's displacement table (internal/jit) is built at init time from
// unsafe.Offsetof against these exact fields, so this only needs to pin
// their declaration order — not a fixed byte stride — as the contract the
// JIT's Offsetof-based offset table depends on.
func TestRuntimeEnvironmentFieldOrder(t *testing.T) {
	var e RuntimeEnvironment
	offsets := []uintptr{
		unsafe.Offsetof(e.HostStackPointer),
		unsafe.Offsetof(e.CallDepth),
		unsafe.Offsetof(e.VMStackPointer),
		unsafe.Offsetof(e.ContextObjectPointer),
		unsafe.Offsetof(e.PreviousInstructionMeter),
		unsafe.Offsetof(e.StopwatchNumerator),
		unsafe.Offsetof(e.StopwatchDenominator),
		unsafe.Offsetof(e.ProgramResult),
		unsafe.Offsetof(e.MemoryMapping),
	}
	for i := 1; i < len(offsets); i++ {
		require.Greater(t, offsets[i], offsets[i-1], "slot %d must come after slot %d", i, i-1)
	}
	require.EqualValues(t, 0, offsets[0])
}

func TestRefreshRegionTableCopiesRegions(t *testing.T) {
	stack := NewRegion(VMAddrStack, make([]byte, 16), Readable|Writable, 4)
	heap := NewRegion(VMAddrHeap, make([]byte, 32), Readable|Writable, 0)
	mapping := NewMemoryMapping([]*MemoryRegion{stack, heap})
	env := NewRuntimeEnvironment(&TestContextObject{}, mapping, VMAddrStack+16)

	env.RefreshRegionTable()
	require.EqualValues(t, 2, env.RegionCount)
	require.Equal(t, stack.VMBase, env.RegionTable[0].VMBase)
	require.Equal(t, stack.GapStride, env.RegionTable[0].GapStride)
	require.Equal(t, heap.Length, env.RegionTable[1].Length)
}

func TestRefreshRegionTableTruncatesAtCapacity(t *testing.T) {
	regions := make([]*MemoryRegion, MaxJitRegions+2)
	for i := range regions {
		regions[i] = NewRegion(uint64(i), nil, Readable, 0)
	}
	mapping := NewMemoryMapping(regions)
	env := NewRuntimeEnvironment(&TestContextObject{}, mapping, 0)

	env.RefreshRegionTable()
	require.EqualValues(t, MaxJitRegions, env.RegionCount)
}

func TestProgramResultOk(t *testing.T) {
	require.True(t, ProgramResult{Value: 1}.Ok())
	require.False(t, ProgramResult{Err: ErrKind(NoProgram)}.Ok())
}
