package ebpf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunctionRegistryRegisterAndLookup(t *testing.T) {
	r := NewFunctionRegistry()
	require.Equal(t, 0, r.Len())

	r.Register(EntryPointKey, 0, "entry")
	r.Register(42, 10, "helper")
	require.Equal(t, 2, r.Len())

	entry, ok := r.Lookup(EntryPointKey)
	require.True(t, ok)
	require.Equal(t, "entry", entry.Name)

	_, ok = r.Lookup(99)
	require.False(t, ok)

	require.ElementsMatch(t, []uint32{EntryPointKey, 42}, r.Keys())
}

func TestMapExternalFunctionsLookup(t *testing.T) {
	called := false
	table := MapExternalFunctions{
		1: func(ctx ContextObject, r1, r2, r3, r4, r5 uint64, mapping *MemoryMapping) (uint64, error) {
			called = true
			return r1, nil
		},
	}
	fn, ok := table.Lookup(1)
	require.True(t, ok)
	v, err := fn(nil, 5, 0, 0, 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)
	require.True(t, called)

	_, ok = table.Lookup(2)
	require.False(t, ok)
}
