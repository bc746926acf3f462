package ebpf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextConsumeSaturatesAtZero(t *testing.T) {
	c := NewContext(5, false)
	c.Consume(3)
	require.Equal(t, uint64(2), c.GetRemaining())
	c.Consume(10)
	require.Equal(t, uint64(0), c.GetRemaining())
}

func TestContextTraceOnlyWhenEnabled(t *testing.T) {
	off := NewContext(10, false)
	off.Trace(RegisterSnapshot{PC: 1})
	require.Empty(t, off.Log())

	on := NewContext(10, true)
	on.Trace(RegisterSnapshot{PC: 1})
	on.Trace(RegisterSnapshot{PC: 2})
	require.Len(t, on.Log(), 2)
	require.Equal(t, 1, on.Log()[0].PC)
}

func TestTestContextObjectMirrorsContext(t *testing.T) {
	tc := &TestContextObject{Remaining: 4}
	tc.Consume(1)
	require.Equal(t, uint64(3), tc.Remaining)
	tc.Trace(RegisterSnapshot{PC: 9})
	require.Len(t, tc.Log, 1)
}
