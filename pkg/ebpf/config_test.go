package ebpf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConfigAppliesOptionsOverDefaults(t *testing.T) {
	cfg := NewConfig(
		WithMaxCallDepth(8),
		WithStackSize(1024),
		WithInstructionTracing(true),
		WithSDiv(true),
	)
	require.Equal(t, uint64(8), cfg.MaxCallDepth)
	require.Equal(t, uint64(1024), cfg.StackSize)
	require.True(t, cfg.EnableInstructionTracing)
	require.True(t, cfg.EnableSDiv)

	// Fields untouched by any option keep DefaultConfig's values.
	require.Equal(t, DefaultConfig().StaticSyscalls, cfg.StaticSyscalls)
}

func TestEffectiveStackFrameSizeDoublesWithGaps(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, cfg.StackFrameSize, cfg.EffectiveStackFrameSize())

	cfg.EnableStackFrameGaps = true
	require.Equal(t, cfg.StackFrameSize*2, cfg.EffectiveStackFrameSize())
}

func TestNewConfigWithNoOptionsMatchesDefaultConfig(t *testing.T) {
	require.Equal(t, DefaultConfig(), NewConfig())
}
