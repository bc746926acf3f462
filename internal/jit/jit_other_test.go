//go:build !(amd64 && unix)

package jit

import (
	"testing"

	"github.com/ebpfcore/ebpfcore/pkg/ebpf"
	"github.com/stretchr/testify/require"
)

func TestCompileReportsJitNotCompiledOnUnsupportedTarget(t *testing.T) {
	_, err := Compile(&ebpf.Executable{})
	var vmErr *ebpf.VMError
	require.ErrorAs(t, err, &vmErr)
	require.Equal(t, ebpf.JitNotCompiled, vmErr.Kind)
}

func TestProgramInvokeReportsJitNotCompiled(t *testing.T) {
	p := &Program{}
	_, err := p.Invoke(&ebpf.RuntimeEnvironment{}, [12]uint64{})
	var vmErr *ebpf.VMError
	require.ErrorAs(t, err, &vmErr)
	require.Equal(t, ebpf.JitNotCompiled, vmErr.Kind)
}
