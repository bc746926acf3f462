//go:build !(amd64 && unix)

// Non-x86-64 (or non-unix) targets have no native backend (§5): this file
// gives the package the same exported surface as jit_amd64.go so callers can
// always reach for jit.Compile and fall back to pkg/ebpf.NewInterpreter when
// it reports no support, rather than needing a build-tag switch of their own.
package jit

import "github.com/ebpfcore/ebpfcore/pkg/ebpf"

// Program never runs anything on this build; it exists only so Compile's
// signature matches the amd64 build.
type Program struct{}

// Invoke always fails: a Program value on this build is never actually
// produced by Compile, so this is unreachable in practice.
func (p *Program) Invoke(env *ebpf.RuntimeEnvironment, registers [12]uint64) (uint64, error) {
	return 0, &ebpf.VMError{Kind: ebpf.JitNotCompiled}
}

// Compile always reports JitNotCompiled on this build: there is no native
// code generator for this architecture, so the caller should run exe through
// the interpreter instead.
func Compile(exe *ebpf.Executable) (*Program, error) {
	return nil, &ebpf.VMError{Kind: ebpf.JitNotCompiled}
}
