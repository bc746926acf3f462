//go:build unix

package jit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// codePages owns the two mmap'd regions a compiled program lives in: the
// pc-section (one 4-byte slot per bytecode instruction plus one past the
// end, mapping pc to its text offset, read-only once populated) and the text-section (the
// emitted machine code itself). Splitting them mirrors original_source's
// JitProgram, which keeps the pc table and the executable bytes in separate
// allocations so the text page can be marked read+exec without also making
// the (data) pc table executable (§4.G W^X lifecycle).
type codePages struct {
	pcSection []byte
	text      []byte
}

// allocatePages reserves pcSectionLen and textLen bytes and returns them
// writable; call seal() once both are fully populated.
func allocatePages(pcSectionLen, textLen int) (*codePages, error) {
	pcSection, err := unix.Mmap(-1, 0, pageRound(pcSectionLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap pc-section: %w", err)
	}
	text, err := unix.Mmap(-1, 0, pageRound(textLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		unix.Munmap(pcSection)
		return nil, fmt.Errorf("mmap text-section: %w", err)
	}
	return &codePages{pcSection: pcSection[:pcSectionLen], text: text[:textLen]}, nil
}

// seal flips the pc-section to read-only and the text-section to
// read+execute, never both writable and executable at once (§4.G "W^X").
func (p *codePages) seal() error {
	if err := unix.Mprotect(roundSlice(p.pcSection), unix.PROT_READ); err != nil {
		return fmt.Errorf("mprotect pc-section RO: %w", err)
	}
	if err := unix.Mprotect(roundSlice(p.text), unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect text-section RX: %w", err)
	}
	return nil
}

// release unmaps both sections; called when a compiled program is no longer
// reachable (wired in by a runtime.SetFinalizer in jit_amd64.go, since Go has
// no destructors).
func (p *codePages) release() {
	unix.Munmap(roundSlice(p.pcSection))
	unix.Munmap(roundSlice(p.text))
}

func pageRound(n int) int {
	const pageSize = 4096
	if n == 0 {
		n = pageSize
	}
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// roundSlice recovers the full mmap'd extent from a length-truncated slice,
// since Mprotect/Munmap must be called with the original mapping's bounds.
func roundSlice(b []byte) []byte {
	return b[:cap(b)]
}
