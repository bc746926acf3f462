package ebpf

import (
	"encoding/binary"
	"unsafe"
)

// Virtual address space layout (§6 "bit-exact"): the top byte of a vm
// address identifies the region, so a bad pointer can never alias a
// neighboring region by overflow.
const (
	VMAddrProgram = 0x100000000
	VMAddrStack   = 0x200000000
	VMAddrHeap    = 0x300000000
	VMAddrInput   = 0x400000000
)

// Permission is a bitmask of the accesses a MemoryRegion admits.
type Permission uint8

const (
	Readable Permission = 1 << iota
	Writable
)

// MemoryRegion is one entry of the memory mapping (§4.B / §3). HostBase is
// derived from backing at construction time and stays valid for as long as
// the region is reachable, since backing is held alongside it — Go slices
// are not relocated by the GC, so the derived address is stable.
type MemoryRegion struct {
	HostBase   uintptr
	VMBase     uint64
	Length     uint64
	Permission Permission

	// GapStride, when non-zero, marks every other GapStride-sized block
	// (starting at the second one) as unmapped, supporting the "gapped
	// stack" overflow-detection layout (§4.B).
	GapStride uint64

	backing []byte
}

// NewRegion builds a region backed by a host buffer the caller owns for the
// lifetime of the invocation (stack, heap, input, or program text).
func NewRegion(vmBase uint64, backing []byte, perm Permission, gapStride uint64) *MemoryRegion {
	r := &MemoryRegion{
		VMBase:     vmBase,
		Length:     uint64(len(backing)),
		Permission: perm,
		GapStride:  gapStride,
		backing:    backing,
	}
	if len(backing) > 0 {
		r.HostBase = uintptr(unsafe.Pointer(&backing[0]))
	}
	return r
}

func (r *MemoryRegion) contains(vmAddr uint64, length uint64) bool {
	if vmAddr < r.VMBase {
		return false
	}
	end := vmAddr - r.VMBase + length
	return end <= r.Length
}

// inGap reports whether any byte of [vmAddr, vmAddr+length) falls in an
// unmapped gap page of a gapped-stack region.
func (r *MemoryRegion) inGap(vmAddr, length uint64) bool {
	if r.GapStride == 0 {
		return false
	}
	off := vmAddr - r.VMBase
	start := off % (2 * r.GapStride)
	// The second half of every 2*GapStride block is the gap.
	return start+length > r.GapStride
}

// MemoryMapping is an ordered set of non-overlapping regions translating
// between vm addresses and host pointers (§4.B).
type MemoryMapping struct {
	regions []*MemoryRegion
}

// NewMemoryMapping builds a mapping over the given regions. Regions are not
// required to be pre-sorted; lookups scan linearly, which is adequate for
// the handful of regions (program/stack/heap/input) this VM ever has.
func NewMemoryMapping(regions []*MemoryRegion) *MemoryMapping {
	return &MemoryMapping{regions: regions}
}

func (m *MemoryMapping) find(vmAddr, length uint64) *MemoryRegion {
	for _, r := range m.regions {
		if r.contains(vmAddr, length) {
			return r
		}
	}
	return nil
}

func accessViolation(access AccessType, pc int, vmAddr uint64, length int) error {
	return &VMError{Kind: AccessViolation, PC: pc, Access: access, VMAddr: vmAddr, Length: length}
}

// Region returns the unique region containing [vmAddr, vmAddr+length), or
// nil. Exposed so the JIT's translate-memory-address anchors and the
// interpreter's load/store share one resolution primitive (§4.B rationale).
func (m *MemoryMapping) Region(vmAddr, length uint64) *MemoryRegion {
	return m.find(vmAddr, length)
}

func checkAccess(r *MemoryRegion, access AccessType, vmAddr uint64, length uint64) error {
	if r == nil {
		return accessViolation(access, 0, vmAddr, int(length))
	}
	if access == AccessStore && r.Permission&Writable == 0 {
		return accessViolation(access, 0, vmAddr, int(length))
	}
	if access == AccessLoad && r.Permission&Readable == 0 {
		return accessViolation(access, 0, vmAddr, int(length))
	}
	if r.inGap(vmAddr, length) {
		return accessViolation(access, 0, vmAddr, int(length))
	}
	return nil
}

func hostPtr(r *MemoryRegion, vmAddr uint64) uintptr {
	return r.HostBase + uintptr(vmAddr-r.VMBase)
}

// Value is the set of widths the memory mapping's generic load/store
// support (§4.B: u8, u16, u32, u64).
type Value interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Load performs an unaligned, width-T read through the mapping. pc is
// folded into the resulting AccessViolation so interpreter and JIT report
// identical fault sites (§8 equivalence invariant).
func Load[T Value](m *MemoryMapping, vmAddr uint64, pc int) (T, error) {
	var zero T
	length := uint64(sizeOf[T]())
	r := m.find(vmAddr, length)
	if err := checkAccess(r, AccessLoad, vmAddr, length); err != nil {
		verr := err.(*VMError)
		verr.PC = pc
		return zero, verr
	}
	return readAt[T](r, vmAddr), nil
}

// Store performs an unaligned, width-T write through the mapping.
func Store[T Value](m *MemoryMapping, value T, vmAddr uint64, pc int) error {
	length := uint64(sizeOf[T]())
	r := m.find(vmAddr, length)
	if err := checkAccess(r, AccessStore, vmAddr, length); err != nil {
		verr := err.(*VMError)
		verr.PC = pc
		return verr
	}
	writeAt(r, vmAddr, value)
	return nil
}

func sizeOf[T Value]() int {
	var v T
	switch any(v).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	case uint32:
		return 4
	case uint64:
		return 8
	}
	return 0
}

// readAt and writeAt perform the actual unaligned host access. The host
// pointer is backed by a Go byte slice (see NewRegion), so we go
// through encoding/binary rather than unsafe pointer casts: portable, and
// the JIT's own translate-address anchors are where the real pointer
// arithmetic happens (§4.G).
func readAt[T Value](r *MemoryRegion, vmAddr uint64) T {
	buf := bufferFor(r)
	off := vmAddr - r.VMBase
	var v T
	switch sizeOf[T]() {
	case 1:
		v = T(buf[off])
	case 2:
		v = T(binary.LittleEndian.Uint16(buf[off:]))
	case 4:
		v = T(binary.LittleEndian.Uint32(buf[off:]))
	case 8:
		v = T(binary.LittleEndian.Uint64(buf[off:]))
	}
	return v
}

func writeAt[T Value](r *MemoryRegion, vmAddr uint64, value T) {
	buf := bufferFor(r)
	off := vmAddr - r.VMBase
	switch sizeOf[T]() {
	case 1:
		buf[off] = uint8(value)
	case 2:
		binary.LittleEndian.PutUint16(buf[off:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf[off:], uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(buf[off:], uint64(value))
	}
}

func bufferFor(r *MemoryRegion) []byte {
	return r.backing
}
