package mem

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
)

const (
	// DefaultSize is the guest space size used when Config.Size is 0.
	DefaultSize = 64 << 20
	// MaxSize is the whole 32-bit guest address space.
	MaxSize = 1 << 32
	// DefaultNullPageSize is the low range that is never allocated, so
	// that null dereferences with small offsets fault.
	DefaultNullPageSize = 0x1000
	// Alignment is the alignment of every Alloc result, matching the
	// guest's malloc.
	Alignment = 16
)

// Config holds configuration for a guest memory space.
type Config struct {
	// Logger overrides the package logger for this Memory.
	Logger *zap.Logger

	// Backend selects the host storage. Empty means BackendHeap.
	Backend BackendKind

	// Size is the guest space size in bytes, at most MaxSize.
	// 0 means DefaultSize.
	Size uint64

	// NullPageSize is the reserved low range. 0 means DefaultNullPageSize.
	NullPageSize uint32
}

// Memory is a flat guest address space. Every access is checked against
// the allocation table, and only integer offsets cross its boundary.
//
// Memory is not safe for concurrent use: only the current guest thread
// touches it.
type Memory struct {
	backend  Backend
	log      *zap.Logger
	freed    []freedSpan
	heap     *freeList
	bytes    []byte
	allocs   []allocation
	size     uint64
	nullPage uint64
}

// allocation is one record of the allocation table. size is what the caller
// asked for. span is what the allocator reserved, at least one byte so
// that zero-size allocations still own a unique base.
type allocation struct {
	base     uint32
	size     uint32
	span     uint64
	readOnly bool
}

// freedSpan is a retired allocation. Spans are disjoint and sorted by base.
// A new allocation that overlaps a span retires it.
type freedSpan struct {
	base uint32
	span uint64
}

// AllocationInfo describes a live allocation.
type AllocationInfo struct {
	Base     uint32
	Size     uint32
	ReadOnly bool
}

// Stats summarizes the allocator state.
type Stats struct {
	Size            uint64
	BytesInUse      uint64
	FreeBytes       uint64
	LargestFree     uint64
	LiveAllocations int
}

// New creates a guest memory space.
func New(cfg Config) (*Memory, error) {
	size := cfg.Size
	if size == 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		return nil, errors.InvalidInput(errors.PhaseMemory, fmt.Sprintf("memory size %d exceeds the 32-bit guest space", size))
	}

	nullPage := uint64(cfg.NullPageSize)
	if nullPage == 0 {
		nullPage = DefaultNullPageSize
	}
	if nullPage >= size {
		return nil, errors.InvalidInput(errors.PhaseMemory, fmt.Sprintf("null page %#x does not fit in %d bytes", nullPage, size))
	}

	backend, err := newBackend(cfg.Backend, size)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMemory, errors.KindAllocation, err, "create backend")
	}

	log := cfg.Logger
	if log == nil {
		log = Logger()
	}

	m := &Memory{
		backend:  backend,
		bytes:    backend.Bytes(),
		size:     size,
		nullPage: nullPage,
		heap:     newFreeList(nullPage, size),
		log:      log,
	}
	log.Debug("guest memory created",
		zap.String("backend", string(cfg.Backend)),
		zap.Uint64("size", size))
	return m, nil
}

// Close releases the host storage. The Memory must not be used afterwards.
func (m *Memory) Close() error {
	m.bytes = nil
	m.allocs = nil
	return m.backend.Close()
}

// Size returns the size of the guest space in bytes.
func (m *Memory) Size() uint64 {
	return m.size
}

// Alloc reserves a fresh, zero-filled, Alignment-aligned region.
// Size 0 yields a valid empty region with its own base.
func (m *Memory) Alloc(size GuestUSize) VoidPtr {
	span := alignUp(uint64(max(size, 1)), Alignment)
	base, ok := m.heap.take(span, Alignment)
	if !ok {
		errors.Throw(errors.AllocationFailed(size))
	}

	clear(m.bytes[base : base+span])
	m.insert(allocation{base: uint32(base), size: size, span: span})
	m.forget(base, span)
	return VoidPtr(base)
}

// AllocAt records a fixed-address allocation, as the loader needs for
// binary segments. It faults if the range is not entirely free.
func (m *Memory) AllocAt(base VoidPtr, size GuestUSize) {
	span := uint64(max(size, 1))
	if uint64(base) < m.nullPage {
		errors.New(errors.PhaseMemory, errors.KindAllocation).
			Addr(uint32(base)).
			Detail("fixed allocation inside the null page").
			Throw()
	}
	if !m.heap.reserve(uint64(base), span) {
		errors.New(errors.PhaseMemory, errors.KindAllocation).
			Addr(uint32(base)).
			Detail("fixed allocation of %d bytes overlaps a live allocation or leaves the guest space", size).
			Throw()
	}

	clear(m.bytes[uint64(base) : uint64(base)+span])
	m.insert(allocation{base: uint32(base), size: size, span: span})
	m.forget(uint64(base), span)
}

// Free retires the allocation whose base is p. Freeing null is a no-op.
// Double free and frees of non-base addresses fault.
func (m *Memory) Free(p VoidPtr) {
	if p.IsNull() {
		return
	}
	i := m.exact(uint32(p))
	if i < 0 {
		if f, ok := m.freedAt(uint32(p)); ok && f.base == uint32(p) {
			errors.Throw(errors.DoubleFree(uint32(p)))
		}
		errors.Throw(errors.InvalidFree(uint32(p)))
	}

	a := m.allocs[i]
	m.allocs = append(m.allocs[:i], m.allocs[i+1:]...)
	m.heap.release(uint64(a.base), a.span)
	m.retire(a.base, a.span)
}

// Realloc resizes the allocation at p with C semantics: a null p allocates,
// and contents are preserved up to the smaller size.
func (m *Memory) Realloc(p VoidPtr, size GuestUSize) VoidPtr {
	if p.IsNull() {
		return m.Alloc(size)
	}
	i := m.exact(uint32(p))
	if i < 0 {
		if f, ok := m.freedAt(uint32(p)); ok && f.base == uint32(p) {
			errors.Throw(errors.DoubleFree(uint32(p)))
		}
		errors.Throw(errors.InvalidFree(uint32(p)))
	}

	a := &m.allocs[i]
	if uint64(max(size, 1)) <= a.span {
		if size > a.size {
			clear(m.bytes[uint64(a.base)+uint64(a.size) : uint64(a.base)+uint64(size)])
		}
		a.size = size
		return p
	}

	oldSize := a.size
	readOnly := a.readOnly
	n := m.Alloc(size)
	copy(m.bytes[n:uint64(n)+uint64(oldSize)], m.bytes[p:uint64(p)+uint64(oldSize)])
	m.Free(p)
	if readOnly {
		m.Protect(n, true)
	}
	return n
}

// Protect marks the allocation at p read-only or writable.
func (m *Memory) Protect(p VoidPtr, readOnly bool) {
	i := m.exact(uint32(p))
	if i < 0 {
		errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Addr(uint32(p)).
			Detail("protect: not the base of a live allocation").
			Throw()
	}
	m.allocs[i].readOnly = readOnly
}

// SizeOfAllocation returns the requested size of the allocation at p.
func (m *Memory) SizeOfAllocation(p VoidPtr) GuestUSize {
	i := m.exact(uint32(p))
	if i < 0 {
		errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Addr(uint32(p)).
			Detail("not the base of a live allocation").
			Throw()
	}
	return m.allocs[i].size
}

// Valid reports whether [p, p+n) lies inside one live allocation, without faulting.
func (m *Memory) Valid(p VoidPtr, n GuestUSize) bool {
	i := m.containing(uint32(p))
	if i < 0 {
		return false
	}
	a := m.allocs[i]
	return uint64(p)+uint64(n) <= uint64(a.base)+uint64(a.size)
}

// Stats summarizes the allocator state.
func (m *Memory) Stats() Stats {
	free, largest := m.heap.stats()
	s := Stats{
		Size:            m.size,
		FreeBytes:       free,
		LargestFree:     largest,
		LiveAllocations: len(m.allocs),
	}
	for _, a := range m.allocs {
		s.BytesInUse += uint64(a.size)
	}
	return s
}

// Allocations lists live allocations in address order.
func (m *Memory) Allocations() []AllocationInfo {
	out := make([]AllocationInfo, len(m.allocs))
	for i, a := range m.allocs {
		out[i] = AllocationInfo{Base: a.base, Size: a.size, ReadOnly: a.readOnly}
	}
	return out
}

// access returns the host view of [addr, addr+n) after checking it.
func (m *Memory) access(addr, n uint32, write bool) []byte {
	if n == 0 {
		return nil
	}
	i := m.containing(addr)
	if i < 0 {
		m.faultAccess(addr, n)
	}
	a := m.allocs[i]
	end := uint64(addr) + uint64(n)
	if end > uint64(a.base)+uint64(a.size) {
		m.faultAccess(addr, n)
	}
	if write && a.readOnly {
		errors.Throw(errors.WriteProtected(addr))
	}
	return m.bytes[addr:end:end]
}

func (m *Memory) faultAccess(addr, n uint32) {
	if f, ok := m.freedAt(addr); ok {
		errors.New(errors.PhaseMemory, errors.KindUseAfterFree).
			Addr(addr).
			Value(n).
			Detail("access of %d byte(s) in the allocation freed at 0x%08x", n, f.base).
			Throw()
	}
	errors.Throw(errors.OutOfBounds(addr, n))
}

func (m *Memory) insert(a allocation) {
	i := sort.Search(len(m.allocs), func(i int) bool { return m.allocs[i].base > a.base })
	m.allocs = append(m.allocs, allocation{})
	copy(m.allocs[i+1:], m.allocs[i:])
	m.allocs[i] = a
}

// containing returns the index of the allocation with the greatest base <= addr.
func (m *Memory) containing(addr uint32) int {
	return sort.Search(len(m.allocs), func(i int) bool { return m.allocs[i].base > addr }) - 1
}

func (m *Memory) exact(addr uint32) int {
	i := m.containing(addr)
	if i >= 0 && m.allocs[i].base == addr {
		return i
	}
	return -1
}

// freedAt returns the retired span containing addr.
func (m *Memory) freedAt(addr uint32) (freedSpan, bool) {
	i := sort.Search(len(m.freed), func(i int) bool { return m.freed[i].base > addr }) - 1
	if i < 0 {
		return freedSpan{}, false
	}
	f := m.freed[i]
	return f, uint64(addr) < uint64(f.base)+f.span
}

func (m *Memory) retire(base uint32, span uint64) {
	i := sort.Search(len(m.freed), func(i int) bool { return m.freed[i].base > base })
	m.freed = append(m.freed, freedSpan{})
	copy(m.freed[i+1:], m.freed[i:])
	m.freed[i] = freedSpan{base: base, span: span}
}

// forget drops every retired span overlapping [base, base+span).
func (m *Memory) forget(base, span uint64) {
	end := base + span
	lo := sort.Search(len(m.freed), func(i int) bool {
		f := m.freed[i]
		return uint64(f.base)+f.span > base
	})
	hi := lo
	for hi < len(m.freed) && uint64(m.freed[hi].base) < end {
		hi++
	}
	m.freed = append(m.freed[:lo], m.freed[hi:]...)
}
