package mem

import "sort"

// span is a free range [base, base+size). size is 64-bit because a span
// may reach the top of the 4 GiB space.
type span struct {
	base uint64
	size uint64
}

func (s span) end() uint64 { return s.base + s.size }

// freeList is a first-fit allocator over sorted, coalesced free spans.
// Guest programs layer their own allocators on top, so it aims for
// determinism rather than throughput.
type freeList struct {
	spans []span
}

func newFreeList(base, end uint64) *freeList {
	f := &freeList{}
	if end > base {
		f.spans = append(f.spans, span{base: base, size: end - base})
	}
	return f
}

// take returns an align-aligned range of n bytes.
func (f *freeList) take(n, align uint64) (uint64, bool) {
	for i, s := range f.spans {
		start := alignUp(s.base, align)
		if start+n > s.end() {
			continue
		}
		f.carve(i, start, n)
		return start, true
	}
	return 0, false
}

// reserve removes the exact range [base, base+n) if it is entirely free.
func (f *freeList) reserve(base, n uint64) bool {
	i := f.find(base)
	if i < 0 || base+n > f.spans[i].end() {
		return false
	}
	f.carve(i, base, n)
	return true
}

// carve splits span i around [start, start+n).
func (f *freeList) carve(i int, start, n uint64) {
	s := f.spans[i]
	var rest []span
	if start > s.base {
		rest = append(rest, span{base: s.base, size: start - s.base})
	}
	if start+n < s.end() {
		rest = append(rest, span{base: start + n, size: s.end() - (start + n)})
	}
	f.spans = append(f.spans[:i], append(rest, f.spans[i+1:]...)...)
}

// release returns [base, base+n) to the list, merging with neighbours.
func (f *freeList) release(base, n uint64) {
	i := sort.Search(len(f.spans), func(i int) bool { return f.spans[i].base > base })
	f.spans = append(f.spans, span{})
	copy(f.spans[i+1:], f.spans[i:])
	f.spans[i] = span{base: base, size: n}

	if i+1 < len(f.spans) && f.spans[i].end() == f.spans[i+1].base {
		f.spans[i].size += f.spans[i+1].size
		f.spans = append(f.spans[:i+1], f.spans[i+2:]...)
	}
	if i > 0 && f.spans[i-1].end() == f.spans[i].base {
		f.spans[i-1].size += f.spans[i].size
		f.spans = append(f.spans[:i], f.spans[i+1:]...)
	}
}

// find returns the index of the span containing addr, or -1.
func (f *freeList) find(addr uint64) int {
	i := sort.Search(len(f.spans), func(i int) bool { return f.spans[i].end() > addr })
	if i < len(f.spans) && f.spans[i].base <= addr {
		return i
	}
	return -1
}

func (f *freeList) stats() (total, largest uint64) {
	for _, s := range f.spans {
		total += s.size
		if s.size > largest {
			largest = s.size
		}
	}
	return total, largest
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
