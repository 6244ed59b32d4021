package mem

import (
	"bytes"
	"unicode/utf8"

	"github.com/wippyai/hle-runtime/errors"
)

// Read loads a T from guest memory at p.
func Read[T any](m *Memory, p Ptr[T]) T {
	size := SizeOf[T]()
	return Decode[T](m.access(uint32(p), size, false))
}

// Write stores v into guest memory at p.
func Write[T any](m *Memory, p Ptr[T], v T) {
	size := SizeOf[T]()
	Encode(m.access(uint32(p), size, true), v)
}

// AllocAndWrite allocates room for a T and stores v there.
func AllocAndWrite[T any](m *Memory, v T) Ptr[T] {
	p := Cast[T](m.Alloc(SizeOf[T]()))
	Write(m, p, v)
	return p
}

// Bytes returns a read view of n bytes at p. The view is only valid until
// the next allocation change and must not be retained.
func (m *Memory) Bytes(p VoidPtr, n GuestUSize) []byte {
	return m.access(uint32(p), n, false)
}

// BytesMut returns a writable view of n bytes at p. It faults on read-only
// allocations.
func (m *Memory) BytesMut(p VoidPtr, n GuestUSize) []byte {
	return m.access(uint32(p), n, true)
}

// Memmove copies n bytes from src to dst. The ranges may overlap.
func (m *Memory) Memmove(dst, src VoidPtr, n GuestUSize) {
	if n == 0 {
		return
	}
	from := m.access(uint32(src), n, false)
	to := m.access(uint32(dst), n, true)
	copy(to, from)
}

// Memset fills n bytes at dst with b.
func (m *Memory) Memset(dst VoidPtr, b uint8, n GuestUSize) {
	buf := m.access(uint32(dst), n, true)
	for i := range buf {
		buf[i] = b
	}
}

// CStrAt returns the bytes of the NUL-terminated string at p, without the
// terminator. The terminator must lie inside the same allocation.
func (m *Memory) CStrAt(p VoidPtr) []byte {
	i := m.containing(uint32(p))
	if i < 0 {
		m.faultAccess(uint32(p), 1)
	}
	a := m.allocs[i]
	end := uint64(a.base) + uint64(a.size)
	if uint64(p) >= end {
		m.faultAccess(uint32(p), 1)
	}

	buf := m.bytes[uint64(p):end]
	n := bytes.IndexByte(buf, 0)
	if n < 0 {
		errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Addr(uint32(p)).
			Detail("unterminated C string runs past the end of its allocation at 0x%08x", a.base).
			Throw()
	}
	return buf[:n:n]
}

// CStrAtUTF8 returns the NUL-terminated string at p as a Go string. Invalid
// UTF-8 faults.
func (m *Memory) CStrAtUTF8(p VoidPtr) string {
	b := m.CStrAt(p)
	if !utf8.Valid(b) {
		errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Addr(uint32(p)).
			Detail("C string is not valid UTF-8").
			Throw()
	}
	return string(b)
}

// AllocAndWriteCStr allocates a NUL-terminated copy of s.
func (m *Memory) AllocAndWriteCStr(s string) Ptr[uint8] {
	n := GuestUSize(len(s)) + 1
	p := m.Alloc(n)
	buf := m.access(uint32(p), n, true)
	copy(buf, s)
	buf[len(s)] = 0
	return Cast[uint8](p)
}
