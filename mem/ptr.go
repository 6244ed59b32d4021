package mem

import "fmt"

// GuestUSize is the guest's size_t.
type GuestUSize = uint32

// GuestISize is the guest's ssize_t / ptrdiff_t.
type GuestISize = int32

// Ptr is a typed guest pointer: an offset into the guest space whose pointee
// has type T. Arithmetic scales by T's guest layout size. A Ptr has no meaning
// without the Memory that backs it.
type Ptr[T any] uint32

// VoidPtr is an untyped guest pointer.
type VoidPtr uint32

// Null is the universal null guest address.
const Null VoidPtr = 0

// IsNull reports whether p is the null pointer.
func (p Ptr[T]) IsNull() bool { return p == 0 }

// Addr returns the raw guest address.
func (p Ptr[T]) Addr() uint32 { return uint32(p) }

// Void drops the pointee type.
func (p Ptr[T]) Void() VoidPtr { return VoidPtr(p) }

// Add advances p by n elements of T.
func (p Ptr[T]) Add(n GuestISize) Ptr[T] {
	return Ptr[T](uint32(int64(p) + int64(n)*int64(SizeOf[T]())))
}

// Sub moves p back by n elements of T.
func (p Ptr[T]) Sub(n GuestISize) Ptr[T] {
	return p.Add(-n)
}

// Diff returns the element distance p - q.
func (p Ptr[T]) Diff(q Ptr[T]) GuestISize {
	size := SizeOf[T]()
	if size == 0 {
		return 0
	}
	return GuestISize((int64(p) - int64(q)) / int64(size))
}

func (p Ptr[T]) String() string { return fmt.Sprintf("0x%08x", uint32(p)) }

// IsNull reports whether p is the null pointer.
func (p VoidPtr) IsNull() bool { return p == 0 }

// Addr returns the raw guest address.
func (p VoidPtr) Addr() uint32 { return uint32(p) }

// Add advances p by n bytes.
func (p VoidPtr) Add(n GuestISize) VoidPtr {
	return VoidPtr(uint32(int64(p) + int64(n)))
}

func (p VoidPtr) String() string { return fmt.Sprintf("0x%08x", uint32(p)) }

// Cast gives an untyped pointer a pointee type.
func Cast[T any](p VoidPtr) Ptr[T] {
	return Ptr[T](p)
}

// Recast changes the pointee type of a typed pointer.
func Recast[U, T any](p Ptr[T]) Ptr[U] {
	return Ptr[U](p)
}
