// Package mem implements the guest memory space.
//
// The space is one flat 32-bit range backed by host bytes. The first page is
// reserved so that null dereferences fault. Every live allocation has a
// record in a table sorted by base address, and every read or write is
// checked against that table: an access that does not lie entirely inside
// one live allocation raises an out_of_bounds fault instead of being clamped.
//
// Typed access goes through Ptr[T], whose arithmetic scales by the guest
// layout size of T. Guest layouts are packed little-endian in field order:
//
//	type CGPoint struct {
//		X, Y float32
//	}
//
//	p := mem.AllocAndWrite(m, CGPoint{X: 1, Y: 2})
//	pt := mem.Read(m, p)
//
// Types whose bytes cannot be trusted from the guest (bool, pointers,
// strings and the like) are rejected with an invalid_layout fault.
//
// Faults are raised with errors.Throw. Callers at a trap boundary recover
// them with errors.Catch.
package mem
