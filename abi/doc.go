// Package abi marshals values between Go function signatures and the guest
// calling convention.
//
// The guest convention is 32-bit ARM AAPCS with soft-float. Arguments are
// laid out as a sequence of 32-bit words: words 0 to 3 travel in r0 to r3
// and the rest on the caller's stack at sp+4*(i-4). 64-bit scalars start at
// an even word index with the low word first. Structs and arrays are passed
// by value in ceil(size/4) words and may straddle the register/stack
// boundary. Results up to 4 bytes come back in r0 and 64-bit scalars in
// r0:r1. Larger composites are written through a hidden pointer the caller
// passes in r0.
//
// A host function is wrapped once with NewFunc, which derives its Signature
// by reflection:
//
//	f, err := abi.NewFunc(func(env *Env, x float32, m Matrix) Vec4 { ... }, 1)
//
// The first lead params (here the environment) are supplied by the host.
// MarshalCall and WriteReturn serve guest-to-host calls. PushCall and
// ReadReturn serve host-to-guest calls.
package abi
