// Package dyld links guest code to host functions.
//
// Host functions are exported by name and resolved on demand. Resolving a
// function places a trampoline, an 8-byte stub in a read-only page:
//
//	svc #n
//	bx  lr
//
// The CPU peer traps on the svc and hands n to HandleSVC, which marshals the
// registers into the function's Go arguments, runs it, and writes the result
// back. When the host returns the stub's bx lr takes the guest back to its
// caller. Raw functions may instead branch elsewhere, which is how message
// dispatch tail-calls guest method implementations.
//
// CallGuest goes the other way: it lays out arguments for a guest function,
// points lr at a return stub and runs the CPU until the callee comes back.
package dyld
