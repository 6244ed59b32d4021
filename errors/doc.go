// Package errors provides the structured fault types raised by the emulation core.
//
// Faults are categorized by Phase (which component detected the fault) and
// Kind (the fault class). The Error type carries the guest address and
// symbol involved, so a report points at the offending access or message.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseObjC, errors.KindReentrancy).
//		Addr(uint32(obj)).
//		Detail("release reached zero while state is borrowed").
//		Build()
//
// Or the convenience constructors for the common cases:
//
//	err := errors.OutOfBounds(addr, 4)
//	err := errors.UnrecognizedSelector(obj, "NSObject", "frobnicate")
//
// # Fatal faults
//
// Almost every fault is fatal at the point of detection. Core components
// raise them with Throw, which panics with the *Error value. The trap
// boundary recovers them with Catch and applies the configured fault
// policy, either aborting the process or ending only the current guest
// thread.
//
//	if err := errors.Catch(func() { m.Free(p) }); err != nil {
//		// err.Kind == errors.KindUseAfterFree
//	}
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
