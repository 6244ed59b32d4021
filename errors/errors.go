package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Phase indicates which part of the core detected the fault
type Phase string

const (
	PhaseMemory  Phase = "memory"  // guest memory access and allocation
	PhaseObjC    Phase = "objc"    // object runtime
	PhaseABI     Phase = "abi"     // argument and return marshalling
	PhaseLink    Phase = "link"    // symbol export and resolution
	PhaseRuntime Phase = "runtime" // environment and trap handling
	PhaseConfig  Phase = "config"  // configuration loading
)

// Kind categorizes the fault
type Kind string

const (
	KindOutOfBounds          Kind = "out_of_bounds"
	KindUseAfterFree         Kind = "use_after_free"
	KindUnresolvedSymbol     Kind = "unresolved_symbol"
	KindUnrecognizedSelector Kind = "unrecognized_selector"
	KindTypeMismatch         Kind = "type_mismatch"
	KindOverRelease          Kind = "over_release"
	KindReentrancy           Kind = "reentrancy"
	KindPoolOrder            Kind = "pool_order"
	KindShapeMismatch        Kind = "shape_mismatch"
	KindInvalidLayout        Kind = "invalid_layout"
	KindAllocation           Kind = "allocation"
	KindRegistration         Kind = "registration"
	KindWriteProtected       Kind = "write_protected"
	KindInvalidInput         Kind = "invalid_input"
)

// Error is the structured fault type raised by every core component.
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Symbol string
	Detail string
	Addr   uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Addr != 0 {
		fmt.Fprintf(&b, " at 0x%08x", e.Addr)
	}

	if e.Symbol != "" {
		b.WriteString(" (")
		b.WriteString(e.Symbol)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Addr sets the guest address the fault refers to
func (b *Builder) Addr(addr uint32) *Builder {
	b.err.Addr = addr
	return b
}

// Symbol sets the symbol, selector or class name involved
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Throw raises the built error as a fault.
func (b *Builder) Throw() {
	Throw(b.Build())
}

// Convenience constructors for the fault taxonomy

// OutOfBounds creates an access fault for [addr, addr+length)
func OutOfBounds(addr, length uint32) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindOutOfBounds,
		Addr:   addr,
		Detail: fmt.Sprintf("access of %d byte(s) outside any live allocation", length),
		Value:  length,
	}
}

// DoubleFree creates a fault for freeing an address that is no longer live
func DoubleFree(addr uint32) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindUseAfterFree,
		Addr:   addr,
		Detail: "double free",
	}
}

// InvalidFree creates a fault for freeing an address that was never allocated
func InvalidFree(addr uint32) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindUseAfterFree,
		Addr:   addr,
		Detail: "free of an address that is not the base of a live allocation",
	}
}

// AllocationFailed creates an allocation failure fault
func AllocationFailed(size uint32) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Value:  size,
	}
}

// InvalidLayout creates a fault for a Go type that has no guest layout
func InvalidLayout(goType, reason string) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindInvalidLayout,
		Symbol: goType,
		Detail: reason,
	}
}

// WriteProtected creates a fault for writing into a read-only allocation
func WriteProtected(addr uint32) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindWriteProtected,
		Addr:   addr,
		Detail: "write to read-only allocation",
	}
}

// UnrecognizedSelector creates the "does not understand" fault
func UnrecognizedSelector(receiver uint32, className, selector string) *Error {
	return &Error{
		Phase:  PhaseObjC,
		Kind:   KindUnrecognizedSelector,
		Addr:   receiver,
		Symbol: selector,
		Detail: fmt.Sprintf("%s does not understand %q", className, selector),
	}
}

// TypeMismatch creates a fault for state or value of an unexpected Go type
func TypeMismatch(phase Phase, addr uint32, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Addr:   addr,
		Detail: fmt.Sprintf("expected %s, found %s", want, got),
	}
}

// OverRelease creates a fault for releasing an object that is already gone
func OverRelease(addr uint32, detail string) *Error {
	return &Error{
		Phase:  PhaseObjC,
		Kind:   KindOverRelease,
		Addr:   addr,
		Detail: detail,
	}
}

// Reentrancy creates a fault for state access that races its own teardown
func Reentrancy(addr uint32, detail string) *Error {
	return &Error{
		Phase:  PhaseObjC,
		Kind:   KindReentrancy,
		Addr:   addr,
		Detail: detail,
	}
}

// ShapeMismatch creates a fault for arguments that do not match a signature
func ShapeMismatch(symbol, detail string) *Error {
	return &Error{
		Phase:  PhaseABI,
		Kind:   KindShapeMismatch,
		Symbol: symbol,
		Detail: detail,
	}
}

// Unresolved creates a fault for a single missing symbol
func Unresolved(name string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindUnresolvedSymbol,
		Symbol: name,
		Detail: fmt.Sprintf("symbol %q is not exported by the host", name),
	}
}

// Registration creates a registration fault
func Registration(phase Phase, name, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Symbol: name,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingSymbolsError is returned when linking finds symbols the host does not export.
type MissingSymbolsError struct {
	Symbols []string
}

// NewMissingSymbolsError creates an error listing the missing names, sorted and deduplicated.
func NewMissingSymbolsError(names []string) *MissingSymbolsError {
	seen := make(map[string]bool, len(names))
	result := &MissingSymbolsError{Symbols: make([]string, 0, len(names))}
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		result.Symbols = append(result.Symbols, n)
	}
	sort.Strings(result.Symbols)
	return result
}

func (e *MissingSymbolsError) Error() string {
	if len(e.Symbols) == 0 {
		return "[link] unresolved_symbol: no symbols specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[link] unresolved_symbol: %d symbol(s) not exported by the host:", len(e.Symbols))
	for _, s := range e.Symbols {
		b.WriteString("\n  - ")
		b.WriteString(s)
	}
	return b.String()
}

// Is matches other MissingSymbolsError values and link-phase unresolved faults.
func (e *MissingSymbolsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingSymbolsError:
		return true
	case *Error:
		return t.Phase == PhaseLink && t.Kind == KindUnresolvedSymbol
	}
	return false
}
