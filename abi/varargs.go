package abi

import (
	"fmt"
	"reflect"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// VarArgs reads the variadic tail of a call, like C's va_list. A host
// function takes it as its last parameter.
//
// When the call came from the guest, values are read from the argument
// words following the fixed params. When it came from the host, they are
// the Go values the caller passed.
type VarArgs struct {
	regs RegisterFile
	mem  *mem.Memory
	host []any
	next uint32
}

// HostVarArgs builds a VarArgs over Go values.
func HostVarArgs(values ...any) VarArgs {
	return VarArgs{host: values}
}

// Remaining reports how many host values are left. For guest calls the
// count is unknown and -1 is returned.
func (va *VarArgs) Remaining() int {
	if va.regs != nil {
		return -1
	}
	return len(va.host) - int(va.next)
}

// NextArg consumes the next variadic argument as a T. Guest callers apply
// C's default promotions, so a %f argument is read as float64.
func NextArg[T any](va *VarArgs) T {
	t := reflect.TypeFor[T]()
	p, err := Classify(t)
	if err != nil {
		errors.Throw(errors.ShapeMismatch("va_arg", err.Error()))
	}

	if va.regs == nil {
		return nextHostArg[T](va, p)
	}

	if p.Even && va.next%2 == 1 {
		va.next++
	}
	v := DecodeWords(p, argWords(va.regs, va.mem, va.next, p.Words))
	va.next += p.Words
	return v.Interface().(T)
}

func nextHostArg[T any](va *VarArgs, p Param) T {
	if int(va.next) >= len(va.host) {
		errors.Throw(errors.ShapeMismatch("va_arg",
			fmt.Sprintf("read of argument %d past the %d supplied", va.next, len(va.host))))
	}
	arg := va.host[va.next]
	va.next++
	return convertArg(p, arg, "va_arg", int(va.next)-1).Interface().(T)
}
