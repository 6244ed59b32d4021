package abi

import (
	"fmt"
	"reflect"

	"github.com/wippyai/hle-runtime/errors"
)

// ConvertArgs checks host-supplied args against sig and converts them to
// the declared param types. It accepts values assignable to the param type
// and the default types of untyped constants (int, float64) when the value
// is representable. A nil arg is the zero value of a word-class param,
// which makes nil usable for handles and pointers. Anything else faults
// with shape_mismatch.
//
// For variadic signatures the surplus args become the trailing VarArgs.
func ConvertArgs(sig *Signature, symbol string, args []any) []reflect.Value {
	fixed := len(sig.Params)
	if len(args) < fixed || (!sig.Variadic && len(args) != fixed) {
		errors.Throw(errors.ShapeMismatch(symbol,
			fmt.Sprintf("expected %d argument(s) for %s, got %d", fixed, sig, len(args))))
	}

	out := make([]reflect.Value, 0, fixed+1)
	for i, p := range sig.Params {
		out = append(out, convertArg(p, args[i], symbol, i))
	}
	if sig.Variadic {
		out = append(out, reflect.ValueOf(HostVarArgs(args[fixed:]...)))
	}
	return out
}

func convertArg(p Param, arg any, symbol string, i int) reflect.Value {
	t := p.Type
	if arg == nil {
		if p.Class == ClassWord && t.Kind() != reflect.Float32 {
			return reflect.Zero(t)
		}
		throwMismatch(symbol, i, t, "nil")
	}

	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out
	}

	out := reflect.New(t).Elem()
	switch a := arg.(type) {
	case int:
		switch {
		case isInt(t) && !out.OverflowInt(int64(a)):
			out.SetInt(int64(a))
			return out
		case isUint(t) && a >= 0 && !out.OverflowUint(uint64(a)):
			out.SetUint(uint64(a))
			return out
		case isFloat(t):
			out.SetFloat(float64(a))
			return out
		}
	case float64:
		if isFloat(t) && !out.OverflowFloat(a) {
			out.SetFloat(a)
			return out
		}
	}
	throwMismatch(symbol, i, t, v.Type().String())
	return reflect.Value{}
}

func throwMismatch(symbol string, i int, want reflect.Type, got string) {
	errors.Throw(errors.ShapeMismatch(symbol,
		fmt.Sprintf("argument %d wants %s, got %s", i, want, got)))
}

func isInt(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}
