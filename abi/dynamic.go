package abi

import (
	"fmt"
	"math"
	"reflect"

	"github.com/wippyai/hle-runtime/errors"
)

// DynamicSignature builds a signature from the Go values a host caller is
// passing to a guest function, for which no Go func type exists. Untyped
// integer constants are passed as the guest's 32-bit int and nil as a null
// word. result is the expected result type, or nil for none.
func DynamicSignature(symbol string, args []any, result reflect.Type) (*Signature, []reflect.Value) {
	sig := &Signature{Params: make([]Param, 0, len(args))}
	values := make([]reflect.Value, 0, len(args))

	for i, a := range args {
		var v reflect.Value
		switch a := a.(type) {
		case nil:
			v = reflect.ValueOf(uint32(0))
		case int:
			n := int64(a)
			if n < math.MinInt32 || n > math.MaxUint32 {
				errors.Throw(errors.ShapeMismatch(symbol,
					fmt.Sprintf("argument %d: %d does not fit a guest word", i, a)))
			}
			if n > math.MaxInt32 {
				v = reflect.ValueOf(uint32(n))
			} else {
				v = reflect.ValueOf(int32(a))
			}
		default:
			v = reflect.ValueOf(a)
		}

		p, err := Classify(v.Type())
		if err != nil {
			errors.Throw(errors.ShapeMismatch(symbol, fmt.Sprintf("argument %d: %v", i, err)))
		}
		sig.Params = append(sig.Params, p)
		values = append(values, v)
	}

	if result != nil {
		p, err := Classify(result)
		if err != nil {
			errors.Throw(errors.ShapeMismatch(symbol, fmt.Sprintf("result: %v", err)))
		}
		sig.Result = &p
	}
	return sig, values
}
