package abi

import (
	"fmt"
	"reflect"
	"runtime"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
)

// Func is a Go function prepared for calls across the guest ABI.
//
// The first Lead parameters are host-only: they are supplied by the caller
// of Call (typically the environment) and never come from guest registers.
type Func struct {
	Sig  *Signature
	Name string

	fn        reflect.Value
	leadTypes []reflect.Type
}

// NewFunc wraps fn, which must be a func, and derives its signature.
func NewFunc(fn any, lead int) (*Func, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, errors.New(errors.PhaseABI, errors.KindTypeMismatch).
			Detail("handler must be a function, got %T", fn).
			Build()
	}

	ft := rv.Type()
	name := funcName(rv)
	sig, err := SignatureOf(ft, lead)
	if err != nil {
		return nil, errors.New(errors.PhaseABI, errors.KindShapeMismatch).
			Symbol(name).
			Cause(err).
			Detail("unsupported signature %s", ft).
			Build()
	}

	leadTypes := make([]reflect.Type, lead)
	for i := range leadTypes {
		leadTypes[i] = ft.In(i)
	}

	Logger().Debug("host function prepared",
		zap.String("func", name),
		zap.Stringer("signature", sig))
	return &Func{Sig: sig, Name: name, fn: rv, leadTypes: leadTypes}, nil
}

// MustFunc is like NewFunc but faults on error.
func MustFunc(fn any, lead int) *Func {
	f, err := NewFunc(fn, lead)
	if err != nil {
		errors.Throw(err.(*errors.Error))
	}
	return f
}

func funcName(rv reflect.Value) string {
	if f := runtime.FuncForPC(rv.Pointer()); f != nil {
		return f.Name()
	}
	return rv.Type().String()
}

// Lead returns the number of host-only leading params.
func (f *Func) Lead() int { return len(f.leadTypes) }

// LeadType returns the type of lead param i.
func (f *Func) LeadType(i int) reflect.Type { return f.leadTypes[i] }

// Type returns the Go func type.
func (f *Func) Type() reflect.Type { return f.fn.Type() }

// BindLead converts host values into the lead params. A value that is not
// assignable to the lead type faults with shape_mismatch.
func (f *Func) BindLead(values ...any) []reflect.Value {
	if len(values) < len(f.leadTypes) {
		errors.Throw(errors.ShapeMismatch(f.Name,
			fmt.Sprintf("needs %d host lead value(s), got %d", len(f.leadTypes), len(values))))
	}
	out := make([]reflect.Value, len(f.leadTypes))
	for i, t := range f.leadTypes {
		v := values[i]
		if v == nil {
			out[i] = reflect.Zero(t)
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(t) {
			errors.Throw(errors.ShapeMismatch(f.Name,
				fmt.Sprintf("lead param %d wants %s, got %s", i, t, rv.Type())))
		}
		out[i] = rv
	}
	return out
}

// Call invokes the function with lead values followed by args. args must
// already match the signature, including the trailing VarArgs when the
// function is variadic. It returns the single result, or an invalid Value
// for functions without one.
func (f *Func) Call(lead, args []reflect.Value) reflect.Value {
	in := make([]reflect.Value, 0, len(lead)+len(args))
	in = append(in, lead...)
	in = append(in, args...)
	out := f.fn.Call(in)
	if len(out) == 0 {
		return reflect.Value{}
	}
	return out[0]
}
