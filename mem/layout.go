package mem

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"

	"github.com/wippyai/hle-runtime/errors"
)

// layout is the guest representation of a Go type: packed little-endian
// fields in declaration order, no implicit padding.
type layout struct {
	err  *errors.Error
	size uint32
}

// layouts caches layouts by reflect.Type. It is shared by every Memory in
// the process, so it is the one structure here that needs to be safe for
// concurrent use.
var layouts sync.Map

func layoutOf(t reflect.Type) *layout {
	if cached, ok := layouts.Load(t); ok {
		return cached.(*layout)
	}

	l := &layout{}
	if reason := validate(t); reason != "" {
		l.err = errors.InvalidLayout(t.String(), reason)
	} else {
		l.size = uint32(binary.Size(reflect.Zero(t).Interface()))
	}

	actual, _ := layouts.LoadOrStore(t, l)
	return actual.(*layout)
}

func mustLayout[T any]() *layout {
	l := layoutOf(reflect.TypeFor[T]())
	if l.err != nil {
		errors.Throw(l.err)
	}
	return l
}

// validate returns a non-empty reason if t cannot be materialized from
// arbitrary guest bytes.
func validate(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return ""
	case reflect.Array:
		if reason := validate(t.Elem()); reason != "" {
			return fmt.Sprintf("array element: %s", reason)
		}
		return ""
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name != "_" && !f.IsExported() {
				return fmt.Sprintf("field %s is unexported", f.Name)
			}
			if reason := validate(f.Type); reason != "" {
				return fmt.Sprintf("field %s: %s", f.Name, reason)
			}
		}
		return ""
	case reflect.Bool:
		return "bool has invalid bit patterns; use uint8"
	case reflect.Int, reflect.Uint, reflect.Uintptr:
		return fmt.Sprintf("%s has a host-dependent size", t.Kind())
	default:
		return fmt.Sprintf("%s has no fixed guest representation", t.Kind())
	}
}

// SizeOf returns the guest layout size of T. It faults if T has no guest layout.
func SizeOf[T any]() GuestUSize {
	return mustLayout[T]().size
}

// HasLayout reports whether T can be read from and written to guest memory.
func HasLayout[T any]() bool {
	return layoutOf(reflect.TypeFor[T]()).err == nil
}

// Encode writes v into buf using the guest layout of T.
func Encode[T any](buf []byte, v T) {
	l := mustLayout[T]()
	if _, err := binary.Encode(buf[:l.size], binary.LittleEndian, v); err != nil {
		errors.Throw(errors.Wrap(errors.PhaseMemory, errors.KindInvalidLayout, err, "encode "+reflect.TypeFor[T]().String()))
	}
}

// Decode reads a T from buf using its guest layout.
func Decode[T any](buf []byte) T {
	l := mustLayout[T]()
	var v T
	if _, err := binary.Decode(buf[:l.size], binary.LittleEndian, &v); err != nil {
		errors.Throw(errors.Wrap(errors.PhaseMemory, errors.KindInvalidLayout, err, "decode "+reflect.TypeFor[T]().String()))
	}
	return v
}

// LayoutSize returns the guest layout size of t. The reflection forms below
// serve the ABI bridge, which only knows argument types at run time.
func LayoutSize(t reflect.Type) (GuestUSize, error) {
	l := layoutOf(t)
	if l.err != nil {
		return 0, l.err
	}
	return l.size, nil
}

// EncodeValue writes v into buf using the guest layout of v's type.
func EncodeValue(buf []byte, v reflect.Value) {
	l := layoutOf(v.Type())
	if l.err != nil {
		errors.Throw(l.err)
	}
	if _, err := binary.Encode(buf[:l.size], binary.LittleEndian, v.Interface()); err != nil {
		errors.Throw(errors.Wrap(errors.PhaseMemory, errors.KindInvalidLayout, err, "encode "+v.Type().String()))
	}
}

// DecodeValue reads a value of type t from buf.
func DecodeValue(buf []byte, t reflect.Type) reflect.Value {
	l := layoutOf(t)
	if l.err != nil {
		errors.Throw(l.err)
	}
	v := reflect.New(t)
	if _, err := binary.Decode(buf[:l.size], binary.LittleEndian, v.Interface()); err != nil {
		errors.Throw(errors.Wrap(errors.PhaseMemory, errors.KindInvalidLayout, err, "decode "+t.String()))
	}
	return v.Elem()
}
