package abi

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/mem"
)

// Class is how a value travels through the argument words.
type Class uint8

const (
	// ClassWord is a scalar that fits one 32-bit word.
	ClassWord Class = iota
	// ClassDWord is a 64-bit scalar. It starts at an even word index.
	ClassDWord
	// ClassComposite is a struct or array passed by value in ceil(size/4) words.
	ClassComposite
)

func (c Class) String() string {
	switch c {
	case ClassWord:
		return "word"
	case ClassDWord:
		return "dword"
	case ClassComposite:
		return "composite"
	default:
		return fmt.Sprintf("class(%d)", c)
	}
}

// Param is the ABI shape of one Go parameter or result.
type Param struct {
	Type reflect.Type

	// Value is the scalar value type for word and dword params. Composites
	// report api.ValueTypeI32, since each of their words is an integer word.
	Value api.ValueType

	Class Class
	Size  uint32
	Words uint32

	// Even is set when the value must start at an even word index.
	Even bool
}

func (p Param) String() string {
	if p.Class == ClassComposite {
		return fmt.Sprintf("{%d}", p.Size)
	}
	return api.ValueTypeName(p.Value)
}

// Signature is the ABI shape of a host function, excluding its lead params.
type Signature struct {
	Params []Param
	Result *Param

	// Variadic is set when the last Go parameter is VarArgs. The VarArgs
	// parameter is not part of Params.
	Variadic bool
}

// Sret reports whether the result is returned through a hidden pointer in r0.
func (s *Signature) Sret() bool {
	return s.Result != nil && s.Result.Class == ClassComposite && s.Result.Size > 4
}

// Layout assigns each param its starting word index. Word indices 0 to 3
// are r0 to r3, and index i >= 4 is the stack word at sp+4*(i-4). The
// returned next is the first free word index after the fixed params.
func (s *Signature) Layout() (starts []uint32, next uint32) {
	if s.Sret() {
		next = 1
	}
	starts = make([]uint32, len(s.Params))
	for i, p := range s.Params {
		if p.Even && next%2 == 1 {
			next++
		}
		starts[i] = next
		next += p.Words
	}
	return starts, next
}

func (s *Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	if s.Variadic {
		if len(s.Params) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("...")
	}
	b.WriteByte(')')
	if s.Result != nil {
		b.WriteString(" -> ")
		b.WriteString(s.Result.String())
	}
	return b.String()
}

var varArgsType = reflect.TypeFor[VarArgs]()

// Classify returns the ABI shape of t, or an error if t has no guest
// calling-convention representation.
func Classify(t reflect.Type) (Param, error) {
	p := Param{Type: t, Value: api.ValueTypeI32, Class: ClassWord, Size: 4, Words: 1}
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		p.Size = 1
	case reflect.Int16, reflect.Uint16:
		p.Size = 2
	case reflect.Int32, reflect.Uint32:
	case reflect.Float32:
		p.Value = api.ValueTypeF32
	case reflect.Int64, reflect.Uint64:
		p.Value, p.Class, p.Size, p.Words, p.Even = api.ValueTypeI64, ClassDWord, 8, 2, true
	case reflect.Float64:
		p.Value, p.Class, p.Size, p.Words, p.Even = api.ValueTypeF64, ClassDWord, 8, 2, true
	case reflect.Struct, reflect.Array:
		size, err := mem.LayoutSize(t)
		if err != nil {
			return Param{}, err
		}
		p.Class = ClassComposite
		p.Size = size
		p.Words = (size + 3) / 4
		p.Even = hasDWord(t)
	default:
		return Param{}, fmt.Errorf("%s has no guest calling-convention representation", t)
	}
	return p, nil
}

// hasDWord reports whether t contains a 64-bit scalar, which makes the
// whole composite doubleword aligned.
func hasDWord(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return true
	case reflect.Array:
		return hasDWord(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasDWord(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

// SignatureOf derives the signature of a func type, skipping its first lead
// params.
func SignatureOf(ft reflect.Type, lead int) (*Signature, error) {
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", ft)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("Go variadic functions are not supported; take an abi.VarArgs instead")
	}
	if lead > ft.NumIn() {
		return nil, fmt.Errorf("%s has fewer than %d lead params", ft, lead)
	}
	if ft.NumOut() > 1 {
		return nil, fmt.Errorf("%s returns %d values; at most one is allowed", ft, ft.NumOut())
	}

	sig := &Signature{}
	for i := lead; i < ft.NumIn(); i++ {
		in := ft.In(i)
		if in == varArgsType {
			if i != ft.NumIn()-1 {
				return nil, fmt.Errorf("abi.VarArgs must be the last parameter")
			}
			sig.Variadic = true
			continue
		}
		p, err := Classify(in)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		sig.Params = append(sig.Params, p)
	}
	if ft.NumOut() == 1 {
		p, err := Classify(ft.Out(0))
		if err != nil {
			return nil, fmt.Errorf("result: %w", err)
		}
		sig.Result = &p
	}
	return sig, nil
}
