package abi

import (
	"encoding/binary"
	"reflect"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/mem"
)

// EncodeWords converts v into its argument words. Narrow integers are
// extended to 32 bits by their signedness, as the caller does under AAPCS.
func EncodeWords(p Param, v reflect.Value) []uint32 {
	switch p.Class {
	case ClassWord:
		return []uint32{encodeWord(v)}
	case ClassDWord:
		var bits uint64
		if v.Kind() == reflect.Float64 {
			bits = api.EncodeF64(v.Float())
		} else if v.Kind() == reflect.Int64 {
			bits = api.EncodeI64(v.Int())
		} else {
			bits = v.Uint()
		}
		return []uint32{uint32(bits), uint32(bits >> 32)}
	default:
		buf := make([]byte, p.Words*4)
		mem.EncodeValue(buf, v)
		words := make([]uint32, p.Words)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
		return words
	}
}

func encodeWord(v reflect.Value) uint32 {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return api.DecodeU32(api.EncodeI32(int32(v.Int())))
	case reflect.Float32:
		return uint32(api.EncodeF32(float32(v.Float())))
	default:
		return uint32(v.Uint())
	}
}

// DecodeWords rebuilds a value of p's type from its argument words.
func DecodeWords(p Param, words []uint32) reflect.Value {
	out := reflect.New(p.Type).Elem()
	switch p.Class {
	case ClassWord:
		w := words[0]
		switch out.Kind() {
		case reflect.Bool:
			out.SetBool(w != 0)
		case reflect.Int8:
			out.SetInt(int64(int8(w)))
		case reflect.Int16:
			out.SetInt(int64(int16(w)))
		case reflect.Int32:
			out.SetInt(int64(api.DecodeI32(uint64(w))))
		case reflect.Uint8:
			out.SetUint(uint64(uint8(w)))
		case reflect.Uint16:
			out.SetUint(uint64(uint16(w)))
		case reflect.Float32:
			out.SetFloat(float64(api.DecodeF32(uint64(w))))
		default:
			out.SetUint(uint64(w))
		}
	case ClassDWord:
		bits := uint64(words[0]) | uint64(words[1])<<32
		switch out.Kind() {
		case reflect.Float64:
			out.SetFloat(api.DecodeF64(bits))
		case reflect.Int64:
			out.SetInt(int64(bits))
		default:
			out.SetUint(bits)
		}
	default:
		buf := make([]byte, p.Words*4)
		for i, w := range words {
			binary.LittleEndian.PutUint32(buf[i*4:], w)
		}
		out.Set(mem.DecodeValue(buf, p.Type))
	}
	return out
}
