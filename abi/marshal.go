package abi

import (
	"reflect"

	"github.com/wippyai/hle-runtime/mem"
)

// argWord reads argument word i: r0 to r3 first, then the caller's stack.
func argWord(regs RegisterFile, m *mem.Memory, i uint32) uint32 {
	if i < ArgRegs {
		return regs.Reg(int(i))
	}
	sp := regs.Reg(SP)
	return mem.Read(m, mem.Ptr[uint32](sp+4*(i-ArgRegs)))
}

func argWords(regs RegisterFile, m *mem.Memory, start, n uint32) []uint32 {
	words := make([]uint32, n)
	for i := range words {
		words[i] = argWord(regs, m, start+uint32(i))
	}
	return words
}

// MarshalCall reads the arguments of a guest call to a function of
// signature sig from the register file and the guest stack. For variadic
// signatures the result ends with a VarArgs positioned after the fixed
// params.
func MarshalCall(regs RegisterFile, m *mem.Memory, sig *Signature) []reflect.Value {
	starts, next := sig.Layout()
	out := make([]reflect.Value, 0, len(sig.Params)+1)
	for i, p := range sig.Params {
		out = append(out, DecodeWords(p, argWords(regs, m, starts[i], p.Words)))
	}
	if sig.Variadic {
		out = append(out, reflect.ValueOf(VarArgs{regs: regs, mem: m, next: next}))
	}
	return out
}

// WriteReturn stores a host result into the registers, or through the
// hidden result pointer in r0 for large composites. r0 still holds that
// pointer afterwards, as the guest expects.
func WriteReturn(regs RegisterFile, m *mem.Memory, sig *Signature, result reflect.Value) {
	if sig.Result == nil || !result.IsValid() {
		return
	}
	p := *sig.Result
	if sig.Sret() {
		dst := mem.VoidPtr(regs.Reg(R0))
		mem.EncodeValue(m.BytesMut(dst, p.Size), result)
		return
	}
	words := EncodeWords(p, result)
	for i, w := range words {
		regs.SetReg(R0+i, w)
	}
}

// PushCall lays out args for a guest callee of signature sig: register
// words go to r0 to r3 and the rest are pushed below sp, which stays
// 8-byte aligned. sret is placed in r0 when the result is returned by
// hidden pointer. The caller saves and restores sp.
func PushCall(regs RegisterFile, m *mem.Memory, sig *Signature, args []reflect.Value, sret mem.VoidPtr) {
	starts, next := sig.Layout()

	words := make([]uint32, next)
	if sig.Sret() {
		words[0] = uint32(sret)
	}
	for i, p := range sig.Params {
		copy(words[starts[i]:], EncodeWords(p, args[i]))
	}

	for i := 0; i < len(words) && i < ArgRegs; i++ {
		regs.SetReg(i, words[i])
	}
	if len(words) <= ArgRegs {
		return
	}

	stack := words[ArgRegs:]
	size := (uint32(len(stack))*4 + 7) &^ 7
	sp := (regs.Reg(SP) &^ 7) - size
	for i, w := range stack {
		mem.Write(m, mem.Ptr[uint32](sp+uint32(i)*4), w)
	}
	regs.SetReg(SP, sp)
}

// ReadReturn collects the result of a guest callee of signature sig.
func ReadReturn(regs RegisterFile, m *mem.Memory, sig *Signature, sret mem.VoidPtr) reflect.Value {
	if sig.Result == nil {
		return reflect.Value{}
	}
	p := *sig.Result
	if sig.Sret() {
		return mem.DecodeValue(m.Bytes(sret, p.Size), p.Type)
	}
	words := make([]uint32, p.Words)
	for i := range words {
		words[i] = regs.Reg(R0 + i)
	}
	return DecodeWords(p, words)
}
