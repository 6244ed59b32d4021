package abi

import (
	"math"
	"reflect"
	"testing"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

type vec4 struct {
	X, Y, Z, W float32
}

type matrix [16]float32

type dwordPair struct {
	A uint32
	B float64
}

type env struct {
	name string
}

func expectFault(t *testing.T, kind errors.Kind, fn func()) *errors.Error {
	t.Helper()
	err := errors.Catch(fn)
	if err == nil {
		t.Fatalf("expected %s fault, got none", kind)
	}
	if err.Kind != kind {
		t.Fatalf("expected %s fault, got %v", kind, err)
	}
	return err
}

// newStack returns guest memory with a 4 KiB stack and registers whose sp
// points at its top minus 256 bytes of caller-provided argument area.
func newStack(t *testing.T) (*mem.Memory, *Registers, mem.VoidPtr) {
	t.Helper()
	m, err := mem.New(mem.Config{Size: 1 << 20})
	if err != nil {
		t.Fatalf("mem.New failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	stack := m.Alloc(0x1000)
	regs := &Registers{}
	regs.SetReg(SP, uint32(stack)+0x1000-256)
	return m, regs, stack
}

func mustFunc(t *testing.T, fn any, lead int) *Func {
	t.Helper()
	f, err := NewFunc(fn, lead)
	if err != nil {
		t.Fatalf("NewFunc failed: %v", err)
	}
	return f
}

func TestSignatureOf(t *testing.T) {
	tests := []struct {
		name    string
		fn      any
		lead    int
		want    string
		wantErr bool
	}{
		{"words", func(int32, uint8, bool) uint32 { return 0 }, 0, "(i32, i32, i32) -> i32", false},
		{"dwords", func(float64, int64) float32 { return 0 }, 0, "(f64, i64) -> f32", false},
		{"composite", func(*env, vec4) matrix { return matrix{} }, 1, "({16}) -> {64}", false},
		{"variadic", func(*env, uint32, VarArgs) {}, 1, "(i32, ...)", false},
		{"host int", func(int) {}, 0, "", true},
		{"string", func(string) {}, 0, "", true},
		{"two results", func() (uint32, uint32) { return 0, 0 }, 0, "", true},
		{"varargs not last", func(VarArgs, uint32) {}, 0, "", true},
		{"go variadic", func(...uint32) {}, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFunc(tt.fn, tt.lead)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFunc() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if e, ok := err.(*errors.Error); !ok || e.Kind != errors.KindShapeMismatch {
					t.Fatalf("expected shape_mismatch, got %v", err)
				}
				return
			}
			if got := f.Sig.String(); got != tt.want {
				t.Fatalf("signature = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewFunc_NotAFunction(t *testing.T) {
	if _, err := NewFunc(42, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestLayout(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		want []uint32
		next uint32
	}{
		{"four words", func(uint32, uint32, uint32, uint32) {}, []uint32{0, 1, 2, 3}, 4},
		{"dword skips r1", func(uint32, float64) {}, []uint32{0, 2}, 4},
		{"dword skips r3 to stack", func(uint32, uint32, uint32, int64, uint32) {}, []uint32{0, 1, 2, 4, 6}, 7},
		{"composite splits", func(uint32, uint32, vec4) {}, []uint32{0, 1, 2}, 6},
		{"aligned composite", func(uint32, dwordPair) {}, []uint32{0, 2}, 5},
		{"sret reserves r0", func(uint32) matrix { return matrix{} }, []uint32{1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustFunc(t, tt.fn, 0)
			starts, next := f.Sig.Layout()
			if !reflect.DeepEqual(starts, tt.want) || next != tt.next {
				t.Fatalf("layout = %v next %d, want %v next %d", starts, next, tt.want, tt.next)
			}
		})
	}
}

func TestMarshalCall_Vec4InRegisters(t *testing.T) {
	m, regs, _ := newStack(t)
	want := vec4{1.5, -2, 3.25, 4}
	regs.SetReg(R0, math.Float32bits(want.X))
	regs.SetReg(R1, math.Float32bits(want.Y))
	regs.SetReg(R2, math.Float32bits(want.Z))
	regs.SetReg(R3, math.Float32bits(want.W))

	var got vec4
	f := mustFunc(t, func(e *env, v vec4) float32 {
		got = v
		return v.X + v.W
	}, 1)

	args := MarshalCall(regs, m, f.Sig)
	res := f.Call(f.BindLead(&env{}), args)
	WriteReturn(regs, m, f.Sig, res)

	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if r0 := math.Float32frombits(regs.Reg(R0)); r0 != 5.5 {
		t.Fatalf("r0 = %v, want 5.5", r0)
	}
}

func TestMarshalCall_MatrixSpillsToStack(t *testing.T) {
	m, regs, _ := newStack(t)

	var want matrix
	for i := range want {
		want[i] = float32(i) + 0.5
	}
	for i := 0; i < 4; i++ {
		regs.SetReg(i, math.Float32bits(want[i]))
	}
	sp := regs.Reg(SP)
	for i := 4; i < 16; i++ {
		mem.Write(m, mem.Ptr[uint32](sp+uint32(i-4)*4), math.Float32bits(want[i]))
	}

	var got matrix
	f := mustFunc(t, func(mx matrix) { got = mx }, 0)
	f.Call(nil, MarshalCall(regs, m, f.Sig))

	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMarshalCall_Scalars(t *testing.T) {
	m, regs, _ := newStack(t)
	regs.SetReg(R0, 0xFFFFFFFE) // int8 -2 after truncation
	// r1 is skipped for the double
	regs.SetReg(R2, uint32(math.Float64bits(2.5)))
	regs.SetReg(R3, uint32(math.Float64bits(2.5)>>32))
	sp := regs.Reg(SP)
	mem.Write(m, mem.Ptr[uint32](sp), 0x80)
	mem.Write(m, mem.Ptr[uint32](sp+8), 0x89ABCDEF)
	mem.Write(m, mem.Ptr[uint32](sp+12), 0x01234567)

	var (
		gotA int8
		gotB float64
		gotC bool
		gotD uint64
	)
	f := mustFunc(t, func(a int8, b float64, c bool, d uint64) int64 {
		gotA, gotB, gotC, gotD = a, b, c, d
		return -1
	}, 0)
	res := f.Call(nil, MarshalCall(regs, m, f.Sig))
	WriteReturn(regs, m, f.Sig, res)

	if gotA != -2 || gotB != 2.5 || !gotC || gotD != 0x0123456789ABCDEF {
		t.Fatalf("got %d %v %v %#x", gotA, gotB, gotC, gotD)
	}
	if regs.Reg(R0) != 0xFFFFFFFF || regs.Reg(R1) != 0xFFFFFFFF {
		t.Fatalf("int64 result not in r0:r1: %s", Snapshot(regs))
	}
}

func TestWriteReturn_Sret(t *testing.T) {
	m, regs, _ := newStack(t)
	out := m.Alloc(64)
	regs.SetReg(R0, uint32(out))
	regs.SetReg(R1, 7)

	f := mustFunc(t, func(n uint32) matrix {
		var mx matrix
		for i := range mx {
			mx[i] = float32(n)
		}
		return mx
	}, 0)
	if !f.Sig.Sret() {
		t.Fatal("64-byte result must use sret")
	}
	WriteReturn(regs, m, f.Sig, f.Call(nil, MarshalCall(regs, m, f.Sig)))

	got := mem.Read(m, mem.Cast[matrix](out))
	for i, v := range got {
		if v != 7 {
			t.Fatalf("element %d = %v", i, v)
		}
	}
	if regs.Reg(R0) != uint32(out) {
		t.Fatal("r0 must still hold the sret pointer")
	}
}

func TestPushCall_RoundTrip(t *testing.T) {
	m, regs, _ := newStack(t)
	f := mustFunc(t, func(a uint32, b float64, v vec4, c int16) vec4 { return vec4{} }, 0)

	args := []reflect.Value{
		reflect.ValueOf(uint32(9)),
		reflect.ValueOf(-0.25),
		reflect.ValueOf(vec4{1, 2, 3, 4}),
		reflect.ValueOf(int16(-5)),
	}
	sret := m.Alloc(16)
	before := regs.Reg(SP)
	PushCall(regs, m, f.Sig, args, sret)

	if regs.Reg(SP)%8 != 0 || regs.Reg(SP) >= before {
		t.Fatalf("sp %#x not 8-aligned below %#x", regs.Reg(SP), before)
	}
	if regs.Reg(R0) != uint32(sret) {
		t.Fatal("sret not in r0")
	}

	got := MarshalCall(regs, m, f.Sig)
	for i := range args {
		if !reflect.DeepEqual(got[i].Interface(), args[i].Interface()) {
			t.Fatalf("arg %d = %v, want %v", i, got[i], args[i])
		}
	}

	mem.Write(m, mem.Cast[vec4](sret), vec4{5, 6, 7, 8})
	if res := ReadReturn(regs, m, f.Sig, sret).Interface().(vec4); res != (vec4{5, 6, 7, 8}) {
		t.Fatalf("ReadReturn = %+v", res)
	}
}

func TestReadReturn_Registers(t *testing.T) {
	m, regs, _ := newStack(t)
	f := mustFunc(t, func() float64 { return 0 }, 0)
	bits := math.Float64bits(-3.75)
	regs.SetReg(R0, uint32(bits))
	regs.SetReg(R1, uint32(bits>>32))
	if got := ReadReturn(regs, m, f.Sig, 0).Float(); got != -3.75 {
		t.Fatalf("got %v", got)
	}

	void := mustFunc(t, func() {}, 0)
	if ReadReturn(regs, m, void.Sig, 0).IsValid() {
		t.Fatal("void function returned a value")
	}
}

func TestVarArgs_Guest(t *testing.T) {
	m, regs, _ := newStack(t)
	// printf-style: fmt in r0, then int, double (even-aligned: r2:r3), int on stack
	regs.SetReg(R0, 0x1234)
	regs.SetReg(R1, 42)
	bits := math.Float64bits(1.25)
	regs.SetReg(R2, uint32(bits))
	regs.SetReg(R3, uint32(bits>>32))
	mem.Write(m, mem.Ptr[uint32](regs.Reg(SP)), 0xFFFFFFFF)

	var (
		n   int32
		d   float64
		neg int32
	)
	f := mustFunc(t, func(e *env, format uint32, va VarArgs) int32 {
		if va.Remaining() != -1 {
			t.Errorf("guest varargs report a count")
		}
		n = NextArg[int32](&va)
		d = NextArg[float64](&va)
		neg = NextArg[int32](&va)
		return 3
	}, 1)
	f.Call(f.BindLead(&env{}), MarshalCall(regs, m, f.Sig))

	if n != 42 || d != 1.25 || neg != -1 {
		t.Fatalf("got %d %v %d", n, d, neg)
	}
}

func TestVarArgs_Host(t *testing.T) {
	va := HostVarArgs(7, 2.5, uint32(3))
	if va.Remaining() != 3 {
		t.Fatalf("remaining = %d", va.Remaining())
	}
	if NextArg[int32](&va) != 7 || NextArg[float64](&va) != 2.5 || NextArg[uint32](&va) != 3 {
		t.Fatal("unexpected host varargs")
	}
	expectFault(t, errors.KindShapeMismatch, func() { NextArg[int32](&va) })
}

func TestConvertArgs(t *testing.T) {
	type handle uint32
	f := mustFunc(t, func(h handle, x float32, n int8, d float64) {}, 0)

	t.Run("accepts", func(t *testing.T) {
		got := ConvertArgs(f.Sig, "f", []any{handle(3), float32(1), int8(-1), 2.5})
		if got[0].Interface().(handle) != 3 || got[2].Int() != -1 {
			t.Fatalf("unexpected %v", got)
		}
	})
	t.Run("untyped constants", func(t *testing.T) {
		got := ConvertArgs(f.Sig, "f", []any{nil, 1.5, 100, 3})
		if got[0].Uint() != 0 || got[1].Float() != 1.5 || got[3].Float() != 3 {
			t.Fatalf("unexpected %v", got)
		}
	})

	bad := []struct {
		name string
		args []any
	}{
		{"count", []any{handle(1)}},
		{"overflow", []any{handle(1), float32(0), 300, 0.0}},
		{"negative to unsigned", []any{-1, float32(0), int8(0), 0.0}},
		{"wrong type", []any{"str", float32(0), int8(0), 0.0}},
		{"float to int", []any{handle(1), float32(0), 1.5, 0.0}},
		{"nil float", []any{handle(1), nil, int8(0), 0.0}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			err := expectFault(t, errors.KindShapeMismatch, func() { ConvertArgs(f.Sig, "f", tt.args) })
			if err.Symbol != "f" {
				t.Fatalf("symbol = %q", err.Symbol)
			}
		})
	}
}

func TestBindLead(t *testing.T) {
	f := mustFunc(t, func(e *env, x uint32) {}, 1)
	if f.Lead() != 1 || f.LeadType(0) != reflect.TypeFor[*env]() {
		t.Fatal("unexpected lead")
	}
	expectFault(t, errors.KindShapeMismatch, func() { f.BindLead("not an env") })
	expectFault(t, errors.KindShapeMismatch, func() { f.BindLead() })
}

func TestRegisters(t *testing.T) {
	var r Registers
	r.SetReg(SP, 0x100)
	r.SetReg(PC, 0x200)
	snap := Snapshot(&r)
	r.SetReg(SP, 0)
	Restore(&r, snap)
	if r.Reg(SP) != 0x100 || r.Reg(PC) != 0x200 {
		t.Fatalf("restore failed: %s", r)
	}
	if RegName(LR) != "lr" || RegName(5) != "r5" {
		t.Fatal("unexpected register names")
	}
}
