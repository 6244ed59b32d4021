package objc

import (
	"testing"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	m, err := mem.New(mem.Config{Size: 4 << 20})
	if err != nil {
		t.Fatalf("mem.New failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return New(m, opts...)
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

func TestSelectorInterning(t *testing.T) {
	rt := newTestRuntime(t)

	a := rt.Selector("initWithFrame:")
	b := rt.Selector("initWithFrame:")
	if a != b {
		t.Fatalf("same name interned twice: %#x %#x", a, b)
	}
	if c := rt.Selector("init"); c == a {
		t.Fatal("different names share a selector")
	}

	if got := rt.Memory().CStrAtUTF8(mem.VoidPtr(a)); got != "initWithFrame:" {
		t.Fatalf("guest string = %q", got)
	}
	expectFault(t, errors.KindWriteProtected, func() {
		mem.Write(rt.Memory(), mem.Ptr[uint8](a), 'X')
	})

	if name, ok := rt.SelectorName(a); !ok || name != "initWithFrame:" {
		t.Fatalf("SelectorName = %q, %v", name, ok)
	}
	if _, ok := rt.LookupSelector("neverSeen"); ok {
		t.Fatal("lookup interned a selector")
	}
}

func TestRootClass(t *testing.T) {
	rt := newTestRuntime(t)
	root := rt.Root()

	if root.Name != RootClassName || root.Super != nil {
		t.Fatalf("unexpected root %+v", root)
	}
	if root.Meta.Super != root {
		t.Fatal("root metaclass must inherit from the root class")
	}

	obj := rt.Memory()
	co := mem.Read(obj, mem.Ptr[classObject](root.Addr))
	if co.ISA != root.Meta.Addr || co.Superclass != Nil {
		t.Fatalf("class object mirror = %+v", co)
	}
	mo := mem.Read(obj, mem.Ptr[classObject](root.Meta.Addr))
	if mo.ISA != root.Meta.Addr || mo.Superclass != root.Addr {
		t.Fatalf("metaclass mirror = %+v", mo)
	}
	if got := obj.CStrAtUTF8(co.Name.Void()); got != RootClassName {
		t.Fatalf("mirrored name = %q", got)
	}
}

func TestRegisterClass(t *testing.T) {
	rt := newTestRuntime(t)

	view := rt.RegisterClass(ClassDef{Name: "UIView", Super: RootClassName, InstanceSize: 16})
	button := rt.RegisterClass(ClassDef{Name: "UIButton", Super: "UIView"})

	if button.Super != view || button.Meta.Super != view.Meta {
		t.Fatal("superclass links are wrong")
	}
	if button.InstanceSize != 16 {
		t.Fatalf("inherited instance size = %d", button.InstanceSize)
	}
	mo := mem.Read(rt.Memory(), mem.Ptr[classObject](button.Meta.Addr))
	if mo.ISA != rt.Root().Meta.Addr || mo.Superclass != view.Meta.Addr {
		t.Fatalf("metaclass mirror = %+v", mo)
	}
	if c, ok := rt.ClassByAddr(button.Addr); !ok || c != button {
		t.Fatal("ClassByAddr lookup failed")
	}

	tests := []struct {
		name string
		def  ClassDef
	}{
		{"duplicate", ClassDef{Name: "UIView", Super: RootClassName}},
		{"unknown super", ClassDef{Name: "Orphan", Super: "Missing"}},
		{"empty name", ClassDef{Super: RootClassName}},
		{"shrinking size", ClassDef{Name: "Small", Super: "UIView", InstanceSize: 8}},
		{"bad impl", ClassDef{Name: "Bad", Super: RootClassName, Methods: map[string]any{"x": 42}}},
		{"missing receiver", ClassDef{Name: "Bad2", Super: RootClassName, Methods: map[string]any{
			"x": func(a, b uint32) {},
		}}},
		{"arity", ClassDef{Name: "Bad3", Super: RootClassName, Methods: map[string]any{
			"setX:y:": func(this ID, cmd SEL, x int32) {},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectFault(t, errors.KindRegistration, func() { rt.RegisterClass(tt.def) })
		})
	}
}

func TestRegisterClasses_DependencyOrder(t *testing.T) {
	rt := newTestRuntime(t)

	classes := rt.RegisterClasses(
		ClassDef{Name: "C", Super: "B"},
		ClassDef{Name: "B", Super: "A"},
		ClassDef{Name: "A", Super: RootClassName},
	)
	if classes[0].Name != "C" || classes[0].Super != classes[1] || classes[1].Super != classes[2] {
		t.Fatal("batch result not in input order or links wrong")
	}

	t.Run("cycle", func(t *testing.T) {
		err := expectFault(t, errors.KindRegistration, func() {
			rt.RegisterClasses(
				ClassDef{Name: "X", Super: "Y"},
				ClassDef{Name: "Y", Super: "X"},
			)
		})
		if _, ok := rt.Class("X"); ok {
			t.Fatal("cycle registered a class")
		}
		if err.Detail == "" {
			t.Fatal("missing detail")
		}
	})
	t.Run("unknown", func(t *testing.T) {
		expectFault(t, errors.KindRegistration, func() {
			rt.RegisterClasses(
				ClassDef{Name: "P", Super: "Q"},
				ClassDef{Name: "Q", Super: "Nowhere"},
			)
		})
		if _, ok := rt.Class("P"); ok {
			t.Fatal("failed batch registered a class")
		}
	})
	t.Run("already registered", func(t *testing.T) {
		expectFault(t, errors.KindRegistration, func() {
			rt.RegisterClasses(ClassDef{Name: "Fresh", Super: "A"}, ClassDef{Name: "A", Super: RootClassName})
		})
		if _, ok := rt.Class("Fresh"); ok {
			t.Fatal("failed batch registered a class")
		}
	})
}

func TestClasses(t *testing.T) {
	rt := newTestRuntime(t)
	rt.RegisterClass(ClassDef{Name: "Zeta", Super: RootClassName})
	rt.RegisterClass(ClassDef{Name: "Alpha", Super: RootClassName})

	got := rt.Classes()
	want := []string{"Alpha", RootClassName, "Zeta"}
	if len(got) != len(want) {
		t.Fatalf("Classes() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Classes() = %v, want %v", got, want)
		}
	}

	methods := rt.Root().Methods()
	if len(methods) == 0 || methods[0] != "autorelease" {
		t.Fatalf("root methods = %v", methods)
	}
}
