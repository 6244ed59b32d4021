package objc

import (
	"testing"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

type tracked struct {
	deallocs  *int
	finalized *int
	buf       mem.VoidPtr
	child     ID
}

func (s *tracked) Finalize(rt *Runtime) {
	*s.finalized++
	rt.Memory().Free(s.buf)
	rt.Release(s.child)
}

func registerTracked(t *testing.T, rt *Runtime, deallocs *int) *Class {
	t.Helper()
	var cls *Class
	cls = rt.RegisterClass(ClassDef{
		Name:  "Tracked",
		Super: RootClassName,
		Methods: map[string]any{
			"dealloc": func(this ID, cmd SEL) {
				*deallocs++
				// state is still reachable from the object's own dealloc
				_ = Borrow[*tracked](rt, this)
				MsgSendSuperVoid(rt, cls, this, cmd)
			},
		},
	})
	return cls
}

func TestRefcount_NRetainsNPlusOneReleases(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		rt := newTestRuntime(t)
		deallocs, finalized := 0, 0
		cls := registerTracked(t, rt, &deallocs)

		buf := rt.Memory().Alloc(32)
		obj := rt.AllocObject(cls, &tracked{deallocs: &deallocs, finalized: &finalized, buf: buf})
		if rt.RetainCount(obj) != 1 {
			t.Fatalf("initial count = %d", rt.RetainCount(obj))
		}

		for i := 0; i < n; i++ {
			rt.Retain(obj)
		}
		for i := 0; i < n; i++ {
			rt.Release(obj)
			if deallocs != 0 {
				t.Fatalf("n=%d: dealloc after %d releases", n, i+1)
			}
		}
		rt.Release(obj)

		if deallocs != 1 || finalized != 1 {
			t.Fatalf("n=%d: deallocs=%d finalized=%d", n, deallocs, finalized)
		}
		if rt.IsObject(obj) {
			t.Fatalf("n=%d: object still live", n)
		}
		if rt.Memory().Valid(buf, 1) || rt.Memory().Valid(mem.VoidPtr(obj), 4) {
			t.Fatalf("n=%d: guest memory not freed", n)
		}
	}
}

func TestRefcount_OverRelease(t *testing.T) {
	rt := newTestRuntime(t)
	cls := rt.RegisterClass(ClassDef{Name: "Plain", Super: RootClassName})
	obj := rt.AllocObject(cls, nil)
	rt.Release(obj)

	expectFault(t, errors.KindOverRelease, func() { rt.Release(obj) })
	expectFault(t, errors.KindOverRelease, func() { rt.Retain(obj) })
	expectFault(t, errors.KindOverRelease, func() { rt.Autorelease(obj) })
	expectFault(t, errors.KindUseAfterFree, func() { MsgSendVoid(rt, obj, rt.Selector("init")) })
	expectFault(t, errors.KindReentrancy, func() { Borrow[*tracked](rt, obj) })

	// Nil is always safe.
	rt.Release(Nil)
	if rt.Retain(Nil) != Nil || rt.RetainCount(Nil) != 0 {
		t.Fatal("nil refcount ops")
	}
}

func TestRefcount_AddressReuseClearsTombstone(t *testing.T) {
	rt := newTestRuntime(t)
	cls := rt.RegisterClass(ClassDef{Name: "Plain", Super: RootClassName})
	a := rt.AllocObject(cls, nil)
	rt.Release(a)

	b := rt.AllocObject(cls, nil)
	if b != a {
		t.Skipf("allocator did not reuse %s", a)
	}
	rt.Retain(b)
	rt.Release(b)
	if rt.RetainCount(b) != 1 {
		t.Fatalf("count = %d", rt.RetainCount(b))
	}
}

func TestDealloc_Reentrancy(t *testing.T) {
	rt := newTestRuntime(t)
	var cls *Class
	var mode string
	cls = rt.RegisterClass(ClassDef{
		Name:  "Fragile",
		Super: RootClassName,
		Methods: map[string]any{
			"dealloc": func(this ID, cmd SEL) {
				switch mode {
				case "retain":
					rt.Retain(this)
				case "release":
					rt.Release(this)
				case "autorelease":
					rt.WithPool(func() { rt.Autorelease(this) })
				}
				MsgSendSuperVoid(rt, cls, this, cmd)
			},
		},
	})

	tests := []struct {
		mode string
		kind errors.Kind
	}{
		{"retain", errors.KindReentrancy},
		{"release", errors.KindOverRelease},
		{"autorelease", errors.KindReentrancy},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			mode = tt.mode
			obj := rt.AllocObject(cls, nil)
			expectFault(t, tt.kind, func() { rt.Release(obj) })
		})
	}
}

func TestDealloc_FaultRetiresObject(t *testing.T) {
	rt := newTestRuntime(t)
	finalized := 0
	cls := rt.RegisterClass(ClassDef{
		Name:  "Broken",
		Super: RootClassName,
		Methods: map[string]any{
			"dealloc": func(this ID, _ SEL) {
				MsgSendVoid(rt, this, rt.Selector("noSuchCleanup"))
			},
		},
	})
	live := rt.Memory().Stats().LiveAllocations
	obj := rt.AllocObject(cls, &tracked{finalized: &finalized, buf: rt.Memory().Alloc(4)})

	expectFault(t, errors.KindUnrecognizedSelector, func() { rt.Release(obj) })
	if finalized != 0 {
		t.Fatal("state finalized after its dealloc chain faulted")
	}
	if rt.IsObject(obj) {
		t.Fatal("object still live after its dealloc chain faulted")
	}
	if got := rt.Memory().Stats().LiveAllocations; got != live+1 {
		t.Fatalf("live allocations = %d, want %d (state buffer only)", got, live+1)
	}

	tests := []struct {
		name string
		fn   func()
		kind errors.Kind
	}{
		{"borrow", func() { Borrow[*tracked](rt, obj) }, errors.KindReentrancy},
		{"with", func() { With(rt, obj, func(*tracked) {}) }, errors.KindReentrancy},
		{"set state", func() { rt.SetState(obj, nil) }, errors.KindReentrancy},
		{"state", func() { rt.State(obj) }, errors.KindReentrancy},
		{"release", func() { rt.Release(obj) }, errors.KindOverRelease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectFault(t, tt.kind, tt.fn)
		})
	}
}

func TestDealloc_ChildTouchesDyingParent(t *testing.T) {
	rt := newTestRuntime(t)
	deallocs, finalized := 0, 0
	parentCls := registerTracked(t, rt, &deallocs)

	var parent ID
	childCls := rt.RegisterClass(ClassDef{
		Name:  "Child",
		Super: RootClassName,
		Methods: map[string]any{
			"dealloc": func(this ID, _ SEL) {
				Borrow[*tracked](rt, parent)
			},
		},
	})
	child := rt.AllocObject(childCls, nil)
	parent = rt.AllocObject(parentCls, &tracked{
		deallocs: &deallocs, finalized: &finalized, buf: rt.Memory().Alloc(4), child: child,
	})

	err := expectFault(t, errors.KindReentrancy, func() { rt.Release(parent) })
	if err.Addr != uint32(parent) {
		t.Fatalf("fault addr = %#x, want %s", err.Addr, parent)
	}
}

func TestBorrow(t *testing.T) {
	rt := newTestRuntime(t)
	cls := rt.RegisterClass(ClassDef{
		Name:  "Box",
		Super: RootClassName,
		State: func() any { return &point{} },
	})

	obj := MsgSend[ID](rt, cls.Addr, rt.Selector("alloc"))
	p := Borrow[*point](rt, obj)
	p.X = 3
	if Borrow[*point](rt, obj).X != 3 {
		t.Fatal("mutation through borrowed pointer lost")
	}

	err := expectFault(t, errors.KindTypeMismatch, func() { Borrow[*tracked](rt, obj) })
	if err.Addr != uint32(obj) {
		t.Fatalf("fault addr = %#x", err.Addr)
	}

	rt.SetState(obj, "replaced")
	if Borrow[string](rt, obj) != "replaced" || rt.State(obj) != "replaced" {
		t.Fatal("SetState did not replace the state")
	}

	expectFault(t, errors.KindInvalidInput, func() { Borrow[string](rt, ID(0x1234)) })
}

func TestWith_BusyGuard(t *testing.T) {
	rt := newTestRuntime(t)
	cls := rt.RegisterClass(ClassDef{Name: "Box", Super: RootClassName})
	obj := rt.AllocObject(cls, &point{})

	With(rt, obj, func(p *point) {
		p.Y = 1
		rt.Retain(obj)
		rt.Release(obj)
	})
	if Borrow[*point](rt, obj).Y != 1 {
		t.Fatal("With did not run")
	}

	expectFault(t, errors.KindReentrancy, func() {
		With(rt, obj, func(*point) { rt.Release(obj) })
	})

	other := rt.AllocObject(cls, &point{})
	expectFault(t, errors.KindReentrancy, func() {
		With(rt, other, func(*point) { rt.SetState(other, &point{}) })
	})
	// the busy scope unwound with the fault
	rt.SetState(other, &point{X: 2})
}

func TestObjects(t *testing.T) {
	rt := newTestRuntime(t)
	cls := rt.RegisterClass(ClassDef{Name: "Box", Super: RootClassName})
	a := rt.AllocObject(cls, nil)
	b := rt.AllocObject(cls, nil)
	rt.Retain(b)

	objs := rt.Objects()
	if len(objs) != 2 || objs[0].ID != a || objs[1].Refs != 2 || objs[1].Class != "Box" {
		t.Fatalf("Objects() = %+v", objs)
	}
	expectFault(t, errors.KindInvalidInput, func() { rt.AllocObject(cls.Meta, nil) })
}
