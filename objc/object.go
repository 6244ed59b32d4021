package objc

import (
	"fmt"
	"math"
	"reflect"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

type phase uint8

const (
	phaseLive phase = iota
	phaseDeallocating
)

// entry is the side-table record of one instance. The side table is the
// only owner of state.
type entry struct {
	class *Class
	state any
	refs  uint32
	busy  int
	phase phase
}

// AllocObject creates an instance of class with the given state and a
// reference count of 1. The instance's isa is written to guest memory.
func (rt *Runtime) AllocObject(class *Class, state any) ID {
	if class == nil || class.IsMeta {
		errors.Throw(errors.InvalidInput(errors.PhaseObjC, "AllocObject needs a class, not a metaclass"))
	}
	p := rt.mem.Alloc(class.InstanceSize)
	mem.Write(rt.mem, mem.Cast[ID](p), class.Addr)

	id := ID(p)
	rt.objects[id] = &entry{class: class, state: state, refs: 1}
	delete(rt.tombstones, id)
	return id
}

// IsObject reports whether id is a live instance with side-table state.
func (rt *Runtime) IsObject(id ID) bool {
	_, ok := rt.objects[id]
	return ok
}

// ClassOf returns the class a message to id dispatches through: the
// instance's class, or the metaclass for class objects. Nil has no class.
//
// Objects the guest laid out itself, such as constant strings in a binary,
// are recognized by an isa that points at a registered class object.
func (rt *Runtime) ClassOf(id ID) (*Class, bool) {
	if id == Nil {
		return nil, false
	}
	if e, ok := rt.objects[id]; ok {
		return e.class, true
	}
	if c, ok := rt.classByAddr[id]; ok {
		if c.IsMeta {
			root := c
			for root.Super != nil && root.Super.IsMeta {
				root = root.Super
			}
			return root, true
		}
		return c.Meta, true
	}
	if _, dead := rt.tombstones[id]; dead {
		return nil, false
	}
	if rt.mem.Valid(mem.VoidPtr(id), 4) {
		isa := mem.Read(rt.mem, mem.Ptr[ID](id))
		if c, ok := rt.classByAddr[isa]; ok && !c.IsMeta {
			return c, true
		}
	}
	return nil, false
}

func (rt *Runtime) mustClassOf(id ID, op string) *Class {
	c, ok := rt.ClassOf(id)
	if !ok {
		rt.throwNotObject(id, op)
	}
	return c
}

// live returns the side-table entry for a reference-count operation. It
// returns nil for class objects and guest-static objects, which are never
// deallocated.
func (rt *Runtime) live(id ID, op string) *entry {
	if e, ok := rt.objects[id]; ok {
		return e
	}
	if _, dead := rt.tombstones[id]; dead {
		errors.Throw(errors.OverRelease(uint32(id), op+" on a deallocated object"))
	}
	if _, ok := rt.ClassOf(id); ok {
		return nil
	}
	rt.throwNotObject(id, op)
	return nil
}

// Retain increments the reference count of id and returns id.
func (rt *Runtime) Retain(id ID) ID {
	if id == Nil {
		return Nil
	}
	e := rt.live(id, "retain")
	if e == nil {
		return id
	}
	if e.phase == phaseDeallocating {
		errors.Throw(errors.Reentrancy(uint32(id), "retain of an object during its own deallocation"))
	}
	if e.refs == math.MaxUint32 {
		errors.Throw(errors.New(errors.PhaseObjC, errors.KindOverRelease).
			Addr(uint32(id)).
			Detail("reference count overflow").
			Build())
	}
	e.refs++
	return id
}

// Release decrements the reference count of id and deallocates it when
// the count reaches zero.
func (rt *Runtime) Release(id ID) {
	if id == Nil {
		return
	}
	e := rt.live(id, "release")
	if e == nil {
		return
	}
	if e.phase == phaseDeallocating {
		errors.Throw(errors.OverRelease(uint32(id), "release of an object during its own deallocation"))
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	if e.busy > 0 {
		errors.Throw(errors.Reentrancy(uint32(id),
			fmt.Sprintf("released to zero while its state is in use (%d active scope(s))", e.busy)))
	}
	rt.dealloc(id, e)
}

// RetainCount returns the reference count of id. Class objects and
// guest-static objects report math.MaxUint32.
func (rt *Runtime) RetainCount(id ID) uint32 {
	if id == Nil {
		return 0
	}
	e := rt.live(id, "retainCount")
	if e == nil {
		return math.MaxUint32
	}
	return e.refs
}

// dealloc runs the dealloc chain, finalizes the state and frees the
// instance. The entry stays in the table, marked deallocating, until the
// instance memory is gone. A fault in the chain still retires the
// instance, so later access faults as use of a deallocated object.
func (rt *Runtime) dealloc(id ID, e *entry) {
	e.phase = phaseDeallocating
	rt.dying = append(rt.dying, id)
	defer func() {
		rt.dying = rt.dying[:len(rt.dying)-1]
		delete(rt.objects, id)
		rt.tombstones[id] = struct{}{}
		e.state = nil
		rt.mem.Free(mem.VoidPtr(id))
	}()

	MsgSendVoid(rt, id, rt.selDealloc)
	if f, ok := e.state.(Finalizer); ok {
		f.Finalize(rt)
	}
}

// stateEntry returns the entry whose state may be accessed right now.
// While an object is being deallocated only its own dealloc chain, the
// innermost one in progress, may touch its state.
func (rt *Runtime) stateEntry(id ID, op string) *entry {
	e, ok := rt.objects[id]
	if !ok {
		if _, dead := rt.tombstones[id]; dead {
			errors.Throw(errors.Reentrancy(uint32(id), op+" of a deallocated object's state"))
		}
		rt.throwNotObject(id, op)
	}
	if e.phase == phaseDeallocating && (len(rt.dying) == 0 || rt.dying[len(rt.dying)-1] != id) {
		errors.Throw(errors.Reentrancy(uint32(id), op+" of an object's state while it is being deallocated"))
	}
	return e
}

// Borrow returns the state of id as a T. A state of another type faults
// with type_mismatch. Pointer states give mutable access.
func Borrow[T any](rt *Runtime, id ID) T {
	e := rt.stateEntry(id, "borrow")
	s, ok := e.state.(T)
	if !ok {
		errors.Throw(errors.TypeMismatch(errors.PhaseObjC, uint32(id),
			reflect.TypeFor[T]().String(), fmt.Sprintf("%T", e.state)))
	}
	return s
}

// With runs fn with the state of id. Releasing id to zero or replacing its
// state while fn runs faults with reentrancy.
func With[T any](rt *Runtime, id ID, fn func(T)) {
	s := Borrow[T](rt, id)
	e := rt.objects[id]
	e.busy++
	defer func() { e.busy-- }()
	fn(s)
}

// SetState replaces the state of id.
func (rt *Runtime) SetState(id ID, state any) {
	e := rt.stateEntry(id, "set state")
	if e.busy > 0 {
		errors.Throw(errors.Reentrancy(uint32(id), "state replaced while it is in use"))
	}
	e.state = state
}

// State returns the raw state of id.
func (rt *Runtime) State(id ID) any {
	return rt.stateEntry(id, "state").state
}
