package objc

import (
	"fmt"
	"reflect"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/errors"
)

// MsgSend sends sel to recv and returns the result as an R. A nil receiver
// returns the zero R without invoking anything. A selector no class in the
// chain implements faults with unrecognized_selector.
func MsgSend[R any](rt *Runtime, recv ID, sel SEL, args ...any) R {
	want := reflect.TypeFor[R]()
	out, invoked := rt.send(recv, sel, nil, false, want, args)
	return result[R](rt, recv, sel, out, invoked)
}

// MsgSendVoid sends sel to recv and discards any result.
func MsgSendVoid(rt *Runtime, recv ID, sel SEL, args ...any) {
	rt.send(recv, sel, nil, false, nil, args)
}

// MsgSendSuper sends sel to recv starting the method lookup at the
// superclass of cls, the class whose implementation is making the call.
func MsgSendSuper[R any](rt *Runtime, cls *Class, recv ID, sel SEL, args ...any) R {
	want := reflect.TypeFor[R]()
	out, invoked := rt.send(recv, sel, rt.superStart(cls, recv), true, want, args)
	return result[R](rt, recv, sel, out, invoked)
}

// MsgSendSuperVoid is MsgSendSuper for results the caller ignores.
func MsgSendSuperVoid(rt *Runtime, cls *Class, recv ID, sel SEL, args ...any) {
	rt.send(recv, sel, rt.superStart(cls, recv), true, nil, args)
}

// RespondsTo reports whether a message sel to id would find an implementation.
func (rt *Runtime) RespondsTo(id ID, sel SEL) bool {
	c, ok := rt.ClassOf(id)
	if !ok {
		return false
	}
	imp, _ := c.Lookup(sel)
	return imp != nil
}

// Resolve returns the implementation a message sel to recv dispatches to,
// starting at start when it is not nil. It faults like MsgSend when there
// is none.
func (rt *Runtime) Resolve(recv ID, sel SEL, start *Class) IMP {
	cls := start
	if cls == nil {
		cls = rt.mustClassOf(recv, "message "+rt.selName(sel))
	}
	imp, _ := cls.Lookup(sel)
	if imp == nil {
		errors.Throw(errors.UnrecognizedSelector(uint32(recv), cls.String(), rt.selName(sel)))
	}
	return imp
}

// superStart returns the class a super send from cls's implementation
// starts at, or nil past the root. Class receivers start in the metaclass
// chain.
func (rt *Runtime) superStart(cls *Class, recv ID) *Class {
	if cls == nil {
		errors.Throw(errors.InvalidInput(errors.PhaseObjC, "super send without a class"))
	}
	if !cls.IsMeta {
		if c, ok := rt.classByAddr[recv]; ok && !c.IsMeta {
			cls = cls.Meta
		}
	}
	return cls.Super
}

// send dispatches a message. For super sends, start is where lookup begins
// and nil means there is no superclass left. want is the result type the
// caller expects, or nil for a void send. invoked is false when nothing ran.
func (rt *Runtime) send(recv ID, sel SEL, start *Class, super bool, want reflect.Type, args []any) (out reflect.Value, invoked bool) {
	if recv == Nil {
		return reflect.Value{}, false
	}
	if super && start == nil {
		errors.Throw(errors.UnrecognizedSelector(uint32(recv), "super of a root class", rt.selName(sel)))
	}

	imp := rt.Resolve(recv, sel, start)
	name := rt.selName(sel)
	full := make([]any, 0, len(args)+2)
	full = append(full, recv, sel)
	full = append(full, args...)

	switch imp := imp.(type) {
	case HostIMP:
		f := imp.Func
		values := abi.ConvertArgs(f.Sig, name, full)
		var lead []reflect.Value
		if f.Lead() > 0 {
			lead = f.BindLead(rt.env)
		}
		return f.Call(lead, values), true
	case GuestIMP:
		if rt.invoker == nil {
			errors.Throw(errors.New(errors.PhaseObjC, errors.KindInvalidInput).
				Addr(imp.Addr).
				Symbol(name).
				Detail("guest implementation with no guest invoker installed").
				Build())
		}
		sig, values := abi.DynamicSignature(name, full, want)
		return rt.invoker.InvokeGuest(imp.Addr, sig, values), true
	default:
		panic(fmt.Sprintf("objc: unknown IMP %T", imp))
	}
}

func result[R any](rt *Runtime, recv ID, sel SEL, out reflect.Value, invoked bool) R {
	var zero R
	if !invoked {
		return zero
	}
	want := reflect.TypeFor[R]()
	if !out.IsValid() {
		errors.Throw(errors.ShapeMismatch(rt.selName(sel),
			fmt.Sprintf("method returns no value, caller expects %s", want)))
	}
	if out.Type().AssignableTo(want) {
		v := reflect.New(want).Elem()
		v.Set(out)
		r, _ := v.Interface().(R)
		return r
	}
	if out.Kind() == want.Kind() && out.Type().ConvertibleTo(want) {
		r, _ := out.Convert(want).Interface().(R)
		return r
	}
	errors.Throw(errors.TypeMismatch(errors.PhaseObjC, uint32(recv), want.String(), out.Type().String()))
	return zero
}
