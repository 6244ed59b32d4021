package hleruntime

import (
	"fmt"
	"reflect"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/dyld"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// objcSuper is struct objc_super as the guest lays it out.
type objcSuper struct {
	Receiver objc.ID
	Class    objc.ID
}

// objcAPI is the Objective-C runtime's C interface.
type objcAPI struct{}

func (objcAPI) Exports() map[string]any {
	return map[string]any{
		"objc_msgSend":             RawShim(func(e *Environment, regs abi.RegisterFile) dyld.Action { return e.msgSend(regs, false, false) }),
		"objc_msgSend_stret":       RawShim(func(e *Environment, regs abi.RegisterFile) dyld.Action { return e.msgSend(regs, true, false) }),
		"objc_msgSendSuper2":       RawShim(func(e *Environment, regs abi.RegisterFile) dyld.Action { return e.msgSend(regs, false, true) }),
		"objc_msgSendSuper2_stret": RawShim(func(e *Environment, regs abi.RegisterFile) dyld.Action { return e.msgSend(regs, true, true) }),

		"objc_retain":              func(e *Environment, obj objc.ID) objc.ID { return e.ObjC.Retain(obj) },
		"objc_release":             func(e *Environment, obj objc.ID) { e.ObjC.Release(obj) },
		"objc_autorelease":         func(e *Environment, obj objc.ID) objc.ID { return e.ObjC.Autorelease(obj) },
		"objc_autoreleasePoolPush": func(e *Environment) objc.PoolToken { return e.ObjC.PushPool() },
		"objc_autoreleasePoolPop":  func(e *Environment, token objc.PoolToken) { e.ObjC.PopPool(token) },

		"objc_getClass":            objcLookUpClass,
		"objc_lookUpClass":         objcLookUpClass,
		"sel_registerName":         selRegisterName,
		"sel_getName":              selGetName,
		"class_getName":            classGetName,
		"class_getSuperclass":      classGetSuperclass,
		"object_getClass":          func(e *Environment, obj objc.ID) objc.ID { return e.ObjC.ObjectClass(obj) },
		"class_respondsToSelector": classRespondsToSelector,
	}
}

// msgSend dispatches a message sent from guest code. The receiver and
// selector are in r0 and r1, or r1 and r2 when r0 holds a struct return
// pointer. Super sends pass a struct objc_super pointer as the receiver.
// Guest implementations are branched to with the arguments in place; host
// ones are called with arguments marshalled for their signature.
func (e *Environment) msgSend(regs abi.RegisterFile, stret, super bool) dyld.Action {
	self, cmd := abi.R0, abi.R1
	if stret {
		self, cmd = abi.R1, abi.R2
	}
	rt := e.ObjC
	recv := objc.ID(regs.Reg(self))
	sel := objc.SEL(regs.Reg(cmd))

	var start *objc.Class
	if super {
		sup := mem.Read(e.Mem, mem.Ptr[objcSuper](recv))
		cls, ok := rt.ClassByAddr(sup.Class)
		if !ok {
			throwBadHandle("class", uint32(sup.Class))
		}
		recv = sup.Receiver
		regs.SetReg(self, uint32(recv))
		if recv != objc.Nil && cls.Super == nil {
			name, _ := rt.SelectorName(sel)
			errors.Throw(errors.UnrecognizedSelector(uint32(recv), "super of "+cls.Name, name))
		}
		start = cls.Super
	}

	if recv == objc.Nil {
		// Messages to nil return zero. A struct return buffer is left as
		// the caller initialized it.
		if !stret {
			regs.SetReg(abi.R0, 0)
			regs.SetReg(abi.R1, 0)
		}
		return dyld.Return
	}

	switch imp := rt.Resolve(recv, sel, start).(type) {
	case objc.GuestIMP:
		return dyld.BranchTo(imp.Addr)
	case objc.HostIMP:
		f := imp.Func
		if f.Sig.Sret() != stret {
			name, _ := rt.SelectorName(sel)
			errors.Throw(errors.ShapeMismatch(name, fmt.Sprintf(
				"method %s sent through the %s entry point", f.Sig, entryName(stret))))
		}
		args := abi.MarshalCall(regs, e.Mem, f.Sig)
		var lead []reflect.Value
		if f.Lead() > 0 {
			lead = f.BindLead(rt.Env())
		}
		abi.WriteReturn(regs, e.Mem, f.Sig, f.Call(lead, args))
	}
	return dyld.Return
}

func entryName(stret bool) string {
	if stret {
		return "struct-return"
	}
	return "register-return"
}

// cstring reads a guest C string argument. Null faults.
func (e *Environment) cstring(p mem.Ptr[uint8], what string) string {
	if p.IsNull() {
		errors.Throw(errors.InvalidInput(errors.PhaseRuntime, what+" is NULL"))
	}
	return e.Mem.CStrAtUTF8(p.Void())
}

func objcLookUpClass(e *Environment, name mem.Ptr[uint8]) objc.ID {
	cls, ok := e.ObjC.Class(e.cstring(name, "class name"))
	if !ok {
		return objc.Nil
	}
	return cls.Addr
}

func selRegisterName(e *Environment, name mem.Ptr[uint8]) objc.SEL {
	return e.ObjC.Selector(e.cstring(name, "selector name"))
}

// selGetName returns the selector itself: a selector is the address of its
// interned name.
func selGetName(e *Environment, sel objc.SEL) mem.Ptr[uint8] {
	if _, ok := e.ObjC.SelectorName(sel); !ok {
		throwBadHandle("selector", uint32(sel))
	}
	return mem.Ptr[uint8](sel)
}

func (e *Environment) classArg(id objc.ID) *objc.Class {
	cls, ok := e.ObjC.ClassByAddr(id)
	if !ok {
		throwBadHandle("class", uint32(id))
	}
	return cls
}

func classGetName(e *Environment, cls objc.ID) mem.Ptr[uint8] {
	if cls == objc.Nil {
		return 0
	}
	return e.ObjC.ClassNamePtr(e.classArg(cls))
}

func classGetSuperclass(e *Environment, cls objc.ID) objc.ID {
	if cls == objc.Nil {
		return objc.Nil
	}
	if sup := e.classArg(cls).Super; sup != nil {
		return sup.Addr
	}
	return objc.Nil
}

// classRespondsToSelector answers for instances of cls.
func classRespondsToSelector(e *Environment, cls objc.ID, sel objc.SEL) bool {
	if cls == objc.Nil {
		return false
	}
	imp, _ := e.classArg(cls).Lookup(sel)
	return imp != nil
}
