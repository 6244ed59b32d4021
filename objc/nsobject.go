package objc

import "github.com/wippyai/hle-runtime/errors"

// rootClassDef defines the root class with the methods every object
// understands. They take no lead param, so they work whatever env is bound.
func rootClassDef(rt *Runtime) ClassDef {
	alloc := func(this ID, _ SEL) ID {
		cls, ok := rt.classByAddr[this]
		if !ok || cls.IsMeta {
			errors.Throw(errors.InvalidInput(errors.PhaseObjC, "+alloc sent to something that is not a class"))
		}
		var state any
		if cls.newState != nil {
			state = cls.newState()
		}
		return rt.AllocObject(cls, state)
	}

	return ClassDef{
		Name: RootClassName,
		ClassMethods: map[string]any{
			"alloc": alloc,
			"allocWithZone:": func(this ID, cmd SEL, _ uint32) ID {
				return alloc(this, cmd)
			},
			"new": func(this ID, _ SEL) ID {
				obj := MsgSend[ID](rt, this, rt.selAlloc)
				return MsgSend[ID](rt, obj, rt.selInit)
			},
			"class": func(this ID, _ SEL) ID {
				return this
			},
			"superclass": func(this ID, _ SEL) ID {
				cls := rt.classByAddr[this]
				if cls == nil || cls.Super == nil {
					return Nil
				}
				return cls.Super.Addr
			},
		},
		Methods: map[string]any{
			"init": func(this ID, _ SEL) ID {
				return this
			},
			"self": func(this ID, _ SEL) ID {
				return this
			},
			"retain": func(this ID, _ SEL) ID {
				return rt.Retain(this)
			},
			"release": func(this ID, _ SEL) {
				rt.Release(this)
			},
			"autorelease": func(this ID, _ SEL) ID {
				return rt.Autorelease(this)
			},
			"retainCount": func(this ID, _ SEL) uint32 {
				return rt.RetainCount(this)
			},
			// The runtime finalizes and frees the instance once the chain returns.
			"dealloc": func(ID, SEL) {},
			"class": func(this ID, _ SEL) ID {
				return rt.classObjectOf(this)
			},
			"superclass": func(this ID, _ SEL) ID {
				cls := rt.classByAddr[rt.classObjectOf(this)]
				if cls == nil || cls.Super == nil {
					return Nil
				}
				return cls.Super.Addr
			},
			"isKindOfClass:": func(this ID, _ SEL, other ID) bool {
				cls, ok := rt.classByAddr[rt.classObjectOf(this)]
				target, known := rt.classByAddr[other]
				return ok && known && cls.IsSubclassOf(target)
			},
			"isMemberOfClass:": func(this ID, _ SEL, other ID) bool {
				return rt.classObjectOf(this) == other
			},
			"respondsToSelector:": func(this ID, _ SEL, sel SEL) bool {
				return rt.RespondsTo(this, sel)
			},
			"hash": func(this ID, _ SEL) uint32 {
				return uint32(this)
			},
			"isEqual:": func(this ID, _ SEL, other ID) bool {
				return this == other
			},
		},
	}
}

// classObjectOf returns the guest address of the object id's class, what
// object_getClass answers.
func (rt *Runtime) classObjectOf(id ID) ID {
	cls, ok := rt.ClassOf(id)
	if !ok {
		return Nil
	}
	if c, isClass := rt.classByAddr[id]; isClass && !c.IsMeta {
		return c.Meta.Addr
	}
	return cls.Addr
}

// ObjectClass returns the class object address of id, as object_getClass
// does: an instance's class, or a class object's metaclass.
func (rt *Runtime) ObjectClass(id ID) ID {
	if id == Nil {
		return Nil
	}
	return rt.classObjectOf(id)
}
