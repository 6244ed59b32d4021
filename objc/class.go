package objc

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// Class is a class or metaclass record. Classes are never unregistered.
type Class struct {
	Name   string
	Super  *Class
	Meta   *Class
	IsMeta bool

	// Addr is the guest address of the class object.
	Addr ID

	// InstanceSize is the guest allocation size of instances, isa included.
	InstanceSize uint32

	newState func() any
	methods  map[SEL]IMP
	names    map[SEL]string
}

// classObject is the guest-visible mirror of a class.
type classObject struct {
	ISA        ID
	Superclass ID
	Cache      uint32
	VTable     uint32
	Name       mem.Ptr[uint8]
}

// ClassDef describes a class to register.
type ClassDef struct {
	Name string

	// Super names the superclass. Empty registers a new root class.
	Super string

	// InstanceSize is the guest size of instances. 0 inherits the
	// superclass size.
	InstanceSize uint32

	// State creates the initial side-table state for instances made by
	// +alloc. Nil inherits the superclass factory.
	State func() any

	// Methods and ClassMethods map selector names to implementations:
	// a Go func (see HostIMP), a HostIMP or a GuestIMP.
	Methods      map[string]any
	ClassMethods map[string]any
}

// Lookup walks the class chain for sel and returns the implementation and
// the class that defines it.
func (c *Class) Lookup(sel SEL) (IMP, *Class) {
	for k := c; k != nil; k = k.Super {
		if imp, ok := k.methods[sel]; ok {
			return imp, k
		}
	}
	return nil, nil
}

// Method returns the implementation c itself defines for sel.
func (c *Class) Method(sel SEL) (IMP, bool) {
	imp, ok := c.methods[sel]
	return imp, ok
}

// Methods returns the selector names c itself defines, sorted.
func (c *Class) Methods() []string {
	out := make([]string, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

func (c *Class) String() string {
	if c.IsMeta {
		return "meta " + c.Name
	}
	return c.Name
}

// Class returns the registered class called name.
func (rt *Runtime) Class(name string) (*Class, bool) {
	c, ok := rt.classes[name]
	return c, ok
}

// MustClass is Class but faults when name is not registered.
func (rt *Runtime) MustClass(name string) *Class {
	c, ok := rt.classes[name]
	if !ok {
		errors.Throw(errors.Registration(errors.PhaseObjC, name, "class is not registered"))
	}
	return c
}

// ClassByAddr returns the class or metaclass whose class object is at id.
func (rt *Runtime) ClassByAddr(id ID) (*Class, bool) {
	c, ok := rt.classByAddr[id]
	return c, ok
}

// Classes returns every registered class name, sorted.
func (rt *Runtime) Classes() []string {
	out := make([]string, 0, len(rt.classes))
	for name := range rt.classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RegisterClass adds def to the permanent registry. The superclass must
// already be registered.
func (rt *Runtime) RegisterClass(def ClassDef) *Class {
	if def.Name == "" {
		errors.Throw(errors.Registration(errors.PhaseObjC, "", "class name is empty"))
	}
	if _, ok := rt.classes[def.Name]; ok {
		errors.Throw(errors.Registration(errors.PhaseObjC, def.Name, "class is already registered"))
	}

	var super *Class
	if def.Super != "" {
		s, ok := rt.classes[def.Super]
		if !ok {
			errors.Throw(errors.Registration(errors.PhaseObjC, def.Name,
				fmt.Sprintf("superclass %q is not registered", def.Super)))
		}
		super = s
	}

	cls := &Class{Name: def.Name, Super: super, newState: def.State}
	meta := &Class{Name: def.Name, IsMeta: true}
	cls.Meta = meta
	if super != nil {
		meta.Super = super.Meta
		if cls.newState == nil {
			cls.newState = super.newState
		}
	} else {
		meta.Super = cls
	}

	cls.InstanceSize = def.InstanceSize
	minSize := uint32(4)
	if super != nil {
		minSize = super.InstanceSize
	}
	if cls.InstanceSize == 0 {
		cls.InstanceSize = minSize
	}
	if cls.InstanceSize < minSize {
		errors.Throw(errors.Registration(errors.PhaseObjC, def.Name,
			fmt.Sprintf("instance size %d is smaller than the inherited %d", cls.InstanceSize, minSize)))
	}

	cls.methods, cls.names = rt.methodTable(def.Name, def.Methods)
	meta.methods, meta.names = rt.methodTable(def.Name, def.ClassMethods)

	rt.mirror(cls, meta)
	rt.classes[def.Name] = cls

	rt.log.Debug("class registered",
		zap.String("class", def.Name),
		zap.String("super", def.Super),
		zap.Int("methods", len(cls.methods)),
		zap.Int("class_methods", len(meta.methods)))
	return cls
}

// RegisterClasses registers a batch of classes in superclass dependency
// order, so defs may appear in any order. Unknown superclasses and cycles
// fault without registering anything.
func (rt *Runtime) RegisterClasses(defs ...ClassDef) []*Class {
	pending := make(map[string]int, len(defs))
	for i, d := range defs {
		if _, dup := pending[d.Name]; dup {
			errors.Throw(errors.Registration(errors.PhaseObjC, d.Name, "class is defined twice in the batch"))
		}
		if _, ok := rt.classes[d.Name]; ok {
			errors.Throw(errors.Registration(errors.PhaseObjC, d.Name, "class is already registered"))
		}
		pending[d.Name] = i
	}

	order := make([]int, 0, len(defs))
	placed := make(map[string]bool, len(defs))
	for len(order) < len(defs) {
		progress := false
		for i, d := range defs {
			if placed[d.Name] {
				continue
			}
			_, inBatch := pending[d.Super]
			if d.Super == "" || placed[d.Super] || (!inBatch && rt.classes[d.Super] != nil) {
				order = append(order, i)
				placed[d.Name] = true
				progress = true
			}
		}
		if !progress {
			rt.throwUnorderable(defs, placed, pending)
		}
	}

	out := make([]*Class, len(defs))
	for _, i := range order {
		out[i] = rt.RegisterClass(defs[i])
	}
	return out
}

func (rt *Runtime) throwUnorderable(defs []ClassDef, placed map[string]bool, pending map[string]int) {
	var stuck []string
	for _, d := range defs {
		if placed[d.Name] {
			continue
		}
		if _, inBatch := pending[d.Super]; !inBatch {
			errors.Throw(errors.Registration(errors.PhaseObjC, d.Name,
				fmt.Sprintf("superclass %q is not registered", d.Super)))
		}
		stuck = append(stuck, d.Name)
	}
	errors.Throw(errors.Registration(errors.PhaseObjC, stuck[0],
		fmt.Sprintf("superclass cycle among %s", strings.Join(stuck, ", "))))
}

// AddMethod adds an implementation for name to c. It returns false and
// leaves c unchanged if c itself already defines name.
func (rt *Runtime) AddMethod(c *Class, name string, impl any) bool {
	sel := rt.Selector(name)
	if _, ok := c.methods[sel]; ok {
		return false
	}
	c.methods[sel] = rt.makeIMP(c.Name, name, impl)
	c.names[sel] = name
	return true
}

// ReplaceMethod sets the implementation of name on c and returns the one
// c itself previously defined, or nil.
func (rt *Runtime) ReplaceMethod(c *Class, name string, impl any) IMP {
	sel := rt.Selector(name)
	prev := c.methods[sel]
	c.methods[sel] = rt.makeIMP(c.Name, name, impl)
	c.names[sel] = name
	return prev
}

func (rt *Runtime) methodTable(className string, defs map[string]any) (map[SEL]IMP, map[SEL]string) {
	methods := make(map[SEL]IMP, len(defs))
	names := make(map[SEL]string, len(defs))
	for name, impl := range defs {
		sel := rt.Selector(name)
		methods[sel] = rt.makeIMP(className, name, impl)
		names[sel] = name
	}
	return methods, names
}

// makeIMP turns a method definition into an IMP, checking that Go funcs
// take the receiver and selector and as many args as the selector has colons.
func (rt *Runtime) makeIMP(className, selName string, impl any) IMP {
	switch impl := impl.(type) {
	case HostIMP:
		return impl
	case GuestIMP:
		return impl
	case *abi.Func:
		rt.checkMethod(className, selName, impl)
		return HostIMP{Func: impl}
	}

	ft := reflect.TypeOf(impl)
	if ft == nil || ft.Kind() != reflect.Func {
		errors.Throw(errors.Registration(errors.PhaseObjC, className+" "+selName,
			fmt.Sprintf("implementation must be a func, HostIMP or GuestIMP, got %T", impl)))
	}
	lead := 1
	if ft.NumIn() > 0 && ft.In(0) == idType {
		lead = 0
	}
	f, err := abi.NewFunc(impl, lead)
	if err != nil {
		errors.Throw(errors.New(errors.PhaseObjC, errors.KindRegistration).
			Symbol(className + " " + selName).
			Cause(err).
			Detail("invalid method signature").
			Build())
	}
	f.Name = fmt.Sprintf("%s %s", className, selName)
	rt.checkMethod(className, selName, f)
	return HostIMP{Func: f}
}

func (rt *Runtime) checkMethod(className, selName string, f *abi.Func) {
	params := f.Sig.Params
	if len(params) < 2 || params[0].Type != idType || params[1].Type != selType {
		errors.Throw(errors.Registration(errors.PhaseObjC, className+" "+selName,
			"method must take (objc.ID, objc.SEL, ...) after its lead params"))
	}
	if want := strings.Count(selName, ":"); len(params)-2 != want {
		errors.Throw(errors.Registration(errors.PhaseObjC, className+" "+selName,
			fmt.Sprintf("selector takes %d argument(s), method takes %d", want, len(params)-2)))
	}
}

// ClassNamePtr returns the guest C string holding c's name, as stored in
// its class object.
func (rt *Runtime) ClassNamePtr(c *Class) mem.Ptr[uint8] {
	return mem.Read(rt.mem, mem.Ptr[classObject](c.Addr)).Name
}

// mirror writes the class and metaclass objects into guest memory.
func (rt *Runtime) mirror(cls, meta *Class) {
	name := rt.mem.AllocAndWriteCStr(cls.Name)
	rt.mem.Protect(name.Void(), true)

	size := mem.SizeOf[classObject]()
	cls.Addr = ID(rt.mem.Alloc(size))
	meta.Addr = ID(rt.mem.Alloc(size))

	// The root metaclass is its own isa and every other metaclass points at it.
	root := cls
	for root.Super != nil {
		root = root.Super
	}
	superAddr, metaSuperAddr := Nil, cls.Addr
	if cls.Super != nil {
		superAddr = cls.Super.Addr
		metaSuperAddr = cls.Super.Meta.Addr
	}

	mem.Write(rt.mem, mem.Ptr[classObject](cls.Addr),
		classObject{ISA: meta.Addr, Superclass: superAddr, Name: name})
	mem.Write(rt.mem, mem.Ptr[classObject](meta.Addr),
		classObject{ISA: root.Meta.Addr, Superclass: metaSuperAddr, Name: name})
	rt.mem.Protect(mem.VoidPtr(cls.Addr), true)
	rt.mem.Protect(mem.VoidPtr(meta.Addr), true)

	rt.classByAddr[cls.Addr] = cls
	rt.classByAddr[meta.Addr] = meta
}
