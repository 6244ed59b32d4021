package objc

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// RootClassName is the name of the distinguished root class.
const RootClassName = "NSObject"

// Runtime holds the class and selector registries, the side table of
// instance state and the autorelease pool stack for one process.
//
// Runtime is not safe for concurrent use. Only the current guest thread
// calls into it.
type Runtime struct {
	mem     *mem.Memory
	log     *zap.Logger
	env     any
	invoker GuestInvoker

	selectors map[string]SEL
	selNames  map[SEL]string

	classes     map[string]*Class
	classByAddr map[ID]*Class
	root        *Class

	objects    map[ID]*entry
	tombstones map[ID]struct{}
	dying      []ID

	pools     []*pool
	nextToken uint32

	selAlloc       SEL
	selInit        SEL
	selDealloc     SEL
	selAutorelease SEL
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}

// WithEnv sets the value passed as the lead argument of host methods that
// take one. It defaults to the Runtime itself.
func WithEnv(env any) Option {
	return func(rt *Runtime) { rt.env = env }
}

// WithInvoker sets the GuestInvoker used for guest method implementations.
func WithInvoker(inv GuestInvoker) Option {
	return func(rt *Runtime) { rt.invoker = inv }
}

// New creates a runtime over m and registers the root class.
func New(m *mem.Memory, opts ...Option) *Runtime {
	rt := &Runtime{
		mem:         m,
		selectors:   make(map[string]SEL),
		selNames:    make(map[SEL]string),
		classes:     make(map[string]*Class),
		classByAddr: make(map[ID]*Class),
		objects:     make(map[ID]*entry),
		tombstones:  make(map[ID]struct{}),
	}
	rt.env = rt
	for _, opt := range opts {
		opt(rt)
	}
	if rt.log == nil {
		rt.log = Logger()
	}

	rt.selAlloc = rt.Selector("alloc")
	rt.selInit = rt.Selector("init")
	rt.selDealloc = rt.Selector("dealloc")
	rt.selAutorelease = rt.Selector("autorelease")

	rt.root = rt.RegisterClass(rootClassDef(rt))
	return rt
}

// Bind sets the environment passed to host methods with a lead param.
func (rt *Runtime) Bind(env any) { rt.env = env }

// Env returns the environment host methods receive.
func (rt *Runtime) Env() any { return rt.env }

// SetInvoker installs the GuestInvoker.
func (rt *Runtime) SetInvoker(inv GuestInvoker) { rt.invoker = inv }

// Memory returns the guest memory the runtime allocates from.
func (rt *Runtime) Memory() *mem.Memory { return rt.mem }

// Root returns the root class.
func (rt *Runtime) Root() *Class { return rt.root }

// Selector interns name and returns its selector.
func (rt *Runtime) Selector(name string) SEL {
	if sel, ok := rt.selectors[name]; ok {
		return sel
	}
	p := rt.mem.AllocAndWriteCStr(name)
	rt.mem.Protect(p.Void(), true)
	sel := SEL(p)
	rt.selectors[name] = sel
	rt.selNames[sel] = name
	return sel
}

// LookupSelector returns the selector for name if it has been interned.
func (rt *Runtime) LookupSelector(name string) (SEL, bool) {
	sel, ok := rt.selectors[name]
	return sel, ok
}

// SelectorName returns the name of sel.
func (rt *Runtime) SelectorName(sel SEL) (string, bool) {
	name, ok := rt.selNames[sel]
	return name, ok
}

// selName is SelectorName for messages, falling back to the address.
func (rt *Runtime) selName(sel SEL) string {
	if name, ok := rt.selNames[sel]; ok {
		return name
	}
	return fmt.Sprintf("<sel 0x%08x>", uint32(sel))
}

// Selectors returns every interned selector name, sorted.
func (rt *Runtime) Selectors() []string {
	out := make([]string, 0, len(rt.selectors))
	for name := range rt.selectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ObjectInfo describes a live instance.
type ObjectInfo struct {
	Class string
	ID    ID
	Refs  uint32
}

// Objects lists live instances in address order.
func (rt *Runtime) Objects() []ObjectInfo {
	out := make([]ObjectInfo, 0, len(rt.objects))
	for id, e := range rt.objects {
		out = append(out, ObjectInfo{ID: id, Class: e.class.Name, Refs: e.refs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (rt *Runtime) throwNotObject(id ID, op string) {
	if _, ok := rt.tombstones[id]; ok {
		errors.New(errors.PhaseObjC, errors.KindUseAfterFree).
			Addr(uint32(id)).
			Detail("%s on a deallocated object", op).
			Throw()
	}
	errors.New(errors.PhaseObjC, errors.KindInvalidInput).
		Addr(uint32(id)).
		Detail("%s on an address that is not an object", op).
		Throw()
}
