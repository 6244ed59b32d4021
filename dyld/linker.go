package dyld

import (
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// Kind is the kind of an exported symbol.
type Kind uint8

const (
	KindFunc Kind = iota // Go function marshalled through its signature
	KindRaw              // Go function working on the register file directly
	KindData             // fixed guest address
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindRaw:
		return "raw"
	case KindData:
		return "data"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// RawFunc is a host function that reads its arguments from the register
// file itself. It is used where the signature depends on the call, as in
// objc_msgSend. The returned Action decides where the guest continues.
type RawFunc func(env any, regs abi.RegisterFile) Action

// Symbol is an exported symbol. Addr is zero for functions that have not
// been resolved yet; resolving one places its trampoline.
type Symbol struct {
	Func *abi.Func
	Raw  RawFunc
	Name string
	Kind Kind
	Addr uint32
	SVC  uint32
}

// Signature describes the symbol for listings.
func (s Symbol) Signature() string {
	switch s.Kind {
	case KindFunc:
		return s.Func.Sig.String()
	case KindRaw:
		return "(regs)"
	}
	return ""
}

// Option configures a Linker.
type Option func(*Linker)

// WithLogger sets the linker's logger. The package logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(ln *Linker) { ln.log = l }
}

// Linker maps symbol names to host implementations and owns the trampoline
// pages through which guest code calls them. Not safe for concurrent use.
type Linker struct {
	mem     *mem.Memory
	log     *zap.Logger
	symbols map[string]*Symbol

	stubs      []*Symbol
	byAddr     map[uint32]*Symbol
	page       mem.VoidPtr
	pageUsed   uint32
	returnAddr uint32
}

// New creates a linker whose trampolines live in m.
func New(m *mem.Memory, opts ...Option) *Linker {
	l := &Linker{
		mem:     m,
		symbols: make(map[string]*Symbol),
		byAddr:  make(map[uint32]*Symbol),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = Logger()
	}
	return l
}

// Memory returns the guest memory the linker places trampolines in.
func (l *Linker) Memory() *mem.Memory { return l.mem }

func (l *Linker) define(sym *Symbol) error {
	if sym.Name == "" {
		return errors.Registration(errors.PhaseLink, "", "symbol name is empty")
	}
	if _, dup := l.symbols[sym.Name]; dup {
		return errors.Registration(errors.PhaseLink, sym.Name, "symbol already exported")
	}
	l.symbols[sym.Name] = sym
	return nil
}

// Export registers fn under name. fn is a Go func whose params and result
// have guest representations. A leading parameter without one, such as the
// environment, is supplied by the host on every call.
func (l *Linker) Export(name string, fn any) error {
	f, err := prepare(fn)
	if err != nil {
		return err
	}
	return l.define(&Symbol{Name: name, Kind: KindFunc, Func: f})
}

// ExportRaw registers a function that handles the register file itself.
func (l *Linker) ExportRaw(name string, fn RawFunc) error {
	if fn == nil {
		return errors.Registration(errors.PhaseLink, name, "raw function is nil")
	}
	return l.define(&Symbol{Name: name, Kind: KindRaw, Raw: fn})
}

// ExportData registers a data symbol at a fixed guest address.
func (l *Linker) ExportData(name string, addr uint32) error {
	if addr == 0 {
		return errors.Registration(errors.PhaseLink, name, "data symbol at null address")
	}
	return l.define(&Symbol{Name: name, Kind: KindData, Addr: addr})
}

// Resolve returns the symbol exported as name, placing its trampoline on
// first use.
func (l *Linker) Resolve(name string) (Symbol, error) {
	sym, ok := l.symbols[name]
	if !ok {
		return Symbol{}, errors.Unresolved(name)
	}
	if sym.Kind != KindData && sym.Addr == 0 {
		l.install(sym)
	}
	return *sym, nil
}

// Link resolves every name and returns their guest addresses. Every name
// that is not exported is reported together in a MissingSymbolsError; the
// map still holds the names that did resolve.
func (l *Linker) Link(names []string) (map[string]uint32, error) {
	addrs := make(map[string]uint32, len(names))
	var missing []string
	for _, name := range names {
		sym, err := l.Resolve(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		addrs[name] = sym.Addr
	}
	if len(missing) > 0 {
		err := errors.NewMissingSymbolsError(missing)
		l.log.Error("symbol link failed",
			zap.Int("requested", len(names)),
			zap.Strings("missing", err.Symbols))
		return addrs, err
	}
	return addrs, nil
}

// Symbols returns every exported symbol sorted by name.
func (l *Linker) Symbols() []Symbol {
	out := make([]Symbol, 0, len(l.symbols))
	for _, s := range l.symbols {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var varArgsType = reflect.TypeFor[abi.VarArgs]()

// prepare wraps fn, treating a first parameter with no guest
// representation as the host lead.
func prepare(fn any) (*abi.Func, error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return nil, errors.New(errors.PhaseLink, errors.KindTypeMismatch).
			Detail("export must be a function, got %T", fn).
			Build()
	}
	lead := 0
	if t.NumIn() > 0 && t.In(0) != varArgsType {
		if _, err := abi.Classify(t.In(0)); err != nil {
			lead = 1
		}
	}
	return abi.NewFunc(fn, lead)
}
