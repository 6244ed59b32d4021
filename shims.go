package hleruntime

import (
	"sort"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/dyld"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// Shims is a set of host implementations exported under their C names.
//
// Values in the map may be:
//   - a Go func, marshalled through its signature. An *Environment first
//     parameter receives the environment.
//   - a RawShim, which reads the register file itself.
//   - a mem.VoidPtr, exported as a data symbol.
type Shims interface {
	Exports() map[string]any
}

// RawShim is a host function that handles the register file itself.
type RawShim func(e *Environment, regs abi.RegisterFile) dyld.Action

// RegisterShims exports every entry of s.
func (e *Environment) RegisterShims(s Shims) error {
	exports := s.Exports()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var err error
		switch v := exports[name].(type) {
		case RawShim:
			err = e.Dyld.ExportRaw(name, func(env any, regs abi.RegisterFile) dyld.Action {
				return v(env.(*Environment), regs)
			})
		case mem.VoidPtr:
			err = e.Dyld.ExportData(name, uint32(v))
		default:
			err = e.Dyld.Export(name, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the guest address of an exported symbol.
func (e *Environment) Resolve(name string) (uint32, error) {
	sym, err := e.Dyld.Resolve(name)
	if err != nil {
		return 0, err
	}
	return sym.Addr, nil
}

// Link resolves the symbols a guest binary imports. See dyld.Linker.Link.
func (e *Environment) Link(names []string) (map[string]uint32, error) {
	return e.Dyld.Link(names)
}

func throwBadHandle(what string, addr uint32) {
	errors.Throw(errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
		Addr(addr).
		Detail("%s is not a registered %s", hex(addr), what).
		Build())
}
