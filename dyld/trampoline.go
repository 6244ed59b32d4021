package dyld

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

const (
	// SVCBase is the svc number of the first trampoline. Lower numbers are
	// left to the guest's own system calls.
	SVCBase = 0x1000
	maxSVC  = 0xFFFFFF

	StubSize = 8
	PageSize = 0x1000

	opSVC  = 0xEF000000
	opBxLR = 0xE12FFF1E
	opUDF  = 0xE7F000F0
)

// Action tells the CPU peer where to continue after a trap.
type Action struct {
	Target uint32
	Branch bool
}

// Return continues at the instruction after the svc, which returns to lr.
var Return = Action{}

// BranchTo continues at addr with lr untouched, so the callee returns
// straight to the trampoline's caller.
func BranchTo(addr uint32) Action {
	return Action{Branch: true, Target: addr}
}

// CreateTrampoline makes fn callable from guest code and returns the stub
// address. fn is a Go func, an *abi.Func, or a RawFunc.
func (l *Linker) CreateTrampoline(fn any) uint32 {
	sym := &Symbol{Kind: KindFunc}
	switch f := fn.(type) {
	case RawFunc:
		sym.Kind, sym.Raw = KindRaw, f
	case func(any, abi.RegisterFile) Action:
		sym.Kind, sym.Raw = KindRaw, f
	case *abi.Func:
		sym.Func = f
	default:
		p, err := prepare(fn)
		if err != nil {
			errors.Throw(err.(*errors.Error))
		}
		sym.Func = p
	}
	sym.Name = fmt.Sprintf("trampoline#%d", len(l.stubs))
	if sym.Func != nil {
		sym.Name = sym.Func.Name
	}
	l.install(sym)
	return sym.Addr
}

// install writes the stub for sym and assigns its svc number.
func (l *Linker) install(sym *Symbol) {
	n := uint32(SVCBase + len(l.stubs))
	if n > maxSVC {
		errors.Throw(errors.New(errors.PhaseLink, errors.KindAllocation).
			Symbol(sym.Name).
			Detail("out of trampoline svc numbers").
			Build())
	}
	sym.SVC = n
	sym.Addr = l.writeStub(opSVC|n, opBxLR)
	l.stubs = append(l.stubs, sym)
	l.byAddr[sym.Addr] = sym

	l.log.Debug("trampoline created",
		zap.String("symbol", sym.Name),
		zap.Uint32("svc", n),
		zap.String("addr", mem.VoidPtr(sym.Addr).String()))
}

// writeStub stores two instruction words in the current trampoline page.
// Pages stay read-only except while a stub is written.
func (l *Linker) writeStub(first, second uint32) uint32 {
	if l.page == 0 || l.pageUsed+StubSize > PageSize {
		l.page = l.mem.Alloc(PageSize)
		l.pageUsed = 0
	} else {
		l.mem.Protect(l.page, false)
	}
	addr := uint32(l.page) + l.pageUsed
	mem.Write(l.mem, mem.Ptr[uint32](addr), first)
	mem.Write(l.mem, mem.Ptr[uint32](addr+4), second)
	l.pageUsed += StubSize
	l.mem.Protect(l.page, true)
	return addr
}

// TrampolineAt returns the trampoline whose stub contains pc.
func (l *Linker) TrampolineAt(pc uint32) (Symbol, bool) {
	if s, ok := l.byAddr[pc]; ok {
		return *s, true
	}
	if s, ok := l.byAddr[pc-4]; ok {
		return *s, true
	}
	return Symbol{}, false
}

// Trampolines returns the number of trampolines placed so far.
func (l *Linker) Trampolines() int { return len(l.stubs) }

// HandleSVC runs the host function behind svc #n. Function symbols get
// their arguments marshalled from regs and their result written back. For
// a branch the pc is moved to the target before returning.
func (l *Linker) HandleSVC(env any, regs abi.RegisterFile, n uint32) Action {
	if n < SVCBase || int(n-SVCBase) >= len(l.stubs) {
		errors.Throw(errors.New(errors.PhaseLink, errors.KindUnresolvedSymbol).
			Addr(regs.Reg(abi.PC)).
			Value(n).
			Detail("svc #%d is not a trampoline", n).
			Build())
	}
	sym := l.stubs[n-SVCBase]

	act := Return
	switch sym.Kind {
	case KindRaw:
		act = sym.Raw(env, regs)
	case KindFunc:
		f := sym.Func
		args := abi.MarshalCall(regs, l.mem, f.Sig)
		var lead []reflect.Value
		if f.Lead() > 0 {
			lead = f.BindLead(env)
		}
		abi.WriteReturn(regs, l.mem, f.Sig, f.Call(lead, args))
	}
	if act.Branch {
		regs.SetReg(abi.PC, act.Target)
	}
	return act
}
