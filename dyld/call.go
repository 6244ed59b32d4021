package dyld

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// ReturnAddr is the address guest callees return to when the host called
// them. Nothing executes there; the CPU peer stops on reaching it.
func (l *Linker) ReturnAddr() uint32 {
	if l.returnAddr == 0 {
		l.returnAddr = l.writeStub(opUDF, opBxLR)
	}
	return l.returnAddr
}

// CallGuest calls the guest function at addr with args laid out for sig
// and runs the CPU until it returns. Every register, sp included, is
// restored afterwards, so CallGuest may be used from inside a trap.
func (l *Linker) CallGuest(ctx context.Context, cpu abi.CPU, addr uint32, sig *abi.Signature, args ...reflect.Value) (reflect.Value, error) {
	if len(args) != len(sig.Params) {
		return reflect.Value{}, errors.ShapeMismatch(mem.VoidPtr(addr).String(),
			fmt.Sprintf("guest call %s given %d argument(s)", sig, len(args)))
	}
	if sig.Variadic {
		return reflect.Value{}, errors.ShapeMismatch(mem.VoidPtr(addr).String(),
			"variadic guest calls need concrete argument types")
	}
	ret := l.ReturnAddr()

	regs := cpu.Registers()
	saved := abi.Snapshot(regs)
	defer abi.Restore(regs, saved)

	var sret mem.VoidPtr
	if sig.Sret() {
		sret = l.mem.Alloc(sig.Result.Size)
		defer l.mem.Free(sret)
	}

	abi.PushCall(regs, l.mem, sig, args, sret)
	regs.SetReg(abi.LR, ret)
	regs.SetReg(abi.PC, addr)

	if err := cpu.Run(ctx, ret); err != nil {
		return reflect.Value{}, err
	}
	return abi.ReadReturn(regs, l.mem, sig, sret), nil
}
