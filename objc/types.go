package objc

import (
	"fmt"
	"reflect"

	"github.com/wippyai/hle-runtime/abi"
)

// ID is an object handle: the guest address of an instance or class object.
type ID uint32

// Nil is the nil object handle.
const Nil ID = 0

func (id ID) String() string { return fmt.Sprintf("0x%08x", uint32(id)) }

// SEL is a selector: the guest address of an interned, read-only C string.
// Two selectors are equal exactly when they name the same message.
type SEL uint32

// IMP is a method implementation, either HostIMP or GuestIMP.
type IMP interface {
	imp()
}

// HostIMP is a method implemented by a Go function. The function receives
// the receiver and selector first, optionally preceded by the environment:
//
//	func(env E, this objc.ID, cmd objc.SEL, args...) R
//	func(this objc.ID, cmd objc.SEL, args...) R
type HostIMP struct {
	Func *abi.Func
}

// GuestIMP is a method implemented by guest code at Addr.
type GuestIMP struct {
	Addr uint32
}

func (HostIMP) imp()  {}
func (GuestIMP) imp() {}

// GuestInvoker runs guest code on behalf of the runtime. The environment
// installs one that drives the CPU peer.
type GuestInvoker interface {
	InvokeGuest(addr uint32, sig *abi.Signature, args []reflect.Value) reflect.Value
}

// Finalizer is implemented by instance state that owns resources beyond
// the side table, such as guest allocations or retained objects. Finalize
// runs after the dealloc chain and before the instance memory is freed.
type Finalizer interface {
	Finalize(rt *Runtime)
}

var (
	idType  = reflect.TypeFor[ID]()
	selType = reflect.TypeFor[SEL]()
)
