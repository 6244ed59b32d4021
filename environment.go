package hleruntime

import (
	"context"
	"os"
	"reflect"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/dyld"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// AbortExitCode is the exit status of a process ended by a fatal fault.
const AbortExitCode = 134

// Environment is the process context of one emulated app: its guest
// memory, object runtime, linker and CPU peer. Host functions that take an
// *Environment as their first parameter receive it on every call.
//
// Environment is not safe for concurrent use.
type Environment struct {
	Mem  *mem.Memory
	ObjC *objc.Runtime
	Dyld *dyld.Linker
	CPU  abi.CPU

	ctx      context.Context
	log      *zap.Logger
	exit     func(code int)
	reported *errors.Error
	cfg      Config
}

type options struct {
	cfg  *Config
	log  *zap.Logger
	cpu  abi.CPU
	exit func(int)
}

// Option configures an Environment.
type Option func(*options)

// WithConfig sets the configuration. DefaultConfig is used otherwise.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = &cfg }
}

// WithLogger sets the logger instead of building one from the config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithCPU attaches the CPU peer.
func WithCPU(cpu abi.CPU) Option {
	return func(o *options) { o.cpu = cpu }
}

// WithExit replaces os.Exit for the abort fault policy.
func WithExit(exit func(code int)) Option {
	return func(o *options) { o.exit = exit }
}

// New creates an environment and exports the runtime's C API. ctx bounds
// every guest call the environment makes.
func New(ctx context.Context, opts ...Option) (*Environment, error) {
	o := options{exit: os.Exit}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := DefaultConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := o.log
	if log == nil {
		var err error
		if log, err = NewLogger(cfg.Log); err != nil {
			return nil, err
		}
	}

	m, err := mem.New(mem.Config{
		Logger:       log.Named("mem"),
		Backend:      mem.BackendKind(cfg.Memory.Backend),
		Size:         cfg.Memory.Size,
		NullPageSize: cfg.Memory.NullPage,
	})
	if err != nil {
		return nil, err
	}

	e := &Environment{
		Mem:  m,
		CPU:  o.cpu,
		ctx:  ctx,
		log:  log,
		exit: o.exit,
		cfg:  cfg,
	}
	e.Dyld = dyld.New(m, dyld.WithLogger(log.Named("dyld")))

	if fault := errors.Catch(func() {
		e.ObjC = objc.New(m,
			objc.WithLogger(log.Named("objc")),
			objc.WithEnv(e),
			objc.WithInvoker(e))
	}); fault != nil {
		_ = m.Close()
		return nil, fault
	}

	if err := e.RegisterShims(objcAPI{}); err != nil {
		_ = m.Close()
		return nil, err
	}

	log.Info("environment created",
		zap.String("backend", cfg.Memory.Backend),
		zap.Uint64("memory", m.Size()),
		zap.String("fault_policy", string(cfg.Faults.Policy)))
	return e, nil
}

// Close releases guest memory. The environment must not be used afterwards.
func (e *Environment) Close() error {
	_ = e.log.Sync()
	return e.Mem.Close()
}

// Config returns the configuration in effect.
func (e *Environment) Config() Config { return e.cfg }

// Logger returns the environment's logger.
func (e *Environment) Logger() *zap.Logger { return e.log }

// Context returns the context guest calls run under.
func (e *Environment) Context() context.Context { return e.ctx }

// SetCPU attaches the CPU peer after creation.
func (e *Environment) SetCPU(cpu abi.CPU) { e.CPU = cpu }

func (e *Environment) mustCPU(op string) abi.CPU {
	if e.CPU == nil {
		errors.Throw(errors.InvalidInput(errors.PhaseRuntime, op+" with no CPU attached"))
	}
	return e.CPU
}

// HandleTrap is the CPU peer's entry point for svc n. It runs the host
// function behind the trampoline and applies the fault policy to any
// fault it raises. A non-nil result ends the current guest thread.
func (e *Environment) HandleTrap(n uint32) error {
	return e.Guard(func() {
		e.Dyld.HandleSVC(e, e.mustCPU("trap").Registers(), n)
	})
}

// Guard runs fn, a host-side entry into the core, under the fault policy.
func (e *Environment) Guard(fn func()) error {
	fault := errors.Catch(fn)
	if fault == nil {
		return nil
	}
	return e.fault(fault)
}

// InvokeGuest calls guest code at addr and returns its result. It
// implements objc.GuestInvoker. Errors from the CPU peer are raised as
// faults so they unwind to the trap that started the host call.
func (e *Environment) InvokeGuest(addr uint32, sig *abi.Signature, args []reflect.Value) reflect.Value {
	out, err := e.Dyld.CallGuest(e.ctx, e.mustCPU("guest call"), addr, sig, args...)
	if err != nil {
		if fault, ok := err.(*errors.Error); ok {
			errors.Throw(fault)
		}
		errors.Throw(errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Addr(addr).
			Cause(err).
			Detail("guest call did not complete").
			Build())
	}
	return out
}

// Call calls the guest function at addr with host values, converted for a
// function returning result, which is nil for void.
func (e *Environment) Call(addr uint32, result reflect.Type, args ...any) (out reflect.Value, err error) {
	err = e.Guard(func() {
		sig, values := abi.DynamicSignature(hex(addr), args, result)
		out = e.InvokeGuest(addr, sig, values)
	})
	return out, err
}
