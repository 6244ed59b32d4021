// Package hleruntime is the core of a high-level emulator for 32-bit ARM
// apps written against an Objective-C platform.
//
// Guest instructions run on an external CPU peer. Whenever the guest calls
// into the platform it lands on a trampoline, traps, and the call is served
// by a Go implementation working on the guest's memory and objects.
//
// # Architecture Overview
//
//	hleruntime/          Environment: config, fault policy, crash reports, runtime C API
//	├── mem/             Guest address space, allocation table, typed pointers, layout codec
//	├── objc/            Classes, selectors, message dispatch, refcounts, autorelease pools
//	├── abi/             AAPCS register and stack marshalling, host function signatures
//	├── dyld/            Symbol export and linking, svc trampolines, host-to-guest calls
//	├── errors/          Structured fault type
//	├── internal/testcpu Scripted CPU peer for tests
//	└── cmd/hle-inspect  Inspect registries and crash reports
//
// # Quick Start
//
//	env, err := hleruntime.New(ctx, hleruntime.WithCPU(cpu))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer env.Close()
//
//	err = env.RegisterShims(myFramework{})
//	addrs, err := env.Link(importedSymbols)
//
// The CPU peer calls env.HandleTrap(n) on every svc. A non-nil error means
// the current guest thread has to stop.
//
// # Host Functions
//
// Shims are Go funcs. Their parameters and result are marshalled from and
// to registers and the guest stack by the AAPCS rules; an *Environment
// first parameter receives the environment:
//
//	func(e *hleruntime.Environment, p mem.Ptr[uint8], n uint32) int32
//
// # Faults
//
// Violations of memory, object or ABI rules raise *errors.Error faults.
// HandleTrap and Guard catch them, log them, write a crash report when a
// crash directory is configured, and then apply the fault policy: abort
// exits the process, thread ends only the current guest thread.
//
// # Thread Safety
//
// An Environment serves a single guest thread. Nothing in it locks.
package hleruntime
