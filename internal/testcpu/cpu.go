// Package testcpu is a scripted stand-in for the CPU execution peer.
//
// Guest routines are Go closures defined at guest addresses. Everything
// else is fetched from guest memory, where the CPU understands only the
// two instructions trampolines are made of: svc, which traps to the host,
// and bx lr.
package testcpu

import (
	"context"
	"fmt"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/mem"
)

const (
	opBxLR  = 0xE12FFF1E
	svcMask = 0x0F000000
	condAL  = 0xE0000000

	// Sentinel is a return address no code lives at. Call uses it to know
	// when a nested routine has returned.
	Sentinel = 0xFFFFFFF0

	defaultMaxSteps = 1 << 20
)

// Routine is a guest function implemented in Go. When it returns, the CPU
// returns to lr unless the routine moved the pc itself.
type Routine func(c *CPU)

// CPU is a minimal abi.CPU.
type CPU struct {
	Regs abi.Registers

	// Trap handles svc instructions. The pc already points past the svc.
	Trap func(svc uint32) error

	// MaxSteps bounds a single Run. 0 means a generous default.
	MaxSteps int

	mem      *mem.Memory
	routines map[uint32]Routine
	trace    []uint32
}

// New creates a CPU over m.
func New(m *mem.Memory) *CPU {
	return &CPU{mem: m, routines: make(map[uint32]Routine)}
}

// Registers implements abi.CPU.
func (c *CPU) Registers() abi.RegisterFile { return &c.Regs }

// Memory returns the guest memory.
func (c *CPU) Memory() *mem.Memory { return c.mem }

// Define places a routine at addr.
func (c *CPU) Define(addr uint32, r Routine) {
	c.routines[addr] = r
}

// Trace returns the routine and trap addresses executed so far.
func (c *CPU) Trace() []uint32 { return c.trace }

// Run implements abi.CPU.
func (c *CPU) Run(ctx context.Context, until uint32) error {
	limit := c.MaxSteps
	if limit == 0 {
		limit = defaultMaxSteps
	}

	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pc := c.Regs[abi.PC]
		if pc == until {
			return nil
		}
		if steps >= limit {
			return fmt.Errorf("testcpu: step limit %d reached at pc=%08x", limit, pc)
		}

		if r, ok := c.routines[pc]; ok {
			c.trace = append(c.trace, pc)
			r(c)
			if c.Regs[abi.PC] == pc {
				c.Regs[abi.PC] = c.Regs[abi.LR]
			}
			continue
		}

		if !c.mem.Valid(mem.VoidPtr(pc), 4) {
			return fmt.Errorf("testcpu: fetch from unmapped pc=%08x", pc)
		}
		word := mem.Read(c.mem, mem.Ptr[uint32](pc))
		switch {
		case word == opBxLR:
			c.Regs[abi.PC] = c.Regs[abi.LR]
		case word&0xFF000000 == condAL|svcMask:
			c.trace = append(c.trace, pc)
			c.Regs[abi.PC] = pc + 4
			if c.Trap == nil {
				return fmt.Errorf("testcpu: svc #%d at %08x with no trap handler", word&0xFFFFFF, pc)
			}
			if err := c.Trap(word & 0xFFFFFF); err != nil {
				return err
			}
		default:
			return fmt.Errorf("testcpu: unsupported instruction %08x at pc=%08x", word, pc)
		}
	}
}

// Call runs the guest function at addr from inside a routine, the way a
// blx would, and returns when it does. Arguments must already be in place.
func (c *CPU) Call(ctx context.Context, addr uint32) error {
	savedLR, savedPC := c.Regs[abi.LR], c.Regs[abi.PC]
	c.Regs[abi.LR] = Sentinel
	c.Regs[abi.PC] = addr
	err := c.Run(ctx, Sentinel)
	c.Regs[abi.LR], c.Regs[abi.PC] = savedLR, savedPC
	return err
}
