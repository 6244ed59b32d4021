package testcpu

import (
	"context"
	"strings"
	"testing"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/mem"
)

func newTestCPU(t *testing.T) *CPU {
	t.Helper()
	m, err := mem.New(mem.Config{Size: 1 << 16})
	if err != nil {
		t.Fatalf("mem.New failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return New(m)
}

// writeCode places words in a fresh allocation and returns its address.
func writeCode(c *CPU, words ...uint32) uint32 {
	p := c.Memory().Alloc(mem.GuestUSize(4 * len(words)))
	for i, w := range words {
		mem.Write(c.Memory(), mem.Ptr[uint32](p.Add(mem.GuestISize(4*i))), w)
	}
	return uint32(p)
}

func TestRun_SvcAndReturn(t *testing.T) {
	c := newTestCPU(t)
	stub := writeCode(c, 0xEF000007, opBxLR)

	var traps []uint32
	c.Trap = func(n uint32) error {
		traps = append(traps, n)
		c.Regs[0] = 99
		return nil
	}

	const done = 0x40
	c.Regs[abi.LR] = done
	c.Regs[abi.PC] = stub
	if err := c.Run(context.Background(), done); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(traps) != 1 || traps[0] != 7 {
		t.Fatalf("traps = %v, want [7]", traps)
	}
	if c.Regs[0] != 99 {
		t.Fatalf("r0 = %d, want 99", c.Regs[0])
	}
	if tr := c.Trace(); len(tr) != 1 || tr[0] != stub {
		t.Fatalf("trace = %x", tr)
	}
}

func TestCall_NestedRoutines(t *testing.T) {
	c := newTestCPU(t)
	const outer, inner, done = 0x1000, 0x2000, 0x40

	c.Define(inner, func(c *CPU) { c.Regs[0] *= 3 })
	c.Define(outer, func(c *CPU) {
		c.Regs[0] += 1
		if err := c.Call(context.Background(), inner); err != nil {
			t.Errorf("inner call failed: %v", err)
		}
	})

	c.Regs[0] = 4
	c.Regs[abi.LR] = done
	c.Regs[abi.PC] = outer
	if err := c.Run(context.Background(), done); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.Regs[0] != 15 {
		t.Fatalf("r0 = %d, want 15", c.Regs[0])
	}
	if c.Regs[abi.PC] != done {
		t.Fatalf("pc = %08x, want %08x", c.Regs[abi.PC], done)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *CPU)
		want  string
	}{
		{
			name:  "unmapped pc",
			setup: func(c *CPU) { c.Regs[abi.PC] = 0x00F00000 },
			want:  "unmapped",
		},
		{
			name:  "unsupported instruction",
			setup: func(c *CPU) { c.Regs[abi.PC] = writeCode(c, 0xE3A00001) },
			want:  "unsupported instruction",
		},
		{
			name:  "svc without handler",
			setup: func(c *CPU) { c.Regs[abi.PC] = writeCode(c, 0xEF000001) },
			want:  "no trap handler",
		},
		{
			name: "step limit",
			setup: func(c *CPU) {
				c.MaxSteps = 8
				c.Define(0x1000, func(c *CPU) { c.Regs[abi.PC] = 0x1004 })
				c.Define(0x1004, func(c *CPU) { c.Regs[abi.PC] = 0x1000 })
				c.Regs[abi.PC] = 0x1000
			},
			want: "step limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCPU(t)
			tt.setup(c)
			err := c.Run(context.Background(), Sentinel)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Run error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	c := newTestCPU(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx, Sentinel); err != context.Canceled {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}
