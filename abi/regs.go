package abi

import (
	"context"
	"fmt"
	"strings"
)

// Register indices of the 32-bit ARM core register file.
const (
	R0 = 0
	R1 = 1
	R2 = 2
	R3 = 3
	R4 = 4
	R9 = 9

	R12 = 12
	SP  = 13
	LR  = 14
	PC  = 15

	// NumRegs is the size of the core register file.
	NumRegs = 16
	// ArgRegs is the number of argument words passed in registers.
	ArgRegs = 4
)

// RegisterFile is the register view shared with the CPU peer.
type RegisterFile interface {
	Reg(i int) uint32
	SetReg(i int, v uint32)
}

// CPU is the contract of the CPU execution peer. Run executes guest code
// from the current PC until the PC equals until, ctx is cancelled, or the
// peer fails.
type CPU interface {
	Registers() RegisterFile
	Run(ctx context.Context, until uint32) error
}

// Registers is a plain in-memory RegisterFile.
type Registers [NumRegs]uint32

// Reg returns register i.
func (r *Registers) Reg(i int) uint32 { return r[i] }

// SetReg sets register i.
func (r *Registers) SetReg(i int, v uint32) { r[i] = v }

// Snapshot copies every register out of rf.
func Snapshot(rf RegisterFile) Registers {
	var out Registers
	for i := range out {
		out[i] = rf.Reg(i)
	}
	return out
}

// Restore writes every register of s back into rf.
func Restore(rf RegisterFile, s Registers) {
	for i, v := range s {
		rf.SetReg(i, v)
	}
}

func (r Registers) String() string {
	var b strings.Builder
	for i, v := range r {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%08x", RegName(i), v)
	}
	return b.String()
}

// RegName returns the assembler name of register i.
func RegName(i int) string {
	switch i {
	case SP:
		return "sp"
	case LR:
		return "lr"
	case PC:
		return "pc"
	default:
		return fmt.Sprintf("r%d", i)
	}
}
