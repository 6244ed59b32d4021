package hleruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/errors"
)

var crashEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("hleruntime: failed to create CBOR enc mode: %v", err))
	}
	crashEncMode = em
}

// CrashReport is the record written when a fault ends the process or a
// guest thread. It is stored as canonical CBOR.
type CrashReport struct {
	Phase      string        `cbor:"1,keyasint"`
	Kind       string        `cbor:"2,keyasint"`
	Symbol     string        `cbor:"3,keyasint,omitempty"`
	Detail     string        `cbor:"4,keyasint,omitempty"`
	Cause      string        `cbor:"5,keyasint,omitempty"`
	Policy     string        `cbor:"6,keyasint"`
	Trampoline string        `cbor:"7,keyasint,omitempty"` // host symbol at pc or lr
	Registers  []uint32      `cbor:"8,keyasint,omitempty"`
	Memory     MemorySummary `cbor:"9,keyasint"`
	UnixNano   int64         `cbor:"10,keyasint"`
	Objects    int           `cbor:"11,keyasint"`
	Pools      int           `cbor:"12,keyasint"`
	Addr       uint32        `cbor:"13,keyasint,omitempty"`
}

// MemorySummary is the allocator state at the time of a crash.
type MemorySummary struct {
	Size            uint64 `cbor:"1,keyasint"`
	BytesInUse      uint64 `cbor:"2,keyasint"`
	LargestFree     uint64 `cbor:"3,keyasint"`
	LiveAllocations int    `cbor:"4,keyasint"`
}

// CrashReport captures err together with the state of the environment.
func (e *Environment) CrashReport(err *errors.Error) *CrashReport {
	st := e.Mem.Stats()
	r := &CrashReport{
		Phase:    string(err.Phase),
		Kind:     string(err.Kind),
		Addr:     err.Addr,
		Symbol:   err.Symbol,
		Detail:   err.Detail,
		Policy:   string(e.cfg.Faults.Policy),
		UnixNano: time.Now().UnixNano(),
		Memory: MemorySummary{
			Size:            st.Size,
			BytesInUse:      st.BytesInUse,
			LargestFree:     st.LargestFree,
			LiveAllocations: st.LiveAllocations,
		},
		Objects: len(e.ObjC.Objects()),
		Pools:   e.ObjC.PoolDepth(),
	}
	if err.Cause != nil {
		r.Cause = err.Cause.Error()
	}
	if e.CPU != nil {
		regs := abi.Snapshot(e.CPU.Registers())
		r.Registers = regs[:]
		if sym, ok := e.Dyld.TrampolineAt(regs[abi.PC]); ok {
			r.Trampoline = sym.Name
		} else if sym, ok := e.Dyld.TrampolineAt(regs[abi.LR]); ok {
			r.Trampoline = sym.Name
		}
	}
	return r
}

// Marshal encodes the report as canonical CBOR.
func (r *CrashReport) Marshal() ([]byte, error) {
	return crashEncMode.Marshal(r)
}

// DecodeCrashReport decodes a report written by WriteFile.
func DecodeCrashReport(data []byte) (*CrashReport, error) {
	var r CrashReport
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "decode crash report")
	}
	return &r, nil
}

// WriteFile stores the report in dir and returns its path.
func (r *CrashReport) WriteFile(dir string) (string, error) {
	data, err := r.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("crash-%d-%s.cbor", r.UnixNano, r.Kind))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Time returns when the fault happened.
func (r *CrashReport) Time() time.Time { return time.Unix(0, r.UnixNano) }

// String formats the report for people.
func (r *CrashReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", r.Phase, r.Kind)
	if r.Symbol != "" {
		fmt.Fprintf(&b, " %s", r.Symbol)
	}
	if r.Addr != 0 {
		fmt.Fprintf(&b, " at %s", hex(r.Addr))
	}
	b.WriteByte('\n')
	if r.Detail != "" {
		fmt.Fprintf(&b, "  detail:     %s\n", r.Detail)
	}
	if r.Cause != "" {
		fmt.Fprintf(&b, "  cause:      %s\n", r.Cause)
	}
	fmt.Fprintf(&b, "  time:       %s\n", r.Time().UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  policy:     %s\n", r.Policy)
	if r.Trampoline != "" {
		fmt.Fprintf(&b, "  in host:    %s\n", r.Trampoline)
	}
	fmt.Fprintf(&b, "  memory:     %d/%d bytes in use, %d allocations, largest free %d\n",
		r.Memory.BytesInUse, r.Memory.Size, r.Memory.LiveAllocations, r.Memory.LargestFree)
	fmt.Fprintf(&b, "  objects:    %d live, %d pool(s)\n", r.Objects, r.Pools)
	if len(r.Registers) == abi.NumRegs {
		var regs abi.Registers
		copy(regs[:], r.Registers)
		for _, line := range strings.Split(regs.String(), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}
