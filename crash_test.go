package hleruntime

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/wippyai/hle-runtime/abi"
	"github.com/wippyai/hle-runtime/errors"
)

func TestCrashReport_Capture(t *testing.T) {
	h := newHarness(t, nil)
	h.cpu.Regs[abi.R0] = 0xCAFE
	h.env.ObjC.PushPool()

	fault := errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
		Addr(0x4000).
		Cause(os.ErrInvalid).
		Detail("read of 4 bytes").
		Build()
	r := h.env.CrashReport(fault)

	if r.Phase != "memory" || r.Kind != "out_of_bounds" || r.Addr != 0x4000 || r.Cause != os.ErrInvalid.Error() {
		t.Fatalf("report = %+v", r)
	}
	if len(r.Registers) != abi.NumRegs || r.Registers[abi.R0] != 0xCAFE || r.Pools != 1 {
		t.Fatalf("state = %+v", r)
	}
	if r.Memory.LiveAllocations == 0 || r.Memory.Size != 4<<20 {
		t.Fatalf("memory = %+v", r.Memory)
	}

	text := r.String()
	for _, want := range []string{"[memory] out_of_bounds at 0x00004000", "read of 4 bytes", "r0=0000cafe", "1 pool(s)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("String() missing %q:\n%s", want, text)
		}
	}
}

func TestCrashReport_Encoding(t *testing.T) {
	r := &CrashReport{
		Phase:     "objc",
		Kind:      "over_release",
		Addr:      0x1000,
		Policy:    "thread",
		UnixNano:  1700000000000000000,
		Registers: make([]uint32, abi.NumRegs),
		Memory:    MemorySummary{Size: 1 << 20, LiveAllocations: 3},
	}
	a, err := r.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b, _ := r.Marshal()
	if !bytes.Equal(a, b) {
		t.Fatal("encoding is not deterministic")
	}

	path, err := r.WriteFile(t.TempDir())
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if !strings.HasSuffix(path, "-over_release.cbor") {
		t.Fatalf("path = %s", path)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, a) {
		t.Fatal("file content differs from Marshal")
	}

	if _, err := DecodeCrashReport([]byte{0xff, 0x00}); err == nil {
		t.Fatal("garbage decoded")
	}
}
