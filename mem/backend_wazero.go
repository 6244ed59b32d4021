package mem

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
)

const wasmPageSize = 65536

// wazeroBackend exposes the linear memory of a one-export wasm module.
// Memory is never grown after instantiation, so the slice returned by
// Read stays valid until Close.
type wazeroBackend struct {
	rt  wazero.Runtime
	buf []byte
}

func newWazeroBackend(size uint64) (Backend, error) {
	pages := (size + wasmPageSize - 1) / wasmPageSize
	if pages == 0 || pages > 65535 {
		return nil, fmt.Errorf("wazero backend: %d bytes needs %d pages (limit 65535)", size, pages)
	}

	ctx := context.Background()
	cfg := wazero.NewRuntimeConfigInterpreter().WithMemoryLimitPages(uint32(pages))
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	mod, err := rt.Instantiate(ctx, memoryModule(uint32(pages)))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("wazero backend: instantiate: %w", err)
	}

	linear := mod.ExportedMemory("memory")
	if linear == nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("wazero backend: module has no memory export")
	}

	buf, ok := linear.Read(0, linear.Size())
	if !ok {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("wazero backend: memory read out of bounds: size=%d", linear.Size())
	}

	return &wazeroBackend{rt: rt, buf: buf[:size]}, nil
}

func (b *wazeroBackend) Bytes() []byte { return b.buf }

func (b *wazeroBackend) Close() error {
	if b.rt == nil {
		return nil
	}
	err := b.rt.Close(context.Background())
	b.rt = nil
	b.buf = nil
	return err
}

// memoryModule encodes a module with a single memory of minPages pages,
// exported as "memory".
func memoryModule(minPages uint32) []byte {
	limits := append([]byte{0x01, 0x00}, appendULEB128(nil, minPages)...) // 1 memory, min only

	out := []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version
	}
	out = append(out, 0x05) // memory section
	out = appendULEB128(out, uint32(len(limits)))
	out = append(out, limits...)

	export := []byte{0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00}
	out = append(out, 0x07) // export section
	out = appendULEB128(out, uint32(len(export)))
	out = append(out, export...)
	return out
}

func appendULEB128(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}
