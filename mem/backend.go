package mem

import (
	"fmt"
)

// BackendKind selects the host storage behind the guest space.
type BackendKind string

const (
	// BackendHeap keeps the guest space in an ordinary Go byte slice.
	BackendHeap BackendKind = "heap"
	// BackendMmap reserves the guest space as an anonymous mapping so that
	// untouched pages cost nothing.
	BackendMmap BackendKind = "mmap"
	// BackendWazero uses the linear memory of a wazero module instance, for
	// CPU peers hosted in wazero that need to share the guest space.
	BackendWazero BackendKind = "wazero"
)

// Backend provides the host bytes behind the guest space. Bytes must keep
// returning the same slice for the backend's lifetime.
type Backend interface {
	Bytes() []byte
	Close() error
}

func newBackend(kind BackendKind, size uint64) (Backend, error) {
	switch kind {
	case BackendHeap, "":
		return &heapBackend{buf: make([]byte, size)}, nil
	case BackendMmap:
		return newMmapBackend(size)
	case BackendWazero:
		return newWazeroBackend(size)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", kind)
	}
}

type heapBackend struct {
	buf []byte
}

func (b *heapBackend) Bytes() []byte { return b.buf }

func (b *heapBackend) Close() error {
	b.buf = nil
	return nil
}
