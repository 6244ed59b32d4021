//go:build linux || darwin

package mem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type mmapBackend struct {
	buf []byte
}

func newMmapBackend(size uint64) (Backend, error) {
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return &mmapBackend{buf: buf}, nil
}

func (b *mmapBackend) Bytes() []byte { return b.buf }

func (b *mmapBackend) Close() error {
	if b.buf == nil {
		return nil
	}
	err := unix.Munmap(b.buf)
	b.buf = nil
	return err
}
