//go:build !linux && !darwin

package mem

import "fmt"

func newMmapBackend(size uint64) (Backend, error) {
	return nil, fmt.Errorf("mmap backend is not supported on this platform")
}
