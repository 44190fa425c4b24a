//go:build unix

package osmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Map reserves n bytes of anonymous, zero-filled memory directly from
// the kernel via mmap(MAP_ANON|MAP_PRIVATE), outside the Go heap.
//
// Mirrors internal/mmfile's //go:build unix file in structure: a single
// exported function per platform, backed by golang.org/x/sys/unix.
func Map(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("osmem: invalid size %d", n)
	}
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("osmem: mmap: %w", err)
	}
	return b, nil
}

// Unmap releases memory previously returned by Map.
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}
