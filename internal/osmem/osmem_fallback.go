//go:build !unix && !windows

// Package osmem falls back to GC-backed memory on platforms without an
// anonymous-mmap binding in golang.org/x/sys. The allocator still
// treats this memory as exclusively its own; only the source of the
// bytes differs.
package osmem

import "fmt"

// Map returns a freshly allocated, zeroed byte slice.
func Map(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("osmem: invalid size %d", n)
	}
	return make([]byte, n), nil
}

// Unmap is a no-op; the Go garbage collector reclaims the slice once
// unreachable.
func Unmap(_ []byte) error {
	return nil
}
