//go:build windows

package osmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Map reserves and commits n bytes of anonymous memory directly from
// the kernel via VirtualAlloc, outside the Go heap.
func Map(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("osmem: invalid size %d", n)
	}
	addr, err := windows.VirtualAlloc(0, uintptr(n), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("osmem: VirtualAlloc: %w", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n), nil
}

// Unmap releases memory previously returned by Map.
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(&b[0])), 0, windows.MEM_RELEASE)
}
