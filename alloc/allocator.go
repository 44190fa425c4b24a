package alloc

import (
	"fmt"
	"log/slog"
	"unsafe"
)

// Allocator is the general-purpose entry point described in spec.md
// §4.3: a router that dispatches each request to SmallPool,
// CoalescingPool, or a direct OS allocation by size, grounded in
// original_source/memallocator.cpp's MemoryAllocator.
type Allocator struct {
	small SmallPool
	large CoalescingPool
	state lifecycleState
}

// Init initializes the small pool, then the coalescing pool, matching
// MemoryAllocator::init's ordering.
func (a *Allocator) Init() error {
	if debugBuild && a.state != stateNotInitialized {
		return fmt.Errorf("%w: Allocator already initialized", ErrInvalidState)
	}
	if err := a.small.Init(); err != nil {
		return err
	}
	if err := a.large.Init(); err != nil {
		return err
	}
	a.state = stateInitialized
	return nil
}

// Destroy tears down the coalescing pool, then the small pool, the
// reverse of Init, matching MemoryAllocator::destroy.
func (a *Allocator) Destroy() error {
	if debugBuild && a.state != stateInitialized {
		return fmt.Errorf("%w: Allocator not initialized", ErrInvalidState)
	}
	if err := a.large.Destroy(); err != nil {
		return err
	}
	if err := a.small.Destroy(); err != nil {
		return err
	}
	a.state = stateDestroyed
	return nil
}

// Alloc routes n bytes to SmallPool (1..512), CoalescingPool
// (513..10 MiB, and, via CoalescingPool's own internal check, beyond),
// or a direct OS allocation for anything larger. Alloc(0) returns nil,
// nil, per spec.md §4.3's edge case.
func (a *Allocator) Alloc(n int) (unsafe.Pointer, error) {
	if n == 0 {
		return nil, nil
	}
	if debugBuild && a.state != stateInitialized {
		return nil, fmt.Errorf("%w: Allocator not initialized", ErrInvalidState)
	}

	if logAllocEnabled {
		logger().Debug("alloc", slog.Int("bytes", n))
	}

	var ptr unsafe.Pointer
	var err error
	switch {
	case n < 0:
		return nil, fmt.Errorf("%w: Allocator.Alloc(%d)", ErrBadRequest, n)
	case n <= smallMaxBytes:
		ptr, err = a.small.Alloc(n)
	default:
		ptr, err = a.large.Alloc(n)
	}
	if err != nil {
		return nil, err
	}

	if logAllocEnabled {
		logger().Debug("allocated", slog.Int("bytes", n), slog.Any("address", uintptr(ptr)))
	}
	return ptr, nil
}

// Free releases ptr, routing by the size recorded in its header. A nil
// ptr is a no-op, per spec.md §4.3.
func (a *Allocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	if debugBuild && a.state != stateInitialized {
		return fmt.Errorf("%w: Allocator not initialized", ErrInvalidState)
	}

	hdr := headerOf(ptr)
	h := headerAt(hdr)
	if !h.valid() {
		return ErrCorruptHeader
	}

	if logAllocEnabled {
		logger().Debug("free", slog.Any("address", uintptr(ptr)))
	}

	// alignedSize is safe as a routing key for both pools: SmallPool
	// sizes are always <=512 before or after masking, and CoalescingPool
	// never hands a caller a busy record smaller than align8(513)=520,
	// so the two ranges can never be confused at the 512 boundary.
	if h.alignedSize() > smallMaxBytes {
		return a.large.Free(ptr)
	}
	return a.small.Free(ptr)
}

