package alloc

import "errors"

var (
	// ErrOutOfMemory indicates the underlying OS allocation call failed.
	// Allocator state is left unchanged; the caller may retry or give up.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrInvalidState indicates an operation was invoked against the
	// wrong lifecycle state (e.g. Alloc before Init, or Init twice).
	// This is a programmer contract violation: debug builds fail fast,
	// release builds do not check at all.
	ErrInvalidState = errors.New("alloc: invalid lifecycle state")

	// ErrCorruptHeader indicates Free was called on a pointer whose
	// header lacks the magic tag, or whose busy bit disagrees with the
	// pool it was routed to. Indicates a caller bug (double free, free
	// of a foreign pointer) or memory corruption.
	ErrCorruptHeader = errors.New("alloc: corrupt or foreign header")

	// ErrBadRequest indicates a size outside the range a pool accepts.
	// Allocator.Alloc returns it only for a negative size (Alloc(0)
	// returns nil); SmallPool.Alloc / CoalescingPool.Alloc used directly
	// return it for any size outside their own range.
	ErrBadRequest = errors.New("alloc: request size out of range")
)
