// Package alloc implements a user-space memory allocator that sits between
// application code and the operating system's address-space allocator.
//
// # Overview
//
// The allocator switches between two specialized strategies based on
// request size:
//
//   - SmallPool: a segregated free-list allocator over six fixed size
//     classes (16, 32, 64, 128, 256, 512 bytes). Services requests of
//     1..=512 bytes with O(1) allocation and deallocation.
//   - CoalescingPool: a first-fit, boundary-coalescing allocator backed
//     by one or more large OS chunks. Services requests of
//     513..=10 MiB bytes from its chunks, and serves larger requests
//     from an isolated OS allocation outside any chunk.
//
// Allocator routes each request to one of the two pools by size, and
// routes Free calls back to the pool that produced the live block by
// reading the 8-byte header that precedes every pointer this package
// returns.
//
// # Header
//
// Every live block is preceded by an 8-byte header encoding a 16-bit
// magic tag, a size field, and (CoalescingPool only) a busy bit. See
// header.go for the exact bit layout.
//
// # Usage
//
//	var a alloc.Allocator
//	if err := a.Init(); err != nil {
//	    // ...
//	}
//	defer a.Destroy()
//
//	p, err := a.Alloc(128)
//	if err != nil {
//	    // ...
//	}
//	// use p as unsafe.Pointer to 128 usable, 8-byte-aligned bytes
//	a.Free(p)
//
// # Thread safety
//
// Allocator, SmallPool, and CoalescingPool are not safe for concurrent
// use. Callers must serialize access externally.
package alloc
