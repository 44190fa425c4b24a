package alloc

import (
	"fmt"
	"log/slog"
	"sort"
	"unsafe"

	"github.com/colega/useralloc/internal/osmem"
)

// cpDescriptorSize mirrors original_source's BlockList{chunk,next,first,size}:
// four pointer-sized fields reserved at the head of every CoalescingPool
// chunk. As with smallDescriptorSize, the descriptor itself is kept as a
// Go struct (cpChunk) rather than encoded in the raw bytes; the leading
// bytes are simply left unused so record accounting matches spec.md §3
// exactly.
const cpDescriptorSize = 4 * ptrSize

// cpDefaultChunkSize is the default OS allocation size for a
// CoalescingPool chunk: 1 MiB − 4·sizeof(pointer), per spec.md §3.
const cpDefaultChunkSize = 1024*1024 - cpDescriptorSize

// cpMinRecordBytes is the split threshold of spec.md §4.2's split
// policy: when the bytes left over after the caller's aligned request
// (the trailing record's header plus its payload) would be fewer than
// this, the whole record goes to the caller instead. A trailing free
// record created by a split therefore has a payload of at least
// cpMinRecordBytes - headerSize bytes.
const cpMinRecordBytes = 512

// cpMaxBytes is the largest request CoalescingPool services from its
// chunks; larger requests fall through to an isolated OS allocation,
// matching CoaleseAllocator::alloc's own internal MAX_BYTES check.
const cpMaxBytes = 10 * 1024 * 1024

// cpChunk is the bookkeeping record for one CoalescingPool chunk.
type cpChunk struct {
	mem       []byte
	size      int
	firstFree unsafe.Pointer // head of this chunk's address-ordered free list, or nil
	next      *cpChunk
}

// cpChunkRange supports O(log C) recovery of the chunk owning a given
// record address on Free, grounded in hive/alloc/fastalloc.go's bins
// slice and findHBINBounds binary search — the side-table alternative
// to an in-record back-pointer that spec.md §9's design notes call out
// explicitly for languages with stricter aliasing rules than C++.
type cpChunkRange struct {
	start, end uintptr
	chunk      *cpChunk
}

// CoalescingPool is the coalescing first-fit allocator described in
// spec.md §4.2. It serves requests of 513..=10 MiB bytes from one or
// more chunks, splitting free records on allocation and coalescing
// adjacent free records on release, plus an isolated-OS-allocation path
// for requests larger than 10 MiB — grounded directly in
// original_source/memallocator.cpp's CoaleseAllocator, which performs
// this same oversize check internally rather than relying on an outer
// caller.
type CoalescingPool struct {
	chunksHead *cpChunk
	ranges     []cpChunkRange // kept sorted by start
	state      lifecycleState
}

// Init reserves one default chunk with a single whole-chunk free record.
func (p *CoalescingPool) Init() error {
	if debugBuild && p.state != stateNotInitialized {
		return fmt.Errorf("%w: CoalescingPool already initialized", ErrInvalidState)
	}
	if _, err := p.reserveChunk(cpDefaultChunkSize - cpDescriptorSize - headerSize); err != nil {
		return err
	}
	p.state = stateInitialized
	return nil
}

// Destroy releases every chunk back to the OS. In debug builds it first
// walks each chunk linearly, reporting busy records as leaks, mirroring
// CoaleseAllocator::destroy's #ifndef NDEBUG scan.
func (p *CoalescingPool) Destroy() error {
	if debugBuild && p.state != stateInitialized {
		return fmt.Errorf("%w: CoalescingPool not initialized", ErrInvalidState)
	}
	for c := p.chunksHead; c != nil; {
		next := c.next
		if debugBuild {
			p.scanLeaks(c)
		}
		if err := osmem.Unmap(c.mem); err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
		c = next
	}
	p.chunksHead = nil
	p.ranges = nil
	p.state = stateDestroyed
	return nil
}

func (p *CoalescingPool) scanLeaks(c *cpChunk) {
	base := unsafe.Pointer(&c.mem[cpDescriptorSize])
	end := uintptr(base) + uintptr(c.size-cpDescriptorSize)
	rec := base
	for uintptr(rec) < end {
		h := headerAt(rec)
		sz := h.alignedSize()
		if h.busy() {
			logger().Warn("coalescing pool leak",
				slog.Uint64("size", sz),
				slog.Any("address", uintptr(userPtr(rec))),
			)
		}
		rec = unsafe.Add(rec, headerSize+int(sz))
	}
}

// Alloc allocates n bytes. Requests larger than cpMaxBytes are served
// by an isolated OS allocation outside any chunk, per spec.md §3's
// "Oversize records" and §4.3's router description of the direct-OS
// path; requests within range are served by first-fit search across
// chunks, first-fit within each chunk's address-sorted free list.
func (p *CoalescingPool) Alloc(n int) (unsafe.Pointer, error) {
	if debugBuild && p.state != stateInitialized {
		return nil, fmt.Errorf("%w: CoalescingPool not initialized", ErrInvalidState)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: CoalescingPool.Alloc(%d)", ErrBadRequest, n)
	}

	if n > cpMaxBytes {
		mem, err := osmem.Map(headerSize + n)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
		hdr := unsafe.Pointer(&mem[0])
		putHeaderAt(hdr, makeHeader(uint64(n), false))
		return userPtr(hdr), nil
	}

	aligned := align8(n)

	var bestChunk *cpChunk
	var bestPrev, best unsafe.Pointer
	for c := p.chunksHead; c != nil; c = c.next {
		var prev unsafe.Pointer
		rec := c.firstFree
		for rec != nil {
			if headerAt(rec).alignedSize() >= uint64(aligned) {
				bestChunk, bestPrev, best = c, prev, rec
				break
			}
			prev = rec
			rec = freeRecordNext(rec)
		}
		if best != nil {
			break
		}
	}

	if best == nil {
		c, err := p.reserveChunk(aligned)
		if err != nil {
			return nil, err
		}
		bestChunk, bestPrev, best = c, nil, c.firstFree
	}

	sizeAvail := headerAt(best).alignedSize()
	var resultSize uint64
	if sizeAvail-uint64(aligned) < cpMinRecordBytes {
		// Remainder would be unusably small: give the whole record to
		// the caller, per spec.md §4.2's split policy.
		if bestPrev == nil {
			bestChunk.firstFree = freeRecordNext(best)
		} else {
			setFreeRecordNext(bestPrev, freeRecordNext(best))
		}
		resultSize = sizeAvail
	} else {
		resultSize = uint64(aligned)
		// sizeAvail bytes of payload are being carved into resultSize
		// bytes for the caller plus a new trailing record, which needs
		// its own headerSize-byte header: the trailing record's payload
		// is therefore sizeAvail - resultSize - headerSize, not
		// sizeAvail - resultSize. See DESIGN.md's Open Question decision.
		trailing := unsafe.Add(best, headerSize+int(resultSize))
		trailingSize := sizeAvail - resultSize - uint64(headerSize)
		putHeaderAt(trailing, makeHeader(trailingSize, false))
		setFreeRecordNext(trailing, freeRecordNext(best))
		if bestPrev == nil {
			bestChunk.firstFree = trailing
		} else {
			setFreeRecordNext(bestPrev, trailing)
		}
	}

	putHeaderAt(best, makeHeader(resultSize, true))
	return userPtr(best), nil
}

// Free releases ptr. Ownership is decided by chunk membership, not by
// the header's size field: a pointer inside one of this pool's chunks is
// a chunk record, and any other pointer with a valid header is treated
// as an isolated oversize allocation.
func (p *CoalescingPool) Free(ptr unsafe.Pointer) error {
	if debugBuild && p.state != stateInitialized {
		return fmt.Errorf("%w: CoalescingPool not initialized", ErrInvalidState)
	}
	hdr := headerOf(ptr)
	h := headerAt(hdr)
	if !h.valid() {
		return ErrCorruptHeader
	}

	chunk := p.findChunk(uintptr(hdr))
	if chunk == nil {
		// Not inside any chunk this pool owns: must be an isolated
		// oversize allocation. Oversize records never carry the busy
		// bit, so one turning up here is either corrupt or a double
		// free.
		if h.busy() {
			return ErrCorruptHeader
		}
		raw := h.rawSize()
		mem := unsafe.Slice((*byte)(hdr), headerSize+int(raw))
		if err := osmem.Unmap(mem); err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
		return nil
	}

	if !h.busy() {
		return ErrCorruptHeader
	}
	size := h.alignedSize()

	putHeaderAt(hdr, makeHeader(size, false))
	p.insertFree(chunk, hdr, size)
	return nil
}

// insertFree inserts rec (size bytes of payload) into chunk's
// address-ordered free list, coalescing forward then backward with
// physically adjacent neighbours, per spec.md §4.2's coalescing
// algorithm and original_source's CoaleseAllocator::free (which merges
// in the same order).
func (p *CoalescingPool) insertFree(chunk *cpChunk, rec unsafe.Pointer, size uint64) {
	head := chunk.firstFree
	if head == nil {
		chunk.firstFree = rec
		setFreeRecordNext(rec, nil)
		return
	}

	if uintptr(rec) < uintptr(head) {
		if recordEnd(rec, size) == head {
			merged := size + uint64(headerSize) + headerAt(head).alignedSize()
			putHeaderAt(rec, makeHeader(merged, false))
			setFreeRecordNext(rec, freeRecordNext(head))
		} else {
			setFreeRecordNext(rec, head)
		}
		chunk.firstFree = rec
		return
	}

	prev := head
	next := freeRecordNext(prev)
	for next != nil && uintptr(next) < uintptr(rec) {
		prev = next
		next = freeRecordNext(next)
	}

	curSize := size
	curNext := next
	if next != nil && recordEnd(rec, curSize) == next {
		curSize += uint64(headerSize) + headerAt(next).alignedSize()
		curNext = freeRecordNext(next)
	}
	putHeaderAt(rec, makeHeader(curSize, false))

	prevSize := headerAt(prev).alignedSize()
	if recordEnd(prev, prevSize) == rec {
		mergedSize := prevSize + uint64(headerSize) + curSize
		putHeaderAt(prev, makeHeader(mergedSize, false))
		setFreeRecordNext(prev, curNext)
	} else {
		setFreeRecordNext(rec, curNext)
		setFreeRecordNext(prev, rec)
	}
}

// reserveChunk obtains a new chunk able to hold at least one record of
// minPayload bytes and installs a single whole-chunk free record,
// mirroring CoaleseAllocator::reserveBlock.
func (p *CoalescingPool) reserveChunk(minPayload int) (*cpChunk, error) {
	size := cpDefaultChunkSize
	needed := cpDescriptorSize + headerSize + align8(minPayload)
	if needed > size {
		size = needed
	}

	mem, err := osmem.Map(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	payload := size - cpDescriptorSize - headerSize
	rec := unsafe.Pointer(&mem[cpDescriptorSize])
	putHeaderAt(rec, makeHeader(uint64(payload), false))
	setFreeRecordNext(rec, nil)

	c := &cpChunk{mem: mem, size: size, firstFree: rec, next: p.chunksHead}
	p.chunksHead = c

	start := uintptr(unsafe.Pointer(&mem[0]))
	p.ranges = append(p.ranges, cpChunkRange{start: start, end: start + uintptr(size), chunk: c})
	sort.Slice(p.ranges, func(i, j int) bool { return p.ranges[i].start < p.ranges[j].start })

	return c, nil
}

// findChunk returns the chunk whose OS allocation contains addr, or nil.
func (p *CoalescingPool) findChunk(addr uintptr) *cpChunk {
	i := sort.Search(len(p.ranges), func(i int) bool { return p.ranges[i].end > addr })
	if i < len(p.ranges) && p.ranges[i].start <= addr {
		return p.ranges[i].chunk
	}
	return nil
}

// freeRecordNext reads the singly-linked free-list pointer stored
// immediately after the header of a free record.
func freeRecordNext(rec unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(*(*uint64)(unsafe.Add(rec, headerSize)))) //nolint:govet // intentional
}

// setFreeRecordNext stores next immediately after rec's header.
func setFreeRecordNext(rec, next unsafe.Pointer) {
	*(*uint64)(unsafe.Add(rec, headerSize)) = uint64(uintptr(next))
}

// recordEnd returns the address immediately following a record of size
// payload bytes starting at rec (i.e. where the next record, if any,
// begins).
func recordEnd(rec unsafe.Pointer, size uint64) unsafe.Pointer {
	return unsafe.Add(rec, headerSize+int(size))
}
