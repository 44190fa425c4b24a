package alloc

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/colega/useralloc/internal/osmem"
)

// ptrSize is the OS pointer size this process runs with, used to derive
// the chunk-descriptor overhead the way original_source/memallocator.cpp
// derives CHUNK_SIZE from sizeof(void*).
const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// smallDescriptorSize is the size reserved at the head of every
// SmallPool chunk for its descriptor {chunk_base, next_chunk}, per
// spec.md §3's SBP entities. SmallPool keeps the descriptor itself as a
// Go struct (smallChunk below) rather than encoded in the raw bytes —
// see smallChunk's doc comment — but still reserves this many leading
// bytes so the remainder-to-cells-per-chunk accounting matches the
// spec's "4096 − 4·sizeof(pointer)" chunk size exactly.
const smallDescriptorSize = 2 * ptrSize

// smallChunkSize is the fixed OS allocation size for a SmallPool chunk:
// 4096 − 4·sizeof(pointer), per spec.md §3.
const smallChunkSize = 4096 - 4*ptrSize

// smallChunk is the bookkeeping record for one SmallPool chunk. Unlike
// original_source's BlockList, which embeds {chunk, next} inside the
// chunk's own first bytes, smallChunk lives as an ordinary Go value:
// the chunk's backing []byte must be kept alive somewhere for GC/osmem
// purposes regardless, so threading the descriptor through a Go struct
// (grounded in hive/alloc/fastalloc.go's bins/hbinTracking side tables)
// avoids unsafe self-referential pointer writes into memory obtained
// from osmem.Map, while leaving the on-wire cell layout spec-identical.
type smallChunk struct {
	mem  []byte // smallChunkSize bytes from osmem.Map
	next *smallChunk
}

// smallBucket is the per-size-class state described in spec.md §3:
// a free-cell list head plus the list of chunks backing this class.
type smallBucket struct {
	freeHead   unsafe.Pointer // head of the free-cell singly-linked list, or nil
	chunksHead *smallChunk
	cellsLive  int32 // cells currently handed to a caller; Stats/DumpStat recount from headers instead
}

// SmallPool is the fixed-size segregated free-list allocator described
// in spec.md §4.1. It serves requests of smallMinBytes..=smallMaxBytes
// bytes from six size classes, each backed by chunks of equal-size
// cells threaded onto a free list at chunk-creation time.
//
// Grounded in original_source/memallocator.cpp's FSAllocator and in
// hive/alloc/bump.go's chunk-threading loop (hive/alloc's FastAllocator
// instead uses per-class min-heaps, which SmallPool does not need: its
// classes are few, fixed, and exact-fit by construction).
type SmallPool struct {
	buckets [numSmallClasses]smallBucket
	state   lifecycleState
}

// Init prepares the pool for use. Calling Init on an already-initialized
// pool is a programmer error: debug builds return ErrInvalidState,
// release builds do not check (spec.md §4.3's per-pool state machine is
// debug-only).
func (p *SmallPool) Init() error {
	if debugBuild && p.state != stateNotInitialized {
		return fmt.Errorf("%w: SmallPool already initialized", ErrInvalidState)
	}
	p.state = stateInitialized
	return nil
}

// Destroy releases every chunk this pool reserved back to the OS. In
// debug builds, it first scans each chunk's cells and logs any still
// carrying a valid header as a leak, mirroring
// FSAllocator::destroy's #ifndef NDEBUG leak scan.
func (p *SmallPool) Destroy() error {
	if debugBuild && p.state != stateInitialized {
		return fmt.Errorf("%w: SmallPool not initialized", ErrInvalidState)
	}
	for i := range p.buckets {
		b := &p.buckets[i]
		if debugBuild {
			p.scanLeaks(i, b)
		}
		for c := b.chunksHead; c != nil; {
			next := c.next
			if err := osmem.Unmap(c.mem); err != nil {
				return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
			}
			c = next
		}
		b.chunksHead = nil
		b.freeHead = nil
		b.cellsLive = 0
	}
	p.state = stateDestroyed
	return nil
}

// scanLeaks walks every cell of every chunk in bucket b and logs the
// ones that still carry a valid header (i.e. were never freed).
func (p *SmallPool) scanLeaks(class int, b *smallBucket) {
	stride := smallCellStride(class)
	for c := b.chunksHead; c != nil; c = c.next {
		base := unsafe.Pointer(&c.mem[smallDescriptorSize])
		count := smallCellsPerChunk(class)
		for i := 0; i < count; i++ {
			cell := unsafe.Add(base, i*stride)
			h := headerAt(cell)
			if h.valid() {
				logger().Warn("small pool leak",
					slog.Int("class_bytes", int(smallSizeClasses[class])),
					slog.Uint64("requested_size", h.rawSize()),
					slog.Any("address", uintptr(userPtr(cell))),
				)
			}
		}
	}
}

// Alloc allocates a cell from the size class that fits n bytes.
// Precondition: 0 < n <= smallMaxBytes.
func (p *SmallPool) Alloc(n int) (unsafe.Pointer, error) {
	if debugBuild && p.state != stateInitialized {
		return nil, fmt.Errorf("%w: SmallPool not initialized", ErrInvalidState)
	}
	if n <= 0 || n > smallMaxBytes {
		return nil, fmt.Errorf("%w: SmallPool.Alloc(%d)", ErrBadRequest, n)
	}

	class := classOf(n)
	b := &p.buckets[class]
	if b.freeHead == nil {
		if err := p.growBucket(class, b); err != nil {
			return nil, err
		}
	}

	cell := b.freeHead
	b.freeHead = freeListNext(cell)
	b.cellsLive++

	putHeaderAt(cell, makeHeader(uint64(n), false))
	return userPtr(cell), nil
}

// Free returns the cell at ptr to its size class's free list. The cell
// retains no payload state: the header is cleared to zero before the
// cell is relinked, per spec.md §9's note that clearing is essential
// for the leak scan to work.
func (p *SmallPool) Free(ptr unsafe.Pointer) error {
	if debugBuild && p.state != stateInitialized {
		return fmt.Errorf("%w: SmallPool not initialized", ErrInvalidState)
	}
	cell := headerOf(ptr)
	h := headerAt(cell)
	if !h.valid() {
		return ErrCorruptHeader
	}

	n := int(h.rawSize())
	putHeaderAt(cell, 0)

	class := classOf(n)
	b := &p.buckets[class]
	setFreeListNext(cell, b.freeHead)
	b.freeHead = cell
	b.cellsLive--
	return nil
}

// growBucket reserves a new chunk for class, threads every cell in it
// onto the bucket's free list, and links the chunk into chunksHead.
// Done once per chunk in a tight loop; no per-allocation search.
func (p *SmallPool) growBucket(class int, b *smallBucket) error {
	mem, err := osmem.Map(smallChunkSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	c := &smallChunk{mem: mem, next: b.chunksHead}
	b.chunksHead = c

	stride := smallCellStride(class)
	count := smallCellsPerChunk(class)
	base := unsafe.Pointer(&mem[smallDescriptorSize])

	var head unsafe.Pointer
	for i := count - 1; i >= 0; i-- {
		cell := unsafe.Add(base, i*stride)
		setFreeListNext(cell, head)
		head = cell
	}
	b.freeHead = head
	return nil
}

// smallCellStride returns the total size, including header, of a cell
// in the given size class.
func smallCellStride(class int) int {
	return int(smallSizeClasses[class]) + headerSize
}

// smallCellsPerChunk returns how many cells of the given size class fit
// in one chunk after the descriptor is carved off.
func smallCellsPerChunk(class int) int {
	return (smallChunkSize - smallDescriptorSize) / smallCellStride(class)
}

// freeListNext reads the singly-linked free-list pointer stored in a
// free cell's first headerSize bytes.
func freeListNext(cell unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(*(*uint64)(cell))) //nolint:govet // intentional pointer-from-uintptr reconstruction
}

// setFreeListNext stores next in a free cell's first headerSize bytes.
func setFreeListNext(cell, next unsafe.Pointer) {
	*(*uint64)(cell) = uint64(uintptr(next))
}
