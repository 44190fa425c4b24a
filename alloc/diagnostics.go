package alloc

import (
	"fmt"
	"io"
	"unsafe"
)

// SmallClassStat reports one SmallPool size class's chunk and cell
// counts, the Go-native analogue of original_source's per-bucket
// dumpStat counters.
type SmallClassStat struct {
	ClassBytes int
	Chunks     int
	CellsTotal int
	CellsUsed  int
}

// Stats walks every chunk in every bucket and returns one SmallClassStat
// per size class, mirroring FSAllocator::dumpStat's bucket traversal.
func (p *SmallPool) Stats() [numSmallClasses]SmallClassStat {
	var out [numSmallClasses]SmallClassStat
	for class := range p.buckets {
		b := &p.buckets[class]
		stride := smallCellStride(class)
		perChunk := smallCellsPerChunk(class)
		s := SmallClassStat{ClassBytes: int(smallSizeClasses[class])}
		for c := b.chunksHead; c != nil; c = c.next {
			s.Chunks++
			base := unsafe.Pointer(&c.mem[smallDescriptorSize])
			for i := 0; i < perChunk; i++ {
				s.CellsTotal++
				cell := unsafe.Add(base, i*stride)
				if headerAt(cell).valid() {
					s.CellsUsed++
				}
			}
		}
		out[class] = s
	}
	return out
}

// DumpStat writes a human-readable summary of every size class to w,
// matching FSAllocator::dumpStat's report shape.
func (p *SmallPool) DumpStat(w io.Writer) error {
	if debugBuild && p.state != stateInitialized {
		return fmt.Errorf("%w: SmallPool not initialized", ErrInvalidState)
	}
	fmt.Fprintln(w, "SmallPool:")
	var totalChunks, totalUsed int
	for _, s := range p.Stats() {
		if s.Chunks == 0 {
			continue
		}
		fmt.Fprintf(w, "  class %4d bytes: %d chunk(s), %d/%d cells used\n",
			s.ClassBytes, s.Chunks, s.CellsUsed, s.CellsTotal)
		totalChunks += s.Chunks
		totalUsed += s.CellsUsed
	}
	fmt.Fprintf(w, "  total: %d chunk(s), %d cells used\n", totalChunks, totalUsed)
	return nil
}

// DumpBlocks writes one line per currently-allocated cell, mirroring
// FSAllocator::dumpBlocks's table.
func (p *SmallPool) DumpBlocks(w io.Writer) error {
	if debugBuild && p.state != stateInitialized {
		return fmt.Errorf("%w: SmallPool not initialized", ErrInvalidState)
	}
	fmt.Fprintln(w, "SmallPool allocated cells:")
	fmt.Fprintln(w, "address              class  requested")
	for class := range p.buckets {
		b := &p.buckets[class]
		stride := smallCellStride(class)
		perChunk := smallCellsPerChunk(class)
		for c := b.chunksHead; c != nil; c = c.next {
			base := unsafe.Pointer(&c.mem[smallDescriptorSize])
			for i := 0; i < perChunk; i++ {
				cell := unsafe.Add(base, i*stride)
				h := headerAt(cell)
				if h.valid() {
					fmt.Fprintf(w, "0x%016x  %5d  %9d\n",
						uintptr(userPtr(cell)), smallSizeClasses[class], h.rawSize())
				}
			}
		}
	}
	return nil
}

// ChunkStat reports one CoalescingPool chunk's busy/free record
// counts and byte totals, mirroring CoaleseAllocator::dumpStat's
// per-block accumulators.
type ChunkStat struct {
	Address     uintptr
	TotalBytes  int
	BusyRecords int
	BusyBytes   uint64
	FreeRecords int
	FreeBytes   uint64
}

// Stats walks every chunk's record list and returns one ChunkStat per
// chunk.
func (p *CoalescingPool) Stats() []ChunkStat {
	var out []ChunkStat
	for c := p.chunksHead; c != nil; c = c.next {
		s := ChunkStat{Address: uintptr(unsafe.Pointer(&c.mem[0])), TotalBytes: c.size}
		base := unsafe.Pointer(&c.mem[cpDescriptorSize])
		end := uintptr(base) + uintptr(c.size-cpDescriptorSize)
		rec := base
		for uintptr(rec) < end {
			h := headerAt(rec)
			sz := h.alignedSize()
			if h.busy() {
				s.BusyRecords++
				s.BusyBytes += sz
			} else {
				s.FreeRecords++
				s.FreeBytes += sz
			}
			rec = unsafe.Add(rec, headerSize+int(sz))
		}
		out = append(out, s)
	}
	return out
}

// DumpStat writes a human-readable summary of every chunk to w,
// matching CoaleseAllocator::dumpStat's report shape.
func (p *CoalescingPool) DumpStat(w io.Writer) error {
	if debugBuild && p.state != stateInitialized {
		return fmt.Errorf("%w: CoalescingPool not initialized", ErrInvalidState)
	}
	fmt.Fprintln(w, "CoalescingPool:")
	var totalBusyBytes uint64
	var totalBytes int
	for _, s := range p.Stats() {
		fmt.Fprintf(w, "  chunk 0x%016x: busy %d parts (%d bytes), free %d parts (%d bytes)\n",
			s.Address, s.BusyRecords, s.BusyBytes, s.FreeRecords, s.FreeBytes)
		totalBusyBytes += s.BusyBytes
		totalBytes += s.TotalBytes
	}
	fmt.Fprintf(w, "  total: %d bytes allocated of %d bytes reserved\n", totalBusyBytes, totalBytes)
	return nil
}

// DumpBlocks writes one line per currently-busy record, mirroring
// CoaleseAllocator::dumpBlocks's table.
func (p *CoalescingPool) DumpBlocks(w io.Writer) error {
	if debugBuild && p.state != stateInitialized {
		return fmt.Errorf("%w: CoalescingPool not initialized", ErrInvalidState)
	}
	fmt.Fprintln(w, "CoalescingPool allocated records:")
	fmt.Fprintln(w, "address              size")
	for c := p.chunksHead; c != nil; c = c.next {
		base := unsafe.Pointer(&c.mem[cpDescriptorSize])
		end := uintptr(base) + uintptr(c.size-cpDescriptorSize)
		rec := base
		for uintptr(rec) < end {
			h := headerAt(rec)
			sz := h.alignedSize()
			if h.busy() {
				fmt.Fprintf(w, "0x%016x  %9d\n", uintptr(userPtr(rec)), sz)
			}
			rec = unsafe.Add(rec, headerSize+int(sz))
		}
	}
	return nil
}

// DumpStat writes both pools' summaries to w, matching
// MemoryAllocator::dumpStat's sequencing.
func (a *Allocator) DumpStat(w io.Writer) error {
	if err := a.small.DumpStat(w); err != nil {
		return err
	}
	return a.large.DumpStat(w)
}

// DumpBlocks writes both pools' allocated-block tables to w, matching
// MemoryAllocator::dumpBlocks's sequencing.
func (a *Allocator) DumpBlocks(w io.Writer) error {
	if err := a.small.DumpBlocks(w); err != nil {
		return err
	}
	return a.large.DumpBlocks(w)
}
