package alloc

import (
	"context"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newCoalescingPool(t *testing.T) *CoalescingPool {
	p := &CoalescingPool{}
	require.NoError(t, p.Init())
	t.Cleanup(func() { require.NoError(t, p.Destroy()) })
	return p
}

func TestCoalescingPoolAllocWritable(t *testing.T) {
	p := newCoalescingPool(t)

	a, err := p.Alloc(1024)
	require.NoError(t, err)
	b, err := p.Alloc(1024)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	*(*byte)(a) = 0x11
	*(*byte)(b) = 0x22
	require.Equal(t, byte(0x11), *(*byte)(a))
	require.Equal(t, byte(0x22), *(*byte)(b))
}

// TestCoalescingPoolSplitAndFullCoalesce exercises the scenario from
// spec.md §8: three equal-size records carved from one chunk, released
// in an order that first leaves a gap and then closes it, ending with
// the chunk's free list restored to a single record spanning the whole
// chunk again.
func TestCoalescingPoolSplitAndFullCoalesce(t *testing.T) {
	p := newCoalescingPool(t)
	chunk := p.chunksHead
	origBase := unsafe.Pointer(&chunk.mem[cpDescriptorSize])
	origSize := headerAt(origBase).alignedSize()

	a, err := p.Alloc(1024)
	require.NoError(t, err)
	b, err := p.Alloc(1024)
	require.NoError(t, err)
	c, err := p.Alloc(1024)
	require.NoError(t, err)

	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(c))

	// a and c are both free but non-adjacent (b sits between them): two
	// distinct free records should exist in the chunk's free list.
	require.NotNil(t, chunk.firstFree)
	require.NotNil(t, freeRecordNext(chunk.firstFree), "expected two free records while b is still busy")

	require.NoError(t, p.Free(b))

	// Freeing b should close the gap on both sides, leaving exactly one
	// free record spanning the entire original chunk payload again.
	require.Equal(t, origBase, chunk.firstFree)
	require.Nil(t, freeRecordNext(chunk.firstFree))
	require.Equal(t, origSize, headerAt(chunk.firstFree).alignedSize())
}

func TestCoalescingPoolSplitLeavesUsableRemainder(t *testing.T) {
	p := newCoalescingPool(t)
	chunk := p.chunksHead
	origSize := headerAt(unsafe.Pointer(&chunk.mem[cpDescriptorSize])).alignedSize()

	_, err := p.Alloc(1024)
	require.NoError(t, err)

	require.NotNil(t, chunk.firstFree)
	remaining := headerAt(chunk.firstFree).alignedSize()
	require.Equal(t, origSize-uint64(headerSize)-1024, remaining)
}

func TestCoalescingPoolGrowsNewChunkWhenFull(t *testing.T) {
	p := newCoalescingPool(t)

	_, err := p.Alloc(cpDefaultChunkSize)
	require.NoError(t, err)
	require.NotNil(t, p.chunksHead.next, "an oversized request should reserve a second chunk")
}

func TestCoalescingPoolOversizeBypassesChunks(t *testing.T) {
	p := newCoalescingPool(t)

	ptr, err := p.Alloc(cpMaxBytes + 1)
	require.NoError(t, err)
	for _, s := range p.Stats() {
		require.Zero(t, s.BusyRecords, "an oversize allocation must not touch any chunk's free list")
	}

	b := unsafe.Slice((*byte)(ptr), 8)
	b[0] = 0x42
	require.Equal(t, byte(0x42), b[0])

	require.NoError(t, p.Free(ptr))
}

func TestCoalescingPoolRejectsBadRequest(t *testing.T) {
	p := newCoalescingPool(t)
	_, err := p.Alloc(0)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestCoalescingPoolFreeRejectsDoubleFree(t *testing.T) {
	p := newCoalescingPool(t)
	a, err := p.Alloc(600)
	require.NoError(t, err)
	require.NoError(t, p.Free(a))
	require.ErrorIs(t, p.Free(a), ErrCorruptHeader)
}

// recordingHandler captures slog records for assertions without
// depending on a particular text format.
type recordingHandler struct {
	records *[]slog.Record
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}
func (h recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h recordingHandler) WithGroup(_ string) slog.Handler      { return h }

func TestCoalescingPoolDestroyReportsExactlyTwoLeaks(t *testing.T) {
	var records []slog.Record
	SetLogger(slog.New(recordingHandler{records: &records}))
	t.Cleanup(func() { SetLogger(nil) })

	p := &CoalescingPool{}
	require.NoError(t, p.Init())

	_, err := p.Alloc(700)
	require.NoError(t, err)
	_, err = p.Alloc(900)
	require.NoError(t, err)

	require.NoError(t, p.Destroy())
	require.Len(t, records, 2)
	for _, r := range records {
		require.Equal(t, "coalescing pool leak", r.Message)
	}
}
