package alloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newAllocator(t *testing.T) *Allocator {
	a := &Allocator{}
	require.NoError(t, a.Init())
	t.Cleanup(func() { require.NoError(t, a.Destroy()) })
	return a
}

func TestAllocatorAllocZeroReturnsNil(t *testing.T) {
	a := newAllocator(t)
	ptr, err := a.Alloc(0)
	require.NoError(t, err)
	require.Nil(t, ptr)
}

func TestAllocatorFreeNilIsNoop(t *testing.T) {
	a := newAllocator(t)
	require.NoError(t, a.Free(nil))
}

func TestAllocatorRoutesSmallRequest(t *testing.T) {
	a := newAllocator(t)
	ptr, err := a.Alloc(64)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.NoError(t, a.Free(ptr))
}

func TestAllocatorRoutesLargeRequest(t *testing.T) {
	a := newAllocator(t)
	ptr, err := a.Alloc(4096)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.NoError(t, a.Free(ptr))
}

func TestAllocatorRoutesOversizeRequest(t *testing.T) {
	a := newAllocator(t)
	ptr, err := a.Alloc(cpMaxBytes + 4096)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.NoError(t, a.Free(ptr))
}

func TestAllocatorBoundaryBetweenPools(t *testing.T) {
	a := newAllocator(t)

	small, err := a.Alloc(smallMaxBytes)
	require.NoError(t, err)
	large, err := a.Alloc(smallMaxBytes + 1)
	require.NoError(t, err)

	require.NoError(t, a.Free(small))
	require.NoError(t, a.Free(large))
}

// TestAllocatorMixedWorkload is the "parity" scenario from spec.md §8:
// many randomly sized allocations across both pools, freed in a
// shuffled order, must all round-trip without error or corruption.
func TestAllocatorMixedWorkload(t *testing.T) {
	a := newAllocator(t)

	const n = 10000
	sizes := make([]int, n)
	seed := uint32(0x2545F491)
	nextRand := func() uint32 {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		return seed
	}
	for i := range sizes {
		sizes[i] = 1 + int(nextRand()%(2*1024*1024))
	}

	ptrs := make([]unsafe.Pointer, n)
	for i, sz := range sizes {
		ptr, err := a.Alloc(sz)
		require.NoError(t, err)
		require.NotNil(t, ptr)
		b := unsafe.Slice((*byte)(ptr), sz)
		b[0] = byte(i)
		b[sz-1] = byte(i >> 8)
		ptrs[i] = ptr
	}

	for i := n - 1; i >= 0; i-- {
		j := int(nextRand()) % n
		ptrs[i], ptrs[j] = ptrs[j], ptrs[i]
	}

	for _, ptr := range ptrs {
		require.NoError(t, a.Free(ptr))
	}
}

func TestAllocatorFreeRejectsCorruptHeader(t *testing.T) {
	a := newAllocator(t)
	buf := make([]byte, 32)
	require.ErrorIs(t, a.Free(unsafe.Pointer(&buf[headerSize])), ErrCorruptHeader)
}
