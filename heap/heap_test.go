package heap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmalloc/segmalloc/internal/blockhdr"
)

const testChunk = 4096

func newTestHeap(t *testing.T, capacity uintptr) (*Heap, []byte) {
	t.Helper()
	buf := make([]byte, capacity)
	base := uintptr(unsafe.Pointer(&buf[0]))
	h := New(base, capacity, testChunk)
	require.True(t, h.Seed())
	return h, buf
}

func TestAllocFillAndDrain(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	var ptrs []uintptr
	for i := 0; i < 32; i++ {
		p, ok := h.Alloc(48)
		require.True(t, ok)
		ptrs = append(ptrs, p)
	}

	for _, p := range ptrs {
		h.Free(p)
	}

	// After draining every allocation, the whole region should be free and
	// coalesced back down to a small number of blocks (ideally one).
	assert.Equal(t, h.heapEnd-h.heapStart-blockhdr.WordSize, h.Available())
}

func TestSplitAndCoalesceRoundTrip(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	availBefore := h.Available()

	p1, ok := h.Alloc(200)
	require.True(t, ok)
	p2, ok := h.Alloc(200)
	require.True(t, ok)
	p3, ok := h.Alloc(200)
	require.True(t, ok)

	h.Free(p1)
	h.Free(p3)
	h.Free(p2)

	// Freeing all three in an order that exercises three of the four
	// coalescing cases (both neighbours allocated, next free, both free)
	// must recover all
	// bytes spent on their headers and footers, i.e. end up no worse off
	// than before any of the three were carved out of the same remainder.
	assert.GreaterOrEqual(t, h.Available(), availBefore)
}

func TestBestFitPrefersSmallerOverheadBlock(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	// Carve out a landscape of same-class free blocks by allocating then
	// freeing a run of blocks of different sizes, leaving gaps.
	a, _ := h.Alloc(112 - blockhdr.WordSize)
	b, _ := h.Alloc(16)
	c, _ := h.Alloc(96 - blockhdr.WordSize)
	d, _ := h.Alloc(16)
	e, _ := h.Alloc(80 - blockhdr.WordSize)
	f, _ := h.Alloc(16)

	h.Free(a)
	h.Free(c)
	h.Free(e)

	// Request something that fits in the 80-rounded block with zero slack
	// but would also fit (wastefully) in the 112 or 96 blocks.
	p, ok := h.Alloc(80 - blockhdr.WordSize)
	require.True(t, ok)

	got := blockhdr.HeaderAddr(p)
	assert.Equal(t, blockhdr.HeaderAddr(e), got)

	h.Free(b)
	h.Free(d)
	h.Free(f)
	h.Free(p)
}

func TestExtendGrowsHeapOnExhaustion(t *testing.T) {
	h, _ := newTestHeap(t, 1<<20)

	startEnd := h.heapEnd
	_, ok := h.Alloc(testChunk * 2)
	require.True(t, ok)
	assert.Greater(t, h.heapEnd, startEnd)
}

func TestAllocFailsPastCapacity(t *testing.T) {
	h, _ := newTestHeap(t, 2*testChunk)

	// The seeded chunk is already fully free; ask for something larger
	// than the entire arena can ever hold.
	_, ok := h.Alloc(testChunk * 10)
	assert.False(t, ok)
}

func TestFreeClearsAllocBitAndRestoresToFreeList(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	p, ok := h.Alloc(64)
	require.True(t, ok)
	header := blockhdr.HeaderAddr(p)
	require.True(t, blockhdr.ExtractAlloc(blockhdr.ReadWord(header)))

	h.Free(p)
	assert.False(t, blockhdr.ExtractAlloc(blockhdr.ReadWord(header)))
}

func TestOwnsRespectsHalfOpenRange(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	assert.True(t, h.Owns(h.heapStart))
	assert.False(t, h.Owns(h.heapEnd))
	assert.False(t, h.Owns(h.base))
}

func TestUsedAndAvailableAreComplementary(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	region := h.heapEnd - h.heapStart - blockhdr.WordSize
	assert.Equal(t, region, h.Used()+h.Available())

	p, ok := h.Alloc(128)
	require.True(t, ok)
	assert.Equal(t, region, h.Used()+h.Available())

	h.Free(p)
	assert.Equal(t, region, h.Used()+h.Available())
}

func TestZeroSizeAllocRejected(t *testing.T) {
	h, _ := newTestHeap(t, 8192)
	_, ok := h.Alloc(0)
	assert.False(t, ok)
}
