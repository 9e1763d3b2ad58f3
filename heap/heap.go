// Package heap implements segmalloc's per-arena heap manager: one
// contiguous virtual-memory region with inline boundary-tag metadata,
// coalescing, splitting, segregated-free-list lookup, and on-demand
// extension.
//
// A Heap is not safe for concurrent use. Callers serialize access (in
// segmalloc, the owning arena's mutex).
package heap

import (
	"github.com/segmalloc/segmalloc/internal/blockhdr"
	"github.com/segmalloc/segmalloc/internal/seglist"
)

// MinBlockSize is the smallest legal block on a Heap.
const MinBlockSize = blockhdr.MinBlockSize

// Heap manages one arena's contiguous address range: [base, base+capacity).
type Heap struct {
	base      uintptr
	capacity  uintptr
	heapStart uintptr
	heapEnd   uintptr
	chunk     uintptr
	lists     seglist.Table
}

// New initializes a Heap over [base, base+capacity), writing the prologue
// sentinel and an initial (empty) epilogue. It does not carve any usable
// free space; call Extend (or Seed) to make the first block available.
func New(base, capacity, chunk uintptr) *Heap {
	h := &Heap{base: base, capacity: capacity, chunk: chunk}

	// Prologue: zero-size, allocated, prev-allocated (terminates backward
	// traversal unconditionally).
	blockhdr.WriteWord(base, blockhdr.Pack(0, true, true))
	h.heapStart = base + blockhdr.WordSize

	// Epilogue, initially right after the prologue: zero-size, allocated,
	// prev-alloc mirrors the prologue (allocated).
	blockhdr.WriteWord(h.heapStart, blockhdr.Pack(0, true, true))
	h.heapEnd = h.heapStart + blockhdr.WordSize

	return h
}

// Seed performs the first heap extension, equivalent to the arena
// registry's `extend(arena, CHUNK, true)` initialization step.
func (h *Heap) Seed() bool {
	_, ok := h.Extend(h.chunk, true)
	return ok
}

// Base, HeapStart, HeapEnd, Capacity expose the heap's bounds for the
// arena registry's address-ownership lookup and for the invariant checker.
func (h *Heap) Base() uintptr      { return h.base }
func (h *Heap) Capacity() uintptr  { return h.capacity }
func (h *Heap) HeapStart() uintptr { return h.heapStart }
func (h *Heap) HeapEnd() uintptr   { return h.heapEnd }

// Owns reports whether ptr falls within this heap's usable range, using
// the half-open interval [heap_start, heap_end) recommended by spec.md's
// open question about the boundary pointer.
func (h *Heap) Owns(ptr uintptr) bool {
	return ptr >= h.heapStart && ptr < h.heapEnd
}

// Extend grows the heap by at least bytes (rounded up to a multiple of 16),
// turning the current epilogue into the header of a new free block and
// writing a fresh epilogue past it. prevAlloc is the allocation status of
// the block that will immediately precede the new block. The new block is
// coalesced with its predecessor if free, inserted into its free list, and
// returned. Extend fails if growing would exceed the arena's capacity.
func (h *Heap) Extend(bytes uintptr, prevAlloc bool) (uintptr, bool) {
	bytes = blockhdr.Align16(bytes)
	if bytes == 0 {
		return 0, false
	}

	oldEnd := h.heapEnd
	newEnd := oldEnd + bytes
	if newEnd > h.base+h.capacity {
		return 0, false
	}

	newHeader := oldEnd - blockhdr.WordSize
	h.heapEnd = newEnd

	w := blockhdr.Pack(bytes, false, prevAlloc)
	blockhdr.WriteWord(newHeader, w)
	blockhdr.WriteWord(blockhdr.FooterAddr(newHeader, bytes), w)

	newEpilogue := h.heapEnd - blockhdr.WordSize
	blockhdr.WriteWord(newEpilogue, blockhdr.Pack(0, true, false))

	merged := h.coalesce(newHeader)
	mergedSize := blockhdr.ExtractSize(blockhdr.ReadWord(merged))
	h.lists.Add(merged, mergedSize)
	return merged, true
}

// Alloc reserves a block able to hold size payload bytes and returns the
// address of its payload, or (0, false) if size is zero or no capacity is
// available anywhere in this heap.
func (h *Heap) Alloc(size uintptr) (uintptr, bool) {
	if size == 0 {
		return 0, false
	}
	asize := blockhdr.RoundUp(size+blockhdr.WordSize, 16)

	b := h.lists.FindFit(asize)
	if b == 0 {
		epilogue := h.heapEnd - blockhdr.WordSize
		prevAlloc := blockhdr.ExtractPrevAlloc(blockhdr.ReadWord(epilogue))
		growBy := asize
		if h.chunk > growBy {
			growBy = h.chunk
		}
		nb, ok := h.Extend(growBy, prevAlloc)
		if !ok {
			return 0, false
		}
		b = nb
	}

	w := blockhdr.ReadWord(b)
	size0 := blockhdr.ExtractSize(w)
	prevAlloc := blockhdr.ExtractPrevAlloc(w)

	h.lists.Remove(b, size0)
	blockhdr.WriteWord(b, blockhdr.Pack(size0, true, prevAlloc))
	h.split(b, asize)

	// Propagate prev-alloc=true into the block (or epilogue) now
	// immediately following b, whether or not a split occurred.
	curSize := blockhdr.ExtractSize(blockhdr.ReadWord(b))
	next := blockhdr.Next(b, curSize)
	nw := blockhdr.ReadWord(next)
	blockhdr.WriteWord(next, blockhdr.Pack(blockhdr.ExtractSize(nw), blockhdr.ExtractAlloc(nw), true))

	return blockhdr.PayloadAddr(b), true
}

// split carves a free remainder off the end of the block at header if what
// would be left over is at least MinBlockSize; otherwise the full block is
// left allocated (internal slack).
func (h *Heap) split(header, asize uintptr) {
	w := blockhdr.ReadWord(header)
	size := blockhdr.ExtractSize(w)
	prevAlloc := blockhdr.ExtractPrevAlloc(w)

	remainder := size - asize
	if remainder < MinBlockSize {
		return
	}

	blockhdr.WriteWord(header, blockhdr.Pack(asize, true, prevAlloc))

	rHeader := blockhdr.Next(header, asize)
	rw := blockhdr.Pack(remainder, false, true)
	blockhdr.WriteWord(rHeader, rw)
	blockhdr.WriteWord(blockhdr.FooterAddr(rHeader, remainder), rw)
	h.lists.Add(rHeader, remainder)
}

// Free returns the block whose payload starts at payload to the heap,
// coalescing it with free neighbours and relisting the result. Behaviour
// is undefined if payload was not returned by a prior Alloc on this heap
// or has already been freed.
func (h *Heap) Free(payload uintptr) {
	b := blockhdr.HeaderAddr(payload)
	w := blockhdr.ReadWord(b)
	size := blockhdr.ExtractSize(w)
	prevAlloc := blockhdr.ExtractPrevAlloc(w)

	h.writeFreeAndClearNext(b, size, prevAlloc)
	merged := h.coalesce(b)
	mergedSize := blockhdr.ExtractSize(blockhdr.ReadWord(merged))
	h.lists.Add(merged, mergedSize)
}

// writeFreeAndClearNext writes header+footer for a free block of the given
// size and prevAlloc, and clears the prev-alloc bit in the following
// block's header (it preserves that block's own size/alloc bits).
func (h *Heap) writeFreeAndClearNext(header, size uintptr, prevAlloc bool) {
	w := blockhdr.Pack(size, false, prevAlloc)
	blockhdr.WriteWord(header, w)
	blockhdr.WriteWord(blockhdr.FooterAddr(header, size), w)

	next := blockhdr.Next(header, size)
	nw := blockhdr.ReadWord(next)
	blockhdr.WriteWord(next, blockhdr.Pack(blockhdr.ExtractSize(nw), blockhdr.ExtractAlloc(nw), false))
}

// coalesce merges the free block at b with a free predecessor and/or
// successor, if any, and returns the header address of the (possibly
// merged) result. b must already be marked free with an accurate footer,
// and the block following b must already have its prev-alloc bit cleared
// (both are true immediately after writeFreeAndClearNext or within
// Extend).
func (h *Heap) coalesce(b uintptr) uintptr {
	w := blockhdr.ReadWord(b)
	size := blockhdr.ExtractSize(w)
	prevAlloc := blockhdr.ExtractPrevAlloc(w)

	nextHdr := blockhdr.Next(b, size)
	nw := blockhdr.ReadWord(nextHdr)
	nextAlloc := blockhdr.ExtractAlloc(nw)

	switch {
	case prevAlloc && nextAlloc:
		return b

	case prevAlloc && !nextAlloc:
		nextSize := blockhdr.ExtractSize(nw)
		h.lists.Remove(nextHdr, nextSize)
		h.writeFreeAndClearNext(b, size+nextSize, prevAlloc)
		return b

	case !prevAlloc && nextAlloc:
		prevHdr := blockhdr.Prev(b)
		pw := blockhdr.ReadWord(prevHdr)
		prevSize := blockhdr.ExtractSize(pw)
		prevPrevAlloc := blockhdr.ExtractPrevAlloc(pw)
		h.lists.Remove(prevHdr, prevSize)
		h.writeFreeAndClearNext(prevHdr, prevSize+size, prevPrevAlloc)
		return prevHdr

	default: // !prevAlloc && !nextAlloc
		prevHdr := blockhdr.Prev(b)
		pw := blockhdr.ReadWord(prevHdr)
		prevSize := blockhdr.ExtractSize(pw)
		prevPrevAlloc := blockhdr.ExtractPrevAlloc(pw)
		nextSize := blockhdr.ExtractSize(nw)
		h.lists.Remove(prevHdr, prevSize)
		h.lists.Remove(nextHdr, nextSize)
		h.writeFreeAndClearNext(prevHdr, prevSize+size+nextSize, prevPrevAlloc)
		return prevHdr
	}
}

// Available returns the total free bytes currently reachable through this
// heap's segregated free lists.
func (h *Heap) Available() uintptr {
	var total uintptr
	for c := 0; c < seglist.NumClasses; c++ {
		for cur := h.lists.Head(c); cur != 0; cur = blockhdr.ReadNextLink(cur) {
			total += blockhdr.ExtractSize(blockhdr.ReadWord(cur))
		}
	}
	return total
}

// Used returns the number of bytes currently allocated out of this heap's
// usable region.
func (h *Heap) Used() uintptr {
	region := h.heapEnd - h.heapStart
	if region < blockhdr.WordSize {
		return 0
	}
	return region - blockhdr.WordSize - h.Available()
}
