// Package malloc exposes segmalloc's public façade: four interchangeable
// Allocator implementations sharing one API, so a caller (or the
// cmd/segstress driver) can swap the strategy backing Alloc/Free without
// touching call sites.
package malloc

import "unsafe"

// Allocator is the common surface every segmalloc variant implements.
// Alloc returns nil on failure (out of address space or out of OS memory);
// it never panics for a reasonable request. Free's behaviour is undefined
// if ptr was not returned by this same Allocator's Alloc, or has already
// been freed — segmalloc does not detect double frees outside of
// checker.Assert.
type Allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	Free(ptr unsafe.Pointer)
}

// Config carries the sizing knobs shared by the arena-backed variants.
// The zero value is not ready to use; call DefaultConfig and override
// individual fields.
type Config struct {
	// ArenaMax is the virtual address span reserved per arena.
	ArenaMax uintptr
	// Chunk is the unit by which an arena's heap grows on demand.
	Chunk uintptr
	// Arenas is the number of independent arenas in the registry.
	Arenas int
	// CacheEntries bounds how many free blocks one goroutine's thread
	// cache holds at once. Ignored by variants without a thread cache.
	CacheEntries int
	// CacheMaxBytes bounds the total block bytes (header included) one
	// goroutine's thread cache holds at once. Ignored by variants without a thread cache.
	CacheMaxBytes uintptr
	// EvictProb is the probability, in [0,1], that a full thread cache
	// evicts its front slot rather than bypassing the cache on an add.
	// Ignored by variants without a thread cache.
	EvictProb float64
}

// DefaultConfig returns the configuration spec.md's compile-time constants
// describe, sized for real workloads. Tests override ArenaMax/Arenas/Chunk
// downward so they don't need to map hundreds of megabytes per case.
func DefaultConfig() Config {
	return Config{
		ArenaMax:      128 << 20,
		Chunk:         4 << 10,
		Arenas:        10,
		CacheEntries:  8,
		CacheMaxBytes: 1 << 20,
		EvictProb:     0.1,
	}
}

// sizer is implemented by every variant in this package, exposing the
// actual payload capacity behind a live pointer. Realloc uses it to bound
// how many bytes it copies forward; without it, copying size bytes from
// ptr on a grow would read past the original allocation.
type sizer interface {
	BlockSize(ptr unsafe.Pointer) uintptr
}

// Realloc resizes the allocation at ptr to size bytes, preserving the
// min(old, new) leading bytes of its contents. ptr may be nil, in which
// case Realloc behaves like a.Alloc(size). It always allocates fresh and
// copies forward rather than growing in place; callers needing a true
// shrink/grow-in-place optimization should not use this convenience
// wrapper.
func Realloc(a Allocator, ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return a.Alloc(size)
	}
	fresh := a.Alloc(size)
	if fresh == nil {
		return nil
	}
	n := size
	if s, ok := a.(sizer); ok {
		if old := s.BlockSize(ptr); old < n {
			n = old
		}
	}
	src := unsafe.Slice((*byte)(ptr), n)
	dst := unsafe.Slice((*byte)(fresh), n)
	copy(dst, src)
	a.Free(ptr)
	return fresh
}

// Calloc allocates space for n elements of size bytes each, zeroed.
func Calloc(a Allocator, n, size uintptr) unsafe.Pointer {
	total := n * size
	p := a.Alloc(total)
	if p == nil {
		return nil
	}
	buf := unsafe.Slice((*byte)(p), total)
	for i := range buf {
		buf[i] = 0
	}
	return p
}
