package malloc

import (
	"unsafe"

	"github.com/segmalloc/segmalloc/arena"
	"github.com/segmalloc/segmalloc/internal/blockhdr"
	"github.com/segmalloc/segmalloc/threadcache"
)

// cachedAllocator is variant 3: the arena-backed variant plus a per-
// goroutine thread cache in front of it. A hit avoids the arena lock
// entirely; a miss falls through to the arena registry exactly like
// arenaAllocator, and the freed block is then offered back to the cache
// instead of going straight to heap.Free.
type cachedAllocator struct {
	registry *arena.Registry
	caches   *threadcache.Registry
}

func threadCacheConfigFrom(cfg Config) threadcache.Config {
	return threadcache.Config{
		MaxEntries:       cfg.CacheEntries,
		MaxBytes:         cfg.CacheMaxBytes,
		EvictProbability: cfg.EvictProb,
	}
}

// NewArenaCached builds the multi-arena, thread-cached variant.
func NewArenaCached(cfg Config) (Allocator, error) {
	reg, err := arena.NewRegistry(arenaConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	caches := threadcache.NewRegistry(threadCacheConfigFrom(cfg), reg)
	return &cachedAllocator{registry: reg, caches: caches}, nil
}

func (a *cachedAllocator) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	asize := blockhdr.RoundUp(size+blockhdr.WordSize, 16)

	cache := a.caches.Get()
	if header, ok := cache.Query(asize); ok {
		return unsafe.Pointer(blockhdr.PayloadAddr(header))
	}

	ar := a.registry.Acquire()
	p, ok := ar.Alloc(size)
	if !ok {
		return nil
	}
	return unsafe.Pointer(p)
}

func (a *cachedAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	header := blockhdr.HeaderAddr(uintptr(ptr))
	size := blockhdr.ExtractSize(blockhdr.ReadWord(header))

	cache := a.caches.Get()
	cache.AddOrBypass(header, size)
}

// Close releases every arena's backing mapping.
func (a *cachedAllocator) Close() error {
	return a.registry.Close()
}

// BlockSize returns the payload capacity of the block at ptr, for Realloc.
func (a *cachedAllocator) BlockSize(ptr unsafe.Pointer) uintptr {
	return blockhdr.PayloadCapacity(blockhdr.HeaderAddr(uintptr(ptr)))
}
