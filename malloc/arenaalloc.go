package malloc

import (
	"unsafe"

	"github.com/segmalloc/segmalloc/arena"
	"github.com/segmalloc/segmalloc/internal/blockhdr"
)

// arenaAllocator is variant 2: a fixed pool of independently-locked
// arenas, dispatched by atomic round-robin, with frees routed back to
// their owning arena via address-range lookup.
type arenaAllocator struct {
	registry *arena.Registry
}

func arenaConfigFrom(cfg Config) arena.Config {
	return arena.Config{
		Count:    cfg.Arenas,
		Capacity: cfg.ArenaMax,
		Chunk:    cfg.Chunk,
	}
}

// NewArena builds the multi-arena variant with no thread cache: every
// Alloc round-robins to an arena and locks it; every Free looks up the
// owning arena by address range before locking it.
func NewArena(cfg Config) (Allocator, error) {
	reg, err := arena.NewRegistry(arenaConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	return &arenaAllocator{registry: reg}, nil
}

func (a *arenaAllocator) Alloc(size uintptr) unsafe.Pointer {
	ar := a.registry.Acquire()
	p, ok := ar.Alloc(size)
	if !ok {
		return nil
	}
	return unsafe.Pointer(p)
}

func (a *arenaAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	owner := a.registry.Lookup(uintptr(ptr))
	if owner == nil {
		return
	}
	owner.Free(uintptr(ptr))
}

// Close releases every arena's backing mapping.
func (a *arenaAllocator) Close() error {
	return a.registry.Close()
}

// BlockSize returns the payload capacity of the block at ptr, for Realloc.
// The block's size word is immutable while allocated, so no arena lock is
// needed to read it.
func (a *arenaAllocator) BlockSize(ptr unsafe.Pointer) uintptr {
	return blockhdr.PayloadCapacity(blockhdr.HeaderAddr(uintptr(ptr)))
}
