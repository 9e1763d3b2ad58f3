package malloc

import (
	"sync"
	"unsafe"
)

// passthroughAllocator is variant 4: delegates every request straight to
// the Go host allocator. It exists purely as an A/B baseline for
// cmd/segstress — unlike the other three variants it does not implement
// segmalloc's own heap at all, and (unlike them) its memory is zeroed by
// the runtime, a real behavioural difference the benchmark can surface.
//
// Unlike the heap-backed variants, a host-allocated []byte carries no
// block header to recover its size from later, so BlockSize needs its own
// side table. Free is a no-op, so entries are never removed; that matches
// this variant's whole premise of leaving reclamation to the GC, at the
// cost of the side table outliving any individual allocation.
type passthroughAllocator struct {
	sizes sync.Map // unsafe.Pointer -> uintptr
}

// NewPassthrough builds the host-allocator baseline variant.
func NewPassthrough() Allocator {
	return &passthroughAllocator{}
}

func (p *passthroughAllocator) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	ptr := unsafe.Pointer(&buf[0])
	p.sizes.Store(ptr, size)
	return ptr
}

// Free is a no-op: the Go garbage collector reclaims host-allocated
// memory once it becomes unreachable. Passing ptr to any other
// Allocator's Free, or using it after this call drops the last
// reference, is undefined, same as every other variant.
func (p *passthroughAllocator) Free(ptr unsafe.Pointer) {}

// BlockSize returns the size originally requested for ptr, for Realloc.
func (p *passthroughAllocator) BlockSize(ptr unsafe.Pointer) uintptr {
	v, ok := p.sizes.Load(ptr)
	if !ok {
		return 0
	}
	return v.(uintptr)
}
