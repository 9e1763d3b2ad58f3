package malloc

import (
	"sync"
	"unsafe"

	"github.com/segmalloc/segmalloc/heap"
	"github.com/segmalloc/segmalloc/internal/blockhdr"
	"github.com/segmalloc/segmalloc/internal/vmm"
)

// naiveAllocator is variant 1: a single heap guarded by one mutex, no
// arenas and no thread cache. Every goroutine contends on the same lock;
// it exists as the baseline the other variants are measured against.
type naiveAllocator struct {
	mu   sync.Mutex
	mem  []byte
	heap *heap.Heap
}

// NewNaive builds the single-heap, single-lock variant using spec.md's
// default arena size as its one and only region.
func NewNaive() (Allocator, error) {
	cfg := DefaultConfig()
	mem, err := vmm.MapAnonymous(cfg.ArenaMax)
	if err != nil {
		return nil, err
	}
	base := uintptr(unsafe.Pointer(&mem[0]))
	h := heap.New(base, cfg.ArenaMax, cfg.Chunk)
	if !h.Seed() {
		_ = vmm.Unmap(mem)
		return nil, errSeedFailed
	}
	return &naiveAllocator{mem: mem, heap: h}, nil
}

func (n *naiveAllocator) Alloc(size uintptr) unsafe.Pointer {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.heap.Alloc(size)
	if !ok {
		return nil
	}
	return unsafe.Pointer(p)
}

func (n *naiveAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.heap.Free(uintptr(ptr))
}

// Close releases the backing mapping. Not part of the Allocator interface;
// used by tests and cmd/segstress to avoid leaking address space across
// runs.
func (n *naiveAllocator) Close() error {
	return vmm.Unmap(n.mem)
}

// DebugHeap exposes the single heap backing this variant, for
// checker.Walk. Not part of the Allocator interface: only naiveAllocator
// has exactly one heap to walk, so only it implements this.
func (n *naiveAllocator) DebugHeap() *heap.Heap {
	return n.heap
}

// BlockSize returns the payload capacity of the block at ptr, for Realloc.
func (n *naiveAllocator) BlockSize(ptr unsafe.Pointer) uintptr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return blockhdr.PayloadCapacity(blockhdr.HeaderAddr(uintptr(ptr)))
}
