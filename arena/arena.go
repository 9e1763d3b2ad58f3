// Package arena implements segmalloc's multi-arena dispatcher: a fixed
// pool of independently-locked heaps, each backed by its own OS mapping,
// with atomic round-robin acquisition and address-range ownership lookup
// for cross-"thread" frees.
package arena

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/segmalloc/segmalloc/heap"
	"github.com/segmalloc/segmalloc/internal/vmm"
)

// uintptrOf returns the address of mem's first byte. mem must be non-empty
// and must not move afterward; vmm-backed mappings never do, since they
// live outside the Go heap.
func uintptrOf(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}

// Config controls how a Registry's arenas are sized.
type Config struct {
	// Count is the number of independent arenas in the registry.
	Count int
	// Capacity is the maximum virtual address span reserved per arena.
	Capacity uintptr
	// Chunk is the unit by which a heap's backing region grows on demand.
	Chunk uintptr
}

// DefaultConfig returns a standalone arena configuration: 8 arenas of
// 64 MiB each, growing by 1 MiB. The malloc façades do not use it; they
// derive their arena configuration from malloc.Config.
func DefaultConfig() Config {
	return Config{
		Count:    8,
		Capacity: 64 << 20, // 64 MiB per arena
		Chunk:    1 << 20,  // 1 MiB
	}
}

// Stats accumulates lifetime counters for one arena.
type Stats struct {
	Allocs uint64
	Frees  uint64
}

// Arena owns one independently-mutexed heap over a dedicated mmap region.
type Arena struct {
	mu    sync.Mutex
	mem   []byte
	heap  *heap.Heap
	stats Stats
}

func newArena(cfg Config) (*Arena, error) {
	mem, err := vmm.MapAnonymous(cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("arena: map %d bytes: %w", cfg.Capacity, err)
	}
	base := uintptrOf(mem)
	h := heap.New(base, cfg.Capacity, cfg.Chunk)
	if !h.Seed() {
		_ = vmm.Unmap(mem)
		return nil, fmt.Errorf("arena: seed chunk %d plus sentinel words exceeds capacity %d", cfg.Chunk, cfg.Capacity)
	}
	return &Arena{mem: mem, heap: h}, nil
}

// Alloc reserves size bytes from this arena, locking it for the duration.
func (a *Arena) Alloc(size uintptr) (uintptr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.heap.Alloc(size)
	if ok {
		atomic.AddUint64(&a.stats.Allocs, 1)
	}
	return p, ok
}

// Free returns payload to this arena, locking it for the duration. The
// caller must have already established (via Registry.Lookup) that this
// arena owns payload.
func (a *Arena) Free(payload uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heap.Free(payload)
	atomic.AddUint64(&a.stats.Frees, 1)
}

// Owns reports whether ptr falls within this arena's heap without taking
// the arena's lock; heap bounds only grow monotonically, so a racing
// Extend cannot make a previously-owned pointer stop being owned.
func (a *Arena) Owns(ptr uintptr) bool {
	return a.heap.Owns(ptr)
}

// Stats returns a snapshot of this arena's lifetime counters.
func (a *Arena) Stats() Stats {
	return Stats{
		Allocs: atomic.LoadUint64(&a.stats.Allocs),
		Frees:  atomic.LoadUint64(&a.stats.Frees),
	}
}

// Used and Available report this arena's current heap occupancy, locking
// it for the duration.
func (a *Arena) Used() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heap.Used()
}

func (a *Arena) Available() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heap.Available()
}

// Registry is a fixed pool of arenas dispatched to callers by atomic
// round-robin, with address-range lookup for returning a freed pointer to
// the arena that allocated it.
type Registry struct {
	cfg    Config
	arenas []*Arena
	next   uint64
}

// NewRegistry reserves cfg.Count arenas, each with its own OS mapping and
// seeded heap. It fails (unwinding any arenas already created) if any
// individual arena cannot be mapped or seeded.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("arena: registry requires at least one arena, got %d", cfg.Count)
	}
	r := &Registry{cfg: cfg, arenas: make([]*Arena, 0, cfg.Count)}
	for i := 0; i < cfg.Count; i++ {
		a, err := newArena(cfg)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.arenas = append(r.arenas, a)
	}
	return r, nil
}

// Acquire selects the next arena by atomic round-robin. Concurrent callers
// are spread across arenas without any single callsite becoming a
// contention point on the registry itself; only the chosen arena's own
// mutex can block.
func (r *Registry) Acquire() *Arena {
	i := atomic.AddUint64(&r.next, 1) - 1
	return r.arenas[int(i%uint64(len(r.arenas)))]
}

// Lookup returns the arena owning ptr, or nil if no arena in this registry
// does. It scans the (small, fixed) arena list without locking any of
// them, relying on each heap's monotonically growing bounds.
func (r *Registry) Lookup(ptr uintptr) *Arena {
	for _, a := range r.arenas {
		if a.Owns(ptr) {
			return a
		}
	}
	return nil
}

// Arenas returns the registry's arenas in a stable order, for stats
// collection and tests.
func (r *Registry) Arenas() []*Arena {
	return r.arenas
}

// Close unmaps every arena's backing memory. The registry must not be used
// afterward.
func (r *Registry) Close() error {
	var firstErr error
	for _, a := range r.arenas {
		if err := vmm.Unmap(a.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("arena: unmap: %w", err)
		}
	}
	return firstErr
}
