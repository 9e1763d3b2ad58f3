// Package threadcache implements segmalloc's per-goroutine free-block
// cache: a small bounded ring that lets the common alloc/free pair for a
// recently freed size skip the arena lock entirely, at the cost of
// probabilistic eviction back to the owning arena when the ring fills up.
package threadcache

import (
	"math/rand"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/segmalloc/segmalloc/arena"
	"github.com/segmalloc/segmalloc/internal/blockhdr"
	"github.com/segmalloc/segmalloc/internal/gid"
	"github.com/segmalloc/segmalloc/internal/ring"
)

// Config controls the shape of every Cache a Registry creates.
type Config struct {
	// MaxEntries bounds how many free blocks a single cache holds at once.
	MaxEntries int
	// MaxBytes bounds the total size of the blocks cached at once (whole
	// block sizes, header included), regardless of entry count.
	MaxBytes uintptr
	// EvictProbability is the chance, in [0,1], that an add to a cache
	// with no room triggers eviction of the block currently at the front
	// of the ring rather than just bypassing the cache for that block.
	EvictProbability float64
}

// DefaultConfig returns the configuration segmalloc's cached façade uses
// unless overridden.
func DefaultConfig() Config {
	return Config{
		MaxEntries:       8,
		MaxBytes:         1 << 20,
		EvictProbability: 0.1,
	}
}

// Stats accumulates lifetime counters for one goroutine's cache.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Adds    uint64
	Evicts  uint64
	Bypasss uint64
}

type slotEntry struct {
	header uintptr
	size   uintptr
}

// Cache is a bounded, size-indexed ring of free blocks belonging to one
// goroutine. It is not safe for concurrent use; a Registry hands each
// goroutine its own Cache.
type Cache struct {
	slots *ring.Ring[slotEntry]
	// front is the index of the lowest occupied slot, or maxEntries (no
	// valid slot index reaches that high) when the cache is empty.
	front      int
	numEntries int
	totalSize  uintptr

	maxEntries int
	maxBytes   uintptr
	evictProb  float64
	rng        *rand.Rand

	// arenas resolves a block's owning arena when it leaves the cache.
	// A cached block may have come from any arena the allocator's
	// round-robin dispatch handed this goroutine, not a fixed one, so the
	// cache cannot remember a single owner the way an Arena itself does.
	arenas *arena.Registry
	stats  Stats
}

func newCache(cfg Config, arenas *arena.Registry, seed int64) *Cache {
	n := cfg.MaxEntries
	if n <= 0 {
		n = 1
	}
	return &Cache{
		slots:      ring.NewFromSlice(make([]slotEntry, n)),
		front:      n,
		maxEntries: n,
		maxBytes:   cfg.MaxBytes,
		evictProb:  cfg.EvictProbability,
		rng:        rand.New(rand.NewSource(seed)),
		arenas:     arenas,
	}
}

// slotAt returns a pointer to the live value in ring slot i, for in-place
// reads/writes without copying slotEntry in and out of the ring.
func (c *Cache) slotAt(i int) *slotEntry {
	it, _ := c.slots.Get(i)
	return it.Pointer()
}

// Query scans slots from front up, wrapping around the ring, and returns
// the first block whose size is >= asize — no best-fit, the cache is tiny
// enough that the first acceptable block is taken. On a hit its slot is
// cleared, counters decrement, and front advances past any newly-empty
// prefix. It returns (0, false) on a miss.
func (c *Cache) Query(asize uintptr) (uintptr, bool) {
	if c.numEntries == 0 {
		c.stats.Misses++
		return 0, false
	}
	for i := 0; i < c.maxEntries; i++ {
		idx := (c.front + i) % c.maxEntries
		e := c.slotAt(idx)
		if e.header == 0 || e.size < asize {
			continue
		}
		header := e.header
		c.totalSize -= e.size
		*e = slotEntry{}
		c.numEntries--
		c.advanceFrontPastEmpty()
		c.stats.Hits++
		return header, true
	}
	c.stats.Misses++
	return 0, false
}

// has reports whether header is already present in the ring, which Add's
// caller must check first: a cache is never asked to hold the same free
// block twice.
func (c *Cache) has(header uintptr) bool {
	for i := 0; i < c.maxEntries; i++ {
		if c.slotAt(i).header == header {
			return true
		}
	}
	return false
}

// firstEmptySlot returns the lowest slot index with no cached block, or -1
// if every slot is occupied.
func (c *Cache) firstEmptySlot() int {
	for i := 0; i < c.maxEntries; i++ {
		if c.slotAt(i).header == 0 {
			return i
		}
	}
	return -1
}

// Add places header into the first empty slot and reports whether it
// succeeded. It fails, without evicting anything, if the cache is already
// at CacheEntries capacity or adding size would exceed maxBytes — see
// AddOrBypass for the probabilistic-eviction policy layered on top of a
// failed Add.
func (c *Cache) Add(header, size uintptr) bool {
	if c.numEntries >= c.maxEntries || c.totalSize+size > c.maxBytes {
		return false
	}
	slot := c.firstEmptySlot()
	if slot == -1 {
		return false
	}
	*c.slotAt(slot) = slotEntry{header: header, size: size}
	c.numEntries++
	c.totalSize += size
	if slot < c.front {
		c.front = slot
	}
	c.stats.Adds++
	return true
}

// advanceFrontPastEmpty restores the invariant that front names the lowest
// occupied slot (or the empty sentinel) after a slot at or before the
// current front was just cleared.
func (c *Cache) advanceFrontPastEmpty() {
	if c.numEntries == 0 {
		c.front = c.maxEntries
		return
	}
	for c.slotAt(c.front).header == 0 {
		c.front = (c.front + 1) % c.maxEntries
	}
}

// evictSlot releases the block in slot i back to whichever arena owns it.
func (c *Cache) evictSlot(i int) {
	e := c.slotAt(i)
	if e.header == 0 {
		return
	}
	c.freeToOwner(e.header)
	c.totalSize -= e.size
	c.numEntries--
	*e = slotEntry{}
	c.stats.Evicts++
	if i == c.front {
		c.advanceFrontPastEmpty()
	}
}

// freeToOwner looks up which arena's address range header falls in and
// returns the block to it. A miss means the block did not come from this
// registry, which would be a bug in the caller, not a condition this cache
// can recover from.
func (c *Cache) freeToOwner(header uintptr) {
	payload := blockhdr.PayloadAddr(header)
	owner := c.arenas.Lookup(payload)
	if owner == nil {
		panic("threadcache: cached block does not belong to any arena in this registry")
	}
	owner.Free(payload)
}

// Evict releases the block currently at the front slot, if any.
func (c *Cache) Evict() {
	if c.numEntries == 0 {
		return
	}
	c.evictSlot(c.front)
}

// AddOrBypass implements the cache's admission policy for a freshly freed
// block: try Add first. If Add fails because the cache is full, flip a
// coin weighted by evictProb; on heads, evict the front slot and retry
// Add once; on tails, or if that retry also fails, bypass the cache and
// free the block straight to its owning arena.
func (c *Cache) AddOrBypass(header, size uintptr) {
	if c.has(header) {
		return
	}
	if c.Add(header, size) {
		return
	}
	if c.rng.Float64() < c.evictProb {
		c.Evict()
		if c.Add(header, size) {
			return
		}
	}
	c.freeToOwner(header)
	c.stats.Bypasss++
}

// Stats returns a snapshot of this cache's lifetime counters.
func (c *Cache) Stats() Stats { return c.stats }

// Registry hands out one Cache per goroutine, keyed by gid.Current, backed
// by an arena.Registry for cache misses and evictions.
type Registry struct {
	cfg      Config
	arenas   *arena.Registry
	caches   *xsync.MapOf[int64, *Cache]
	seedNext int64
	seedMu   sync.Mutex
}

// NewRegistry creates a thread-cache registry that spills misses and
// evictions into arenas.
func NewRegistry(cfg Config, arenas *arena.Registry) *Registry {
	return &Registry{
		cfg:    cfg,
		arenas: arenas,
		caches: xsync.NewMapOf[int64, *Cache](),
	}
}

// Get returns the calling goroutine's Cache, lazily creating one on first
// use. The cache resolves each evicted block's owner at eviction time via
// the shared arena registry, since the blocks it accumulates may come from
// whichever arena round-robin dispatch handed this goroutine on any given
// call, not a single fixed arena.
func (r *Registry) Get() *Cache {
	id := gid.Current()
	if c, ok := r.caches.Load(id); ok {
		return c
	}
	c := newCache(r.cfg, r.arenas, r.nextSeed())
	actual, _ := r.caches.LoadOrStore(id, c)
	return actual
}

func (r *Registry) nextSeed() int64 {
	r.seedMu.Lock()
	defer r.seedMu.Unlock()
	r.seedNext++
	return r.seedNext
}

// Range visits every live cache, for stats aggregation.
func (r *Registry) Range(f func(id int64, c *Cache) bool) {
	r.caches.Range(f)
}
