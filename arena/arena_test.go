package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{Count: 4, Capacity: 1 << 20, Chunk: 64 << 10}
}

func TestNewRegistrySeedsAllArenas(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)
	defer r.Close()

	assert.Len(t, r.Arenas(), 4)
	for _, a := range r.Arenas() {
		assert.Greater(t, a.Available(), uintptr(0))
	}
}

func TestAcquireRoundRobinsAcrossArenas(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)
	defer r.Close()

	seen := make(map[*Arena]int)
	for i := 0; i < 8; i++ {
		seen[r.Acquire()]++
	}
	assert.Len(t, seen, 4)
	for _, count := range seen {
		assert.Equal(t, 2, count)
	}
}

func TestLookupReturnsAllocatingArena(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)
	defer r.Close()

	a := r.Acquire()
	p, ok := a.Alloc(128)
	require.True(t, ok)

	got := r.Lookup(p)
	require.NotNil(t, got)
	assert.Same(t, a, got)
}

func TestLookupMissReturnsNil(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)
	defer r.Close()

	assert.Nil(t, r.Lookup(0))
	assert.Nil(t, r.Lookup(^uintptr(0)))
}

func TestCrossArenaFreeReturnsToOwningArena(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)
	defer r.Close()

	producer := r.arenas[0]
	p, ok := producer.Alloc(256)
	require.True(t, ok)

	owner := r.Lookup(p)
	require.Same(t, producer, owner)

	usedBefore := producer.Used()
	owner.Free(p)
	assert.Less(t, producer.Used(), usedBefore)

	for _, a := range r.arenas[1:] {
		assert.False(t, a.Owns(p))
	}
}

func TestArenaExhaustionIsIsolated(t *testing.T) {
	cfg := Config{Count: 2, Capacity: 8192, Chunk: 4096}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	defer r.Close()

	exhausted := r.arenas[0]
	healthy := r.arenas[1]

	var ok bool
	for {
		_, allocOK := exhausted.Alloc(64)
		if !allocOK {
			ok = true
			break
		}
	}
	assert.True(t, ok, "expected arena to eventually exhaust its fixed capacity")

	p, allocOK := healthy.Alloc(64)
	assert.True(t, allocOK, "a separate arena must remain usable after another arena is exhausted")
	healthy.Free(p)
}

func TestStatsTrackAllocsAndFrees(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)
	defer r.Close()

	a := r.arenas[0]
	p1, _ := a.Alloc(32)
	p2, _ := a.Alloc(32)
	a.Free(p1)
	a.Free(p2)

	stats := a.Stats()
	assert.Equal(t, uint64(2), stats.Allocs)
	assert.Equal(t, uint64(2), stats.Frees)
}

func TestNewRegistryRejectsNonPositiveCount(t *testing.T) {
	_, err := NewRegistry(Config{Count: 0, Capacity: 4096, Chunk: 4096})
	assert.Error(t, err)
}
