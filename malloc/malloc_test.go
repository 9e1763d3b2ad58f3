package malloc

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	return Config{
		ArenaMax:      1 << 20,
		Chunk:         64 << 10,
		Arenas:        4,
		CacheEntries:  8,
		CacheMaxBytes: 1 << 16,
		EvictProb:     0.1,
	}
}

type closer interface {
	Close() error
}

func closeIfCloser(t *testing.T, a Allocator) {
	t.Helper()
	if c, ok := a.(closer); ok {
		require.NoError(t, c.Close())
	}
}

func variants(t *testing.T) map[string]Allocator {
	t.Helper()

	naive, err := NewNaive()
	require.NoError(t, err)

	arenaOnly, err := NewArena(smallConfig())
	require.NoError(t, err)

	cached, err := NewArenaCached(smallConfig())
	require.NoError(t, err)

	pass := NewPassthrough()

	return map[string]Allocator{
		"naive":        naive,
		"arena":        arenaOnly,
		"arena_cached": cached,
		"passthrough":  pass,
	}
}

func TestAllocFreeRoundTripAcrossVariants(t *testing.T) {
	for name, a := range variants(t) {
		a := a
		t.Run(name, func(t *testing.T) {
			defer closeIfCloser(t, a)

			p := a.Alloc(128)
			require.NotNil(t, p)
			buf := unsafe.Slice((*byte)(p), 128)
			for i := range buf {
				buf[i] = byte(i)
			}
			for i := range buf {
				assert.Equal(t, byte(i), buf[i])
			}
			a.Free(p)
		})
	}
}

func TestAllocZeroSizeAcrossVariants(t *testing.T) {
	for name, a := range variants(t) {
		a := a
		t.Run(name, func(t *testing.T) {
			defer closeIfCloser(t, a)
			assert.Nil(t, a.Alloc(0))
		})
	}
}

func TestFreeNilIsNoOpAcrossVariants(t *testing.T) {
	for name, a := range variants(t) {
		a := a
		t.Run(name, func(t *testing.T) {
			defer closeIfCloser(t, a)
			assert.NotPanics(t, func() { a.Free(nil) })
		})
	}
}

func TestManySmallAllocationsDoNotOverlapAcrossVariants(t *testing.T) {
	for name, a := range variants(t) {
		a := a
		t.Run(name, func(t *testing.T) {
			defer closeIfCloser(t, a)

			const n = 64
			ptrs := make([]unsafe.Pointer, n)
			for i := 0; i < n; i++ {
				p := a.Alloc(32)
				require.NotNil(t, p)
				ptrs[i] = p
				buf := unsafe.Slice((*byte)(p), 32)
				for j := range buf {
					buf[j] = byte(i)
				}
			}
			for i, p := range ptrs {
				buf := unsafe.Slice((*byte)(p), 32)
				for j := range buf {
					assert.Equal(t, byte(i), buf[j], "block %d byte %d was overwritten", i, j)
				}
			}
			for _, p := range ptrs {
				a.Free(p)
			}
		})
	}
}

func TestConcurrentAllocFreeAcrossVariants(t *testing.T) {
	for name, a := range variants(t) {
		a := a
		t.Run(name, func(t *testing.T) {
			defer closeIfCloser(t, a)

			const goroutines = 16
			const iterations = 64

			var wg sync.WaitGroup
			wg.Add(goroutines)
			for g := 0; g < goroutines; g++ {
				go func() {
					defer wg.Done()
					for i := 0; i < iterations; i++ {
						p := a.Alloc(48)
						require.NotNil(t, p)
						buf := unsafe.Slice((*byte)(p), 48)
						buf[0] = 0xAB
						buf[47] = 0xCD
						a.Free(p)
					}
				}()
			}
			wg.Wait()
		})
	}
}

func TestCrossGoroutineFreeUnderCachedVariant(t *testing.T) {
	a, err := NewArenaCached(smallConfig())
	require.NoError(t, err)
	defer closeIfCloser(t, a)

	ch := make(chan unsafe.Pointer, 1)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		p := a.Alloc(64)
		require.NotNil(t, p)
		ch <- p
	}()

	go func() {
		defer wg.Done()
		p := <-ch
		a.Free(p)
	}()

	wg.Wait()
}

func TestReallocPreservesLeadingBytes(t *testing.T) {
	a, err := NewArena(smallConfig())
	require.NoError(t, err)
	defer closeIfCloser(t, a)

	p := a.Alloc(16)
	require.NotNil(t, p)
	buf := unsafe.Slice((*byte)(p), 16)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	grown := Realloc(a, p, 32)
	require.NotNil(t, grown)
	newBuf := unsafe.Slice((*byte)(grown), 16)
	for i := range newBuf {
		assert.Equal(t, byte(i+1), newBuf[i])
	}
	a.Free(grown)
}

func TestReallocOnGrowDoesNotReadPastOldBlock(t *testing.T) {
	a, err := NewArena(smallConfig())
	require.NoError(t, err)
	defer closeIfCloser(t, a)

	p := a.Alloc(8)
	require.NotNil(t, p)
	buf := unsafe.Slice((*byte)(p), 8)
	for i := range buf {
		buf[i] = 0xAA
	}

	grown := Realloc(a, p, 4096)
	require.NotNil(t, grown)
	newBuf := unsafe.Slice((*byte)(grown), 4096)
	for i := 0; i < 8; i++ {
		assert.Equal(t, byte(0xAA), newBuf[i])
	}
	a.Free(grown)
}

func TestReallocFromNilBehavesLikeAlloc(t *testing.T) {
	a, err := NewArena(smallConfig())
	require.NoError(t, err)
	defer closeIfCloser(t, a)

	p := Realloc(a, nil, 64)
	require.NotNil(t, p)
	a.Free(p)
}

func TestCallocZeroesMemory(t *testing.T) {
	a, err := NewArena(smallConfig())
	require.NoError(t, err)
	defer closeIfCloser(t, a)

	p := Calloc(a, 8, 8)
	require.NotNil(t, p)
	buf := unsafe.Slice((*byte)(p), 64)
	for _, b := range buf {
		assert.Zero(t, b)
	}
	a.Free(p)
}

func TestDefaultConfigIsWellFormed(t *testing.T) {
	cfg := DefaultConfig()
	assert.Positive(t, cfg.ArenaMax)
	assert.Positive(t, cfg.Chunk)
	assert.Positive(t, cfg.Arenas)
	assert.Positive(t, cfg.CacheEntries)
	assert.Positive(t, cfg.CacheMaxBytes)
	assert.InDelta(t, 0.1, cfg.EvictProb, 1e-9)
}
