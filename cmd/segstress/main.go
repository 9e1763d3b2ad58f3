// Command segstress drives each of segmalloc's four facade variants
// through the same mixed alloc/free workload and reports how long each
// took, so the variants can be compared on equal footing.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/util/gopool"

	"github.com/segmalloc/segmalloc/checker"
	"github.com/segmalloc/segmalloc/heap"
	"github.com/segmalloc/segmalloc/malloc"
)

type closer interface {
	Close() error
}

// checkable exposes the single heap a variant should be walked against
// when --check is set. Only the naive variant has exactly one heap;
// multi-arena variants would need per-arena walks across a live registry,
// which cmd/segstress does not attempt here.
type checkable interface {
	DebugHeap() *heap.Heap
}

func main() {
	var (
		goroutines = flag.Int("goroutines", 32, "number of concurrent workers")
		iterations = flag.Int("iterations", 2000, "allocations per worker")
		minSize    = flag.Int("min-size", 16, "minimum payload size")
		maxSize    = flag.Int("max-size", 4096, "maximum payload size")
		variant    = flag.String("variant", "all", "naive|arena|arena_cached|passthrough|all")
		check      = flag.Bool("check", false, "walk the naive variant's heap for invariant violations after the run")
	)
	flag.Parse()

	names := []string{"naive", "arena", "arena_cached", "passthrough"}
	if *variant != "all" {
		names = []string{*variant}
	}

	for _, name := range names {
		a, cleanup, err := build(name)
		if err != nil {
			log.Fatalf("segstress: build %s: %v", name, err)
		}
		elapsed, allocs := run(a, *goroutines, *iterations, *minSize, *maxSize)
		log.Printf("%-14s %8d allocs in %v (%.0f allocs/sec)",
			name, allocs, elapsed, float64(allocs)/elapsed.Seconds())

		if *check {
			if ck, ok := a.(checkable); ok {
				runCheck(ck.DebugHeap())
			}
		}

		if err := cleanup(); err != nil {
			log.Printf("segstress: cleanup %s: %v", name, err)
		}
	}
}

func build(name string) (malloc.Allocator, func() error, error) {
	noop := func() error { return nil }
	switch name {
	case "naive":
		a, err := malloc.NewNaive()
		if err != nil {
			return nil, noop, err
		}
		return a, closeFunc(a), nil
	case "arena":
		a, err := malloc.NewArena(malloc.DefaultConfig())
		if err != nil {
			return nil, noop, err
		}
		return a, closeFunc(a), nil
	case "arena_cached":
		a, err := malloc.NewArenaCached(malloc.DefaultConfig())
		if err != nil {
			return nil, noop, err
		}
		return a, closeFunc(a), nil
	case "passthrough":
		return malloc.NewPassthrough(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown variant %q", name)
	}
}

func closeFunc(a malloc.Allocator) func() error {
	if c, ok := a.(closer); ok {
		return c.Close
	}
	return func() error { return nil }
}

// run floods a with goroutines*iterations alloc/free pairs, using gopool
// to cap how many workers are live at once rather than spawning them all
// unconditionally, and dirtmake for the scratch buffers each worker writes
// into before freeing, matching the teacher's own hot-path buffer
// allocation style.
func run(a malloc.Allocator, goroutines, iterations, minSize, maxSize int) (time.Duration, int64) {
	var allocs int64
	var wg sync.WaitGroup
	start := time.Now()

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		seed := int64(g) + 1
		gopool.Go(func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < iterations; i++ {
				size := minSize
				if maxSize > minSize {
					size += rng.Intn(maxSize - minSize + 1)
				}
				p := a.Alloc(uintptr(size))
				if p == nil {
					continue
				}
				scratch := dirtmake.Bytes(size, size)
				dst := unsafe.Slice((*byte)(p), size)
				copy(dst, scratch)
				a.Free(p)
				atomic.AddInt64(&allocs, 1)
			}
		})
	}
	wg.Wait()
	return time.Since(start), allocs
}

// runCheck walks a single heap and exits non-zero on the first invariant
// violation found.
func runCheck(h *heap.Heap) {
	if vs := checker.Walk(h); len(vs) > 0 {
		fmt.Fprintln(os.Stderr, "segstress: invariant violations found:")
		for _, v := range vs {
			fmt.Fprintln(os.Stderr, " ", v.String())
		}
		os.Exit(1)
	}
}
