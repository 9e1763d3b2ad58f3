// Package seglist implements the fifteen segregated free lists that back
// one heap: insertion, removal, and a bounded best-of-N search used by the
// heap manager to find a block to satisfy an allocation.
package seglist

import "github.com/segmalloc/segmalloc/internal/blockhdr"

const (
	// NumClasses mirrors blockhdr.NumSizeClasses.
	NumClasses = blockhdr.NumSizeClasses

	// MaxScan bounds how many blocks Search visits before giving up.
	MaxScan = 15
)

// Table holds the NumClasses list heads for one heap. The zero value is an
// empty table. A Table is not safe for concurrent use; callers serialize
// access (the heap's arena mutex, in segmalloc's case).
type Table struct {
	heads [NumClasses]uintptr
}

// ClassOf returns the size class a block of the given size belongs to.
func ClassOf(size uintptr) int { return blockhdr.SizeClass(size) }

// Head returns the head of the list for the given class, or 0 if empty.
func (t *Table) Head(class int) uintptr { return t.heads[class] }

// Add inserts the free block at header (whose size is size) at the head of
// its class's list. Idempotent: re-adding the current head is a no-op.
func (t *Table) Add(header, size uintptr) {
	c := ClassOf(size)
	head := t.heads[c]
	if head == header {
		return
	}
	blockhdr.WritePrevLink(header, 0)
	blockhdr.WriteNextLink(header, head)
	if head != 0 {
		blockhdr.WritePrevLink(head, header)
	}
	t.heads[c] = header
}

// Remove unlinks the free block at header (whose size is size) from its
// class's list.
func (t *Table) Remove(header, size uintptr) {
	c := ClassOf(size)
	prev := blockhdr.ReadPrevLink(header)
	next := blockhdr.ReadNextLink(header)

	if prev != 0 {
		blockhdr.WriteNextLink(prev, next)
	} else if t.heads[c] == header {
		t.heads[c] = next
	}
	if next != 0 {
		blockhdr.WritePrevLink(next, prev)
	}
	blockhdr.WritePrevLink(header, 0)
	blockhdr.WriteNextLink(header, 0)
}

// Search scans at most MaxScan blocks starting at the head of class,
// keeping the smallest block whose size is >= asize (best fit among the
// blocks visited). It returns early on an exact match. It returns 0 if no
// visited block fits.
func (t *Table) Search(class int, asize uintptr) uintptr {
	var best uintptr
	bestOverhead := ^uintptr(0)

	cur := t.heads[class]
	for i := 0; i < MaxScan && cur != 0; i++ {
		w := blockhdr.ReadWord(cur)
		size := blockhdr.ExtractSize(w)
		if size >= asize {
			overhead := size - asize
			if overhead == 0 {
				return cur
			}
			if overhead < bestOverhead {
				bestOverhead = overhead
				best = cur
			}
		}
		cur = blockhdr.ReadNextLink(cur)
	}
	return best
}

// FindFit probes the minimum class that could hold a block of size asize,
// then the next class up, and returns the first fit found. It never probes
// deeper than two classes.
func (t *Table) FindFit(asize uintptr) uintptr {
	cMin := ClassOf(asize)
	if b := t.Search(cMin, asize); b != 0 {
		return b
	}
	if cMin+1 < NumClasses {
		if b := t.Search(cMin+1, asize); b != 0 {
			return b
		}
	}
	return 0
}
