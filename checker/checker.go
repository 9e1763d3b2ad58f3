// Package checker walks a heap's block list end to end and verifies the
// boundary-tag invariants segmalloc depends on, for use in tests and the
// stress driver's --check mode. It is not on any allocation hot path.
package checker

import (
	"fmt"

	"github.com/segmalloc/segmalloc/heap"
	"github.com/segmalloc/segmalloc/internal/blockhdr"
)

// Violation describes one invariant failure found while walking a heap.
type Violation struct {
	Header uintptr
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("block@%#x: %s", v.Header, v.Reason)
}

// Walk traverses h from its first block to its epilogue, checking:
//
//   - header/footer agreement on every free block
//   - prev-alloc bit accuracy against the actual preceding block
//   - 16-byte alignment and a non-zero, minimum-respecting size on every
//     non-sentinel block
//   - no two physically adjacent blocks are both free (a missed coalesce)
//
// It returns every violation found; a nil/empty result means h is
// consistent.
func Walk(h *heap.Heap) []Violation {
	var violations []Violation

	cur := h.HeapStart()
	prevFree := false
	prevWasAlloc := true

	for cur < h.HeapEnd() {
		w := blockhdr.ReadWord(cur)
		size := blockhdr.ExtractSize(w)
		alloc := blockhdr.ExtractAlloc(w)
		prevAlloc := blockhdr.ExtractPrevAlloc(w)

		isEpilogue := size == 0
		if isEpilogue {
			if cur != h.HeapEnd()-blockhdr.WordSize {
				violations = append(violations, Violation{cur, "zero-size block before epilogue position"})
			}
			if prevAlloc != prevWasAlloc {
				violations = append(violations, Violation{cur, "epilogue prev-alloc bit does not match preceding block"})
			}
			break
		}

		if size%16 != 0 || size < blockhdr.MinBlockSize {
			violations = append(violations, Violation{cur, fmt.Sprintf("illegal block size %d", size)})
		}

		if prevAlloc != prevWasAlloc {
			violations = append(violations, Violation{cur, "prev-alloc bit does not match preceding block's actual status"})
		}

		if !alloc {
			footer := blockhdr.ReadWord(blockhdr.FooterAddr(cur, size))
			if footer != w {
				violations = append(violations, Violation{cur, "header/footer mismatch on free block"})
			}
			if prevFree {
				violations = append(violations, Violation{cur, "two adjacent free blocks were not coalesced"})
			}
		}

		prevFree = !alloc
		prevWasAlloc = alloc
		cur = blockhdr.Next(cur, size)
	}

	return violations
}

// Assert panics with the first violation found by Walk, if any. Intended
// for test helpers and the stress driver, never for library callers.
func Assert(h *heap.Heap) {
	if vs := Walk(h); len(vs) > 0 {
		panic(fmt.Sprintf("checker: heap invariant violated: %s", vs[0]))
	}
}
