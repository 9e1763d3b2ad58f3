// Package blockhdr encodes and decodes the header/footer words used by
// segmalloc's heap manager, and performs the raw pointer arithmetic that
// walks blocks forward and backward across a contiguous arena mapping.
//
// Every block is 16-byte aligned and at least MinBlockSize bytes. A header
// word packs the block's size into bits [63:4] and two status bits into
// bits [1:0]; free blocks additionally carry a footer word, a bitwise copy
// of the header, at their last 8 bytes.
//
// This package is the one place in segmalloc that turns addresses into
// typed words. Every other package calls through here instead of touching
// memory directly.
package blockhdr

import "unsafe"

// Word is the 64-bit unit of header/footer storage.
type Word = uint64

const (
	// WordSize is the size in bytes of a header or footer word.
	WordSize = 8

	// MinBlockSize is the smallest legal block: header + two free-list
	// links + footer.
	MinBlockSize = 32

	// AllocBit marks a block allocated.
	AllocBit Word = 1 << 0
	// PrevAllocBit mirrors the alloc bit of the immediately preceding
	// contiguous block.
	PrevAllocBit Word = 1 << 1

	sizeMask Word = ^Word(0xF)
)

// Pack combines a size and the two status bits into a header/footer word.
// size must already be a multiple of 16.
func Pack(size uintptr, alloc, prevAlloc bool) Word {
	w := Word(size) & sizeMask
	if alloc {
		w |= AllocBit
	}
	if prevAlloc {
		w |= PrevAllocBit
	}
	return w
}

// ExtractSize returns the block size encoded in w.
func ExtractSize(w Word) uintptr { return uintptr(w & sizeMask) }

// ExtractAlloc reports whether w's block is allocated.
func ExtractAlloc(w Word) bool { return w&AllocBit != 0 }

// ExtractPrevAlloc reports whether the block preceding w's block is
// allocated.
func ExtractPrevAlloc(w Word) bool { return w&PrevAllocBit != 0 }

// RoundUp rounds n up to the nearest multiple of k, except that any n <= k
// rounds up to 2k. With k = 16 this is exactly the block-sizing rule that
// guarantees the 32-byte minimum block.
func RoundUp(n, k uintptr) uintptr {
	if n <= k {
		return 2 * k
	}
	return (n + k - 1) &^ (k - 1)
}

// Align16 rounds n up to the nearest multiple of 16, with no minimum-size
// floor. Used for heap-extension byte counts, which are not themselves
// block sizes.
func Align16(n uintptr) uintptr {
	return (n + 15) &^ 15
}

// ReadWord reads the word at addr.
func ReadWord(addr uintptr) Word {
	return *(*Word)(unsafe.Pointer(addr))
}

// WriteWord writes w at addr.
func WriteWord(addr uintptr, w Word) {
	*(*Word)(unsafe.Pointer(addr)) = w
}

// Next returns the header address of the block immediately following the
// block at header, given that block's size.
func Next(header, size uintptr) uintptr { return header + size }

// PrevFooterAddr returns the address of the footer word belonging to the
// block immediately preceding header.
func PrevFooterAddr(header uintptr) uintptr { return header - WordSize }

// Prev returns the header address of the block immediately preceding
// header. Callable only when that block is free (header's prev-alloc bit
// is false) — an allocated block has no footer to read.
func Prev(header uintptr) uintptr {
	w := ReadWord(PrevFooterAddr(header))
	return header - ExtractSize(w)
}

// PayloadAddr returns the address of the payload for a block whose header
// sits at header.
func PayloadAddr(header uintptr) uintptr { return header + WordSize }

// PayloadCapacity returns the number of payload bytes available in the
// block at header: its total size minus the header word. Callable on an
// allocated block to recover how much was actually reserved for a given
// Alloc request, which is always >= the bytes the caller asked for.
func PayloadCapacity(header uintptr) uintptr {
	return ExtractSize(ReadWord(header)) - WordSize
}

// HeaderAddr returns the header address for a block whose payload starts
// at payload.
func HeaderAddr(payload uintptr) uintptr { return payload - WordSize }

// FooterAddr returns the address of the footer word of a free block with
// the given header address and size.
func FooterAddr(header, size uintptr) uintptr { return header + size - WordSize }

// Free-block link offsets: the first 16 bytes of a free block's payload
// area overlay a previous-in-list pointer followed by a next-in-list
// pointer. A value of 0 means "no link" (no arena mapping is ever placed
// at address zero).

func prevLinkAddr(header uintptr) uintptr { return header + WordSize }
func nextLinkAddr(header uintptr) uintptr { return header + 2*WordSize }

// ReadPrevLink returns the previous-in-list pointer stored in the payload
// area of the free block at header.
func ReadPrevLink(header uintptr) uintptr { return uintptr(ReadWord(prevLinkAddr(header))) }

// WritePrevLink stores the previous-in-list pointer in the payload area of
// the free block at header.
func WritePrevLink(header, v uintptr) { WriteWord(prevLinkAddr(header), Word(v)) }

// ReadNextLink returns the next-in-list pointer stored in the payload area
// of the free block at header.
func ReadNextLink(header uintptr) uintptr { return uintptr(ReadWord(nextLinkAddr(header))) }

// WriteNextLink stores the next-in-list pointer in the payload area of the
// free block at header.
func WriteNextLink(header, v uintptr) { WriteWord(nextLinkAddr(header), Word(v)) }
