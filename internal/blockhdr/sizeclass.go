package blockhdr

import "math/bits"

// NumSizeClasses is the number of segregated free lists per heap.
const NumSizeClasses = 15

// SizeClass buckets a block size into one of NumSizeClasses logarithmic
// classes: class 0 holds the smallest blocks, class i holds roughly
// [2^(i+5), 2^(i+6)) for 1 <= i < 14, and class 14 saturates everything
// larger.
func SizeClass(size uintptr) int {
	s := size >> 6
	if s == 0 {
		return 0
	}
	c := bits.Len(uint(s))
	if c > NumSizeClasses-1 {
		c = NumSizeClasses - 1
	}
	return c
}
