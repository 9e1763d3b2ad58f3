// Package vmm wraps the one operating-system primitive segmalloc needs: an
// anonymous, private, read-write virtual memory mapping of an exact
// requested size, released on demand rather than left to process exit.
package vmm

import "golang.org/x/sys/unix"

// MapAnonymous reserves a new anonymous, private, read-write mapping of
// exactly size bytes. The returned slice's backing memory is not part of
// the Go heap; the garbage collector never moves or scans it, which is why
// every address derived from it can be carried around as a plain uintptr.
func MapAnonymous(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// Unmap releases a mapping obtained from MapAnonymous.
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}
