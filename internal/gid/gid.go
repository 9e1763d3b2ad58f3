// Package gid stands in for the thread library's thread-local-storage key.
//
// spec.md scopes the thread library itself out of the allocator core ("the
// thread library (mutexes, thread-local storage, atomic fetch-and-add)" is
// listed as an external collaborator). Go has no stable OS-thread handle
// visible to user code — goroutines migrate between Ms — so segmalloc's
// thread cache keys itself by goroutine identity instead, obtained the same
// way goroutine-leak detectors recover it: parsing the header line
// runtime.Stack always writes ("goroutine 123 [running]: ...").
package gid

import (
	"runtime"
	"strconv"
)

// Current returns an identifier for the calling goroutine. It is stable for
// the lifetime of the goroutine and distinct from every other live
// goroutine's id, which is all the thread cache needs from it.
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if len(b) < len(prefix) {
		return 0
	}
	b = b[len(prefix):]

	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
