//go:build linux

package kmerstore

import "golang.org/x/sys/unix"

// MADV_POPULATE_WRITE was added in Linux 5.14; older kernels return EINVAL.
const madvPopulateWrite = 23

// prefaultWrite populates the pages of a writable mapping before the encode
// workers touch it, so they do not take write faults one page at a time.
// Best-effort: errors are ignored.
func prefaultWrite(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, madvPopulateWrite)
}
