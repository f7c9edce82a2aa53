//go:build linux

package kmerstore

import "golang.org/x/sys/unix"

// adviseAccess passes the access pattern of a mapped store to the kernel.
// data must start on a page boundary. Best-effort: errors are ignored.
func adviseAccess(data []byte, hint AccessHint) {
	if len(data) == 0 {
		return
	}
	advice := unix.MADV_RANDOM
	if hint == AccessSequential {
		advice = unix.MADV_SEQUENTIAL
	}
	_ = unix.Madvise(data, advice)
}
