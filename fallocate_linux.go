//go:build linux

package kmerstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// reserveFile sizes file to size bytes and reserves its blocks, so that a
// full disk fails here instead of raising SIGBUS in a mapped write.
func reserveFile(file *os.File, size int64) error {
	fd := int(file.Fd())
	if err := unix.Fallocate(fd, 0, 0, size); err != nil {
		// Not every filesystem supports fallocate (NFS, tmpfs on old kernels).
		return unix.Ftruncate(fd, size)
	}
	return unix.Ftruncate(fd, size)
}

// syncData flushes file contents to stable storage.
func syncData(file *os.File) error {
	return unix.Fdatasync(int(file.Fd()))
}
