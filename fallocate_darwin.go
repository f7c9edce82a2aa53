//go:build darwin

package kmerstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// reserveFile sizes file to size bytes and reserves its blocks, so that a
// full disk fails here instead of raising SIGBUS in a mapped write.
func reserveFile(file *os.File, size int64) error {
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Length:  size,
	}
	if err := unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst); err != nil {
		return unix.Ftruncate(int(file.Fd()), size)
	}
	// F_PREALLOCATE reserves space but leaves the size alone.
	return unix.Ftruncate(int(file.Fd()), size)
}

// syncData flushes file contents to stable storage.
func syncData(file *os.File) error {
	return file.Sync()
}
