//go:build !linux && !darwin

package kmerstore

import "os"

// reserveFile sizes file to size bytes. Blocks may not be reserved on every
// filesystem.
func reserveFile(file *os.File, size int64) error {
	return file.Truncate(size)
}

// syncData flushes file contents to stable storage.
func syncData(file *os.File) error {
	return file.Sync()
}
