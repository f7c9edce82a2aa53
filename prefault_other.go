//go:build !linux

package kmerstore

// prefaultWrite is a no-op on non-Linux platforms.
func prefaultWrite(data []byte) {}
