//go:build !linux

package kmerstore

// adviseAccess is a no-op on non-Linux platforms.
func adviseAccess(data []byte, hint AccessHint) {}
