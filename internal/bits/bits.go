// Package bits provides low-level bit manipulation primitives.
package bits

import "math/bits"

// CeilPow2 returns the smallest power of two >= n.
// CeilPow2(0) and CeilPow2(1) return 1. Values above 2^63 return 0.
func CeilPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	if n > 1<<63 {
		return 0
	}
	return 1 << (64 - bits.LeadingZeros64(n-1))
}

// IsPow2 reports whether n is a non-zero power of two.
func IsPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// Log2 returns floor(log2(n)) for n > 0, and 0 for n == 0.
// For powers of two this is the exact exponent.
func Log2(n uint64) uint {
	if n == 0 {
		return 0
	}
	return uint(63 - bits.LeadingZeros64(n))
}

// Mask returns a mask with the low n bits set (n <= 64).
func Mask(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<n - 1
}
