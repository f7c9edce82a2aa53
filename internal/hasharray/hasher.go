package hasharray

import (
	"encoding/binary"
	"math/bits"
	"math/rand/v2"

	intbits "github.com/tamirms/kmerstore/internal/bits"
	"github.com/zeebo/xxh3"
)

// Hasher maps a key to its home bucket. Only the low log2(Size) bits of the
// result are used.
type Hasher interface {
	Hash(key uint64) uint64
}

// matrixSeedMixer decorrelates the two PCG state words derived from one seed.
const matrixSeedMixer = 0x9E3779B97F4A7C15

// Matrix is a random binary matrix over GF(2). Hashing multiplies the key,
// read as a bit vector, by the matrix: the result is the XOR of the columns
// selected by the key's set bits.
type Matrix struct {
	cols []uint64
}

// NewMatrix generates a rows x cols matrix from seed. Every column is
// non-zero so that each key bit influences placement.
func NewMatrix(rows, cols uint, seed uint64) *Matrix {
	rng := rand.New(rand.NewPCG(seed, seed^matrixSeedMixer))
	mask := intbits.Mask(rows)
	m := &Matrix{cols: make([]uint64, cols)}
	for i := range m.cols {
		v := rng.Uint64() & mask
		for v == 0 && mask != 0 {
			v = rng.Uint64() & mask
		}
		m.cols[i] = v
	}
	return m
}

// MatrixFromColumns rebuilds a matrix from persisted columns.
// The slice is copied.
func MatrixFromColumns(cols []uint64) *Matrix {
	return &Matrix{cols: append([]uint64(nil), cols...)}
}

// Columns returns a copy of the matrix columns.
func (m *Matrix) Columns() []uint64 {
	return append([]uint64(nil), m.cols...)
}

// Hash multiplies key by the matrix.
func (m *Matrix) Hash(key uint64) uint64 {
	var h uint64
	for key != 0 {
		i := bits.TrailingZeros64(key)
		if i >= len(m.cols) {
			break
		}
		h ^= m.cols[i]
		key &= key - 1
	}
	return h
}

// XXH3 hashes the little-endian key bytes with seeded xxHash3.
type XXH3 struct {
	seed uint64
}

// NewXXH3 returns an XXH3 hasher for seed.
func NewXXH3(seed uint64) *XXH3 {
	return &XXH3{seed: seed}
}

// Seed returns the hash seed.
func (x *XXH3) Seed() uint64 {
	return x.seed
}

// Hash returns the seeded xxHash3 of key.
func (x *XXH3) Hash(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxh3.HashSeed(buf[:], x.seed)
}
