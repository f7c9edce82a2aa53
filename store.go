package kmerstore

import (
	"encoding/binary"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
	kserrors "github.com/tamirms/kmerstore/errors"
	"github.com/tamirms/kmerstore/internal/encoding"
	"github.com/tamirms/kmerstore/internal/hasharray"
	"github.com/tamirms/kmerstore/mer"
)

// Store answers k-mer count queries. It is either counted in memory by
// BuildFromSequences or loaded from a persisted file by Open.
//
// Thread Safety:
// - GetCount, CountKey and the other read methods are safe for concurrent use
// - Close must only be called after all queries have completed
type Store struct {
	header Header
	array  *hasharray.Array
	coder  *mer.Coder

	// Loaded stores only.
	mmap   mmap.MMap
	region []byte // bucket region within mmap
	source string

	closed atomic.Bool
}

// GetCount returns the number of occurrences of kmer, or 0 if it was never
// seen. In a canonical store kmer and its reverse complement share one count.
func (s *Store) GetCount(kmer string) (uint64, error) {
	if s.closed.Load() {
		return 0, kserrors.ErrStoreClosed
	}
	key, err := s.coder.EncodeString(kmer)
	if err != nil {
		return 0, err
	}
	return s.lookup(key), nil
}

// CountKey is GetCount for an already encoded k-mer. It returns 0 after Close.
func (s *Store) CountKey(key mer.Key) uint64 {
	if s.closed.Load() {
		return 0
	}
	return s.lookup(key)
}

func (s *Store) lookup(key mer.Key) uint64 {
	if s.header.Canonical {
		key = s.coder.Canonical(key)
	}
	return s.array.Get(uint64(key))
}

// KeyLength returns k.
func (s *Store) KeyLength() int {
	return s.coder.K()
}

// Coder returns the encoder for the store's k.
func (s *Store) Coder() *mer.Coder {
	return s.coder
}

// Canonical reports whether k-mers are folded with their reverse complement.
func (s *Store) Canonical() bool {
	return s.header.Canonical
}

// Header returns a copy of the store's header.
func (s *Store) Header() Header {
	h := s.header
	h.Matrix = append([]uint64(nil), s.header.Matrix...)
	return h
}

// Source returns the file a loaded store was mapped from, or "" for a
// counted store.
func (s *Store) Source() string {
	return s.source
}

// Distinct returns the number of distinct k-mers.
func (s *Store) Distinct() uint64 {
	return s.header.Distinct
}

// Total returns the sum of all counts, saturated at 2^64-1.
func (s *Store) Total() uint64 {
	return s.header.Total
}

// Overflowed reports whether any count saturated at the counter width.
func (s *Store) Overflowed() bool {
	return s.header.Overflowed
}

// All iterates over (k-mer, count) pairs in bucket order. It yields nothing
// after Close.
func (s *Store) All() iter.Seq2[mer.Key, uint64] {
	return func(yield func(mer.Key, uint64) bool) {
		if s.closed.Load() {
			return
		}
		for key, count := range s.array.All() {
			if !yield(mer.Key(key), count) {
				return
			}
		}
	}
}

// Verify checks the bucket region of a loaded store against the checksum
// recorded in its header. Counted stores have nothing to verify.
func (s *Store) Verify() error {
	if s.closed.Load() {
		return kserrors.ErrStoreClosed
	}
	if s.region == nil {
		return nil
	}
	slotSize := uint64(encoding.SlotSize(s.header.CounterLen))
	if got := regionChecksum(s.region, slotSize); got != s.header.Checksum {
		return fmt.Errorf("%w: bucket region hash %#x, header records %#x",
			kserrors.ErrChecksumFailed, got, s.header.Checksum)
	}
	return nil
}

// Close releases the mapping of a loaded store. It is idempotent; queries
// after Close fail with ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}
	if s.mmap != nil {
		return s.mmap.Unmap()
	}
	return nil
}

// checksumChunkSlots is the number of slots hashed per chunk of the bucket
// region. The data checksum folds the per-chunk hashes in chunk order, so it
// does not depend on how many workers wrote the region.
const checksumChunkSlots = 1 << 16

// chunkBounds returns the slot range of chunk c in an array of size slots.
func chunkBounds(c, size uint64) (from, to uint64) {
	from = c * checksumChunkSlots
	to = min(from+checksumChunkSlots, size)
	return from, to
}

func numChunks(size uint64) uint64 {
	return (size + checksumChunkSlots - 1) / checksumChunkSlots
}

// foldChunkHash folds a per-chunk hash into the region digest.
func foldChunkHash(d *xxhash.Digest, chunkHash uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], chunkHash)
	if _, err := d.Write(buf[:]); err != nil {
		panic("hash.Hash.Write returned unexpected error: " + err.Error())
	}
}

// regionChecksum computes the hash-of-hashes of a persisted bucket region.
func regionChecksum(region []byte, slotSize uint64) uint64 {
	size := uint64(len(region)) / slotSize
	d := xxhash.New()
	for c := range numChunks(size) {
		from, to := chunkBounds(c, size)
		foldChunkHash(d, xxhash.Sum64(region[from*slotSize:to*slotSize]))
	}
	return d.Sum64()
}
