// Package hasharray implements the fixed-capacity, open-addressed k-mer
// count table.
//
// The table has a power-of-two number of slots. A key is placed at the first
// free slot of the probe sequence pos_i = (h + i(i+1)/2) mod Size for
// i = 0..MaxReprobe, where h is the key's hash. Triangular offsets visit
// every slot of a power-of-two table, and because the sequence depends only
// on (key, i), inserts and lookups agree on slot order.
//
// # Concurrency
//
// During the build phase any number of goroutines may call InsertOrIncrement.
// Each slot is two 64-bit words: a key word and a count word. A key word of
// zero marks an empty slot. An empty slot is claimed with a single
// compare-and-swap of the key word from zero to (occupied | key), so two
// goroutines can never claim one slot for different keys; the loser re-reads
// the word and either shares the slot (same key) or moves to the next probe.
// Counts are updated with atomic adds, so concurrent increments commute and
// the final counts do not depend on scheduling. Lookups are only valid once
// the build phase has finished.
//
// # Overflow
//
// The count word is a 64-bit accumulator. Counts exposed by Get and written
// by EncodeSlots saturate at the configured counter width, and the first
// increment crossing that width sets the array's overflow flag.
//
// # Backings
//
// New allocates a heap array for building. OpenMapped wraps a persisted slot
// region (usually a memory mapping) read-only; see package encoding for its
// layout.
package hasharray

import (
	"fmt"
	"iter"
	"sync/atomic"

	kserrors "github.com/tamirms/kmerstore/errors"
	intbits "github.com/tamirms/kmerstore/internal/bits"
	"github.com/tamirms/kmerstore/internal/encoding"
)

const (
	// occupied is set in the key word of every claimed slot.
	occupied = uint64(1) << 63

	// MaxKeyBits is the widest key the key word can carry beside the marker.
	MaxKeyBits = 62

	// MinSize is the smallest supported slot count.
	MinSize = 2

	// MaxSize is the largest supported slot count. With 16-byte slots the
	// region size and every slot offset still fit in an int64.
	MaxSize = uint64(1) << 56

	// MaxReprobeLimit bounds the reprobe index regardless of size.
	MaxReprobeLimit = 1 << 16
)

// Config describes the geometry of an array.
type Config struct {
	Size       uint64 // number of slots, a power of two
	KeyBits    uint   // significant bits per key (2k)
	CounterLen int    // persisted counter width in bytes (1-8)
	MaxReprobe uint   // highest probe index tried, < Size
	Hasher     Hasher
}

func (c *Config) validate() error {
	if c.Size < MinSize || !intbits.IsPow2(c.Size) {
		return fmt.Errorf("%w: size %d is not a power of two >= %d", kserrors.ErrInvalidCapacity, c.Size, MinSize)
	}
	if c.Size > MaxSize {
		return fmt.Errorf("%w: size %d exceeds %d", kserrors.ErrInvalidCapacity, c.Size, MaxSize)
	}
	if c.KeyBits == 0 || c.KeyBits > MaxKeyBits || c.KeyBits%2 != 0 {
		return fmt.Errorf("%w: key length %d bits", kserrors.ErrInvalidMerLength, c.KeyBits)
	}
	if c.CounterLen < 1 || c.CounterLen > 8 {
		return fmt.Errorf("%w: %d bytes (supported 1-8)", kserrors.ErrInvalidCounterLen, c.CounterLen)
	}
	if uint64(c.MaxReprobe) >= c.Size || c.MaxReprobe > MaxReprobeLimit {
		return fmt.Errorf("%w: reprobe limit %d must be below size %d and at most %d",
			kserrors.ErrInvalidCapacity, c.MaxReprobe, c.Size, MaxReprobeLimit)
	}
	if c.Hasher == nil {
		return kserrors.ErrInvalidHashFunction
	}
	return nil
}

// Array is the k-mer count table.
type Array struct {
	cfg      Config
	mask     uint64
	keyMask  uint64
	maxCount uint64
	reprobes []uint64

	words []uint64 // heap backing: key word, count word per slot
	data  []byte   // mapped backing: packed persisted slots

	overflowed atomic.Bool
}

func newArray(cfg Config) (*Array, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Array{
		cfg:      cfg,
		mask:     cfg.Size - 1,
		keyMask:  intbits.Mask(cfg.KeyBits),
		maxCount: encoding.MaxCount(cfg.CounterLen),
		reprobes: make([]uint64, cfg.MaxReprobe+1),
	}
	for i := range a.reprobes {
		a.reprobes[i] = uint64(i) * uint64(i+1) / 2
	}
	return a, nil
}

// New allocates an empty heap-backed array.
func New(cfg Config) (*Array, error) {
	a, err := newArray(cfg)
	if err != nil {
		return nil, err
	}
	a.words = make([]uint64, 2*cfg.Size)
	return a, nil
}

// OpenMapped wraps a persisted slot region read-only. data must hold at least
// RegionSize bytes and must not change while the array is in use.
// overflowed restores the flag recorded when the region was written.
func OpenMapped(data []byte, cfg Config, overflowed bool) (*Array, error) {
	a, err := newArray(cfg)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < a.RegionSize() {
		return nil, fmt.Errorf("%w: slot region is %d bytes, want %d", kserrors.ErrTruncatedFile, len(data), a.RegionSize())
	}
	a.data = data[:a.RegionSize()]
	a.overflowed.Store(overflowed)
	return a, nil
}

// Config returns the array geometry.
func (a *Array) Config() Config {
	return a.cfg
}

// Size returns the number of slots.
func (a *Array) Size() uint64 {
	return a.cfg.Size
}

// MaxReprobe returns the highest probe index tried.
func (a *Array) MaxReprobe() uint {
	return a.cfg.MaxReprobe
}

// Mapped reports whether the array wraps a persisted region.
func (a *Array) Mapped() bool {
	return a.data != nil
}

// Overflowed reports whether any count exceeded the counter width.
func (a *Array) Overflowed() bool {
	return a.overflowed.Load()
}

// RegionSize returns the size in bytes of the persisted slot region.
func (a *Array) RegionSize() uint64 {
	return a.cfg.Size * uint64(encoding.SlotSize(a.cfg.CounterLen))
}

// InsertOrIncrement adds delta to key's count, claiming a slot if key is new.
// It returns false, leaving the array unchanged, when every probe slot holds
// a different key. Mapped arrays are read-only and always return false.
// Safe for concurrent use.
func (a *Array) InsertOrIncrement(key, delta uint64) bool {
	if a.words == nil || key&^a.keyMask != 0 {
		return false
	}
	want := occupied | key
	h := a.cfg.Hasher.Hash(key)
	for _, off := range a.reprobes {
		pos := (h + off) & a.mask
		kw := &a.words[2*pos]
		cur := atomic.LoadUint64(kw)
		if cur == 0 {
			if atomic.CompareAndSwapUint64(kw, 0, want) {
				a.add(pos, delta)
				return true
			}
			cur = atomic.LoadUint64(kw)
		}
		if cur == want {
			a.add(pos, delta)
			return true
		}
	}
	return false
}

// add increments the count word at pos and records overflow.
func (a *Array) add(pos, delta uint64) {
	cw := &a.words[2*pos+1]
	if a.maxCount == ^uint64(0) {
		// Full-width counters have no accumulator headroom; saturate in place.
		for {
			old := atomic.LoadUint64(cw)
			n := old + delta
			if n < old {
				n = ^uint64(0)
				a.overflowed.Store(true)
			}
			if atomic.CompareAndSwapUint64(cw, old, n) {
				return
			}
		}
	}
	if n := atomic.AddUint64(cw, delta); n > a.maxCount && !a.overflowed.Load() {
		a.overflowed.Store(true)
	}
}

func (a *Array) keyWord(pos uint64) uint64 {
	if a.data != nil {
		return encoding.ReadKeyWord(a.data, int(pos), a.cfg.CounterLen)
	}
	return atomic.LoadUint64(&a.words[2*pos])
}

func (a *Array) count(pos uint64) uint64 {
	if a.data != nil {
		_, c := encoding.ReadSlot(a.data, int(pos), a.cfg.CounterLen)
		return c
	}
	return min(atomic.LoadUint64(&a.words[2*pos+1]), a.maxCount)
}

// Lookup returns key's count and whether key is present.
func (a *Array) Lookup(key uint64) (uint64, bool) {
	if key&^a.keyMask != 0 {
		return 0, false
	}
	want := occupied | key
	h := a.cfg.Hasher.Hash(key)
	for _, off := range a.reprobes {
		pos := (h + off) & a.mask
		kw := a.keyWord(pos)
		if kw == 0 {
			// No deletions, so an empty slot ends the probe sequence.
			return 0, false
		}
		if kw == want {
			return a.count(pos), true
		}
	}
	return 0, false
}

// Get returns key's count, or 0 if key is absent.
func (a *Array) Get(key uint64) uint64 {
	c, _ := a.Lookup(key)
	return c
}

// All iterates over occupied slots in slot order, yielding (key, count).
func (a *Array) All() iter.Seq2[uint64, uint64] {
	return func(yield func(uint64, uint64) bool) {
		for pos := uint64(0); pos < a.cfg.Size; pos++ {
			kw := a.keyWord(pos)
			if kw == 0 {
				continue
			}
			if !yield(kw&^occupied, a.count(pos)) {
				return
			}
		}
	}
}

// Stats returns the number of distinct keys and the saturating sum of their
// counts. It scans the whole array.
func (a *Array) Stats() (distinct, total uint64) {
	for _, c := range a.All() {
		distinct++
		if t := total + c; t >= total {
			total = t
		} else {
			total = ^uint64(0)
		}
	}
	return distinct, total
}

// EncodeSlots writes slots [from, to) into dst in persisted layout.
// dst must hold (to-from) * SlotSize bytes. Disjoint ranges may be encoded
// concurrently.
func (a *Array) EncodeSlots(dst []byte, from, to uint64) {
	slotSize := uint64(encoding.SlotSize(a.cfg.CounterLen))
	if a.data != nil {
		copy(dst, a.data[from*slotSize:to*slotSize])
		return
	}
	for pos := from; pos < to; pos++ {
		encoding.WriteSlot(dst, int(pos-from), a.cfg.CounterLen,
			atomic.LoadUint64(&a.words[2*pos]), atomic.LoadUint64(&a.words[2*pos+1]))
	}
}
