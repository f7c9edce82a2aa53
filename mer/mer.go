// Package mer packs fixed-length nucleotide strings into 2-bit-per-base keys.
//
// Bases are coded A=0, C=1, G=2, T=3, with the first base of the k-mer in the
// most significant position, so keys of one length order the same way as the
// strings they encode. The complement of a code c is c^3.
package mer

import (
	"fmt"
	"math/bits"

	kserrors "github.com/tamirms/kmerstore/errors"
)

const (
	// MinK is the smallest supported k-mer length.
	MinK = 1

	// MaxK is the largest supported k-mer length. Keys use 2k bits and the
	// hash array reserves the top bit of a 64-bit word as its occupied marker.
	MaxK = 31
)

// Key is a bit-packed k-mer.
type Key uint64

const invalidCode = 0xFF

// codes maps a byte to its 2-bit base code, or invalidCode.
var codes = func() (t [256]byte) {
	for i := range t {
		t[i] = invalidCode
	}
	for i, c := range "ACGT" {
		t[c] = byte(i)
		t[c+('a'-'A')] = byte(i)
	}
	return t
}()

const alphabet = "ACGT"

// Coder encodes and manipulates keys for one k-mer length.
// A Coder is immutable and safe for concurrent use.
type Coder struct {
	k     int
	mask  Key
	shift uint // bit offset of the first base: 2(k-1)
}

// NewCoder returns a Coder for k-mers of length k.
func NewCoder(k int) (*Coder, error) {
	if k < MinK || k > MaxK {
		return nil, fmt.Errorf("%w: k=%d (supported range %d-%d)", kserrors.ErrInvalidMerLength, k, MinK, MaxK)
	}
	return &Coder{
		k:     k,
		mask:  Key(1)<<(2*uint(k)) - 1,
		shift: 2 * uint(k-1),
	}, nil
}

// K returns the k-mer length.
func (c *Coder) K() int {
	return c.k
}

// KeyBits returns the number of bits used by a key (2k).
func (c *Coder) KeyBits() uint {
	return 2 * uint(c.k)
}

// Encode packs seq, which must be exactly k bases long.
func (c *Coder) Encode(seq []byte) (Key, error) {
	if len(seq) != c.k {
		return 0, fmt.Errorf("%w: %q has length %d, want %d", kserrors.ErrInvalidMerLength, seq, len(seq), c.k)
	}
	var key Key
	for i, b := range seq {
		code := codes[b]
		if code == invalidCode {
			return 0, fmt.Errorf("%w: %q at position %d of %q", kserrors.ErrInvalidBase, b, i, seq)
		}
		key = key<<2 | Key(code)
	}
	return key, nil
}

// EncodeString is Encode for a string.
func (c *Coder) EncodeString(seq string) (Key, error) {
	return c.Encode([]byte(seq))
}

// Decode returns the nucleotide string for key.
func (c *Coder) Decode(key Key) string {
	buf := make([]byte, c.k)
	for i := range buf {
		buf[i] = alphabet[(key>>(c.shift-2*uint(i)))&3]
	}
	return string(buf)
}

// ReverseComplement returns the key of the reverse complement of key.
func (c *Coder) ReverseComplement(key Key) Key {
	x := uint64(^key & c.mask)
	// Reverse the order of the 2-bit groups within the 64-bit word.
	x = (x>>2)&0x3333333333333333 | (x&0x3333333333333333)<<2
	x = (x>>4)&0x0F0F0F0F0F0F0F0F | (x&0x0F0F0F0F0F0F0F0F)<<4
	x = bits.ReverseBytes64(x)
	return Key(x >> (64 - 2*uint(c.k)))
}

// Canonical returns the numerically smaller of key and its reverse complement.
func (c *Coder) Canonical(key Key) Key {
	if rc := c.ReverseComplement(key); rc < key {
		return rc
	}
	return key
}

// Scan calls fn for every k-length window of seq, in order. Windows containing
// a byte outside ACGT/acgt are skipped. If canonical is set, fn receives the
// canonical form of each window.
func (c *Coder) Scan(seq []byte, canonical bool, fn func(Key)) {
	var fwd, rc Key
	valid := 0
	for _, b := range seq {
		code := codes[b]
		if code == invalidCode {
			valid = 0
			continue
		}
		fwd = (fwd<<2 | Key(code)) & c.mask
		rc = rc>>2 | Key(code^3)<<c.shift
		if valid++; valid < c.k {
			continue
		}
		if canonical && rc < fwd {
			fn(rc)
		} else {
			fn(fwd)
		}
	}
}
