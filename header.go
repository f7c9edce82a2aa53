package kmerstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	kserrors "github.com/tamirms/kmerstore/errors"
	intbits "github.com/tamirms/kmerstore/internal/bits"
	"github.com/tamirms/kmerstore/internal/encoding"
	"github.com/tamirms/kmerstore/internal/hasharray"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// magic number for k-mer store files, "KMST" in little-endian
	magic = uint32(0x54534D4B)

	// version is the current format version
	version = uint16(0x0001)

	// preludeSize is the exact size of the fixed header prelude (64 bytes)
	preludeSize = 64

	// dataAlignment is the alignment of the bucket region within the file
	dataAlignment = 64

	// maxMetaSize bounds the metadata record so a corrupt length cannot
	// trigger a huge allocation.
	maxMetaSize = 1 << 20
)

// Format tags. Only FormatBinary stores can be loaded; the other two exist
// on disk but are rejected.
const (
	FormatBinary = "binary/sorted"
	FormatText   = "text/sorted"
	FormatBloom  = "bloomcounter"
)

// Defaults applied by FillStandard.
const (
	DefaultMaxReprobe = 126
	DefaultCounterLen = 4
)

// HashFunction names the function that places keys in the bucket array.
type HashFunction string

const (
	// HashMatrix multiplies the key by a random binary matrix (the default).
	HashMatrix HashFunction = "matrix"

	// HashXXH3 uses seeded xxHash3 of the key.
	HashXXH3 HashFunction = "xxh3"
)

// Header describes how to reinterpret a persisted bucket array.
//
// On disk the header is a 64-byte prelude followed by a msgpack metadata
// record and zero padding up to Offset, where the bucket region starts.
//
// Prelude layout:
//
//	Offset  Size  Field          Type
//	0       4     Magic          0x54534D4B ("KMST")
//	4       2     Version        0x0001
//	6       2     Flags          uint16_le (zero)
//	8       4     MetaLen        uint32_le
//	12      4     Reserved       (zero)
//	16      8     MetaChecksum   uint64_le (xxHash64 of metadata record)
//	24      8     Offset         uint64_le (start of bucket region)
//	32      8     DataLen        uint64_le (Size × slot size)
//	40      8     Checksum       uint64_le (bucket region hash-of-hashes)
//	48      16    Reserved       (zero)
type Header struct {
	Format       string       `msgpack:"format"`
	KeyLen       uint         `msgpack:"key_len"`     // bits per key, 2k
	CounterLen   int          `msgpack:"counter_len"` // bytes per persisted counter
	Size         uint64       `msgpack:"size"`        // bucket count, a power of two
	MaxReprobe   uint         `msgpack:"max_reprobe"`
	HashFunction HashFunction `msgpack:"hash"`
	Seed         uint64       `msgpack:"seed"`
	Matrix       []uint64     `msgpack:"matrix"` // columns, HashMatrix only
	Canonical    bool         `msgpack:"canonical"`
	Distinct     uint64       `msgpack:"distinct"`
	Total        uint64       `msgpack:"total"`
	Overflowed   bool         `msgpack:"overflowed"`

	Offset   uint64 `msgpack:"-"` // byte offset of the bucket region
	Checksum uint64 `msgpack:"-"` // bucket region checksum, see verifyRegion
}

// headerMeta is the msgpack view of Header. It has none of Header's
// methods, so the codec does not pick up MarshalBinary.
type headerMeta Header

// FillStandard sets the format tag and the default counter width, reprobe
// limit and hash function.
func (h *Header) FillStandard() {
	h.Format = FormatBinary
	h.MaxReprobe = DefaultMaxReprobe
	h.CounterLen = DefaultCounterLen
	h.HashFunction = HashMatrix
}

// K returns the k-mer length.
func (h *Header) K() int {
	return int(h.KeyLen / 2)
}

// DataLen returns the size in bytes of the bucket region.
func (h *Header) DataLen() uint64 {
	return h.Size * uint64(encoding.SlotSize(h.CounterLen))
}

// updateFrom copies the geometry, hash parameters and statistics of a built
// array into the header.
func (h *Header) updateFrom(a *hasharray.Array) {
	cfg := a.Config()
	h.Size = cfg.Size
	h.KeyLen = cfg.KeyBits
	h.CounterLen = cfg.CounterLen
	h.MaxReprobe = cfg.MaxReprobe
	switch hs := cfg.Hasher.(type) {
	case *hasharray.Matrix:
		h.HashFunction = HashMatrix
		h.Matrix = hs.Columns()
	case *hasharray.XXH3:
		h.HashFunction = HashXXH3
		h.Seed = hs.Seed()
		h.Matrix = nil
	}
	h.Distinct, h.Total = a.Stats()
	h.Overflowed = a.Overflowed()
}

// Validate checks that the header describes a loadable store.
func (h *Header) Validate() error {
	switch h.Format {
	case FormatBinary:
	case FormatBloom:
		return fmt.Errorf("%w: %q stores hold approximate counts; create a %q store instead",
			kserrors.ErrUnsupportedFormat, h.Format, FormatBinary)
	case FormatText:
		return fmt.Errorf("%w: %q stores are too slow to query; create a %q store instead",
			kserrors.ErrUnsupportedFormat, h.Format, FormatBinary)
	default:
		return fmt.Errorf("%w: unknown format %q", kserrors.ErrUnsupportedFormat, h.Format)
	}

	if h.KeyLen == 0 || h.KeyLen > hasharray.MaxKeyBits || h.KeyLen%2 != 0 {
		return fmt.Errorf("%w: key length %d bits", kserrors.ErrCorruptHeader, h.KeyLen)
	}
	if h.CounterLen < 1 || h.CounterLen > 8 {
		return fmt.Errorf("%w: counter length %d bytes", kserrors.ErrCorruptHeader, h.CounterLen)
	}
	if h.Size < hasharray.MinSize || !intbits.IsPow2(h.Size) {
		return fmt.Errorf("%w: size %d is not a power of two", kserrors.ErrCorruptHeader, h.Size)
	}
	if h.Size > hasharray.MaxSize {
		return fmt.Errorf("%w: size %d exceeds %d", kserrors.ErrCorruptHeader, h.Size, hasharray.MaxSize)
	}
	if uint64(h.MaxReprobe) >= h.Size || h.MaxReprobe > hasharray.MaxReprobeLimit {
		return fmt.Errorf("%w: reprobe limit %d not below size %d or above %d",
			kserrors.ErrCorruptHeader, h.MaxReprobe, h.Size, hasharray.MaxReprobeLimit)
	}
	switch h.HashFunction {
	case HashMatrix:
		if uint(len(h.Matrix)) != h.KeyLen {
			return fmt.Errorf("%w: matrix has %d columns, want %d", kserrors.ErrCorruptHeader, len(h.Matrix), h.KeyLen)
		}
		rowMask := intbits.Mask(intbits.Log2(h.Size))
		for i, col := range h.Matrix {
			if col&^rowMask != 0 {
				return fmt.Errorf("%w: matrix column %d exceeds %d rows", kserrors.ErrCorruptHeader, i, intbits.Log2(h.Size))
			}
		}
	case HashXXH3:
	default:
		return fmt.Errorf("%w: %w %q", kserrors.ErrCorruptHeader, kserrors.ErrInvalidHashFunction, h.HashFunction)
	}
	return nil
}

// hasher reconstructs the placement function recorded in the header.
func (h *Header) hasher() hasharray.Hasher {
	if h.HashFunction == HashXXH3 {
		return hasharray.NewXXH3(h.Seed)
	}
	return hasharray.MatrixFromColumns(h.Matrix)
}

// arrayConfig returns the array geometry recorded in the header.
func (h *Header) arrayConfig() hasharray.Config {
	return hasharray.Config{
		Size:       h.Size,
		KeyBits:    h.KeyLen,
		CounterLen: h.CounterLen,
		MaxReprobe: h.MaxReprobe,
		Hasher:     h.hasher(),
	}
}

// alignUp rounds n up to a multiple of dataAlignment.
func alignUp(n uint64) uint64 {
	return (n + dataAlignment - 1) &^ (dataAlignment - 1)
}

// MarshalBinary encodes the header. The encoding is padded so that its length
// is the offset of the bucket region; h.Offset is set to that length.
func (h *Header) MarshalBinary() ([]byte, error) {
	meta, err := msgpack.Marshal((*headerMeta)(h))
	if err != nil {
		return nil, fmt.Errorf("encode header metadata: %w", err)
	}
	if len(meta) > maxMetaSize {
		return nil, fmt.Errorf("header metadata is %d bytes, limit %d", len(meta), maxMetaSize)
	}
	h.Offset = alignUp(uint64(preludeSize + len(meta)))

	buf := make([]byte, h.Offset)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(meta)))
	binary.LittleEndian.PutUint64(buf[16:24], xxhash.Sum64(meta))
	binary.LittleEndian.PutUint64(buf[24:32], h.Offset)
	binary.LittleEndian.PutUint64(buf[32:40], h.DataLen())
	binary.LittleEndian.PutUint64(buf[40:48], h.Checksum)
	copy(buf[preludeSize:], meta)
	return buf, nil
}

// WriteTo writes the encoded header, including padding, to w.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	buf, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// UnmarshalBinary decodes a header from data, which must hold at least the
// prelude and the metadata record. The header is not validated; see Validate.
func (h *Header) UnmarshalBinary(data []byte) error {
	metaLen, err := decodePrelude(data, h)
	if err != nil {
		return err
	}
	if uint64(len(data)) < preludeSize+uint64(metaLen) {
		return fmt.Errorf("%w: metadata record truncated", kserrors.ErrCorruptHeader)
	}
	return decodeMeta(data[:preludeSize], data[preludeSize:preludeSize+metaLen], h)
}

// ReadHeader reads and decodes a header from r. It consumes the prelude and
// metadata record but not the padding before the bucket region.
// The header is not validated; see Validate.
func ReadHeader(r io.Reader) (*Header, error) {
	prelude := make([]byte, preludeSize)
	if _, err := io.ReadFull(r, prelude); err != nil {
		return nil, fmt.Errorf("%w: reading prelude: %w", kserrors.ErrCorruptHeader, err)
	}
	h := &Header{}
	metaLen, err := decodePrelude(prelude, h)
	if err != nil {
		return nil, err
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(r, meta); err != nil {
		return nil, fmt.Errorf("%w: reading metadata: %w", kserrors.ErrCorruptHeader, err)
	}
	if err := decodeMeta(prelude, meta, h); err != nil {
		return nil, err
	}
	return h, nil
}

// decodePrelude parses the fixed prelude into h and returns the metadata length.
func decodePrelude(buf []byte, h *Header) (uint32, error) {
	if len(buf) < preludeSize {
		return 0, fmt.Errorf("%w: %d bytes, want at least %d", kserrors.ErrCorruptHeader, len(buf), preludeSize)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return 0, fmt.Errorf("%w: bad magic", kserrors.ErrCorruptHeader)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != version {
		return 0, fmt.Errorf("%w: version %d", kserrors.ErrUnsupportedFormat, v)
	}
	metaLen := binary.LittleEndian.Uint32(buf[8:12])
	if metaLen > maxMetaSize {
		return 0, fmt.Errorf("%w: metadata length %d", kserrors.ErrCorruptHeader, metaLen)
	}
	h.Offset = binary.LittleEndian.Uint64(buf[24:32])
	h.Checksum = binary.LittleEndian.Uint64(buf[40:48])
	if h.Offset < alignUp(preludeSize+uint64(metaLen)) || h.Offset%dataAlignment != 0 {
		return 0, fmt.Errorf("%w: data offset %d", kserrors.ErrCorruptHeader, h.Offset)
	}
	return metaLen, nil
}

// decodeMeta verifies and decodes the metadata record into h.
func decodeMeta(prelude, meta []byte, h *Header) error {
	if xxhash.Sum64(meta) != binary.LittleEndian.Uint64(prelude[16:24]) {
		return fmt.Errorf("%w: metadata checksum mismatch", kserrors.ErrCorruptHeader)
	}
	offset, checksum := h.Offset, h.Checksum
	if err := msgpack.Unmarshal(meta, (*headerMeta)(h)); err != nil {
		return fmt.Errorf("%w: %w", kserrors.ErrCorruptHeader, err)
	}
	h.Offset, h.Checksum = offset, checksum
	if dataLen := binary.LittleEndian.Uint64(prelude[32:40]); h.CounterLen >= 1 && h.CounterLen <= 8 && dataLen != h.DataLen() {
		return fmt.Errorf("%w: data length %d, want %d", kserrors.ErrCorruptHeader, dataLen, h.DataLen())
	}
	return nil
}

// LogValue implements slog.LogValuer so a header can be written to a
// diagnostic logger.
func (h *Header) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("format", h.Format),
		slog.Int("k", h.K()),
		slog.Int("counter_len", h.CounterLen),
		slog.Uint64("size", h.Size),
		slog.Uint64("max_reprobe", uint64(h.MaxReprobe)),
		slog.String("hash", string(h.HashFunction)),
		slog.Bool("canonical", h.Canonical),
		slog.Uint64("distinct", h.Distinct),
		slog.Uint64("total", h.Total),
		slog.Bool("overflowed", h.Overflowed),
		slog.Uint64("offset", h.Offset),
	)
}
