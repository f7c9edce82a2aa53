package kmerstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
	kserrors "github.com/tamirms/kmerstore/errors"
	"github.com/tamirms/kmerstore/internal/hasharray"
	"github.com/tamirms/kmerstore/mer"
)

// AccessHint tells the kernel how a loaded store will be read. Correctness
// never depends on the hint.
type AccessHint int

const (
	// AccessSequential suits scans such as All and Verify.
	AccessSequential AccessHint = iota
	// AccessRandom suits point queries.
	AccessRandom
)

func (h AccessHint) String() string {
	switch h {
	case AccessSequential:
		return "sequential"
	case AccessRandom:
		return "random"
	default:
		return fmt.Sprintf("AccessHint(%d)", int(h))
	}
}

// Open maps a persisted store read-only.
//
// The header is read and validated before anything is mapped, so rejected
// formats fail without touching the bucket region. The mapping is held until
// Close.
func Open(path string, hint AccessHint, opts ...OpenOption) (*Store, error) {
	cfg := &openConfig{logger: discardLogger}
	for _, opt := range opts {
		opt(cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", kserrors.ErrMapping, path, err)
	}
	defer f.Close()

	h, err := ReadHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", kserrors.ErrMapping, path, err)
	}
	end := h.Offset + h.DataLen()
	if uint64(stat.Size()) < end {
		return nil, fmt.Errorf("%w: %w: %s is %d bytes, header describes %d",
			kserrors.ErrMapping, kserrors.ErrTruncatedFile, path, stat.Size(), end)
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %w", kserrors.ErrMapping, path, err)
	}
	adviseAccess(mm, hint)

	s, err := newMappedStore(h, mm, path)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("%s: %w", path, err), mm.Unmap())
	}

	if cfg.verify {
		if err := s.Verify(); err != nil {
			return nil, errors.Join(fmt.Errorf("%s: %w", path, err), s.Close())
		}
	}

	cfg.logger.LogAttrs(context.Background(), slog.LevelDebug, "store opened",
		slog.String("path", path),
		slog.String("access", hint.String()),
		slog.Any("header", h))
	return s, nil
}

// newMappedStore wraps the bucket region of mm according to h.
func newMappedStore(h *Header, mm mmap.MMap, path string) (*Store, error) {
	coder, err := mer.NewCoder(h.K())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kserrors.ErrCorruptHeader, err)
	}
	region := []byte(mm)[h.Offset : h.Offset+h.DataLen()]
	array, err := hasharray.OpenMapped(region, h.arrayConfig(), h.Overflowed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kserrors.ErrMapping, err)
	}
	return &Store{
		header: *h,
		array:  array,
		coder:  coder,
		mmap:   mm,
		region: region,
		source: path,
	}, nil
}

// ReadHeaderFile reads and validates the header of the store at path without
// mapping it.
func ReadHeaderFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := ReadHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}
