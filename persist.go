package kmerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
	kserrors "github.com/tamirms/kmerstore/errors"
	"github.com/tamirms/kmerstore/internal/encoding"
	"golang.org/x/sync/errgroup"
)

// Persist writes s to path.
//
// A store loaded from a file is not copied: with symlinking enabled (the
// default, see WithSymlink) path becomes a symbolic link to the store's
// source, and nothing is done if path already is the source. Otherwise the
// store is written to a temporary file next to path and renamed over it once
// complete, so a failed Persist never leaves a partial store at path.
func Persist(s *Store, path string, opts ...PersistOption) error {
	cfg := defaultPersistConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if s.closed.Load() {
		return kserrors.ErrStoreClosed
	}
	if s.source != "" && cfg.symlink {
		return linkSource(s.source, path, cfg.logger)
	}
	return writeStore(s, path, cfg)
}

// linkSource points path at source with a symbolic link.
func linkSource(source, path string, logger *slog.Logger) error {
	ctx := context.Background()
	if same, err := sameFile(source, path); err != nil {
		return err
	} else if same {
		logger.LogAttrs(ctx, slog.LevelDebug, "store already at destination", slog.String("path", path))
		return nil
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", source, err)
	}
	if err := removeExisting(path); err != nil {
		return err
	}
	if err := os.Symlink(abs, path); err != nil {
		return fmt.Errorf("link %s to %s: %w", path, abs, err)
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "store linked",
		slog.String("path", path),
		slog.String("source", abs))
	return nil
}

// sameFile reports whether a and b name the same file. A missing b is not
// an error.
func sameFile(a, b string) (bool, error) {
	bi, err := os.Stat(b)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", b, err)
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", a, err)
	}
	return os.SameFile(ai, bi), nil
}

// removeExisting removes whatever is at path, including a symbolic link
// (not its target). A missing path is not an error.
func removeExisting(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// storeWriter writes a store file through a read-write mapping.
// File layout: [Header, padded to Offset][bucket region]
type storeWriter struct {
	file *os.File
	mmap mmap.MMap
	data []byte
	tmp  string
}

// newStoreWriter creates a temporary file in dir, reserves size bytes and
// maps it for writing.
func newStoreWriter(dir, base string, size uint64) (*storeWriter, error) {
	file, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temporary store file: %w", err)
	}
	w := &storeWriter{file: file, tmp: file.Name()}

	// Pre-allocate disk blocks to prevent SIGBUS on disk full
	if err := reserveFile(file, int64(size)); err != nil {
		return nil, errors.Join(fmt.Errorf("allocate %d bytes: %w", size, err), w.abort())
	}

	mm, err := mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mmap temporary store file: %w", err), w.abort())
	}
	w.mmap = mm
	w.data = []byte(mm)
	prefaultWrite(w.data)
	return w, nil
}

// commit flushes the mapping, syncs and renames the temporary file to path.
// On error the temporary file is removed and path is left as it was.
func (w *storeWriter) commit(path string) error {
	if err := w.mmap.Flush(); err != nil {
		return errors.Join(fmt.Errorf("mmap flush failed: %w", err), w.abort())
	}
	unmapErr := w.mmap.Unmap()
	w.mmap = nil
	if unmapErr != nil {
		return errors.Join(fmt.Errorf("mmap unmap failed: %w", unmapErr), w.abort())
	}
	if err := syncData(w.file); err != nil {
		return errors.Join(fmt.Errorf("sync %s: %w", w.tmp, err), w.abort())
	}
	closeErr := w.file.Close()
	w.file = nil
	if closeErr != nil {
		return errors.Join(closeErr, w.abort())
	}
	// Rename replaces a regular file or symlink at path without following it.
	if err := os.Rename(w.tmp, path); err != nil {
		return errors.Join(fmt.Errorf("rename to %s: %w", path, err), w.abort())
	}
	return nil
}

// abort unmaps, closes and removes the temporary file. Idempotent.
func (w *storeWriter) abort() error {
	var unmapErr, closeErr error
	if w.mmap != nil {
		unmapErr = w.mmap.Unmap()
		w.mmap = nil
	}
	if w.file != nil {
		closeErr = w.file.Close()
		w.file = nil
	}
	var removeErr error
	if w.tmp != "" {
		if err := os.Remove(w.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			removeErr = err
		}
		w.tmp = ""
	}
	return errors.Join(unmapErr, closeErr, removeErr)
}

// writeStore encodes s into a new file at path.
func writeStore(s *Store, path string, cfg *persistConfig) error {
	ctx := context.Background()
	start := time.Now()

	h := s.Header()
	headerBytes, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	size := h.Offset + h.DataLen()

	w, err := newStoreWriter(filepath.Dir(path), filepath.Base(path), size)
	if err != nil {
		return err
	}

	h.Checksum = encodeRegion(s, w.data[h.Offset:size], cfg.threads)

	// The checksum does not change the header length.
	if headerBytes, err = h.MarshalBinary(); err != nil {
		return errors.Join(err, w.abort())
	}
	copy(w.data, headerBytes)

	if err := w.commit(path); err != nil {
		return err
	}
	cfg.logger.LogAttrs(ctx, slog.LevelInfo, "store written",
		slog.String("path", path),
		slog.Uint64("bytes", size),
		slog.Uint64("distinct", h.Distinct),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// encodeRegion writes the bucket region of s into dst in fixed-size chunks,
// threads chunks at a time, and returns the region checksum. Per-chunk hashes
// are computed while the chunk is hot in cache and folded in chunk order.
func encodeRegion(s *Store, dst []byte, threads int) uint64 {
	size := s.array.Size()
	slotSize := uint64(encoding.SlotSize(s.header.CounterLen))
	hashes := make([]uint64, numChunks(size))

	var g errgroup.Group
	g.SetLimit(threads)
	for c := range numChunks(size) {
		g.Go(func() error {
			from, to := chunkBounds(c, size)
			chunk := dst[from*slotSize : to*slotSize]
			s.array.EncodeSlots(chunk, from, to)
			hashes[c] = xxhash.Sum64(chunk)
			return nil
		})
	}
	_ = g.Wait() // workers never fail

	d := xxhash.New()
	for _, ch := range hashes {
		foldChunkHash(d, ch)
	}
	return d.Sum64()
}
