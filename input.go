package kmerstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	kserrors "github.com/tamirms/kmerstore/errors"
	"github.com/tamirms/kmerstore/mer"
)

// InputOption is a functional option for NewInputSet.
type InputOption func(*inputConfig)

type inputConfig struct {
	logger *slog.Logger
}

// WithInputLogger sets the diagnostic sink used by the input set and passed
// on to Open, BuildFromSequences and Persist.
func WithInputLogger(logger *slog.Logger) InputOption {
	return func(c *inputConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// InputSet is a list of input files that all acquire a store the same way:
// either every file is a sequence file to count, or every file is a store.
type InputSet struct {
	paths   []string
	mode    InputMode
	headers []*Header // ModeLoad only, one per path
	logger  *slog.Logger
}

// NewInputSet checks that every path exists and that all paths are of one
// kind. For stores, every header is read and validated, and the stores must
// agree on k and on canonical folding.
func NewInputSet(paths []string, opts ...InputOption) (*InputSet, error) {
	cfg := &inputConfig{logger: discardLogger}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(paths) == 0 {
		return nil, kserrors.ErrEmptyInput
	}
	for i, p := range paths {
		// Stat follows symlinks, so a dangling link counts as missing.
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: input %d (%s): %w", kserrors.ErrInputNotFound, i+1, p, err)
		}
	}

	set := &InputSet{
		paths:  append([]string(nil), paths...),
		logger: cfg.logger,
	}
	for i, p := range paths {
		mode, err := ClassifyFile(p)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			set.mode = mode
			continue
		}
		if mode != set.mode {
			return nil, fmt.Errorf("%w: %s is a %s input but %s is a %s input",
				kserrors.ErrMixedInput, p, mode, paths[0], set.mode)
		}
	}

	if set.mode == ModeLoad {
		if err := set.readHeaders(); err != nil {
			return nil, err
		}
	}

	set.logger.LogAttrs(context.Background(), slog.LevelDebug, "input set",
		slog.String("mode", set.mode.String()),
		slog.String("paths", set.PathString()))
	return set, nil
}

func (s *InputSet) readHeaders() error {
	s.headers = make([]*Header, len(s.paths))
	for i, p := range s.paths {
		h, err := ReadHeaderFile(p)
		if err != nil {
			return err
		}
		s.headers[i] = h
		if i == 0 {
			continue
		}
		first := s.headers[0]
		if h.Canonical != first.Canonical {
			return fmt.Errorf("%w: %s (canonical=%t) and %s (canonical=%t)",
				kserrors.ErrCanonicalMismatch, s.paths[0], first.Canonical, p, h.Canonical)
		}
		if h.K() != first.K() {
			return fmt.Errorf("%w: %s has k=%d but %s has k=%d",
				kserrors.ErrMerLengthMismatch, s.paths[0], first.K(), p, h.K())
		}
	}
	return nil
}

// Mode returns whether the set is counted or loaded.
func (s *InputSet) Mode() InputMode {
	return s.mode
}

// Paths returns a copy of the input paths.
func (s *InputSet) Paths() []string {
	return append([]string(nil), s.paths...)
}

// PathString returns the paths joined by spaces.
func (s *InputSet) PathString() string {
	return strings.Join(s.paths, " ")
}

// Header returns a copy of the first store's header, or nil for a set of
// sequence files.
func (s *InputSet) Header() *Header {
	if s.mode != ModeLoad {
		return nil
	}
	h := *s.headers[0]
	h.Matrix = append([]uint64(nil), h.Matrix...)
	return &h
}

// ValidateMerLen checks that k can be served by the set: any valid k for
// sequence files, exactly the stored k for stores.
func (s *InputSet) ValidateMerLen(k int) error {
	if s.mode == ModeCount {
		_, err := mer.NewCoder(k)
		return err
	}
	for i, h := range s.headers {
		if h.K() != k {
			return fmt.Errorf("%w: expected k=%d, %s was built with k=%d",
				kserrors.ErrMerLengthMismatch, k, s.paths[i], h.K())
		}
	}
	return nil
}

// Acquire returns a store with k-mer length k: sequence files are counted
// with buildOpts, a store is opened with hint. Only one store can be loaded.
func (s *InputSet) Acquire(k int, hint AccessHint, buildOpts ...BuildOption) (*Store, error) {
	if err := s.ValidateMerLen(k); err != nil {
		return nil, err
	}

	if s.mode == ModeLoad {
		if len(s.paths) > 1 {
			return nil, fmt.Errorf("%w: %d stores given (%s)", kserrors.ErrMultipleStores, len(s.paths), s.PathString())
		}
		return Open(s.paths[0], hint, WithOpenLogger(s.logger))
	}

	src, err := OpenSequenceFiles(s.paths...)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	opts := append([]BuildOption{WithLogger(s.logger)}, buildOpts...)
	return BuildFromSequences(src, k, opts...)
}

// Dump persists store to path. A store acquired from a loaded set is linked
// rather than copied; a counted store is written.
func (s *InputSet) Dump(store *Store, path string, opts ...PersistOption) error {
	all := []PersistOption{
		WithPersistLogger(s.logger),
		WithSymlink(s.mode == ModeLoad),
	}
	return Persist(store, path, append(all, opts...)...)
}
