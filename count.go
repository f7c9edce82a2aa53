package kmerstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	kserrors "github.com/tamirms/kmerstore/errors"
	intbits "github.com/tamirms/kmerstore/internal/bits"
	"github.com/tamirms/kmerstore/internal/hasharray"
	"github.com/tamirms/kmerstore/mer"
	"golang.org/x/sync/errgroup"
)

// workChanBufferMultiplier is the multiplier for work channel buffer size
const workChanBufferMultiplier = 2

// seqBatch is a group of records copied out of the source so the reader can
// move on while workers scan them.
type seqBatch struct {
	buf  []byte
	ends []int // end offset of each record in buf
}

func (b *seqBatch) reset() {
	b.buf = b.buf[:0]
	b.ends = b.ends[:0]
}

func (b *seqBatch) add(seq []byte) {
	b.buf = append(b.buf, seq...)
	b.ends = append(b.ends, len(b.buf))
}

func (b *seqBatch) record(i int) []byte {
	start := 0
	if i > 0 {
		start = b.ends[i-1]
	}
	return b.buf[start:b.ends[i]]
}

// counter holds the state shared by counting workers.
type counter struct {
	array     *hasharray.Array
	coder     *mer.Coder
	canonical bool
	pool      sync.Pool

	records atomic.Uint64
	windows atomic.Uint64
}

// BuildFromSequences counts every k-length window of the sequences in src
// and returns a store backed by an in-memory hash array.
//
// The calling goroutine reads src and hands batches of records to
// WithThreads workers, which insert into one shared array. Windows containing
// bases other than ACGT are skipped. If the array runs out of room the build
// stops with ErrTableFull and no store is returned; raise WithCapacity.
func BuildFromSequences(src SequenceSource, k int, opts ...BuildOption) (*Store, error) {
	cfg := defaultBuildConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	coder, err := mer.NewCoder(k)
	if err != nil {
		return nil, err
	}
	array, err := newCountArray(cfg, coder.KeyBits())
	if err != nil {
		return nil, err
	}

	logger := cfg.logger
	ctx := context.Background()
	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelInfo, "counting started",
		slog.Int("k", k),
		slog.Int("threads", cfg.threads),
		slog.Uint64("size", array.Size()),
		slog.Bool("canonical", cfg.canonical))

	c := &counter{
		array:     array,
		coder:     coder,
		canonical: cfg.canonical,
	}
	c.pool.New = func() any {
		return &seqBatch{}
	}

	batches := make(chan *seqBatch, cfg.threads*workChanBufferMultiplier)
	g, gctx := errgroup.WithContext(ctx)
	for range cfg.threads {
		g.Go(func() error {
			for b := range batches {
				err := c.countBatch(gctx, b)
				c.pool.Put(b)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(batches)
		return c.readBatches(gctx, src, batches, cfg.batchSize, k)
	})
	if err := g.Wait(); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "counting failed", slog.Any("error", err))
		return nil, err
	}

	var h Header
	h.FillStandard()
	h.Canonical = cfg.canonical
	h.Seed = cfg.seed
	h.updateFrom(array)

	logger.LogAttrs(ctx, slog.LevelInfo, "counting finished",
		slog.Uint64("records", c.records.Load()),
		slog.Uint64("windows", c.windows.Load()),
		slog.Uint64("distinct", h.Distinct),
		slog.Uint64("total", h.Total),
		slog.Duration("elapsed", time.Since(start)))
	if h.Overflowed {
		logger.LogAttrs(ctx, slog.LevelWarn, "counts saturated at counter width",
			slog.Int("counter_len", h.CounterLen))
	}

	return &Store{
		header: h,
		array:  array,
		coder:  coder,
	}, nil
}

// newCountArray allocates the heap array described by cfg.
func newCountArray(cfg *buildConfig, keyBits uint) (*hasharray.Array, error) {
	if cfg.capacity == 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", kserrors.ErrInvalidCapacity)
	}
	size := intbits.CeilPow2(cfg.capacity)
	if size == 0 || size > hasharray.MaxSize {
		return nil, fmt.Errorf("%w: capacity %d too large", kserrors.ErrInvalidCapacity, cfg.capacity)
	}
	size = max(size, hasharray.MinSize)

	var hasher hasharray.Hasher
	switch cfg.hash {
	case HashMatrix:
		hasher = hasharray.NewMatrix(intbits.Log2(size), keyBits, cfg.seed)
	case HashXXH3:
		hasher = hasharray.NewXXH3(cfg.seed)
	default:
		return nil, fmt.Errorf("%w: %q", kserrors.ErrInvalidHashFunction, cfg.hash)
	}

	return hasharray.New(hasharray.Config{
		Size:       size,
		KeyBits:    keyBits,
		CounterLen: cfg.counterLen,
		MaxReprobe: uint(min(uint64(cfg.maxReprobe), size-1, hasharray.MaxReprobeLimit)),
		Hasher:     hasher,
	})
}

// readBatches copies records from src into batches until src is exhausted
// or a worker fails.
func (c *counter) readBatches(ctx context.Context, src SequenceSource, out chan<- *seqBatch, batchSize, k int) error {
	b := c.pool.Get().(*seqBatch)
	b.reset()
	send := func() error {
		select {
		case out <- b:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
		b = c.pool.Get().(*seqBatch)
		b.reset()
		return nil
	}

	for {
		seq, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read sequences: %w", err)
		}
		c.records.Add(1)
		if len(seq) < k {
			continue
		}
		b.add(seq)
		if len(b.ends) >= batchSize {
			if err := send(); err != nil {
				return err
			}
		}
	}
	if len(b.ends) > 0 {
		return send()
	}
	return nil
}

// countBatch inserts every window of every record in b.
func (c *counter) countBatch(ctx context.Context, b *seqBatch) error {
	var windows uint64
	full := false
	insert := func(key mer.Key) {
		if full {
			return
		}
		windows++
		if !c.array.InsertOrIncrement(uint64(key), 1) {
			full = true
		}
	}
	for i := range b.ends {
		if ctx.Err() != nil {
			break
		}
		c.coder.Scan(b.record(i), c.canonical, insert)
		if full {
			return fmt.Errorf("%w: no free bucket within %d reprobes of a %d-bucket table",
				kserrors.ErrTableFull, c.array.MaxReprobe(), c.array.Size())
		}
	}
	c.windows.Add(windows)
	return nil
}
