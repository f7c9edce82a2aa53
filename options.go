package kmerstore

import "log/slog"

const (
	defaultCapacity = 1 << 20
	defaultSeed     = 0x1234567890abcdef // Arbitrary default; overridden via WithSeed
	defaultBatch    = 256                // records per worker batch
)

// BuildOption is a functional option for configuring counting.
type BuildOption func(*buildConfig)

type buildConfig struct {
	threads    int
	canonical  bool
	capacity   uint64
	maxReprobe uint
	counterLen int
	hash       HashFunction
	seed       uint64
	batchSize  int
	logger     *slog.Logger
}

func defaultBuildConfig() *buildConfig {
	return &buildConfig{
		threads:    1,
		capacity:   defaultCapacity,
		maxReprobe: DefaultMaxReprobe,
		counterLen: DefaultCounterLen,
		hash:       HashMatrix,
		seed:       defaultSeed,
		batchSize:  defaultBatch,
		logger:     discardLogger,
	}
}

// WithThreads sets the number of counting workers. Values below 1 mean 1.
func WithThreads(n int) BuildOption {
	return func(c *buildConfig) {
		c.threads = max(n, 1)
	}
}

// WithCanonical folds every k-mer with its reverse complement.
func WithCanonical(canonical bool) BuildOption {
	return func(c *buildConfig) {
		c.canonical = canonical
	}
}

// WithCapacity sets the number of buckets. It is rounded up to a power of two.
// The table never grows; counting fails with ErrTableFull when it is exhausted.
func WithCapacity(n uint64) BuildOption {
	return func(c *buildConfig) {
		c.capacity = n
	}
}

// WithMaxReprobe sets the highest reprobe index tried on insert.
// It is clamped to capacity-1 and to 65536.
func WithMaxReprobe(n uint) BuildOption {
	return func(c *buildConfig) {
		c.maxReprobe = n
	}
}

// WithCounterLen sets the persisted counter width in bytes (1-8).
// Counts above the width saturate and set the overflow flag.
func WithCounterLen(bytes int) BuildOption {
	return func(c *buildConfig) {
		c.counterLen = bytes
	}
}

// WithHashFunction selects the bucket placement function.
// Default is HashMatrix.
func WithHashFunction(h HashFunction) BuildOption {
	return func(c *buildConfig) {
		c.hash = h
	}
}

// WithSeed sets the seed of the placement function.
func WithSeed(seed uint64) BuildOption {
	return func(c *buildConfig) {
		c.seed = seed
	}
}

// WithBatchSize sets how many records the reader hands to a worker at once.
func WithBatchSize(n int) BuildOption {
	return func(c *buildConfig) {
		c.batchSize = max(n, 1)
	}
}

// WithLogger sets the diagnostic sink. By default diagnostics are discarded.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(c *buildConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// OpenOption is a functional option for Open.
type OpenOption func(*openConfig)

type openConfig struct {
	verify bool
	logger *slog.Logger
}

// WithVerify checks the bucket region checksum before Open returns.
func WithVerify(verify bool) OpenOption {
	return func(c *openConfig) {
		c.verify = verify
	}
}

// WithOpenLogger sets the diagnostic sink for Open.
func WithOpenLogger(logger *slog.Logger) OpenOption {
	return func(c *openConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// PersistOption is a functional option for Persist.
type PersistOption func(*persistConfig)

type persistConfig struct {
	threads int
	symlink bool
	logger  *slog.Logger
}

func defaultPersistConfig() *persistConfig {
	return &persistConfig{
		threads: 1,
		symlink: true,
		logger:  discardLogger,
	}
}

// WithPersistThreads sets the number of workers encoding the bucket region.
// The written file does not depend on this value.
func WithPersistThreads(n int) PersistOption {
	return func(c *persistConfig) {
		c.threads = max(n, 1)
	}
}

// WithSymlink controls the alias case: when enabled (the default), persisting
// a loaded store links the destination to the store's source file instead of
// copying it.
func WithSymlink(enabled bool) PersistOption {
	return func(c *persistConfig) {
		c.symlink = enabled
	}
}

// WithPersistLogger sets the diagnostic sink for Persist.
func WithPersistLogger(logger *slog.Logger) PersistOption {
	return func(c *persistConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

var discardLogger = slog.New(slog.DiscardHandler)
