// Package errors defines all exported error sentinels for the kmerstore library.
//
// This is the single source of truth for error values. The top-level
// kmerstore package, the mer encoder and the internal hash array all import
// from here, so errors.Is checks work across package boundaries.
package errors

import "errors"

// Input errors
var (
	ErrInputNotFound     = errors.New("kmerstore: input not found")
	ErrEmptyInput        = errors.New("kmerstore: no inputs given")
	ErrMixedInput        = errors.New("kmerstore: cannot mix sequence files and k-mer stores")
	ErrUnrecognizedInput = errors.New("kmerstore: input is neither a sequence file nor a k-mer store")
	ErrMultipleStores    = errors.New("kmerstore: only a single k-mer store can be loaded")
	ErrMerLengthMismatch = errors.New("kmerstore: k-mer length mismatch")
	ErrCanonicalMismatch = errors.New("kmerstore: k-mer stores disagree on canonical mode")
)

// Encoding errors
var (
	ErrInvalidBase      = errors.New("kmerstore: invalid nucleotide")
	ErrInvalidMerLength = errors.New("kmerstore: invalid k-mer length")
)

// Build errors
var (
	ErrTableFull           = errors.New("kmerstore: hash array is full")
	ErrInvalidCapacity     = errors.New("kmerstore: invalid hash array capacity")
	ErrInvalidCounterLen   = errors.New("kmerstore: invalid counter length")
	ErrInvalidHashFunction = errors.New("kmerstore: unknown hash function")
)

// Store file errors
var (
	ErrUnsupportedFormat = errors.New("kmerstore: unsupported store format")
	ErrCorruptHeader     = errors.New("kmerstore: corrupt store header")
	ErrMapping           = errors.New("kmerstore: cannot map store file")
	ErrTruncatedFile     = errors.New("kmerstore: store file is truncated")
	ErrChecksumFailed    = errors.New("kmerstore: store checksum verification failed")
)

// Query errors
var (
	ErrStoreClosed = errors.New("kmerstore: store is closed")
)
