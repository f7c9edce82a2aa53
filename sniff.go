package kmerstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	kserrors "github.com/tamirms/kmerstore/errors"
)

// InputMode is how an input set becomes a store.
type InputMode int

const (
	// ModeCount counts raw sequence files.
	ModeCount InputMode = iota + 1
	// ModeLoad maps a persisted store.
	ModeLoad
)

func (m InputMode) String() string {
	switch m {
	case ModeCount:
		return "sequence"
	case ModeLoad:
		return "store"
	default:
		return fmt.Sprintf("InputMode(%d)", int(m))
	}
}

// sniffSize is how much of a file ClassifyFile looks at.
const sniffSize = 512

// compressedMagics are the prefixes of the compressed formats the sequence
// reader accepts: gzip, bzip2, xz and zstd.
var compressedMagics = [][]byte{
	{0x1f, 0x8b},
	[]byte("BZh"),
	{0xfd, '7', 'z', 'X', 'Z', 0x00},
	{0x28, 0xb5, 0x2f, 0xfd},
}

// ClassifyFile decides from its content whether path is a store to load or
// a sequence file to count.
func ClassifyFile(path string) (InputMode, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", kserrors.ErrInputNotFound, path)
		}
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	mode, ok := classifyPrefix(buf[:n])
	if !ok {
		return 0, fmt.Errorf("%w: %s is neither a sequence file nor a k-mer store",
			kserrors.ErrUnrecognizedInput, path)
	}
	return mode, nil
}

func classifyPrefix(b []byte) (InputMode, bool) {
	if len(b) >= 4 && binary.LittleEndian.Uint32(b) == magic {
		return ModeLoad, true
	}
	for _, m := range compressedMagics {
		if bytes.HasPrefix(b, m) {
			return ModeCount, true
		}
	}
	b = bytes.TrimLeft(b, " \t\r\n")
	if len(b) == 0 {
		return ModeCount, true
	}
	switch b[0] {
	case '>', '@':
		return ModeCount, true
	}
	return 0, false
}
