package kmerstore

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shenwei356/bio/seqio/fastx"
)

// SequenceSource yields raw sequences for counting. Next returns io.EOF when
// the source is exhausted. The returned slice is only valid until the next
// call.
type SequenceSource interface {
	Next() ([]byte, error)
}

type sliceSource struct {
	seqs []string
	i    int
}

// NewSliceSource returns a source over in-memory sequences.
func NewSliceSource(seqs ...string) SequenceSource {
	return &sliceSource{seqs: seqs}
}

func (s *sliceSource) Next() ([]byte, error) {
	if s.i >= len(s.seqs) {
		return nil, io.EOF
	}
	s.i++
	return []byte(s.seqs[s.i-1]), nil
}

// FileSource reads FASTA or FASTQ records, plain or compressed, from a list
// of files in order.
type FileSource struct {
	paths  []string
	next   int
	cur    string
	reader *fastx.Reader
}

// OpenSequenceFiles returns a source over the records of paths.
// Files are opened lazily; a missing file surfaces from Next.
func OpenSequenceFiles(paths ...string) (*FileSource, error) {
	if len(paths) == 0 {
		return nil, errors.New("no sequence files")
	}
	return &FileSource{paths: paths}, nil
}

// Next returns the sequence of the next record.
func (s *FileSource) Next() ([]byte, error) {
	for {
		if s.reader == nil {
			if s.next >= len(s.paths) {
				return nil, io.EOF
			}
			if err := s.openNext(); err != nil {
				return nil, err
			}
			if s.reader == nil {
				continue
			}
		}
		record, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			s.Close()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.cur, err)
		}
		return record.Seq.Seq, nil
	}
}

// openNext opens the next file. Empty files are skipped.
func (s *FileSource) openNext() error {
	s.cur = s.paths[s.next]
	s.next++
	info, err := os.Stat(s.cur)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	r, err := fastx.NewReader(nil, s.cur, "")
	if err != nil {
		return fmt.Errorf("read sequence file %s: %w", s.cur, err)
	}
	s.reader = r
	return nil
}

// Close releases the current reader.
func (s *FileSource) Close() error {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
	return nil
}
