package kmerstore

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tamirms/kmerstore/mer"
)

const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

// newTestRNG returns a PCG generator seeded from the test name, so every
// test gets a distinct but reproducible stream.
func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// randomSeqs generates n random ACGT sequences of length size.
func randomSeqs(rng *rand.Rand, n, size int) []string {
	seqs := make([]string, n)
	buf := make([]byte, size)
	for i := range seqs {
		for j := range buf {
			buf[j] = "ACGT"[rng.IntN(4)]
		}
		seqs[i] = string(buf)
	}
	return seqs
}

// naiveCounts counts every window of seqs sequentially with a map.
func naiveCounts(t testing.TB, seqs []string, k int, canonical bool) map[mer.Key]uint64 {
	t.Helper()
	c, err := mer.NewCoder(k)
	if err != nil {
		t.Fatal(err)
	}
	counts := make(map[mer.Key]uint64)
	for _, s := range seqs {
		c.Scan([]byte(s), canonical, func(key mer.Key) { counts[key]++ })
	}
	return counts
}

// buildTestStore counts seqs in memory.
func buildTestStore(t testing.TB, seqs []string, k int, opts ...BuildOption) *Store {
	t.Helper()
	s, err := BuildFromSequences(NewSliceSource(seqs...), k, opts...)
	if err != nil {
		t.Fatalf("BuildFromSequences: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// persistTestStore writes s into a temp dir and returns the path.
func persistTestStore(t testing.TB, s *Store, name string, opts ...PersistOption) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := Persist(s, path, opts...); err != nil {
		t.Fatalf("Persist(%s): %v", path, err)
	}
	return path
}

// openTestStore opens path and closes it at cleanup.
func openTestStore(t testing.TB, path string, opts ...OpenOption) *Store {
	t.Helper()
	s, err := Open(path, AccessRandom, opts...)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// checkCounts verifies s holds exactly want.
func checkCounts(t testing.TB, s *Store, want map[mer.Key]uint64) {
	t.Helper()
	if s.Distinct() != uint64(len(want)) {
		t.Errorf("Distinct() = %d, want %d", s.Distinct(), len(want))
	}
	for key, n := range want {
		if got := s.CountKey(key); got != n {
			t.Fatalf("count(%s) = %d, want %d", s.Coder().Decode(key), got, n)
		}
	}
	seen := 0
	for key, n := range s.All() {
		seen++
		if want[key] != n {
			t.Fatalf("All yielded %s=%d, want %d", s.Coder().Decode(key), n, want[key])
		}
	}
	if seen != len(want) {
		t.Errorf("All yielded %d k-mers, want %d", seen, len(want))
	}
}

// writeFasta writes seqs as a FASTA file with lines wrapped at 60 bases.
func writeFasta(t testing.TB, path string, seqs []string) {
	t.Helper()
	var b strings.Builder
	for i, s := range seqs {
		b.WriteString(">seq")
		b.WriteString(string(rune('a' + i%26)))
		b.WriteByte('\n')
		for len(s) > 60 {
			b.WriteString(s[:60])
			b.WriteByte('\n')
			s = s[60:]
		}
		b.WriteString(s)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeFastq writes seqs as a FASTQ file with constant qualities.
func writeFastq(t testing.TB, path string, seqs []string) {
	t.Helper()
	var b strings.Builder
	for i, s := range seqs {
		b.WriteString("@read")
		b.WriteString(string(rune('a' + i%26)))
		b.WriteString("\n")
		b.WriteString(s)
		b.WriteString("\n+\n")
		b.WriteString(strings.Repeat("I", len(s)))
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

// errSource fails after yielding its sequences.
type errSource struct {
	seqs []string
	err  error
}

func (s *errSource) Next() ([]byte, error) {
	if len(s.seqs) == 0 {
		return nil, s.err
	}
	seq := s.seqs[0]
	s.seqs = s.seqs[1:]
	return []byte(seq), nil
}

var errSourceBroken = errors.New("source broken")

var _ SequenceSource = (*errSource)(nil)
