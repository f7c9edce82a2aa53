package hasharray

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	kserrors "github.com/tamirms/kmerstore/errors"
	intbits "github.com/tamirms/kmerstore/internal/bits"
)

const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

func testConfig(size uint64, keyBits uint) Config {
	return Config{
		Size:       size,
		KeyBits:    keyBits,
		CounterLen: 4,
		MaxReprobe: uint(min(size-1, 126)),
		Hasher:     NewMatrix(intbits.Log2(size), keyBits, 42),
	}
}

func mustNew(t testing.TB, cfg Config) *Array {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// randomKeys returns n distinct keys of keyBits bits.
func randomKeys(rng *rand.Rand, n int, keyBits uint) []uint64 {
	seen := make(map[uint64]bool, n)
	keys := make([]uint64, 0, n)
	for len(keys) < n {
		k := rng.Uint64() & intbits.Mask(keyBits)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

func TestConfigValidation(t *testing.T) {
	good := testConfig(64, 42)
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"size not pow2", func(c *Config) { c.Size = 100 }, kserrors.ErrInvalidCapacity},
		{"size too small", func(c *Config) { c.Size = 1; c.MaxReprobe = 0 }, kserrors.ErrInvalidCapacity},
		{"odd key bits", func(c *Config) { c.KeyBits = 41 }, kserrors.ErrInvalidMerLength},
		{"key bits too wide", func(c *Config) { c.KeyBits = 64 }, kserrors.ErrInvalidMerLength},
		{"counter zero", func(c *Config) { c.CounterLen = 0 }, kserrors.ErrInvalidCounterLen},
		{"counter too wide", func(c *Config) { c.CounterLen = 9 }, kserrors.ErrInvalidCounterLen},
		{"reprobe too high", func(c *Config) { c.MaxReprobe = 64 }, kserrors.ErrInvalidCapacity},
		{"size too large", func(c *Config) { c.Size = MaxSize << 1; c.CounterLen = 8; c.Hasher = NewXXH3(1) }, kserrors.ErrInvalidCapacity},
		{"reprobe over limit", func(c *Config) { c.Size = 1 << 20; c.MaxReprobe = MaxReprobeLimit + 1 }, kserrors.ErrInvalidCapacity},
		{"no hasher", func(c *Config) { c.Hasher = nil }, kserrors.ErrInvalidHashFunction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good
			tc.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, tc.want) {
				t.Errorf("New() error = %v, want %v", err, tc.want)
			}
			if _, err := OpenMapped(nil, cfg, false); !errors.Is(err, tc.want) {
				t.Errorf("OpenMapped() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestInsertAndGet(t *testing.T) {
	rng := newTestRNG(t)
	a := mustNew(t, testConfig(1<<12, 42))
	keys := randomKeys(rng, 1000, 42)
	for i, k := range keys {
		for range i%5 + 1 {
			if !a.InsertOrIncrement(k, 1) {
				t.Fatalf("insert %d failed", i)
			}
		}
	}
	for i, k := range keys {
		if got := a.Get(k); got != uint64(i%5+1) {
			t.Fatalf("Get(key %d) = %d, want %d", i, got, i%5+1)
		}
	}
	distinct, total := a.Stats()
	if distinct != uint64(len(keys)) {
		t.Errorf("distinct = %d, want %d", distinct, len(keys))
	}
	var wantTotal uint64
	for i := range keys {
		wantTotal += uint64(i%5 + 1)
	}
	if total != wantTotal {
		t.Errorf("total = %d, want %d", total, wantTotal)
	}
}

func TestAbsentKeyIsZero(t *testing.T) {
	rng := newTestRNG(t)
	a := mustNew(t, testConfig(1<<10, 20))
	keys := randomKeys(rng, 600, 20)
	for _, k := range keys[:300] {
		a.InsertOrIncrement(k, 3)
	}
	for _, k := range keys[300:] {
		if c, ok := a.Lookup(k); ok || c != 0 {
			t.Fatalf("Lookup(absent %x) = (%d, %v)", k, c, ok)
		}
		if a.Get(k) != 0 {
			t.Fatalf("Get(absent %x) != 0", k)
		}
	}
	// Keys wider than KeyBits can never be present.
	if a.Get(1<<21) != 0 || a.InsertOrIncrement(1<<21, 1) {
		t.Error("out-of-range key accepted")
	}
}

// TestTableFull verifies that a full table rejects new keys without
// disturbing existing counts, while existing keys still increment.
func TestTableFull(t *testing.T) {
	rng := newTestRNG(t)
	const size = 16
	a := mustNew(t, testConfig(size, 30))
	keys := randomKeys(rng, size+1, 30)
	for i, k := range keys[:size] {
		if !a.InsertOrIncrement(k, 1) {
			t.Fatalf("insert %d of %d failed before table was full", i, size)
		}
	}
	if a.InsertOrIncrement(keys[size], 1) {
		t.Fatal("insert into full table succeeded")
	}
	if a.Get(keys[size]) != 0 {
		t.Error("rejected key is visible")
	}
	for _, k := range keys[:size] {
		if !a.InsertOrIncrement(k, 1) {
			t.Fatal("increment of existing key failed in full table")
		}
		if a.Get(k) != 2 {
			t.Fatalf("Get = %d, want 2", a.Get(k))
		}
	}
}

// TestReprobeCoversTable verifies the triangular probe sequence reaches every
// slot of a power-of-two table.
func TestReprobeCoversTable(t *testing.T) {
	for _, size := range []uint64{2, 4, 16, 256, 4096} {
		a := mustNew(t, testConfig(size, 40))
		a.reprobes = a.reprobes[:0]
		for i := uint64(0); i < size; i++ {
			a.reprobes = append(a.reprobes, i*(i+1)/2)
		}
		seen := make(map[uint64]bool)
		for _, off := range a.reprobes {
			seen[off&a.mask] = true
		}
		if uint64(len(seen)) != size {
			t.Errorf("size %d: probe sequence visits %d slots", size, len(seen))
		}
	}
}

// TestConcurrentIncrement hammers a shared key set from many goroutines and
// checks that no increment is lost and no key is claimed twice.
func TestConcurrentIncrement(t *testing.T) {
	rng := newTestRNG(t)
	const workers = 8
	const reps = 50
	a := mustNew(t, testConfig(1<<14, 42))
	keys := randomKeys(rng, 5000, 42)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each worker walks the keys in a different rotation so claims race.
			for r := range reps {
				for i := range keys {
					k := keys[(i+w*613+r)%len(keys)]
					if !a.InsertOrIncrement(k, 1) {
						t.Error("insert failed")
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	for _, k := range keys {
		if got := a.Get(k); got != workers*reps {
			t.Fatalf("Get(%x) = %d, want %d", k, got, workers*reps)
		}
	}
	distinct, _ := a.Stats()
	if distinct != uint64(len(keys)) {
		t.Fatalf("distinct = %d, want %d (slot claimed twice?)", distinct, len(keys))
	}
}

func TestSaturation(t *testing.T) {
	cfg := testConfig(64, 10)
	cfg.CounterLen = 1
	a := mustNew(t, cfg)
	for range 300 {
		a.InsertOrIncrement(5, 1)
	}
	if got := a.Get(5); got != math.MaxUint8 {
		t.Errorf("Get = %d, want %d", got, math.MaxUint8)
	}
	if !a.Overflowed() {
		t.Error("overflow flag not set")
	}

	cfg.CounterLen = 8
	a = mustNew(t, cfg)
	a.InsertOrIncrement(5, math.MaxUint64-1)
	if a.Overflowed() {
		t.Error("overflow flag set below the limit")
	}
	a.InsertOrIncrement(5, 10)
	if got := a.Get(5); got != math.MaxUint64 {
		t.Errorf("Get = %d, want MaxUint64", got)
	}
	if !a.Overflowed() {
		t.Error("overflow flag not set for 64-bit counter")
	}
}

// TestMappedMatchesHeap encodes a heap array and reads it back through the
// mapped backing.
func TestMappedMatchesHeap(t *testing.T) {
	rng := newTestRNG(t)
	for _, counterLen := range []int{1, 2, 4, 8} {
		cfg := testConfig(1<<10, 34)
		cfg.CounterLen = counterLen
		a := mustNew(t, cfg)
		keys := randomKeys(rng, 700, 34)
		for i, k := range keys {
			a.InsertOrIncrement(k, uint64(i%300+1))
		}

		region := make([]byte, a.RegionSize())
		// Encode in uneven chunks to exercise range handling.
		for from := uint64(0); from < a.Size(); from += 100 {
			to := min(from+100, a.Size())
			slotSize := a.RegionSize() / a.Size()
			a.EncodeSlots(region[from*slotSize:to*slotSize], from, to)
		}

		m, err := OpenMapped(region, cfg, a.Overflowed())
		if err != nil {
			t.Fatal(err)
		}
		if !m.Mapped() || m.Overflowed() != a.Overflowed() {
			t.Fatalf("counterLen=%d: mapped=%v overflowed=%v", counterLen, m.Mapped(), m.Overflowed())
		}
		for _, k := range keys {
			if m.Get(k) != a.Get(k) {
				t.Fatalf("counterLen=%d: mapped Get(%x) = %d, heap %d", counterLen, k, m.Get(k), a.Get(k))
			}
		}
		if m.InsertOrIncrement(keys[0], 1) {
			t.Error("mapped array accepted an insert")
		}

		heapN, mapN := 0, 0
		for k, c := range a.All() {
			heapN++
			if m.Get(k) != c {
				t.Fatalf("All() disagrees for %x", k)
			}
		}
		for range m.All() {
			mapN++
		}
		if heapN != len(keys) || mapN != len(keys) {
			t.Errorf("All() yielded %d heap / %d mapped, want %d", heapN, mapN, len(keys))
		}

		copied := make([]byte, m.RegionSize())
		m.EncodeSlots(copied, 0, m.Size())
		if string(copied) != string(region) {
			t.Error("re-encoding a mapped array changed its bytes")
		}
	}
}

func TestOpenMappedTruncated(t *testing.T) {
	cfg := testConfig(64, 20)
	_, err := OpenMapped(make([]byte, 64*12-1), cfg, false)
	if !errors.Is(err, kserrors.ErrTruncatedFile) {
		t.Errorf("OpenMapped error = %v, want ErrTruncatedFile", err)
	}
}

func TestMatrixDeterministic(t *testing.T) {
	m1 := NewMatrix(20, 42, 7)
	m2 := NewMatrix(20, 42, 7)
	m3 := NewMatrix(20, 42, 8)
	c1, c2, c3 := m1.Columns(), m2.Columns(), m3.Columns()
	if len(c1) != 42 {
		t.Fatalf("len(columns) = %d", len(c1))
	}
	same3 := true
	for i := range c1 {
		if c1[i] != c2[i] {
			t.Fatal("same seed produced different matrices")
		}
		if c1[i] == 0 || c1[i]>>20 != 0 {
			t.Fatalf("column %d = %x out of range", i, c1[i])
		}
		same3 = same3 && c1[i] == c3[i]
	}
	if same3 {
		t.Error("different seeds produced the same matrix")
	}

	rebuilt := MatrixFromColumns(c1)
	for k := uint64(0); k < 1000; k++ {
		if rebuilt.Hash(k*0x9E3779B9) != m1.Hash(k*0x9E3779B9) {
			t.Fatal("MatrixFromColumns hashes differently")
		}
	}
}

// TestMatrixIsLinear checks H(a^b) == H(a)^H(b), the defining property of a
// GF(2) matrix product.
func TestMatrixIsLinear(t *testing.T) {
	rng := newTestRNG(t)
	m := NewMatrix(16, 40, 3)
	for range 1000 {
		a := rng.Uint64() & intbits.Mask(40)
		b := rng.Uint64() & intbits.Mask(40)
		if m.Hash(a^b) != m.Hash(a)^m.Hash(b) {
			t.Fatal("matrix hash is not linear")
		}
	}
}

func TestXXH3Hasher(t *testing.T) {
	rng := newTestRNG(t)
	cfg := testConfig(1<<12, 42)
	cfg.Hasher = NewXXH3(99)
	a := mustNew(t, cfg)
	keys := randomKeys(rng, 2000, 42)
	for _, k := range keys {
		if !a.InsertOrIncrement(k, 2) {
			t.Fatal("insert failed")
		}
	}
	for _, k := range keys {
		if a.Get(k) != 2 {
			t.Fatal("lookup mismatch with xxh3 hasher")
		}
	}
	if NewXXH3(1).Hash(5) == NewXXH3(2).Hash(5) {
		t.Error("seed has no effect")
	}
}

func BenchmarkInsertParallel(b *testing.B) {
	rng := newTestRNG(b)
	a := mustNew(b, testConfig(1<<20, 42))
	keys := randomKeys(rng, 1<<18, 42)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			a.InsertOrIncrement(keys[i&(len(keys)-1)], 1)
			i++
		}
	})
}
