// Bench measures k-mer counting throughput, persist time, query latency and
// memory usage over synthetic reads.
//
// Reads are sampled from a random reference genome; read start positions come
// from murmur3 of the read index so a run is reproducible for a given seed.
//
// Usage:
//
//	go run ./cmd/bench -genome 5000000 -reads 1000000 -len 150 -k 21 -threads 8
//
// Flags:
//
//	-genome     Reference genome length in bases (default: 5,000,000)
//	-reads      Number of reads (default: 1,000,000)
//	-len        Read length (default: 150)
//	-k          K-mer length (default: 21)
//	-threads    Counting and persist threads (default: 1)
//	-canonical  Fold reverse complements (default: true)
//	-hash       Bucket hash function: matrix or xxh3 (default: matrix)
package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/tamirms/kmerstore"
	"github.com/tamirms/kmerstore/internal/bits"
	"github.com/tamirms/kmerstore/mer"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

// readSource yields reads sampled from genome.
type readSource struct {
	genome  []byte
	readLen int
	n       int
	i       int
	seed    uint32
	buf     [4]byte
}

func (r *readSource) Next() ([]byte, error) {
	if r.i >= r.n {
		return nil, io.EOF
	}
	r.buf[0], r.buf[1], r.buf[2], r.buf[3] = byte(r.i), byte(r.i>>8), byte(r.i>>16), byte(r.i>>24)
	r.i++
	pos := murmur3.Sum64WithSeed(r.buf[:], r.seed) % uint64(len(r.genome)-r.readLen+1)
	return r.genome[pos : pos+uint64(r.readLen)], nil
}

func main() {
	genomeFlag := flag.Int("genome", 5_000_000, "reference genome length")
	readsFlag := flag.Int("reads", 1_000_000, "number of reads")
	lenFlag := flag.Int("len", 150, "read length")
	kFlag := flag.Int("k", 21, "k-mer length")
	threadsFlag := flag.Int("threads", 1, "counting and persist threads")
	canonicalFlag := flag.Bool("canonical", true, "fold reverse complements")
	hashFlag := flag.String("hash", "matrix", "bucket hash function: matrix or xxh3")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (count phase only)")
	flag.Parse()

	if *lenFlag > *genomeFlag || *kFlag > *lenFlag {
		fmt.Println("need k <= len <= genome")
		return
	}

	fmt.Println("Generating genome...")
	rng := rand.New(rand.NewPCG(0x1234, 0x5678))
	genome := make([]byte, *genomeFlag)
	for i := range genome {
		genome[i] = "ACGT"[rng.IntN(4)]
	}

	// Reads come from the forward strand of a G-base genome, so there are at
	// most G distinct k-mers; size the table at ~50% load.
	bases := *readsFlag * *lenFlag
	capacity := bits.CeilPow2(uint64(min(*genomeFlag, bases)) * 2)

	tmpDir, err := os.MkdirTemp("", "kmerstore-bench-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	storePath := filepath.Join(tmpDir, "bench.kmst")

	runtime.GC()
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()

	// 10ms sampling for peak heap and RSS.
	var peakAlloc, peakRSS atomic.Uint64
	peakAlloc.Store(baseline.Alloc)
	peakRSS.Store(baselineRSS)
	done := make(chan struct{})
	go func() {
		samples := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				storeMax(&peakAlloc, samples[0].Value.Uint64())
				storeMax(&peakRSS, getMaxRSS())
			}
		}
	}()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	fmt.Printf("Counting %d reads of %d bp (k=%d, %d buckets)...\n", *readsFlag, *lenFlag, *kFlag, capacity)
	src := &readSource{genome: genome, readLen: *lenFlag, n: *readsFlag, seed: 0x1234}
	countStart := time.Now()
	store, err := kmerstore.BuildFromSequences(src, *kFlag,
		kmerstore.WithThreads(*threadsFlag),
		kmerstore.WithCanonical(*canonicalFlag),
		kmerstore.WithCapacity(capacity),
		kmerstore.WithHashFunction(kmerstore.HashFunction(*hashFlag)))
	countDuration := time.Since(countStart)
	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	if err != nil {
		fmt.Printf("Count failed: %v\n", err)
		return
	}

	persistStart := time.Now()
	err = kmerstore.Persist(store, storePath, kmerstore.WithPersistThreads(*threadsFlag))
	persistDuration := time.Since(persistStart)
	_ = store.Close()
	if err != nil {
		fmt.Printf("Persist failed: %v\n", err)
		return
	}

	close(done)
	peakHeapMem := peakAlloc.Load() - baseline.Alloc
	peakRSSMem := peakRSS.Load() - baselineRSS

	loaded, err := kmerstore.Open(storePath, kmerstore.AccessRandom)
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		return
	}
	defer func() { _ = loaded.Close() }()

	coder := loaded.Coder()
	numQueries := 1_000_000
	queries := make([]mer.Key, 4096)
	for i := range queries {
		pos := rng.IntN(len(genome) - *kFlag + 1)
		queries[i], _ = coder.Encode(genome[pos : pos+*kFlag])
	}

	fmt.Println("Benchmarking queries...")
	var sink uint64
	queryStart := time.Now()
	for i := 0; i < numQueries; i++ {
		sink += loaded.CountKey(queries[i%len(queries)])
	}
	queryDuration := time.Since(queryStart)
	avgLatency := float64(queryDuration.Nanoseconds()) / float64(numQueries)

	h := loaded.Header()
	info, _ := os.Stat(storePath)
	windows := uint64(*readsFlag) * uint64(*lenFlag-*kFlag+1)

	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦══════════════════╗\n")
	fmt.Printf("║ Metric              ║ Value            ║\n")
	fmt.Printf("╠═════════════════════╬══════════════════╣\n")
	fmt.Printf("║ Distinct k-mers     ║ %12d     ║\n", h.Distinct)
	fmt.Printf("║ Total k-mers        ║ %12d     ║\n", h.Total)
	fmt.Printf("║ Load factor         ║ %8.3f         ║\n", float64(h.Distinct)/float64(h.Size))
	fmt.Printf("║ Count time          ║ %8.2f sec     ║\n", countDuration.Seconds())
	fmt.Printf("║ Count throughput    ║ %8.2f M/sec   ║\n", float64(windows)/countDuration.Seconds()/1_000_000)
	fmt.Printf("║ Persist time        ║ %8.2f sec     ║\n", persistDuration.Seconds())
	fmt.Printf("║ Store size          ║ %8.1f MB      ║\n", float64(info.Size())/1_000_000)
	fmt.Printf("║ Query latency       ║ %8.1f ns      ║\n", avgLatency)
	fmt.Printf("║ Peak heap memory    ║ %8.1f MB      ║\n", float64(peakHeapMem)/1_000_000)
	fmt.Printf("║ Peak RSS memory     ║ %8.1f MB      ║\n", float64(peakRSSMem)/1_000_000)
	fmt.Printf("╚═════════════════════╩══════════════════╝\n")
	_ = sink
}

func storeMax(v *atomic.Uint64, n uint64) {
	for {
		old := v.Load()
		if n <= old || v.CompareAndSwap(old, n) {
			return
		}
	}
}
