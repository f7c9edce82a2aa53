// Package kmerstore counts k-mers (length-k substrings of DNA sequences) and
// answers "how many times was this k-mer seen?" from either a freshly counted
// table or a persisted store file, through one query interface.
//
// # Basic Usage
//
// Counting sequence files:
//
//	src, err := kmerstore.OpenSequenceFiles("reads.fq.gz")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	store, err := kmerstore.BuildFromSequences(src, 21,
//	    kmerstore.WithThreads(8),
//	    kmerstore.WithCanonical(true),
//	    kmerstore.WithCapacity(1<<26))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := kmerstore.Persist(store, "reads.kmst"); err != nil {
//	    log.Fatal(err)
//	}
//
// Querying a persisted store:
//
//	store, err := kmerstore.Open("reads.kmst", kmerstore.AccessRandom)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	n, err := store.GetCount("ACGTACGTACGTACGTACGTA")
//
// InputSet picks between the two from file contents, so a tool can accept
// either sequence files or a store on its command line.
//
// # Package Structure
//
//   - mer: 2-bit k-mer encoding, reverse complement and canonical folding
//   - internal/hasharray: the fixed-capacity, lock-free count table
//   - internal/encoding: persisted slot layout
//   - errors: error sentinels
//
// # File Format
//
// A store file is a 64-byte prelude, a msgpack metadata record padded to a
// 64-byte boundary (see Header), then the bucket region: Size slots of an
// 8-byte little-endian key word followed by a CounterLen-byte little-endian
// count. The bucket region is mapped directly by Open, so its layout is the
// in-memory layout of a loaded table.
package kmerstore
