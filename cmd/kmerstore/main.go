// Kmerstore counts k-mers in sequence files and queries persisted stores.
//
// Usage:
//
//	kmerstore count  -k 21 -o reads.kmst [-canonical] [-threads 8] reads.fq.gz ...
//	kmerstore query  -k 21 reads.kmst ACGTACGTACGTACGTACGTA ...
//	kmerstore info   reads.kmst
//	kmerstore verify reads.kmst ...
//
// count and query accept either sequence files (FASTA/FASTQ, optionally
// compressed) or a single store; the kind is detected from file contents.
// query reads k-mers from standard input when none are given after a "--".
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/tamirms/kmerstore"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: kmerstore <command> [flags] args...

commands:
  count   count k-mers of sequence files and write a store
  query   print counts of k-mers
  info    print a store header
  verify  check store checksums

Run "kmerstore <command> -h" for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "count":
		err = runCount(args)
	case "query":
		err = runQuery(args, os.Stdin, os.Stdout)
	case "info":
		err = runInfo(args, os.Stdout)
	case "verify":
		err = runVerify(args, os.Stdout)
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "kmerstore: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kmerstore: %v\n", err)
		os.Exit(1)
	}
}

// newLogger returns a text logger on stderr. Without -v only warnings and
// errors are shown.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runCount(args []string) error {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	k := fs.Int("k", 21, "k-mer length (1-31)")
	out := fs.String("o", "", "output store path (required)")
	threads := fs.Int("threads", runtime.NumCPU(), "counting and writing threads")
	canonical := fs.Bool("canonical", false, "fold k-mers with their reverse complement")
	capacity := fs.Uint64("capacity", 1<<24, "hash table buckets (rounded up to a power of two)")
	counterLen := fs.Int("counter-len", kmerstore.DefaultCounterLen, "bytes per persisted counter (1-8)")
	reprobe := fs.Uint("reprobe", kmerstore.DefaultMaxReprobe, "maximum reprobe index")
	hash := fs.String("hash", string(kmerstore.HashMatrix), "bucket hash function: matrix or xxh3")
	seed := fs.Uint64("seed", 0x1234567890abcdef, "hash function seed")
	verbose := fs.Bool("v", false, "verbose diagnostics on stderr")
	fs.Parse(args)

	if *out == "" {
		fs.Usage()
		return errors.New("count: -o is required")
	}
	logger := newLogger(*verbose)

	set, err := kmerstore.NewInputSet(fs.Args(), kmerstore.WithInputLogger(logger))
	if err != nil {
		return err
	}
	store, err := set.Acquire(*k, kmerstore.AccessSequential,
		kmerstore.WithThreads(*threads),
		kmerstore.WithCanonical(*canonical),
		kmerstore.WithCapacity(*capacity),
		kmerstore.WithCounterLen(*counterLen),
		kmerstore.WithMaxReprobe(*reprobe),
		kmerstore.WithHashFunction(kmerstore.HashFunction(*hash)),
		kmerstore.WithSeed(*seed),
	)
	if err != nil {
		return err
	}
	defer store.Close()
	return set.Dump(store, *out, kmerstore.WithPersistThreads(*threads))
}

func runQuery(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	k := fs.Int("k", 0, "k-mer length (default: the store's, required for sequence files)")
	canonical := fs.Bool("canonical", false, "fold k-mers when counting sequence files")
	capacity := fs.Uint64("capacity", 1<<24, "hash table buckets when counting sequence files")
	verbose := fs.Bool("v", false, "verbose diagnostics on stderr")
	fs.Parse(args)

	inputs, kmers := splitArgs(fs.Args())
	set, err := kmerstore.NewInputSet(inputs, kmerstore.WithInputLogger(newLogger(*verbose)))
	if err != nil {
		return err
	}
	if *k == 0 {
		h := set.Header()
		if h == nil {
			return errors.New("query: -k is required for sequence files")
		}
		*k = h.K()
	}
	store, err := set.Acquire(*k, kmerstore.AccessRandom,
		kmerstore.WithThreads(runtime.NumCPU()),
		kmerstore.WithCanonical(*canonical),
		kmerstore.WithCapacity(*capacity))
	if err != nil {
		return err
	}
	defer store.Close()

	w := bufio.NewWriter(stdout)
	defer w.Flush()
	emit := func(kmer string) error {
		n, err := store.GetCount(kmer)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\t%d\n", kmer, n)
		return err
	}

	if len(kmers) > 0 {
		for _, kmer := range kmers {
			if err := emit(kmer); err != nil {
				return err
			}
		}
		return nil
	}
	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := emit(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// splitArgs separates input files from k-mers. Everything after "--" is a
// k-mer; without "--", arguments that name no file are k-mers.
func splitArgs(args []string) (inputs, kmers []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	for _, a := range args {
		if _, err := os.Stat(a); err == nil {
			inputs = append(inputs, a)
		} else {
			kmers = append(kmers, a)
		}
	}
	return inputs, kmers
}

func runInfo(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("info: no store given")
	}
	for _, path := range fs.Args() {
		h, err := kmerstore.ReadHeaderFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\n", path)
		fmt.Fprintf(stdout, "  format       %s\n", h.Format)
		fmt.Fprintf(stdout, "  k            %d\n", h.K())
		fmt.Fprintf(stdout, "  canonical    %t\n", h.Canonical)
		fmt.Fprintf(stdout, "  buckets      %d\n", h.Size)
		fmt.Fprintf(stdout, "  counter len  %d bytes\n", h.CounterLen)
		fmt.Fprintf(stdout, "  max reprobe  %d\n", h.MaxReprobe)
		fmt.Fprintf(stdout, "  hash         %s (seed %#x)\n", h.HashFunction, h.Seed)
		fmt.Fprintf(stdout, "  distinct     %d\n", h.Distinct)
		fmt.Fprintf(stdout, "  total        %d\n", h.Total)
		fmt.Fprintf(stdout, "  load factor  %.3f\n", float64(h.Distinct)/float64(h.Size))
		if h.Overflowed {
			fmt.Fprintf(stdout, "  overflowed   some counts saturated at %d bytes\n", h.CounterLen)
		}
	}
	return nil
}

func runVerify(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	verbose := fs.Bool("v", false, "verbose diagnostics on stderr")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("verify: no store given")
	}
	logger := newLogger(*verbose)
	var errs []error
	for _, path := range fs.Args() {
		s, err := kmerstore.Open(path, kmerstore.AccessSequential,
			kmerstore.WithVerify(true), kmerstore.WithOpenLogger(logger))
		if err != nil {
			fmt.Fprintf(stdout, "%s: FAILED\n", path)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(stdout, "%s: OK\n", path)
		s.Close()
	}
	return errors.Join(errs...)
}
