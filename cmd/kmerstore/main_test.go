package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tamirms/kmerstore"
)

func TestSplitArgs(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "s.kmst")
	if err := os.WriteFile(store, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		args   []string
		inputs []string
		kmers  []string
	}{
		{"separator", []string{store, "--", "ACGT", "TTTT"}, []string{store}, []string{"ACGT", "TTTT"}},
		{"trailing separator", []string{store, "--"}, []string{store}, []string{}},
		{"by existence", []string{store, "ACGT"}, []string{store}, []string{"ACGT"}},
		{"inputs only", []string{store}, []string{store}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inputs, kmers := splitArgs(tc.args)
			if !reflect.DeepEqual(inputs, tc.inputs) {
				t.Errorf("inputs = %q, want %q", inputs, tc.inputs)
			}
			if len(kmers) != len(tc.kmers) || (len(kmers) > 0 && !reflect.DeepEqual(kmers, tc.kmers)) {
				t.Errorf("kmers = %q, want %q", kmers, tc.kmers)
			}
		})
	}
}

// TestQueryReadsStdinAfterSeparator checks that a trailing "--" with no
// k-mers makes query read them from standard input.
func TestQueryReadsStdinAfterSeparator(t *testing.T) {
	s, err := kmerstore.BuildFromSequences(kmerstore.NewSliceSource("ACGTACGTAC"), 4,
		kmerstore.WithCapacity(64))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	path := filepath.Join(t.TempDir(), "s.kmst")
	if err := kmerstore.Persist(s, path); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runQuery([]string{path, "--"}, strings.NewReader("ACGT\n\nTTTT\n"), &out); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "ACGT\t2\nTTTT\t0\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	out.Reset()
	if err := runQuery([]string{path, "--", "CGTA"}, strings.NewReader("ACGT\n"), &out); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "CGTA\t2\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
