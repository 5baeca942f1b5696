package persist

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestAppendAndReadAllRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	records := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, r := range records {
		if err := log.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i, r := range records {
		if !bytes.Equal(got[i], r) {
			t.Fatalf("record %d mismatch: got %q want %q", i, got[i], r)
		}
	}

	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReopenAfterGracefulCloseRecoversFooter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := log.Append([]byte("first")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening must truncate the trailing SHA-256 footer so appends
	// continue to produce a valid length-prefixed stream.
	log2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	defer log2.Close()

	if err := log2.Append([]byte("second")); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}

	got, err := log2.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", len(got))
	}
	if string(got[0]) != "first" || string(got[1]) != "second" {
		t.Fatalf("unexpected records: %q", got)
	}
}
