package oracle

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func makeBatch(t *testing.T, fromNode string, dt DataType, seq, total int, compression Compression, plain []byte) DataBatch {
	t.Helper()
	var wire []byte
	switch compression {
	case CompressionNone:
		wire = plain
	case CompressionGzip:
		wire = gzipBytes(t, plain)
	default:
		t.Fatalf("unsupported compression in test helper: %v", compression)
	}
	return DataBatch{
		BatchID:      "batch",
		FromNode:     fromNode,
		DataType:     dt,
		Sequence:     seq,
		TotalBatches: total,
		Compression:  compression,
		Data:         wire,
		Checksum:     checksum(wire),
	}
}

func TestRequestSyncCreatesPreparingSession(t *testing.T) {
	r := New(Config{}, nil, discardLogger())
	sessionID, err := r.RequestSync(context.Background(), SyncRequest{RequestingNode: "node-a", DataType: DataTypeMetrics, TotalBatches: 2}, "node-b")
	if err != nil {
		t.Fatalf("RequestSync: %v", err)
	}
	session, err := r.Status(sessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if session.Status != SyncPreparing {
		t.Fatalf("session.Status = %s, want Preparing", session.Status)
	}
}

func TestProcessBatchAssemblesOnLastBatch(t *testing.T) {
	r := New(Config{}, nil, discardLogger())
	sessionID, err := r.RequestSync(context.Background(), SyncRequest{RequestingNode: "node-a", DataType: DataTypeMetrics, TotalBatches: 2}, "node-b")
	if err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	b1 := makeBatch(t, "node-b", DataTypeMetrics, 0, 2, CompressionNone, []byte("hello, "))
	b2 := makeBatch(t, "node-b", DataTypeMetrics, 1, 2, CompressionGzip, []byte("world"))

	if err := r.ProcessBatch(context.Background(), sessionID, b1); err != nil {
		t.Fatalf("ProcessBatch b1: %v", err)
	}
	if _, ok := r.Assembled("node-b", DataTypeMetrics); ok {
		t.Fatal("expected no assembled data before final batch")
	}

	if err := r.ProcessBatch(context.Background(), sessionID, b2); err != nil {
		t.Fatalf("ProcessBatch b2: %v", err)
	}

	data, ok := r.Assembled("node-b", DataTypeMetrics)
	if !ok {
		t.Fatal("expected assembled data after final batch")
	}
	if string(data) != "hello, world" {
		t.Fatalf("assembled data = %q, want %q", data, "hello, world")
	}

	session, err := r.Status(sessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if session.Status != SyncCompleted {
		t.Fatalf("session.Status = %s, want Completed", session.Status)
	}
}

func TestProcessBatchRejectsChecksumMismatch(t *testing.T) {
	r := New(Config{}, nil, discardLogger())
	sessionID, err := r.RequestSync(context.Background(), SyncRequest{RequestingNode: "node-a", DataType: DataTypeMetrics, TotalBatches: 1}, "node-b")
	if err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	b := makeBatch(t, "node-b", DataTypeMetrics, 0, 1, CompressionNone, []byte("payload"))
	b.Checksum = [32]byte{0xFF}

	if err := r.ProcessBatch(context.Background(), sessionID, b); err == nil {
		t.Fatal("expected checksum mismatch error")
	}

	session, err := r.Status(sessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if session.Status != SyncFailed {
		t.Fatalf("session.Status = %s, want Failed", session.Status)
	}
}

func TestDecompressUnsupportedCompressionReturnsError(t *testing.T) {
	if _, err := decompress(CompressionLz4, []byte("x")); err == nil {
		t.Fatal("expected error for unsupported compression Lz4")
	}
	if _, err := decompress(CompressionZstd, []byte("x")); err == nil {
		t.Fatal("expected error for unsupported compression Zstd")
	}
}

func TestCancelSyncRemovesActiveSession(t *testing.T) {
	r := New(Config{}, nil, discardLogger())
	sessionID, err := r.RequestSync(context.Background(), SyncRequest{RequestingNode: "node-a", DataType: DataTypeMetrics, TotalBatches: 1}, "node-b")
	if err != nil {
		t.Fatalf("RequestSync: %v", err)
	}
	if err := r.CancelSync(context.Background(), sessionID); err != nil {
		t.Fatalf("CancelSync: %v", err)
	}
	if _, err := r.Status(sessionID); err == nil {
		t.Fatal("expected session to be gone after cancel")
	}
}

func TestSweepFailsIdleSessions(t *testing.T) {
	r := New(Config{IdleTimeout: time.Minute}, nil, discardLogger())
	sessionID, err := r.RequestSync(context.Background(), SyncRequest{RequestingNode: "node-a", DataType: DataTypeMetrics, TotalBatches: 1}, "node-b")
	if err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	removed := r.sweep(context.Background(), time.Now().Add(2*time.Minute))
	if removed != 1 {
		t.Fatalf("sweep removed %d sessions, want 1", removed)
	}
	if _, err := r.Status(sessionID); err == nil {
		t.Fatal("expected swept session to be gone")
	}
}

func TestSweepSkipsCompletedSessions(t *testing.T) {
	r := New(Config{IdleTimeout: time.Minute}, nil, discardLogger())
	sessionID, err := r.RequestSync(context.Background(), SyncRequest{RequestingNode: "node-a", DataType: DataTypeMetrics, TotalBatches: 1}, "node-b")
	if err != nil {
		t.Fatalf("RequestSync: %v", err)
	}
	b := makeBatch(t, "node-b", DataTypeMetrics, 0, 1, CompressionNone, []byte("done"))
	if err := r.ProcessBatch(context.Background(), sessionID, b); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	removed := r.sweep(context.Background(), time.Now().Add(2*time.Minute))
	if removed != 0 {
		t.Fatalf("sweep removed %d completed sessions, want 0", removed)
	}
}

func TestAssemblyCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newAssemblyCache(2)
	c.put("a", []byte("1"))
	c.put("b", []byte("2"))
	c.put("c", []byte("3")) // evicts "a"

	if _, ok := c.get("a"); ok {
		t.Fatal("expected \"a\" to be evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Fatal("expected \"b\" to remain")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatal("expected \"c\" to remain")
	}
}

func TestChecksumIsDomainSeparated(t *testing.T) {
	data := []byte("same-bytes")
	oracleSum := checksum(data)
	otherSum := pqcrypto.HashDomain("OTHER-DOMAIN", data)
	if oracleSum == otherSum {
		t.Fatal("expected domain-separated hashes to differ for the same input bytes")
	}
}
