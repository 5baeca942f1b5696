// Package persist implements the node's per-component persisted state
// layout: append-only files of 4-byte length-prefixed records, with a
// SHA-256 footer written over the whole file on graceful shutdown (spec
// §6 "Persisted state layout"). No library in the retrieved corpus ships
// a reusable append-only record-log abstraction, so this is built
// directly on os/encoding/binary/crypto-sha256, matching the teacher's
// own use of plain stdlib for infra-specific file handling.
package persist

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// AppendLog is a single append-only, length-prefixed record file.
// Writers are serialized by an internal mutex; readers should use
// ReadAll for a lock-free snapshot taken under a brief read lock.
type AppendLog struct {
	path string

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer

	closed bool
}

// Open opens (creating if absent) the append log at path. If the file
// carries a trailing SHA-256 footer from a previous graceful Close (or a
// truncated partial record from a crash), Open recovers by truncating the
// file back to the end of the last fully-written record before resuming
// appends — no committed record is ever dropped, only trailing bytes that
// were never a complete record.
func Open(path string) (*AppendLog, error) {
	if err := recoverTrailingBytes(path); err != nil {
		return nil, fmt.Errorf("recovering append log %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening append log %s: %w", path, err)
	}
	return &AppendLog{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// recoverTrailingBytes truncates path to the offset just past the last
// fully-parseable record, discarding any trailing footer or partial frame.
func recoverTrailingBytes(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	validEnd, err := lastValidOffset(f)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if validEnd < info.Size() {
		if err := f.Truncate(validEnd); err != nil {
			return fmt.Errorf("truncating trailing bytes: %w", err)
		}
	}
	return nil
}

// lastValidOffset scans f from the start and returns the byte offset
// immediately after the last complete length-prefixed record.
func lastValidOffset(f *os.File) (int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	r := bufio.NewReader(f)

	var offset int64
	for {
		var lenBuf [4]byte
		n, err := io.ReadFull(r, lenBuf[:])
		if n == 4 {
			recLen := binary.BigEndian.Uint32(lenBuf[:])
			rec := make([]byte, recLen)
			rn, rerr := io.ReadFull(r, rec)
			if rerr == nil {
				offset += 4 + int64(rn)
				continue
			}
			break
		}
		if err != nil {
			break
		}
	}
	return offset, nil
}

// Append writes one length-prefixed record and flushes it to the OS. It
// returns a fatal error (AuditIoFailure-class) on any I/O failure; the
// caller must never treat a write failure here as retryable silently —
// per spec §4.A "Fatal on I/O loss; never silently drops."
func (l *AppendLog) Append(record []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("append log %s is closed", l.path)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(record)))

	if _, err := l.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("writing record length: %w", err)
	}
	if _, err := l.w.Write(record); err != nil {
		return fmt.Errorf("writing record body: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flushing record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing record: %w", err)
	}
	return nil
}

// ReadAll returns every record currently persisted, in append order. It
// reads a lock-free snapshot: readers never block writers for long, only
// for the duration of positioning the read cursor.
func (l *AppendLog) ReadAll() ([][]byte, error) {
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s for read: %w", path, err)
	}
	defer f.Close()

	var records [][]byte
	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("reading record length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		rec := make([]byte, n)
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, fmt.Errorf("reading record body: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close writes a SHA-256 footer over the file contents and closes it, per
// spec §6's "per-file SHA-256 footer written on graceful shutdown."
func (l *AppendLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flushing before footer: %w", err)
	}

	sum, err := l.checksumLocked()
	if err != nil {
		return err
	}

	if _, err := l.file.Write(sum[:]); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing footer: %w", err)
	}
	return l.file.Close()
}

func (l *AppendLog) checksumLocked() ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return sum, fmt.Errorf("seeking for checksum: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, l.file); err != nil {
		return sum, fmt.Errorf("hashing for checksum: %w", err)
	}
	copy(sum[:], h.Sum(nil))
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return sum, fmt.Errorf("seeking back to end: %w", err)
	}
	return sum, nil
}
