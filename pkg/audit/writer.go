package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/internal/persist"
	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

const (
	bufferSize = 1024
	// enqueueTimeout bounds how long Append blocks on a full buffer before
	// escalating to AuditIoFailure, per spec: the log is fatal on I/O loss
	// and must never silently drop an entry the way the teacher's
	// best-effort alert writer does.
	enqueueTimeout = 2 * time.Second
)

type pending struct {
	kind      Kind
	component Component
	actor     []byte
	payload   any
	done      chan error
}

// Writer is the append-only, hash-chained audit log. Writers are
// serialized onto a single background goroutine (total order, spec §5);
// readers call Snapshot for a lock-free view.
type Writer struct {
	log        *persist.AppendLog
	signingKey *pqcrypto.KeyPair
	logger     *slog.Logger

	queue chan pending
	wg    sync.WaitGroup

	mu       sync.RWMutex
	tailHash [32]byte
	events   []Event // in-memory mirror for fast Verify/Snapshot; log is the source of truth
}

// NewWriter creates a Writer backed by an AppendLog and a signing key.
// signingKey must be scoped pqcrypto.ScopeSigning.
func NewWriter(log *persist.AppendLog, signingKey *pqcrypto.KeyPair, logger *slog.Logger) (*Writer, error) {
	w := &Writer{
		log:        log,
		signingKey: signingKey,
		logger:     logger,
		queue:      make(chan pending, bufferSize),
	}

	records, err := log.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("replaying audit log: %w", err)
	}
	for _, rec := range records {
		var e Event
		if err := json.Unmarshal(rec, &e); err != nil {
			return nil, fmt.Errorf("decoding audit record: %w", err)
		}
		w.events = append(w.events, e)
		w.tailHash = hashEvent(e)
	}

	return w, nil
}

// Start begins the background goroutine that serializes appends.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting new entries and waits for the background
// goroutine to drain, then closes the underlying log (writing its
// SHA-256 footer).
func (w *Writer) Close() error {
	close(w.queue)
	w.wg.Wait()
	return w.log.Close()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case p, ok := <-w.queue:
			if !ok {
				return
			}
			p.done <- w.appendLocked(p)
		}
	}
}

func (w *Writer) drain() {
	for p := range w.queue {
		p.done <- w.appendLocked(p)
	}
}

// Append enqueues an event for serialized, signed, hash-chained append.
// It blocks the caller until the append has landed on disk (or failed),
// matching spec §4.A's synchronous "atomically appends" contract while
// still funneling all writes through one goroutine for total order.
func (w *Writer) Append(ctx context.Context, kind Kind, component Component, actor []byte, payload any) (Event, error) {
	p := pending{kind: kind, component: component, actor: actor, payload: payload, done: make(chan error, 1)}

	select {
	case w.queue <- p:
	case <-time.After(enqueueTimeout):
		return Event{}, apperrors.New(apperrors.KindAuditIoFailure, "audit queue full: writer not keeping up")
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}

	if err := <-p.done; err != nil {
		return Event{}, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.events[len(w.events)-1], nil
}

// appendLocked performs the actual hash/sign/persist sequence. It must
// only ever be called from the single background goroutine in run/drain.
func (w *Writer) appendLocked(p pending) error {
	raw, err := json.Marshal(p.payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	payloadHash := pqcrypto.HashDomain("AUDIT-PAYLOAD", raw)

	w.mu.Lock()
	prev := w.tailHash
	w.mu.Unlock()

	e := Event{
		ID:          newEventID(),
		Kind:        p.kind,
		Component:   p.component,
		TSNanos:     newTimestamp(),
		Actor:       p.actor,
		PayloadHash: payloadHash,
		PrevHash:    prev,
	}

	sig, err := pqcrypto.Sign(w.signingKey, e.canonicalEncoding())
	if err != nil {
		return apperrors.Wrap(apperrors.KindAuditIoFailure, fmt.Errorf("signing event: %w", err))
	}
	e.Signature = sig

	encoded, err := json.Marshal(e)
	if err != nil {
		return apperrors.Wrap(apperrors.KindAuditIoFailure, fmt.Errorf("encoding event: %w", err))
	}
	if err := w.log.Append(encoded); err != nil {
		// Fatal: the caller is expected to treat this as process-terminating
		// per spec §7 "Fatal: ... AuditIoFailure".
		return apperrors.Wrap(apperrors.KindAuditIoFailure, err)
	}

	w.mu.Lock()
	w.tailHash = hashEvent(e)
	w.events = append(w.events, e)
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Debug("audit event appended", "kind", e.Kind, "component", e.Component, "id", e.ID)
	}
	return nil
}

// hashEvent computes the chain hash of a fully-signed event: H(event_bytes).
func hashEvent(e Event) [32]byte {
	return pqcrypto.HashDomain("AUDIT-CHAIN", e.canonicalEncoding())
}

// VerifyChain re-derives the hash chain and signature over every event
// replayed from disk at construction time, using the package-level
// Verify against this writer's own signing key. Call it once at
// startup, before Start: spec §7 treats a broken chain as fatal
// (process exit code 3), distinct from an in-flight AuditIoFailure
// raised by Append.
func (w *Writer) VerifyChain() error {
	events := w.Snapshot()
	return Verify(events, w.signingKey.PublicKey, 0, len(events))
}

// Snapshot returns a lock-free copy of all events currently in the chain.
func (w *Writer) Snapshot() []Event {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}

// TailHash returns the current chain tail hash.
func (w *Writer) TailHash() [32]byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tailHash
}
