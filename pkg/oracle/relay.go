package oracle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/pkg/audit"
)

// Config configures one Relay instance.
type Config struct {
	IdleTimeout      time.Duration // spec §4.I: sessions idle > 5 min are swept
	AssemblyCacheCap int
	SweepInterval    time.Duration
}

// Stats mirrors the original source's DataRelayStats, trimmed to the
// fields this core actually maintains.
type Stats struct {
	TotalSyncRequests uint64
	CompletedSyncs    uint64
	FailedSyncs       uint64
	CancelledSyncs    uint64
	BytesTransferred  uint64
	ActiveSyncs       int
}

// Relay is the Oracle Data Relay (spec §4.I): request_sync session
// tracking, chunked batch ingestion with checksum verification,
// reassembly, and idle-timeout sweeping.
type Relay struct {
	cfg    Config
	writer *audit.Writer
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*SyncSession
	pending  map[string][]DataBatch // assembleKey -> batches awaiting reassembly
	cache    *assemblyCache
	stats    Stats
}

// New constructs a Relay. Defaults: IdleTimeout=5m, SweepInterval=1m,
// AssemblyCacheCap=1000, matching the original source's background
// service intervals (60s session sweep, 300s cache check; the idle
// bound itself is the 300s named in spec §4.I).
func New(cfg Config, writer *audit.Writer, logger *slog.Logger) *Relay {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Relay{
		cfg:      cfg,
		writer:   writer,
		logger:   logger,
		sessions: make(map[string]*SyncSession),
		pending:  make(map[string][]DataBatch),
		cache:    newAssemblyCache(cfg.AssemblyCacheCap),
	}
}

// RequestSync creates a SyncSession and returns its id, spec §4.I
// "request_sync(req, target) -> session_id".
func (r *Relay) RequestSync(ctx context.Context, req SyncRequest, targetNode string) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now()

	r.mu.Lock()
	r.sessions[sessionID] = &SyncSession{
		SessionID:    sessionID,
		Request:      req,
		TargetNode:   targetNode,
		TotalBatches: req.TotalBatches,
		StartedAt:    now,
		LastActivity: now,
		Status:       SyncPreparing,
	}
	r.stats.TotalSyncRequests++
	r.stats.ActiveSyncs = len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("oracle sync requested",
		"session_id", sessionID, "target_node", targetNode, "data_type", req.DataType)
	return sessionID, nil
}

// ProcessBatch ingests one DataBatch for an in-flight session. When the
// last batch for (from_node, data_type) arrives, it triggers
// reassembly (spec §4.I).
func (r *Relay) ProcessBatch(ctx context.Context, sessionID string, b DataBatch) error {
	if err := verifyBatch(b); err != nil {
		r.fail(ctx, sessionID, err)
		return err
	}
	b.ReceivedAt = time.Now()

	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return apperrors.New(apperrors.KindNotFound, "sync session not found").WithDetails(map[string]any{"session_id": sessionID})
	}
	session.Status = SyncTransferring
	session.LastActivity = time.Now()
	session.BatchesSent++
	session.BytesMoved += uint64(len(b.Data))
	r.stats.BytesTransferred += uint64(len(b.Data))

	key := assembleKey(b.FromNode, b.DataType)
	r.pending[key] = append(r.pending[key], b)
	complete := len(r.pending[key]) == b.TotalBatches
	var batches []DataBatch
	if complete {
		batches = r.pending[key]
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !complete {
		return nil
	}

	data, err := reassemble(batches)
	if err != nil {
		r.fail(ctx, sessionID, err)
		return err
	}

	r.cache.put(key, data)

	r.mu.Lock()
	session.Status = SyncCompleted
	r.stats.CompletedSyncs++
	r.mu.Unlock()

	if r.writer != nil {
		_, _ = r.writer.Append(ctx, audit.KindOracleSyncComplete, audit.ComponentOracle, nil,
			map[string]any{"session_id": sessionID, "bytes": len(data)})
	}
	return nil
}

func (r *Relay) fail(ctx context.Context, sessionID string, cause error) {
	r.mu.Lock()
	if session, ok := r.sessions[sessionID]; ok {
		session.Status = SyncFailed
	}
	r.stats.FailedSyncs++
	r.mu.Unlock()

	r.logger.Warn("oracle sync failed", "session_id", sessionID, "error", cause)
	if r.writer != nil {
		_, _ = r.writer.Append(ctx, audit.KindOracleSyncFailed, audit.ComponentOracle, nil,
			map[string]any{"session_id": sessionID, "reason": cause.Error()})
	}
}

// Assembled returns the reassembled payload for (fromNode, dataType)
// if present in the cache.
func (r *Relay) Assembled(fromNode string, dt DataType) ([]byte, bool) {
	return r.cache.get(assembleKey(fromNode, dt))
}

// CancelSync cancels an in-flight session, discarding any batches
// already enqueued for it — the supplemented feature named in
// original_source's `cancel_sync`, distinct from idle-expiry.
func (r *Relay) CancelSync(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return apperrors.New(apperrors.KindNotFound, "sync session not found").WithDetails(map[string]any{"session_id": sessionID})
	}
	session.Status = SyncCancelled
	r.stats.CancelledSyncs++
	delete(r.pending, assembleKey(session.TargetNode, session.Request.DataType))
	delete(r.sessions, sessionID)
	r.stats.ActiveSyncs = len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("oracle sync cancelled", "session_id", sessionID)
	return nil
}

// Status returns a session's current state.
func (r *Relay) Status(sessionID string) (SyncSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return SyncSession{}, apperrors.New(apperrors.KindNotFound, "sync session not found").WithDetails(map[string]any{"session_id": sessionID})
	}
	return *session, nil
}

// GetStats returns a snapshot of relay statistics.
func (r *Relay) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// ActiveSessions lists ids of all non-terminal sessions.
func (r *Relay) ActiveSessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id, session := range r.sessions {
		if session.Status == SyncCompleted || session.Status == SyncFailed || session.Status == SyncCancelled {
			continue
		}
		out = append(out, id)
	}
	return out
}

// sweep removes sessions idle past cfg.IdleTimeout together with their
// partial assemblies, counting each as a failed sync and auditing it as
// OracleSyncFailed (spec §4.I).
func (r *Relay) sweep(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var expired []string
	for id, session := range r.sessions {
		if session.Status == SyncCompleted || session.Status == SyncCancelled {
			continue
		}
		if session.expired(now, r.cfg.IdleTimeout) {
			expired = append(expired, id)
			delete(r.pending, assembleKey(session.TargetNode, session.Request.DataType))
		}
	}
	for _, id := range expired {
		delete(r.sessions, id)
		r.stats.FailedSyncs++
	}
	r.stats.ActiveSyncs = len(r.sessions)
	r.mu.Unlock()

	for _, id := range expired {
		r.logger.Warn("oracle sync session expired", "session_id", id)
		if r.writer != nil {
			_, _ = r.writer.Append(ctx, audit.KindOracleSyncFailed, audit.ComponentOracle, nil,
				map[string]any{"session_id": id, "reason": "idle-timeout"})
		}
	}
	return len(expired)
}

// RunSweepLoop runs the idle-session sweeper at cfg.SweepInterval until
// ctx is cancelled, modeled on the same ticker-loop idiom used
// throughout the node's background tasks.
func (r *Relay) RunSweepLoop(ctx context.Context) {
	r.logger.Info("oracle sweep loop started", "interval", r.cfg.SweepInterval, "idle_timeout", r.cfg.IdleTimeout)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("oracle sweep loop stopped")
			return
		case <-ticker.C:
			if n := r.sweep(ctx, time.Now()); n > 0 {
				r.logger.Info("oracle sweep removed expired sessions", "count", n)
			}
		}
	}
}
