package relay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/pkg/audit"
	"github.com/redis/go-redis/v9"
)

// Config holds the tunables enumerated in spec §6.
type Config struct {
	DedupCacheSize             int
	RatePerSec                 float64
	RateBurst                  float64
	LossProbability            float64
	AntiEclipseMinRelays       int
	PartitionRecoveryTimeout   time.Duration
	RoutingTableSize           int
	PeerQueueCapacity          int // 0 means "effectively unbounded" (test mode only, per DESIGN.md Open Question 1)
}

// DropReason classifies why a broadcast delivery did not happen. All
// reasons here are silent/metric-only per spec §4.D "Failure semantics".
type DropReason int

const (
	DropNone DropReason = iota
	DropDedupDuplicate
	DropRateLimited
	DropSimulatedLoss
	DropQueueOverflow
	DropPausedOrTombstoned
)

// Relay is the relay core (spec §4.D). It exclusively owns its peer
// slots; external readers only ever hold receive-only channel ends.
type Relay struct {
	cfg Config

	mu    sync.RWMutex // guards peers slice structure (add/remove), not channel sends
	peers []*peerSlot

	dedup *dedupLRU

	sync1Count atomic.Uint64 // reused terminology mirrors qlock naming but counts successful broadcasts delivered
	dedupDrops atomic.Uint64
	rateDrops  atomic.Uint64
	lossDrops  atomic.Uint64
	overflowDrops atomic.Uint64

	lastRelayBroadcast atomic.Int64 // unix nanos
	partitionDetected  atomic.Bool
	recoveryStart      atomic.Int64 // unix nanos, 0 if not set

	relayPeerIndexes sync.Map // index -> struct{} for peers marked IsRelay, maintained via SetRelay

	redis                   *redis.Client
	lastExportedDedupDrops  uint64
}

// New creates an empty Relay with the given config.
func New(cfg Config) *Relay {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1000
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1000
	}
	return &Relay{
		cfg:   cfg,
		dedup: newDedupLRU(cfg.DedupCacheSize),
	}
}

// AddPeer allocates a new peer slot and returns its index (never reused)
// and the receive-only endpoint the caller should read from.
func (r *Relay) AddPeer(info *PeerInfo) (uint32, <-chan Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := r.cfg.PeerQueueCapacity
	if capacity <= 0 {
		capacity = 65536 // "effectively unbounded" test-mode ceiling; still bounded to avoid unkillable goroutines
	}

	idx := uint32(len(r.peers))
	slot := &peerSlot{
		index:    idx,
		endpoint: make(chan Message, capacity),
		bucket:   newTokenBucket(r.cfg.RatePerSec, r.cfg.RateBurst),
		info:     info,
	}
	r.peers = append(r.peers, slot)
	return idx, slot.endpoint
}

// RemovePeer tombstones the slot at index; its index is never reused.
func (r *Relay) RemovePeer(index uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, err := r.slotLocked(index)
	if err != nil {
		return err
	}
	slot.endpoint = nil
	return nil
}

func (r *Relay) slotLocked(index uint32) (*peerSlot, error) {
	if int(index) >= len(r.peers) {
		return nil, apperrors.New(apperrors.KindBadRequest, fmt.Sprintf("peer index %d does not exist", index))
	}
	return r.peers[index], nil
}

// PausePeer/ResumePeer toggle whether a peer receives broadcasts.
func (r *Relay) PausePeer(index uint32) error {
	r.mu.RLock()
	slot, err := r.slotLocked(index)
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	slot.paused.Store(true)
	return nil
}

func (r *Relay) ResumePeer(index uint32) error {
	r.mu.RLock()
	slot, err := r.slotLocked(index)
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	slot.paused.Store(false)
	return nil
}

// SetRelay marks whether a peer is relay-class, used by anti-eclipse
// broadcast to pick a subset when the relay set is large enough.
func (r *Relay) SetRelay(index uint32, isRelay bool) error {
	r.mu.RLock()
	slot, err := r.slotLocked(index)
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	if slot.info != nil {
		slot.info.IsRelay = isRelay
	}
	if isRelay {
		r.relayPeerIndexes.Store(index, struct{}{})
	} else {
		r.relayPeerIndexes.Delete(index)
	}
	return nil
}

// activePeers returns a snapshot of non-tombstoned peer slots.
func (r *Relay) activePeers() []*peerSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*peerSlot, 0, len(r.peers))
	for _, p := range r.peers {
		if !p.tombstoned() {
			out = append(out, p)
		}
	}
	return out
}

// BroadcastFrom implements spec §4.D's broadcast algorithm: dedup, then
// source rate limiting, then per-peer loss simulation and delivery.
// Returns the number of peers the message was actually enqueued to and
// the drop reason if the message was dropped at the source stage
// (dedup/rate); per-peer drops are silent and only reflected in metrics.
func (r *Relay) BroadcastFrom(sourceIndex uint32, msg Message) (delivered int, reason DropReason) {
	if r.dedup.checkAndInsert(msg.ID) {
		r.dedupDrops.Add(1)
		return 0, DropDedupDuplicate
	}

	r.mu.RLock()
	source, err := r.slotLocked(sourceIndex)
	r.mu.RUnlock()
	if err != nil {
		return 0, DropPausedOrTombstoned
	}

	if !source.bucket.allow() {
		r.rateDrops.Add(1)
		return 0, DropRateLimited
	}

	for _, p := range r.activePeers() {
		if p.index == sourceIndex {
			continue
		}
		if p.paused.Load() {
			continue
		}
		if rand.Float64() < r.cfg.LossProbability {
			r.lossDrops.Add(1)
			continue
		}
		if p.trySend(msg.Clone()) {
			delivered++
		} else {
			r.overflowDrops.Add(1)
		}
	}

	r.sync1Count.Add(uint64(delivered))
	return delivered, DropNone
}

// AntiEclipseBroadcast implements spec §4.D's anti-eclipse path: if fewer
// than AntiEclipseMinRelays peers are active, deliver to all of them
// ("panic mode"); otherwise deliver only to relay-class peers.
func (r *Relay) AntiEclipseBroadcast(msg Message) (delivered int) {
	defer func() { r.lastRelayBroadcast.Store(time.Now().UnixNano()) }()

	active := r.activePeers()
	if len(active) < r.cfg.AntiEclipseMinRelays {
		for _, p := range active {
			if p.paused.Load() {
				continue
			}
			if p.trySend(msg.Clone()) {
				delivered++
			} else {
				r.overflowDrops.Add(1)
			}
		}
		return delivered
	}

	for _, p := range active {
		if p.paused.Load() {
			continue
		}
		if p.info == nil || !p.info.IsRelay {
			continue
		}
		if p.trySend(msg.Clone()) {
			delivered++
		} else {
			r.overflowDrops.Add(1)
		}
	}
	return delivered
}

// CheckPartition implements spec §4.D's partition detector. Call this
// periodically (e.g. from a sweeper goroutine); it is safe to call from
// multiple goroutines.
func (r *Relay) CheckPartition(now time.Time) (detected bool, recovered bool) {
	last := r.lastRelayBroadcast.Load()
	if last == 0 {
		return r.partitionDetected.Load(), false
	}
	silence := now.Sub(time.Unix(0, last))
	timeout := r.cfg.PartitionRecoveryTimeout

	wasDetected := r.partitionDetected.Load()

	if !wasDetected {
		if silence > timeout {
			r.partitionDetected.Store(true)
			r.recoveryStart.Store(now.UnixNano())
			return true, false
		}
		return false, false
	}

	// Already flagged: if silence has cleared (a broadcast landed recently
	// enough that "now - lastRelayBroadcast" is back under the timeout),
	// clear the flag and report recovery.
	if silence <= timeout {
		r.partitionDetected.Store(false)
		r.recoveryStart.Store(0)
		return false, true
	}

	// Still silent: if it has persisted for 2x the timeout, reset the
	// recovery window so a future check can re-evaluate from a fresh start.
	recoveryStart := r.recoveryStart.Load()
	if recoveryStart != 0 && now.Sub(time.Unix(0, recoveryStart)) > 2*timeout {
		r.recoveryStart.Store(now.UnixNano())
	}
	return true, false
}

// RunPartitionMonitorLoop polls CheckPartition at interval until ctx is
// cancelled, auditing detect/recover transitions. writer and logger may
// be nil (logger silently disables logging; writer silently disables
// audit emission), so tests can run the loop with neither.
func (r *Relay) RunPartitionMonitorLoop(ctx context.Context, interval time.Duration, writer *audit.Writer, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			detected, recovered := r.CheckPartition(now)
			switch {
			case detected:
				if logger != nil {
					logger.Warn("relay partition detected")
				}
				if writer != nil {
					_, _ = writer.Append(ctx, audit.KindRelayPartitionDetected, audit.ComponentRelay, nil, nil)
				}
			case recovered:
				if logger != nil {
					logger.Info("relay partition recovered")
				}
				if writer != nil {
					_, _ = writer.Append(ctx, audit.KindRelayPartitionRecovered, audit.ComponentRelay, nil, nil)
				}
			}
			r.exportDedupOverflow(logger)
		}
	}
}

// WithDistributedBacking attaches an optional Redis client used to export
// the dedup LRU's cumulative duplicate-drop count (spec §2 domain stack:
// "relay dedup LRU overflow counter export"), so a fleet-wide dashboard
// can aggregate drop rates across nodes without each node scraping every
// peer's /metrics individually. Safe to call with a nil client, which
// disables export.
func (r *Relay) WithDistributedBacking(rdb *redis.Client) *Relay {
	r.redis = rdb
	return r
}

func (r *Relay) exportDedupOverflow(logger *slog.Logger) {
	if r.redis == nil {
		return
	}
	current := r.dedupDrops.Load()
	delta := current - r.lastExportedDedupDrops
	if delta == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.redis.IncrBy(ctx, "relay:dedup_drops_total", int64(delta)).Err(); err != nil {
		if logger != nil {
			logger.Warn("relay redis dedup export failed", "error", err)
		}
		return
	}
	r.lastExportedDedupDrops = current
}

// PartitionDetected reports the current partition-detector flag.
func (r *Relay) PartitionDetected() bool { return r.partitionDetected.Load() }

// Counters exposes the relay's drop counters for metrics/tests.
type Counters struct {
	DedupDrops, RateDrops, LossDrops, OverflowDrops, Delivered uint64
	PeerCount                                                  int
}

func (r *Relay) Counters() Counters {
	return Counters{
		DedupDrops:    r.dedupDrops.Load(),
		RateDrops:     r.rateDrops.Load(),
		LossDrops:     r.lossDrops.Load(),
		OverflowDrops: r.overflowDrops.Load(),
		Delivered:     r.sync1Count.Load(),
		PeerCount:     len(r.activePeers()),
	}
}
