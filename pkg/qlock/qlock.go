// Package qlock implements the ENC-Lock/QLOCK admission gate (spec
// §4.C): per-request phase-identity check, distance bounding, and the
// QLOCK session lifecycle (issue, renew, release, sweep-on-expiry).
package qlock

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config holds the gate's tunables (spec §6 "QLOCK").
type Config struct {
	Precision      float64
	DistanceBoundM float64
	TSLPSDomain    string
	SessionTTL     time.Duration
}

// DistanceEstimator reports the estimated distance in meters to the peer
// making the current request. The default implementation returns a
// declared distance, not a time-of-flight measurement; callers needing
// stronger guarantees can supply their own estimator.
type DistanceEstimator interface {
	EstimateMeters(peerID string) (float64, error)
}

// HeaderDistanceEstimator implements DistanceEstimator by trusting the
// value last registered for a peer via Declare. It does not parse any
// request header or check a signature itself, and a peer with no
// declared value fails the distance bound.
type HeaderDistanceEstimator struct {
	Values map[string]float64
	mu     sync.RWMutex
}

func NewHeaderDistanceEstimator() *HeaderDistanceEstimator {
	return &HeaderDistanceEstimator{Values: make(map[string]float64)}
}

func (h *HeaderDistanceEstimator) Declare(peerID string, meters float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Values[peerID] = meters
}

func (h *HeaderDistanceEstimator) EstimateMeters(peerID string) (float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.Values[peerID]
	if !ok {
		return 0, apperrors.New(apperrors.KindDistanceBoundViolation, "no declared distance for peer "+peerID)
	}
	return v, nil
}

// Session is a QLOCK Session (spec §3). At most one active session may
// exist per (ResourceID, WalletID).
type Session struct {
	SessionID  string
	ResourceID string
	WalletID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	SyncCount  uint64
	Theta      float64
}

func (s Session) expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Gate is the ENC-Lock/QLOCK admission gate.
type Gate struct {
	cfg       Config
	distance  DistanceEstimator
	mu        sync.Mutex
	sessions  map[string]*Session // keyed by resourceID+"|"+walletID
	sync1Count uint64
	sync0Count uint64

	// redis, when set via WithDistributedBacking, mirrors session
	// issue/release so a peer node sharing the same Redis can observe
	// session presence. It never gates Admit/Renew/Release: the
	// in-memory map stays the single source of truth and Redis writes
	// are best-effort, logged but not fatal on failure.
	redis  *redis.Client
	logger *slog.Logger

	tokens *TokenIssuer
}

// WithSessionTokens attaches a TokenIssuer so Admit results can carry a
// portable, signed session token (spec §2 domain stack: go-jose "QLOCK
// session tokens"). Safe to call with a nil issuer, which disables it.
func (g *Gate) WithSessionTokens(issuer *TokenIssuer) *Gate {
	g.tokens = issuer
	return g
}

// IssueSessionToken signs sess into a portable token if a TokenIssuer is
// configured; it returns "", nil otherwise.
func (g *Gate) IssueSessionToken(sess *Session) (string, error) {
	if g.tokens == nil {
		return "", nil
	}
	return g.tokens.Issue(sess)
}

// New creates a Gate. distance may be nil, in which case
// NewHeaderDistanceEstimator() is used.
func New(cfg Config, distance DistanceEstimator) *Gate {
	if distance == nil {
		distance = NewHeaderDistanceEstimator()
	}
	if cfg.Precision == 0 {
		cfg.Precision = 1e-10
	}
	if cfg.DistanceBoundM == 0 {
		cfg.DistanceBoundM = 50
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 5 * time.Minute
	}
	return &Gate{
		cfg:      cfg,
		distance: distance,
		sessions: make(map[string]*Session),
	}
}

func sessionKey(resourceID, walletID string) string { return resourceID + "|" + walletID }

// WithDistributedBacking attaches an optional Redis client used to mirror
// session presence across nodes (spec §2 domain stack: "QLOCK session
// store, optional distributed backing"). Safe to call with a nil client,
// which disables mirroring.
func (g *Gate) WithDistributedBacking(rdb *redis.Client, logger *slog.Logger) *Gate {
	g.redis = rdb
	g.logger = logger
	return g
}

func (g *Gate) mirrorSessionIssued(sess *Session, ttl time.Duration) {
	if g.redis == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.redis.Set(ctx, "qlock:session:"+sess.SessionID, sess.ResourceID+"|"+sess.WalletID, ttl).Err(); err != nil && g.logger != nil {
			g.logger.Warn("qlock redis session mirror failed", "error", err)
		}
	}()
}

func (g *Gate) mirrorSessionReleased(sessionID string) {
	if g.redis == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.redis.Del(ctx, "qlock:session:"+sessionID).Err(); err != nil && g.logger != nil {
			g.logger.Warn("qlock redis session unmirror failed", "error", err)
		}
	}()
}

// Phase computes θ = map(H_domain("VM-ENC", tslps_domain, requestBytes), [0, π/2]).
func (g *Gate) Phase(requestBytes []byte) float64 {
	h := pqcrypto.HashDomain("VM-ENC", []byte(g.cfg.TSLPSDomain), requestBytes)
	// Use the first 8 bytes of the domain-separated hash as a uniform
	// uint64, then map into [0, π/2].
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(h[i])
	}
	frac := float64(v) / float64(math.MaxUint64)
	return frac * (math.Pi / 2)
}

// phaseIdentityHolds implements the sync0/sync1 phase check. Note that
// sin²θ+cos²θ is the Pythagorean identity and equals 1 for every real θ
// up to floating-point rounding error, so this check is a tight
// precision gate against computation error rather than a selective
// filter — as specified.
func phaseIdentityHolds(theta, precision float64) bool {
	s, c := math.Sin(theta), math.Cos(theta)
	return math.Abs(s*s+c*c-1) <= precision
}

// AdmitResult is the outcome of a gate Admit call.
type AdmitResult struct {
	Sync1      bool
	Session    *Session
	NoisePayload []byte // set only when Sync1 is false due to phase failure (sync0)
	Err        error   // set only when Sync1 is false due to distance-bound failure
}

// Admit implements the §4.C admission algorithm for one inbound request.
func (g *Gate) Admit(peerID, resourceID, walletID string, requestBytes []byte, now time.Time) AdmitResult {
	theta := g.Phase(requestBytes)

	if !phaseIdentityHolds(theta, g.cfg.Precision) {
		g.mu.Lock()
		g.sync0Count++
		g.mu.Unlock()
		payload, err := randomNoise()
		if err != nil {
			payload = make([]byte, 200)
		}
		return AdmitResult{Sync1: false, NoisePayload: payload}
	}

	dist, err := g.distance.EstimateMeters(peerID)
	if err != nil || dist > g.cfg.DistanceBoundM {
		return AdmitResult{Sync1: false, Err: apperrors.New(apperrors.KindDistanceBoundViolation, "peer distance exceeds bound")}
	}

	sess := g.issueOrRenew(resourceID, walletID, theta, now)
	g.mu.Lock()
	g.sync1Count++
	g.mu.Unlock()
	return AdmitResult{Sync1: true, Session: sess}
}

func (g *Gate) issueOrRenew(resourceID, walletID string, theta float64, now time.Time) *Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := sessionKey(resourceID, walletID)
	if existing, ok := g.sessions[key]; ok && !existing.expired(now) {
		existing.ExpiresAt = now.Add(g.cfg.SessionTTL)
		existing.SyncCount++
		existing.Theta = theta
		g.mirrorSessionIssued(existing, g.cfg.SessionTTL)
		return existing
	}

	sess := &Session{
		SessionID:  uuid.NewString(),
		ResourceID: resourceID,
		WalletID:   walletID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(g.cfg.SessionTTL),
		SyncCount:  1,
		Theta:      theta,
	}
	g.sessions[key] = sess
	g.mirrorSessionIssued(sess, g.cfg.SessionTTL)
	return sess
}

// Renew extends a session's expiry if it is still valid. It returns
// apperrors.KindSessionExpired if the session has already lapsed.
func (g *Gate) Renew(sessionID string, now time.Time) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, s := range g.sessions {
		if s.SessionID == sessionID {
			if s.expired(now) {
				return nil, apperrors.New(apperrors.KindSessionExpired, "session "+sessionID+" has expired")
			}
			s.ExpiresAt = now.Add(g.cfg.SessionTTL)
			return s, nil
		}
	}
	return nil, apperrors.New(apperrors.KindSessionExpired, "session "+sessionID+" not found")
}

// Release removes a session. It is idempotent: releasing an unknown or
// already-released session id is not an error.
func (g *Gate) Release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, s := range g.sessions {
		if s.SessionID == sessionID {
			delete(g.sessions, key)
			g.mirrorSessionReleased(sessionID)
			return
		}
	}
}

// Sweep removes all expired sessions, returning how many were swept.
// Intended to be called periodically by a background sweeper goroutine.
func (g *Gate) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for key, s := range g.sessions {
		if s.expired(now) {
			delete(g.sessions, key)
			n++
		}
	}
	return n
}

// RunSweepLoop runs Sweep at interval until ctx is cancelled, the same
// ticker-loop idiom used by the node's other background sweepers.
func (g *Gate) RunSweepLoop(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := g.Sweep(now); n > 0 && logger != nil {
				logger.Info("qlock session sweep", "expired", n)
			}
		}
	}
}

// Counters exposes sync0/sync1 counts for metrics and tests.
func (g *Gate) Counters() (sync0, sync1 uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sync0Count, g.sync1Count
}

func randomNoise() ([]byte, error) {
	lenBuf := make([]byte, 2)
	if _, err := rand.Read(lenBuf); err != nil {
		return nil, err
	}
	n := 200 + int(uint16(lenBuf[0])<<8|uint16(lenBuf[1]))%1801 // [200, 2000]
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
