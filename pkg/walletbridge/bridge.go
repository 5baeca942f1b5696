package walletbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/pkg/audit"
	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

// Config configures one Bridge instance.
type Config struct {
	NodeID            string
	BaseEndpoint      string // host, e.g. "127.0.0.1"
	BasePort          int
	HeartbeatInterval time.Duration
}

// Bridge is the Wallet-Registry Bridge (spec §4.H): it binds the node's
// identity to its typed role set, runs the heartbeat task, and tracks
// mining sessions. Modeled on the teacher's tenant Provisioner for
// registration and on RunScheduleTopUpLoop for the heartbeat.
type Bridge struct {
	cfg    Config
	store  *Store
	key    *pqcrypto.KeyPair
	writer *audit.Writer
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*MiningSession

	tokens        *PeerAuthTokenIssuer
	selfAuthToken string
}

// WithPeerAuthTokens attaches a PeerAuthTokenIssuer used to mint the
// node's own peer-auth token at Initialize (spec §2 domain stack: go-jose
// "Wallet-Registry bridge peer-auth tokens"). Safe to call with a nil
// issuer, which disables token issuance.
func (b *Bridge) WithPeerAuthTokens(issuer *PeerAuthTokenIssuer) *Bridge {
	b.tokens = issuer
	return b
}

// New constructs a Bridge. The store's schema must already be migrated
// (see RunMigrations).
func New(cfg Config, store *Store, key *pqcrypto.KeyPair, writer *audit.Writer, logger *slog.Logger) *Bridge {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Minute
	}
	return &Bridge{
		cfg:      cfg,
		store:    store,
		key:      key,
		writer:   writer,
		logger:   logger,
		sessions: make(map[string]*MiningSession),
	}
}

// Initialize registers all eleven typed roles for this node (spec §4.H).
// Registration is idempotent: a repeat call is a no-op against rows
// already present.
func (b *Bridge) Initialize(ctx context.Context) error {
	now := time.Now()
	for _, role := range AllRoles() {
		authority, stake := defaultAuthority(role)
		port := b.cfg.BasePort + basePortOffset(role)
		entry := Entry{
			NodeID:         b.cfg.NodeID,
			Role:           role,
			Endpoint:       fmt.Sprintf("%s:%d", b.cfg.BaseEndpoint, port),
			Port:           port,
			Stake:          stake,
			AuthorityLevel: authority,
			Capabilities:   defaultCapabilities(role),
			RegisteredAt:   now,
			LastActivity:   now,
		}
		if err := b.store.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("registering role %s: %w", role, err)
		}
	}

	if b.tokens != nil {
		token, err := b.tokens.Issue(b.cfg.NodeID, "node")
		if err != nil {
			return fmt.Errorf("issuing peer-auth token: %w", err)
		}
		b.mu.Lock()
		b.selfAuthToken = token
		b.mu.Unlock()
	}

	b.logger.Info("wallet-registry bridge initialized",
		"node_id", b.cfg.NodeID, "roles", len(AllRoles()))

	if b.writer != nil {
		_, _ = b.writer.Append(ctx, audit.KindWalletRegistryBind, audit.ComponentWalletBridge, []byte(b.cfg.NodeID),
			map[string]any{"node_id": b.cfg.NodeID, "roles": len(AllRoles())})
	}
	return nil
}

// Roles returns every entry registered for this node.
func (b *Bridge) Roles(ctx context.Context) ([]Entry, error) {
	return b.store.List(ctx, b.cfg.NodeID)
}

// SelfAuthToken returns the peer-auth token minted for this node at
// Initialize, or "" if no PeerAuthTokenIssuer was attached.
func (b *Bridge) SelfAuthToken() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfAuthToken
}

// RunHeartbeatLoop updates last_activity at cfg.HeartbeatInterval until
// ctx is cancelled, modeled directly on the teacher's
// RunScheduleTopUpLoop (run once at start, then on each tick).
func (b *Bridge) RunHeartbeatLoop(ctx context.Context) {
	b.logger.Info("wallet-registry heartbeat loop started", "interval", b.cfg.HeartbeatInterval)
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	b.heartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("wallet-registry heartbeat loop stopped")
			return
		case <-ticker.C:
			b.heartbeat(ctx)
		}
	}
}

func (b *Bridge) heartbeat(ctx context.Context) {
	if err := b.store.Heartbeat(ctx, b.cfg.NodeID); err != nil {
		b.logger.Error("wallet-registry heartbeat failed", "error", err)
	}
}

// StartMining begins a mining session for walletID, returning its
// session id. Sessions are created in MiningStarting and advanced to
// MiningActive before StartMining returns.
func (b *Bridge) StartMining(ctx context.Context, walletID string, threads int) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now()

	b.mu.Lock()
	b.sessions[sessionID] = &MiningSession{
		SessionID:     sessionID,
		WalletID:      walletID,
		NodeID:        b.cfg.NodeID,
		Threads:       threads,
		Status:        MiningStarting,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	b.mu.Unlock()

	if _, err := SignMessage(b.key, b.cfg.NodeID, MessageStartMining, map[string]any{
		"session_id": sessionID, "wallet_id": walletID, "threads": threads,
	}); err != nil {
		return "", fmt.Errorf("signing start_mining message: %w", err)
	}

	b.advance(sessionID, MiningActive)
	return sessionID, nil
}

// StopMining transitions a session toward termination.
func (b *Bridge) StopMining(ctx context.Context, sessionID string) error {
	b.mu.RLock()
	_, ok := b.sessions[sessionID]
	b.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "mining session not found").WithDetails(map[string]any{"session_id": sessionID})
	}

	if _, err := SignMessage(b.key, b.cfg.NodeID, MessageStopMining, map[string]any{"session_id": sessionID}); err != nil {
		return fmt.Errorf("signing stop_mining message: %w", err)
	}

	b.advance(sessionID, MiningStopping)
	b.advance(sessionID, MiningDisconnected)
	return nil
}

// GetMiningStatus returns the current session state.
func (b *Bridge) GetMiningStatus(sessionID string) (MiningSession, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	session, ok := b.sessions[sessionID]
	if !ok {
		return MiningSession{}, apperrors.New(apperrors.KindNotFound, "mining session not found").WithDetails(map[string]any{"session_id": sessionID})
	}
	return *session, nil
}

func (b *Bridge) advance(sessionID string, to MiningStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session, ok := b.sessions[sessionID]; ok {
		session.Status = to
		session.LastHeartbeat = time.Now()
	}
}
