// Package app wires the node's components together and owns its
// top-level lifecycle: boot, serve, graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bpi-sushrut/bpinode/internal/config"
	"github.com/bpi-sushrut/bpinode/internal/persist"
	"github.com/bpi-sushrut/bpinode/internal/platform"
	"github.com/bpi-sushrut/bpinode/internal/telemetry"
	"github.com/bpi-sushrut/bpinode/pkg/actionvm"
	"github.com/bpi-sushrut/bpinode/pkg/audit"
	"github.com/bpi-sushrut/bpinode/pkg/diversity"
	"github.com/bpi-sushrut/bpinode/pkg/gateway"
	"github.com/bpi-sushrut/bpinode/pkg/oracle"
	"github.com/bpi-sushrut/bpinode/pkg/qlock"
	"github.com/bpi-sushrut/bpinode/pkg/relay"
	"github.com/bpi-sushrut/bpinode/pkg/walletbridge"
)

// ErrCryptoInit and ErrAuditChainBroken are wrap targets cmd/bpinode uses
// to map a Run failure onto spec §6's distinct process exit codes (2 and
// 3 respectively); any other error falls through to the generic code 1.
var (
	ErrCryptoInit       = errors.New("crypto-init failure")
	ErrAuditChainBroken = errors.New("audit-chain verification failure")
)

// Run boots every node component, serves the gateway's two listeners,
// and blocks until ctx is cancelled or a component fails fatally.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting bpinode",
		"mode", cfg.Mode, "vm_addr", cfg.VMAddr(), "cage_addr", cfg.CageAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "bpinode", "dev")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	nodeKey, err := loadOrDeriveNodeKey(cfg)
	if err != nil {
		return fmt.Errorf("%w: deriving node signing key: %v", ErrCryptoInit, err)
	}

	tokenKey, err := loadOrDeriveSessionTokenKey(cfg)
	if err != nil {
		return fmt.Errorf("%w: deriving session token key: %v", ErrCryptoInit, err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir %q: %w", cfg.StateDir, err)
	}

	auditLog, err := persist.Open(filepath.Join(cfg.StateDir, "audit.log"))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	auditWriter, err := audit.NewWriter(auditLog, nodeKey, logger)
	if err != nil {
		return fmt.Errorf("replaying audit log: %w", err)
	}
	if err := auditWriter.VerifyChain(); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditChainBroken, err)
	}
	auditWriter.Start(ctx)
	defer func() {
		if err := auditWriter.Close(); err != nil {
			logger.Error("closing audit writer", "error", err)
		}
	}()

	metricsReg := telemetry.NewMetricsRegistry()

	// Redis backs two optional, best-effort distributed views (spec §2
	// domain stack): QLOCK session presence mirrored for a peer node, and
	// the relay dedup drop counter exported for fleet-wide aggregation.
	// Neither gates correctness, so a Redis outage at boot only disables
	// these views rather than failing startup.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, distributed views disabled", "error", err)
			redisClient = nil
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Error("closing redis client", "error", err)
				}
			}()
		}
	}

	gate := qlock.New(qlock.Config{
		Precision:      cfg.QLockPrecision,
		DistanceBoundM: cfg.DistanceBoundM,
		TSLPSDomain:    cfg.TSLPSDomain,
		SessionTTL:     time.Duration(cfg.QLockSessionTTL) * time.Millisecond,
	}, nil).
		WithDistributedBacking(redisClient, logger).
		WithSessionTokens(qlock.NewTokenIssuer(tokenKey))
	go gate.RunSweepLoop(ctx, time.Minute, logger)

	relayCore := relay.New(relay.Config{
		DedupCacheSize:           cfg.DedupCacheSize,
		RatePerSec:               cfg.RateLimitPerSec,
		RateBurst:                float64(cfg.RateLimitBurst),
		LossProbability:          cfg.LossProbability,
		AntiEclipseMinRelays:     cfg.AntiEclipseMinRelays,
		PartitionRecoveryTimeout: time.Duration(cfg.PartitionRecoveryTimeoutMs) * time.Millisecond,
		RoutingTableSize:         cfg.RoutingTableSize,
		PeerQueueCapacity:        cfg.PeerQueueCapacity,
	}).WithDistributedBacking(redisClient)
	go relayCore.RunPartitionMonitorLoop(ctx, time.Second, auditWriter, logger)

	div := diversity.New(diversity.Policy{
		MinASNDiversity:    cfg.MinASNDiversity,
		MinRegionDiversity: cfg.MinRegionDiversity,
		MaxRelaysPerASN:    cfg.MaxRelaysPerASN,
		MaxRelaysPerRegion: cfg.MaxRelaysPerRegion,
		HealthThreshold:    cfg.DiversityHealthThresh,
		RotationInterval:   time.Duration(cfg.RotationIntervalMs) * time.Millisecond,
		FailureThreshold:   cfg.FailureThreshold,
	})
	go div.RunRotationLoop(ctx, 0, logger)

	var alertSink *actionvm.AlertSink
	if cfg.SlackBotToken != "" {
		alertSink = actionvm.NewAlertSink(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
		logger.Info("action vm security alerting enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("action vm security alerting disabled (SLACK_BOT_TOKEN not set)")
	}

	registry := actionvm.NewDefaultRegistry(logger)
	vmID := cfg.NodeID
	if vmID == "" {
		vmID = uuid.NewString()
	}
	vm := actionvm.New(vmID, registry, auditWriter, alertSink,
		actionvm.Policy{Enforcement: actionvm.EnforcementAdvisory}, logger)
	vm.Activate()

	gw := gateway.New(gateway.Config{
		BPICoreAPIURL:      cfg.BPICoreAPIURL,
		BPICoreRPCURL:      cfg.BPICoreRPCURL,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SecurityLevel:      "Nominal",
		MetricsRegistry:    metricsReg,
	}, gate, relayCore, div, vm, auditWriter, logger)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to registry database: %w", err)
	}
	defer pool.Close()

	if err := walletbridge.RunMigrations(cfg.DatabaseURL, cfg.RegistryMigrationsDir); err != nil {
		return fmt.Errorf("running wallet-registry migrations: %w", err)
	}

	heartbeatInterval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		return fmt.Errorf("parsing heartbeat interval %q: %w", cfg.HeartbeatInterval, err)
	}
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = vmID
	}
	bridge := walletbridge.New(walletbridge.Config{
		NodeID:            nodeID,
		BaseEndpoint:      "0.0.0.0",
		BasePort:          cfg.BPIAPIPort,
		HeartbeatInterval: heartbeatInterval,
	}, walletbridge.NewStore(pool), nodeKey, auditWriter, logger).
		WithPeerAuthTokens(walletbridge.NewPeerAuthTokenIssuer(tokenKey, time.Hour))

	if err := bridge.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing wallet-registry bridge: %w", err)
	}
	go bridge.RunHeartbeatLoop(ctx)

	idleTimeout, err := time.ParseDuration(cfg.OracleSessionIdleTimeout)
	if err != nil {
		return fmt.Errorf("parsing oracle session idle timeout %q: %w", cfg.OracleSessionIdleTimeout, err)
	}
	oracleRelay := oracle.New(oracle.Config{
		IdleTimeout:      idleTimeout,
		AssemblyCacheCap: cfg.OracleAssemblyCacheCap,
	}, auditWriter, logger)
	go oracleRelay.RunSweepLoop(ctx)

	return serveGateway(ctx, cfg, gw, logger)
}

// serveGateway runs the gateway's router on both named listeners (spec
// §6 "vm_port"/"http_cage_port"): the VM status surface and the public
// http_cage proxy surface are the same route table, just bound twice.
// bpi_rpc_port/bpi_api_port/rpc_entangled_port are accepted as config but
// have no dedicated listener in this core — nothing in spec §4.G names a
// distinct handler for them beyond the /api, /rpc proxy paths already
// served through http_cage_port.
func serveGateway(ctx context.Context, cfg *config.Config, gw *gateway.Gateway, logger *slog.Logger) error {
	handler := gw.Router()

	vmSrv := &http.Server{Addr: cfg.VMAddr(), Handler: handler, ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 60 * time.Second}
	cageSrv := &http.Server{Addr: cfg.CageAddr(), Handler: handler, ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 60 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("vm server listening", "addr", cfg.VMAddr())
		if err := vmSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("vm server: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		logger.Info("http_cage server listening", "addr", cfg.CageAddr())
		if err := cageSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http_cage server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gateway listeners")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		vmErr := vmSrv.Shutdown(shutdownCtx)
		cageErr := cageSrv.Shutdown(shutdownCtx)
		if vmErr != nil {
			return vmErr
		}
		return cageErr
	case err := <-errCh:
		return err
	}
}
