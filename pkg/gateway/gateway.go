package gateway

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bpi-sushrut/bpinode/pkg/actionvm"
	"github.com/bpi-sushrut/bpinode/pkg/audit"
	"github.com/bpi-sushrut/bpinode/pkg/diversity"
	"github.com/bpi-sushrut/bpinode/pkg/qlock"
	"github.com/bpi-sushrut/bpinode/pkg/relay"
)

// Config holds gateway-level settings (spec §6 "Gateway ports" and CORS).
type Config struct {
	BPICoreAPIURL      string
	BPICoreRPCURL      string
	CORSAllowedOrigins []string
	SecurityLevel      string // e.g. "Nominal", reported in X-Security

	// MetricsRegistry, when non-nil, is exposed at GET /metrics in
	// Prometheus exposition format alongside the JSON /__vm/metrics view.
	MetricsRegistry *prometheus.Registry
}

// Gateway is the VM Server (spec §4.G). It owns the Gate and holds
// shared references to the Relay, the Diversity engine, the Action VM,
// and the Audit writer — matching spec §3's ownership note verbatim.
type Gateway struct {
	cfg    Config
	gate   *qlock.Gate
	rl     *relay.Relay
	div    *diversity.Engine
	vm     *actionvm.Orchestrator
	writer *audit.Writer
	logger *slog.Logger
	shadow *ShadowRegistry

	totalRequests         atomic.Uint64
	postQuantumOperations atomic.Uint64
	routeCounters         routeCounterMap
}

func New(cfg Config, gate *qlock.Gate, rl *relay.Relay, div *diversity.Engine, vm *actionvm.Orchestrator, writer *audit.Writer, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		gate:   gate,
		rl:     rl,
		div:    div,
		vm:     vm,
		writer: writer,
		logger: logger,
		shadow: NewShadowRegistry(),
	}
}

// Shadow exposes the gateway's shadow registry for operator provisioning.
func (g *Gateway) Shadow() *ShadowRegistry { return g.shadow }

// Router builds the full chi router per spec §4.G/§6's route table.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(recoverer(g.writer, g.logger))
	r.Use(requestLogger(g.logger))
	r.Use(metricsMiddleware)
	r.Use(securityHeaders(true, g.securityLevel()))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   g.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Wallet-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Proto", "X-Security", "X-Quantum-Safe"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(g.countRequest)

	if g.cfg.MetricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.cfg.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Get("/__vm/status", g.handleVMStatus)
	r.Get("/__vm/metrics", g.handleVMMetrics)
	r.Get("/__vm/instances", g.handleVMInstances)
	r.Get("/__vm/health", g.handleVMHealth)

	r.Get("/__cage/status", g.handleCageStatus)
	r.Get("/__cage/info", g.handleCageInfo)

	r.Get("/__shadow/domains", g.handleShadowDomains)
	r.Post("/__shadow/register", g.handleShadowRegister)

	r.Get("/__zklock/status", g.handleZKLockStatus)

	if g.cfg.BPICoreAPIURL != "" {
		if target, err := url.Parse(g.cfg.BPICoreAPIURL); err == nil {
			r.Handle("/api/*", g.gated(newReverseProxy(target, g.logger)))
		}
	}
	if g.cfg.BPICoreRPCURL != "" {
		if target, err := url.Parse(g.cfg.BPICoreRPCURL); err == nil {
			r.Handle("/rpc/*", g.gated(newReverseProxy(target, g.logger)))
		}
	}

	r.Get("/httpcg/{domain}/*", g.handleHTTPCG)

	return r
}

func (g *Gateway) securityLevel() string {
	if g.cfg.SecurityLevel == "" {
		return "Nominal"
	}
	return g.cfg.SecurityLevel
}

func (g *Gateway) countRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.totalRequests.Add(1)
		g.postQuantumOperations.Add(1)
		route := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		g.routeCounters.inc(route)
		next.ServeHTTP(w, r)
		g.writer.Append(r.Context(), audit.KindGatewayRequest, audit.ComponentGateway, nil,
			map[string]any{"path": r.URL.Path, "method": r.Method, "request_id": RequestIDFromContext(r.Context())})
	})
}

// gated wraps a handler with the ENC-Lock/QLOCK admission check (spec
// §4.G step (ii)): the Gate is consulted before the request reaches the
// proxy, relay selection, or VM routing.
func (g *Gateway) gated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resourceID := r.URL.Path
		walletID := r.Header.Get("X-Wallet-ID")
		peerID := r.RemoteAddr

		requestBytes := []byte(r.Method + " " + r.URL.String())
		result := g.gate.Admit(peerID, resourceID, walletID, requestBytes, time.Now())

		if !result.Sync1 {
			if result.NoisePayload != nil {
				w.Header().Set("ENC-Lock-Status", "sync0-infinite-collapse")
				w.WriteHeader(http.StatusOK)
				w.Write(result.NoisePayload)
				g.writer.Append(r.Context(), audit.KindQLockSync0, audit.ComponentGate, []byte(peerID), nil)
				return
			}
			w.Header().Set("ENC-Lock-Error", "Distance-Bound-Violation")
			respondError(w, r, http.StatusForbidden, "DistanceBoundViolation", nil)
			return
		}

		g.writer.Append(r.Context(), audit.KindQLockSync1, audit.ComponentGate, []byte(peerID),
			map[string]any{"session_id": result.Session.SessionID})

		if token, err := g.gate.IssueSessionToken(result.Session); err == nil && token != "" {
			w.Header().Set("ENC-Lock-Session-Token", token)
		}

		// Relay/diversity are consulted here to select which active relay
		// should additionally observe this admission (the "routed via
		// relay" step of spec §2's data-flow diagram); failures to select
		// a relay are not fatal to serving the request.
		if g.div != nil && g.rl != nil {
			if selected := g.div.SelectForRouting(1); len(selected) > 0 {
				w.Header().Set("X-Relay-Routed", selected[0].ID)
				g.writer.Append(r.Context(), audit.KindRelayRouted, audit.ComponentRelay, []byte(peerID),
					map[string]any{"relay_id": selected[0].ID, "session_id": result.Session.SessionID})
			}
		}

		next.ServeHTTP(w, r)
	})
}
