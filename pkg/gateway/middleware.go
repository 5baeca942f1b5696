// Package gateway implements the VM Server (spec §4.G): the HTTP
// admission surface that routes onion-style through the ENC-Lock/QLOCK
// gate, the relay, and the Action VM, exposing local status endpoints
// and proxying to the BPI core.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bpi-sushrut/bpinode/internal/telemetry"
	"github.com/bpi-sushrut/bpinode/pkg/audit"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext extracts the request ID set by the requestID
// middleware, matching the shape of the teacher's own helper.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// requestID injects a unique request id into the context and response
// header, reusing an incoming X-Request-ID if present (spec §4.G:
// "request-id header is injected if absent").
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code for
// logging and metrics middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("gateway request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		telemetry.GatewayRequestDuration.WithLabelValues(route, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}

// recoverer catches a handler panic, audits it as KindAuditFatal (spec §9's
// "a panic maps to apperrors.Fatal + AuditFatal"), and responds with a
// generic 500 rather than crashing the listener goroutine — the same role
// chi's own middleware.Recoverer plays, specialized to emit an audit event.
func recoverer(writer *audit.Writer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if logger != nil {
						logger.Error("gateway handler panic", "panic", rec, "path", r.URL.Path)
					}
					if writer != nil {
						_, _ = writer.Append(r.Context(), audit.KindAuditFatal, audit.ComponentGateway, nil,
							map[string]any{"panic": rec, "path": r.URL.Path, "request_id": RequestIDFromContext(r.Context())})
					}
					respondError(w, r, http.StatusInternalServerError, "InternalError", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeaders attaches the protocol/security/post-quantum headers
// spec §4.G requires on every response.
func securityHeaders(quantumSafe bool, securityLevel string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Proto", "bpinode/1.0")
			w.Header().Set("X-Security", securityLevel)
			w.Header().Set("X-Quantum-Safe", strconv.FormatBool(quantumSafe))
			next.ServeHTTP(w, r)
		})
	}
}

// respond writes a JSON response with the given status code.
func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// errorEnvelope is the structured JSON error shape of spec §7.
type errorEnvelope struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id"`
}

func respondError(w http.ResponseWriter, r *http.Request, status int, errKind string, details any) {
	respond(w, status, errorEnvelope{
		Error:     errKind,
		Details:   details,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
