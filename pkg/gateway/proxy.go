package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/cenkalti/backoff/v5"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func parseURL(raw string) (*url.URL, error) {
	return url.Parse(raw)
}

// retryingTransport wraps http.DefaultTransport with a bounded backoff
// retry, so transient backend unavailability (spec §7 BackendUnavailable)
// doesn't surface on the first dropped connection.
type retryingTransport struct {
	base http.RoundTripper
}

func (t retryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	operation := func() (*http.Response, error) {
		return t.base.RoundTrip(req)
	}
	return backoff.Retry(req.Context(), operation,
		backoff.WithMaxTries(3),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
}

// newReverseProxy builds a retrying reverse proxy to target, used for
// /api/* and /rpc/* (spec §4.G: "transparently proxied ... on backend
// failure return 503 with a structured JSON error").
func newReverseProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = retryingTransport{base: http.DefaultTransport}

	base := proxy.Director
	proxy.Director = func(r *http.Request) {
		base(r)
		if r.Header.Get("X-Request-ID") == "" {
			r.Header.Set("X-Request-ID", RequestIDFromContext(r.Context()))
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("gateway proxy backend failure", "target", target.String(), "error", err)
		respondError(w, r, http.StatusServiceUnavailable, "BackendUnavailable", map[string]any{"target": target.Host})
	}
	return proxy
}
