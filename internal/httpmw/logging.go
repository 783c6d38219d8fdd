package httpmw

import (
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/archive-ingest/internal/log"
)

var healthPaths = map[string]bool{
	"/healthz":        true,
	"/readyz":         true,
	"/-/healthy":      true,
	"/-/ready":        true,
	"/v1/health/ping": true,
	"/v2/health/ping": true,
}

// IsHealthPath reports whether p is polled by load balancers or the
// orchestrator. Such requests skip the access log, tracing and rate limits.
func IsHealthPath(p string) bool {
	return healthPaths[p]
}

// WithLogger puts a request scoped logger into the context. It carries
// only values the server derived itself: the request id, resolved client
// address, method, path and scheme. Query strings and client headers
// stay out of the logs.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			peer := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peer); err == nil {
				peer = host
			}
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}
			reqID := RequestIDFromContext(ctx)
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// Scope names the handler on the request logger and span.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			L := log.FromContext(ctx).With("handler", handler)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// schemeFromRequest returns "http" or "https". X-Forwarded-Proto only
// survives ClientIP when it came through a trusted proxy.
func schemeFromRequest(r *http.Request) string {
	candidates := make([]string, 0, 2)
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		candidates = append(candidates, first)
	}
	if r.URL != nil {
		candidates = append(candidates, r.URL.Scheme)
	}
	for _, c := range candidates {
		switch s := strings.ToLower(strings.TrimSpace(c)); s {
		case "http", "https":
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
