package httpmw

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/archive-ingest/internal/log"
)

// AccessLog writes one "http request" line per request once the handler
// returns. It must run inside the router so the matched route is known.
// Health probes are served but not logged.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, ctx: r.Context(), start: time.Now()}
			next.ServeHTTP(sr, r)
			sr.end()

			if IsHealthPath(r.URL.Path) {
				return
			}
			ctx := r.Context()
			log.FromContext(ctx).Info(ctx, "http request",
				"http.response.status_code", sr.code(),
				"http.server.request.duration", time.Since(sr.start).Seconds(),
				"http.response.body.size", sr.written,
				"http.request.body.size", max(r.ContentLength, 0),
				"http.route", routePattern(r),
			)
		})
	}
}

// statusRecorder captures the status and size of a response. When the
// request span is recording, the time spent writing to the client goes
// into a "response.write" child span opened on the first write.
type statusRecorder struct {
	http.ResponseWriter
	ctx   context.Context
	start time.Time

	status  int
	written int64
	blocked time.Duration
	err     error

	began bool
	span  trace.Span
}

func (sr *statusRecorder) code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

func (sr *statusRecorder) begin() {
	if sr.began {
		return
	}
	sr.began = true
	if !trace.SpanFromContext(sr.ctx).IsRecording() {
		return
	}
	_, sr.span = otel.Tracer("archive-ingest/httpmw").Start(sr.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", time.Since(sr.start).Seconds())),
	)
}

func (sr *statusRecorder) end() {
	if sr.span == nil {
		return
	}
	sr.span.SetAttributes(
		attribute.Int("http.response.status_code", sr.code()),
		attribute.Int64("http.response.body.size", sr.written),
		attribute.Float64("http.server.write.block_seconds", sr.blocked.Seconds()),
	)
	if sr.err != nil {
		sr.span.RecordError(sr.err)
		sr.span.SetStatus(codes.Error, sr.err.Error())
	}
	sr.span.End()
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.begin()
	sr.status = code
	t := time.Now()
	sr.ResponseWriter.WriteHeader(code)
	sr.blocked += time.Since(t)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.begin()
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	t := time.Now()
	n, err := sr.ResponseWriter.Write(b)
	sr.blocked += time.Since(t)
	sr.written += int64(n)
	if err != nil && sr.err == nil {
		sr.err = err
	}
	return n, err
}

func (sr *statusRecorder) Flush() {
	_ = http.NewResponseController(sr.ResponseWriter).Flush()
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(sr.ResponseWriter).Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }
