package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type httpMetrics struct {
	inflight          prometheus.Gauge
	requests          *prometheus.CounterVec
	serverErrors      *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	responseBytes     *prometheus.HistogramVec
	panics            prometheus.Counter
	rateLimited       prometheus.Counter
	rateLimitCapacity prometheus.Counter
}

func newHTTPMetrics(reg prometheus.Registerer) httpMetrics {
	hm := httpMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		serverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		// uploads of large archives take far longer than page views
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"method", "route"}),
		responseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"method", "route"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		rateLimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
	}
	reg.MustRegister(hm.inflight, hm.requests, hm.serverErrors, hm.duration,
		hm.responseBytes, hm.panics, hm.rateLimited, hm.rateLimitCapacity)
	return hm
}

func (hm httpMetrics) IncHttpPanic()         { hm.panics.Inc() }
func (hm httpMetrics) IncRateLimitDenied()   { hm.rateLimited.Inc() }
func (hm httpMetrics) IncRateLimitCapacity() { hm.rateLimitCapacity.Inc() }

// unmatchedRoute labels requests no route claimed. Raw paths carry
// organization and repository names and are never used as labels.
const unmatchedRoute = "unmatched"

// Middleware counts and times requests by chi route pattern. It runs
// outside the router, so it seeds a route context the router then fills in.
func (hm httpMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			rctx = chi.NewRouteContext()
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		}

		hm.inflight.Inc()
		defer hm.inflight.Dec()

		cw := &countingWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		route := rctx.RoutePattern()
		if route == "" {
			route = unmatchedRoute
		}
		status := cw.statusOrOK()

		hm.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if status >= http.StatusInternalServerError {
			hm.serverErrors.WithLabelValues(r.Method, route).Inc()
		}
		observe(hm.duration.WithLabelValues(r.Method, route), time.Since(start).Seconds(), traceExemplar(r.Context()))
		hm.responseBytes.WithLabelValues(r.Method, route).Observe(float64(cw.bytes))
	})
}

// observe attaches the exemplar when there is one and the observer takes it.
func observe(o prometheus.Observer, v float64, ex prometheus.Labels) {
	if eo, ok := o.(prometheus.ExemplarObserver); ok && ex != nil {
		eo.ObserveWithExemplar(v, ex)
		return
	}
	o.Observe(v)
}

// traceExemplar links a latency sample to its sampled trace.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}

type countingWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *countingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach Flush and deadlines.
func (w *countingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *countingWriter) statusOrOK() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
