package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/archive-ingest/internal/health"
	"github.com/keithlinneman/archive-ingest/internal/httpmw"
	"github.com/keithlinneman/archive-ingest/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic, e.g. to bump a counter
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes mounts the application routes on the router
	APIRoutes func(chi.Router)

	// BodyTimeout replaces the default read/write timeouts so large uploads
	// can finish, 0 keeps the defaults
	BodyTimeout time.Duration
}
