// Command server accepts archive uploads over HTTP and runs each one
// through the ingestion safety checks before handing it off.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"

	"github.com/keithlinneman/archive-ingest/internal/cfg"
	"github.com/keithlinneman/archive-ingest/internal/health"
	"github.com/keithlinneman/archive-ingest/internal/httpmw"
	"github.com/keithlinneman/archive-ingest/internal/httpserver"
	"github.com/keithlinneman/archive-ingest/internal/ingest"
	"github.com/keithlinneman/archive-ingest/internal/ingesthttp"
	"github.com/keithlinneman/archive-ingest/internal/log"
	"github.com/keithlinneman/archive-ingest/internal/metrics"
	"github.com/keithlinneman/archive-ingest/internal/opshttp"
	"github.com/keithlinneman/archive-ingest/internal/otelx"
	"github.com/keithlinneman/archive-ingest/internal/prof"
	"github.com/keithlinneman/archive-ingest/internal/ratelimit"
	v "github.com/keithlinneman/archive-ingest/internal/version"
)

const (
	// reading a large archive over a slow link takes longer than the
	// server default allows
	uploadTimeout = 5 * time.Minute

	// long enough for load balancers to notice failing readiness and for
	// in-flight uploads to finish
	drainPeriod = 60 * time.Second

	shutdownTimeout  = 10 * time.Second
	readinessTimeout = 2 * time.Second
)

func main() {
	var conf cfg.App
	cfg.Register(flag.CommandLine, &conf)
	showVersion := flag.Bool("V", false, "Print version+build information and exit")
	flag.Parse()

	vi := v.Get()
	if *showVersion {
		fmt.Printf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty)
		return
	}

	stderrf := func(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
	if err := cfg.Resolve(flag.CommandLine, &conf, afero.NewOsFs(), stderrf); err != nil {
		stderrf("config error: %v", err)
		os.Exit(1)
	}

	if err := run(conf, vi); err != nil {
		stderrf("fatal: %v", err)
		os.Exit(1)
	}
}

func newLogger(conf cfg.App, vi v.Info) (log.Logger, error) {
	// both levels were checked by cfg.Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	return log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSONFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
}

func run(conf cfg.App, vi v.Info) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg, err := newLogger(conf, vi)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	limits := conf.Limits()
	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"max_uncompressed_bytes", humanize.IBytes(uint64(limits.MaxUncompressedBytes())),
		"max_upload_bytes", humanize.IBytes(uint64(limits.MaxUploadBytes())),
		"max_entries", limits.MaxEntries(),
		"allowed_extensions", limits.Extensions(),
		"scratch_dir", conf.ScratchDir,
		"limits_file", conf.LimitsFile,
		"rate_limit_rps", conf.RateLimitRPS,
		"rate_limit_burst", conf.RateLimitBurst,
		"trusted_hops", conf.TrustedHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)
	m.SetIngestLimits(limits.MaxUncompressedBytes(), limits.MaxUploadBytes(), limits.MaxEntries())

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		// profiling is optional, keep serving without it
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	// exporting to a collector on localhost, hence Insecure
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
		Logger:    L,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	pipeline := ingest.NewPipeline(ingest.Options{
		Fs:         afero.NewOsFs(),
		ScratchDir: conf.ScratchDir,
		Limits:     limits,
		Logger:     L,
		Observer:   m,
	})
	if err := pipeline.CheckScratch(ctx); err != nil {
		return fmt.Errorf("scratch directory %q is not usable: %w", conf.ScratchDir, err)
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.WithTimeout(health.CheckFunc(pipeline.CheckScratch), readinessTimeout),
	)

	uploadAPI := ingesthttp.NewAPI(pipeline, L)
	appStop, err := httpserver.Start(ctx, httpserver.Options{
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    func(r chi.Router) { uploadAPI.RegisterRoutes(r) },
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimiter(ctx, conf, m, L),
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		BodyTimeout:  uploadTimeout,
		Logger:       L,
	})
	if err != nil {
		return fmt.Errorf("start upload server: %w", err)
	}

	// the ops listener refuses requests from public addresses
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		_ = appStop(context.Background())
		return fmt.Errorf("start ops server: %w", err)
	}

	if err := notifySystemd(); err != nil {
		// systemd kills the unit after its start timeout, nothing else to do
		L.Warn(ctx, "systemd readiness notification failed", "error", err)
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received, failing readiness", "drain_period", drainPeriod.String())
	gate.Set("draining")
	drain(bg, L)

	shutdownCtx, cancel := context.WithTimeout(bg, shutdownTimeout)
	defer cancel()
	steps := []struct {
		name string
		stop func(context.Context) error
	}{
		{"upload http server", appStop},
		{"ops http server", opsStop},
		{"otel", shutdownOTEL},
	}
	for _, s := range steps {
		if err := s.stop(shutdownCtx); err != nil {
			L.Error(bg, err, s.name+" shutdown")
		}
	}
	L.Info(bg, "shutdown complete")
	return nil
}

// rateLimiter returns nil when per-ip limiting is disabled.
func rateLimiter(ctx context.Context, conf cfg.App, m *metrics.Metrics, L log.Logger) func(http.Handler) http.Handler {
	if conf.RateLimitRPS <= 0 {
		return nil
	}
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		// once per ip until the visitor is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)
	return limiter.Middleware
}

// drain waits out drainPeriod. A second signal cuts it short.
func drain(ctx context.Context, L log.Logger) {
	again := make(chan os.Signal, 1)
	signal.Notify(again, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(again)

	select {
	case <-time.After(drainPeriod):
		L.Info(ctx, "drain period complete")
	case <-again:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// notifySystemd sends READY=1 when running as a Type=notify unit and is a
// no-op otherwise.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("write READY=1: %w", err)
	}
	return nil
}
