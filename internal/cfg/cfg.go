package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/keithlinneman/archive-ingest/internal/ingest"
	"github.com/keithlinneman/archive-ingest/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names when reading env vars
const EnvPrefix = "INGEST_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// ingestion policy
	MaxUncompressedBytes ByteSize
	MaxUploadBytes       ByteSize
	MaxEntries           int
	AllowedExtensions    string
	ScratchDir           string
	LimitsFile           string

	// upload endpoint protection
	RateLimitRPS   float64
	RateLimitBurst int
	TrustedHops    int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	c.MaxUncompressedBytes = ByteSize(ingest.DefaultMaxUncompressedBytes)
	c.MaxUploadBytes = ByteSize(ingest.DefaultMaxUploadBytes)
	fs.Var(&c.MaxUncompressedBytes, "max-uncompressed-bytes", "max summed uncompressed size of an archive (e.g. 52428800, 50MiB)")
	fs.Var(&c.MaxUploadBytes, "max-upload-bytes", "max size of the uploaded archive itself (e.g. 100MiB)")
	fs.IntVar(&c.MaxEntries, "max-entries", ingest.DefaultMaxEntries, "max number of entries in an archive")
	fs.StringVar(&c.AllowedExtensions, "allowed-extensions", strings.Join(ingest.DefaultAllowedExtensions, ","), "comma separated upload file extensions to accept")
	fs.StringVar(&c.ScratchDir, "scratch-dir", "", "parent directory for per-request working directories (default OS temp dir)")
	fs.StringVar(&c.LimitsFile, "limits-file", "", "optional YAML file with ingestion limits")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 2, "sustained uploads per second per client IP (0 disables)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 10, "upload burst per client IP")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted proxies in front of the server for X-Forwarded-For")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Limits builds the ingestion policy from the parsed settings.
func (c App) Limits() ingest.Limits {
	return ingest.NewLimits(
		int64(c.MaxUncompressedBytes),
		splitList(c.AllowedExtensions),
		ingest.WithMaxUploadBytes(int64(c.MaxUploadBytes)),
		ingest.WithMaxEntries(c.MaxEntries),
	)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve finishes configuration after fs has been parsed: environment
// variables fill flags left unset on the command line, then the limits
// file (if any) fills what is still unset, and the result is validated.
func Resolve(fs *flag.FlagSet, c *App, fsys afero.Fs, logf func(string, ...any)) error {
	FillFromEnv(fs, EnvPrefix, logf)
	if c.LimitsFile != "" {
		lf, err := LoadLimitsFile(fsys, c.LimitsFile)
		if err != nil {
			return err
		}
		if err := ApplyLimitsFile(fs, lf); err != nil {
			return err
		}
	}
	return Validate(*c)
}

type problems []error

func (p *problems) failIf(bad bool, format string, args ...any) {
	if bad {
		*p = append(*p, fmt.Errorf(format, args...))
	}
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate reports every out of range or malformed setting at once.
func Validate(c App) error {
	var p problems

	p.failIf(!validPort(c.HTTPPort), "invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	p.failIf(!validPort(c.AdminPort), "invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	p.failIf(c.AdminPort == c.HTTPPort, "ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		p.failIf(true, "invalid LOG_LEVEL: %w", err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			p.failIf(true, "invalid STACKTRACE_LEVEL: %w", err)
		}
	}
	p.failIf(c.TraceSample < 0 || c.TraceSample > 1, "invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)

	if c.EnablePyroscope {
		u, err := url.Parse(c.PyroServer)
		switch {
		case c.PyroServer == "":
			p.failIf(true, "PYRO_SERVER required when ENABLE_PYROSCOPE=true")
		case err != nil || u.Scheme == "" || u.Host == "":
			p.failIf(true, "PYRO_SERVER must be a URL (got %q)", c.PyroServer)
		}
		p.failIf(c.PyroTenantID == "", "PYRO_TENANT required when ENABLE_PYROSCOPE=true")
	}

	// the gRPC exporter takes host:port without a scheme
	if c.EnableTracing {
		_, _, err := net.SplitHostPort(c.OTLPEndpoint)
		switch {
		case c.OTLPEndpoint == "":
			p.failIf(true, "OTLP_ENDPOINT required when ENABLE_TRACING=true")
		case err != nil:
			p.failIf(true, "OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}

	p.failIf(c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64),
		"MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)

	p.failIf(c.MaxUncompressedBytes <= 0, "MAX_UNCOMPRESSED_BYTES must be > 0 (got %d)", c.MaxUncompressedBytes)
	p.failIf(c.MaxUploadBytes <= 0, "MAX_UPLOAD_BYTES must be > 0 (got %d)", c.MaxUploadBytes)
	p.failIf(c.MaxEntries < 1, "MAX_ENTRIES must be >= 1 (got %d)", c.MaxEntries)
	for _, ext := range splitList(c.AllowedExtensions) {
		n := ingest.NormalizeExtension(ext)
		p.failIf(n == "" || strings.ContainsAny(n, "./\\"), "ALLOWED_EXTENSIONS entry %q is not a plain extension", ext)
	}

	p.failIf(c.RateLimitRPS < 0, "RATE_LIMIT_RPS must be >= 0 (got %v)", c.RateLimitRPS)
	p.failIf(c.RateLimitRPS > 0 && c.RateLimitBurst < 1,
		"RATE_LIMIT_BURST must be >= 1 when rate limiting is enabled (got %d)", c.RateLimitBurst)
	p.failIf(c.TrustedHops < 0, "TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops)

	return errors.Join(p...)
}
