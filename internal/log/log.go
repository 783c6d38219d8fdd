// Package log is the service's structured logger, a thin layer over log/slog.
//
// Every method takes a context so trace ids and request-scoped fields
// follow the request. Error records carry the error chain, its types and a
// stack trace taken from xerrors when one was captured.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App             string
	Version         string
	Commit          string
	Level           slog.Level
	StacktraceLevel slog.Level // 0 means error
	JSONFormat      bool

	// IncludeErrorLinks adds the file and line of every wrap in the error
	// chain, up to MaxErrorLinks (default 8)
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// MaxValueLen truncates string values, archive entry names are client
	// controlled and unbounded. 0 means 1024, negative disables.
	MaxValueLen int

	Writer io.Writer // default stdout
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel accepts debug, info, warn and error in any case, with an
// optional offset such as "info+2".
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
	}
	return lvl, nil
}
