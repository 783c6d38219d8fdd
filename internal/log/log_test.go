package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	valid := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn\n": slog.LevelWarn,
		"Error":   slog.LevelError,
		"info+2":  slog.LevelInfo + 2,
		"DEBUG-4": slog.LevelDebug - 4,
	}
	for in, want := range valid {
		if got, err := ParseLevel(in); err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}

	for _, in := range []string{"", "trace", "fatal", "INFO!", "info error"} {
		_, err := ParseLevel(in)
		if err == nil {
			t.Errorf("ParseLevel(%q) accepted", in)
			continue
		}
		if !strings.Contains(err.Error(), `"`+in+`"`) {
			t.Errorf("error %q does not quote the input", err)
		}
	}
}

func TestNew_AllLevelsWrite(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{App: "ingest-test", Level: slog.LevelDebug, Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	l = l.With("archive", "bundle.zip")
	l.Debug(ctx, "opening archive")
	l.Info(ctx, "entries listed")
	l.Warn(ctx, "extension rejected")
	l.Error(ctx, errors.New("crc mismatch"), "integrity check failed")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	out := buf.String()
	if n := strings.Count(out, "archive=bundle.zip"); n != 4 {
		t.Fatalf("%d of 4 lines carry the With attr:\n%s", n, out)
	}
	for _, lvl := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if !strings.Contains(out, "level="+lvl) {
			t.Errorf("no %s line in output", lvl)
		}
	}
}
