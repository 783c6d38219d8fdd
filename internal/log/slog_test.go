package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// newTestLogger builds a slogLogger writing to buf so we can inspect output.
func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// jsonRecord parses the last JSON log line in buf.
func jsonRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("parse JSON log line: %v\nraw: %s", err, last)
	}
	return m
}

func TestNewSlog_JSONCarriesBaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "archive-ingest", Version: "1.2.3", JSONFormat: true})

	l.Info(context.Background(), "hello")

	m := jsonRecord(t, &buf)
	if m["msg"] != "hello" {
		t.Fatalf("msg = %v, want hello", m["msg"])
	}
	if m["app"] != "archive-ingest" || m["version"] != "1.2.3" {
		t.Fatalf("base attrs = app:%v version:%v", m["app"], m["version"])
	}
}

func TestNewSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})

	l.Info(context.Background(), "text msg", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=\"text msg\"") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected text output: %s", out)
	}
}

func TestNewSlog_Defaults(t *testing.T) {
	var buf bytes.Buffer
	if l := newTestLogger(t, &buf, Options{App: "test"}); l.maxErrorLinks != 8 {
		t.Fatalf("maxErrorLinks = %d, want 8", l.maxErrorLinks)
	}
	if l := newTestLogger(t, &buf, Options{App: "test", MaxErrorLinks: 20}); l.maxErrorLinks != 20 {
		t.Fatalf("maxErrorLinks = %d, want 20", l.maxErrorLinks)
	}
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true, Level: slog.LevelWarn})
	ctx := context.Background()

	l.Debug(ctx, "debug")
	l.Info(ctx, "info")
	if buf.Len() != 0 {
		t.Fatalf("records below warn were written: %s", buf.String())
	}

	l.Warn(ctx, "warn")
	if m := jsonRecord(t, &buf); m["msg"] != "warn" {
		t.Fatalf("msg = %v, want warn", m["msg"])
	}
}

func TestSlogLogger_With_CopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true})

	child := base.With("ingest_id", "abc")
	_ = base.With("other", 1)

	child.Info(context.Background(), "child")
	m := jsonRecord(t, &buf)
	if m["ingest_id"] != "abc" {
		t.Fatalf("ingest_id = %v, want abc", m["ingest_id"])
	}
	if _, found := m["other"]; found {
		t.Fatal("sibling With leaked into child")
	}

	base.Info(context.Background(), "base")
	if _, found := jsonRecord(t, &buf)["ingest_id"]; found {
		t.Fatal("child With leaked into parent")
	}
}

func TestSlogLogger_With_DropsMalformedPairs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true})

	l.With(42, "ignored", "ok", true, "orphan").Info(context.Background(), "msg")

	m := jsonRecord(t, &buf)
	if m["ok"] != true {
		t.Fatalf("ok = %v, want true", m["ok"])
	}
	if _, found := m["orphan"]; found {
		t.Fatal("trailing odd key should be dropped")
	}
}

func TestSlogLogger_Error_Enrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true, IncludeErrorLinks: true})

	root := errors.New("disk full")
	err := fmt.Errorf("write entry: %w", root)
	l.Error(context.Background(), err, "extraction failed", "entry", "a.txt")

	m := jsonRecord(t, &buf)
	if m["err"] != "write entry: disk full" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["entry"] != "a.txt" {
		t.Fatalf("entry = %v", m["entry"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v, want 2 links", m["error_chain"])
	}
	if _, ok := m["error_links"]; !ok {
		t.Fatal("error_links missing with IncludeErrorLinks")
	}
	if s, _ := m["stack"].(string); s == "" {
		t.Fatal("stack missing at error level")
	}
}

func TestSlogLogger_Error_NilError(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true})

	l.Error(context.Background(), nil, "no error value")

	m := jsonRecord(t, &buf)
	if _, found := m["err"]; found {
		t.Fatal("err should be absent for a nil error")
	}
}

func TestEnrichHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced msg")

	m := jsonRecord(t, &buf)
	if m["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("trace_id = %v", m["trace_id"])
	}
	if m["span_id"] != "0102030405060708" {
		t.Fatalf("span_id = %v", m["span_id"])
	}

	l.Info(context.Background(), "untraced")
	if _, found := jsonRecord(t, &buf)["trace_id"]; found {
		t.Fatal("trace_id should not be present without a span context")
	}
}

func TestEnrichHandler_NoStackBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true, StacktraceLevel: slog.LevelError})

	l.Warn(context.Background(), "warn msg")

	if _, found := jsonRecord(t, &buf)["stack"]; found {
		t.Fatal("stack should not be present below the stacktrace level")
	}
}

func TestInspectError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantChain   int
		wantSurface string
		wantRoot    string
	}{
		{"nil", nil, 0, "", ""},
		{"single", errors.New("one"), 1, "*errors.errorString", "*errors.errorString"},
		{"fmt wrapper skipped", fmt.Errorf("wrap: %w", &json.SyntaxError{}), 2, "*json.SyntaxError", "*json.SyntaxError"},
		{"joined", errors.Join(errors.New("a"), errors.New("b")), 3, "*errors.joinError", "*errors.joinError"},
		{"repeated text collapsed", fmt.Errorf("%w", errors.New("same")), 1, "*errors.errorString", "*errors.errorString"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := inspectError(tt.err, 0)
			if len(rep.chain) != tt.wantChain {
				t.Fatalf("chain = %q, want %d entries", rep.chain, tt.wantChain)
			}
			if rep.surface != tt.wantSurface || rep.root != tt.wantRoot {
				t.Fatalf("types = %q/%q, want %q/%q", rep.surface, rep.root, tt.wantSurface, tt.wantRoot)
			}
			if len(rep.links) != 0 {
				t.Fatalf("links collected with maxLinks 0: %v", rep.links)
			}
		})
	}
}

func TestInspectError_LinksBounded(t *testing.T) {
	err := stackedErr()
	for i := 0; i < 5; i++ {
		err = fmt.Errorf("layer %d: %w", i, err)
	}

	rep := inspectError(err, 2)
	if len(rep.links) != 1 {
		t.Fatalf("links = %v, want only the outermost within the bound", rep.links)
	}
	if rep.links[0].Msg != err.Error() || rep.links[0].Line != 0 {
		t.Fatalf("outermost link = %+v", rep.links[0])
	}

	rep = inspectError(err, 10)
	last := rep.links[len(rep.links)-1]
	if len(rep.links) != 2 || last.Msg != "stacked" || last.Line == 0 {
		t.Fatalf("links = %+v, want the stacked leaf positioned", rep.links)
	}
}

func TestFrameHelpers_Empty(t *testing.T) {
	if _, ok := frameAt(0); ok {
		t.Fatal("frameAt(0) should not resolve")
	}
	if _, ok := firstCallerFrame(nil); ok {
		t.Fatal("firstCallerFrame(nil) should not resolve")
	}
	if s := renderPCs(nil); s != "" {
		t.Fatalf("renderPCs(nil) = %q", s)
	}
}

func TestRecordStack_PrefersErrorStack(t *testing.T) {
	err := stackedErr()
	r := slog.NewRecord(time.Now(), slog.LevelError, "failed", 0)
	r.AddAttrs(slog.String("entry", "a.txt"), slog.Any("err", err))

	got := recordStack(r)
	want := err.(*fakeStacked).pcs
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatal("record stack is not the one captured with the error")
	}

	plain := slog.NewRecord(time.Now(), slog.LevelError, "failed", 0)
	plain.AddAttrs(slog.Any("err", errors.New("no stack")))
	if len(recordStack(plain)) == 0 {
		t.Fatal("no call site stack for an error without one")
	}
}

// stackedErr mimics an xerrors leaf error created one frame down.
func stackedErr() error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(1, pcs)
	return &fakeStacked{pcs: pcs[:n]}
}

type fakeStacked struct{ pcs []uintptr }

func (f *fakeStacked) Error() string       { return "stacked" }
func (f *fakeStacked) StackPCs() []uintptr { return f.pcs }

func TestTruncateValues(t *testing.T) {
	long := strings.Repeat("a", 2000)
	tests := []struct {
		name    string
		max     int
		value   string
		wantLen int
	}{
		{"default cap", 0, long, 1024 + len("...(truncated)")},
		{"custom cap", 10, long, 10 + len("...(truncated)")},
		{"short value untouched", 10, "a.txt", len("a.txt")},
		{"no split inside a rune", 4, "aaa\u00e9bbb", 3 + len("...(truncated)")},
		{"disabled", -1, long, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true, MaxValueLen: tt.max})
			l.Info(context.Background(), "entry", "entry", tt.value)

			got, _ := jsonRecord(t, &buf)["entry"].(string)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d (%q)", len(got), tt.wantLen, got)
			}
		})
	}
}

func TestTruncateValues_StackKept(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", JSONFormat: true, MaxValueLen: 8})
	l.Warn(context.Background(), "panic", "panic_stack", strings.Repeat("frame\n", 50))

	if got, _ := jsonRecord(t, &buf)["panic_stack"].(string); len(got) != 300 {
		t.Fatalf("panic_stack truncated to %d bytes", len(got))
	}
}
