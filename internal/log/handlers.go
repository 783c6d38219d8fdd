package log

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
)

// enrichHandler adds trace_id and span_id when the context carries a valid
// span, and a stack at or above stackLevel. A stack captured by xerrors on
// the "err" attr wins over the logging call site.
type enrichHandler struct {
	next       slog.Handler
	stackLevel slog.Level
}

func (h enrichHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h enrichHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if r.Level >= h.stackLevel {
		r.AddAttrs(slog.String("stack", renderPCs(recordStack(r))))
	}
	return h.next.Handle(ctx, r)
}

func (h enrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return enrichHandler{next: h.next.WithAttrs(attrs), stackLevel: h.stackLevel}
}

func (h enrichHandler) WithGroup(name string) slog.Handler {
	return enrichHandler{next: h.next.WithGroup(name), stackLevel: h.stackLevel}
}

func recordStack(r slog.Record) []uintptr {
	var pcs []uintptr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "err" {
			return true
		}
		if hs, ok := a.Value.Any().(hasStack); ok && hs != nil {
			pcs = hs.StackPCs()
		}
		return false
	})
	if len(pcs) == 0 {
		// skip runtime.Callers, callers, recordStack, Handle and slogLogger.log
		pcs = callers(5)
	}
	return pcs
}

// stackKeys are multi-line by nature and never truncated
var stackKeys = map[string]struct{}{
	"stack":       {},
	"panic_stack": {},
}

// truncateValues returns a ReplaceAttr func capping string values at max
// bytes without splitting a UTF-8 sequence.
func truncateValues(max int) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() != slog.KindString {
			return a
		}
		if _, skip := stackKeys[a.Key]; skip {
			return a
		}
		s := a.Value.String()
		if len(s) <= max {
			return a
		}
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return slog.String(a.Key, s[:cut]+"...(truncated)")
	}
}
