package log

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// implemented by xerrors.Wrap results
type hasPC interface {
	PC() uintptr
}

// implemented by xerrors.New results
type hasStack interface {
	StackPCs() []uintptr
}

// errorReport is what Error attaches to a record for a non-nil error.
type errorReport struct {
	surface string // first type in the chain that is not a plain wrapper
	root    string // type of the innermost error
	chain   []string
	links   []errorLink
}

type errorLink struct {
	Msg  string `json:"msg"`
	Func string `json:"func,omitempty"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// inspectError walks the Unwrap chain of err once. At most maxLinks
// positioned links are collected; maxLinks <= 0 collects none.
func inspectError(err error, maxLinks int) errorReport {
	var rep errorReport
	if err == nil {
		return rep
	}

	var innermost error
	depth := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		innermost = e
		rep.chain = appendDistinct(rep.chain, e.Error())
		if rep.surface == "" && !isWrapper(e) {
			rep.surface = fmt.Sprintf("%T", e)
		}
		if depth < maxLinks {
			// the outermost error always gets a link, inner ones only with a position
			if link, positioned := linkFor(e); positioned || depth == 0 {
				rep.links = append(rep.links, link)
			}
		}
		depth++
	}

	// errors.Join has no single Unwrap, list its members after the joined text
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			rep.chain = appendDistinct(rep.chain, e.Error())
		}
	}

	if rep.surface == "" {
		rep.surface = fmt.Sprintf("%T", err)
	}
	rep.root = fmt.Sprintf("%T", innermost)
	return rep
}

func appendDistinct(chain []string, msg string) []string {
	if n := len(chain); n > 0 && chain[n-1] == msg {
		return chain
	}
	return append(chain, msg)
}

func isWrapper(e error) bool {
	switch t := fmt.Sprintf("%T", e); {
	case strings.HasPrefix(t, "*xerrors."):
		return true
	case t == "*fmt.wrapError", t == "*fmt.wrapErrors":
		return true
	}
	return false
}

// linkFor locates where e was created or wrapped. A single wrap PC is
// preferred over the first frame of a captured stack.
func linkFor(e error) (errorLink, bool) {
	link := errorLink{Msg: e.Error()}
	var (
		fr runtime.Frame
		ok bool
	)
	switch v := e.(type) {
	case hasPC:
		fr, ok = frameAt(v.PC())
	case hasStack:
		fr, ok = firstCallerFrame(v.StackPCs())
	}
	if ok {
		link.Func, link.File, link.Line = fr.Function, fr.File, fr.Line
	}
	return link, ok
}

func frameAt(pc uintptr) (runtime.Frame, bool) {
	if pc == 0 {
		return runtime.Frame{}, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr, true
}

// firstCallerFrame skips logger and xerrors frames.
func firstCallerFrame(pcs []uintptr) (runtime.Frame, bool) {
	var (
		found runtime.Frame
		ok    bool
	)
	eachFrame(pcs, func(fr runtime.Frame) bool {
		if loggerFrame(fr.Function) || strings.Contains(fr.Function, "/internal/xerrors.") {
			return true
		}
		found, ok = fr, true
		return false
	})
	return found, ok
}

func callers(skip int) []uintptr {
	pcs := make([]uintptr, 64)
	return pcs[:runtime.Callers(skip, pcs)]
}

func loggerFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") || strings.Contains(fn, "/internal/log.")
}

// eachFrame calls fn for every frame above the runtime until fn returns false.
func eachFrame(pcs []uintptr, fn func(runtime.Frame) bool) {
	if len(pcs) == 0 {
		return
	}
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") || !fn(fr) || !more {
			return
		}
	}
}

// renderPCs formats a stack as "func\n\tfile:line" pairs, dropping the
// leading logger frames.
func renderPCs(pcs []uintptr) string {
	var b strings.Builder
	started := false
	eachFrame(pcs, func(fr runtime.Frame) bool {
		if !started && loggerFrame(fr.Function) {
			return true
		}
		started = true
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		return true
	})
	return strings.TrimSuffix(b.String(), "\n")
}
