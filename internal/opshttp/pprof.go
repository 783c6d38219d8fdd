package opshttp

import (
	"net/http"
	"net/http/pprof"
)

// registerPprof mounts the runtime profiling endpoints. Named profiles
// (heap, goroutine, allocs) are served by the index handler.
func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
