package opshttp

import (
	"net/http"

	"github.com/keithlinneman/archive-ingest/internal/health"
)

type Options struct {
	Port int

	// Metrics serves /metrics when set
	Metrics http.Handler

	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
}
