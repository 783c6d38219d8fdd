package opshttp

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/archive-ingest/internal/health"
	"github.com/keithlinneman/archive-ingest/internal/log"
)

func get(h http.Handler, target, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var metricsStub = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("archive_ingest_uploads_total 3\n"))
})

func TestNewHandler_Routes(t *testing.T) {
	var gate health.ShutdownGate
	h := NewHandler(log.Nop(), Options{
		Metrics:     metricsStub,
		EnablePprof: true,
		Health:      health.Fixed(true, ""),
		Readiness:   gate.Probe(),
	})

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/-/healthy", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ready"},
		{"/-/ready", http.StatusOK, "ready"},
		{"/metrics", http.StatusOK, "archive_ingest_uploads_total"},
		{"/debug/pprof/", http.StatusOK, "goroutine"},
		{"/debug/pprof/cmdline", http.StatusOK, ""},
		{"/v2/about", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(h, tt.path, "127.0.0.1:40000")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	gate.Set("draining")
	if rec := get(h, "/readyz", "127.0.0.1:40000"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz while draining = %d", rec.Code)
	}
	if rec := get(h, "/healthz", "127.0.0.1:40000"); rec.Code != http.StatusOK {
		t.Fatalf("healthz while draining = %d", rec.Code)
	}
}

func TestNewHandler_OptionalRoutesAbsent(t *testing.T) {
	h := NewHandler(nil, Options{})
	for _, p := range []string{"/metrics", "/debug/pprof/", "/debug/pprof/profile"} {
		if rec := get(h, p, "10.0.0.1:1234"); rec.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", p, rec.Code)
		}
	}
	// nil probes report healthy
	if rec := get(h, "/healthz", "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestRequireNonPublicNetwork(t *testing.T) {
	h := NewHandler(log.Nop(), Options{Metrics: metricsStub})

	tests := []struct {
		remote string
		allow  bool
	}{
		{"127.0.0.1:9999", true},
		{"[::1]:9999", true},
		{"10.2.3.4:1", true},
		{"172.16.5.5:1", true},
		{"192.168.0.10:1", true},
		{"169.254.169.254:1", true},
		{"[fd12::1]:1", true},
		{"[fe80::1]:1", true},
		{"[::ffff:10.0.0.1]:1", true},
		{"10.0.0.1", true},
		{"203.0.113.50:1", false},
		{"[2001:db8::1]:1", false},
		{"8.8.8.8:53", false},
		{"not-an-ip:80", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			rec := get(h, "/metrics", tt.remote)
			if got := rec.Code == http.StatusOK; got != tt.allow {
				t.Fatalf("status = %d, want allowed=%v", rec.Code, tt.allow)
			}
			if !tt.allow && strings.Contains(rec.Body.String(), "archive_ingest") {
				t.Fatal("metrics leaked to a public peer")
			}
		})
	}
}

func TestRequireNonPublicNetwork_IgnoresForwardedFor(t *testing.T) {
	h := NewHandler(log.Nop(), Options{Metrics: metricsStub})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.50:1"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestStart_ServesAndStops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	stop, err := Start(context.Background(), log.Nop(), &Options{Port: port, Metrics: metricsStub})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/metrics"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if _, err := Start(context.Background(), nil, &Options{Port: ln.Addr().(*net.TCPAddr).Port}); err == nil {
		t.Fatal("expected listen error")
	}
}
