package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/archive-ingest/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	stop, err := Start(context.Background(), Options{ServerAddress: "not a url"})
	if err != nil {
		t.Fatalf("disabled Start = %v", err)
	}
	stop()
	stop()
}

func TestStart_InvalidOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{"no app name", Options{ServerAddress: "http://pyroscope:4040"}, "app name"},
		{"empty address", Options{AppName: "archive-ingest"}, "server address"},
		{"no scheme", Options{AppName: "archive-ingest", ServerAddress: "pyroscope:4040"}, "server address"},
		{"wrong scheme", Options{AppName: "archive-ingest", ServerAddress: "ftp://pyroscope"}, "server address"},
		{"no host", Options{AppName: "archive-ingest", ServerAddress: "http://"}, "server address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Enabled = true
			stop, err := Start(context.Background(), tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
			if stop == nil {
				t.Fatal("stop func is nil")
			}
			stop()
		})
	}
}

func TestStart_UnreachableServer(t *testing.T) {
	// the agent uploads lazily, so an unreachable server may or may not fail
	// Start; either way stop must be usable
	stop, _ := Start(context.Background(), Options{
		Enabled:       true,
		AppName:       "archive-ingest-test",
		ServerAddress: "http://127.0.0.1:1",
		Tags:          map[string]string{"component": "server"},
	})
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	stop()
}

func TestPyroLogger(t *testing.T) {
	// must not panic on format verbs without args
	l := pyroLogger{ctx: context.Background(), L: log.Nop()}
	l.Infof("upload %s", "ok")
	l.Debugf("%d%%", 5)
	l.Errorf("failed: %v", context.Canceled)
}
