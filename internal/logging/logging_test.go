package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err == nil) != tc.ok {
				t.Fatalf("err = %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConsoleHandler_DropsZeroValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ConsoleHandler(&buf, slog.LevelInfo, false))
	logger.Info("hello", "empty", "", "set", "v", "n", 0, "d", time.Duration(0))
	logger.Debug("hidden")
	out := buf.String()
	if !strings.Contains(out, "set=v") {
		t.Errorf("missing attribute in %q", out)
	}
	for _, s := range []string{"empty=", "n=", "d=", "hidden"} {
		if strings.Contains(out, s) {
			t.Errorf("unexpected %q in %q", s, out)
		}
	}
}

func TestMultiHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(h).With("k", "v")
	logger.Debug("debug")
	logger.Warn("warn")
	if !strings.Contains(a.String(), "debug") || !strings.Contains(a.String(), "warn") {
		t.Errorf("a = %q", a.String())
	}
	if strings.Contains(b.String(), "debug") || !strings.Contains(b.String(), "k=v") {
		t.Errorf("b = %q", b.String())
	}
}

func TestAudit(t *testing.T) {
	a, err := OpenAudit(filepath.Join(t.TempDir(), "logs", "server.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			t.Error(err)
		}
	}()
	ctx := context.Background()
	for i := range 5 {
		a.Log(ctx, &Entry{Method: "GET", Path: "/databases", Status: 200 + i, User: "admin"})
	}
	lines, err := a.Tail(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	var e map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatal(err)
	}
	if e["status"] != float64(204) || e["user"] != "admin" || e["path"] != "/databases" {
		t.Errorf("entry = %v", e)
	}

	if err := a.Clear(); err != nil {
		t.Fatal(err)
	}
	if lines, err := a.Tail(0); err != nil || len(lines) != 0 {
		t.Fatalf("Tail() = %v, %v", lines, err)
	}
	a.Log(ctx, &Entry{Method: "POST", Path: "/clear-logs", Status: 302})
	lines, err = a.Tail(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "{") {
		t.Errorf("lines = %q", lines)
	}
}

func TestAudit_Nil(t *testing.T) {
	var a *Audit
	a.Log(context.Background(), &Entry{})
	if lines, err := a.Tail(10); lines != nil || err != nil {
		t.Error("nil audit must be a no-op")
	}
	if err := a.Clear(); err != nil {
		t.Error(err)
	}
}
