// Appends one JSON line per handled request to the audit file.

package logging

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one audited request.
type Entry struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	Duration  time.Duration
	IP        string
	Country   string
	User      string
}

// Audit writes request entries to a file. A nil *Audit discards everything.
type Audit struct {
	path string

	mu     sync.Mutex
	f      *os.File
	logger *slog.Logger
}

// OpenAudit opens path for appending, creating it if needed.
func OpenAudit(path string) (*Audit, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600) //nolint:gosec // G304: path comes from the configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	a := &Audit{path: path, f: f}
	a.logger = slog.New(slog.NewJSONHandler(lockedWriter{a}, nil))
	return a, nil
}

type lockedWriter struct {
	a *Audit
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.a.mu.Lock()
	defer w.a.mu.Unlock()
	return w.a.f.Write(p)
}

// Log records e.
func (a *Audit) Log(ctx context.Context, e *Entry) {
	if a == nil {
		return
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "request",
		slog.String("id", e.RequestID),
		slog.String("method", e.Method),
		slog.String("path", e.Path),
		slog.Int("status", e.Status),
		slog.Duration("dur", e.Duration),
		slog.String("ip", e.IP),
		slog.String("country", e.Country),
		slog.String("user", e.User),
	)
}

// Tail returns up to the last n lines of the audit file, oldest first. n <= 0
// returns every line.
func (a *Audit) Tail(n int) ([]string, error) {
	if a == nil {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer func() { _ = f.Close() }()
	var lines []string
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		lines = append(lines, s.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return lines, nil
}

// Clear empties the audit file.
func (a *Audit) Clear() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.f.Truncate(0); err != nil {
		return fmt.Errorf("failed to clear audit log: %w", err)
	}
	return nil
}

// Close closes the file.
func (a *Audit) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}
