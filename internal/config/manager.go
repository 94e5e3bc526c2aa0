// Keeps the live configuration and reloads it when the file changes.

package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events emitted while a file is written.
const reloadDelay = 100 * time.Millisecond

// Manager holds the current configuration. It is safe for concurrent use.
type Manager struct {
	dataDir string

	mu       sync.RWMutex
	cfg      Config
	onChange []func(Config)
}

// NewManager loads the configuration in dataDir.
func NewManager(dataDir string) (*Manager, error) {
	cfg, err := Load(dataDir)
	if err != nil {
		return nil, err
	}
	return &Manager{dataDir: dataDir, cfg: *cfg}, nil
}

// DataDir returns the data directory.
func (m *Manager) DataDir() string {
	return m.dataDir
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange registers fn to be called with the new configuration after every
// successful Update or Reload.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Update applies fn to a copy of the configuration, validates and saves it,
// then makes it current. Nothing changes if fn or saving fails.
func (m *Manager) Update(fn func(*Config) error) error {
	m.mu.Lock()
	cfg := m.cfg
	if err := fn(&cfg); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := cfg.Save(m.dataDir); err != nil {
		m.mu.Unlock()
		return err
	}
	m.cfg = cfg
	callbacks := m.onChange
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

// Reload reads the configuration file again. The current configuration is
// kept when the file is invalid.
func (m *Manager) Reload() error {
	raw, err := os.ReadFile(filepath.Join(m.dataDir, FileName))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New(FileName + " is empty")
	}
	cfg, err := Load(m.dataDir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if cfg.Auth.PasswordHash != m.cfg.Auth.PasswordHash || cfg.Auth.APIKey != m.cfg.Auth.APIKey {
		slog.Info("Credentials reloaded", "path", filepath.Join(m.dataDir, FileName))
	}
	m.cfg = *cfg
	callbacks := m.onChange
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb(*cfg)
	}
	return nil
}

// Watch reloads the configuration whenever the file changes, until ctx is
// done.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	// Watch the directory since Save replaces the file by renaming over it.
	if err := w.Add(m.dataDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.dataDir, err)
	}
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := m.Reload(); err != nil {
				slog.WarnContext(ctx, "Failed to reload configuration, keeping the previous one", "err", err)
			}
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != FileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching configuration", "err", err)
		}
	}
}
