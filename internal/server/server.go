// Package server serves the administration pages and the JSON API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/maruel/secdb/internal/config"
	"github.com/maruel/secdb/internal/history"
	"github.com/maruel/secdb/internal/logging"
	"github.com/maruel/secdb/internal/metrics"
	"github.com/maruel/secdb/internal/server/ipgeo"
	"github.com/maruel/secdb/internal/server/ratelimit"
	"github.com/maruel/secdb/internal/tabledb"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

// Options are the dependencies of a Server. Config and Registry are
// required.
type Options struct {
	Config   *config.Manager
	Registry *tabledb.Registry
	Audit    *logging.Audit
	History  *history.Repo
	Geo      *ipgeo.Locator
	// Metrics is exposed on /metrics. It defaults to metrics.NewRegistry.
	Metrics *prometheus.Registry
	Version string
}

// Server is the HTTP front end of the registry.
type Server struct {
	cfg      *config.Manager
	registry *tabledb.Registry
	audit    *logging.Audit
	history  *history.Repo
	geo      *ipgeo.Locator
	sessions *Sessions
	tiers    atomic.Pointer[ratelimit.Tiers]
	handler  http.Handler
}

// New returns a Server. Configuration changes are applied as they happen.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Registry == nil {
		return nil, errors.New("server: Config and Registry are required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry(opts.Registry)
	}
	cfg := opts.Config.Get()
	s := &Server{
		cfg:      opts.Config,
		registry: opts.Registry,
		audit:    opts.Audit,
		history:  opts.History,
		geo:      opts.Geo,
		sessions: NewSessions(cfg.Auth.SessionTimeout),
	}
	s.tiers.Store(ratelimit.NewTiers(cfg.RateLimits))
	h, err := s.routes(opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.handler = h
	opts.Config.OnChange(s.configChanged)
	return s, nil
}

func (s *Server) configChanged(c config.Config) {
	s.sessions.SetTimeout(c.Auth.SessionTimeout)
	if s.tiers.Load().Limits != c.RateLimits {
		s.tiers.Swap(ratelimit.NewTiers(c.RateLimits)).Close()
		slog.Info("Rate limits updated", "write", c.RateLimits.WritePerMin, "read", c.RateLimits.ReadPerMin, "auth", c.RateLimits.AuthPerMin)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. Every connection carries a single request.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	cfg := s.cfg.Get().Server
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.handler,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
	srv.SetKeepAlivesEnabled(false)
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()
	slog.InfoContext(ctx, "Serving", "addr", ln.Addr().String(), "max_connections", cfg.MaxConnections)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err2 := <-done; err == nil && !errors.Is(err2, http.ErrServerClosed) {
		err = err2
	}
	return err
}

// SweepSessions expires idle sessions periodically until ctx is done.
func (s *Server) SweepSessions(ctx context.Context) error {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.sessions.Sweep()
		}
	}
}

// Close releases the rate limiters.
func (s *Server) Close() {
	if t := s.tiers.Load(); t != nil {
		t.Close()
	}
}
