// Package main is the entry point for the secdb server.
//
// secdb is a self-hosted record store: named databases of tables of string
// rows, each database persisted as one snapshot file. It serves HTML
// administration pages behind HTTP Basic authentication and a JSON API behind
// a shared secret. Settings are read from config.yaml in the data directory;
// a few CLI flags override them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/secdb/internal/config"
	"github.com/maruel/secdb/internal/history"
	"github.com/maruel/secdb/internal/logging"
	"github.com/maruel/secdb/internal/metrics"
	"github.com/maruel/secdb/internal/server"
	"github.com/maruel/secdb/internal/server/ipgeo"
	"github.com/maruel/secdb/internal/tabledb"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "secdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	schema := flag.Bool("config-schema", false, "Print the JSON Schema of config.yaml and exit")
	httpAddr := flag.String("http", "", "Address to listen on; overrides server.addr (e.g., localhost:8080, :8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides log.level")
	seqURL := flag.String("seq-url", "", "Seq server receiving the logs; overrides log.seq_url")
	geoDB := flag.String("geo-db", "", "Path to MaxMind MMDB file for IP geolocation (optional)")
	watch := flag.Bool("watch-exe", false, "Shut down when the executable is replaced")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}
	if *version {
		printVersion()
		return nil
	}
	if *schema {
		b, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	cfgMgr, err := config.NewManager(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", config.FileName, err)
	}
	cfg := cfgMgr.Get()

	ll := &slog.LevelVar{}
	if err := setLevel(ll, cfg.Log.Level, *logLevel); err != nil {
		return err
	}
	if *seqURL == "" {
		*seqURL = cfg.Log.SeqURL
	}
	_, flush := logging.Setup(ll, *seqURL)
	defer flush()
	cfgMgr.OnChange(func(c config.Config) {
		if err := setLevel(ll, c.Log.Level, *logLevel); err != nil {
			slog.Warn("Invalid log level", "err", err)
		}
	})

	addr := cfg.Server.Addr
	if *httpAddr != "" {
		addr = *httpAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	registry, err := tabledb.NewRegistry(cfg.DatabasesPath(*dataDir), tabledb.Options{
		Codec:        cfg.Codec(),
		AtomicWrites: cfg.Storage.AtomicWrites,
		Observer:     metrics.StoreObserver{},
	})
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	audit, err := logging.OpenAudit(cfg.AuditPath(*dataDir))
	if err != nil {
		return err
	}
	defer func() { _ = audit.Close() }()

	var repo *history.Repo
	if cfg.History.Enabled {
		repo, err = history.Open(registry.Dir(), history.Author{Name: cfg.History.AuthorName, Email: cfg.History.AuthorEmail})
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		slog.InfoContext(ctx, "History enabled", "dir", registry.Dir())
	}

	var geo *ipgeo.Locator
	if *geoDB != "" {
		if geo, err = ipgeo.Open(*geoDB); err != nil {
			return fmt.Errorf("failed to open geo database: %w", err)
		}
		defer func() { _ = geo.Close() }()
		slog.InfoContext(ctx, "IP geolocation enabled", "db", *geoDB)
	}

	buildVersion, _, _, _ := getBuildInfo()
	srv, err := server.New(server.Options{
		Config:   cfgMgr,
		Registry: registry,
		Audit:    audit,
		History:  repo,
		Geo:      geo,
		Version:  buildVersion,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Starting server", "addr", addr, "data", *dataDir, "codec", cfg.Storage.Codec, "version", buildVersion)
	if cfg.Auth.Username == config.DefaultUsername && cfg.CheckPassword(config.DefaultUsername, config.DefaultPassword) {
		slog.WarnContext(ctx, "The administrator still uses the default credentials", "config", filepath.Join(*dataDir, config.FileName))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, ln) })
	g.Go(func() error { return cfgMgr.Watch(ctx) })
	g.Go(func() error { return srv.SweepSessions(ctx) })
	if *watch {
		g.Go(func() error { return watchExecutable(ctx, stop) })
	}
	err = g.Wait()
	slog.Info("Server stopped")
	return err
}

// setLevel applies override when set, else configured.
func setLevel(ll *slog.LevelVar, configured, override string) error {
	s := configured
	if override != "" {
		s = override
	}
	l, err := logging.ParseLevel(s)
	if err != nil {
		return err
	}
	ll.Set(l)
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("secdb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// watchExecutable calls stop when the executable is rewritten, until ctx is
// done.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if exe, err = filepath.EvalSymlinks(exe); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(exe); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
				slog.InfoContext(ctx, "Executable modified, initiating shutdown")
				stop()
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching executable", "err", err)
		}
	}
}
