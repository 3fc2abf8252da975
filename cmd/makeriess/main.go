// Command makeriess runs the offline-resilience layer in front of the
// Makeriess storefront: a caching reverse proxy, the durable action queue
// and the local control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/api"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/connectivity"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/contentcache"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/interceptor"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/lifecycle"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/lockfile"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/queue"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/recovery"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/scheduler"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/signal"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/store"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Makeriess state data
	DefaultStateDir = "/var/lib/makeriess"
	// DefaultDBFileName is the default SQLite action log filename
	DefaultDBFileName = store.DatabaseName + ".sqlite"
	// DefaultCacheFileName is the SQLite file holding cache partitions and entities
	DefaultCacheFileName = "makeriess-cache.db"

	recoveryTimeout = 30 * time.Second
	// CACHE_URLS fetch throttle
	urlFetchesPerSecond = 4
	urlFetchBurst       = 8
)

func main() {
	config, err := loadEnvironmentConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	initializeLogger(*flags.logLevel)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Makeriess offline layer")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_type", store.DetectDSNType(*flags.dbDSN), "origin", *flags.origin, "addr", *flags.addr)
	if err := run(ctx, flags); err != nil {
		slog.Error("Makeriess failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Makeriess exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string        `env:"MAKERIESS_STATE_DIR" envDefault:"/var/lib/makeriess"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	Origin         string        `env:"MAKERIESS_ORIGIN" envDefault:"http://localhost:3000"`
	Backend        string        `env:"MAKERIESS_BACKEND"`
	Addr           string        `env:"MAKERIESS_ADDR" envDefault:"127.0.0.1:8787"`
	CacheVersion   string        `env:"MAKERIESS_CACHE_VERSION" envDefault:"v1"`
	ManifestPath   string        `env:"MAKERIESS_MANIFEST"`
	HealthURL      string        `env:"MAKERIESS_HEALTH_URL"`
	ProbeInterval  time.Duration `env:"MAKERIESS_PROBE_INTERVAL" envDefault:"15s"`
	ReplayInterval time.Duration `env:"MAKERIESS_REPLAY_INTERVAL" envDefault:"1m"`
	MaxAttempts    int           `env:"MAKERIESS_MAX_ATTEMPTS" envDefault:"0"`
	RetryBackoff   time.Duration `env:"MAKERIESS_RETRY_BACKOFF" envDefault:"0s"`
	LogLevel       string        `env:"MAKERIESS_LOG_LEVEL" envDefault:"info"`
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	origin         *string
	backend        *string
	addr           *string
	cacheVersion   *string
	manifest       *string
	healthURL      *string
	probeInterval  *time.Duration
	replayInterval *time.Duration
	maxAttempts    *int
	retryBackoff   *time.Duration
	logLevel       *string
}

// initializeLogger sets up structured logging at the given level
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if config.Backend == "" {
		config.Backend = config.Origin
	}
	// The action log defaults to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	return config, nil
}

// parseCommandLineFlags parses args with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:       fs.String("state-dir", config.StateDir, "state directory for Makeriess data (overrides $MAKERIESS_STATE_DIR)"),
		dbDSN:          fs.String("db-dsn", config.DatabaseURL, "action log DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		origin:         fs.String("origin", config.Origin, "storefront origin proxied and cached (overrides $MAKERIESS_ORIGIN)"),
		backend:        fs.String("backend", config.Backend, "backend base URL for replayed mutations (overrides $MAKERIESS_BACKEND)"),
		addr:           fs.String("addr", config.Addr, "listen address (overrides $MAKERIESS_ADDR)"),
		cacheVersion:   fs.String("cache-version", config.CacheVersion, "cache version tag to install (overrides $MAKERIESS_CACHE_VERSION)"),
		manifest:       fs.String("manifest", config.ManifestPath, "TOML precache manifest (overrides $MAKERIESS_MANIFEST)"),
		healthURL:      fs.String("health-url", config.HealthURL, "URL probed to detect connectivity (overrides $MAKERIESS_HEALTH_URL)"),
		probeInterval:  fs.Duration("probe-interval", config.ProbeInterval, "connectivity probe interval (overrides $MAKERIESS_PROBE_INTERVAL)"),
		replayInterval: fs.Duration("replay-interval", config.ReplayInterval, "periodic replay interval while online, 0 disables (overrides $MAKERIESS_REPLAY_INTERVAL)"),
		maxAttempts:    fs.Int("max-attempts", config.MaxAttempts, "delivery attempts per action, 0 is unlimited (overrides $MAKERIESS_MAX_ATTEMPTS)"),
		retryBackoff:   fs.Duration("retry-backoff", config.RetryBackoff, "base delay between attempts of one action, 0 retries on every trigger (overrides $MAKERIESS_RETRY_BACKOFF)"),
		logLevel:       fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $MAKERIESS_LOG_LEVEL)"),
	}
	if err := fs.Parse(args); err != nil {
		slog.Warn("failed to parse flags", "error", err)
	}

	// Follow a changed state directory unless the DSN was set explicitly
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *flags.dbDSN == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	return flags
}

// buildStoreOptions constructs action log options
func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL action log", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(*flags.dbDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite action log", "db_path", *flags.dbDSN)
	return []store.Option{store.WithSQLiteDSN(*flags.dbDSN)}
}

// buildQueueOptions constructs queue options
func buildQueueOptions(flags Flags, conn queue.OnlineReporter) []queue.Option {
	opts := []queue.Option{
		queue.WithConnectivity(conn),
		queue.WithReplayInterval(*flags.replayInterval),
	}
	policy := queue.RetryPolicy{MaxAttempts: *flags.maxAttempts}
	if *flags.retryBackoff > 0 {
		policy.Backoff = queue.ExponentialBackoff(*flags.retryBackoff, 64*(*flags.retryBackoff))
	}
	return append(opts, queue.WithRetryPolicy(policy))
}

// buildLifecycleOptions constructs cache lifecycle options
func buildLifecycleOptions(flags Flags) ([]lifecycle.Option, error) {
	if *flags.manifest == "" {
		return nil, nil
	}
	m, err := lifecycle.LoadManifest(*flags.manifest)
	if err != nil {
		return nil, err
	}
	return []lifecycle.Option{lifecycle.WithManifest(m)}, nil
}

func openActionLog(flags Flags) (store.ActionLog, error) {
	opts := buildStoreOptions(flags)
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		pg, err := store.NewPostgresStore(opts...)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := store.NewSQLiteStore(opts...)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

func parseBaseURL(name, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s URL %q", name, raw)
	}
	return u, nil
}

func run(ctx context.Context, flags Flags) error {
	origin, err := parseBaseURL("origin", *flags.origin)
	if err != nil {
		return err
	}
	if _, err := parseBaseURL("backend", *flags.backend); err != nil {
		return err
	}
	lifecycleOpts, err := buildLifecycleOptions(flags)
	if err != nil {
		return err
	}

	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	actionLog, err := openActionLog(flags)
	if err != nil {
		return fmt.Errorf("open action log: %w", err)
	}
	defer actionLog.Close()

	cacheStore, err := store.NewSQLiteCacheStore(store.WithSQLiteDSN(filepath.Join(*flags.stateDir, DefaultCacheFileName)))
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	defer cacheStore.Close()

	// Without a prober nothing reports connectivity, so start optimistic.
	monitor := connectivity.NewMonitor(*flags.healthURL == "")

	q := queue.New(actionLog, queue.NewHTTPDeliverer(*flags.backend, nil), buildQueueOptions(flags, monitor)...)
	defer q.Close()
	monitor.SetReplayer(q)

	ic := interceptor.New(cacheStore, interceptor.WithOrigin(origin))
	manager := lifecycle.NewManager(cacheStore, origin, ic, lifecycleOpts...)

	signals := signal.NewChannel(0)
	entities := contentcache.New(contentcache.WithStore(cacheStore), contentcache.WithURLRequester(signals))

	rm := recovery.NewRecoveryManager()
	rm.RegisterRecoverable("queue", recovery.WithTimeout(q, recoveryTimeout))
	rm.RegisterRecoverable("contentcache", recovery.WithTimeout(entities, recoveryTimeout))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Recovery finished with errors, continuing", "error", err)
	}

	if err := manager.Start(ctx, *flags.cacheVersion); err != nil {
		// Requests pass through uncached until a version is installed.
		slog.Warn("Cache version not installed", "tag", *flags.cacheVersion, "error", err)
	}

	sched := scheduler.NewScheduler()
	if err := sched.AddJob("content-cache-sweep", contentcache.SweepSpec, func() { entities.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule content cache sweep: %w", err)
	}
	defer func() { <-sched.Stop().Done() }()

	server := api.NewServer(api.Deps{
		Queue:     q,
		Monitor:   monitor,
		Entities:  entities,
		Lifecycle: manager,
		Signals:   signals,
		Proxy:     ic.Handler(origin),
	})
	worker := signal.NewWorker(signals, manager, ic, urlFetchesPerSecond, urlFetchBurst)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, *flags.addr) })
	g.Go(func() error { q.Run(gctx); return nil })
	g.Go(func() error { worker.Run(gctx); return nil })
	if *flags.healthURL != "" {
		prober := connectivity.NewProber(monitor, *flags.healthURL, *flags.probeInterval, &http.Client{Timeout: 5 * time.Second})
		g.Go(func() error { prober.Run(gctx); return nil })
	}
	monitor.Start(gctx)

	return g.Wait()
}
