package main

import (
	"context"
	stderr "errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/catalog"
	"github.com/statdash/statdash/internal/circuit"
	"github.com/statdash/statdash/internal/config"
	"github.com/statdash/statdash/internal/metrics"
	"github.com/statdash/statdash/internal/source"
	"github.com/statdash/statdash/pkg/health"
	"github.com/statdash/statdash/pkg/status"
	"github.com/statdash/statdash/pkg/utils"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "statdash",
		Short: "Statistical indicator cache and API",
		Long: `statdash serves indicator tables produced by the ETL pipeline.

Tables are loaded from a local directory, an S3 bucket or a SQLite database
and kept in a bounded in-memory LRU backed by a compressed on-disk cache.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newGetCmd(opts),
		newPreloadCmd(opts),
		newClearCmd(opts),
		newStatsCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Configuration, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Global.LogLevel = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// app holds the components every command is built from.
type app struct {
	cfg      *config.Configuration
	logger   *slog.Logger
	closeLog func() error

	store   source.Store
	loader  cache.LoaderFunc
	cache   *cache.Manager
	catalog *catalog.Service
	jobs    *status.Tracker
	health  *health.Tracker
	metrics *metrics.Collector
}

// newApp wires source, cache, catalog and instrumentation from cfg.
func newApp(ctx context.Context, cfg *config.Configuration) (_ *app, err error) {
	logger, closeLog, err := utils.SetupLogging(cfg.Global.LogConfig())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.store, err = source.Open(ctx, cfg.Source, logger)
	if err != nil {
		return nil, err
	}

	a.jobs = status.NewTracker(status.DefaultTrackerConfig())
	a.cache, err = cache.NewManager(cfg.Cache.ManagerConfig(),
		cache.WithLogger(logger.With("component", "cache")),
		cache.WithPreloadObserver(a.jobs))
	if err != nil {
		return nil, err
	}

	a.metrics, err = metrics.NewCollector(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
	}, a.cache)
	if err != nil {
		return nil, err
	}

	a.health = health.NewTracker(health.DefaultConfig())
	a.health.RegisterComponent(health.ComponentCache)
	a.health.OnStateChange(func(component string, oldState, newState health.HealthState, err error) {
		logger.Warn("component health changed",
			"component", component, "from", oldState.String(), "to", newState.String(), "error", err)
	})

	loader := source.Loader(a.store, cfg.Source.Retry, logger.With("component", "source"))
	if cfg.Source.Breaker.Enabled {
		breakerCfg := cfg.Source.Breaker
		breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
		loader = circuit.NewCircuitBreaker(cfg.Source.Kind, breakerCfg).Guard(loader)
	}
	loader = health.TrackLoader(a.health, health.ComponentSource, loader)
	a.loader = a.metrics.InstrumentLoader(loader)

	if cfg.Catalog.File != "" {
		cat, err := catalog.Load(cfg.Catalog.File)
		switch {
		case stderr.Is(err, fs.ErrNotExist):
			logger.Warn("catalog file not found, goal routes disabled", "file", cfg.Catalog.File)
		case err != nil:
			return nil, err
		default:
			a.catalog = catalog.NewService(cat, a.cache, a.loader, cfg.Cache.MemoCapacity, logger)
		}
	}

	return a, nil
}

// close releases everything newApp acquired. Errors are logged.
func (a *app) close(ctx context.Context) {
	if a.cache != nil {
		if err := a.cache.Close(ctx); err != nil {
			a.logger.Warn("cache did not shut down cleanly", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close source", "error", err)
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}
