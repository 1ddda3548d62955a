package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/statdash/statdash/internal/config"
	"github.com/statdash/statdash/internal/source"
	"github.com/statdash/statdash/internal/watch"
	"github.com/statdash/statdash/pkg/api"
	"github.com/statdash/statdash/pkg/errors"
	"github.com/statdash/statdash/pkg/health"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve indicator tables and cache administration over HTTP.

Routes:
  GET    /indicators/{id}        table for one indicator (?format=csv)
  GET    /catalog                objective, goal and indicator hierarchy
  POST   /goals/{id}/preload     warm the cache for every indicator of a goal
  GET    /goals/{id}/summary     row counts and latest values for a goal
  GET    /preload/{job}          progress of a preload job
  GET    /cache/stats            hit, miss and eviction counters
  DELETE /cache                  clear every cached table
  DELETE /cache/{id}             clear one cached table
  GET    /health                 component health
  GET    /metrics                Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "override the configured listen address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Configuration) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	server := api.NewServer(api.ServerConfig{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		EnableCORS:   true,
	}, api.Dependencies{
		Cache:   a.cache,
		Loader:  a.loader,
		Catalog: a.catalog,
		Jobs:    a.jobs,
		Health:  a.health,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx, cfg.Server.ShutdownTimeout)
	})

	g.Go(func() error {
		a.health.StartHealthChecks(ctx, a.checkComponent)
		return nil
	})

	if cfg.Source.Watch {
		if local, ok := a.store.(*source.LocalStore); ok {
			w, err := watch.New(local.Dir(), a.cache, watch.WithLogger(a.logger))
			if err != nil {
				return err
			}
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	return g.Wait()
}

// checkComponent probes one health component.
func (a *app) checkComponent(ctx context.Context, component string) error {
	switch component {
	case health.ComponentCache:
		return probeCacheDir(a.cfg.Cache.Directory)
	case health.ComponentSource:
		if p, ok := a.store.(source.Pinger); ok {
			return p.Ping(ctx)
		}
	}
	return nil
}

// probeCacheDir checks that the cache directory accepts writes.
func probeCacheDir(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCachePersist, "cache directory is not writable").
			WithComponent("health").WithKey(dir)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return errors.Wrap(err, errors.ErrCodeCachePersist, "failed to remove probe file").
			WithComponent("health").WithKey(filepath.Base(name))
	}
	return nil
}
