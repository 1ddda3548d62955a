// Package source loads indicator tables from the store the ETL writes to.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/config"
	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
	"github.com/statdash/statdash/pkg/retry"
	"github.com/statdash/statdash/pkg/utils"
)

// Store produces the table for an indicator key.
//
// Implementations return SOURCE_NOT_FOUND when the key does not exist,
// SOURCE_READ when the data exists but cannot be parsed and
// SOURCE_UNAVAILABLE (retryable) for transient backend failures.
type Store interface {
	Load(ctx context.Context, key string) (*dataset.Table, error)
	Close() error
}

// Pinger is implemented by stores that can check their backend without
// loading an indicator.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open builds the store selected by cfg.Kind.
func Open(ctx context.Context, cfg config.SourceConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Kind {
	case config.SourceLocal:
		return NewLocalStore(cfg.Local.Directory)
	case config.SourceS3:
		return NewS3Store(ctx, cfg.S3, logger)
	case config.SourceSQLite:
		return NewSQLiteStore(ctx, cfg.SQLite)
	default:
		return nil, errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("unknown source kind %q", cfg.Kind)).
			WithComponent("source")
	}
}

// Loader adapts store to the cache loader signature, retrying transient
// failures according to rc.
func Loader(store Store, rc retry.Config, logger *slog.Logger) cache.LoaderFunc {
	logger = orDiscard(logger)
	retryer := retry.New(rc).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("source load failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})

	return func(ctx context.Context, key string) (*dataset.Table, error) {
		var table *dataset.Table
		err := retryer.Do(ctx, func(ctx context.Context) error {
			t, err := store.Load(ctx, key)
			if err != nil {
				return err
			}
			table = t
			return nil
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded table from source", "key", key, "rows", table.Len())
		return table, nil
	}
}

func notFound(component, key string, cause error) error {
	return errors.Wrap(cause, errors.ErrCodeSourceNotFound, "indicator not found").
		WithComponent(component).WithOperation("Load").WithKey(key)
}

func readFailed(component, key string, cause error) error {
	return errors.Wrap(cause, errors.ErrCodeSourceRead, "failed to read indicator data").
		WithComponent(component).WithOperation("Load").WithKey(key)
}

func unavailable(component, key string, cause error) error {
	return errors.Wrap(cause, errors.ErrCodeSourceUnavailable, "source unavailable").
		WithComponent(component).WithOperation("Load").WithKey(key)
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return utils.DiscardLogger()
	}
	return logger
}
