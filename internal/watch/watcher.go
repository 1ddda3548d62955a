// Package watch clears cached indicators when their source files change.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/pkg/errors"
	"github.com/statdash/statdash/pkg/utils"
)

// DefaultDebounce is how long events are collected before keys are cleared.
const DefaultDebounce = 100 * time.Millisecond

const sourceExt = ".csv"

// Clearer drops a key from every cache tier.
type Clearer interface {
	Clear(key string)
}

// Option configures a SourceWatcher.
type Option func(*SourceWatcher)

// WithDebounce sets the event collection window.
func WithDebounce(d time.Duration) Option {
	return func(w *SourceWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *SourceWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// SourceWatcher watches a local source directory. Any write, create, remove
// or rename of <token>.csv clears the matching key.
type SourceWatcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	cache     Clearer
	debounce  time.Duration
	logger    *slog.Logger
}

// New starts watching dir. Subdirectories are not watched.
func New(dir string, c Clearer, opts ...Option) (*SourceWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to create file watcher").
			WithComponent("watch")
	}

	w := &SourceWatcher{
		fsWatcher: fsw,
		dir:       dir,
		cache:     c,
		debounce:  DefaultDebounce,
		logger:    utils.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watch")

	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to watch source directory").
			WithComponent("watch").WithKey(dir)
	}
	return w, nil
}

// Run processes events until ctx is done, then releases the watcher.
func (w *SourceWatcher) Run(ctx context.Context) error {
	defer w.fsWatcher.Close()

	w.logger.Info("watching source directory", "dir", w.dir)

	pending := make(map[string]struct{})
	var (
		timer *time.Timer
		flush <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, flush = nil, nil
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			w.clear(pending)
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			key, ok := keyForEvent(event)
			if !ok {
				continue
			}
			pending[key] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				flush = timer.C
			}

		case <-flush:
			w.clear(pending)
			pending = make(map[string]struct{})
			stopTimer()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *SourceWatcher) clear(keys map[string]struct{}) {
	for key := range keys {
		w.cache.Clear(key)
		w.logger.Info("source changed, cleared cache entry", "key", key)
	}
}

// keyForEvent maps an event on <token>.csv back to its cache key.
func keyForEvent(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, sourceExt) {
		return "", false
	}
	return cache.KeyFromToken(strings.TrimSuffix(name, sourceExt))
}
