package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/utils"
)

// LoaderFunc produces the table for key on a cache miss.
type LoaderFunc func(ctx context.Context, key string) (*dataset.Table, error)

// Config holds the manager settings.
type Config struct {
	Directory      string
	MemoryCapacity int
	DiskTTL        time.Duration
	PreloadWorkers int
	PreloadQueue   int
}

// DefaultConfig returns the stock settings: 100 tables in memory and a 24h
// disk window under ./cache.
func DefaultConfig() Config {
	return Config{
		Directory:      "cache",
		MemoryCapacity: DefaultMemoryCapacity,
		DiskTTL:        DefaultDiskTTL,
		PreloadWorkers: 2,
		PreloadQueue:   64,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used by both tiers.
func WithClock(now Clock) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager layers a bounded memory tier over a TTL-governed disk tier.
//
// Reads consult memory, then disk, promoting disk hits into memory. Writes go
// to both tiers; a failed disk write is logged and counted but never returned.
// Concurrent loads of the same key are collapsed into one loader call.
//
// A load that was in flight when Clear, ClearAll or Close ran does not store
// its result.
type Manager struct {
	memory *MemoryTier
	disk   *DiskTier

	loads     singleflight.Group
	stats     counters
	preloader *preloader

	// fenceMu orders stores of loaded tables against clears and Close.
	fenceMu    sync.RWMutex
	generation uint64
	closed     bool

	// ctx bounds loader calls that outlive their callers.
	ctx    context.Context
	cancel context.CancelFunc

	hooksMu    sync.RWMutex
	clearHooks []func(key string)

	closeOnce sync.Once
	closeErr  error

	observer PreloadObserver
	logger   *slog.Logger
	now      Clock
}

// NewManager creates the cache directory if needed and starts the preload
// workers. Zero fields in cfg take their DefaultConfig values, except
// DiskTTL where zero is honoured and disables disk reads.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	defaults := DefaultConfig()
	if cfg.Directory == "" {
		cfg.Directory = defaults.Directory
	}
	if cfg.MemoryCapacity < 1 {
		cfg.MemoryCapacity = defaults.MemoryCapacity
	}
	if cfg.PreloadWorkers < 1 {
		cfg.PreloadWorkers = defaults.PreloadWorkers
	}
	if cfg.PreloadQueue < 1 {
		cfg.PreloadQueue = defaults.PreloadQueue
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		ctx:      ctx,
		cancel:   cancel,
		observer: nopObserver{},
		logger:   utils.DiscardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	disk, err := NewDiskTier(cfg.Directory, cfg.DiskTTL, WithDiskClock(m.now))
	if err != nil {
		cancel()
		return nil, err
	}
	m.disk = disk
	m.memory = newMemoryTier(cfg.MemoryCapacity, m.now)
	m.preloader = newPreloader(cfg.PreloadWorkers, cfg.PreloadQueue, m.runPreload, m.now, m.logger)

	m.logger.Debug("cache manager ready",
		"directory", cfg.Directory,
		"memory_capacity", cfg.MemoryCapacity,
		"disk_ttl", cfg.DiskTTL,
		"preload_workers", cfg.PreloadWorkers)

	return m, nil
}

// Get returns the table for key from memory or, failing that, from a fresh
// disk entry which is then promoted into memory.
func (m *Manager) Get(key string) (*dataset.Table, bool) {
	if table, ok := m.memory.Get(key); ok {
		m.stats.memoryHits.Add(1)
		return table, true
	}

	if m.disk.IsValid(key) {
		table, err := m.disk.Load(key)
		if err == nil {
			m.putMemory(key, table)
			m.stats.diskHits.Add(1)
			return table, true
		}
		m.stats.diskErrors.Add(1)
		m.logger.Warn("ignoring unreadable disk entry", "key", key, "error", err)
	}

	m.stats.misses.Add(1)
	return nil, false
}

// Set stores table in memory and on disk.
func (m *Manager) Set(key string, table *dataset.Table) {
	m.putMemory(key, table)

	if err := m.disk.Store(key, table); err != nil {
		m.stats.diskErrors.Add(1)
		m.logger.Warn("disk write failed, entry kept in memory only", "key", key, "error", err)
	}
}

// GetOrLoad returns the cached table for key or calls loader on a miss.
// Loader errors are returned unchanged in meaning; only non-empty results are
// stored. Callers racing on the same key share one loader call, which runs
// until it finishes or the manager is closed; a caller whose ctx ends stops
// waiting without affecting the others.
func (m *Manager) GetOrLoad(ctx context.Context, key string, loader LoaderFunc) (*dataset.Table, error) {
	if table, ok := m.Get(key); ok {
		return table, nil
	}
	return m.load(ctx, key, loader)
}

func (m *Manager) load(ctx context.Context, key string, loader LoaderFunc) (*dataset.Table, error) {
	m.fenceMu.RLock()
	gen := m.generation
	m.fenceMu.RUnlock()

	flight := strconv.FormatUint(gen, 10) + "\x00" + key
	ch := m.loads.DoChan(flight, func() (any, error) {
		loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(m.ctx, cancel)
		defer stop()

		table, err := loader(loadCtx, key)
		if err != nil {
			return nil, err
		}
		if !table.Empty() {
			m.storeLoaded(key, table, gen)
		}
		return table, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("load %q: %w", key, res.Err)
		}
		table, _ := res.Val.(*dataset.Table)
		return table, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("load %q: %w", key, ctx.Err())
	}
}

// storeLoaded writes a loaded table unless the cache was cleared or closed
// since the load started.
func (m *Manager) storeLoaded(key string, table *dataset.Table, gen uint64) {
	m.fenceMu.RLock()
	defer m.fenceMu.RUnlock()
	if m.closed || gen != m.generation {
		m.logger.Debug("discarding load that raced a clear", "key", key)
		return
	}
	m.Set(key, table)
}

// fence makes every load in flight skip its store.
func (m *Manager) fence() {
	m.fenceMu.Lock()
	m.generation++
	m.fenceMu.Unlock()
}

// Preload queues keys for background loading and returns immediately with a
// job id. Keys already cached are skipped and per-key failures are logged
// without affecting the rest of the batch. It fails only when the queue is
// full or the manager is closed.
func (m *Manager) Preload(keys []string, loader LoaderFunc) (string, error) {
	id, queuedAt, err := m.preloader.submit(keys, loader)
	if err != nil {
		if err == ErrPreloadQueueFull {
			m.stats.preloadsDropped.Add(1)
		}
		m.logger.Warn("preload rejected", "keys", len(keys), "error", err)
		return "", err
	}
	m.observer.PreloadQueued(PreloadReport{JobID: id, Keys: len(keys), QueuedAt: queuedAt})
	m.logger.Debug("preload queued", "job", id, "keys", len(keys))
	return id, nil
}

// Clear removes key from both tiers. Statistics are not reset.
func (m *Manager) Clear(key string) {
	m.fence()
	m.memory.Remove(key)
	if err := m.disk.Evict(key); err != nil {
		m.logger.Warn("failed to evict disk entry", "key", key, "error", err)
	}
	m.notifyClear(key)
}

// ClearAll empties both tiers. Statistics are not reset.
func (m *Manager) ClearAll() {
	m.fence()
	n := m.memory.Clear()
	if err := m.disk.EvictAll(); err != nil {
		m.logger.Warn("failed to empty disk tier", "error", err)
	}
	m.logger.Info("cache cleared", "memory_entries", n)
	m.notifyClear("")
}

// OnClear registers fn to run after every Clear and ClearAll. The key is
// empty for ClearAll.
func (m *Manager) OnClear(fn func(key string)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.clearHooks = append(m.clearHooks, fn)
}

func (m *Manager) notifyClear(key string) {
	m.hooksMu.RLock()
	hooks := slices.Clone(m.clearHooks)
	m.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(key)
	}
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Statistics {
	s := m.stats.snapshot()
	s.MemoryEntries = m.memory.Len()
	s.MemoryCapacity = m.memory.Capacity()
	return s
}

// MemoryKeys lists keys resident in memory, most recently accessed first.
func (m *Manager) MemoryKeys() []string {
	return m.memory.Keys()
}

// DiskUsage reports the number of disk entries and their size in bytes.
func (m *Manager) DiskUsage() (files int, size int64, err error) {
	return m.disk.Usage()
}

// Close stops accepting preloads, waits for queued jobs until ctx is done,
// cancels loads still in flight and releases the disk codec. Loads and
// preload workers that outlive a timed-out Close never store, so the codec is
// not used after it is released. The manager must not be used afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closeErr = m.preloader.stop(ctx)

		m.fenceMu.Lock()
		m.closed = true
		m.fenceMu.Unlock()
		m.cancel()

		if err := m.disk.Close(); m.closeErr == nil {
			m.closeErr = err
		}
	})
	return m.closeErr
}

func (m *Manager) putMemory(key string, table *dataset.Table) {
	if evicted, ok := m.memory.Put(key, table); ok {
		m.stats.evictions.Add(1)
		m.logger.Debug("evicted from memory", "key", evicted)
	}
}

// cached reports whether key is resident or fresh on disk, without touching
// statistics or access order.
func (m *Manager) cached(key string) bool {
	return m.memory.Contains(key) || m.disk.IsValid(key)
}
