package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/statdash/statdash/pkg/errors"
)

var (
	// ErrPreloadQueueFull is returned by Preload when every queue slot is taken.
	ErrPreloadQueueFull = errors.New(errors.ErrCodePreloadRejected, "preload queue is full")
	// ErrClosed is returned by Preload after Close.
	ErrClosed = errors.New(errors.ErrCodePreloadRejected, "cache manager is closed")
)

// PreloadReport describes one preload job. Counts are final once
// FinishedAt is set.
type PreloadReport struct {
	JobID      string
	Keys       int
	Stored     int
	Skipped    int
	Failed     int
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	// Abandoned is set when the manager closed before every key was tried.
	Abandoned bool
}

// Done returns the number of keys processed so far.
func (r PreloadReport) Done() int {
	return r.Stored + r.Skipped + r.Failed
}

// PreloadObserver follows preload jobs. Calls for one job arrive in order:
// PreloadQueued may race with the first PreloadProgress, which is sent when a
// worker picks the job up and again after every key.
type PreloadObserver interface {
	PreloadQueued(r PreloadReport)
	PreloadProgress(r PreloadReport)
	PreloadFinished(r PreloadReport)
}

// WithPreloadObserver registers obs for preload job events.
func WithPreloadObserver(obs PreloadObserver) Option {
	return func(m *Manager) {
		if obs != nil {
			m.observer = obs
		}
	}
}

type nopObserver struct{}

func (nopObserver) PreloadQueued(PreloadReport)   {}
func (nopObserver) PreloadProgress(PreloadReport) {}
func (nopObserver) PreloadFinished(PreloadReport) {}

type preloadJob struct {
	id       string
	keys     []string
	loader   LoaderFunc
	queuedAt time.Time
}

// preloader runs preload jobs on a fixed set of workers fed by a bounded
// queue. Jobs are processed one key at a time.
type preloader struct {
	queue chan preloadJob
	run   func(ctx context.Context, job preloadJob)

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    Clock
	logger *slog.Logger
}

func newPreloader(workers, depth int, run func(context.Context, preloadJob), now Clock, logger *slog.Logger) *preloader {
	ctx, cancel := context.WithCancel(context.Background())
	p := &preloader{
		queue:  make(chan preloadJob, depth),
		run:    run,
		ctx:    ctx,
		cancel: cancel,
		now:    now,
		logger: logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *preloader) submit(keys []string, loader LoaderFunc) (string, time.Time, error) {
	job := preloadJob{
		id:       uuid.NewString(),
		keys:     append([]string(nil), keys...),
		loader:   loader,
		queuedAt: p.now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", time.Time{}, ErrClosed
	}

	select {
	case p.queue <- job:
		return job.id, job.queuedAt, nil
	default:
		return "", time.Time{}, ErrPreloadQueueFull
	}
}

func (p *preloader) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.logger.Debug("preload started", "job", job.id, "queued_for", p.now().Sub(job.queuedAt))
		p.run(p.ctx, job)
	}
}

// stop closes the queue and waits for the workers to drain it. If ctx ends
// first the context handed to running loaders is cancelled.
func (p *preloader) stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

type preloadOutcome int

const (
	preloadStored preloadOutcome = iota
	preloadSkipped
	preloadEmpty
)

// runPreload processes one job. A failing or panicking loader only affects
// its own key.
func (m *Manager) runPreload(ctx context.Context, job preloadJob) {
	report := PreloadReport{
		JobID:     job.id,
		Keys:      len(job.keys),
		QueuedAt:  job.queuedAt,
		StartedAt: m.now(),
	}
	m.observer.PreloadProgress(report)

	for _, key := range job.keys {
		if ctx.Err() != nil {
			report.Abandoned = true
			m.logger.Warn("preload abandoned", "job", job.id, "remaining", report.Keys-report.Done())
			break
		}

		var (
			pc      panics.Catcher
			outcome preloadOutcome
			err     error
		)
		pc.Try(func() { outcome, err = m.preloadKey(ctx, key, job.loader) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}

		switch {
		case err != nil:
			report.Failed++
			m.stats.preloadFailures.Add(1)
			m.logger.Warn("preload failed", "job", job.id, "key", key, "error", err)
		case outcome == preloadStored:
			report.Stored++
			m.stats.preloads.Add(1)
		default:
			report.Skipped++
		}
		m.observer.PreloadProgress(report)
	}

	report.FinishedAt = m.now()
	m.observer.PreloadFinished(report)

	m.logger.Info("preload finished",
		"job", job.id,
		"keys", report.Keys,
		"stored", report.Stored,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt))
}

func (m *Manager) preloadKey(ctx context.Context, key string, loader LoaderFunc) (preloadOutcome, error) {
	if m.cached(key) {
		return preloadSkipped, nil
	}

	table, err := m.load(ctx, key, loader)
	if err != nil {
		return 0, err
	}
	if table.Empty() {
		return preloadEmpty, nil
	}
	return preloadStored, nil
}
