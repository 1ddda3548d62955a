// Package status tracks preload jobs so clients can poll their progress.
package status

import (
	"sync"
	"time"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/pkg/errors"
)

// JobStatus represents the state of a preload job
type JobStatus int

const (
	// StatusPending indicates the job is queued but no worker has picked it up
	StatusPending JobStatus = iota

	// StatusInProgress indicates a worker is loading the job's keys
	StatusInProgress

	// StatusCompleted indicates every key was loaded or already cached
	StatusCompleted

	// StatusFailed indicates at least one key could not be loaded
	StatusFailed

	// StatusCanceled indicates the cache shut down before the job finished
	StatusCanceled
)

// String returns the string representation of a job status
func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON.
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Job is a snapshot of one preload job.
type Job struct {
	ID        string     `json:"id"`
	Status    JobStatus  `json:"status"`
	Progress  Progress   `json:"progress"`
	Stored    int        `json:"stored"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	QueuedAt  time.Time  `json:"queued_at"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Progress reports how far a job has got.
type Progress struct {
	Current    int            `json:"current"`
	Total      int            `json:"total"`
	Percentage float64        `json:"percentage"`
	Rate       float64        `json:"rate,omitempty"` // keys per second
	ETA        *time.Duration `json:"eta,omitempty"`
}

// Tracker implements cache.PreloadObserver. Active jobs are kept until they
// finish, then moved to a bounded most-recent-first history.
type Tracker struct {
	mu         sync.RWMutex
	active     map[string]*Job
	history    []*Job
	maxHistory int
	now        func() time.Time
}

// TrackerConfig configures job tracking
type TrackerConfig struct {
	MaxHistorySize int `yaml:"max_history_size" json:"max_history_size"`
}

// DefaultTrackerConfig returns default configuration
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxHistorySize: 100,
	}
}

var _ cache.PreloadObserver = (*Tracker)(nil)

// NewTracker creates a new job tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = DefaultTrackerConfig().MaxHistorySize
	}
	return &Tracker{
		active:     make(map[string]*Job),
		maxHistory: config.MaxHistorySize,
		now:        time.Now,
	}
}

// PreloadQueued records a newly accepted job.
func (t *Tracker) PreloadQueued(r cache.PreloadReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[r.JobID]; exists {
		return
	}
	if t.indexOfHistory(r.JobID) >= 0 {
		return
	}
	t.active[r.JobID] = &Job{
		ID:       r.JobID,
		Status:   StatusPending,
		Progress: Progress{Total: r.Keys},
		QueuedAt: r.QueuedAt,
	}
}

// PreloadProgress updates a running job.
func (t *Tracker) PreloadProgress(r cache.PreloadReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.upsert(r)
	job.Status = StatusInProgress
	t.apply(job, r)
}

// PreloadFinished moves the job to history.
func (t *Tracker) PreloadFinished(r cache.PreloadReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.upsert(r)
	t.apply(job, r)

	switch {
	case r.Abandoned:
		job.Status = StatusCanceled
	case r.Failed > 0:
		job.Status = StatusFailed
	default:
		job.Status = StatusCompleted
	}
	end := r.FinishedAt
	job.EndTime = &end
	job.Progress.ETA = nil

	delete(t.active, job.ID)
	t.history = append([]*Job{job}, t.history...)
	if len(t.history) > t.maxHistory {
		t.history = t.history[:t.maxHistory]
	}
}

// Get returns a snapshot of a job, active or finished.
func (t *Tracker) Get(id string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if job, ok := t.active[id]; ok {
		return job.copy(), nil
	}
	if i := t.indexOfHistory(id); i >= 0 {
		return t.history[i].copy(), nil
	}
	return Job{}, errors.New(errors.ErrCodePreloadUnknown, "preload job not found").
		WithComponent("status").WithKey(id)
}

// Active returns snapshots of every unfinished job.
func (t *Tracker) Active() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	jobs := make([]Job, 0, len(t.active))
	for _, job := range t.active {
		jobs = append(jobs, job.copy())
	}
	return jobs
}

// History returns up to limit finished jobs, most recent first. A limit of
// zero or less returns all of them.
func (t *Tracker) History(limit int) []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	jobs := make([]Job, limit)
	for i := range jobs {
		jobs[i] = t.history[i].copy()
	}
	return jobs
}

// upsert returns the active job for r, creating it when the queued event has
// not been seen yet (must be called with lock held).
func (t *Tracker) upsert(r cache.PreloadReport) *Job {
	job, ok := t.active[r.JobID]
	if !ok {
		job = &Job{ID: r.JobID, QueuedAt: r.QueuedAt}
		t.active[r.JobID] = job
	}
	return job
}

// apply copies counters from r and refreshes the rate estimate (must be
// called with lock held).
func (t *Tracker) apply(job *Job, r cache.PreloadReport) {
	job.Stored, job.Skipped, job.Failed = r.Stored, r.Skipped, r.Failed
	if !r.StartedAt.IsZero() {
		start := r.StartedAt
		job.StartTime = &start
	}
	job.Progress.update(r.Done(), r.Keys, r.StartedAt, t.now())
}

func (t *Tracker) indexOfHistory(id string) int {
	for i, job := range t.history {
		if job.ID == id {
			return i
		}
	}
	return -1
}

func (j *Job) copy() Job {
	c := *j
	if j.StartTime != nil {
		start := *j.StartTime
		c.StartTime = &start
	}
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	if j.Progress.ETA != nil {
		eta := *j.Progress.ETA
		c.Progress.ETA = &eta
	}
	return c
}

// update recomputes percentage, rate and ETA from the job start.
func (p *Progress) update(current, total int, started, now time.Time) {
	p.Current = current
	p.Total = total
	p.Percentage = 0
	if total > 0 {
		p.Percentage = float64(current) / float64(total) * 100
	}

	p.Rate = 0
	p.ETA = nil
	if started.IsZero() || current == 0 {
		return
	}
	elapsed := now.Sub(started).Seconds()
	if elapsed <= 0 {
		return
	}
	p.Rate = float64(current) / elapsed
	if total > current {
		eta := time.Duration(float64(total-current) / p.Rate * float64(time.Second))
		p.ETA = &eta
	}
}
