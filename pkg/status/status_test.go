package status

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
)

func TestJobStatusString(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected string
	}{
		{StatusPending, "pending"},
		{StatusInProgress, "in_progress"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusCanceled, "canceled"},
		{JobStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("JobStatus(%d).String() = %s, want %s", tt.status, got, tt.expected)
		}
	}
}

func TestNewTracker(t *testing.T) {
	tracker := NewTracker(TrackerConfig{})
	if tracker.maxHistory != 100 {
		t.Errorf("Expected default max history 100, got %d", tracker.maxHistory)
	}
	if len(tracker.Active()) != 0 {
		t.Error("Expected no active jobs")
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tracker.now = func() time.Time { return now }

	tracker.PreloadQueued(cache.PreloadReport{JobID: "job-1", Keys: 4, QueuedAt: base})

	job, err := tracker.Get("job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Status != StatusPending {
		t.Errorf("Expected pending, got %s", job.Status)
	}
	if job.Progress.Total != 4 {
		t.Errorf("Expected total 4, got %d", job.Progress.Total)
	}

	now = base.Add(2 * time.Second)
	tracker.PreloadProgress(cache.PreloadReport{
		JobID: "job-1", Keys: 4, Stored: 1, Skipped: 1,
		QueuedAt: base, StartedAt: base,
	})

	job, _ = tracker.Get("job-1")
	if job.Status != StatusInProgress {
		t.Errorf("Expected in_progress, got %s", job.Status)
	}
	if job.Progress.Percentage != 50 {
		t.Errorf("Expected 50%%, got %v", job.Progress.Percentage)
	}
	if job.Progress.Rate != 1 {
		t.Errorf("Expected rate 1 key/s, got %v", job.Progress.Rate)
	}
	if job.Progress.ETA == nil || *job.Progress.ETA != 2*time.Second {
		t.Errorf("Expected ETA 2s, got %v", job.Progress.ETA)
	}

	now = base.Add(4 * time.Second)
	tracker.PreloadFinished(cache.PreloadReport{
		JobID: "job-1", Keys: 4, Stored: 3, Skipped: 1,
		QueuedAt: base, StartedAt: base, FinishedAt: now,
	})

	job, err = tracker.Get("job-1")
	if err != nil {
		t.Fatalf("finished job should remain visible: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", job.Status)
	}
	if job.EndTime == nil || !job.EndTime.Equal(now) {
		t.Errorf("Expected end time %v, got %v", now, job.EndTime)
	}
	if job.Progress.ETA != nil {
		t.Error("Finished job should have no ETA")
	}
	if len(tracker.Active()) != 0 {
		t.Error("Finished job should not be active")
	}

	// A late queued event must not resurrect the job.
	tracker.PreloadQueued(cache.PreloadReport{JobID: "job-1", Keys: 4, QueuedAt: base})
	if len(tracker.Active()) != 0 {
		t.Error("Queued event after finish re-created the job")
	}
}

func TestTrackerFinalStatus(t *testing.T) {
	tests := []struct {
		name     string
		report   cache.PreloadReport
		expected JobStatus
	}{
		{"completed", cache.PreloadReport{Keys: 2, Stored: 2}, StatusCompleted},
		{"failed", cache.PreloadReport{Keys: 2, Stored: 1, Failed: 1}, StatusFailed},
		{"canceled", cache.PreloadReport{Keys: 2, Stored: 1, Abandoned: true}, StatusCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(DefaultTrackerConfig())
			tt.report.JobID = tt.name
			tt.report.FinishedAt = time.Now()
			tracker.PreloadFinished(tt.report)

			job, err := tracker.Get(tt.name)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if job.Status != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, job.Status)
			}
		})
	}
}

func TestTrackerGetUnknown(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	_, err := tracker.Get("nope")
	if !errors.HasCode(err, errors.ErrCodePreloadUnknown) {
		t.Errorf("Expected PRELOAD_UNKNOWN_JOB, got %v", err)
	}
}

func TestTrackerHistoryBound(t *testing.T) {
	tracker := NewTracker(TrackerConfig{MaxHistorySize: 3})
	for i := 0; i < 5; i++ {
		tracker.PreloadFinished(cache.PreloadReport{JobID: fmt.Sprintf("job-%d", i), FinishedAt: time.Now()})
	}

	history := tracker.History(0)
	if len(history) != 3 {
		t.Fatalf("Expected 3 jobs in history, got %d", len(history))
	}
	if history[0].ID != "job-4" {
		t.Errorf("Expected most recent first, got %s", history[0].ID)
	}
	if len(tracker.History(2)) != 2 {
		t.Error("History limit not applied")
	}
	if _, err := tracker.Get("job-0"); err == nil {
		t.Error("Oldest job should have been dropped")
	}
}

func TestJobJSON(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	tracker.PreloadQueued(cache.PreloadReport{JobID: "j", Keys: 1, QueuedAt: time.Now()})
	job, _ := tracker.Get("j")

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["status"] != "pending" {
		t.Errorf("Expected status pending, got %v", decoded["status"])
	}
}

func TestTrackerWithManager(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	mgr, err := cache.NewManager(cache.Config{Directory: filepath.Join(t.TempDir(), "cache")},
		cache.WithPreloadObserver(tracker))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Close(context.Background())

	loader := func(ctx context.Context, key string) (*dataset.Table, error) {
		return &dataset.Table{Key: key, Columns: []string{"value"}, Rows: [][]string{{"1"}}}, nil
	}
	id, err := mgr.Preload([]string{"a", "b"}, loader)
	if err != nil {
		t.Fatalf("Preload failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := tracker.Get(id)
		if err == nil && job.Status == StatusCompleted {
			if job.Stored != 2 {
				t.Errorf("Expected 2 stored, got %d", job.Stored)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete: %+v, %v", job, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
