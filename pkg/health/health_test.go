package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
)

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	tracker.RegisterComponent("test-service")

	state := tracker.GetState("test-service")
	if state != StateHealthy {
		t.Errorf("Expected initial state to be StateHealthy, got %s", state)
	}
	if tracker.GetState("unknown") != StateUnavailable {
		t.Error("Unregistered component should be unavailable")
	}
}

func TestTracker_RecordSuccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("test-service")

	tracker.RecordError("test-service", fmt.Errorf("test error"))
	tracker.RecordError("test-service", fmt.Errorf("test error"))

	tracker.RecordSuccess("test-service")
	tracker.RecordSuccess("test-service")

	health, err := tracker.GetComponentHealth("test-service")
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}
	if health.ConsecutiveErrors != 0 {
		t.Errorf("Expected ConsecutiveErrors=0 after successes, got %d", health.ConsecutiveErrors)
	}
}

func TestTracker_RecordError_Degradation(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 3
	tracker := NewTracker(config)
	tracker.RegisterComponent("test-service")

	for i := 0; i < 2; i++ {
		tracker.RecordError("test-service", fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState("test-service"); state != StateHealthy {
		t.Errorf("Expected StateHealthy before threshold, got %s", state)
	}

	tracker.RecordError("test-service", fmt.Errorf("error 3"))
	if state := tracker.GetState("test-service"); state != StateDegraded {
		t.Errorf("Expected StateDegraded after threshold, got %s", state)
	}
}

func TestTracker_RecordError_Unavailable(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 3
	config.UnavailableThreshold = 10
	tracker := NewTracker(config)
	tracker.RegisterComponent("test-service")

	for i := 0; i < 10; i++ {
		tracker.RecordError("test-service", fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState("test-service"); state != StateUnavailable {
		t.Errorf("Expected StateUnavailable, got %s", state)
	}
}

func TestTracker_RecordError_ReadOnly(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentCache)

	writeErr := errors.New(errors.ErrCodeCachePersist, "disk full")
	for i := 0; i < 3; i++ {
		tracker.RecordError(ComponentCache, writeErr)
	}
	if state := tracker.GetState(ComponentCache); state != StateReadOnly {
		t.Errorf("Expected StateReadOnly for persist errors, got %s", state)
	}
}

func TestTracker_GetOverallHealth(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	if tracker.GetOverallHealth() != StateHealthy {
		t.Error("Expected healthy with no components")
	}

	tracker.RegisterComponent("a")
	tracker.RegisterComponent("b")
	for i := 0; i < 3; i++ {
		tracker.RecordError("b", fmt.Errorf("error"))
	}
	if state := tracker.GetOverallHealth(); state != StateDegraded {
		t.Errorf("Expected overall StateDegraded, got %s", state)
	}
	if len(tracker.GetAllComponents()) != 2 {
		t.Error("Expected two components")
	}
}

func TestTracker_StateChangeCallback(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("test-service")

	var mu sync.Mutex
	var transitions []string
	tracker.OnStateChange(func(component string, oldState, newState HealthState, err error) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", component, oldState, newState))
	})

	for i := 0; i < 3; i++ {
		tracker.RecordError("test-service", fmt.Errorf("error"))
	}
	for i := 0; i < 3; i++ {
		tracker.RecordSuccess("test-service")
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []string{
		"test-service:healthy->degraded",
		"test-service:degraded->healthy",
	}
	if fmt.Sprint(transitions) != fmt.Sprint(expected) {
		t.Errorf("Expected transitions %v, got %v", expected, transitions)
	}
}

func TestTracker_StartHealthChecks(t *testing.T) {
	config := DefaultConfig()
	config.HealthCheckInterval = 10 * time.Millisecond
	config.ErrorThreshold = 1
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentCache)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.StartHealthChecks(ctx, func(ctx context.Context, component string) error {
			calls.Add(1)
			return fmt.Errorf("probe failed")
		})
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for tracker.GetState(ComponentCache) == StateHealthy {
		if time.Now().After(deadline) {
			t.Fatal("health check never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if calls.Load() == 0 {
		t.Error("Expected checkFn to be called")
	}
}

func TestTrackLoader(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 2
	tracker := NewTracker(config)

	var fail atomic.Bool
	loader := TrackLoader(tracker, ComponentSource, func(ctx context.Context, key string) (*dataset.Table, error) {
		switch {
		case key == "missing":
			return nil, errors.New(errors.ErrCodeSourceNotFound, "not found")
		case fail.Load():
			return nil, errors.New(errors.ErrCodeSourceUnavailable, "offline")
		}
		return &dataset.Table{Key: key}, nil
	})

	ctx := context.Background()
	_, _ = loader(ctx, "missing")
	if !tracker.IsHealthy(ComponentSource) {
		t.Error("Not found should not degrade the source")
	}

	fail.Store(true)
	_, _ = loader(ctx, "a")
	_, _ = loader(ctx, "b")
	if state := tracker.GetState(ComponentSource); state != StateDegraded {
		t.Errorf("Expected StateDegraded, got %s", state)
	}

	fail.Store(false)
	_, _ = loader(ctx, "a")
	_, _ = loader(ctx, "b")
	if !tracker.IsHealthy(ComponentSource) {
		t.Errorf("Expected recovery, got %s", tracker.GetState(ComponentSource))
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	fail.Store(true)
	for i := 0; i < 5; i++ {
		_, _ = loader(cancelled, "a")
	}
	if !tracker.IsHealthy(ComponentSource) {
		t.Error("Cancelled loads should not count against the source")
	}
}

func TestHealthState_String(t *testing.T) {
	tests := []struct {
		state    HealthState
		expected string
	}{
		{StateHealthy, "healthy"},
		{StateDegraded, "degraded"},
		{StateReadOnly, "read-only"},
		{StateUnavailable, "unavailable"},
		{HealthState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("HealthState(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestTracker_GetComponentHealth_NotRegistered(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	if _, err := tracker.GetComponentHealth("nonexistent"); err == nil {
		t.Error("Expected error for unregistered component")
	}
}
