package circuit

import (
	"context"
	stderr "errors"
	"sync"
	"testing"
	"time"

	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(config Config) (*CircuitBreaker, *testClock) {
	clock := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("source", config)
	cb.now = clock.Now
	cb.expiry = clock.Now().Add(cb.config.Interval)
	return cb, clock
}

type scriptedLoader struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *scriptedLoader) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptedLoader) load(ctx context.Context, key string) (*dataset.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &dataset.Table{Key: key}, nil
}

var errOffline = errors.New(errors.ErrCodeSourceUnavailable, "offline")

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"Closed state", StateClosed, "CLOSED"},
		{"Open state", StateOpen, "OPEN"},
		{"Half-open state", StateHalfOpen, "HALF_OPEN"},
		{"Unknown state", State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{})
	if cb.Name() != "test" {
		t.Errorf("name = %q, want %q", cb.Name(), "test")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("initial state = %v, want %v", cb.GetState(), StateClosed)
	}
	defaults := DefaultConfig()
	if cb.config.MaxRequests != defaults.MaxRequests {
		t.Errorf("default MaxRequests = %d, want %d", cb.config.MaxRequests, defaults.MaxRequests)
	}
	if cb.config.Timeout != defaults.Timeout {
		t.Errorf("default Timeout = %v, want %v", cb.config.Timeout, defaults.Timeout)
	}
	if cb.config.ConsecutiveFailures != defaults.ConsecutiveFailures {
		t.Errorf("default ConsecutiveFailures = %d, want %d", cb.config.ConsecutiveFailures, defaults.ConsecutiveFailures)
	}
}

func TestGuard_TripsAndRecovers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions []string
	config := DefaultConfig()
	config.ConsecutiveFailures = 3
	config.Timeout = 10 * time.Second
	config.OnStateChange = func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	cb, clock := newTestBreaker(config)

	src := &scriptedLoader{err: errOffline}
	loader := cb.Guard(src.load)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := loader(ctx, "k"); !stderr.Is(err, errOffline) {
			t.Fatalf("call %d: got %v, want source error", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.GetState())
	}

	_, err := loader(ctx, "k")
	if !stderr.Is(err, ErrOpenState) {
		t.Errorf("open breaker returned %v, want ErrOpenState", err)
	}
	if !errors.HasCode(err, errors.ErrCodeSourceUnavailable) {
		t.Errorf("open breaker error should be SOURCE_UNAVAILABLE, got %v", err)
	}
	if src.calls != 3 {
		t.Errorf("source called %d times, want 3", src.calls)
	}

	clock.Advance(11 * time.Second)
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN", cb.GetState())
	}

	src.setErr(nil)
	if _, err := loader(ctx, "k"); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want CLOSED", cb.GetState())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestGuard_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.ConsecutiveFailures = 1
	cb, clock := newTestBreaker(config)
	loader := cb.Guard((&scriptedLoader{err: errOffline}).load)

	_, _ = loader(context.Background(), "k")
	clock.Advance(config.Timeout + time.Second)

	_, _ = loader(context.Background(), "k")
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want OPEN after failed probe", cb.GetState())
	}
}

func TestGuard_NotFoundAndCancelDoNotTrip(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.ConsecutiveFailures = 2
	cb, _ := newTestBreaker(config)

	notFound := cb.Guard((&scriptedLoader{err: errors.New(errors.ErrCodeSourceNotFound, "missing")}).load)
	for i := 0; i < 5; i++ {
		_, _ = notFound(context.Background(), "k")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("not found tripped the breaker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	offline := cb.Guard((&scriptedLoader{err: context.Canceled}).load)
	for i := 0; i < 5; i++ {
		_, _ = offline(ctx, "k")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("cancelled requests tripped the breaker")
	}
	if got := cb.GetCounts().TotalFailures; got != 0 {
		t.Errorf("TotalFailures = %d, want 0", got)
	}
}

func TestCountsResetAfterInterval(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.ConsecutiveFailures = 2
	config.Interval = time.Minute
	cb, clock := newTestBreaker(config)
	loader := cb.Guard((&scriptedLoader{err: errOffline}).load)

	_, _ = loader(context.Background(), "k")
	clock.Advance(2 * time.Minute)
	_, _ = loader(context.Background(), "k")

	if cb.GetState() != StateClosed {
		t.Errorf("failures from a previous interval tripped the breaker")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.ConsecutiveFailures = 1
	cb, _ := newTestBreaker(config)
	loader := cb.Guard((&scriptedLoader{err: errOffline}).load)

	_, _ = loader(context.Background(), "k")
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.GetState())
	}
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("state after Reset = %v, want CLOSED", cb.GetState())
	}
}
