package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func recordingComponent(name string, order *[]string, mu *sync.Mutex, failStart bool) Component {
	return NewComponent(name,
		func(ctx context.Context) error {
			if failStart {
				return errors.New("boom")
			}
			mu.Lock()
			*order = append(*order, "start:"+name)
			mu.Unlock()
			return nil
		},
		func(ctx context.Context) error {
			mu.Lock()
			*order = append(*order, "stop:"+name)
			mu.Unlock()
			return nil
		},
	)
}

func TestStartRunsStagesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	o := New(
		Stage{recordingComponent("page", &order, &mu, false)},
		Stage{recordingComponent("diskmgr", &order, &mu, false), recordingComponent("lsm", &order, &mu, false)},
		Stage{recordingComponent("catalog", &order, &mu, false)},
	)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "start:page" {
		t.Fatalf("first start = %q, want start:page", order[0])
	}
	if order[3] != "start:catalog" {
		t.Fatalf("last start = %q, want start:catalog", order[3])
	}
	started := map[string]bool{order[1]: true, order[2]: true}
	if !started["start:diskmgr"] || !started["start:lsm"] {
		t.Fatalf("stage 2 components did not both start: %v", order[1:3])
	}
}

func TestStopRunsInReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	o := New(
		Stage{recordingComponent("a", &order, &mu, false)},
		Stage{recordingComponent("b", &order, &mu, false)},
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	order = nil
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if len(order) != 2 || order[0] != "stop:b" || order[1] != "stop:a" {
		t.Fatalf("stop order = %v, want [stop:b stop:a]", order)
	}
}

func TestFailedStartUnwindsAlreadyStarted(t *testing.T) {
	var mu sync.Mutex
	var order []string

	o := New(
		Stage{recordingComponent("a", &order, &mu, false)},
		Stage{recordingComponent("b", &order, &mu, true)},
	)
	err := o.Start(context.Background())
	if err == nil {
		t.Fatalf("Start() error = nil, want failure from stage 2")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, e := range order {
		if e == "stop:a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("order = %v, want stop:a to have run during unwind", order)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)
	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("Allow() = false before breaker tripped")
		}
		cb.RecordFailure()
	}
	if cb.State() != Open {
		t.Fatalf("State() = %v, want Open", cb.State())
	}
	if cb.Allow() {
		t.Fatalf("Allow() = true while Open and before resetTimeout")
	}
}

func TestCircuitBreakerHalfOpenProbeRecovers(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("State() = %v, want Open", cb.State())
	}
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("Allow() = false after resetTimeout elapsed")
	}
	if cb.State() != HalfOpen {
		t.Fatalf("State() = %v, want HalfOpen", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != Closed {
		t.Fatalf("State() = %v, want Closed after successful probe", cb.State())
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("State() = %v, want Open after failed probe", cb.State())
	}
}

func TestSupervisorRestartsWithBackoff(t *testing.T) {
	var mu sync.Mutex
	var delays []time.Duration
	attempts := 0

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor("worker", func(ctx context.Context) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n >= 4 {
			cancel()
		}
		return errors.New("transient failure")
	}, time.Millisecond, 8*time.Millisecond)
	s.OnRestart = func(delay time.Duration, err error) {
		mu.Lock()
		delays = append(delays, delay)
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return after ctx cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delays) < 3 {
		t.Fatalf("got %d restarts, want at least 3", len(delays))
	}
	if delays[1] <= delays[0] {
		t.Fatalf("delays did not grow: %v", delays)
	}
}

func TestSupervisorStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	s := NewSupervisor("worker", func(ctx context.Context) error {
		calls++
		return nil
	}, time.Millisecond, time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return promptly for an already-cancelled context")
	}
}
