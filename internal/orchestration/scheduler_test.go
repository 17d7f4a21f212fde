package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSchedulerRunsRegisteredTick(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-second cron test in -short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(ctx)
	var mu sync.Mutex
	runs := 0
	if err := s.AddTick(Tick{
		Name: "epoch-gc",
		// robfig/cron's ConstantDelaySchedule computes its next fire time by
		// truncating the current time down to the second and adding Delay,
		// which makes sub-second delays fire unreliably. A whole-second
		// delay is the smallest granularity that schedules deterministically.
		Spec: "@every 1s",
		Run: func(ctx context.Context) {
			mu.Lock()
			runs++
			mu.Unlock()
		},
	}); err != nil {
		t.Fatalf("AddTick() error: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n >= 3 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("tick ran %d times in 5s, want at least 3", runs)
}

func TestSchedulerSkipsOverlappingInvocation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-second cron test in -short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(ctx)
	var mu sync.Mutex
	started := 0
	release := make(chan struct{})

	if err := s.AddTick(Tick{
		Name: "compaction",
		// Same whole-second-granularity reasoning as above: a sub-second
		// delay schedules unreliably, so this gives the no_overlap guard two
		// clean 1s firings to work with instead of a burst of uncertain ones.
		Spec: "@every 1s",
		Run: func(ctx context.Context) {
			mu.Lock()
			started++
			first := started == 1
			mu.Unlock()
			if first {
				<-release
			}
		},
	}); err != nil {
		t.Fatalf("AddTick() error: %v", err)
	}

	s.Start()
	time.Sleep(2500 * time.Millisecond)
	close(release)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if started > 2 {
		t.Fatalf("started = %d overlapping invocations while the first was blocked, want no_overlap to cap this low", started)
	}
}
