package orchestration

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
)

// Tick is one periodically-invoked maintenance task: a compaction round, a
// memtable flush check, an epoch-GC advance, or a buffer-pool rebalance
// (spec §4.14's background scheduler). Spec is a standard five-field cron
// expression, or a cron.ParseStandard descriptor such as "@every 30s".
type Tick struct {
	Name string
	Spec string
	Run  func(ctx context.Context)
}

// Scheduler runs a fixed set of Ticks on a cron.Cron, generalizing the
// teacher's storage.Scheduler from ad hoc SQL jobs to fixed maintenance
// ticks. Like the teacher's scheduler, an invocation is skipped if the
// previous invocation of the same tick is still running (no_overlap),
// rather than queuing or running concurrently.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context

	mu      sync.Mutex
	running map[string]bool
}

// NewScheduler creates a Scheduler whose tick callbacks run under ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		ctx:     ctx,
		running: make(map[string]bool),
	}
}

// AddTick registers t to run on its cron schedule. It must be called
// before Start.
func (s *Scheduler) AddTick(t Tick) error {
	_, err := s.cron.AddFunc(t.Spec, func() {
		s.mu.Lock()
		if s.running[t.Name] {
			s.mu.Unlock()
			return
		}
		s.running[t.Name] = true
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.running[t.Name] = false
			s.mu.Unlock()
		}()
		t.Run(s.ctx)
	})
	return err
}

// Start begins running registered ticks on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for any in-flight tick to finish, then stops the cron loop.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
