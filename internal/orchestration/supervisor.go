package orchestration

import (
	"context"
	"time"
)

// Supervisor restarts a background function with exponential backoff
// whenever it returns an error, matching spec §4.14's "a supervised
// goroutine is restarted with exponential backoff on unexpected exit."
type Supervisor struct {
	Name      string
	Fn        func(ctx context.Context) error
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// OnRestart, if set, is called with the backoff delay before each
	// restart that follows an error; a restart after a nil return does
	// not call it (used by tests).
	OnRestart func(delay time.Duration, err error)
}

// NewSupervisor creates a Supervisor with the given restart bounds.
func NewSupervisor(name string, fn func(ctx context.Context) error, baseDelay, maxDelay time.Duration) *Supervisor {
	return &Supervisor{Name: name, Fn: fn, BaseDelay: baseDelay, MaxDelay: maxDelay}
}

// Run calls Fn repeatedly until ctx is cancelled. A nil return resets the
// backoff delay and restarts immediately, treating a clean exit as
// restartable (Fn is expected to run until ctx is done); a non-nil return
// restarts after an exponentially growing delay capped at MaxDelay. Run
// does not recover panics in Fn — a panic is a programming error, not the
// transient failure this backoff loop is meant to absorb.
func (s *Supervisor) Run(ctx context.Context) {
	delay := s.BaseDelay
	for {
		err := s.Fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			delay = s.BaseDelay
			continue
		}

		if s.OnRestart != nil {
			s.OnRestart(delay, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.MaxDelay {
			delay = s.MaxDelay
		}
	}
}
