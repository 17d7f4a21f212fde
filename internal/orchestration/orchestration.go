// Package orchestration implements component lifecycle management (spec
// component C14): dependency-ordered startup and reverse-order shutdown,
// a circuit breaker, a restart supervisor, and a background scheduler for
// periodic maintenance ticks (compaction, flush, epoch GC, rebalance).
package orchestration

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Component is anything the orchestrator brings up and tears down.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Stage is a set of components that may start concurrently with one
// another, but only once every earlier stage has finished starting (spec
// §4.14: "C1 -> C2 -> C3/C4 -> C5 -> C6 -> C7/C8 -> C9 -> C10 -> C11" —
// the slashes are same-stage, concurrent groups).
type Stage []Component

// Orchestrator runs stages in order at startup and unwinds whatever
// actually came up, in reverse, at shutdown or on a failed start.
type Orchestrator struct {
	stages  []Stage
	started []Component
}

// New creates an Orchestrator over the given ordered stages.
func New(stages ...Stage) *Orchestrator {
	return &Orchestrator{stages: stages}
}

// Start brings up every stage in order; within a stage, every component's
// Start runs concurrently and Start blocks until all of that stage's
// components report readiness (errgroup.Wait), matching "the orchestrator
// blocks until all readiness futures resolve." If any component in a
// stage fails to start, everything that had already started is stopped in
// reverse order before returning the error.
func (o *Orchestrator) Start(ctx context.Context) error {
	for _, stage := range o.stages {
		g, gctx := errgroup.WithContext(ctx)
		up := make([]bool, len(stage))
		for i, c := range stage {
			i, c := i, c
			g.Go(func() error {
				if err := c.Start(gctx); err != nil {
					return fmt.Errorf("starting %s: %w", c.Name(), err)
				}
				up[i] = true
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			for i, c := range stage {
				if up[i] {
					o.started = append(o.started, c)
				}
			}
			_ = o.Stop(ctx)
			return err
		}
		o.started = append(o.started, stage...)
	}
	return nil
}

// Stop shuts down every component that was successfully started, in
// reverse order: "stop accepting new work, drain in-flight operations,
// flush durable state, then release resources" per component, reversed
// across components (spec §4.14).
func (o *Orchestrator) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(o.started) - 1; i >= 0; i-- {
		if err := o.started[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping %s: %w", o.started[i].Name(), err)
		}
	}
	o.started = nil
	return firstErr
}

// funcComponent adapts a pair of functions to Component, so callers don't
// need a dedicated type per wrapped subsystem.
type funcComponent struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (f *funcComponent) Name() string                   { return f.name }
func (f *funcComponent) Start(ctx context.Context) error { return f.start(ctx) }
func (f *funcComponent) Stop(ctx context.Context) error  { return f.stop(ctx) }

// NewComponent builds a Component from plain start/stop functions.
func NewComponent(name string, start, stop func(ctx context.Context) error) Component {
	return &funcComponent{name: name, start: start, stop: stop}
}
