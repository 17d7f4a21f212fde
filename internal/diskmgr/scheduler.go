// Package diskmgr implements the disk manager (spec component C4):
// synchronous and priority-queued page I/O, read-ahead prefetch, a
// write-behind buffer, and direct-I/O alignment, generalizing tinySQL's
// internal/storage/pager.Pager file-I/O plumbing onto the new page format.
package diskmgr

import (
	"sync"
	"time"

	"github.com/coredb/engine/internal/page"
)

// Priority orders queued I/O operations relative to each other.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

type opKind int

const (
	opRead opKind = iota
	opWrite
	opSync
)

// operation is a queued unit of I/O work.
type operation struct {
	kind       opKind
	pageID     page.ID
	priority   Priority
	deadline   time.Time
	data       []byte
	enqueuedAt time.Time
	result     chan error
}

// scheduler holds three FIFO queues (read, write, sync) with coalescing:
// a higher-priority submission for a page already queued replaces the
// pending entry rather than appending a second one (spec §4.4).
type scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	readQ    []*operation
	writeQ   []*operation
	syncQ    []*operation
	readIdx  map[page.ID]int
	writeIdx map[page.ID]int
	closed   bool
}

func newScheduler() *scheduler {
	s := &scheduler{
		readIdx:  make(map[page.ID]int),
		writeIdx: make(map[page.ID]int),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// close wakes any blocked dequeueBlocking callers so they can observe shutdown.
func (s *scheduler) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// dequeueBlocking waits until an operation is available or the scheduler is
// closed, in which case it returns nil.
func (s *scheduler) dequeueBlocking() *operation {
	s.mu.Lock()
	for !s.closed && len(s.syncQ) == 0 && len(s.readQ) == 0 && len(s.writeQ) == 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
	return s.dequeue()
}

// submit enqueues op, coalescing against any pending op for the same page
// and kind per the priority-replacement rule.
func (s *scheduler) submit(op *operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cond.Broadcast()

	op.enqueuedAt = time.Now()
	switch op.kind {
	case opRead:
		if i, ok := s.readIdx[op.pageID]; ok {
			if op.priority > s.readQ[i].priority {
				s.readQ[i] = op
			}
			return
		}
		s.readIdx[op.pageID] = len(s.readQ)
		s.readQ = append(s.readQ, op)
	case opWrite:
		if i, ok := s.writeIdx[op.pageID]; ok {
			if op.priority > s.writeQ[i].priority {
				s.writeQ[i] = op
			}
			return
		}
		s.writeIdx[op.pageID] = len(s.writeQ)
		s.writeQ = append(s.writeQ, op)
	case opSync:
		s.syncQ = append(s.syncQ, op)
	}
}

// dequeue returns the next operation to service: any pending sync first,
// then any overdue (deadline elapsed) op, then reads before writes.
func (s *scheduler) dequeue() *operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.syncQ) > 0 {
		op := s.syncQ[0]
		s.syncQ = s.syncQ[1:]
		return op
	}

	now := time.Now()
	if op := s.popOverdue(&s.readQ, s.readIdx, now); op != nil {
		return op
	}
	if op := s.popOverdue(&s.writeQ, s.writeIdx, now); op != nil {
		return op
	}

	if len(s.readQ) > 0 {
		op := s.readQ[0]
		s.readQ = s.readQ[1:]
		delete(s.readIdx, op.pageID)
		s.reindex(s.readQ, s.readIdx)
		return op
	}
	if len(s.writeQ) > 0 {
		op := s.writeQ[0]
		s.writeQ = s.writeQ[1:]
		delete(s.writeIdx, op.pageID)
		s.reindex(s.writeQ, s.writeIdx)
		return op
	}
	return nil
}

func (s *scheduler) popOverdue(q *[]*operation, idx map[page.ID]int, now time.Time) *operation {
	for i, op := range *q {
		if !op.deadline.IsZero() && now.After(op.deadline) {
			*q = append((*q)[:i:i], (*q)[i+1:]...)
			delete(idx, op.pageID)
			s.reindex(*q, idx)
			return op
		}
	}
	return nil
}

func (s *scheduler) reindex(q []*operation, idx map[page.ID]int) {
	for i, op := range q {
		idx[op.pageID] = i
	}
}

func (s *scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// depth reports the current length of each queue, for observability.
func (s *scheduler) depth() (reads, writes, syncs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readQ), len(s.writeQ), len(s.syncQ)
}
