package lockfree

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/coredb/engine/internal/epoch"
)

type stackNode[T any] struct {
	value T
	next  *stackNode[T]
}

// Stack is a lock-free LIFO (Treiber stack) with an optional elimination
// array: under contention, a pusher and popper paired at a random slot
// within a short spin window exchange values without touching the shared
// head, shedding CAS contention at the top of the stack.
type Stack[T any] struct {
	domain *epoch.Domain
	head   atomic.Pointer[stackNode[T]]
	len    atomic.Int64

	elimination []eliminationSlot[T]
}

type eliminationSlot[T any] struct {
	state atomic.Int32 // 0 empty, 1 offered (push waiting), 2 taken
	value atomic.Pointer[T]
}

const (
	elimEmpty = iota
	elimOffered
	elimTaken
)

// NewStack creates an empty stack. elimSlots controls the size of the
// optional elimination array (0 disables elimination).
func NewStack[T any](domain *epoch.Domain, elimSlots int) *Stack[T] {
	s := &Stack[T]{domain: domain}
	if elimSlots > 0 {
		s.elimination = make([]eliminationSlot[T], elimSlots)
	}
	return s
}

// Push adds value to the top of the stack.
func (s *Stack[T]) Push(value T) {
	n := &stackNode[T]{value: value}
	for {
		h := s.head.Load()
		n.next = h
		if s.head.CompareAndSwap(h, n) {
			s.len.Add(1)
			return
		}
		if s.tryEliminatePush(value) {
			s.len.Add(1)
			return
		}
	}
}

// Pop removes and returns the top value, or ok=false if empty.
func (s *Stack[T]) Pop() (T, bool) {
	g := s.domain.Pin()
	defer g.Unpin()

	for {
		h := s.head.Load()
		if h == nil {
			if v, ok := s.tryEliminatePop(); ok {
				s.len.Add(-1)
				return v, true
			}
			var zero T
			return zero, false
		}
		next := h.next
		if s.head.CompareAndSwap(h, next) {
			s.len.Add(-1)
			v := h.value
			s.domain.Defer(func() { _ = h })
			return v, true
		}
	}
}

// tryEliminatePush offers value at a random slot and spins briefly hoping a
// concurrent popper claims it, avoiding a head CAS entirely.
func (s *Stack[T]) tryEliminatePush(value T) bool {
	if len(s.elimination) == 0 {
		return false
	}
	slot := &s.elimination[rand.Intn(len(s.elimination))]
	v := value
	if !slot.state.CompareAndSwap(elimEmpty, elimOffered) {
		return false
	}
	slot.value.Store(&v)

	for i := 0; i < 64; i++ {
		if slot.state.Load() == elimTaken {
			slot.state.Store(elimEmpty)
			return true
		}
		time.Sleep(0)
	}
	// No popper showed up; withdraw the offer.
	if slot.state.CompareAndSwap(elimOffered, elimEmpty) {
		return false
	}
	// A popper claimed it in the gap between our check and the withdrawal.
	slot.state.Store(elimEmpty)
	return true
}

func (s *Stack[T]) tryEliminatePop() (T, bool) {
	var zero T
	if len(s.elimination) == 0 {
		return zero, false
	}
	slot := &s.elimination[rand.Intn(len(s.elimination))]
	if slot.state.CompareAndSwap(elimOffered, elimTaken) {
		v := slot.value.Load()
		if v != nil {
			return *v, true
		}
	}
	return zero, false
}

// Len returns the approximate number of elements.
func (s *Stack[T]) Len() int { return int(s.len.Load()) }
