package lockfree

import (
	"sync/atomic"

	"github.com/coredb/engine/internal/epoch"
)

// StealResult is the outcome of a Steal attempt.
type StealResult int

const (
	StealSuccess StealResult = iota
	StealEmpty
	StealRetry
)

type deqBuffer[T any] struct {
	mask int64
	data []atomic.Pointer[T]
}

func newDeqBuffer[T any](capacity int64) *deqBuffer[T] {
	return &deqBuffer[T]{mask: capacity - 1, data: make([]atomic.Pointer[T], capacity)}
}

func (b *deqBuffer[T]) get(i int64) T {
	p := b.data[i&b.mask].Load()
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (b *deqBuffer[T]) put(i int64, v T) {
	vv := v
	b.data[i&b.mask].Store(&vv)
}

func (b *deqBuffer[T]) grow(bottom, top int64) *deqBuffer[T] {
	nb := newDeqBuffer[T](int64(len(b.data)) * 2)
	for i := top; i < bottom; i++ {
		nb.put(i, b.get(i))
	}
	return nb
}

// Deque is a Chase-Lev work-stealing deque: the owning goroutine pushes and
// pops at the bottom (wait-free when uncontested); other goroutines steal
// from the top via a single CAS. No other package in this module uses it;
// this package's tests exercise it.
type Deque[T any] struct {
	domain *epoch.Domain
	bottom atomic.Int64
	top    atomic.Int64
	buf    atomic.Pointer[deqBuffer[T]]
}

// NewDeque creates a deque with the given initial capacity (must be a power
// of two).
func NewDeque[T any](domain *epoch.Domain, initialCapacity int64) *Deque[T] {
	d := &Deque[T]{domain: domain}
	d.buf.Store(newDeqBuffer[T](initialCapacity))
	return d
}

// PushBottom adds value to the bottom of the deque. Owner-only.
func (d *Deque[T]) PushBottom(value T) {
	b := d.bottom.Load()
	t := d.top.Load()
	buf := d.buf.Load()

	if size := b - t; size >= int64(len(buf.data))-1 {
		old := buf
		buf = buf.grow(b, t)
		d.buf.Store(buf)
		d.domain.Defer(func() { _ = old })
	}
	buf.put(b, value)
	d.bottom.Store(b + 1)
}

// PopBottom removes and returns the bottom value. Owner-only.
func (d *Deque[T]) PopBottom() (T, bool) {
	b := d.bottom.Load() - 1
	buf := d.buf.Load()
	d.bottom.Store(b)

	t := d.top.Load()
	if t > b {
		d.bottom.Store(t)
		var zero T
		return zero, false
	}
	v := buf.get(b)
	if t == b {
		if !d.top.CompareAndSwap(t, t+1) {
			d.bottom.Store(t + 1)
			var zero T
			return zero, false
		}
		d.bottom.Store(t + 1)
		return v, true
	}
	return v, true
}

// Steal removes and returns the top value from a non-owning goroutine.
func (d *Deque[T]) Steal() (T, StealResult) {
	g := d.domain.Pin()
	defer g.Unpin()

	t := d.top.Load()
	b := d.bottom.Load()
	var zero T
	if t >= b {
		return zero, StealEmpty
	}
	buf := d.buf.Load()
	v := buf.get(t)
	if !d.top.CompareAndSwap(t, t+1) {
		return zero, StealRetry
	}
	return v, StealSuccess
}

// Len returns the approximate number of elements.
func (d *Deque[T]) Len() int64 {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t < 0 {
		return 0
	}
	return b - t
}
