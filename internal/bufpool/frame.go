// Package bufpool implements the buffer pool (spec component C5):
// copy-on-write frames over page.ID, LRU-K replacement with adaptive K,
// and advisory NUMA-partitioned allocation, generalizing tinySQL's
// internal/storage/bufferpool.go (LRU queue, atomic memory accounting,
// CacheStats) onto the page-level frame contract of spec §4.5.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// maxHistory bounds the per-frame access-timestamp ring; K never exceeds it.
const maxHistory = 10

// Frame owns a copy-on-write page image: readers load the current
// snapshot via Bytes(); a writer that wants to mutate calls Mutate, which
// installs a new, independent buffer and bumps Version (I-BF2).
type Frame struct {
	id      uint32
	buf     atomic.Pointer[[]byte]
	version atomic.Uint64
	pins    atomic.Int32
	dirty   atomic.Bool

	histMu  sync.Mutex
	history [maxHistory]int64
	count   int // number of recorded accesses, capped at maxHistory
	next    int // ring write cursor
}

func newFrame(id uint32, buf []byte) *Frame {
	f := &Frame{id: id}
	f.buf.Store(&buf)
	return f
}

// ID returns the page ID this frame caches.
func (f *Frame) ID() uint32 { return f.id }

// Bytes returns the frame's current snapshot. Safe for concurrent readers;
// the slice is never mutated in place once published.
func (f *Frame) Bytes() []byte { return *f.buf.Load() }

// Version returns the frame's current COW version.
func (f *Frame) Version() uint64 { return f.version.Load() }

// Mutate installs a fresh copy of the frame's bytes, applies fn to it, and
// publishes the result as a new version. The caller must already hold
// whatever external lock/OCC ticket authorizes the mutation (spec §4.5).
func (f *Frame) Mutate(fn func(buf []byte)) {
	old := *f.buf.Load()
	fresh := make([]byte, len(old))
	copy(fresh, old)
	fn(fresh)
	f.buf.Store(&fresh)
	f.version.Add(1)
	f.dirty.Store(true)
}

// Pin increments the pin count (I-BF1: a frame marked evictable has zero pins).
func (f *Frame) Pin() { f.pins.Add(1) }

// Unpin decrements the pin count and optionally marks the frame dirty.
func (f *Frame) Unpin(dirty bool) {
	if dirty {
		f.dirty.Store(true)
	}
	if v := f.pins.Add(-1); v < 0 {
		f.pins.Store(0)
	}
}

// Pinned reports whether the frame currently has outstanding pins.
func (f *Frame) Pinned() bool { return f.pins.Load() > 0 }

// Dirty reports whether the frame has unflushed mutations.
func (f *Frame) Dirty() bool { return f.dirty.Load() }

// clearDirty marks the frame clean after a successful flush (I-BF3).
func (f *Frame) clearDirty() { f.dirty.Store(false) }

// recordAccess appends clock to the frame's access-timestamp ring.
func (f *Frame) recordAccess(clock int64) {
	f.histMu.Lock()
	defer f.histMu.Unlock()
	f.history[f.next] = clock
	f.next = (f.next + 1) % maxHistory
	if f.count < maxHistory {
		f.count++
	}
}

// backwardKDistance returns clock - (timestamp of the k-th most recent
// access), or math.MaxInt64 if fewer than k accesses have been recorded
// (spec §4.5: such frames are treated as infinitely old / preferred
// eviction victims).
func (f *Frame) backwardKDistance(k int, clock int64) int64 {
	f.histMu.Lock()
	defer f.histMu.Unlock()
	if f.count < k {
		return 1<<63 - 1
	}
	// The k-th most recent entry sits k slots behind the write cursor.
	idx := (f.next - k + maxHistory*2) % maxHistory
	return clock - f.history[idx]
}
