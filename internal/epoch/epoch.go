// Package epoch implements epoch-based memory reclamation (spec §4.1, §3
// "Epoch"). Every lock-free structure in internal/lockfree retires unlinked
// nodes through a Domain instead of freeing them directly, so a concurrent
// reader that loaded a pointer before the unlink never dereferences freed
// memory.
//
// The scheme follows the classic three-epoch design: a global counter
// advances only when every pinned goroutine is observed at the current (or
// a later) epoch, and garbage retired two epochs ago is safe to run.
// Grounded on the retrieval pack's cowbtree.EpochManager (global epoch +
// per-reader registration via sync.Map + epoch-keyed retired lists), bounded
// here to three live buckets. Pin, Unpin and Defer all take the Domain's
// single mutex; retire lists are shared per epoch, not kept per goroutine,
// and each Defer appends to them directly rather than in batches. Only the
// pin slots themselves are recycled through a sync.Pool.
package epoch

import (
	"sync"
	"sync/atomic"
)

const numEpochs = 3

// Domain is a single epoch-reclamation instance. One Domain is normally
// shared by all the lock-free structures in a process; tests may create a
// private one.
type Domain struct {
	global atomic.Uint64

	mu      sync.Mutex
	pinned  map[*pinSlot]struct{}
	garbage [numEpochs][]func()

	slots sync.Pool
}

type pinSlot struct {
	epoch atomic.Uint64 // 0 means "not pinned"
}

// NewDomain creates an empty reclamation domain starting at epoch 1 (0 is
// reserved to mean "not pinned" on a slot).
func NewDomain() *Domain {
	d := &Domain{pinned: make(map[*pinSlot]struct{})}
	d.global.Store(1)
	d.slots.New = func() any { return &pinSlot{} }
	return d
}

// Guard represents a pinned critical section. Atomic loads performed while
// a Guard is held are safe from concurrent reclamation; the Guard must be
// released by calling Unpin exactly once.
type Guard struct {
	d    *Domain
	slot *pinSlot
}

// Pin enters a critical region. The returned Guard must be unpinned.
func (d *Domain) Pin() *Guard {
	slot := d.slots.Get().(*pinSlot)
	slot.epoch.Store(d.global.Load())

	d.mu.Lock()
	d.pinned[slot] = struct{}{}
	d.mu.Unlock()

	return &Guard{d: d, slot: slot}
}

// Unpin leaves the critical region. It is the only valid way to drop a Guard.
func (g *Guard) Unpin() {
	if g == nil || g.slot == nil {
		return
	}
	g.d.mu.Lock()
	delete(g.d.pinned, g.slot)
	g.d.mu.Unlock()

	g.slot.epoch.Store(0)
	g.d.slots.Put(g.slot)
	g.slot = nil
}

// Epoch returns the epoch this guard was pinned at.
func (g *Guard) Epoch() uint64 {
	if g == nil || g.slot == nil {
		return 0
	}
	return g.slot.epoch.Load()
}

// Defer retires cleanup work to run once no pinned goroutine can still
// observe the object it closes over. cleanup typically drops the last Go
// reference to a node so the garbage collector can reclaim it; in a
// non-GC'd runtime this is where an explicit free() would go.
func (d *Domain) Defer(cleanup func()) {
	cur := d.global.Load() % numEpochs

	d.mu.Lock()
	d.garbage[cur] = append(d.garbage[cur], cleanup)
	d.mu.Unlock()
}

// TryAdvance attempts to move the global epoch forward by one. It succeeds
// (and runs garbage retired two epochs before the old current one) only if every currently
// pinned goroutine is already at the current epoch; stragglers block
// advancement, which is always safe — reclamation is simply delayed, never
// incorrect. Background workers call this periodically (via the
// orchestration scheduler) rather than on every operation, to amortize the
// synchronization cost across many retires.
func (d *Domain) TryAdvance() bool {
	d.mu.Lock()
	cur := d.global.Load()
	for slot := range d.pinned {
		e := slot.epoch.Load()
		if e != 0 && e != cur {
			d.mu.Unlock()
			return false
		}
	}
	next := cur + 1
	d.global.Store(next)

	// Bucket next%3 holds garbage retired at epoch cur-2 (three epochs
	// behind `next`), which no goroutine pinned at `cur` or `next` can
	// still observe, so it is safe to run now.
	freeBucket := next % numEpochs
	toRun := d.garbage[freeBucket]
	d.garbage[freeBucket] = nil
	d.mu.Unlock()

	for _, fn := range toRun {
		fn()
	}
	return true
}

// CurrentEpoch returns the current global epoch.
func (d *Domain) CurrentEpoch() uint64 { return d.global.Load() }

// PendingCount returns the number of cleanups awaiting reclamation, for
// tests and metrics.
func (d *Domain) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, g := range d.garbage {
		n += len(g)
	}
	return n
}

// ActivePins returns the number of currently pinned guards.
func (d *Domain) ActivePins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for slot := range d.pinned {
		if slot.epoch.Load() != 0 {
			n++
		}
	}
	return n
}
