package lockmgr

import "sync"

// RWLock is a writer-preferring reader-writer lock (spec §4.7: "new readers
// are admitted only when no writer is waiting, preventing writer
// starvation"). It is independent of Manager's per-resource holder/waiter
// tracking — a lighter primitive for callers that just need classic
// shared/exclusive access without txn-keyed bookkeeping.
type RWLock struct {
	mu           sync.Mutex
	cond         *sync.Cond
	readers      int
	writerActive bool
	writersWaiting int
}

// NewRWLock creates an unlocked writer-preferring reader-writer lock.
func NewRWLock() *RWLock {
	l := &RWLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// AcquireRead blocks until a read lock is available. A new reader waits if
// any writer currently holds the lock or is queued (writer preference).
func (l *RWLock) AcquireRead() {
	l.mu.Lock()
	for l.writerActive || l.writersWaiting > 0 {
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

// ReleaseRead releases a read lock, waking waiters if this was the last reader.
func (l *RWLock) ReleaseRead() {
	l.mu.Lock()
	l.readers--
	if l.readers == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// AcquireWrite blocks until the write lock is available, registering as a
// waiting writer immediately so new readers stop being admitted.
func (l *RWLock) AcquireWrite() {
	l.mu.Lock()
	l.writersWaiting++
	for l.writerActive || l.readers > 0 {
		l.cond.Wait()
	}
	l.writersWaiting--
	l.writerActive = true
	l.mu.Unlock()
}

// ReleaseWrite releases the write lock.
func (l *RWLock) ReleaseWrite() {
	l.mu.Lock()
	l.writerActive = false
	l.cond.Broadcast()
	l.mu.Unlock()
}
