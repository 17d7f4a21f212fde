// Package occ implements the optimistic concurrency control manager (spec
// component C8): snapshot reads, read-set/write-set accumulation, and
// forward/backward/hybrid commit validation. Generalizes tinySQL's
// mvcc.go MVCCManager/TxContext almost directly — BeginTx and the
// ReadSet/WriteSet shape are kept, and checkSerializableConflicts is the
// seed this package's validation strategies grow from.
package occ

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coredb/engine/internal/coreerr"
)

// TxID identifies an OCC transaction.
type TxID uint64

// Timestamp is a monotonic logical clock value used for both snapshot
// reads and commit ordering.
type Timestamp uint64

// ValidationStrategy selects how commit() checks the read set for
// conflicts (spec §4.8).
type ValidationStrategy uint8

const (
	Forward ValidationStrategy = iota
	Backward
	Hybrid
)

// hybridReadSetBoundary is the Open Question decision recorded in
// DESIGN.md: Hybrid validates backward when len(read_set) < 32, forward
// otherwise.
const hybridReadSetBoundary = 32

type readEntry struct {
	key    string
	readTS Timestamp
}

type writeEntry struct {
	key   string
	value []byte
}

// Tx is a single optimistic transaction's accumulated state.
type Tx struct {
	ID           TxID
	SnapshotTS   Timestamp
	Strategy     ValidationStrategy
	mu        sync.Mutex
	reads     []readEntry
	writes    map[string]writeEntry
	aborted   bool
	committed bool
}

// RecordRead appends key/readTS to the transaction's read set.
func (tx *Tx) RecordRead(key string, readTS Timestamp) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.reads = append(tx.reads, readEntry{key: key, readTS: readTS})
}

// RecordWrite buffers a write; nothing is installed until commit succeeds.
func (tx *Tx) RecordWrite(key string, value []byte) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.writes == nil {
		tx.writes = make(map[string]writeEntry)
	}
	tx.writes[key] = writeEntry{key: key, value: value}
}

// readOnly reports whether the transaction's write set is empty, enabling
// the commit fast path (spec §4.8).
func (tx *Tx) readOnly() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.writes) == 0
}

// commitRecord is the committed-timestamp index entry used for backward
// validation (spec §4.8 "backward ... against committed timestamp index").
type commitRecord struct {
	commitTS Timestamp
	keys     map[string]bool
}

// Stats exposes commit rate, validation time, and conflict counts
// (spec §4.8's required manager statistics).
type Stats struct {
	Commits          uint64
	Aborts           uint64
	Conflicts        uint64
	ValidationNanos  uint64
	ReadOnlyCommits  uint64
}

// Manager coordinates OCC transactions: timestamp assignment, in-flight
// validator tracking (forward validation), and a committed-timestamp
// index (backward validation).
type Manager struct {
	nextTS atomic.Uint64

	mu            sync.RWMutex
	inFlight      map[TxID]*Tx   // forward validation checks against these
	commitLog     []commitRecord // ordered by commitTS, for backward validation
	installed     map[string][]byte

	commits, aborts, conflicts, readOnlyCommits atomic.Uint64
	validationNanos                             atomic.Uint64
}

// New creates an empty OCC manager. The logical clock starts at 1 so 0 can
// mean "never read"/"never committed".
func New() *Manager {
	m := &Manager{
		inFlight:  make(map[TxID]*Tx),
		installed: make(map[string][]byte),
	}
	m.nextTS.Store(1)
	return m
}

var nextTxID atomic.Uint64

// Begin starts a new transaction with a snapshot at the current timestamp
// and the validation strategy the caller requests (spec §9 Open Question:
// Hybrid's threshold is resolved per-call at commit time via read-set size,
// not fixed at Begin).
func (m *Manager) Begin(strategy ValidationStrategy) *Tx {
	id := TxID(nextTxID.Add(1))
	tx := &Tx{ID: id, SnapshotTS: Timestamp(m.nextTS.Load()), Strategy: strategy}

	m.mu.Lock()
	m.inFlight[id] = tx
	m.mu.Unlock()
	return tx
}

// Read returns the currently installed value for key as of the manager's
// committed state, and records the read in tx's read set at tx's own
// snapshot timestamp (the snapshot read spec §4.8 describes). Using tx's
// fixed SnapshotTS rather than the manager's live clock at call time
// matters for validation: any commit that lands after tx began must be
// treated as a conflict against this read, regardless of how long tx
// has been running before it actually calls Read.
func (m *Manager) Read(tx *Tx, key string) ([]byte, bool) {
	m.mu.RLock()
	v, ok := m.installed[key]
	m.mu.RUnlock()

	tx.RecordRead(key, tx.SnapshotTS)
	return v, ok
}

// Commit validates tx's read set against concurrent writers and, on
// success, installs its write set atomically under a fresh commit
// timestamp (spec §4.8 steps 1-3).
func (m *Manager) Commit(tx *Tx) (Timestamp, error) {
	tx.mu.Lock()
	if tx.aborted {
		tx.mu.Unlock()
		return 0, coreerr.New(coreerr.KindValidationFailed, "occ.Commit", errTxAborted)
	}
	if tx.committed {
		tx.mu.Unlock()
		return 0, coreerr.New(coreerr.KindValidationFailed, "occ.Commit", errTxAlreadyCommitted)
	}
	if len(tx.writes) == 0 {
		tx.committed = true
		tx.mu.Unlock()
		m.removeInFlight(tx.ID)
		m.readOnlyCommits.Add(1)
		return tx.SnapshotTS, nil // read-only fast path: no installation needed
	}
	reads := append([]readEntry(nil), tx.reads...)
	writes := make(map[string]writeEntry, len(tx.writes))
	for k, v := range tx.writes {
		writes[k] = v
	}
	tx.mu.Unlock()

	candidate := Timestamp(m.nextTS.Add(1))

	strategy := tx.Strategy
	if strategy == Hybrid {
		if len(reads) < hybridReadSetBoundary {
			strategy = Backward
		} else {
			strategy = Forward
		}
	}

	validationStart := time.Now()
	var conflict bool
	switch strategy {
	case Forward:
		// Forward also runs the backward-style commit-log check: a
		// conflicting writer may have already committed (and left
		// inFlight) between tx's reads and this validation, which the
		// in-flight scan alone would miss.
		conflict = m.validateForward(tx.ID, reads) || m.validateBackward(reads, candidate)
	default:
		conflict = m.validateBackward(reads, candidate)
	}
	m.validationNanos.Add(uint64(time.Since(validationStart).Nanoseconds()))

	if conflict {
		m.conflicts.Add(1)
		m.aborts.Add(1)
		tx.mu.Lock()
		tx.aborted = true
		tx.mu.Unlock()
		m.removeInFlight(tx.ID)
		return 0, coreerr.New(coreerr.KindValidationFailed, "occ.Commit", errValidationConflict)
	}

	m.mu.Lock()
	keys := make(map[string]bool, len(writes))
	for k, w := range writes {
		m.installed[k] = w.value
		keys[k] = true
	}
	m.commitLog = append(m.commitLog, commitRecord{commitTS: candidate, keys: keys})
	m.mu.Unlock()

	tx.mu.Lock()
	tx.committed = true
	tx.mu.Unlock()
	m.removeInFlight(tx.ID)
	m.commits.Add(1)
	return candidate, nil
}

// Abort discards tx's write set without installing anything.
func (m *Manager) Abort(tx *Tx) {
	tx.mu.Lock()
	if tx.committed {
		tx.mu.Unlock()
		return
	}
	tx.aborted = true
	tx.writes = nil
	tx.mu.Unlock()
	m.removeInFlight(tx.ID)
	m.aborts.Add(1)
}

func (m *Manager) removeInFlight(id TxID) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

// validateForward checks the read set against every other still-in-flight
// transaction's write set (spec §4.8 forward strategy).
func (m *Manager) validateForward(self TxID, reads []readEntry) bool {
	readKeys := make(map[string]bool, len(reads))
	for _, r := range reads {
		readKeys[r.key] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, other := range m.inFlight {
		if id == self {
			continue
		}
		other.mu.Lock()
		for k := range other.writes {
			if readKeys[k] {
				other.mu.Unlock()
				return true
			}
		}
		other.mu.Unlock()
	}
	return false
}

// validateBackward checks the read set against the committed-timestamp
// index: any commit in (readTS, candidate) that touched a key this
// transaction read is a conflict (spec §4.8 backward strategy).
func (m *Manager) validateBackward(reads []readEntry, candidate Timestamp) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range reads {
		for _, rec := range m.commitLog {
			if rec.commitTS <= r.readTS || rec.commitTS >= candidate {
				continue
			}
			if rec.keys[r.key] {
				return true
			}
		}
	}
	return false
}

// Stats returns a point-in-time snapshot of manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Commits:         m.commits.Load(),
		Aborts:          m.aborts.Load(),
		Conflicts:       m.conflicts.Load(),
		ValidationNanos: m.validationNanos.Load(),
		ReadOnlyCommits: m.readOnlyCommits.Load(),
	}
}
