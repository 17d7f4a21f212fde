// Package lockmgr implements the two-phase lock manager (spec component
// C7): per-resource holder sets with FIFO waiters, lock-mode compatibility,
// in-place upgrade, wound-wait conflict resolution, a writer-preferring
// reader-writer lock, and per-(txn, table) escalation counters.
// Generalizes tinySQL's mvcc.go TxContext read/write-set bookkeeping style
// onto real holder/waiter queues instead of MVCC version chains.
package lockmgr

import (
	"sync"
	"sync/atomic"
)

// TxID identifies a transaction for lock ownership purposes.
type TxID uint64

// Mode is a lock mode. IntentionShared/IntentionExclusive exist only to
// support escalation bookkeeping; acquire/release treat them like their
// non-intention counterparts for compatibility purposes.
type Mode uint8

const (
	Shared Mode = iota
	Exclusive
	IntentionShared
	IntentionExclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "Shared"
	case Exclusive:
		return "Exclusive"
	case IntentionShared:
		return "IntentionShared"
	case IntentionExclusive:
		return "IntentionExclusive"
	default:
		return "Unknown"
	}
}

// stronger reports whether a is at least as strong as b (for idempotent
// re-acquire and in-place upgrade decisions).
func (a Mode) stronger(b Mode) bool {
	if a == b {
		return true
	}
	return a == Exclusive && b == Shared
}

// compatible reports whether two modes may be held simultaneously by
// different transactions (spec §4.3: "S<->S compatible, all others conflict").
func compatible(a, b Mode) bool {
	shared := func(m Mode) bool { return m == Shared || m == IntentionShared }
	return shared(a) && shared(b)
}

type holder struct {
	txn  TxID
	mode Mode
}

type waiter struct {
	txn    TxID
	mode   Mode
	granted chan struct{}
}

type resourceLock struct {
	mu      sync.Mutex
	holders []holder
	waiters []*waiter
}

// ConflictError reports the blocking holder for a failed acquire, letting
// the caller decide whether to wait, abort, or retry (spec §4.7 step 3).
type ConflictError struct {
	Resource string
	Blocker  TxID
	Mode     Mode
}

func (e *ConflictError) Error() string {
	return "lock conflict on " + e.Resource + ": held by txn " + itoa(uint64(e.Blocker)) + " as " + e.Mode.String()
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Manager is the two-phase lock manager.
type Manager struct {
	mu        sync.Mutex
	resources map[string]*resourceLock

	escalationMu     sync.Mutex
	escalationCounts map[TxID]map[string]int
	escalationThreshold int

	conflictMu     sync.Mutex
	recentConflict map[string]TxID // resource -> last txn that lost a conflict on it, for wound-wait

	heldMu sync.Mutex
	held   map[TxID]map[string]Mode // txn -> resource -> mode, for release_all and idempotent re-acquire

	conflicts atomic.Uint64
}

// Stats is a point-in-time snapshot of lock manager counters (spec §4.13
// "lock wait time" observability domain; conflict count stands in as the
// cheap proxy this manager tracks directly).
type Stats struct {
	Conflicts uint64
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{Conflicts: m.conflicts.Load()}
}

// Config configures a Manager.
type Config struct {
	EscalationThreshold int // default 1000, spec §6 lock_escalation_threshold
}

// New creates an empty lock manager.
func New(cfg Config) *Manager {
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 1000
	}
	return &Manager{
		resources:           make(map[string]*resourceLock),
		escalationCounts:     make(map[TxID]map[string]int),
		escalationThreshold:  cfg.EscalationThreshold,
		recentConflict:       make(map[string]TxID),
		held:                 make(map[TxID]map[string]Mode),
	}
}

func (m *Manager) resourceFor(res string) *resourceLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[res]
	if !ok {
		r = &resourceLock{}
		m.resources[res] = r
	}
	return r
}

// Acquire blocks until txn holds res at mode or stronger, or returns a
// ConflictError if tryOnly is set and the lock is unavailable. Implements
// spec §4.7's three-step algorithm: idempotent re-acquire, in-place
// upgrade, else conflict-or-wait.
func (m *Manager) acquire(txn TxID, res string, mode Mode, tryOnly bool) error {
	r := m.resourceFor(res)

	for {
		r.mu.Lock()
		for i, h := range r.holders {
			if h.txn == txn {
				if h.mode.stronger(mode) {
					r.mu.Unlock()
					m.recordHeld(txn, res, h.mode)
					return nil // step 1: idempotent re-acquire
				}
				if len(r.holders) == 1 {
					r.holders[i].mode = mode // step 2: sole holder, upgrade in place
					r.mu.Unlock()
					m.recordHeld(txn, res, mode)
					return nil
				}
			}
		}

		blocked := false
		var blocker TxID
		var blockerMode Mode
		for _, h := range r.holders {
			if h.txn == txn {
				continue
			}
			if !compatible(mode, h.mode) {
				blocked = true
				blocker = h.txn
				blockerMode = h.mode
				break
			}
		}
		if !blocked && len(r.waiters) == 0 {
			r.holders = append(r.holders, holder{txn: txn, mode: mode})
			r.mu.Unlock()
			m.recordHeld(txn, res, mode)
			m.recordEscalation(txn, res)
			return nil
		}

		if tryOnly {
			r.mu.Unlock()
			if blocked {
				m.noteConflict(res, txn)
				return &ConflictError{Resource: res, Blocker: blocker, Mode: blockerMode}
			}
			return &ConflictError{Resource: res, Blocker: 0, Mode: mode}
		}

		w := &waiter{txn: txn, mode: mode, granted: make(chan struct{})}
		r.waiters = append(r.waiters, w)
		r.mu.Unlock()

		<-w.granted
	}
}

// Acquire blocks (FIFO-fair via the waiter queue) until the lock is held.
func (m *Manager) Acquire(txn TxID, res string, mode Mode) error {
	return m.acquire(txn, res, mode, false)
}

// TryAcquire is the non-blocking variant: it returns a ConflictError
// immediately instead of queuing (spec §4.7 "try_acquire is non-blocking").
func (m *Manager) TryAcquire(txn TxID, res string, mode Mode) error {
	return m.acquire(txn, res, mode, true)
}

// Release removes txn's holder entry on res and, if the resource becomes
// free, grants the FIFO head (spec §4.7 "release... grants the FIFO head").
func (m *Manager) Release(txn TxID, res string) {
	m.mu.Lock()
	r, ok := m.resources[res]
	m.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	for i, h := range r.holders {
		if h.txn == txn {
			r.holders = append(r.holders[:i], r.holders[i+1:]...)
			break
		}
	}
	m.grantWaitersLocked(r)
	r.mu.Unlock()

	m.heldMu.Lock()
	if set, ok := m.held[txn]; ok {
		delete(set, res)
	}
	m.heldMu.Unlock()
}

// grantWaitersLocked admits as many FIFO waiters as are mutually
// compatible with the current holder set and each other. Caller holds r.mu.
func (m *Manager) grantWaitersLocked(r *resourceLock) {
	for len(r.waiters) > 0 {
		w := r.waiters[0]
		ok := true
		for _, h := range r.holders {
			if h.txn != w.txn && !compatible(w.mode, h.mode) {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		r.holders = append(r.holders, holder{txn: w.txn, mode: w.mode})
		r.waiters = r.waiters[1:]
		close(w.granted)
		if w.mode != Shared {
			break // an exclusive grant must not be followed by further grants this round
		}
	}
}

// ReleaseAll drops every lock txn holds, used on commit/abort (spec §4.7).
func (m *Manager) ReleaseAll(txn TxID) {
	m.heldMu.Lock()
	resources := make([]string, 0, len(m.held[txn]))
	for res := range m.held[txn] {
		resources = append(resources, res)
	}
	delete(m.held, txn)
	m.heldMu.Unlock()

	for _, res := range resources {
		m.Release(txn, res)
	}

	m.escalationMu.Lock()
	delete(m.escalationCounts, txn)
	m.escalationMu.Unlock()
}

func (m *Manager) recordHeld(txn TxID, res string, mode Mode) {
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	set, ok := m.held[txn]
	if !ok {
		set = make(map[string]Mode)
		m.held[txn] = set
	}
	set[res] = mode
}

// noteConflict records that txn lost a conflict on res and counts the
// conflict for Stats. Nothing reads recentConflict back: ShouldWound
// decides from the two TxIDs alone, with no window of past conflicts.
func (m *Manager) noteConflict(res string, txn TxID) {
	m.conflictMu.Lock()
	defer m.conflictMu.Unlock()
	m.recentConflict[res] = txn
	m.conflicts.Add(1)
}

// ShouldWound implements wound-wait: when txn conflicts with blocker on
// res, the younger transaction (higher TxID, assuming monotonically
// increasing IDs) is aborted (spec §4.7, Scenario D).
func ShouldWound(txn, blocker TxID) bool {
	return txn > blocker
}

func (m *Manager) recordEscalation(txn TxID, res string) {
	table := tableOf(res)
	m.escalationMu.Lock()
	defer m.escalationMu.Unlock()
	set, ok := m.escalationCounts[txn]
	if !ok {
		set = make(map[string]int)
		m.escalationCounts[txn] = set
	}
	set[table]++
}

// tableOf extracts the table portion of a "table:row" resource name used
// by row-level locks; resources with no ":" are already table-level.
func tableOf(res string) string {
	for i := 0; i < len(res); i++ {
		if res[i] == ':' {
			return res[:i]
		}
	}
	return res
}

// ShouldEscalate reports whether txn's fine-grained acquisitions on table
// have crossed the escalation threshold (spec §4.7).
func (m *Manager) ShouldEscalate(txn TxID, table string) bool {
	m.escalationMu.Lock()
	defer m.escalationMu.Unlock()
	return m.escalationCounts[txn][table] >= m.escalationThreshold
}

// Escalate atomically acquires a coarser table-level lock, then releases
// every finer row-level lock txn holds under that table in one batch
// (spec §4.7: "acquire coarser, then release finer in batch").
func (m *Manager) Escalate(txn TxID, table string, mode Mode) error {
	if err := m.Acquire(txn, table, mode); err != nil {
		return err
	}

	m.heldMu.Lock()
	var rowLocks []string
	for res := range m.held[txn] {
		if res != table && tableOf(res) == table {
			rowLocks = append(rowLocks, res)
		}
	}
	m.heldMu.Unlock()

	for _, res := range rowLocks {
		m.Release(txn, res)
	}

	m.escalationMu.Lock()
	if set, ok := m.escalationCounts[txn]; ok {
		delete(set, table)
	}
	m.escalationMu.Unlock()
	return nil
}

// Holders returns a snapshot of res's current holders, for diagnostics and
// tests. Returns an empty slice if the resource has never been touched.
func (m *Manager) Holders(res string) []TxID {
	m.mu.Lock()
	r, ok := m.resources[res]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TxID, len(r.holders))
	for i, h := range r.holders {
		out[i] = h.txn
	}
	return out
}
