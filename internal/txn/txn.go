// Package txn implements the transaction manager (spec component C9): a
// uniform begin/is_active/commit/abort contract wrapping the lock manager
// (C7) and the OCC manager (C8), dispatching to one or the other per the
// transaction's isolation level. Generalizes tinySQL's mvcc.go
// MVCCManager/TxContext/IsolationLevel/TxStatus shape onto the two real
// concurrency-control backends instead of a single built-in MVCC chain.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/coredb/engine/internal/coreerr"
	"github.com/coredb/engine/internal/lockmgr"
	"github.com/coredb/engine/internal/occ"
)

// ID identifies a transaction managed by Manager.
type ID uint64

// IsolationLevel selects which concurrency-control backend a transaction
// runs under (spec §4.9 and §6 isolation_default).
type IsolationLevel uint8

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
	Serializable
	SnapshotIsolation
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "ReadCommitted"
	case RepeatableRead:
		return "RepeatableRead"
	case Serializable:
		return "Serializable"
	case SnapshotIsolation:
		return "SnapshotIsolation"
	default:
		return "Unknown"
	}
}

// usesLocks reports whether l is handled by the C7 lock manager rather than
// C8's optimistic validation.
func (l IsolationLevel) usesLocks() bool {
	return l == ReadCommitted || l == RepeatableRead
}

// Status is a transaction's lifecycle state.
type Status uint8

const (
	StatusInProgress Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "Committed"
	case StatusAborted:
		return "Aborted"
	default:
		return "InProgress"
	}
}

// Txn is a single transaction's handle. Exactly one of lockTxn/occTx is
// meaningful, depending on Isolation.
type Txn struct {
	ID        ID
	Isolation IsolationLevel

	mu     sync.Mutex
	status Status

	lockTxn lockmgr.TxID
	occTx   *occ.Tx
}

// StatusNow returns tx's current lifecycle state.
func (tx *Txn) StatusNow() Status {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.status
}

// Manager is the single source of truth for transaction state transitions
// (spec §4.9), wrapping one lockmgr.Manager and one occ.Manager.
type Manager struct {
	locks *lockmgr.Manager
	occM  *occ.Manager

	nextID atomic.Uint64

	mu     sync.Mutex
	active map[ID]*Txn
}

// Config supplies the backends a Manager wraps. Either may be left nil, in
// which case a fresh default-configured instance is created.
type Config struct {
	Locks *lockmgr.Manager
	OCC   *occ.Manager
}

// New creates a transaction manager over the given (or freshly created)
// lock and OCC backends.
func New(cfg Config) *Manager {
	if cfg.Locks == nil {
		cfg.Locks = lockmgr.New(lockmgr.Config{})
	}
	if cfg.OCC == nil {
		cfg.OCC = occ.New()
	}
	return &Manager{
		locks:  cfg.Locks,
		occM:   cfg.OCC,
		active: make(map[ID]*Txn),
	}
}

// Begin starts a new transaction under the requested isolation level
// (spec §4.9): ReadCommitted/RepeatableRead run under C7 two-phase locking;
// Serializable runs under C8 with forward validation; SnapshotIsolation
// runs under C8 with hybrid validation plus write-write detection.
func (m *Manager) Begin(level IsolationLevel) *Txn {
	id := ID(m.nextID.Add(1))
	tx := &Txn{ID: id, Isolation: level, status: StatusInProgress}

	if level.usesLocks() {
		tx.lockTxn = lockmgr.TxID(id)
	} else if level == Serializable {
		tx.occTx = m.occM.Begin(occ.Forward)
	} else {
		tx.occTx = m.occM.Begin(occ.Hybrid)
	}

	m.mu.Lock()
	m.active[id] = tx
	m.mu.Unlock()
	return tx
}

// IsActive reports whether id names a transaction that is still in
// progress.
func (m *Manager) IsActive(id ID) bool {
	tx, ok := m.lookup(id)
	if !ok {
		return false
	}
	return tx.StatusNow() == StatusInProgress
}

func (m *Manager) lookup(id ID) (*Txn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[id]
	return tx, ok
}

func (m *Manager) requireActive(tx *Txn) error {
	if tx.StatusNow() != StatusInProgress {
		return coreerr.ErrTxnNotActive
	}
	return nil
}

// RecordRead registers a read of resource under tx's isolation semantics.
// ReadCommitted acquires and immediately releases a shared lock, giving no
// repeatable-read guarantee; RepeatableRead holds the shared lock until
// commit or abort; Serializable/SnapshotIsolation record the read in the
// OCC read set instead of locking. Locks are requested without waiting: a
// conflicting holder makes RecordRead return the lock manager's
// ConflictError, and the caller decides whether to retry or abort.
func (m *Manager) RecordRead(tx *Txn, resource string) error {
	if err := m.requireActive(tx); err != nil {
		return err
	}

	switch tx.Isolation {
	case ReadCommitted:
		if err := m.locks.TryAcquire(tx.lockTxn, resource, lockmgr.Shared); err != nil {
			return err
		}
		m.locks.Release(tx.lockTxn, resource)
		return nil
	case RepeatableRead:
		return m.locks.TryAcquire(tx.lockTxn, resource, lockmgr.Shared)
	default:
		m.occM.Read(tx.occTx, resource)
		return nil
	}
}

// RecordWrite registers a write of resource under tx's isolation semantics.
// ReadCommitted/RepeatableRead acquire an exclusive lock held until commit
// or abort, without waiting: a conflicting holder makes RecordWrite return
// the lock manager's ConflictError. Serializable/SnapshotIsolation buffer the write in the OCC
// write set; SnapshotIsolation additionally records the written key as a
// read, so the existing read-set validation also catches write-write
// conflicts between concurrent snapshots (spec §4.9 "additional
// write-write detection").
func (m *Manager) RecordWrite(tx *Txn, resource string, value []byte) error {
	if err := m.requireActive(tx); err != nil {
		return err
	}

	switch tx.Isolation {
	case ReadCommitted, RepeatableRead:
		return m.locks.TryAcquire(tx.lockTxn, resource, lockmgr.Exclusive)
	default:
		tx.occTx.RecordWrite(resource, value)
		if tx.Isolation == SnapshotIsolation {
			m.occM.Read(tx.occTx, resource)
		}
		return nil
	}
}

// Commit attempts to commit id's transaction. Lock-based isolation levels
// always succeed (conflicts were already resolved at acquire time);
// OCC-based levels may return a validation-failure error, in which case
// the transaction is left aborted.
func (m *Manager) Commit(id ID) error {
	tx, ok := m.lookup(id)
	if !ok {
		return coreerr.New(coreerr.KindNotFound, "txn.Commit", errUnknownTxn)
	}
	if err := m.requireActive(tx); err != nil {
		return err
	}

	if tx.Isolation.usesLocks() {
		m.locks.ReleaseAll(tx.lockTxn)
		tx.mu.Lock()
		tx.status = StatusCommitted
		tx.mu.Unlock()
		m.removeActive(id)
		return nil
	}

	if _, err := m.occM.Commit(tx.occTx); err != nil {
		tx.mu.Lock()
		tx.status = StatusAborted
		tx.mu.Unlock()
		m.removeActive(id)
		return err
	}
	tx.mu.Lock()
	tx.status = StatusCommitted
	tx.mu.Unlock()
	m.removeActive(id)
	return nil
}

// Abort discards id's transaction, releasing any locks held or write set
// buffered. A no-op if the transaction is already terminal.
func (m *Manager) Abort(id ID) {
	tx, ok := m.lookup(id)
	if !ok {
		return
	}

	tx.mu.Lock()
	if tx.status != StatusInProgress {
		tx.mu.Unlock()
		return
	}
	tx.status = StatusAborted
	tx.mu.Unlock()

	if tx.Isolation.usesLocks() {
		m.locks.ReleaseAll(tx.lockTxn)
	} else {
		m.occM.Abort(tx.occTx)
	}
	m.removeActive(id)
}

func (m *Manager) removeActive(id ID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}
