package txn

import (
	"testing"

	"github.com/coredb/engine/internal/coreerr"
)

func TestBeginIsActiveCommitLifecycle(t *testing.T) {
	m := New(Config{})
	tx := m.Begin(ReadCommitted)
	if !m.IsActive(tx.ID) {
		t.Fatalf("IsActive() = false immediately after Begin()")
	}
	if err := m.RecordWrite(tx, "accounts:1", []byte("v1")); err != nil {
		t.Fatalf("RecordWrite() error: %v", err)
	}
	if err := m.Commit(tx.ID); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if m.IsActive(tx.ID) {
		t.Fatalf("IsActive() = true after Commit()")
	}
	if tx.StatusNow() != StatusCommitted {
		t.Fatalf("StatusNow() = %v, want Committed", tx.StatusNow())
	}
}

func TestAbortReleasesLocksForWaiters(t *testing.T) {
	m := New(Config{})
	t1 := m.Begin(RepeatableRead)
	if err := m.RecordWrite(t1, "orders:1", []byte("v1")); err != nil {
		t.Fatalf("T1 RecordWrite() error: %v", err)
	}
	m.Abort(t1.ID)
	if t1.StatusNow() != StatusAborted {
		t.Fatalf("StatusNow() = %v, want Aborted", t1.StatusNow())
	}

	t2 := m.Begin(RepeatableRead)
	if err := m.RecordWrite(t2, "orders:1", []byte("v2")); err != nil {
		t.Fatalf("T2 RecordWrite() after T1 abort error: %v, want success (lock released)", err)
	}
}

func TestReadCommittedDoesNotHoldReadLock(t *testing.T) {
	m := New(Config{})
	reader := m.Begin(ReadCommitted)
	if err := m.RecordRead(reader, "rows:1"); err != nil {
		t.Fatalf("RecordRead() error: %v", err)
	}

	writer := m.Begin(ReadCommitted)
	if err := m.RecordWrite(writer, "rows:1", []byte("v1")); err != nil {
		t.Fatalf("writer RecordWrite() error: %v, want success (ReadCommitted releases read locks immediately)", err)
	}
}

func TestRepeatableReadHoldsReadLockUntilCommit(t *testing.T) {
	m := New(Config{})
	reader := m.Begin(RepeatableRead)
	if err := m.RecordRead(reader, "rows:1"); err != nil {
		t.Fatalf("RecordRead() error: %v", err)
	}

	writer := m.Begin(RepeatableRead)
	if err := m.RecordWrite(writer, "rows:1", []byte("v1")); err == nil {
		t.Fatalf("writer RecordWrite() succeeded, want conflict against RepeatableRead's held shared lock")
	}

	if err := m.Commit(reader.ID); err != nil {
		t.Fatalf("reader Commit() error: %v", err)
	}
	if err := m.RecordWrite(writer, "rows:1", []byte("v1")); err != nil {
		t.Fatalf("writer RecordWrite() after reader commit error: %v, want success", err)
	}
}

func TestSerializableValidationConflict(t *testing.T) {
	m := New(Config{})
	t1 := m.Begin(Serializable)
	t2 := m.Begin(Serializable)

	if err := m.RecordRead(t1, "x"); err != nil {
		t.Fatalf("T1 RecordRead() error: %v", err)
	}
	if err := m.RecordRead(t2, "x"); err != nil {
		t.Fatalf("T2 RecordRead() error: %v", err)
	}
	if err := m.RecordWrite(t1, "x", []byte("v1")); err != nil {
		t.Fatalf("T1 RecordWrite() error: %v", err)
	}
	if err := m.Commit(t1.ID); err != nil {
		t.Fatalf("T1 Commit() error: %v", err)
	}

	if err := m.RecordWrite(t2, "x", []byte("v2")); err != nil {
		t.Fatalf("T2 RecordWrite() error: %v", err)
	}
	err := m.Commit(t2.ID)
	if err == nil {
		t.Fatalf("T2 Commit() succeeded, want ValidationFailed")
	}
	if !coreerr.Is(err, coreerr.KindValidationFailed) {
		t.Fatalf("T2 Commit() error = %v, want KindValidationFailed", err)
	}
	if t2.StatusNow() != StatusAborted {
		t.Fatalf("T2 StatusNow() = %v, want Aborted", t2.StatusNow())
	}
}

// TestSnapshotIsolationDetectsWriteWriteConflict exercises the "additional
// write-write detection" spec §4.9 requires beyond plain OCC read-set
// validation: two transactions write the same key without ever reading it,
// and the second committer must still be rejected.
func TestSnapshotIsolationDetectsWriteWriteConflict(t *testing.T) {
	m := New(Config{})
	t1 := m.Begin(SnapshotIsolation)
	t2 := m.Begin(SnapshotIsolation)

	if err := m.RecordWrite(t1, "balance", []byte("100")); err != nil {
		t.Fatalf("T1 RecordWrite() error: %v", err)
	}
	if err := m.Commit(t1.ID); err != nil {
		t.Fatalf("T1 Commit() error: %v", err)
	}

	if err := m.RecordWrite(t2, "balance", []byte("200")); err != nil {
		t.Fatalf("T2 RecordWrite() error: %v", err)
	}
	if err := m.Commit(t2.ID); err == nil {
		t.Fatalf("T2 Commit() succeeded, want write-write conflict against T1's committed write")
	}
}

func TestCommitUnknownTxnFails(t *testing.T) {
	m := New(Config{})
	if err := m.Commit(ID(999)); !coreerr.Is(err, coreerr.KindNotFound) {
		t.Fatalf("Commit(unknown) error = %v, want KindNotFound", err)
	}
}

func TestDoubleCommitFails(t *testing.T) {
	m := New(Config{})
	tx := m.Begin(ReadCommitted)
	if err := m.Commit(tx.ID); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if err := m.Commit(tx.ID); err == nil {
		t.Fatalf("second Commit() succeeded, want error")
	}
}
