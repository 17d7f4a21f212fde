package diskmgr

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/coredb/engine/internal/page"
)

func openTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "test.db")
	}
	m, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestWriteReadPageRoundTrip(t *testing.T) {
	m := openTestManager(t, Config{})
	id, buf := m.AllocatePage(page.TypeData)
	sp := page.Wrap(buf)
	if _, err := sp.InsertRecord([]byte("hello")); err != nil {
		t.Fatalf("InsertRecord() error: %v", err)
	}
	if err := m.WritePage(id, buf); err != nil {
		t.Fatalf("WritePage() error: %v", err)
	}
	if err := m.FlushAllWrites(); err != nil {
		t.Fatalf("FlushAllWrites() error: %v", err)
	}

	got, err := m.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage() error: %v", err)
	}
	if string(page.Wrap(got).GetRecord(0)) != "hello" {
		t.Fatalf("round-tripped record mismatch")
	}
}

func TestFlushAllWritesIsIdempotent(t *testing.T) {
	m := openTestManager(t, Config{})
	id, buf := m.AllocatePage(page.TypeData)
	if err := m.WritePage(id, buf); err != nil {
		t.Fatalf("WritePage() error: %v", err)
	}
	if err := m.FlushAllWrites(); err != nil {
		t.Fatalf("first FlushAllWrites() error: %v", err)
	}
	if err := m.FlushAllWrites(); err != nil {
		t.Fatalf("second FlushAllWrites() error: %v", err)
	}
	if got := m.writeBehind.size(); got != 0 {
		t.Fatalf("write-behind buffer size = %d, want 0 after double flush", got)
	}
}

func TestWriteBehindFlushesAtThreshold(t *testing.T) {
	m := openTestManager(t, Config{FlushThreshold: 4})
	var ids []page.ID
	for i := 0; i < 4; i++ {
		id, buf := m.AllocatePage(page.TypeData)
		ids = append(ids, id)
		if err := m.WritePage(id, buf); err != nil {
			t.Fatalf("WritePage() error: %v", err)
		}
	}
	if got := m.writeBehind.size(); got != 0 {
		t.Fatalf("write-behind buffer size = %d, want 0 after hitting threshold", got)
	}
	for _, id := range ids {
		if _, err := m.ReadPage(id); err != nil {
			t.Fatalf("ReadPage(%d) error: %v", id, err)
		}
	}
}

func TestReadAheadSequentialPrefetch(t *testing.T) {
	m := openTestManager(t, Config{})
	var ids []page.ID
	for i := 0; i < 10; i++ {
		id, buf := m.AllocatePage(page.TypeData)
		ids = append(ids, id)
		if err := m.WritePage(id, buf); err != nil {
			t.Fatalf("WritePage() error: %v", err)
		}
	}
	if err := m.FlushAllWrites(); err != nil {
		t.Fatalf("FlushAllWrites() error: %v", err)
	}

	for _, id := range ids[:3] {
		if _, err := m.ReadPage(id); err != nil {
			t.Fatalf("ReadPage(%d) error: %v", id, err)
		}
	}
	stats := m.Stats()
	if stats.ReadAheadHits == 0 {
		t.Fatalf("expected read_ahead_hits > 0 after sequential access pattern")
	}
}

func TestAsyncReadWriteViaScheduler(t *testing.T) {
	m := openTestManager(t, Config{SchedulerWorker: true})
	id, buf := m.AllocatePage(page.TypeData)
	sp := page.Wrap(buf)
	if _, err := sp.InsertRecord([]byte("async")); err != nil {
		t.Fatalf("InsertRecord() error: %v", err)
	}

	writeCh := m.WritePageAsync(id, buf, PriorityNormal, time.Time{})
	select {
	case err := <-writeCh:
		if err != nil {
			t.Fatalf("async write error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("async write timed out")
	}

	syncCh := m.SubmitSync()
	select {
	case err := <-syncCh:
		if err != nil {
			t.Fatalf("async sync error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("async sync timed out")
	}

	readCh := m.ReadPageAsync(id, PriorityHigh, time.Time{})
	select {
	case res := <-readCh:
		if res.err != nil {
			t.Fatalf("async read error: %v", res.err)
		}
		if string(page.Wrap(res.buf).GetRecord(0)) != "async" {
			t.Fatalf("async round-tripped record mismatch")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("async read timed out")
	}
}

func TestSchedulerCoalescesHigherPriorityWrite(t *testing.T) {
	s := newScheduler()
	s.submit(&operation{kind: opWrite, pageID: 1, priority: PriorityLow})
	s.submit(&operation{kind: opWrite, pageID: 1, priority: PriorityCritical})

	_, writes, _ := s.depth()
	if writes != 1 {
		t.Fatalf("writeQ depth = %d, want 1 (coalesced)", writes)
	}
	op := s.dequeue()
	if op.priority != PriorityCritical {
		t.Fatalf("dequeued priority = %v, want Critical", op.priority)
	}
}

func TestSchedulerSyncDrainsFirst(t *testing.T) {
	s := newScheduler()
	s.submit(&operation{kind: opRead, pageID: 1, priority: PriorityNormal})
	s.submit(&operation{kind: opSync})
	op := s.dequeue()
	if op.kind != opSync {
		t.Fatalf("dequeued kind = %v, want opSync", op.kind)
	}
}
