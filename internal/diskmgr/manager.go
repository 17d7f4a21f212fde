package diskmgr

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coredb/engine/internal/coreerr"
	"github.com/coredb/engine/internal/page"
)

// DirectIOConfig toggles alignment bookkeeping and the minimum record size
// above which a write bypasses the page cache semantics and calls
// sync_data immediately (spec §4.4).
type DirectIOConfig struct {
	Enabled          bool
	Alignment        int
	MinSizeForBypass int
}

// DefaultDirectIOConfig matches the spec's stated default alignment.
func DefaultDirectIOConfig() DirectIOConfig {
	return DirectIOConfig{Enabled: false, Alignment: page.DefaultPageSize, MinSizeForBypass: page.DefaultPageSize}
}

// Stats is an atomic snapshot of disk manager counters (spec C13).
type Stats struct {
	ReadOps        uint64
	WriteOps       uint64
	SyncOps        uint64
	ReadAheadHits  uint64
	ReadAheadMiss  uint64
	QueuedReads    int
	QueuedWrites   int
	QueuedSyncs    int
	IOErrors       uint64
	BytesRead      uint64
	BytesWritten   uint64
}

// Manager is the disk manager (C4): synchronous and priority-scheduled page
// I/O on top of a single database file, with read-ahead and write-behind.
type Manager struct {
	mu       sync.RWMutex
	file     *os.File
	pageSize int
	nextID   atomic.Uint32

	sched       *scheduler
	readAhead   *readAheadBuffer
	writeBehind *writeBehindBuffer
	direct      DirectIOConfig

	readOps, writeOps, syncOps, ioErrors atomic.Uint64
	bytesRead, bytesWritten             atomic.Uint64

	pendingReads  sync.Map // *operation -> chan asyncReadResult
	pendingWrites sync.Map // *operation -> chan error
	pendingSyncs  sync.Map // *operation -> chan error

	workerWG sync.WaitGroup
	closed   bool
}

// Config configures a new Manager.
type Config struct {
	Path            string
	PageSize        int
	FlushThreshold  int
	DirectIO        DirectIOConfig
	SchedulerWorker bool // start a background goroutine draining the async queues
}

// Open creates or opens the backing file at cfg.Path.
func Open(cfg Config) (*Manager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = page.DefaultPageSize
	}
	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "diskmgr.Open", err)
	}
	m := &Manager{
		file:        f,
		pageSize:    ps,
		sched:       newScheduler(),
		readAhead:   newReadAheadBuffer(),
		writeBehind: newWriteBehindBuffer(cfg.FlushThreshold),
		direct:      cfg.DirectIO,
	}
	if fi, err := f.Stat(); err == nil {
		m.nextID.Store(uint32(fi.Size() / int64(ps)))
	}
	if cfg.SchedulerWorker {
		m.workerWG.Add(1)
		go m.runWorker()
	}
	return m, nil
}

// PageSize returns the configured page size.
func (m *Manager) PageSize() int { return m.pageSize }

// AllocatePage extends the file by one page and returns a freshly
// initialized buffer for it, satisfying page.OverflowAllocator.
func (m *Manager) AllocatePage(pt page.Type) (page.ID, []byte) {
	id := page.ID(m.nextID.Add(1) - 1)
	buf := page.New(m.pageSize, pt)
	return id, buf
}

// ReadPage synchronously reads a page, verifying its checksum, and updates
// the read-ahead buffer and statistics.
func (m *Manager) ReadPage(id page.ID) ([]byte, error) {
	if buf, ok := m.readAhead.take(id); ok {
		return buf, nil
	}
	buf, err := m.readRaw(id)
	if err != nil {
		return nil, err
	}
	for _, want := range m.readAhead.observe(id) {
		if want == id {
			continue
		}
		if pbuf, err := m.readRaw(want); err == nil {
			m.readAhead.store(want, pbuf)
		}
	}
	return buf, nil
}

func (m *Manager) readRaw(id page.ID) ([]byte, error) {
	buf := make([]byte, m.pageSize)
	off := int64(id) * int64(m.pageSize)
	m.mu.RLock()
	_, err := m.file.ReadAt(buf, off)
	m.mu.RUnlock()
	if err != nil {
		m.ioErrors.Add(1)
		return nil, coreerr.New(coreerr.KindIoError, "diskmgr.ReadPage", err)
	}
	if err := page.VerifyChecksum(buf); err != nil {
		return nil, coreerr.New(coreerr.KindChecksumMismatch, "diskmgr.ReadPage", err)
	}
	m.readOps.Add(1)
	m.bytesRead.Add(uint64(m.pageSize))
	return buf, nil
}

// WritePage synchronously writes buf for id through the write-behind
// buffer, flushing immediately if the threshold is reached. Direct I/O
// writes of at least MinSizeForBypass skip the write-behind buffer
// entirely and go straight to the file plus an immediate fsync, since
// buffering them would leave the page unwritten on disk even though this
// call reports success (spec §4.4 "bypasses the page cache... and syncs
// immediately").
func (m *Manager) WritePage(id page.ID, buf []byte) error {
	page.SetChecksum(buf)

	if m.direct.Enabled && len(buf) >= m.direct.MinSizeForBypass {
		if err := m.writeRaw(id, buf); err != nil {
			return err
		}
		m.writeBehind.discard(id) // this image is now on disk; don't let a later flush overwrite it with a stale buffered copy
		return m.syncData()
	}

	if shouldFlush := m.writeBehind.add(id, buf); shouldFlush {
		return m.flushWriteBehind()
	}
	return nil
}

func (m *Manager) writeRaw(id page.ID, buf []byte) error {
	off := int64(id) * int64(m.pageSize)
	m.mu.Lock()
	_, err := m.file.WriteAt(buf, off)
	m.mu.Unlock()
	if err != nil {
		m.ioErrors.Add(1)
		return coreerr.New(coreerr.KindIoError, "diskmgr.WritePage", err)
	}
	m.writeOps.Add(1)
	m.bytesWritten.Add(uint64(len(buf)))
	return nil
}

// flushWriteBehind drains the write-behind buffer, writing each dirty page
// to disk in ascending page ID order for sequential I/O.
func (m *Manager) flushWriteBehind() error {
	batch := m.writeBehind.getFlushBatch()
	for _, dp := range batch {
		if err := m.writeRaw(dp.id, dp.buf); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) syncData() error {
	m.mu.RLock()
	err := m.file.Sync()
	m.mu.RUnlock()
	m.syncOps.Add(1)
	if err != nil {
		m.ioErrors.Add(1)
		return coreerr.New(coreerr.KindIoError, "diskmgr.syncData", err)
	}
	return nil
}

// FlushAllWrites drains the write-behind buffer and fsyncs the file. A
// write is durable only after this returns successfully (spec §4.4). It is
// idempotent: calling it twice in a row leaves the same post-state.
func (m *Manager) FlushAllWrites() error {
	if err := m.flushWriteBehind(); err != nil {
		return err
	}
	return m.syncData()
}

// ReadPageAsync submits a prioritized read to the scheduler, returning a
// channel that receives the result once a worker services it.
func (m *Manager) ReadPageAsync(id page.ID, priority Priority, deadline time.Time) <-chan asyncReadResult {
	out := make(chan asyncReadResult, 1)
	op := &operation{kind: opRead, pageID: id, priority: priority, deadline: deadline}
	m.pendingReads.Store(op, out)
	m.sched.submit(op)
	return out
}

// WritePageAsync submits a prioritized write to the scheduler.
func (m *Manager) WritePageAsync(id page.ID, buf []byte, priority Priority, deadline time.Time) <-chan error {
	out := make(chan error, 1)
	op := &operation{kind: opWrite, pageID: id, priority: priority, deadline: deadline, data: buf}
	m.pendingWrites.Store(op, out)
	m.sched.submit(op)
	return out
}

// SubmitSync enqueues a durability barrier. The scheduler dequeues pending
// syncs before any queued read or write, so the barrier flushes writes
// already applied to the write-behind buffer, not async writes still
// waiting in the scheduler queues.
func (m *Manager) SubmitSync() <-chan error {
	out := make(chan error, 1)
	op := &operation{kind: opSync}
	m.pendingSyncs.Store(op, out)
	m.sched.submit(op)
	return out
}

// runWorker drains the scheduler queues, servicing one operation at a time
// in the priority order scheduler.dequeue defines.
func (m *Manager) runWorker() {
	defer m.workerWG.Done()
	for {
		op := m.sched.dequeueBlocking()
		if op == nil {
			if m.sched.isClosed() {
				return
			}
			continue
		}
		switch op.kind {
		case opRead:
			buf, err := m.ReadPage(op.pageID)
			if ch, ok := m.pendingReads.LoadAndDelete(op); ok {
				ch.(chan asyncReadResult) <- asyncReadResult{buf: buf, err: err}
			}
		case opWrite:
			err := m.WritePage(op.pageID, op.data)
			if ch, ok := m.pendingWrites.LoadAndDelete(op); ok {
				ch.(chan error) <- err
			}
		case opSync:
			err := m.FlushAllWrites()
			if ch, ok := m.pendingSyncs.LoadAndDelete(op); ok {
				ch.(chan error) <- err
			}
		}
	}
}

// asyncReadResult is delivered on the channel returned by ReadPageAsync.
type asyncReadResult struct {
	buf []byte
	err error
}

// Stats returns a point-in-time snapshot of counters.
func (m *Manager) Stats() Stats {
	reads, writes, syncs := m.sched.depth()
	hits, misses := m.readAhead.stats()
	return Stats{
		ReadOps:       m.readOps.Load(),
		WriteOps:      m.writeOps.Load(),
		SyncOps:       m.syncOps.Load(),
		ReadAheadHits: hits,
		ReadAheadMiss: misses,
		QueuedReads:   reads,
		QueuedWrites:  writes,
		QueuedSyncs:   syncs,
		IOErrors:      m.ioErrors.Load(),
		BytesRead:     m.bytesRead.Load(),
		BytesWritten:  m.bytesWritten.Load(),
	}
}

// Close flushes all pending writes and closes the backing file.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.sched.close()
	m.workerWG.Wait()

	if err := m.FlushAllWrites(); err != nil {
		_ = m.file.Close()
		return err
	}
	return m.file.Close()
}
