package lsm

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coredb/engine/internal/coreerr"
	"github.com/coredb/engine/internal/epoch"
)

// Config configures an Engine (spec §6 defaults).
type Config struct {
	Dir                string
	MemtableSizeBytes  int64
	L0CompactionTrigger int
	L0SlowdownThreshold int
	BloomFPRate        float64
	Mode               CompactionMode
	CompactionInterval time.Duration
	TargetWriteAmp     float64
}

// DefaultConfig returns spec §6's defaults for the LSM engine.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                 dir,
		MemtableSizeBytes:   64 << 20,
		L0CompactionTrigger: l0CompactionTrigger,
		L0SlowdownThreshold: l0SlowdownThreshold,
		BloomFPRate:         defaultFPRate,
		Mode:                ModeHybrid,
		CompactionInterval:  2 * time.Second,
		TargetWriteAmp:      10.0,
	}
}

// Stats is a point-in-time snapshot of engine counters (spec §9
// "exposed metrics ... compaction bytes").
type Stats struct {
	Puts, Gets, Deletes   uint64
	Flushes, Compactions  uint64
	BytesCompacted        uint64
	L0Tables              int
	ThrottlingWrites      bool
	Mode                  string
}

// Engine is the LSM key-value subsystem (spec component C6).
type Engine struct {
	cfg    Config
	domain *epoch.Domain

	mu         sync.RWMutex // guards active/immutables/levels/nextID
	active     *memtable
	immutables []*memtable // newest last
	levels     [][]*sstable
	nextID     uint64

	flushCh   chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mode                   atomic.Int32
	puts, gets, deletes    atomic.Uint64
	flushes, compactions   atomic.Uint64
	bytesCompacted         atomic.Uint64
	oldestSnapshotOverride atomic.Uint64
}

// Open creates cfg.Dir if needed and starts an empty LSM engine rooted
// there. SSTable files already present in cfg.Dir are not loaded.
func Open(cfg Config) (*Engine, error) {
	if cfg.MemtableSizeBytes <= 0 {
		cfg.MemtableSizeBytes = 64 << 20
	}
	if cfg.BloomFPRate <= 0 {
		cfg.BloomFPRate = defaultFPRate
	}
	if cfg.CompactionInterval <= 0 {
		cfg.CompactionInterval = 2 * time.Second
	}
	if cfg.TargetWriteAmp <= 0 {
		cfg.TargetWriteAmp = 10.0
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.Open", err)
	}

	e := &Engine{
		cfg:     cfg,
		domain:  epoch.NewDomain(),
		levels:  make([][]*sstable, 4),
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	e.mode.Store(int32(cfg.Mode))
	e.active = newMemtable(e.nextMemtableID(), e.domain)

	e.wg.Add(2)
	go e.flushWorker()
	go e.compactionWorker()
	return e, nil
}

func (e *Engine) nextMemtableID() uint64 {
	e.nextID++
	return e.nextID
}

// Put writes key=value into the active memtable, swapping it to immutable
// and signaling the flusher if the size budget is exceeded (I-M1).
func (e *Engine) Put(key, value string) error {
	e.puts.Add(1)
	return e.write(key, entry{value: []byte(value), version: e.nextVersion()})
}

// Delete writes a tombstone for key (spec §6 "Values carry ... is_tombstone").
func (e *Engine) Delete(key string) error {
	e.deletes.Add(1)
	return e.write(key, entry{version: e.nextVersion(), tombstone: true})
}

var versionClock atomic.Uint64

func (e *Engine) nextVersion() uint64 { return versionClock.Add(1) }

func (e *Engine) write(key string, e2 entry) error {
	e.mu.Lock()
	size := e.active.put(key, e2)
	needSwap := size >= e.cfg.MemtableSizeBytes
	if needSwap {
		e.immutables = append(e.immutables, e.active)
		e.active = newMemtable(e.nextMemtableID(), e.domain)
	}
	e.mu.Unlock()

	if needSwap {
		select {
		case e.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Get implements the read path of spec §4.6: active memtable, then
// immutables newest-first, then L0 newest-first, then L1..Ln in order. The
// first live-or-tombstoned hit terminates the search.
func (e *Engine) Get(key string) (string, bool, error) {
	e.gets.Add(1)
	e.mu.RLock()
	active := e.active
	immutables := append([]*memtable(nil), e.immutables...)
	levels := make([][]*sstable, len(e.levels))
	copy(levels, e.levels)
	e.mu.RUnlock()

	if v, ok := active.get(key); ok {
		if v.tombstone {
			return "", false, nil
		}
		return string(v.value), true, nil
	}
	for i := len(immutables) - 1; i >= 0; i-- {
		if v, ok := immutables[i].get(key); ok {
			if v.tombstone {
				return "", false, nil
			}
			return string(v.value), true, nil
		}
	}

	if len(levels) > 0 {
		l0 := levels[0]
		for i := len(l0) - 1; i >= 0; i-- {
			v, found, err := l0[i].get(key)
			if err != nil {
				return "", false, err
			}
			if found {
				if v.tombstone {
					return "", false, nil
				}
				return string(v.value), true, nil
			}
		}
	}
	for lvl := 1; lvl < len(levels); lvl++ {
		for _, s := range levels[lvl] {
			if key < s.minKey || key > s.maxKey {
				continue
			}
			v, found, err := s.get(key)
			if err != nil {
				return "", false, err
			}
			if found {
				if v.tombstone {
					return "", false, nil
				}
				return string(v.value), true, nil
			}
		}
	}
	return "", false, nil
}

// ScanResult is one live key/value pair returned by Scan.
type ScanResult struct {
	Key   string
	Value string
}

// Scan returns every live key in [start, end) in ascending order, merging
// the active memtable, immutables, and every SSTable level with newer
// sources shadowing older ones (same precedence as Get).
func (e *Engine) Scan(start, end string) ([]ScanResult, error) {
	e.mu.RLock()
	active := e.active
	immutables := append([]*memtable(nil), e.immutables...)
	levels := make([][]*sstable, len(e.levels))
	copy(levels, e.levels)
	e.mu.RUnlock()

	latest := make(map[string]entry)
	apply := func(rows []kv) {
		for _, r := range rows {
			if r.key < start || (end != "" && r.key >= end) {
				continue
			}
			if existing, ok := latest[r.key]; !ok || r.entry.version >= existing.version {
				latest[r.key] = r.entry
			}
		}
	}

	for lvl := len(levels) - 1; lvl >= 1; lvl-- {
		for _, s := range levels[lvl] {
			rows, err := s.scanAll()
			if err != nil {
				return nil, err
			}
			apply(rows)
		}
	}
	if len(levels) > 0 {
		for _, s := range levels[0] {
			rows, err := s.scanAll()
			if err != nil {
				return nil, err
			}
			apply(rows)
		}
	}
	for _, m := range immutables {
		apply(m.snapshot())
	}
	apply(active.snapshot())

	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ScanResult, 0, len(keys))
	for _, k := range keys {
		e := latest[k]
		if e.tombstone {
			continue
		}
		out = append(out, ScanResult{Key: k, Value: string(e.value)})
	}
	return out, nil
}

// ShouldThrottleWrites reports spec §4.6's write-stall signal: L0 size at or
// above the slowdown threshold.
func (e *Engine) ShouldThrottleWrites() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return shouldThrottleWrites(e.levels)
}

// flushWorker drains the immutable-memtable queue into L0 SSTables
// (spec §4.6 "a flusher drains immutables in order into L0 SSTables").
func (e *Engine) flushWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.flushCh:
			e.flushOne()
		}
	}
}

// flushOne pops the oldest immutable memtable (removing it from the queue
// immediately, so a concurrent flushOne call never picks the same one) and
// writes it out as an L0 SSTable.
func (e *Engine) flushOne() {
	e.mu.Lock()
	if len(e.immutables) == 0 {
		e.mu.Unlock()
		return
	}
	m := e.immutables[0]
	e.immutables = e.immutables[1:]
	e.mu.Unlock()

	rows := m.snapshot()
	if len(rows) == 0 {
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
	// snapshot() can carry duplicate keys if a key was re-inserted while
	// iterating; keep only the newest per key before writing the SSTable
	// (writeSSTable requires exactly one entry per key).
	rows = dedupeNewest(rows)

	path := filepath.Join(e.cfg.Dir, fmt.Sprintf("L0-%06d.sst", m.id))
	sst, err := writeSSTable(path, 0, m.id, rows, e.cfg.BloomFPRate)
	if err != nil {
		// Requeue at the front so a later tick retries; the memtable's
		// data isn't lost.
		e.mu.Lock()
		e.immutables = append([]*memtable{m}, e.immutables...)
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.levels[0] = append(e.levels[0], sst)
	e.mu.Unlock()
	e.flushes.Add(1)

	select {
	case e.flushCh <- struct{}{}: // more immutables may remain
	default:
	}
}

func dedupeNewest(rows []kv) []kv {
	latest := make(map[string]entry, len(rows))
	for _, r := range rows {
		if existing, ok := latest[r.key]; !ok || r.entry.version >= existing.version {
			latest[r.key] = r.entry
		}
	}
	out := make([]kv, 0, len(latest))
	for k, e := range latest {
		out = append(out, kv{key: k, entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// compactionWorker periodically selects and runs compaction jobs
// (spec §4.6 "a scheduler maintains a min-heap of CompactionJob").
func (e *Engine) compactionWorker() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runCompactionRound()
		}
	}
}

func (e *Engine) runCompactionRound() {
	e.mu.RLock()
	levels := make([][]*sstable, len(e.levels))
	copy(levels, e.levels)
	mode := CompactionMode(e.mode.Load())
	e.mu.RUnlock()

	jobs := selectCompactionJobs(levels, mode, 0)
	for jobs.Len() > 0 {
		jc := heap.Pop(jobs).(*compactionJob)
		if err := e.runJob(jc); err != nil {
			continue
		}
	}
	e.adjustMode()
}

// adjustMode samples observed write amplification (compacted bytes versus
// flushed bytes) and switches strategy when it diverges from the
// configured target.
func (e *Engine) adjustMode() {
	flushed := e.flushes.Load()
	if flushed == 0 {
		return
	}
	writeAmp := float64(e.bytesCompacted.Load()) / (float64(flushed) * float64(e.cfg.MemtableSizeBytes))
	next := pickMode(CompactionMode(e.mode.Load()), writeAmp, e.cfg.TargetWriteAmp)
	e.mode.Store(int32(next))
}

func (e *Engine) runJob(job *compactionJob) error {
	inputRows := make([][]kv, 0, len(job.inputs))
	for _, s := range job.inputs {
		rows, err := s.scanAll()
		if err != nil {
			return err
		}
		inputRows = append(inputRows, rows)
	}
	merged := mergeEntries(inputRows, e.oldestOpenSnapshot())
	if len(merged) == 0 {
		e.replaceLevel(job, nil)
		e.bytesCompacted.Add(0)
		return nil
	}

	id := e.nextMemtableID()
	path := filepath.Join(e.cfg.Dir, fmt.Sprintf("L%d-%06d.sst", job.outputLevel, id))
	out, err := writeSSTable(path, job.outputLevel, id, merged, e.cfg.BloomFPRate)
	if err != nil {
		return err // inputs left intact, no in-place mutation (spec §7 recovery)
	}
	e.replaceLevel(job, []*sstable{out})
	e.compactions.Add(1)
	var bytes uint64
	for _, s := range job.inputs {
		bytes += uint64(approxSize(s))
	}
	e.bytesCompacted.Add(bytes)
	return nil
}

// replaceLevel performs the copy-on-write levels swap: it builds a fresh
// levels slice with job.inputs removed from job.level and replaced (in
// job.outputLevel) by outputs, so concurrent readers holding the old
// levels slice never observe a half-updated state.
func (e *Engine) replaceLevel(job *compactionJob, outputs []*sstable) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for job.outputLevel >= len(e.levels) {
		e.levels = append(e.levels, nil)
	}
	newLevels := make([][]*sstable, len(e.levels))
	copy(newLevels, e.levels)

	inputSet := make(map[*sstable]bool, len(job.inputs))
	for _, s := range job.inputs {
		inputSet[s] = true
	}
	remaining := make([]*sstable, 0, len(newLevels[job.level]))
	for _, s := range newLevels[job.level] {
		if !inputSet[s] {
			remaining = append(remaining, s)
		}
	}
	newLevels[job.level] = remaining
	newLevels[job.outputLevel] = append(append([]*sstable(nil), newLevels[job.outputLevel]...), outputs...)
	sort.Slice(newLevels[job.outputLevel], func(i, j int) bool {
		return newLevels[job.outputLevel][i].minKey < newLevels[job.outputLevel][j].minKey
	})

	e.levels = newLevels

	for _, s := range job.inputs {
		_ = os.Remove(s.path) // best-effort; the file is no longer referenced
	}
}

// oldestOpenSnapshot returns the oldest version any live reader might still
// need to see. Without a transaction manager wired in, tombstones are kept
// until this is overridden by SetOldestOpenSnapshot.
func (e *Engine) oldestOpenSnapshot() uint64 {
	v := e.oldestSnapshotOverride.Load()
	return v
}

// SetOldestOpenSnapshot lets the transaction manager advise the compactor
// of the oldest version still visible to an active snapshot, enabling
// tombstone GC (spec §4.6 "tombstone GC when the tombstone is older than
// every surviving snapshot").
func (e *Engine) SetOldestOpenSnapshot(v uint64) {
	e.oldestSnapshotOverride.Store(v)
}

// Stats returns a point-in-time snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	l0 := len(e.levels[0])
	e.mu.RUnlock()
	return Stats{
		Puts: e.puts.Load(), Gets: e.gets.Load(), Deletes: e.deletes.Load(),
		Flushes: e.flushes.Load(), Compactions: e.compactions.Load(),
		BytesCompacted:   e.bytesCompacted.Load(),
		L0Tables:         l0,
		ThrottlingWrites: e.ShouldThrottleWrites(),
		Mode:             CompactionMode(e.mode.Load()).String(),
	}
}

// Close stops the background workers and returns once they exit. It does
// not flush the active memtable; callers needing a durable shutdown should
// force-flush first (exercised in tests via forceFlushAll).
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	return nil
}

// forceFlushAll blocks until every memtable (including the active one) has
// been swapped out and written to L0. Used by tests and by an explicit
// checkpoint operation.
func (e *Engine) forceFlushAll(ctx context.Context) error {
	e.mu.Lock()
	if e.active.sizeBytes() > 0 || e.active.skiplist.Len() > 0 {
		e.immutables = append(e.immutables, e.active)
		e.active = newMemtable(e.nextMemtableID(), e.domain)
	}
	e.mu.Unlock()

	for {
		e.mu.RLock()
		n := len(e.immutables)
		e.mu.RUnlock()
		if n == 0 {
			return nil
		}
		e.flushOne()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
