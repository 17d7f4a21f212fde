package bufpool

import (
	"sync"
	"sync/atomic"

	"github.com/coredb/engine/internal/coreerr"
	"github.com/coredb/engine/internal/diskmgr"
	"github.com/coredb/engine/internal/page"
)

const (
	defaultK        = 2
	minK            = 1
	maxK            = 10
	rebalanceWindow = 64 // accesses between K reassessments
)

// Stats is a point-in-time snapshot of pool counters (spec §4.5).
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
	K         int
	NumaSkew  bool
}

// Pool is the buffer pool: a bounded cache of Frame keyed by page.ID,
// backed by a disk manager for misses and flushes.
type Pool struct {
	mu        sync.Mutex
	disk      *diskmgr.Manager
	capacity  int
	frames    map[page.ID]*Frame
	frameNode map[page.ID]int

	numa *numaPartitioner

	clock atomic.Int64
	k     atomic.Int32

	accessCount   atomic.Uint64
	rollingAvgLen float64 // guarded by mu

	hits, misses, evictions atomic.Uint64
}

// Config configures a new Pool.
type Config struct {
	Capacity int // max resident frames
	NumaNodes int
	NumaBudgetBytes int64
}

// New creates a buffer pool of the given capacity backed by disk.
func New(disk *diskmgr.Manager, cfg Config) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.NumaBudgetBytes <= 0 {
		cfg.NumaBudgetBytes = int64(cfg.Capacity) * int64(disk.PageSize())
	}
	p := &Pool{
		disk:      disk,
		capacity:  cfg.Capacity,
		frames:    make(map[page.ID]*Frame, cfg.Capacity),
		frameNode: make(map[page.ID]int, cfg.Capacity),
		numa:      newNumaPartitioner(cfg.NumaNodes, cfg.NumaBudgetBytes),
	}
	p.k.Store(defaultK)
	return p
}

// FetchPage returns a pinned, COW snapshot frame for id, reading through to
// disk on a cache miss.
func (p *Pool) FetchPage(id page.ID) (*Frame, error) {
	p.mu.Lock()
	if f, ok := p.frames[id]; ok {
		f.Pin()
		p.hits.Add(1)
		p.mu.Unlock()
		p.touch(f)
		return f, nil
	}
	p.mu.Unlock()

	p.misses.Add(1)
	buf, err := p.disk.ReadPage(id)
	if err != nil {
		return nil, err
	}
	f := newFrame(uint32(id), buf)
	f.Pin()
	p.insert(id, f, len(buf))
	p.touch(f)
	return f, nil
}

// NewPage allocates a fresh page through the disk manager and caches it
// pinned.
func (p *Pool) NewPage(pt page.Type) (page.ID, *Frame) {
	id, buf := p.disk.AllocatePage(pt)
	f := newFrame(uint32(id), buf)
	f.Pin()
	p.insert(id, f, len(buf))
	p.touch(f)
	return id, f
}

func (p *Pool) insert(id page.ID, f *Frame, sizeBytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) >= p.capacity {
		p.evictLocked()
	}
	p.frames[id] = f
	p.frameNode[id] = p.numa.assign(int64(sizeBytes))
}

// touch records an access for LRU-K bookkeeping and periodically adapts K.
func (p *Pool) touch(f *Frame) {
	clock := p.clock.Add(1)
	f.recordAccess(clock)

	if n := p.accessCount.Add(1); n%rebalanceWindow == 0 {
		p.mu.Lock()
		avg := p.computeAverageAccessesLocked()
		p.adaptKLocked(avg)
		p.mu.Unlock()
	}
}

func (p *Pool) computeAverageAccessesLocked() float64 {
	if len(p.frames) == 0 {
		return 0
	}
	var total int
	for _, f := range p.frames {
		f.histMu.Lock()
		total += f.count
		f.histMu.Unlock()
	}
	return float64(total) / float64(len(p.frames))
}

// adaptKLocked increases K when the rolling average access count is much
// larger than K, decreases it when smaller, clamped to [1,10] (spec §4.5).
func (p *Pool) adaptKLocked(avg float64) {
	k := int(p.k.Load())
	switch {
	case avg > float64(k)*2 && k < maxK:
		k++
	case avg < float64(k) && k > minK:
		k--
	}
	p.k.Store(int32(k))
}

// Unpin releases a pin on id, optionally marking it dirty.
func (p *Pool) Unpin(id page.ID, dirty bool) {
	p.mu.Lock()
	f, ok := p.frames[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	f.Unpin(dirty)
}

// FlushPage writes a frame's current bytes to disk and clears its dirty bit.
func (p *Pool) FlushPage(id page.ID) error {
	p.mu.Lock()
	f, ok := p.frames[id]
	p.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.KindNotFound, "bufpool.FlushPage", nil)
	}
	if !f.Dirty() {
		return nil
	}
	if err := p.disk.WritePage(id, f.Bytes()); err != nil {
		return err
	}
	f.clearDirty()
	return nil
}

// FlushAll flushes every dirty frame, then durably syncs the disk manager.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	ids := make([]page.ID, 0, len(p.frames))
	for id := range p.frames {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.FlushPage(id); err != nil {
			return err
		}
	}
	return p.disk.FlushAllWrites()
}

// evictLocked selects and removes the frame maximizing backward K-distance
// among unpinned frames (spec §4.5 LRU-K). Caller holds p.mu.
func (p *Pool) evictLocked() bool {
	k := int(p.k.Load())
	clock := p.clock.Load()

	var victim page.ID
	var victimDist int64 = -1
	found := false
	for id, f := range p.frames {
		if f.Pinned() {
			continue
		}
		dist := f.backwardKDistance(k, clock)
		if dist > victimDist {
			victimDist = dist
			victim = id
			found = true
		}
	}
	if !found {
		return false
	}
	if node, ok := p.frameNode[victim]; ok {
		p.numa.release(node, int64(len(p.frames[victim].Bytes())))
		delete(p.frameNode, victim)
	}
	delete(p.frames, victim)
	p.evictions.Add(1)
	return true
}

// Stats returns a point-in-time snapshot of pool counters.
func (p *Pool) Stats() Stats {
	hits := p.hits.Load()
	misses := p.misses.Load()
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: p.evictions.Load(),
		HitRate:   rate,
		K:         int(p.k.Load()),
		NumaSkew:  p.numa.skewed(),
	}
}

// Resident returns the number of currently cached frames.
func (p *Pool) Resident() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}
