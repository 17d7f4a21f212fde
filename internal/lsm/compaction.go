package lsm

import (
	"container/heap"
	"fmt"
	"sort"
)

// CompactionMode selects how the scheduler groups SSTables for merging
// (spec §4.6/§6 compaction_mode).
type CompactionMode int

const (
	ModeLeveled CompactionMode = iota
	ModeTiered
	ModeHybrid
)

func (m CompactionMode) String() string {
	switch m {
	case ModeLeveled:
		return "leveled"
	case ModeTiered:
		return "tiered"
	default:
		return "hybrid"
	}
}

// l0CompactionTrigger/tieredBucketMin match spec §6 defaults.
const (
	l0CompactionTrigger  = 4
	l0SlowdownThreshold  = 8
	tieredBucketMinCount = 4
	levelSizeMultiplier  = 10
	baseLevelSizeBytes   = 10 << 20 // 10 MiB budget for L1
)

// compactionJob describes one merge: inputs from level, output written to
// outputLevel. Priority ordering favors L0 (write-stall avoidance), then
// decreasing priority with level.
type compactionJob struct {
	level       int
	outputLevel int
	inputs      []*sstable
	priority    int
}

// jobHeap is a max-heap by priority (container/heap is a min-heap by
// default, so Less is inverted).
type jobHeap []*compactionJob

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].priority > h[j].priority }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)         { *h = append(*h, x.(*compactionJob)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// selectCompactionJobs inspects levels and enqueues jobs according to mode.
// levels[0] is L0 (may overlap); levels[i>0] have disjoint key ranges
// within themselves (spec's Convergence property 3).
func selectCompactionJobs(levels [][]*sstable, mode CompactionMode, writeRate float64) *jobHeap {
	h := &jobHeap{}
	heap.Init(h)

	if len(levels) > 0 && len(levels[0]) >= l0CompactionTrigger {
		heap.Push(h, &compactionJob{
			level: 0, outputLevel: 1,
			inputs:   append([]*sstable(nil), levels[0]...),
			priority: 1000 + len(levels[0]), // L0 always dominates
		})
	}

	switch mode {
	case ModeTiered:
		selectTieredJobs(h, levels, writeRate)
	case ModeLeveled:
		selectLeveledJobs(h, levels, writeRate)
	default: // ModeHybrid: tiered merges within L1, plus leveled promotion from L1 upward once there are more than two levels
		selectTieredJobs(h, levels[:min(2, len(levels))], writeRate)
		if len(levels) > 2 {
			selectLeveledJobs(h, levels, writeRate)
		}
	}
	return h
}

// selectLeveledJobs compacts a level into the next when its total size
// exceeds levelSizeMultiplier^(level-1) * baseLevelSizeBytes.
func selectLeveledJobs(h *jobHeap, levels [][]*sstable, writeRate float64) {
	for lvl := 1; lvl < len(levels)-1; lvl++ {
		budget := int64(baseLevelSizeBytes)
		for i := 1; i < lvl; i++ {
			budget *= levelSizeMultiplier
		}
		var size int64
		for _, s := range levels[lvl] {
			size += approxSize(s)
		}
		if size > budget {
			priority := 100 - lvl + int(writeRate)
			heap.Push(h, &compactionJob{
				level: lvl, outputLevel: lvl + 1,
				inputs:   append([]*sstable(nil), levels[lvl]...),
				priority: priority,
			})
		}
	}
}

// selectTieredJobs groups same-level SSTables into size buckets and merges
// a bucket once it holds tieredBucketMinCount entries (spec §4.6 Tiered).
func selectTieredJobs(h *jobHeap, levels [][]*sstable, writeRate float64) {
	for lvl, tables := range levels {
		if lvl == 0 || len(tables) < tieredBucketMinCount {
			continue
		}
		buckets := make(map[int][]*sstable)
		for _, s := range tables {
			bucket := sizeBucket(approxSize(s))
			buckets[bucket] = append(buckets[bucket], s)
		}
		for _, group := range buckets {
			if len(group) >= tieredBucketMinCount {
				heap.Push(h, &compactionJob{
					level: lvl, outputLevel: lvl,
					inputs:   append([]*sstable(nil), group...),
					priority: 50 - lvl + int(writeRate),
				})
			}
		}
	}
}

func sizeBucket(sizeBytes int64) int {
	b := 0
	for sizeBytes > 1<<20 && b < 20 {
		sizeBytes >>= 1
		b++
	}
	return b
}

func approxSize(s *sstable) int64 {
	return int64(s.count) * 128 // rough per-record estimate; exact size needs a stat() call
}

// mergeEntries performs a k-way merge of sorted kv slices from several
// input SSTables (newest input last wins on key collision), dropping
// tombstones older than the oldest open snapshot timestamp (tombstone GC).
// The result contains exactly one entry per key (spec §9 property: no
// duplicate emission), satisfying Scenario G's last-writer-wins contract.
func mergeEntries(inputs [][]kv, oldestOpenSnapshot uint64) []kv {
	latest := make(map[string]entry, 256)
	order := make([]string, 0, 256)
	for _, run := range inputs {
		for _, rec := range run {
			if _, seen := latest[rec.key]; !seen {
				order = append(order, rec.key)
			}
			if existing, ok := latest[rec.key]; !ok || rec.entry.version >= existing.version {
				latest[rec.key] = rec.entry
			}
		}
	}
	sort.Strings(order)

	out := make([]kv, 0, len(order))
	for _, k := range order {
		e := latest[k]
		if e.tombstone && e.version < oldestOpenSnapshot {
			continue // garbage-collect: no live snapshot can still see this delete
		}
		out = append(out, kv{key: k, entry: e})
	}
	return out
}

// shouldThrottleWrites reports spec §4.6's "L0 size >= slowdown threshold"
// write-stall signal.
func shouldThrottleWrites(levels [][]*sstable) bool {
	return len(levels) > 0 && len(levels[0]) >= l0SlowdownThreshold
}

// pickMode switches compaction strategy when observed write amplification
// diverges from target, per spec §4.6's PID-controller note (simplified to
// a threshold switch rather than a full PID loop, since the spec only
// requires the interval to be "optionally" modulated).
func pickMode(current CompactionMode, writeAmp, target float64) CompactionMode {
	switch {
	case writeAmp > target*1.5:
		return ModeTiered // cheaper merges, trade read amplification for less rewrite
	case writeAmp < target*0.5:
		return ModeLeveled // tighten read amplification now that writes are cheap
	default:
		return current
	}
}

func (j *compactionJob) String() string {
	return fmt.Sprintf("L%d->L%d (%d inputs, priority %d)", j.level, j.outputLevel, len(j.inputs), j.priority)
}
