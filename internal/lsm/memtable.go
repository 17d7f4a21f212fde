// Package lsm implements the log-structured merge key-value subsystem
// (spec component C6): memtables, immutable SSTables, leveled/tiered/hybrid
// compaction, and bloom filters, generalizing the read/write path shape of
// the retrieval pack's LSM example repos onto this module's page and
// lock-free primitives.
package lsm

import (
	"sync/atomic"

	"github.com/coredb/engine/internal/epoch"
	"github.com/coredb/engine/internal/lockfree"
)

// entry is the value half of a memtable/SSTable record (spec §6's
// "Values carry {version, is_tombstone}").
type entry struct {
	value     []byte
	version   uint64
	tombstone bool
}

// memtable is the active, mutable ordered map (I-M1: exactly one memtable
// accepts writes at a time). It is backed by the lock-free skip list from
// C2; Engine.write still serializes puts under the engine mutex, so
// concurrent writers wait for one another.
type memtable struct {
	id       uint64
	skiplist *lockfree.SkipList[string, entry]
	size     atomic.Int64 // approximate resident bytes, for the size budget
}

func newMemtable(id uint64, domain *epoch.Domain) *memtable {
	return &memtable{id: id, skiplist: lockfree.NewSkipList[string, entry](domain)}
}

// put inserts or overwrites key, returning the new approximate size.
func (m *memtable) put(key string, e entry) int64 {
	delta := int64(len(key) + len(e.value) + 16)
	m.skiplist.Insert(key, e)
	return m.size.Add(delta)
}

func (m *memtable) get(key string) (entry, bool) {
	return m.skiplist.Find(key)
}

func (m *memtable) sizeBytes() int64 { return m.size.Load() }

// snapshot returns every live entry in ascending key order, for flushing to
// an SSTable. Deleted (tombstoned) entries are included so tombstones
// survive the flush and can shadow older SSTable values.
func (m *memtable) snapshot() []kv {
	out := make([]kv, 0, 64)
	m.skiplist.Range(func(k string, e entry) bool {
		out = append(out, kv{key: k, entry: e})
		return true
	})
	return out
}

type kv struct {
	key   string
	entry entry
}
