package diskmgr

import (
	"sync"

	"github.com/coredb/engine/internal/page"
)

// defaultReadAheadWindow bounds how many recent accesses are remembered for
// sequential-pattern detection.
const defaultReadAheadWindow = 8

// defaultSequentialPrefetch is the number of pages prefetched once a
// monotonic +1 access pattern is detected (spec §4.4).
const defaultSequentialPrefetch = 4

// readAheadBuffer tracks recent page accesses and predicts which pages to
// prefetch next, and caches prefetched bytes until they are consumed.
type readAheadBuffer struct {
	mu       sync.Mutex
	window   []page.ID
	prefetch map[page.ID][]byte
	hits     uint64
	misses   uint64
}

func newReadAheadBuffer() *readAheadBuffer {
	return &readAheadBuffer{prefetch: make(map[page.ID][]byte)}
}

// observe records an access and returns the page IDs that should be
// prefetched as a consequence.
func (r *readAheadBuffer) observe(id page.ID) []page.ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.window = append(r.window, id)
	if len(r.window) > defaultReadAheadWindow {
		r.window = r.window[len(r.window)-defaultReadAheadWindow:]
	}

	if r.sequentialLocked() {
		out := make([]page.ID, 0, defaultSequentialPrefetch)
		for i := 1; i <= defaultSequentialPrefetch; i++ {
			out = append(out, id+page.ID(i))
		}
		return out
	}
	return []page.ID{id + 1}
}

func (r *readAheadBuffer) sequentialLocked() bool {
	if len(r.window) < 2 {
		return false
	}
	for i := 1; i < len(r.window); i++ {
		if r.window[i] != r.window[i-1]+1 {
			return false
		}
	}
	return true
}

// store caches prefetched bytes for id.
func (r *readAheadBuffer) store(id page.ID, buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefetch[id] = buf
}

// take returns and removes cached prefetched bytes for id, if present,
// incrementing hit/miss statistics.
func (r *readAheadBuffer) take(id page.ID) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.prefetch[id]
	if ok {
		delete(r.prefetch, id)
		r.hits++
	} else {
		r.misses++
	}
	return buf, ok
}

func (r *readAheadBuffer) stats() (hits, misses uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits, r.misses
}
