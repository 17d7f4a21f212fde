package diskmgr

import (
	"sort"
	"sync"

	"github.com/coredb/engine/internal/page"
)

// defaultFlushThreshold is the dirty-page count that triggers an automatic
// flush of the write-behind buffer (spec §4.4).
const defaultFlushThreshold = 32

// dirtyPage pairs a page ID with its latest in-memory image.
type dirtyPage struct {
	id  page.ID
	buf []byte
}

// writeBehindBuffer accumulates dirty page images until they are flushed to
// the underlying file, batching sequential writes.
type writeBehindBuffer struct {
	mu        sync.Mutex
	dirty     map[page.ID][]byte
	threshold int
}

func newWriteBehindBuffer(threshold int) *writeBehindBuffer {
	if threshold <= 0 {
		threshold = defaultFlushThreshold
	}
	return &writeBehindBuffer{dirty: make(map[page.ID][]byte), threshold: threshold}
}

// add records buf as the latest image for id. Reports whether the buffer
// has reached its flush threshold.
func (w *writeBehindBuffer) add(id page.ID, buf []byte) (shouldFlush bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty[id] = buf
	return len(w.dirty) >= w.threshold
}

// getFlushBatch drains the buffer and returns its contents sorted by page
// ID, so the caller can issue sequential writes.
func (w *writeBehindBuffer) getFlushBatch() []dirtyPage {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := make([]dirtyPage, 0, len(w.dirty))
	for id, buf := range w.dirty {
		batch = append(batch, dirtyPage{id: id, buf: buf})
	}
	w.dirty = make(map[page.ID][]byte)
	sort.Slice(batch, func(i, j int) bool { return batch[i].id < batch[j].id })
	return batch
}

// discard drops any buffered image for id without writing it, for callers
// that just wrote id's current image straight to disk and need the
// buffer to stop believing it still owes that write.
func (w *writeBehindBuffer) discard(id page.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.dirty, id)
}

func (w *writeBehindBuffer) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirty)
}
