package dedup

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/coredb/engine/internal/coreerr"
)

// ChunkMap is the ordered list of chunk hashes a document was split into;
// Restore concatenates the referenced chunks in this order.
type ChunkMap struct {
	Hashes []uint64
}

type storedChunk struct {
	data []byte
	refs int
}

// Store is a reference-counted content-addressed chunk store.
type Store struct {
	mu     sync.Mutex
	chunks map[uint64]*storedChunk
}

// NewStore creates an empty chunk store.
func NewStore() *Store {
	return &Store{chunks: make(map[uint64]*storedChunk)}
}

// Deduplicate splits data into content-defined chunks and stores each
// unique one (by xxHash) exactly once, incrementing its reference count
// on every occurrence — including repeats within the same call. Returns
// the ChunkMap needed to Restore data, plus the count of chunks that were
// newly stored versus already present.
func (s *Store) Deduplicate(data []byte, p Params) (cm ChunkMap, uniqueCount, duplicateCount int) {
	bounds := boundaries(data, p)
	cm.Hashes = make([]uint64, 0, len(bounds))

	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	for _, end := range bounds {
		chunk := data[start:end]
		start = end
		h := xxhash.Sum64(chunk)
		cm.Hashes = append(cm.Hashes, h)

		if c, ok := s.chunks[h]; ok {
			c.refs++
			duplicateCount++
			continue
		}
		stored := make([]byte, len(chunk))
		copy(stored, chunk)
		s.chunks[h] = &storedChunk{data: stored, refs: 1}
		uniqueCount++
	}
	return cm, uniqueCount, duplicateCount
}

// Restore reconstructs the original byte stream by concatenating cm's
// chunks in order. Fails with NotFound if a referenced chunk was garbage
// collected.
func (s *Store) Restore(cm ChunkMap) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	chunks := make([][]byte, len(cm.Hashes))
	for i, h := range cm.Hashes {
		c, ok := s.chunks[h]
		if !ok {
			return nil, coreerr.New(coreerr.KindNotFound, "dedup.Restore", errChunkMissing)
		}
		chunks[i] = c.data
		total += len(c.data)
	}

	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

// Release decrements the reference count of every chunk in cm, making
// chunks with no remaining references eligible for GC. Call this once per
// ChunkMap that is no longer needed (e.g. the document it represents was
// deleted).
func (s *Store) Release(cm ChunkMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range cm.Hashes {
		if c, ok := s.chunks[h]; ok {
			c.refs--
		}
	}
}

// GC removes every chunk whose reference count has reached zero or below,
// returning the count of chunks removed.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for h, c := range s.chunks {
		if c.refs <= 0 {
			delete(s.chunks, h)
			removed++
		}
	}
	return removed
}

// ChunkCount returns the number of distinct chunks currently stored.
func (s *Store) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}
