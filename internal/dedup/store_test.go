package dedup

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/coredb/engine/internal/coreerr"
)

func TestDeduplicateRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	rnd := rand.New(rand.NewSource(1))
	data := make([]byte, 300<<10)
	rnd.Read(data)

	cm, unique, dup := s.Deduplicate(data, DefaultParams())
	if unique == 0 {
		t.Fatalf("Deduplicate() unique = 0, want > 0")
	}
	if dup != 0 {
		t.Fatalf("Deduplicate() on first call duplicateCount = %d, want 0", dup)
	}

	restored, err := s.Restore(cm)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Fatalf("Restore() did not reproduce original data")
	}
}

func TestDeduplicateDetectsRepeatedContent(t *testing.T) {
	s := NewStore()
	block := bytes.Repeat([]byte{0x42}, 100<<10)
	doc := append(append([]byte{}, block...), block...)

	cm, unique, dup := s.Deduplicate(doc, DefaultParams())
	if dup == 0 {
		t.Fatalf("Deduplicate() on a doubled document duplicateCount = 0, want > 0")
	}
	if unique+dup != len(cm.Hashes) {
		t.Fatalf("unique(%d)+duplicate(%d) != len(Hashes)(%d)", unique, dup, len(cm.Hashes))
	}
}

func TestGCRemovesOnlyUnreferencedChunks(t *testing.T) {
	s := NewStore()
	data := bytes.Repeat([]byte{0x11, 0x22, 0x33}, 50<<10)
	cm, _, _ := s.Deduplicate(data, DefaultParams())

	before := s.ChunkCount()
	if removed := s.GC(); removed != 0 {
		t.Fatalf("GC() before Release removed %d chunks, want 0 (still referenced)", removed)
	}

	s.Release(cm)
	removed := s.GC()
	if removed != before {
		t.Fatalf("GC() after Release removed %d, want %d", removed, before)
	}
	if s.ChunkCount() != 0 {
		t.Fatalf("ChunkCount() after GC = %d, want 0", s.ChunkCount())
	}

	if _, err := s.Restore(cm); !coreerr.Is(err, coreerr.KindNotFound) {
		t.Fatalf("Restore() after GC error = %v, want KindNotFound", err)
	}
}
