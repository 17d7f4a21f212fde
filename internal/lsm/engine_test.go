package lsm

import (
	"context"
	"fmt"
	"testing"
)

func openTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// TestWriteReadOvershadowAndFlush is spec §8 Scenario B, verbatim.
func TestWriteReadOvershadowAndFlush(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MemtableSizeBytes = 2048
	e := openTestEngine(t, cfg)

	mustPut(t, e, "k1", "v1")
	mustPut(t, e, "k2", "v2")
	mustPut(t, e, "k1", "v1b")

	mustGet(t, e, "k1", "v1b")
	mustGet(t, e, "k2", "v2")

	if err := e.Delete("k1"); err != nil {
		t.Fatalf("Delete(k1) error: %v", err)
	}
	mustMiss(t, e, "k1")

	if err := e.forceFlushAll(context.Background()); err != nil {
		t.Fatalf("forceFlushAll() error: %v", err)
	}
	mustMiss(t, e, "k1")

	mustPut(t, e, "k1", "v1c")
	mustGet(t, e, "k1", "v1c")
}

func mustPut(t *testing.T, e *Engine, k, v string) {
	t.Helper()
	if err := e.Put(k, v); err != nil {
		t.Fatalf("Put(%q, %q) error: %v", k, v, err)
	}
}

func mustGet(t *testing.T, e *Engine, k, want string) {
	t.Helper()
	got, found, err := e.Get(k)
	if err != nil {
		t.Fatalf("Get(%q) error: %v", k, err)
	}
	if !found || got != want {
		t.Fatalf("Get(%q) = %q, %v, want %q, true", k, got, found, want)
	}
}

func mustMiss(t *testing.T, e *Engine, k string) {
	t.Helper()
	_, found, err := e.Get(k)
	if err != nil {
		t.Fatalf("Get(%q) error: %v", k, err)
	}
	if found {
		t.Fatalf("Get(%q) found a value, want miss", k)
	}
}

func TestScanReturnsLiveKeysInOrder(t *testing.T) {
	e := openTestEngine(t, DefaultConfig(""))
	mustPut(t, e, "b", "2")
	mustPut(t, e, "a", "1")
	mustPut(t, e, "c", "3")
	if err := e.Delete("b"); err != nil {
		t.Fatalf("Delete(b) error: %v", err)
	}

	rows, err := e.Scan("", "")
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(rows) != 2 || rows[0].Key != "a" || rows[1].Key != "c" {
		t.Fatalf("Scan() = %+v, want [a c] with b tombstoned", rows)
	}
}

// TestCompactionCorrectness is a scaled-down version of spec §8 Scenario G:
// random overshadowing across many keys, then a major compaction round, and
// a check that every key reads back its last live write with no
// tombstoned key visible.
func TestCompactionCorrectness(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MemtableSizeBytes = 512 // force frequent memtable swaps
	e := openTestEngine(t, cfg)

	const numKeys = 200
	want := make(map[string]string, numKeys)
	deleted := make(map[string]bool, numKeys)

	for round := 0; round < 5; round++ {
		for i := 0; i < numKeys; i++ {
			key := fmt.Sprintf("key-%04d", i)
			if round == 3 && i%7 == 0 {
				if err := e.Delete(key); err != nil {
					t.Fatalf("Delete(%q) error: %v", key, err)
				}
				deleted[key] = true
				delete(want, key)
				continue
			}
			val := fmt.Sprintf("v-%d-%d", round, i)
			mustPut(t, e, key, val)
			want[key] = val
			delete(deleted, key)
		}
	}

	if err := e.forceFlushAll(context.Background()); err != nil {
		t.Fatalf("forceFlushAll() error: %v", err)
	}
	e.runCompactionRound()

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%04d", i)
		got, found, err := e.Get(key)
		if err != nil {
			t.Fatalf("Get(%q) error: %v", key, err)
		}
		if deleted[key] {
			if found {
				t.Fatalf("Get(%q) = %q, found after delete, want miss", key, got)
			}
			continue
		}
		if !found || got != want[key] {
			t.Fatalf("Get(%q) = %q, %v, want %q, true", key, got, found, want[key])
		}
	}
}

func TestShouldThrottleWritesAtL0Threshold(t *testing.T) {
	levels := [][]*sstable{make([]*sstable, l0SlowdownThreshold)}
	if !shouldThrottleWrites(levels) {
		t.Fatalf("shouldThrottleWrites() = false at threshold, want true")
	}
	levels = [][]*sstable{make([]*sstable, l0SlowdownThreshold-1)}
	if shouldThrottleWrites(levels) {
		t.Fatalf("shouldThrottleWrites() = true below threshold, want false")
	}
}
