package lsm

import (
	"path/filepath"
	"testing"
)

func TestSSTableWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rows := []kv{
		{key: "a", entry: entry{value: []byte("1"), version: 1}},
		{key: "b", entry: entry{value: []byte("2"), version: 2}},
		{key: "c", entry: entry{value: []byte("3"), version: 3, tombstone: true}},
	}
	path := filepath.Join(dir, "test.sst")
	sst, err := writeSSTable(path, 1, 1, rows, 0.01)
	if err != nil {
		t.Fatalf("writeSSTable() error: %v", err)
	}

	reopened, err := openSSTable(path, 1, 1)
	if err != nil {
		t.Fatalf("openSSTable() error: %v", err)
	}
	if reopened.minKey != "a" || reopened.maxKey != "c" {
		t.Fatalf("minKey/maxKey = %q/%q, want a/c", reopened.minKey, reopened.maxKey)
	}

	v, found, err := reopened.get("b")
	if err != nil || !found {
		t.Fatalf("get(b) = %v, %v, %v", v, found, err)
	}
	if string(v.value) != "2" {
		t.Fatalf("get(b).value = %q, want 2", v.value)
	}

	v, found, err = reopened.get("c")
	if err != nil || !found || !v.tombstone {
		t.Fatalf("get(c) should return a tombstone hit, got %v, %v, %v", v, found, err)
	}

	_, found, err = reopened.get("z")
	if err != nil || found {
		t.Fatalf("get(z) should miss (outside key range)")
	}

	if sst.count != 3 {
		t.Fatalf("count = %d, want 3", sst.count)
	}
}

func TestSSTableScanAllPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	rows := []kv{
		{key: "a", entry: entry{value: []byte("1"), version: 1}},
		{key: "m", entry: entry{value: []byte("2"), version: 2}},
		{key: "z", entry: entry{value: []byte("3"), version: 3}},
	}
	path := filepath.Join(dir, "scan.sst")
	sst, err := writeSSTable(path, 0, 1, rows, 0.01)
	if err != nil {
		t.Fatalf("writeSSTable() error: %v", err)
	}

	got, err := sst.scanAll()
	if err != nil {
		t.Fatalf("scanAll() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("scanAll() returned %d rows, want 3", len(got))
	}
	for i, k := range []string{"a", "m", "z"} {
		if got[i].key != k {
			t.Fatalf("scanAll()[%d].key = %q, want %q", i, got[i].key, k)
		}
	}
}
