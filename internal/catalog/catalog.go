// Package catalog implements the system catalog (spec component C10): an
// in-memory table_name -> Schema map with create/drop/get/list operations.
// Generalizes tinySQL's storage.CatalogManager (RegisterTable/GetTables/
// GetColumns under one sync.RWMutex) into an RCU-style reader path: writes
// are serialized by an internal lock and build a fresh snapshot; reads load
// an atomic.Pointer with no locking at all.
package catalog

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/coredb/engine/internal/coreerr"
)

// Column describes one column of a table schema.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  *string
}

// Schema is the metadata registered for one table.
type Schema struct {
	Columns    []Column
	PrimaryKey string
	Indexes    []string
}

// clone returns a deep-enough copy of s for safe storage in a new
// snapshot (columns/indexes slices are not mutated in place elsewhere, but
// copying keeps callers who hold a returned Schema safe against any future
// in-place edits here).
func (s Schema) clone() Schema {
	cols := make([]Column, len(s.Columns))
	copy(cols, s.Columns)
	idx := make([]string, len(s.Indexes))
	copy(idx, s.Indexes)
	return Schema{Columns: cols, PrimaryKey: s.PrimaryKey, Indexes: idx}
}

// snapshot is one immutable generation of the catalog's table map. Readers
// load a *snapshot via atomic.Pointer and never see a partially-updated
// map (spec §4.10 "reads are RCU-style through a cloneable snapshot").
type snapshot struct {
	tables map[string]Schema
}

func (s *snapshot) cloneMap() map[string]Schema {
	next := make(map[string]Schema, len(s.tables)+1)
	for k, v := range s.tables {
		next[k] = v
	}
	return next
}

// Catalog is the system catalog: table_name -> Schema.
type Catalog struct {
	writeMu sync.Mutex // serializes mutations (spec §4.10 "internal write lock")
	current atomic.Pointer[snapshot]
}

// New creates an empty catalog.
func New() *Catalog {
	c := &Catalog{}
	c.current.Store(&snapshot{tables: make(map[string]Schema)})
	return c
}

// CreateTable registers name under schema. Fails with AlreadyExists if the
// name is already registered.
func (c *Catalog) CreateTable(name string, schema Schema) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.current.Load()
	if _, ok := old.tables[name]; ok {
		return coreerr.New(coreerr.KindAlreadyExists, "catalog.CreateTable", fmt.Errorf("table %q already exists", name))
	}

	next := old.cloneMap()
	next[name] = schema.clone()
	c.current.Store(&snapshot{tables: next})
	return nil
}

// DropTable removes name from the catalog. Fails with NotFound if it was
// never registered.
func (c *Catalog) DropTable(name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.current.Load()
	if _, ok := old.tables[name]; !ok {
		return coreerr.New(coreerr.KindNotFound, "catalog.DropTable", fmt.Errorf("table %q not found", name))
	}

	next := old.cloneMap()
	delete(next, name)
	c.current.Store(&snapshot{tables: next})
	return nil
}

// GetTable returns name's schema. Fails with NotFound if it was never
// registered. Safe to call concurrently with CreateTable/DropTable: it
// always observes one complete, consistent snapshot.
func (c *Catalog) GetTable(name string) (Schema, error) {
	snap := c.current.Load()
	s, ok := snap.tables[name]
	if !ok {
		return Schema{}, coreerr.New(coreerr.KindNotFound, "catalog.GetTable", fmt.Errorf("table %q not found", name))
	}
	return s, nil
}

// ListTables returns every registered table name, sorted.
func (c *Catalog) ListTables() []string {
	snap := c.current.Load()
	names := make([]string, 0, len(snap.tables))
	for name := range snap.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
