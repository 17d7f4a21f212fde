// Package executor implements the thin execution boundary (spec component
// C11) between a planner-produced statement and the storage/transaction
// layers: Catalog (C10), the transaction manager (C9), and the LSM engine
// (C5/C6). It owns no mutable state beyond the per-call iterator context;
// every persistent effect is applied only after the transaction manager
// reports a successful commit.
package executor

import (
	"github.com/coredb/engine/internal/catalog"
	"github.com/coredb/engine/internal/lsm"
	"github.com/coredb/engine/internal/txn"
)

// OpKind is the operation a Statement requests.
type OpKind uint8

const (
	OpGet OpKind = iota
	OpPut
	OpDelete
	OpScan
)

// Statement is a planner-produced request. The planner itself is out of
// scope for this component: callers construct Statement directly.
type Statement struct {
	Kind      OpKind
	Table     string
	Key       string
	RangeEnd  string // for OpScan
	Value     []byte // for OpPut
	Isolation txn.IsolationLevel
}

// QueryResult is the uniform result shape for every statement kind (spec
// §4.11).
type QueryResult struct {
	Columns      []string
	Rows         [][]string
	RowsAffected int
}

// Executor ties a catalog, a transaction manager, and an LSM engine
// together. It holds no per-statement state between Execute calls.
type Executor struct {
	catalog *catalog.Catalog
	txns    *txn.Manager
	store   *lsm.Engine
}

// New creates an Executor over the given catalog, transaction manager, and
// storage engine.
func New(cat *catalog.Catalog, txns *txn.Manager, store *lsm.Engine) *Executor {
	return &Executor{catalog: cat, txns: txns, store: store}
}

// resourceKey builds the lock/OCC resource identifier for a single-row
// access, and the storage engine key for the same row. Both use the
// "table:key" scheme lockmgr's escalation logic already recognizes
// (tableOf splits on the first ':').
func resourceKey(table, key string) string {
	return table + ":" + key
}

// Execute runs stmt to completion: it validates the table exists, runs a
// single transaction through the transaction manager, and applies writes
// to the storage engine only after that transaction commits (never, on
// abort). Reads record the access with the transaction manager and then
// read the storage engine before the transaction commits.
func (e *Executor) Execute(stmt Statement) (QueryResult, error) {
	if _, err := e.catalog.GetTable(stmt.Table); err != nil {
		return QueryResult{}, err
	}

	switch stmt.Kind {
	case OpGet:
		return e.executeGet(stmt)
	case OpPut:
		return e.executePut(stmt)
	case OpDelete:
		return e.executeDelete(stmt)
	case OpScan:
		return e.executeScan(stmt)
	default:
		return QueryResult{}, nil
	}
}

func (e *Executor) executeGet(stmt Statement) (QueryResult, error) {
	tx := e.txns.Begin(stmt.Isolation)
	res := resourceKey(stmt.Table, stmt.Key)

	if err := e.txns.RecordRead(tx, res); err != nil {
		e.txns.Abort(tx.ID)
		return QueryResult{}, err
	}
	value, found, err := e.store.Get(res)
	if err != nil {
		e.txns.Abort(tx.ID)
		return QueryResult{}, err
	}
	if err := e.txns.Commit(tx.ID); err != nil {
		return QueryResult{}, err
	}
	if !found {
		return QueryResult{Columns: []string{"value"}}, nil
	}
	return QueryResult{Columns: []string{"value"}, Rows: [][]string{{value}}}, nil
}

func (e *Executor) executePut(stmt Statement) (QueryResult, error) {
	tx := e.txns.Begin(stmt.Isolation)
	res := resourceKey(stmt.Table, stmt.Key)

	if err := e.txns.RecordWrite(tx, res, stmt.Value); err != nil {
		e.txns.Abort(tx.ID)
		return QueryResult{}, err
	}
	if err := e.txns.Commit(tx.ID); err != nil {
		return QueryResult{}, err
	}
	if err := e.store.Put(res, string(stmt.Value)); err != nil {
		return QueryResult{}, err
	}
	return QueryResult{RowsAffected: 1}, nil
}

func (e *Executor) executeDelete(stmt Statement) (QueryResult, error) {
	tx := e.txns.Begin(stmt.Isolation)
	res := resourceKey(stmt.Table, stmt.Key)

	if err := e.txns.RecordWrite(tx, res, nil); err != nil {
		e.txns.Abort(tx.ID)
		return QueryResult{}, err
	}
	if err := e.txns.Commit(tx.ID); err != nil {
		return QueryResult{}, err
	}
	if err := e.store.Delete(res); err != nil {
		return QueryResult{}, err
	}
	return QueryResult{RowsAffected: 1}, nil
}

func (e *Executor) executeScan(stmt Statement) (QueryResult, error) {
	tx := e.txns.Begin(stmt.Isolation)

	// Scans take a coarse, table-level lock/read record rather than one
	// per key: the resource has no ':' so lockmgr treats it as table-level.
	if err := e.txns.RecordRead(tx, stmt.Table); err != nil {
		e.txns.Abort(tx.ID)
		return QueryResult{}, err
	}

	start := resourceKey(stmt.Table, stmt.Key)
	end := resourceKey(stmt.Table, stmt.RangeEnd)
	results, err := e.store.Scan(start, end)
	if err != nil {
		e.txns.Abort(tx.ID)
		return QueryResult{}, err
	}
	if err := e.txns.Commit(tx.ID); err != nil {
		return QueryResult{}, err
	}

	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{r.Key, r.Value}
	}
	return QueryResult{Columns: []string{"key", "value"}, Rows: rows}, nil
}
