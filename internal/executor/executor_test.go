package executor

import (
	"testing"

	"github.com/coredb/engine/internal/catalog"
	"github.com/coredb/engine/internal/lsm"
	"github.com/coredb/engine/internal/txn"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	cat := catalog.New()
	if err := cat.CreateTable("users", catalog.Schema{PrimaryKey: "id"}); err != nil {
		t.Fatalf("CreateTable() error: %v", err)
	}
	store, err := lsm.Open(lsm.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("lsm.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(cat, txn.New(txn.Config{}), store)
}

func TestExecutePutThenGet(t *testing.T) {
	e := newTestExecutor(t)

	putResult, err := e.Execute(Statement{Kind: OpPut, Table: "users", Key: "42", Value: []byte("alice")})
	if err != nil {
		t.Fatalf("Execute(Put) error: %v", err)
	}
	if putResult.RowsAffected != 1 {
		t.Fatalf("Put RowsAffected = %d, want 1", putResult.RowsAffected)
	}

	getResult, err := e.Execute(Statement{Kind: OpGet, Table: "users", Key: "42"})
	if err != nil {
		t.Fatalf("Execute(Get) error: %v", err)
	}
	if len(getResult.Rows) != 1 || getResult.Rows[0][0] != "alice" {
		t.Fatalf("Get rows = %v, want [[alice]]", getResult.Rows)
	}
}

func TestExecuteGetMissingKey(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.Execute(Statement{Kind: OpGet, Table: "users", Key: "absent"})
	if err != nil {
		t.Fatalf("Execute(Get) error: %v", err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("Get rows = %v, want empty", result.Rows)
	}
}

func TestExecuteDeleteHidesKey(t *testing.T) {
	e := newTestExecutor(t)
	if _, err := e.Execute(Statement{Kind: OpPut, Table: "users", Key: "1", Value: []byte("v1")}); err != nil {
		t.Fatalf("Execute(Put) error: %v", err)
	}
	if _, err := e.Execute(Statement{Kind: OpDelete, Table: "users", Key: "1"}); err != nil {
		t.Fatalf("Execute(Delete) error: %v", err)
	}
	result, err := e.Execute(Statement{Kind: OpGet, Table: "users", Key: "1"})
	if err != nil {
		t.Fatalf("Execute(Get) error: %v", err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("Get after delete rows = %v, want empty", result.Rows)
	}
}

func TestExecuteScanReturnsRange(t *testing.T) {
	e := newTestExecutor(t)
	for _, kv := range []struct{ k, v string }{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		if _, err := e.Execute(Statement{Kind: OpPut, Table: "users", Key: kv.k, Value: []byte(kv.v)}); err != nil {
			t.Fatalf("Execute(Put %q) error: %v", kv.k, err)
		}
	}
	result, err := e.Execute(Statement{Kind: OpScan, Table: "users", Key: "a", RangeEnd: "z"})
	if err != nil {
		t.Fatalf("Execute(Scan) error: %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("Scan rows = %v, want 3 entries", result.Rows)
	}
}

func TestExecuteUnknownTableFails(t *testing.T) {
	e := newTestExecutor(t)
	if _, err := e.Execute(Statement{Kind: OpGet, Table: "ghost", Key: "1"}); err == nil {
		t.Fatalf("Execute() on unknown table succeeded, want NotFound")
	}
}
