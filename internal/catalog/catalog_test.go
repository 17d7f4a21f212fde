package catalog

import (
	"testing"

	"github.com/coredb/engine/internal/coreerr"
)

func TestCreateGetDropTable(t *testing.T) {
	c := New()
	schema := Schema{
		Columns:    []Column{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT", Nullable: true}},
		PrimaryKey: "id",
	}
	if err := c.CreateTable("users", schema); err != nil {
		t.Fatalf("CreateTable() error: %v", err)
	}

	got, err := c.GetTable("users")
	if err != nil {
		t.Fatalf("GetTable() error: %v", err)
	}
	if len(got.Columns) != 2 || got.PrimaryKey != "id" {
		t.Fatalf("GetTable() = %+v, want schema with 2 columns and pk id", got)
	}

	if err := c.DropTable("users"); err != nil {
		t.Fatalf("DropTable() error: %v", err)
	}
	if _, err := c.GetTable("users"); !coreerr.Is(err, coreerr.KindNotFound) {
		t.Fatalf("GetTable() after drop error = %v, want KindNotFound", err)
	}
}

func TestCreateTableAlreadyExists(t *testing.T) {
	c := New()
	if err := c.CreateTable("t", Schema{}); err != nil {
		t.Fatalf("CreateTable() error: %v", err)
	}
	if err := c.CreateTable("t", Schema{}); !coreerr.Is(err, coreerr.KindAlreadyExists) {
		t.Fatalf("second CreateTable() error = %v, want KindAlreadyExists", err)
	}
}

func TestDropTableNotFound(t *testing.T) {
	c := New()
	if err := c.DropTable("ghost"); !coreerr.Is(err, coreerr.KindNotFound) {
		t.Fatalf("DropTable(ghost) error = %v, want KindNotFound", err)
	}
}

func TestListTablesSorted(t *testing.T) {
	c := New()
	for _, name := range []string{"zebra", "apple", "mango"} {
		if err := c.CreateTable(name, Schema{}); err != nil {
			t.Fatalf("CreateTable(%q) error: %v", name, err)
		}
	}
	got := c.ListTables()
	want := []string{"apple", "mango", "zebra"}
	if len(got) != len(want) {
		t.Fatalf("ListTables() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListTables() = %v, want %v", got, want)
		}
	}
}

// TestSnapshotIsolatedFromConcurrentMutation confirms the RCU contract: a
// Schema value returned by GetTable before a later CreateTable/DropTable
// is unaffected by that mutation (spec §4.10 "reads are RCU-style through
// a cloneable snapshot").
func TestSnapshotIsolatedFromConcurrentMutation(t *testing.T) {
	c := New()
	if err := c.CreateTable("a", Schema{PrimaryKey: "id"}); err != nil {
		t.Fatalf("CreateTable() error: %v", err)
	}
	before, err := c.GetTable("a")
	if err != nil {
		t.Fatalf("GetTable() error: %v", err)
	}

	if err := c.CreateTable("b", Schema{PrimaryKey: "id2"}); err != nil {
		t.Fatalf("CreateTable() error: %v", err)
	}
	if err := c.DropTable("a"); err != nil {
		t.Fatalf("DropTable() error: %v", err)
	}

	if before.PrimaryKey != "id" {
		t.Fatalf("previously-returned snapshot mutated: PrimaryKey = %q, want id", before.PrimaryKey)
	}
}
