package txn

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/jpl-au/minirel/lockmgr"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/wal"
)

func testSchema() pagestore.Schema {
	return pagestore.Schema{
		TableName: "accounts",
		Columns: []pagestore.Column{
			{Name: "id", Type: pagestore.TypeInt, Length: 4},
			{Name: "bal", Type: pagestore.TypeInt, Length: 4},
		},
	}
}

func newTestCore(t *testing.T) (*Core, *pagestore.Engine, *wal.Manager) {
	t.Helper()
	dir := t.TempDir()
	store, err := pagestore.Open(dir, pagestore.Config{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.CreateTable(testSchema()); err != nil {
		t.Fatalf("create table: %v", err)
	}

	logMgr, err := wal.Open(dir, wal.Config{CheckpointInterval: 100, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { logMgr.Close() })

	locks := lockmgr.New(zerolog.Nop())
	return New(locks, logMgr, store, zerolog.Nop()), store, logMgr
}

func TestCommitMakesInsertDurable(t *testing.T) {
	core, store, _ := newTestCore(t)
	txn, err := core.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := core.Insert(txn, "accounts", map[string]pagestore.Value{"id": int32(1), "bal": int32(100)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := core.Commit(txn); err != nil {
		t.Fatalf("commit: %v", err)
	}

	row, ok, err := store.RowByID("accounts", id)
	if err != nil || !ok {
		t.Fatalf("row missing after commit: err=%v ok=%v", err, ok)
	}
	if row.Values["bal"] != int32(100) {
		t.Fatalf("unexpected row: %+v", row.Values)
	}
	if core.IsActive(txn) {
		t.Fatal("transaction should not be active after commit")
	}
}

func TestAbortUndoesInsert(t *testing.T) {
	core, store, _ := newTestCore(t)
	txn, _ := core.Begin()
	id, err := core.Insert(txn, "accounts", map[string]pagestore.Value{"id": int32(2), "bal": int32(50)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := core.Abort(txn); err != nil {
		t.Fatalf("abort: %v", err)
	}

	_, ok, err := store.RowByID("accounts", id)
	if err != nil {
		t.Fatalf("row by id: %v", err)
	}
	if ok {
		t.Fatal("inserted row must not survive abort")
	}
}

func TestAbortRestoresUpdateBeforeImage(t *testing.T) {
	core, store, _ := newTestCore(t)
	seed, _ := core.Begin()
	id, _ := core.Insert(seed, "accounts", map[string]pagestore.Value{"id": int32(3), "bal": int32(1000)})
	core.Commit(seed)

	txn, _ := core.Begin()
	_, err := core.Update(txn, "accounts", pagestore.Predicate{{Column: "id", Op: pagestore.Eq, Literal: int32(3)}},
		func(r pagestore.Row) map[string]pagestore.Value {
			return map[string]pagestore.Value{"id": r.Values["id"], "bal": int32(1)}
		})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := core.Abort(txn); err != nil {
		t.Fatalf("abort: %v", err)
	}

	row, ok, err := store.RowByID("accounts", id)
	if err != nil || !ok {
		t.Fatalf("row missing: err=%v ok=%v", err, ok)
	}
	if row.Values["bal"] != int32(1000) {
		t.Fatalf("expected balance restored to 1000, got %+v", row.Values)
	}
}

func TestAbortReinsertsDeletedRow(t *testing.T) {
	core, store, _ := newTestCore(t)
	seed, _ := core.Begin()
	id, _ := core.Insert(seed, "accounts", map[string]pagestore.Value{"id": int32(4), "bal": int32(7)})
	core.Commit(seed)

	txn, _ := core.Begin()
	n, err := core.Delete(txn, "accounts", pagestore.Predicate{{Column: "id", Op: pagestore.Eq, Literal: int32(4)}})
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	if err := core.Abort(txn); err != nil {
		t.Fatalf("abort: %v", err)
	}

	row, ok, err := store.RowByID("accounts", id)
	if err != nil || !ok {
		t.Fatalf("row should have been reinserted: err=%v ok=%v", err, ok)
	}
	if row.Values["bal"] != int32(7) {
		t.Fatalf("unexpected restored row: %+v", row.Values)
	}
}

// TestUpdateByIDLocksAreRowScoped proves two transactions can each hold
// an exclusive lock on a different row of the same table at once: if
// locking collapsed to table granularity, the younger transaction's
// second UpdateByID would conflict with the first's still-held lock and
// abort under wait-die even though the rows never overlap.
func TestUpdateByIDLocksAreRowScoped(t *testing.T) {
	core, _, _ := newTestCore(t)
	seed, _ := core.Begin()
	idA, _ := core.Insert(seed, "accounts", map[string]pagestore.Value{"id": int32(10), "bal": int32(1)})
	idB, _ := core.Insert(seed, "accounts", map[string]pagestore.Value{"id": int32(11), "bal": int32(2)})
	if err := core.Commit(seed); err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	older, _ := core.Begin()
	younger, _ := core.Begin()

	if err := core.UpdateByID(older, "accounts", idA, map[string]pagestore.Value{"id": int32(10), "bal": int32(100)}); err != nil {
		t.Fatalf("older lock row A: %v", err)
	}
	// Same row, younger transaction: wait-die makes the younger
	// requester die instead of waiting, so the call returns an error.
	if err := core.UpdateByID(younger, "accounts", idA, map[string]pagestore.Value{"id": int32(10), "bal": int32(200)}); err == nil {
		t.Fatal("expected a conflict locking a row another active transaction already holds exclusively")
	}
	// Different row of the same table: must NOT conflict if locking is
	// truly row-scoped.
	if err := core.UpdateByID(younger, "accounts", idB, map[string]pagestore.Value{"id": int32(11), "bal": int32(20)}); err != nil {
		t.Fatalf("expected no conflict locking a distinct row of the same table, got: %v", err)
	}
}

func TestWriteRequiresActiveTransaction(t *testing.T) {
	core, _, _ := newTestCore(t)
	txn, _ := core.Begin()
	core.Commit(txn)

	if _, err := core.Insert(txn, "accounts", map[string]pagestore.Value{"id": int32(9), "bal": int32(0)}); err == nil {
		t.Fatal("expected an error writing under a committed transaction id")
	}
}
