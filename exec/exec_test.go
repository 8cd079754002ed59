package exec

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/jpl-au/minirel/lockmgr"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/plan"
	"github.com/jpl-au/minirel/txn"
	"github.com/jpl-au/minirel/wal"
)

func newTestContext(t *testing.T, schemas ...pagestore.Schema) *Context {
	t.Helper()
	dir := t.TempDir()
	store, err := pagestore.Open(dir, pagestore.Config{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, s := range schemas {
		if err := store.CreateTable(s); err != nil {
			t.Fatalf("create table %s: %v", s.TableName, err)
		}
	}

	logMgr, err := wal.Open(dir, wal.Config{CheckpointInterval: 1000, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { logMgr.Close() })

	locks := lockmgr.New(zerolog.Nop())
	core := txn.New(locks, logMgr, store, zerolog.Nop())

	txnID, err := core.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { core.Commit(txnID) })

	return &Context{Txn: txnID, Core: core, Store: store}
}

func employeesSchema() pagestore.Schema {
	return pagestore.Schema{
		TableName: "employees",
		Columns: []pagestore.Column{
			{Name: "id", Type: pagestore.TypeInt, Length: 4},
			{Name: "dept_id", Type: pagestore.TypeInt, Length: 4},
			{Name: "name", Type: pagestore.TypeString, Length: 32},
		},
	}
}

func departmentsSchema() pagestore.Schema {
	return pagestore.Schema{
		TableName: "departments",
		Columns: []pagestore.Column{
			{Name: "id", Type: pagestore.TypeInt, Length: 4},
			{Name: "name", Type: pagestore.TypeString, Length: 32},
		},
	}
}

func collect(t *testing.T, seq func(func(Row, error) bool)) []Row {
	t.Helper()
	var rows []Row
	for row, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rows = append(rows, row)
	}
	return rows
}

func insertEmployee(t *testing.T, ctx *Context, id, dept int32, name string) {
	t.Helper()
	if _, err := ctx.Core.Insert(ctx.Txn, "employees", map[string]pagestore.Value{
		"id": id, "dept_id": dept, "name": name,
	}); err != nil {
		t.Fatalf("insert employee: %v", err)
	}
}

func insertDepartment(t *testing.T, ctx *Context, id int32, name string) {
	t.Helper()
	if _, err := ctx.Core.Insert(ctx.Txn, "departments", map[string]pagestore.Value{
		"id": id, "name": name,
	}); err != nil {
		t.Fatalf("insert department: %v", err)
	}
}

func TestTableScanQualifiesColumns(t *testing.T) {
	ctx := newTestContext(t, employeesSchema())
	insertEmployee(t, ctx, 1, 10, "ada")

	node := &plan.Node{Kind: plan.TableScan, Table: "employees"}
	rows := collect(t, Run(node, ctx))
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Values["employees.name"] != "ada" {
		t.Fatalf("expected qualified column, got %+v", rows[0].Values)
	}
}

func TestFilterColumnValue(t *testing.T) {
	ctx := newTestContext(t, employeesSchema())
	insertEmployee(t, ctx, 1, 10, "ada")
	insertEmployee(t, ctx, 2, 20, "grace")

	node := &plan.Node{
		Kind:  plan.Filter,
		Input: &plan.Node{Kind: plan.TableScan, Table: "employees"},
		FilterConditions: []plan.Condition{
			{Shape: plan.ColumnValue, Left: "employees.dept_id", Op: plan.Eq, Value: int32(20)},
		},
	}
	rows := collect(t, Run(node, ctx))
	if len(rows) != 1 || rows[0].Values["employees.name"] != "grace" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestIndexSeekUsesStoragePredicate(t *testing.T) {
	ctx := newTestContext(t, employeesSchema())
	if err := ctx.Store.SetIndex("employees", "id"); err != nil {
		t.Fatalf("set index: %v", err)
	}
	insertEmployee(t, ctx, 1, 10, "ada")
	insertEmployee(t, ctx, 2, 20, "grace")

	node := &plan.Node{
		Kind:           plan.IndexSeek,
		Table:          "employees",
		SeekConditions: []plan.Condition{{Shape: plan.ColumnValue, Left: "id", Op: plan.Eq, Value: int32(2)}},
	}
	rows := collect(t, Run(node, ctx))
	if len(rows) != 1 || rows[0].Values["employees.name"] != "grace" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestProjectRaisesOnMissingColumn(t *testing.T) {
	ctx := newTestContext(t, employeesSchema())
	insertEmployee(t, ctx, 1, 10, "ada")

	node := &plan.Node{
		Kind:           plan.Project,
		Input:          &plan.Node{Kind: plan.TableScan, Table: "employees"},
		ProjectColumns: []string{"nonexistent"},
	}
	var sawErr bool
	for _, err := range Run(node, ctx) {
		if err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatal("expected an error for a missing projected column")
	}
}

func TestSortAscendingCachesResult(t *testing.T) {
	ctx := newTestContext(t, employeesSchema())
	insertEmployee(t, ctx, 1, 10, "grace")
	insertEmployee(t, ctx, 2, 20, "ada")

	node := &plan.Node{
		Kind:     plan.Sort,
		Input:    &plan.Node{Kind: plan.TableScan, Table: "employees"},
		SortKeys: []plan.SortKey{{Column: "employees.name"}},
	}
	rows := collect(t, Run(node, ctx))
	if len(rows) != 2 || rows[0].Values["employees.name"] != "ada" || rows[1].Values["employees.name"] != "grace" {
		t.Fatalf("unexpected order: %+v", rows)
	}
	if node.SortCache == nil {
		t.Fatal("expected Sort to cache its materialized result on the node")
	}
}

func TestNestedLoopInnerJoin(t *testing.T) {
	ctx := newTestContext(t, employeesSchema(), departmentsSchema())
	insertDepartment(t, ctx, 10, "engineering")
	insertDepartment(t, ctx, 20, "sales")
	insertEmployee(t, ctx, 1, 10, "ada")
	insertEmployee(t, ctx, 2, 99, "orphan")

	node := &plan.Node{
		Kind:         plan.Join,
		Algorithm:    plan.NestedLoop,
		Mode:         plan.Inner,
		Input:        &plan.Node{Kind: plan.TableScan, Table: "employees"},
		Right:        &plan.Node{Kind: plan.TableScan, Table: "departments"},
		LeftJoinKey:  "employees.dept_id",
		RightJoinKey: "departments.id",
	}
	rows := collect(t, Run(node, ctx))
	if len(rows) != 1 {
		t.Fatalf("expected 1 matching row, got %d: %+v", len(rows), rows)
	}
	if rows[0].Values["departments.name"] != "engineering" {
		t.Fatalf("unexpected join result: %+v", rows[0].Values)
	}
}

func TestHashJoinLeftOuterPadsUnmatched(t *testing.T) {
	ctx := newTestContext(t, employeesSchema(), departmentsSchema())
	insertDepartment(t, ctx, 10, "engineering")
	insertEmployee(t, ctx, 1, 10, "ada")
	insertEmployee(t, ctx, 2, 99, "orphan")

	node := &plan.Node{
		Kind:         plan.Join,
		Algorithm:    plan.Hash,
		Mode:         plan.Left,
		Input:        &plan.Node{Kind: plan.TableScan, Table: "employees"},
		Right:        &plan.Node{Kind: plan.TableScan, Table: "departments"},
		LeftJoinKey:  "employees.dept_id",
		RightJoinKey: "departments.id",
	}
	rows := collect(t, Run(node, ctx))
	if len(rows) != 2 {
		t.Fatalf("expected both employees represented, got %d: %+v", len(rows), rows)
	}
	var sawNullPad bool
	for _, r := range rows {
		if r.Values["employees.name"] == "orphan" && r.Values["departments.name"] == nil {
			sawNullPad = true
		}
	}
	if !sawNullPad {
		t.Fatalf("expected the unmatched employee to be padded with a null department: %+v", rows)
	}
}

func TestInsertUpdateDeleteRoundTrip(t *testing.T) {
	ctx := newTestContext(t, employeesSchema())

	insertNode := &plan.Node{
		Kind:          plan.Insert,
		Table:         "employees",
		InsertColumns: []string{"id", "dept_id", "name"},
		InsertLiteral: []map[string]any{{"id": int32(1), "dept_id": int32(10), "name": "ada"}},
	}
	inserted := collect(t, Run(insertNode, ctx))
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted row, got %d", len(inserted))
	}

	updateNode := &plan.Node{
		Kind:        plan.Update,
		Table:       "employees",
		Input:       &plan.Node{Kind: plan.TableScan, Table: "employees"},
		Assignments: map[string]string{"dept_id": "20"},
	}
	updated := collect(t, Run(updateNode, ctx))
	if len(updated) != 1 || updated[0].Values["employees.dept_id"] != int32(20) {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	row, ok, err := ctx.Store.RowByID("employees", updated[0].ID)
	if err != nil || !ok {
		t.Fatalf("row missing after update: ok=%v err=%v", ok, err)
	}
	if row.Values["dept_id"] != int32(20) {
		t.Fatalf("storage not updated: %+v", row.Values)
	}

	deleteNode := &plan.Node{
		Kind:  plan.Delete,
		Table: "employees",
		Input: &plan.Node{Kind: plan.TableScan, Table: "employees"},
	}
	deleted := collect(t, Run(deleteNode, ctx))
	if len(deleted) != 1 {
		t.Fatalf("expected 1 deleted row, got %d", len(deleted))
	}
	if _, ok, _ := ctx.Store.RowByID("employees", updated[0].ID); ok {
		t.Fatal("row should no longer exist after delete")
	}
}

// TestInsertSelectStreamsSourceRowsIntoTarget proves an Insert node
// sourced by a sub-select (n.Input set, InsertLiteral nil) actually
// inserts one row per source row instead of the silent no-op that
// followed from never reading InsertSelect at all.
func TestInsertSelectStreamsSourceRowsIntoTarget(t *testing.T) {
	ctx := newTestContext(t, employeesSchema(), departmentsSchema())
	insertEmployee(t, ctx, 1, 10, "ada")
	insertEmployee(t, ctx, 2, 20, "grace")

	insertSelectNode := &plan.Node{
		Kind:                plan.Insert,
		Table:               "departments",
		InsertColumns:       []string{"id", "name"},
		InsertSelectColumns: []string{"dept_id", "name"},
		Input:               &plan.Node{Kind: plan.TableScan, Table: "employees"},
	}
	inserted := collect(t, Run(insertSelectNode, ctx))
	if len(inserted) != 2 {
		t.Fatalf("expected 2 rows inserted from the sub-select, got %d", len(inserted))
	}

	rows := collect(t, Run(&plan.Node{Kind: plan.TableScan, Table: "departments"}, ctx))
	if len(rows) != 2 {
		t.Fatalf("expected 2 department rows, got %d", len(rows))
	}
	var names []string
	for _, r := range rows {
		names = append(names, r.Values["departments.name"].(string))
	}
	if !(names[0] == "ada" && names[1] == "grace" || names[0] == "grace" && names[1] == "ada") {
		t.Fatalf("unexpected department names: %+v", names)
	}
}

func TestUpdateAssignmentFromStringLiteral(t *testing.T) {
	ctx := newTestContext(t, employeesSchema())
	insertEmployee(t, ctx, 1, 10, "ada")

	node := &plan.Node{
		Kind:        plan.Update,
		Table:       "employees",
		Input:       &plan.Node{Kind: plan.TableScan, Table: "employees"},
		Assignments: map[string]string{"name": "'grace'"},
	}
	rows := collect(t, Run(node, ctx))
	if len(rows) != 1 || rows[0].Values["employees.name"] != "grace" {
		t.Fatalf("unexpected update result: %+v", rows)
	}
}
