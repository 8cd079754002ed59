package plan

import "testing"

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	orig := &Node{
		Kind:  Filter,
		Table: "students",
		FilterConditions: []Condition{
			{Shape: ColumnValue, Left: "age", Op: Gt, Value: int32(30)},
		},
		Input: &Node{
			Kind:           TableScan,
			Table:          "students",
			ProjectColumns: []string{"id", "name"},
		},
	}

	clone := Clone(orig)
	clone.FilterConditions[0].Value = int32(99)
	clone.Input.ProjectColumns[0] = "changed"
	clone.Input.Table = "mutated"

	if orig.FilterConditions[0].Value != int32(30) {
		t.Fatalf("mutating clone leaked into original condition: %+v", orig.FilterConditions[0])
	}
	if orig.Input.ProjectColumns[0] != "id" {
		t.Fatalf("mutating clone leaked into original project columns: %+v", orig.Input.ProjectColumns)
	}
	if orig.Input.Table != "students" {
		t.Fatalf("mutating clone leaked into original table: %q", orig.Input.Table)
	}
}

func TestCloneOfNilIsNil(t *testing.T) {
	if Clone(nil) != nil {
		t.Fatal("expected nil clone of nil node")
	}
}
