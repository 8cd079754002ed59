// Evaluating plan.Condition against an in-flight Row (spec §4.7: "three
// condition shapes are supported: column~value, value~column,
// column~column"), and converting the narrower column~literal shape an
// IndexSeek leaf needs down into a pagestore.Predicate the storage
// engine can push into its hash index.
package exec

import (
	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/plan"
)

// evalCondition reports whether row satisfies c.
func evalCondition(row Row, c plan.Condition) (bool, error) {
	left, ok := lookupColumn(row, c.Left)
	if !ok {
		return false, errs.New(errs.SchemaMismatch, "unknown column in condition: "+c.Left)
	}

	switch c.Shape {
	case plan.ColumnColumn:
		right, ok := lookupColumn(row, c.Right)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "unknown column in condition: "+c.Right)
		}
		return compareValues(left, c.Op, right)
	case plan.ValueColumn:
		// Parsed from "value OP column" (e.g. "5 < age"): Left names
		// the column and Value holds the literal, but Op describes the
		// literal's relation to the column, so it must be flipped
		// before comparing column-value-first.
		return compareValues(left, flip(c.Op), c.Value)
	default: // ColumnValue
		return compareValues(left, c.Op, c.Value)
	}
}

func flip(op plan.CompareOp) plan.CompareOp {
	switch op {
	case plan.Lt:
		return plan.Gt
	case plan.Le:
		return plan.Ge
	case plan.Gt:
		return plan.Lt
	case plan.Ge:
		return plan.Le
	default:
		return op // Eq, Ne are symmetric
	}
}

// compareValues compares two column values (int32, float32, or string)
// under op. Numeric values compare by order; strings compare
// case-insensitively for equality/inequality and byte-order otherwise
// (spec §4.7: "string equality is case-insensitive; all other
// comparisons use the column's natural ordering").
func compareValues(left any, op plan.CompareOp, right any) (bool, error) {
	switch l := left.(type) {
	case int32:
		r, ok := asInt32(right)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "comparison operand type mismatch")
		}
		return compareOrdered(int64(l), int64(r), op), nil
	case float32:
		r, ok := asFloat32(right)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "comparison operand type mismatch")
		}
		return compareOrderedFloat(float64(l), float64(r), op), nil
	case string:
		r, ok := right.(string)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "comparison operand type mismatch")
		}
		return compareStrings(l, r, op), nil
	case nil:
		// A null left side (outer-join padding) matches nothing.
		return false, nil
	default:
		return false, errs.New(errs.InternalInvariant, "unsupported column value type")
	}
}

func asInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int:
		return int32(n), true
	default:
		return 0, false
	}
}

func asFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	default:
		return 0, false
	}
}

func compareOrdered(l, r int64, op plan.CompareOp) bool {
	switch op {
	case plan.Eq:
		return l == r
	case plan.Ne:
		return l != r
	case plan.Lt:
		return l < r
	case plan.Le:
		return l <= r
	case plan.Gt:
		return l > r
	case plan.Ge:
		return l >= r
	default:
		return false
	}
}

func compareOrderedFloat(l, r float64, op plan.CompareOp) bool {
	switch op {
	case plan.Eq:
		return l == r
	case plan.Ne:
		return l != r
	case plan.Lt:
		return l < r
	case plan.Le:
		return l <= r
	case plan.Gt:
		return l > r
	case plan.Ge:
		return l >= r
	default:
		return false
	}
}

func compareStrings(l, r string, op plan.CompareOp) bool {
	switch op {
	case plan.Eq:
		return equalFold(l, r)
	case plan.Ne:
		return !equalFold(l, r)
	case plan.Lt:
		return l < r
	case plan.Le:
		return l <= r
	case plan.Gt:
		return l > r
	case plan.Ge:
		return l >= r
	default:
		return false
	}
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// storagePredicate converts IndexSeek seek conditions (always
// column~value or value~column equality, spec §4.6) into the
// pagestore.Predicate the storage engine's hash index can answer
// directly.
func storagePredicate(conds []plan.Condition) (pagestore.Predicate, error) {
	out := make(pagestore.Predicate, 0, len(conds))
	for _, c := range conds {
		if c.Shape == plan.ColumnColumn {
			return nil, errs.New(errs.InternalInvariant, "a storage-pushed seek condition cannot compare two columns")
		}
		out = append(out, pagestore.Condition{
			Column:  c.Left,
			Op:      pagestore.CompareOp(c.Op),
			Literal: c.Value,
		})
	}
	return out, nil
}
