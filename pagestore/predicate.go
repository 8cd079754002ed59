// Predicate evaluation at the storage layer: a conjunctive (AND-only)
// list of column-vs-literal conditions (spec §4.2). The richer condition
// shapes (column~column, value~column) live one layer up in the operator
// engine's Filter node (package exec); the storage engine only needs to
// push simple equality/range conditions down to a scan or a hash lookup.
package pagestore

import (
	"strings"

	"github.com/jpl-au/minirel/errs"
)

// CompareOp is the ordering relation spec §4.2 allows.
type CompareOp int

const (
	Eq CompareOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// Condition is one column-vs-literal test.
type Condition struct {
	Column  string
	Op      CompareOp
	Literal Value
}

// Predicate is a conjunction (AND) of Conditions. A nil/empty predicate
// matches every row.
type Predicate []Condition

// Matches evaluates p against row, coercing each condition's literal to
// the column's declared type before comparing.
func (p Predicate) Matches(schema Schema, row Row) (bool, error) {
	for _, c := range p {
		ok, err := evalCondition(schema, row, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalCondition(schema Schema, row Row, c Condition) (bool, error) {
	col, _, found := schema.ColumnByName(c.Column)
	if !found {
		return false, errs.New(errs.SchemaMismatch, "unknown column in predicate: "+c.Column)
	}
	lhs, ok := row.Values[c.Column]
	if !ok {
		return false, errs.New(errs.SchemaMismatch, "row missing column: "+c.Column)
	}

	switch col.Type {
	case TypeInt:
		l, ok := toInt32(lhs)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "row value not int for "+c.Column)
		}
		r, ok := toInt32(c.Literal)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "predicate literal not int for "+c.Column)
		}
		return compareOrdered(int64(l), int64(r), c.Op), nil
	case TypeFloat:
		l, ok := toFloat32(lhs)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "row value not float for "+c.Column)
		}
		r, ok := toFloat32(c.Literal)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "predicate literal not float for "+c.Column)
		}
		return compareFloat(float64(l), float64(r), c.Op), nil
	case TypeString:
		l, ok := lhs.(string)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "row value not string for "+c.Column)
		}
		r, ok := c.Literal.(string)
		if !ok {
			return false, errs.New(errs.SchemaMismatch, "predicate literal not string for "+c.Column)
		}
		return compareStrings(l, r, c.Op), nil
	default:
		return false, errs.New(errs.InternalInvariant, "unhandled column type")
	}
}

func compareOrdered[T int64 | float64](l, r T, op CompareOp) bool {
	switch op {
	case Eq:
		return l == r
	case Ne:
		return l != r
	case Lt:
		return l < r
	case Le:
		return l <= r
	case Gt:
		return l > r
	case Ge:
		return l >= r
	}
	return false
}

func compareFloat(l, r float64, op CompareOp) bool {
	return compareOrdered(l, r, op)
}

func compareStrings(l, r string, op CompareOp) bool {
	switch op {
	case Eq:
		return strings.EqualFold(l, r)
	case Ne:
		return !strings.EqualFold(l, r)
	case Lt:
		return l < r
	case Le:
		return l <= r
	case Gt:
		return l > r
	case Ge:
		return l >= r
	}
	return false
}

// SingleEquality reports whether p is exactly one equality condition on
// column, returning its literal. Used by the storage engine to decide
// whether a hash index applies (spec §4.2).
func (p Predicate) SingleEquality(column string) (Value, bool) {
	if len(p) != 1 {
		return nil, false
	}
	if p[0].Op != Eq || p[0].Column != column {
		return nil, false
	}
	return p[0].Literal, true
}
