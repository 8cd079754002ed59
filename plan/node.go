// Package plan defines the physical plan tree as a closed tagged variant
// (spec §9 "Plan tree polymorphism" redesign flag): one Kind enumeration
// and one payload struct per kind, dispatched by a switch rather than by
// a hierarchy of node classes with scattered runtime type tests.
//
// A Node never holds a parent pointer (spec §9 "Cyclic references" —
// "there are no parent pointers in the plan tree; re-parent by walking
// downward"); the optimizer builds trees bottom-up and the operator
// engine walks them top-down.
package plan

// Kind is the closed set of physical plan node shapes.
type Kind int

const (
	TableScan Kind = iota
	IndexScan
	IndexSeek
	Filter
	Project
	Sort
	Aggregate
	Join
	Insert
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case TableScan:
		return "TableScan"
	case IndexScan:
		return "IndexScan"
	case IndexSeek:
		return "IndexSeek"
	case Filter:
		return "Filter"
	case Project:
		return "Project"
	case Sort:
		return "Sort"
	case Aggregate:
		return "Aggregate"
	case Join:
		return "Join"
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// JoinAlgorithm is the closed set of physical join strategies spec §4.6
// chooses between.
type JoinAlgorithm int

const (
	NestedLoop JoinAlgorithm = iota
	Hash
	Merge
	Cross
)

func (a JoinAlgorithm) String() string {
	switch a {
	case NestedLoop:
		return "NestedLoop"
	case Hash:
		return "Hash"
	case Merge:
		return "Merge"
	case Cross:
		return "Cross"
	default:
		return "Unknown"
	}
}

// JoinMode is the closed set of join outer-ness modes.
type JoinMode int

const (
	Inner JoinMode = iota
	Left
	Right
	Full
)

// Node is one physical plan node: a Kind tag plus exactly the payload
// that kind needs. Only the field(s) matching Kind are populated; every
// other field is left zero. This mirrors the teacher's flat
// single-struct-per-concern shape (folio.Entry carries every document's
// metadata in one struct regardless of which fields a given call site
// reads) rather than a sealed-interface-per-kind encoding, because the
// optimizer and the cost model both need to read and rewrite arbitrary
// fields of an in-progress node without type assertions.
type Node struct {
	Kind Kind

	// Every node carries a cost estimate, filled in bottom-up by the
	// optimizer's costing pass (spec §4.6). NodeCost is cumulative: it
	// already includes the cost of every node beneath it, so the root's
	// NodeCost is the whole plan's estimated cost.
	EstimatedRows int
	NodeCost      float64

	// Shared by every node with exactly one input (Filter, Project,
	// Sort, Aggregate, Update, Delete) and by the probe/outer side of a
	// Join (see Right below for the other side). Insert also sets Input
	// when it is sourced by INSERT ... SELECT instead of VALUES.
	Input *Node

	// TableScan / IndexScan / IndexSeek / Insert / Update / Delete
	Table string

	// TableScan / IndexScan: no extra fields — every row is emitted,
	// qualified Table.Column by the operator engine.

	// IndexScan: the indexed column an ascending scan order rides on.
	IndexColumn string

	// IndexSeek: the conditions the index restricts the scan to, already
	// stripped of their table-qualifying prefix (spec §4.7).
	SeekConditions []Condition

	// Filter: the conjunctive conditions to test per row.
	FilterConditions []Condition

	// Project: the columns to keep, in requested order.
	ProjectColumns []string

	// Sort: the ORDER BY key list, each independently ascending/descending.
	SortKeys []SortKey

	// Sort: the operator engine's materialized, already-ordered result,
	// set on first iteration so a downstream consumer that re-iterates
	// this node (NestedLoop re-scanning its right side once per left
	// row) does not re-sort (spec §4.7).
	// Opaque to this package — the operator engine is the only reader.
	SortCache any

	// Aggregate: the GROUP BY key list.
	GroupBy []string

	// Join
	Right        *Node
	Algorithm    JoinAlgorithm
	Mode         JoinMode
	LeftJoinKey  string
	RightJoinKey string

	// Insert
	InsertColumns []string
	InsertLiteral []map[string]any // one map per VALUES row, already typed

	// Insert sourced by INSERT ... SELECT: Input holds the sub-select's
	// plan and InsertLiteral is left nil. InsertSelectColumns is the
	// source row's column order, zipped positionally against
	// InsertColumns — the two lists need not share names.
	InsertSelectColumns []string

	// Update
	Assignments map[string]string // column -> raw expr (literal or bare column ref)

	// Delete has no extra fields beyond Table and Input.
}

// Condition is a physical-plan-level predicate test. Unlike
// pagestore.Condition (which is always column-vs-literal), a plan
// Condition can also compare two columns or a literal against a column
// (spec §4.7: "three condition shapes are supported: column~value,
// value~column, column~column").
type Condition struct {
	Shape ConditionShape
	Left  string // column name
	Right string // column name, used only when Shape == ColumnColumn
	Op    CompareOp
	Value any // used only when Shape != ColumnColumn
}

// ConditionShape is the closed set of operand shapes a Condition's two
// sides can take.
type ConditionShape int

const (
	ColumnValue ConditionShape = iota
	ValueColumn
	ColumnColumn
)

// CompareOp mirrors pagestore.CompareOp's ordering relations, duplicated
// here so the plan/exec packages never need to import pagestore just for
// an enum (the two are kept in lock-step by convention, not by sharing a
// type, since a plan Condition's left-hand side is a bare column name
// rather than a typed literal pair).
type CompareOp int

const (
	Eq CompareOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// SortKey is one ORDER BY term at the plan level.
type SortKey struct {
	Column string
	Desc   bool
}
