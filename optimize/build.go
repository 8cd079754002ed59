// Assembling a full physical plan tree from a parsed sqlfront.LogicalQuery
// (spec §4.6 "plan-tree construction"): scan-leaf selection per table,
// join algorithm selection, Filter/Project/Sort/Aggregate layering, and
// picking the cheaper of a heuristic (index-aware) candidate against a
// naive table-scan-only baseline (spec §4.6 "candidate plans generated
// per query").
package optimize

import (
	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/plan"
	"github.com/jpl-au/minirel/sqlfront"
)

// joinThreshold is the row-count below which both join sides are
// considered "small" for Hash selection (spec §4.6: "both sides < 1000
// rows → Hash").
const joinThreshold = 1000

// Build turns a parsed query into its cheapest physical plan.
func Build(q sqlfront.LogicalQuery, cat Catalog) (*plan.Node, error) {
	switch q.Kind {
	case sqlfront.Select:
		return buildSelect(q, cat)
	case sqlfront.Insert:
		return buildInsert(q, cat)
	case sqlfront.Update:
		return buildUpdate(q, cat)
	case sqlfront.Delete:
		return buildDelete(q, cat)
	default:
		return nil, errs.New(errs.InternalInvariant, "unhandled query kind")
	}
}

type tableContext struct {
	tables  []string
	schemas map[string]pagestore.Schema
	stats   map[string]pagestore.Statistics
}

func loadContext(tables []string, cat Catalog) (tableContext, error) {
	ctx := tableContext{
		tables:  tables,
		schemas: make(map[string]pagestore.Schema, len(tables)),
		stats:   make(map[string]pagestore.Statistics, len(tables)),
	}
	for _, t := range tables {
		sch, err := cat.Schema(t)
		if err != nil {
			return tableContext{}, err
		}
		st, err := cat.Stats(t)
		if err != nil {
			return tableContext{}, err
		}
		ctx.schemas[t] = sch
		ctx.stats[t] = st
	}
	return ctx, nil
}

func buildSelect(q sqlfront.LogicalQuery, cat Catalog) (*plan.Node, error) {
	allTables := append(append([]string{}, q.Tables...), joinTableNames(q.Joins)...)
	if len(allTables) == 0 {
		return nil, errs.New(errs.SyntaxError, "SELECT has no FROM table")
	}
	ctx, err := loadContext(allTables, cat)
	if err != nil {
		return nil, err
	}

	whereConds, err := decomposeConjunction(q.Where)
	if err != nil {
		return nil, err
	}

	pushed := make(map[string][]plan.Condition, len(allTables))
	var crossTable []plan.Condition
	for _, c := range whereConds {
		if t, ok := attributeSingleTable(c, allTables, ctx.schemas); ok {
			pushed[t] = append(pushed[t], sortSingle(c))
		} else {
			crossTable = append(crossTable, c)
		}
	}

	// Order-avoidance only applies to a single, base, unjoined table: a
	// join's output order is not guaranteed by any one side's index.
	orderColumn := ""
	if len(allTables) == 1 && len(q.OrderBy) == 1 && !q.OrderBy[0].Desc {
		orderColumn = q.OrderBy[0].Column
	}

	heuristic, orderElided, err := assembleJoinTree(q, allTables, ctx, pushed, crossTable, orderColumn, false)
	if err != nil {
		return nil, err
	}
	baseline, _, err := assembleJoinTree(q, allTables, ctx, pushed, crossTable, orderColumn, true)
	if err != nil {
		return nil, err
	}

	result := heuristic
	baselineCost := baseline.NodeCost
	if orderElided {
		// The baseline still needs the Sort the heuristic plan elided.
		baselineCost += costSort(baseline.EstimatedRows)
	}
	if baselineCost < heuristic.NodeCost {
		result = baseline
		orderElided = false
	}

	if len(q.GroupBy) > 0 {
		result = layerAggregate(result, q.GroupBy)
	}
	if len(q.OrderBy) > 0 && !orderElided {
		result = layerSort(result, q.OrderBy)
	}
	if !isSelectStar(q.Columns) {
		result = layerProject(result, q.Columns)
	}

	return result, nil
}

func joinTableNames(joins []sqlfront.JoinClause) []string {
	names := make([]string, len(joins))
	for i, j := range joins {
		names[i] = j.Table
	}
	return names
}

func isSelectStar(cols []string) bool {
	return len(cols) == 1 && cols[0] == "*"
}

// sortSingle normalizes a single-table column-column condition (e.g.
// "a.x = a.y", rare but legal) so its Left field is the lexicographically
// smaller column; purely cosmetic, keeps candidate generation
// deterministic across repeated calls with the same query text.
func sortSingle(c plan.Condition) plan.Condition {
	if c.Shape == plan.ColumnColumn && c.Right < c.Left {
		c.Left, c.Right = c.Right, c.Left
	}
	return c
}

// assembleJoinTree builds the scan leaves and folds them left to right
// through the declared JOIN clauses. forceTableScan builds the naive
// baseline candidate (spec §4.6).
func assembleJoinTree(q sqlfront.LogicalQuery, allTables []string, ctx tableContext, pushed map[string][]plan.Condition, crossTable []plan.Condition, orderColumn string, forceTableScan bool) (*plan.Node, bool, error) {
	leaves := make(map[string]*plan.Node, len(allTables))
	orderElided := false
	for _, t := range allTables {
		oc := ""
		if t == allTables[0] {
			oc = orderColumn
		}
		leaf, satisfied := buildScanLeaf(t, pushed[t], oc, ctx.stats[t], forceTableScan)
		leaves[t] = leaf
		if satisfied {
			orderElided = true
		}
	}

	result := leaves[allTables[0]]
	leftTables := map[string]bool{allTables[0]: true}

	for _, j := range q.Joins {
		right := leaves[j.Table]
		onConds, err := decomposeConjunction(j.On)
		if err != nil {
			return nil, false, err
		}
		joined, err := buildJoinStep(result, right, onConds, leftTables, j.Table, ctx, forceTableScan)
		if err != nil {
			return nil, false, err
		}
		result = joined
		leftTables[j.Table] = true
	}

	if len(crossTable) > 0 {
		result = layerCrossFilter(result, crossTable)
	}
	return result, orderElided, nil
}

// buildJoinStep picks a physical join algorithm per spec §4.6's rule and
// folds right into left. The rule reads only row counts and which join
// columns are indexed, so the table-scan baseline candidate gets the same
// algorithm as the index-aware one.
func buildJoinStep(left, right *plan.Node, onConds []plan.Condition, leftTables map[string]bool, rightTable string, ctx tableContext, _ bool) (*plan.Node, error) {
	leftKey, rightKey, ok := extractEquiJoinKey(onConds, leftTables, rightTable)
	if !ok {
		return nil, errs.New(errs.UnsupportedConstruct, "join ON clause has no usable equi-join key")
	}

	leftRows, rightRows := left.EstimatedRows, right.EstimatedRows
	rightIndexed := isIndexed(ctx.stats[rightTable], rightKey)
	// Index info for the left side is only known when it is still a bare
	// base-table leaf (a single prior join folds that knowledge away);
	// see columns.go / scanleaf.go doc comments for the same tradeoff.
	leftIndexed := len(leftTables) == 1 && isIndexedAny(ctx, leftTables, leftKey)

	var algo plan.JoinAlgorithm
	switch {
	case leftRows < joinThreshold && rightRows < joinThreshold:
		algo = plan.Hash
	case leftIndexed && rightIndexed:
		algo = plan.Merge
	case rightIndexed:
		algo = plan.NestedLoop
	default:
		algo = plan.Hash
	}

	var cost float64
	switch algo {
	case plan.NestedLoop:
		cost = costNestedLoop(leftRows, rightRows)
	case plan.Hash:
		cost = costHash(leftRows, rightRows)
	case plan.Merge:
		cost = costMerge(leftRows, rightRows)
	}

	return &plan.Node{
		Kind:          plan.Join,
		Input:         left,
		Right:         right,
		Algorithm:     algo,
		Mode:          plan.Inner,
		LeftJoinKey:   leftKey,
		RightJoinKey:  rightKey,
		EstimatedRows: estimatedJoinRows(leftRows, rightRows, DefaultJoinSelectivity),
		NodeCost:      left.NodeCost + right.NodeCost + cost,
	}, nil
}

func isIndexed(stats pagestore.Statistics, column string) bool {
	for _, c := range stats.IndexedColumns {
		if c == unqualifiedColumn(column) {
			return true
		}
	}
	return false
}

func isIndexedAny(ctx tableContext, tables map[string]bool, column string) bool {
	for t := range tables {
		if isIndexed(ctx.stats[t], column) {
			return true
		}
	}
	return false
}

// extractEquiJoinKey finds the ON condition that equates a column
// already in the left chain against a column of the table being joined
// in, returning (leftColumn, rightColumn) unqualified.
func extractEquiJoinKey(onConds []plan.Condition, leftTables map[string]bool, rightTable string) (string, string, bool) {
	for _, c := range onConds {
		if c.Shape != plan.ColumnColumn || c.Op != plan.Eq {
			continue
		}
		lt, rt := tableOf(c.Left), tableOf(c.Right)
		if leftTables[lt] && rt == rightTable {
			return unqualifiedColumn(c.Left), unqualifiedColumn(c.Right), true
		}
		if leftTables[rt] && lt == rightTable {
			return unqualifiedColumn(c.Right), unqualifiedColumn(c.Left), true
		}
	}
	return "", "", false
}

// layerCrossFilter wraps a joined result in a Filter for WHERE conditions
// that reference more than one table and were not already consumed as a
// join's ON clause. Single-table statistics give no distinct-value
// estimate across tables, so every condition here uses the default
// inequality selectivity regardless of its operator (documented
// simplification: affects cost ordering only, never which rows the
// operator engine actually keeps).
func layerCrossFilter(node *plan.Node, conds []plan.Condition) *plan.Node {
	selectivity := 1.0
	for range conds {
		selectivity *= InequalitySelectivity
	}
	return &plan.Node{
		Kind:             plan.Filter,
		Input:            node,
		FilterConditions: append([]plan.Condition(nil), conds...),
		EstimatedRows:    estimatedRows(node.EstimatedRows, selectivity),
		NodeCost:         node.NodeCost + costFilter(node.EstimatedRows),
	}
}

func layerAggregate(node *plan.Node, groupBy []string) *plan.Node {
	cost, outputRows := costAggregate(node.EstimatedRows)
	return &plan.Node{
		Kind:          plan.Aggregate,
		Input:         node,
		GroupBy:       append([]string(nil), groupBy...),
		EstimatedRows: outputRows,
		NodeCost:      node.NodeCost + cost,
	}
}

func layerSort(node *plan.Node, orderBy []sqlfront.OrderTerm) *plan.Node {
	keys := make([]plan.SortKey, len(orderBy))
	for i, o := range orderBy {
		keys[i] = plan.SortKey{Column: o.Column, Desc: o.Desc}
	}
	return &plan.Node{
		Kind:          plan.Sort,
		Input:         node,
		SortKeys:      keys,
		EstimatedRows: node.EstimatedRows,
		NodeCost:      node.NodeCost + costSort(node.EstimatedRows),
	}
}

func layerProject(node *plan.Node, columns []string) *plan.Node {
	return &plan.Node{
		Kind:           plan.Project,
		Input:          node,
		ProjectColumns: append([]string(nil), columns...),
		EstimatedRows:  node.EstimatedRows,
		NodeCost:       node.NodeCost + costProject(node.EstimatedRows, len(columns)),
	}
}

func buildInsert(q sqlfront.LogicalQuery, cat Catalog) (*plan.Node, error) {
	schema, err := cat.Schema(q.InsertTable)
	if err != nil {
		return nil, err
	}
	cols := q.InsertColumns
	if len(cols) == 0 {
		cols = schemaColumnNames(schema)
	}

	if q.InsertSelect != nil {
		return buildInsertSelect(*q.InsertSelect, cat, q.InsertTable, cols)
	}

	rows := make([]map[string]any, len(q.InsertRows))
	for i, row := range q.InsertRows {
		if len(row) != len(cols) {
			return nil, errs.New(errs.SchemaMismatch, "VALUES row does not match column count")
		}
		m := make(map[string]any, len(row))
		for j, lit := range row {
			m[cols[j]] = literalValue(lit)
		}
		rows[i] = m
	}

	return &plan.Node{
		Kind:          plan.Insert,
		Table:         q.InsertTable,
		InsertColumns: cols,
		InsertLiteral: rows,
		EstimatedRows: len(rows),
	}, nil
}

// buildInsertSelect wires INSERT INTO t (cols) SELECT ... into a plan
// whose Insert node pulls rows from the sub-select's plan instead of a
// literal VALUES list. The sub-select must name its source columns
// explicitly (no SELECT *): with a join or an unqualified star the
// source column order is not knowable without re-deriving it from
// per-table schemas, and guessing an order silently would trade one
// silent-no-op bug for a silent-wrong-mapping one.
func buildInsertSelect(sub sqlfront.LogicalQuery, cat Catalog, table string, cols []string) (*plan.Node, error) {
	if isSelectStar(sub.Columns) {
		return nil, errs.New(errs.UnsupportedConstruct, "INSERT ... SELECT * is not supported, list the source columns explicitly")
	}
	if len(sub.Columns) != len(cols) {
		return nil, errs.New(errs.SchemaMismatch, "INSERT column count does not match SELECT column count")
	}

	subPlan, err := buildSelect(sub, cat)
	if err != nil {
		return nil, err
	}

	return &plan.Node{
		Kind:                plan.Insert,
		Table:               table,
		Input:               subPlan,
		InsertColumns:       cols,
		InsertSelectColumns: append([]string(nil), sub.Columns...),
		EstimatedRows:       subPlan.EstimatedRows,
		NodeCost:            subPlan.NodeCost,
	}, nil
}

func literalValue(lit sqlfront.Literal) any {
	switch lit.Kind {
	case sqlfront.LiteralInt:
		return lit.Int
	case sqlfront.LiteralFloat:
		return lit.Flt
	default:
		return lit.Str
	}
}

func buildUpdate(q sqlfront.LogicalQuery, cat Catalog) (*plan.Node, error) {
	ctx, err := loadContext([]string{q.UpdateTable}, cat)
	if err != nil {
		return nil, err
	}
	conds, err := decomposeConjunction(q.Where)
	if err != nil {
		return nil, err
	}
	leaf, _ := buildScanLeaf(q.UpdateTable, conds, "", ctx.stats[q.UpdateTable], false)

	assignments := make(map[string]string, len(q.Assignments))
	for _, a := range q.Assignments {
		assignments[a.Column] = a.Expr
	}

	return &plan.Node{
		Kind:          plan.Update,
		Table:         q.UpdateTable,
		Input:         leaf,
		Assignments:   assignments,
		EstimatedRows: leaf.EstimatedRows,
		NodeCost:      leaf.NodeCost,
	}, nil
}

func buildDelete(q sqlfront.LogicalQuery, cat Catalog) (*plan.Node, error) {
	ctx, err := loadContext([]string{q.DeleteTable}, cat)
	if err != nil {
		return nil, err
	}
	conds, err := decomposeConjunction(q.Where)
	if err != nil {
		return nil, err
	}
	leaf, _ := buildScanLeaf(q.DeleteTable, conds, "", ctx.stats[q.DeleteTable], false)

	return &plan.Node{
		Kind:          plan.Delete,
		Table:         q.DeleteTable,
		Input:         leaf,
		EstimatedRows: leaf.EstimatedRows,
		NodeCost:      leaf.NodeCost,
	}, nil
}
