// Physical scan-leaf selection: spec §4.6's rule for choosing
// TableScan/IndexScan/IndexSeek per table, and the Filter layered above
// it for any pushed condition the chosen leaf doesn't already satisfy.
package optimize

import (
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/plan"
)

// buildScanLeaf picks a physical scan for one table given the
// single-table conditions pushed down to it and, when present, a single
// ascending ORDER BY column belonging to this table. orderColumn == ""
// means no order-avoidance opportunity applies.
//
// forceTableScan builds the naive baseline candidate the optimizer costs
// against the index-aware plan (spec §4.6 "candidate plans generated per
// query: table-scan plan, index-scan/seek plan...").
func buildScanLeaf(table string, pushed []plan.Condition, orderColumn string, stats pagestore.Statistics, forceTableScan bool) (node *plan.Node, orderSatisfied bool) {
	indexed := make(map[string]bool, len(stats.IndexedColumns))
	for _, c := range stats.IndexedColumns {
		indexed[c] = true
	}

	if !forceTableScan {
		if seekIdx := indexedEqualityIndex(pushed, indexed); seekIdx >= 0 {
			seek := pushed[seekIdx]
			seek.Left = unqualifiedColumn(seek.Left)
			selectivity := filterSelectivity(pushed[seekIdx], stats)
			leaf := &plan.Node{
				Kind:           plan.IndexSeek,
				Table:          table,
				SeekConditions: []plan.Condition{seek},
				EstimatedRows:  estimatedRows(stats.TupleCount, selectivity),
				NodeCost:       costIndexSeek(stats.BlockCount, selectivity),
			}
			return layerFilter(leaf, withoutIndex(pushed, seekIdx), stats), false
		}

		if orderColumn != "" && indexed[unqualifiedColumn(orderColumn)] {
			leaf := &plan.Node{
				Kind:          plan.IndexScan,
				Table:         table,
				IndexColumn:   unqualifiedColumn(orderColumn),
				EstimatedRows: stats.TupleCount,
				NodeCost:      costIndexScan(stats.BlockCount),
			}
			return layerFilter(leaf, pushed, stats), true
		}
	}

	leaf := &plan.Node{
		Kind:          plan.TableScan,
		Table:         table,
		EstimatedRows: stats.TupleCount,
		NodeCost:      costTableScan(stats.BlockCount),
	}
	return layerFilter(leaf, pushed, stats), false
}

// indexedEqualityIndex returns the index (into pushed) of the first
// equality condition on an indexed column, or -1.
func indexedEqualityIndex(pushed []plan.Condition, indexed map[string]bool) int {
	for i, c := range pushed {
		if c.Shape == plan.ColumnColumn || c.Op != plan.Eq {
			continue
		}
		if indexed[unqualifiedColumn(c.Left)] {
			return i
		}
	}
	return -1
}

func withoutIndex(conds []plan.Condition, idx int) []plan.Condition {
	out := make([]plan.Condition, 0, len(conds)-1)
	for i, c := range conds {
		if i != idx {
			out = append(out, c)
		}
	}
	return out
}

// layerFilter wraps leaf in a Filter node for every remaining pushed
// condition, or returns leaf unchanged if none remain (spec §4.6: "a
// Filter whose condition is already handled by an IndexSeek underneath
// is elided").
func layerFilter(leaf *plan.Node, remaining []plan.Condition, stats pagestore.Statistics) *plan.Node {
	if len(remaining) == 0 {
		return leaf
	}
	selectivity := 1.0
	for _, c := range remaining {
		selectivity *= filterSelectivity(c, stats)
	}
	return &plan.Node{
		Kind:             plan.Filter,
		Input:            leaf,
		FilterConditions: append([]plan.Condition(nil), remaining...),
		EstimatedRows:    estimatedRows(leaf.EstimatedRows, selectivity),
		NodeCost:         leaf.NodeCost + costFilter(leaf.EstimatedRows),
	}
}

// filterSelectivity estimates the fraction of rows one condition keeps:
// 1/d for equality on a column with d estimated distinct values, 1/3
// for any other ordering comparison (spec §4.6); a column~column
// condition has no distinct-value estimate available to the single-table
// stats this function sees, so it is left unreduced (documented
// simplification: reflected in the cost, never in correctness, since the
// operator engine still evaluates it exactly).
func filterSelectivity(c plan.Condition, stats pagestore.Statistics) float64 {
	if c.Shape == plan.ColumnColumn {
		return 1.0
	}
	if c.Op == plan.Eq {
		return equalitySelectivity(stats.EstimatedDistinct[unqualifiedColumn(c.Left)])
	}
	return InequalitySelectivity
}

func estimatedRows(input int, selectivity float64) int {
	n := int(float64(input) * selectivity)
	if n < 1 {
		n = 1
	}
	return n
}
