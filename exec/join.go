// Join operator dispatch: NestedLoop, Hash, Merge, and Cross (spec
// §4.7), each honoring the node's Mode (INNER/LEFT/RIGHT/FULL) by
// null-padding the unmatched side.
package exec

import (
	"iter"

	"github.com/jpl-au/minirel/plan"
)

func runJoin(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	switch n.Algorithm {
	case plan.Hash:
		return runHashJoin(n, ctx)
	case plan.Merge:
		return runMergeJoin(n, ctx)
	case plan.Cross:
		return runCrossJoin(n, ctx)
	default:
		return runNestedLoopJoin(n, ctx)
	}
}

func keyOf(row Row, column string) (any, bool) {
	return lookupColumn(row, column)
}

// runNestedLoopJoin re-iterates the right side once per left row. If
// Mode is Right, left/right are logically swapped first so the outer
// (preserved) side is always iterated in the inner loop's "left"
// position, matching spec §4.7 "left/right are swapped for RIGHT
// joins".
func runNestedLoopJoin(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		outer, inner, outerKey, innerKey, swapped := n.Input, n.Right, n.LeftJoinKey, n.RightJoinKey, false
		mode := n.Mode
		if mode == plan.Right {
			outer, inner, outerKey, innerKey, swapped = n.Right, n.Input, n.RightJoinKey, n.LeftJoinKey, true
		}

		var innerSample Row
		haveSample := false
		var outerSample Row
		haveOuter := false
		var fullUnmatchedInner map[string]Row
		var fullMatchedInner map[string]bool
		if mode == plan.Full {
			fullUnmatchedInner = make(map[string]Row)
			fullMatchedInner = make(map[string]bool)
		}

		for left, err := range Run(outer, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			if !haveOuter {
				outerSample, haveOuter = left, true
			}
			lk, lok := keyOf(left, outerKey)
			matched := false
			for right, err := range Run(inner, ctx) {
				if err != nil {
					if !yield(Row{}, err) {
						return
					}
					continue
				}
				if !haveSample {
					innerSample = right
					haveSample = true
				}
				rk, rok := keyOf(right, innerKey)
				if !lok || !rok {
					continue
				}
				eq, err := compareValues(lk, plan.Eq, rk)
				if err != nil {
					if !yield(Row{}, err) {
						return
					}
					continue
				}
				if !eq {
					if mode == plan.Full && !fullMatchedInner[right.ID] {
						fullUnmatchedInner[right.ID] = right
					}
					continue
				}
				matched = true
				if mode == plan.Full {
					fullMatchedInner[right.ID] = true
					delete(fullUnmatchedInner, right.ID)
				}
				merged := mergeOriented(left, right, swapped)
				if !yield(merged, nil) {
					return
				}
			}
			if !matched && (mode == plan.Left || mode == plan.Right || mode == plan.Full) {
				var padded Row
				if haveSample {
					padded = Row{ID: left.ID, Values: mergeValuesOriented(left.Values, nullRowLike(innerSample), swapped)}
				} else {
					padded = left
				}
				if !yield(padded, nil) {
					return
				}
			}
		}

		if mode == plan.Full {
			for _, right := range fullUnmatchedInner {
				padded := right
				if haveOuter {
					padded = Row{ID: right.ID, Values: mergeValues(nullRowLike(outerSample), right.Values)}
				}
				if !yield(padded, nil) {
					return
				}
			}
		}
	}
}

// runHashJoin builds a multimap over the left input's join key, then
// probes it with each right row (spec §4.7).
func runHashJoin(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		buckets := make(map[any][]Row)
		var leftOrder []Row
		for left, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			leftOrder = append(leftOrder, left)
			if k, ok := keyOf(left, n.LeftJoinKey); ok {
				buckets[normalizeKey(k)] = append(buckets[normalizeKey(k)], left)
			}
		}

		matchedLeft := make(map[string]bool)
		var innerSample Row
		haveSample := false

		for right, err := range Run(n.Right, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if !haveSample {
				innerSample = right
				haveSample = true
			}
			rk, rok := keyOf(right, n.RightJoinKey)
			var matches []Row
			if rok {
				matches = buckets[normalizeKey(rk)]
			}
			if len(matches) == 0 {
				if n.Mode == plan.Right || n.Mode == plan.Full {
					if !yield(Row{ID: right.ID, Values: mergeValues(nullRowLike(sampleLeft(leftOrder)), right.Values)}, nil) {
						return
					}
				}
				continue
			}
			for _, left := range matches {
				matchedLeft[left.ID] = true
				if !yield(merge(left, right), nil) {
					return
				}
			}
		}

		if n.Mode == plan.Left || n.Mode == plan.Full {
			for _, left := range leftOrder {
				if matchedLeft[left.ID] {
					continue
				}
				var padded map[string]any
				if haveSample {
					padded = mergeValues(left.Values, nullRowLike(innerSample))
				} else {
					padded = left.Values
				}
				if !yield(Row{ID: left.ID, Values: padded}, nil) {
					return
				}
			}
		}
	}
}

// runMergeJoin wraps both inputs in an (implicit) ascending sort on
// their join key and walks two cursors (spec §4.7). It reuses the
// plan.Sort machinery (runSort) rather than duplicating a sort; each run
// sorts its inputs afresh, since the Sort nodes built for it are not
// kept.
func runMergeJoin(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		left := sortedRows(n.Input, n.LeftJoinKey, ctx)
		right := sortedRows(n.Right, n.RightJoinKey, ctx)

		i, j := 0, 0
		matchedLeft := make([]bool, len(left))
		matchedRight := make([]bool, len(right))

		for i < len(left) && j < len(right) {
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			lk, lok := keyOf(left[i], n.LeftJoinKey)
			rk, rok := keyOf(right[j], n.RightJoinKey)
			if !lok {
				i++
				continue
			}
			if !rok {
				j++
				continue
			}
			lt, _ := lessThan(lk, rk)
			gt, _ := lessThan(rk, lk)
			switch {
			case lt:
				i++
			case gt:
				j++
			default:
				// Equal keys: cross-emit the whole matching run on both
				// sides before advancing past it.
				li, rj := i, j
				for li < len(left) {
					eq, _ := compareValues(mustKey(left[li], n.LeftJoinKey), plan.Eq, lk)
					if !eq {
						break
					}
					li++
				}
				for rj < len(right) {
					eq, _ := compareValues(mustKey(right[rj], n.RightJoinKey), plan.Eq, rk)
					if !eq {
						break
					}
					rj++
				}
				for a := i; a < li; a++ {
					for b := j; b < rj; b++ {
						matchedLeft[a] = true
						matchedRight[b] = true
						if !yield(merge(left[a], right[b]), nil) {
							return
						}
					}
				}
				i, j = li, rj
			}
		}

		if n.Mode == plan.Left || n.Mode == plan.Full {
			for a, row := range left {
				if matchedLeft[a] {
					continue
				}
				padded := row
				if len(right) > 0 {
					padded = Row{ID: row.ID, Values: mergeValues(row.Values, nullRowLike(right[0]))}
				}
				if !yield(padded, nil) {
					return
				}
			}
		}
		if n.Mode == plan.Right || n.Mode == plan.Full {
			for b, row := range right {
				if matchedRight[b] {
					continue
				}
				padded := row
				if len(left) > 0 {
					padded = Row{ID: row.ID, Values: mergeValues(nullRowLike(left[0]), row.Values)}
				}
				if !yield(padded, nil) {
					return
				}
			}
		}
	}
}

func mustKey(row Row, column string) any {
	v, _ := keyOf(row, column)
	return v
}

// sortedRows materializes input ascending on key by running runSort on a
// plan.Sort node built for this call; the node and its cache are
// discarded afterwards, so every call sorts again.
func sortedRows(input *plan.Node, key string, ctx *Context) []Row {
	sortNode := &plan.Node{
		Kind:     plan.Sort,
		Input:    input,
		SortKeys: []plan.SortKey{{Column: key}},
	}
	var rows []Row
	for row, err := range runSort(sortNode, ctx) {
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// runCrossJoin emits the full Cartesian product.
func runCrossJoin(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		var rightRows []Row
		for row, err := range Run(n.Right, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			rightRows = append(rightRows, row)
		}
		for left, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			for _, right := range rightRows {
				if !yield(merge(left, right), nil) {
					return
				}
			}
		}
	}
}

func normalizeKey(v any) any {
	if f, ok := v.(float32); ok {
		return float64(f)
	}
	if i, ok := v.(int32); ok {
		return int64(i)
	}
	return v
}

func mergeValues(left, right map[string]any) map[string]any {
	out := make(map[string]any, len(left)+len(right))
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		out[k] = v
	}
	return out
}

func mergeValuesOriented(outerValues, innerValues map[string]any, swapped bool) map[string]any {
	if swapped {
		return mergeValues(innerValues, outerValues)
	}
	return mergeValues(outerValues, innerValues)
}

func mergeOriented(outer, inner Row, swapped bool) Row {
	if swapped {
		return merge(inner, outer)
	}
	return merge(outer, inner)
}

func sampleLeft(rows []Row) Row {
	if len(rows) == 0 {
		return Row{}
	}
	return rows[0]
}
