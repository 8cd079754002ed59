// Leaf and single-input operators: TableScan/IndexScan/IndexSeek pull
// rows from the transaction core, qualifying every column by its table
// (spec §4.7); Filter/Project/Sort/Aggregate transform the stream above
// them.
package exec

import (
	"iter"
	"sort"
	"strconv"

	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/plan"
)

// runScan drives a TableScan, IndexScan, or IndexSeek leaf. The three
// differ only in which predicate (if any) is pushed down to the
// storage engine; IndexScan's ordering claim is honored by sorting the
// materialized result ascending on IndexColumn, since the storage
// engine's index is hash-organized and carries no intrinsic order of
// its own (a pragmatic consequence of only ever installing a hash
// index, spec §4.2 — the plan level still never needs an explicit Sort
// node for this case, so the cost model's "IndexScan avoids a Sort"
// rule holds from the caller's point of view even though this leaf
// does the equivalent work internally).
func runScan(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		var predicate pagestore.Predicate
		if n.Kind == plan.IndexSeek {
			p, err := storagePredicate(n.SeekConditions)
			if err != nil {
				yield(Row{}, err)
				return
			}
			predicate = p
		}

		rows, err := ctx.Core.Read(ctx.Txn, n.Table, predicate)
		if err != nil {
			yield(Row{}, err)
			return
		}

		if n.Kind != plan.IndexScan {
			for r, err := range rows {
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
				if !yield(Row{ID: r.ID, Values: qualify(n.Table, r.Values)}, nil) {
					return
				}
			}
			return
		}

		var materialized []Row
		for r, err := range rows {
			if err != nil {
				yield(Row{}, err)
				return
			}
			materialized = append(materialized, Row{ID: r.ID, Values: qualify(n.Table, r.Values)})
		}
		key := n.Table + "." + n.IndexColumn
		sort.SliceStable(materialized, func(i, j int) bool {
			less, _ := lessThan(materialized[i].Values[key], materialized[j].Values[key])
			return less
		})
		for _, row := range materialized {
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func lessThan(a, b any) (bool, error) {
	switch av := a.(type) {
	case int32:
		bv, _ := asInt32(b)
		return av < bv, nil
	case float32:
		bv, _ := asFloat32(b)
		return av < bv, nil
	case string:
		bv, _ := b.(string)
		return av < bv, nil
	default:
		return false, errs.New(errs.InternalInvariant, "unsupported index column type")
	}
}

// runFilter keeps only input rows satisfying every FilterConditions
// entry.
func runFilter(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for row, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			keep := true
			for _, c := range n.FilterConditions {
				ok, err := evalCondition(row, c)
				if err != nil {
					if !yield(Row{}, err) {
						return
					}
					keep = false
					break
				}
				if !ok {
					keep = false
					break
				}
			}
			if keep && !yield(row, nil) {
				return
			}
		}
	}
}

// runProject keeps only the requested columns, resolving each against
// the row's qualified keys (spec §4.7: a requested column absent from
// the row is an error, not a silently-dropped projection).
func runProject(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for row, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			out := make(map[string]any, len(n.ProjectColumns))
			ok := true
			for _, col := range n.ProjectColumns {
				v, found := lookupColumn(row, col)
				if !found {
					if !yield(Row{}, errs.New(errs.SchemaMismatch, "no such column in projection: "+col)) {
						return
					}
					ok = false
					break
				}
				out[col] = v
			}
			if ok && !yield(Row{ID: row.ID, Values: out}, nil) {
				return
			}
		}
	}
}

// runSort materializes the input once and yields it in SortKeys order.
// Materialization happens on first pull and is cached on the node so a
// plan re-run from the cache does not re-sort (spec §4.7: "Sort caches
// its materialized result on the node itself").
func runSort(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if cached, ok := n.SortCache.([]Row); ok {
			for _, row := range cached {
				if err := ctx.checkActive(); err != nil {
					yield(Row{}, err)
					return
				}
				if !yield(row, nil) {
					return
				}
			}
			return
		}

		var rows []Row
		for row, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			rows = append(rows, row)
		}
		sort.SliceStable(rows, func(i, j int) bool {
			for _, key := range n.SortKeys {
				a, _ := lookupColumn(rows[i], key.Column)
				b, _ := lookupColumn(rows[j], key.Column)
				less, _ := lessThan(a, b)
				greater, _ := lessThan(b, a)
				if less == greater {
					continue // equal on this key, fall through to the next
				}
				if key.Desc {
					return greater
				}
				return less
			}
			return false
		})
		n.SortCache = rows
		for _, row := range rows {
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// runAggregate groups the input by GroupBy and emits one row per group
// holding the group's key columns plus a synthetic "count" column
// (spec's only aggregate function beyond grouping itself, per
// SPEC_FULL.md's Non-goals on richer aggregate expressions).
func runAggregate(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		type group struct {
			key    []any
			sample Row
			count  int
		}
		var groups []*group
		index := make(map[string]*group)

		for row, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			key := make([]any, len(n.GroupBy))
			sig := ""
			for i, col := range n.GroupBy {
				v, _ := lookupColumn(row, col)
				key[i] = v
				sig += groupSigPart(v)
			}
			g, ok := index[sig]
			if !ok {
				g = &group{key: key, sample: row}
				index[sig] = g
				groups = append(groups, g)
			}
			g.count++
		}

		for _, g := range groups {
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			out := make(map[string]any, len(n.GroupBy)+1)
			for i, col := range n.GroupBy {
				out[col] = g.key[i]
			}
			out["count"] = int32(g.count)
			if !yield(Row{ID: g.sample.ID, Values: out}, nil) {
				return
			}
		}
	}
}

func groupSigPart(v any) string {
	switch t := v.(type) {
	case int32:
		return "i:" + strconv.FormatInt(int64(t), 10) + "|"
	case float32:
		return "f:" + strconv.FormatFloat(float64(t), 'f', -1, 32) + "|"
	case string:
		return "s:" + t + "|"
	default:
		return "n:|"
	}
}
