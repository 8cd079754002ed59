// Run is the operator engine's single entry point: a visitor dispatched
// on plan.Node.Kind, returning a lazily pulled row stream (spec §4.7,
// §9's tagged-variant plan tree). Grounded on the teacher's
// DB.All()'s iter.Seq2[Document, error] shape — a pull-based scan with
// an early-break-aware yield callback — generalized here from one
// fixed full-table scan into a dispatch over every physical operator
// the plan tree can hold.
package exec

import (
	"iter"

	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/plan"
)

// Run executes n and every node beneath it, yielding rows one at a
// time. The returned sequence does no work until iterated, and a
// consumer that stops early (breaking out of a range loop) leaves the
// rest of the tree un-pulled, exactly like the teacher's All().
func Run(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	if n == nil {
		return func(yield func(Row, error) bool) {}
	}
	switch n.Kind {
	case plan.TableScan, plan.IndexScan, plan.IndexSeek:
		return runScan(n, ctx)
	case plan.Filter:
		return runFilter(n, ctx)
	case plan.Project:
		return runProject(n, ctx)
	case plan.Sort:
		return runSort(n, ctx)
	case plan.Aggregate:
		return runAggregate(n, ctx)
	case plan.Join:
		return runJoin(n, ctx)
	case plan.Insert:
		return runInsert(n, ctx)
	case plan.Update:
		return runUpdate(n, ctx)
	case plan.Delete:
		return runDelete(n, ctx)
	default:
		return func(yield func(Row, error) bool) {
			yield(Row{}, errs.New(errs.InternalInvariant, "unhandled plan node kind"))
		}
	}
}
