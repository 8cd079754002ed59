package exec

import (
	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/txn"
)

// Context is the per-call handle an operator engine invocation runs
// under: which transaction it belongs to, the transaction core writes
// and reads go through, and the storage engine it consults directly
// for schema information (assignment coercion, outer-join padding).
type Context struct {
	Txn   int
	Core  *txn.Core
	Store *pagestore.Engine
}

// checkActive is called at every row boundary a long-lived operator
// crosses (a leaf about to emit, a join about to probe, a mutation
// about to apply) so a transaction aborted out from under a
// still-iterating query stops producing rows instead of reading
// storage state that is mid-compensation (spec §4.7 "Cancellation": an
// operator that observes an aborted transaction on its context must
// propagate by raising an error; the engine's closed error-kind set
// has no dedicated kind for this, so it is reported as
// InternalInvariant — using the transaction after its own core has torn
// it down is exactly that, an internal invariant violation rather than
// a user-facing condition).
func (c *Context) checkActive() error {
	if !c.Core.IsActive(c.Txn) {
		return errs.New(errs.InternalInvariant, "transaction is no longer active")
	}
	return nil
}
