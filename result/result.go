// Package result assembles the operator engine's lazily pulled row
// stream into the single envelope shape every external caller sees
// (spec §6 "execute(sql_text, txn_id) → {ok: rows|count, err: kind+
// message}", spec §7 "a result envelope carries {success, message,
// transaction_id}; on success, data holds a lazy sequence; on failure,
// no partial rows are visible").
//
// Assemble is the Result Assembler component of spec §2's component
// table: it is the one place that turns a possibly-failing mid-stream
// iter.Seq2 into an all-or-nothing outcome, grounded on the same
// "collect a typed sentinel error, don't let a half-finished result
// escape" discipline folio/errors.go applies to its own collaborators.
package result

import (
	"errors"

	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/exec"
)

// Result is the envelope every query execution produces.
//
// A SELECT populates Rows (and RowCount as len(Rows)); an INSERT,
// UPDATE, or DELETE populates only RowCount — the number of rows
// affected — leaving Rows nil. Exactly one of Rows/RowCount is
// meaningful per QueryKind, mirroring spec §6's "ok: rows|count".
type Result struct {
	Success       bool
	Message       string
	TransactionID int
	Rows          []exec.Row
	RowCount      int
	Err           error
}

// Assemble fully drains seq, stopping at the first error. On success,
// Rows holds every row the stream produced, in order. On failure, Rows
// is always nil — the caller either gets the complete resultset or
// nothing, never a partial one (spec §7).
func Assemble(seq func(func(exec.Row, error) bool), txnID int) Result {
	var rows []exec.Row
	for row, err := range seq {
		if err != nil {
			return Result{
				Success:       false,
				Message:       err.Error(),
				TransactionID: txnID,
				Err:           err,
			}
		}
		rows = append(rows, row)
	}
	return Result{
		Success:       true,
		TransactionID: txnID,
		Rows:          rows,
		RowCount:      len(rows),
	}
}

// Failure builds a failure envelope directly, for errors raised before
// any operator ever ran (a parse or plan-construction error, spec §7:
// "parse and plan errors return before any state change").
func Failure(err error, txnID int) Result {
	return Result{Success: false, Message: err.Error(), TransactionID: txnID, Err: err}
}

// Kind classifies Err by the closed error-kind enumeration (spec §7),
// or false if Err is nil or not one of this engine's typed errors.
func (r Result) Kind() (errs.Kind, bool) {
	var e *errs.Error
	if !errors.As(r.Err, &e) {
		return 0, false
	}
	return e.Kind, true
}
