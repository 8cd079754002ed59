// Crash recovery (spec §4.8): REDO every committed write since the most
// recent checkpoint, then UNDO every write belonging to a transaction
// that never reached COMMIT or ABORT. The lock table always comes back
// empty — a transaction that survives recovery is, by definition, gone.
//
// The two-pass, quiesce-then-rebuild shape is grounded on
// folio/repair.go's Repair: there, a background reorganisation
// separates entries by type, rewrites them in sorted order, then swaps
// the file handles in one step; here the separation is by transaction
// outcome (committed vs incomplete) instead of by record type, and the
// "swap" is simply that recovery runs once, synchronously, before the
// engine accepts any new transaction.
package txn

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/wal"
)

type txnOutcome int

const (
	outcomeIncomplete txnOutcome = iota
	outcomeCommitted
	outcomeAborted
)

// Recover scans the WAL from the most recent checkpoint forward, REDOes
// every entry belonging to a committed transaction, and UNDOes every
// entry belonging to a transaction that was still active when the
// engine stopped.
func Recover(store *pagestore.Engine, logMgr *wal.Manager) error {
	entries, err := wal.ReadAll(logMgr.Path())
	if err != nil {
		return err
	}
	start := 0
	if off := wal.CheckpointOffset(entries); off >= 0 {
		start = off + 1
	}
	entries = entries[start:]
	if len(entries) == 0 {
		return nil
	}

	outcomes := make(map[int]txnOutcome)
	for _, e := range entries {
		switch e.Op {
		case wal.OpBegin:
			if _, ok := outcomes[e.TxnID]; !ok {
				outcomes[e.TxnID] = outcomeIncomplete
			}
		case wal.OpCommit:
			outcomes[e.TxnID] = outcomeCommitted
		case wal.OpAbort:
			outcomes[e.TxnID] = outcomeAborted
		}
	}

	byTable := make(map[string][]wal.Entry)
	for _, e := range entries {
		if e.Table == "" {
			continue
		}
		if outcomes[e.TxnID] != outcomeCommitted {
			continue
		}
		byTable[e.Table] = append(byTable[e.Table], e)
	}

	g, _ := errgroup.WithContext(context.Background())
	for table, tableEntries := range byTable {
		table, tableEntries := table, tableEntries
		g.Go(func() error {
			for _, e := range tableEntries {
				if err := redo(store, table, e); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// UNDO runs single-threaded, in strict reverse LSN order across all
	// tables: an incomplete transaction's writes must be unwound in the
	// exact opposite order they were applied, which parallel-per-table
	// REDO does not need to preserve since committed writes are already
	// final and idempotent by row id.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Table == "" || outcomes[e.TxnID] != outcomeIncomplete {
			continue
		}
		if err := undo(store, e.Table, e); err != nil {
			return err
		}
	}

	// Every incomplete transaction is now fully unwound: close it out
	// with a synthetic ABORT entry so a later forward read of the log
	// sees a closed transaction rather than one still dangling at BEGIN.
	for txnID, outcome := range outcomes {
		if outcome != outcomeIncomplete {
			continue
		}
		if err := logMgr.Abort(txnID); err != nil {
			return err
		}
	}

	return nil
}

// redo reapplies one committed entry. Insert/Update are idempotent by
// row id (RowID is a pure function of table + column values, so
// reinserting a row that is already present is a deliberate no-op);
// Delete is idempotent by construction (DeleteByID on an absent id is a
// no-op).
func redo(store *pagestore.Engine, table string, e wal.Entry) error {
	switch e.Op {
	case wal.OpInsert:
		if _, ok, err := store.RowByID(table, e.RowID); err != nil {
			return err
		} else if ok {
			return nil
		}
		_, err := store.Insert(table, fromImage(e.After))
		return err
	case wal.OpUpdate:
		_, err := store.UpdateByID(table, e.RowID, fromImage(e.After))
		return err
	case wal.OpDelete:
		_, err := store.DeleteByID(table, e.RowID)
		return err
	}
	return nil
}

// undo reverses one incomplete transaction's entry by restoring the
// before-image (Update, Delete) or removing the row it introduced
// (Insert).
func undo(store *pagestore.Engine, table string, e wal.Entry) error {
	switch e.Op {
	case wal.OpInsert:
		_, err := store.DeleteByID(table, e.RowID)
		return err
	case wal.OpUpdate:
		_, err := store.UpdateByID(table, e.RowID, fromImage(e.Before))
		return err
	case wal.OpDelete:
		_, err := store.Insert(table, fromImage(e.Before))
		return err
	}
	return nil
}

func fromImage(img map[string]any) map[string]pagestore.Value {
	if img == nil {
		return nil
	}
	values := make(map[string]pagestore.Value, len(img))
	for k, v := range img {
		values[k] = v
	}
	return values
}
