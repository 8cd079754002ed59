// Transaction core (spec §4.8, §5): glues the lock manager, the
// write-ahead log, and the storage engine into begin/commit/abort.
//
// Every row-level write goes through here rather than straight to
// pagestore: Insert/Update/Delete acquire the lock, apply the mutation,
// append the WAL entry, and push an undo closure onto the
// transaction's own undo stack. Abort replays that stack in reverse —
// this is the live-transaction mirror of the REDO/UNDO recovery pass in
// recovery.go, grounded on the same "reorganise, then make it visible"
// two-phase shape as folio/repair.go, here applied to compensating a
// single transaction instead of repacking a whole file.
package txn

import (
	"iter"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/lockmgr"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/wal"
)

type undoStep func() error

// Core is the shared transaction manager for one engine instance.
type Core struct {
	mu     sync.Mutex
	nextID int
	undo   map[int][]undoStep

	locks *lockmgr.Manager
	log   *wal.Manager
	store *pagestore.Engine
	zl    zerolog.Logger
}

// New builds a transaction core over the given lock manager, WAL, and
// storage engine.
func New(locks *lockmgr.Manager, log *wal.Manager, store *pagestore.Engine, zl zerolog.Logger) *Core {
	return &Core{
		undo:  make(map[int][]undoStep),
		locks: locks,
		log:   log,
		store: store,
		zl:    zl,
	}
}

// Begin allocates a new transaction id and registers it as ACTIVE.
func (c *Core) Begin() (int, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.undo[id] = nil
	c.mu.Unlock()

	c.locks.Begin(id)
	if _, err := c.log.Begin(id); err != nil {
		return 0, err
	}
	return id, nil
}

// IsActive reports whether txn is still ACTIVE.
func (c *Core) IsActive(txn int) bool {
	return c.locks.IsActive(txn)
}

// Commit forces the transaction's COMMIT entry (possibly triggering a
// checkpoint, per wal.Manager), releases its locks, and discards its
// undo stack — a committed transaction is never undone.
func (c *Core) Commit(txn int) error {
	if err := c.log.Commit(txn); err != nil {
		return err
	}
	c.locks.Commit(txn)
	c.mu.Lock()
	delete(c.undo, txn)
	c.mu.Unlock()
	return nil
}

// Abort replays the transaction's undo stack in reverse, then forces
// its ABORT entry and releases its locks.
func (c *Core) Abort(txn int) error {
	c.mu.Lock()
	steps := c.undo[txn]
	delete(c.undo, txn)
	c.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i](); err != nil {
			c.zl.Error().Err(err).Int("txn", txn).Msg("undo step failed during abort")
			return errs.Wrap(errs.InternalInvariant, "undo step failed", err)
		}
	}
	if err := c.log.Abort(txn); err != nil {
		return err
	}
	c.locks.Abort(txn)
	return nil
}

func (c *Core) pushUndo(txn int, step undoStep) {
	c.mu.Lock()
	c.undo[txn] = append(c.undo[txn], step)
	c.mu.Unlock()
}

// Insert locks the table for write, applies the insert, and appends the
// WAL entry, recording an undo that deletes the row on abort.
func (c *Core) Insert(txn int, table string, values map[string]pagestore.Value) (string, error) {
	if err := c.locks.Validate(lockmgr.Write, objectName(table), txn); err != nil {
		return "", err
	}
	id, err := c.store.Insert(table, values)
	if err != nil {
		return "", err
	}
	if _, err := c.log.Insert(txn, table, id, toImage(values)); err != nil {
		return "", err
	}
	c.pushUndo(txn, func() error {
		_, err := c.store.DeleteByID(table, id)
		return err
	})
	return id, nil
}

// Update locks the table for write, applies mutate to every matching
// row, and records an undo that restores each row's before-image.
func (c *Core) Update(txn int, table string, predicate pagestore.Predicate, mutate func(pagestore.Row) map[string]pagestore.Value) (int, error) {
	if err := c.locks.Validate(lockmgr.Write, objectName(table), txn); err != nil {
		return 0, err
	}

	var befores []pagestore.Row
	n, err := c.store.Update(table, predicate, func(row pagestore.Row) map[string]pagestore.Value {
		befores = append(befores, row)
		return mutate(row)
	})
	if err != nil {
		return 0, err
	}
	for _, before := range befores {
		after, ok, err := c.store.RowByID(table, before.ID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if _, err := c.log.Update(txn, table, before.ID, toImage(before.Values), toImage(after.Values)); err != nil {
			return 0, err
		}
		b := before
		c.pushUndo(txn, func() error {
			_, err := c.store.UpdateByID(table, b.ID, b.Values)
			return err
		})
	}
	return n, nil
}

// Delete locks the table for write, removes matching rows, and records
// an undo that reinserts each row's before-image.
func (c *Core) Delete(txn int, table string, predicate pagestore.Predicate) (int, error) {
	if err := c.locks.Validate(lockmgr.Write, objectName(table), txn); err != nil {
		return 0, err
	}

	var removed []pagestore.Row
	for row, err := range c.store.Read(table, predicate) {
		if err != nil {
			return 0, err
		}
		removed = append(removed, row)
	}

	n, err := c.store.Delete(table, predicate)
	if err != nil {
		return 0, err
	}
	for _, row := range removed {
		if _, err := c.log.Delete(txn, table, row.ID, toImage(row.Values)); err != nil {
			return 0, err
		}
		r := row
		c.pushUndo(txn, func() error {
			_, err := c.store.Insert(table, r.Values)
			return err
		})
	}
	return n, nil
}

// UpdateByID locks the table for write and overwrites a single row
// identified by id, recording an undo that restores its before-image.
// The operator engine's Update leaf uses this instead of Update: by the
// time a row reaches that leaf it has already been chosen by an
// arbitrary scan/filter/join subtree, so the mutation is addressed by
// identity rather than by re-evaluating a predicate.
func (c *Core) UpdateByID(txn int, table, id string, values map[string]pagestore.Value) error {
	if err := c.locks.Validate(lockmgr.Write, rowObjectName(table, id), txn); err != nil {
		return err
	}
	before, ok, err := c.store.RowByID(table, id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.InternalInvariant, "no such row: "+table+"/"+id)
	}
	if _, err := c.store.UpdateByID(table, id, values); err != nil {
		return err
	}
	if _, err := c.log.Update(txn, table, id, toImage(before.Values), toImage(values)); err != nil {
		return err
	}
	c.pushUndo(txn, func() error {
		_, err := c.store.UpdateByID(table, id, before.Values)
		return err
	})
	return nil
}

// DeleteByID locks the table for write and removes a single row
// identified by id, recording an undo that reinserts its before-image.
func (c *Core) DeleteByID(txn int, table, id string) error {
	if err := c.locks.Validate(lockmgr.Write, rowObjectName(table, id), txn); err != nil {
		return err
	}
	before, ok, err := c.store.RowByID(table, id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.InternalInvariant, "no such row: "+table+"/"+id)
	}
	if _, err := c.store.DeleteByID(table, id); err != nil {
		return err
	}
	if _, err := c.log.Delete(txn, table, id, toImage(before.Values)); err != nil {
		return err
	}
	c.pushUndo(txn, func() error {
		_, err := c.store.Insert(table, before.Values)
		return err
	})
	return nil
}

// Read locks the table for read and streams matching rows.
func (c *Core) Read(txn int, table string, predicate pagestore.Predicate) (iter.Seq2[pagestore.Row, error], error) {
	if err := c.locks.Validate(lockmgr.Read, objectName(table), txn); err != nil {
		return nil, err
	}
	return c.store.Read(table, predicate), nil
}

func objectName(table string) string { return "table:" + table }

// rowObjectName scopes a lock object to one row: Insert/Update/Delete-by-
// predicate and Read all lock the whole table (a predicate scan has no
// row id to name ahead of time, and an insert has no prior identity to
// lock), but UpdateByID/DeleteByID already know exactly which row they
// touch, so they lock that row alone and leave the rest of the table
// free for concurrent holders of other rows.
func rowObjectName(table, id string) string { return "table:" + table + ":row:" + id }

func toImage(values map[string]pagestore.Value) map[string]any {
	if values == nil {
		return nil
	}
	img := make(map[string]any, len(values))
	for k, v := range values {
		img[k] = v
	}
	return img
}
