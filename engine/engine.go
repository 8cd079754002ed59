// Package engine is the top-level object tying the SQL frontend, the
// optimizer, the operator engine, and the transaction core into the
// handler surface spec §6 describes: execute/begin/commit/abort/
// is_active. Grounded on folio/db.go's Open/Close lifecycle — one
// constructor that wires every collaborator and returns a single
// handle, crash recovery run once up front before anything is
// accepted — generalized here from one heap file to the four
// collaborators this engine owns.
package engine

import (
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/exec"
	"github.com/jpl-au/minirel/lockmgr"
	"github.com/jpl-au/minirel/optimize"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/result"
	"github.com/jpl-au/minirel/txn"
	"github.com/jpl-au/minirel/wal"
)

// Engine is one open database: a storage engine, a write-ahead log, a
// lock manager, a transaction core built over all three, and an
// optimizer consulting the storage engine as its catalog.
type Engine struct {
	store *pagestore.Engine
	log   *wal.Manager
	locks *lockmgr.Manager
	core  *txn.Core
	opt   *optimize.Optimizer
	zl    zerolog.Logger
}

// Open wires every collaborator under config.DataDir, runs crash
// recovery over the WAL (spec §4.8), and returns a ready Engine. Data
// pages live under "<DataDir>/data", the log under "<DataDir>/wal" —
// kept apart so a WAL-only backup or a storage-only snapshot is just a
// directory copy.
func Open(config Config) (*Engine, error) {
	config = config.withDefaults()

	zl := newLogger(config.LogLevel)

	store, err := pagestore.Open(filepath.Join(config.DataDir, "data"), pagestore.Config{
		MaxSampledBlocks: config.MaxSampledBlocks,
		Logger:           zl,
	})
	if err != nil {
		return nil, err
	}

	logMgr, err := wal.Open(filepath.Join(config.DataDir, "wal"), wal.Config{
		CheckpointInterval: config.CheckpointInterval,
		Logger:             zl,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	if err := txn.Recover(store, logMgr); err != nil {
		store.Close()
		logMgr.Close()
		return nil, errs.Wrap(errs.RecoveryFailed, "recover from wal", err)
	}

	locks := lockmgr.New(zl)
	core := txn.New(locks, logMgr, store, zl)
	opt := optimize.New(store, optimize.Config{
		CacheCapacity: config.CacheCapacity,
		CacheTTL:      config.CacheTTL(),
		Logger:        zl,
	})

	return &Engine{store: store, log: logMgr, locks: locks, core: core, opt: opt, zl: zl}, nil
}

// Close releases the storage engine and the write-ahead log.
func (e *Engine) Close() error {
	logErr := e.log.Close()
	storeErr := e.store.Close()
	if storeErr != nil {
		return storeErr
	}
	return logErr
}

// CreateTable creates a new table, for the external seeder collaborator
// (spec §6) to populate a fresh database before the engine serves any
// query.
func (e *Engine) CreateTable(schema pagestore.Schema) error {
	return e.store.CreateTable(schema)
}

// Begin starts a new transaction.
func (e *Engine) Begin() (int, error) {
	return e.core.Begin()
}

// Commit commits txnID.
func (e *Engine) Commit(txnID int) error {
	return e.core.Commit(txnID)
}

// Abort aborts txnID, undoing everything it did.
func (e *Engine) Abort(txnID int) error {
	return e.core.Abort(txnID)
}

// IsActive reports whether txnID is still open.
func (e *Engine) IsActive(txnID int) bool {
	return e.core.IsActive(txnID)
}

// Execute plans and runs one SQL statement under txnID, returning a
// fully assembled result envelope (spec §6, §7).
//
// A parse or plan-construction failure returns before touching txnID's
// state at all — no abort is needed, since nothing happened. A failure
// surfacing while the plan actually runs (a storage or lock error mid-
// execution) aborts the enclosing transaction before the envelope is
// handed back, per spec §7: "storage and lock errors during an
// execution abort the enclosing transaction".
//
// The second return value is distinct from res.Success: it is non-nil
// only when the engine itself fails to clean up after a failed
// statement (the compensating abort could not run), a condition worse
// than the statement's own failure and too important to fold silently
// into the envelope.
func (e *Engine) Execute(sql string, txnID int) (result.Result, error) {
	p, err := e.opt.Optimize(sql)
	if err != nil {
		return result.Failure(err, txnID), nil
	}

	ctx := &exec.Context{Txn: txnID, Core: e.core, Store: e.store}
	res := result.Assemble(exec.Run(p, ctx), txnID)
	if !res.Success {
		if abortErr := e.core.Abort(txnID); abortErr != nil {
			e.zl.Error().Err(abortErr).Int("txn", txnID).Msg("abort after failed execution also failed")
			return res, abortErr
		}
	}
	return res, nil
}

func newLogger(level string) zerolog.Logger {
	zl := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	if level == "" {
		return zl
	}
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zl = zl.Level(lvl)
	}
	return zl
}
