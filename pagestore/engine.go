// Storage Engine: the public contract over a directory of heap files
// (spec §4.2). Every operation is synchronous; concurrency across tables
// is independent, concurrency within a table is serialized per the
// discipline in spec §5 ("the storage engine serializes mutations per
// table").
package pagestore

import (
	"fmt"
	"iter"
	"os"
	"sync"

	"github.com/jpl-au/minirel/errs"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"
)

// IDLength is the fixed byte width of every row identifier: 16 hex
// characters, the same output shape as folio's hash() family
// (folio/hash.go), here always xxh3 rather than selectable since row
// ids are internal and never need the distribution/no-dependency
// tradeoffs a document label hash does.
const IDLength = 16

// Config configures a Storage Engine instance.
type Config struct {
	// MaxSampledBlocks bounds how many blocks Stats reads to estimate
	// table-wide counts (spec §3: "at most five").
	MaxSampledBlocks int
	Logger           zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxSampledBlocks <= 0 {
		c.MaxSampledBlocks = 5
	}
	return c
}

// table bundles one heap file with its installed indexes and the
// read/write serialization the engine promises per table.
type table struct {
	mu      sync.RWMutex
	heap    *HeapFile
	indexes map[string]*HashIndex
}

// Engine is the Storage Engine: a directory of table heap files plus
// their in-memory indexes.
type Engine struct {
	root   *os.Root
	config Config
	log    zerolog.Logger

	mu     sync.Mutex // guards tables map membership, not table contents
	tables map[string]*table
}

// Open opens (sandboxes into) a data directory, creating it first if it
// does not exist. Tables are loaded lazily as they are referenced,
// mirroring folio.Open's single-root-handle pattern but generalized to
// many files instead of one.
func Open(dir string, config Config) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.InternalInvariant, "create storage dir "+dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, errs.Wrap(errs.InternalInvariant, "open storage root "+dir, err)
	}
	config = config.withDefaults()
	return &Engine{
		root:   root,
		config: config,
		log:    config.Logger,
		tables: make(map[string]*table),
	}, nil
}

// Close releases the sandboxed root handle. Individual table files are
// closed as part of this.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.tables {
		t.heap.Close()
	}
	return e.root.Close()
}

// CreateTable creates a new table file with the given schema. The
// schema is written once and is immutable thereafter (spec §3).
func (e *Engine) CreateTable(schema Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[schema.TableName]; ok {
		return errs.New(errs.SchemaMismatch, "table already exists: "+schema.TableName)
	}
	h, err := CreateHeapFile(e.root, schema, IDLength)
	if err != nil {
		return err
	}
	e.tables[schema.TableName] = &table{heap: h, indexes: make(map[string]*HashIndex)}
	e.log.Info().Str("table", schema.TableName).Int("columns", len(schema.Columns)).Msg("table created")
	return nil
}

// table looks up (and lazily opens) a table by name.
func (e *Engine) table(name string) (*table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tables[name]; ok {
		return t, nil
	}
	h, err := OpenHeapFile(e.root, name, IDLength)
	if err != nil {
		return nil, err
	}
	t := &table{heap: h, indexes: make(map[string]*HashIndex)}
	e.tables[name] = t
	return t, nil
}

// Schema returns a table's immutable schema.
func (e *Engine) Schema(name string) (Schema, error) {
	t, err := e.table(name)
	if err != nil {
		return Schema{}, err
	}
	return t.heap.Schema(), nil
}

// RowID derives a row's stable identifier by hashing the table name and
// its encoded values, the same shape as folio.hash()'s label digest
// (folio/hash.go) but unconditionally xxh3 since the id is internal.
func RowID(table string, schema Schema, values map[string]Value) string {
	var sb []byte
	sb = append(sb, table...)
	for _, c := range schema.Columns {
		sb = append(sb, '|')
		sb = append(sb, []byte(fmt.Sprintf("%v", values[c.Name]))...)
	}
	return fmt.Sprintf("%016x", xxh3.Hash(sb))
}

// ReadPage / WritePage are the low-level byte-level accessors recovery
// uses directly (spec §4.2).
func (e *Engine) ReadPage(tableName string, block BlockID) ([]byte, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.heap.ReadPage(block)
}

func (e *Engine) WritePage(tableName string, block BlockID, page []byte) error {
	t, err := e.table(tableName)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.heap.WritePage(block, page); err != nil {
		return err
	}
	return t.heap.Sync()
}

// SetIndex installs a hash index on (table, column): full-scan to
// populate, then install (spec §4.2).
func (e *Engine) SetIndex(tableName, column string) error {
	t, err := e.table(tableName)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, _, ok := t.heap.Schema().ColumnByName(column); !ok {
		return errs.New(errs.SchemaMismatch, "no such column: "+column)
	}

	idx := newHashIndex(column)
	count, err := t.heap.BlockCount()
	if err != nil {
		return err
	}
	recordSize := t.heap.RecordSize()
	for b := 0; b < count; b++ {
		page, err := t.heap.ReadPage(BlockID(b))
		if err != nil {
			return err
		}
		records, err := Records(page, recordSize)
		if err != nil {
			return err
		}
		for _, rec := range records {
			row, err := DecodeRecord(t.heap.Schema(), rec)
			if err != nil {
				return err
			}
			idx.Add(row.Values[column], BlockID(b))
		}
	}

	t.indexes[column] = idx
	e.log.Info().Str("table", tableName).Str("column", column).Msg("index installed")
	return nil
}

// indexedColumns returns the names of every installed index on a table,
// for Stats.
func (t *table) indexedColumns() []string {
	names := make([]string, 0, len(t.indexes))
	for c := range t.indexes {
		names = append(names, c)
	}
	return names
}

// Stats computes table statistics from file length and a sampled set of
// blocks (spec §3).
func (e *Engine) Stats(tableName string) (Statistics, error) {
	t, err := e.table(tableName)
	if err != nil {
		return Statistics{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	sample := func() ([][]byte, error) {
		count, err := t.heap.BlockCount()
		if err != nil {
			return nil, err
		}
		n := count
		if n > e.config.MaxSampledBlocks {
			n = e.config.MaxSampledBlocks
		}
		pages := make([][]byte, 0, n)
		for b := 0; b < n; b++ {
			p, err := t.heap.ReadPage(BlockID(b))
			if err != nil {
				return nil, err
			}
			pages = append(pages, p)
		}
		return pages, nil
	}

	return computeStats(t.heap, sample, t.indexedColumns())
}

// Read returns a lazy sequence of rows matching predicate. It uses the
// hash index when predicate is a single equality on an indexed column,
// otherwise a full scan (spec §4.2).
func (e *Engine) Read(tableName string, predicate Predicate) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		t, err := e.table(tableName)
		if err != nil {
			yield(Row{}, err)
			return
		}
		t.mu.RLock()
		defer t.mu.RUnlock()

		recordSize := t.heap.RecordSize()
		schema := t.heap.Schema()

		emitBlock := func(b BlockID) bool {
			page, err := t.heap.ReadPage(b)
			if err != nil {
				return yield(Row{}, err)
			}
			records, err := Records(page, recordSize)
			if err != nil {
				return yield(Row{}, err)
			}
			for _, rec := range records {
				row, err := DecodeRecord(schema, rec)
				if err != nil {
					if !yield(Row{}, err) {
						return false
					}
					continue
				}
				ok, err := predicate.Matches(schema, row)
				if err != nil {
					if !yield(Row{}, err) {
						return false
					}
					continue
				}
				if ok {
					if !yield(row, nil) {
						return false
					}
				}
			}
			return true
		}

		for column, idx := range t.indexes {
			if v, ok := predicate.SingleEquality(column); ok {
				for _, b := range idx.Blocks(v) {
					if !emitBlock(b) {
						return
					}
				}
				return
			}
		}

		count, err := t.heap.BlockCount()
		if err != nil {
			yield(Row{}, err)
			return
		}
		for b := 0; b < count; b++ {
			if !emitBlock(BlockID(b)) {
				return
			}
		}
	}
}

// Insert places a new row via first-fit search over existing pages,
// appending a new page if none has room (spec §4.2). Returns the
// inserted row's id.
func (e *Engine) Insert(tableName string, values map[string]Value) (string, error) {
	t, err := e.table(tableName)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	schema := t.heap.Schema()
	id := RowID(tableName, schema, values)
	row := Row{ID: id, Values: values}
	rec, err := EncodeRecord(schema, row, e.log)
	if err != nil {
		return "", err
	}

	recordSize := t.heap.RecordSize()
	count, err := t.heap.BlockCount()
	if err != nil {
		return "", err
	}

	for b := 0; b < count; b++ {
		page, err := t.heap.ReadPage(BlockID(b))
		if err != nil {
			return "", err
		}
		newPage, err := Insert(page, rec, recordSize)
		if err != nil {
			continue // not enough free space on this page, try next
		}
		if err := t.heap.WritePage(BlockID(b), newPage); err != nil {
			return "", err
		}
		if err := t.heap.Sync(); err != nil {
			return "", err
		}
		e.reindexBlock(t, BlockID(b), newPage)
		return id, nil
	}

	// No page had room: append a new one.
	newPage, err := NewPage([][]byte{rec}, recordSize)
	if err != nil {
		return "", err
	}
	block, err := t.heap.AppendPage(newPage)
	if err != nil {
		return "", err
	}
	if err := t.heap.Sync(); err != nil {
		return "", err
	}
	e.reindexBlock(t, block, newPage)
	return id, nil
}

// reindexBlock refreshes every installed index's view of one page: it
// drops the block from all buckets then re-adds it for the values the
// page currently holds, so stale (value, block) associations never
// survive a write (spec §8 index invariant).
func (e *Engine) reindexBlock(t *table, block BlockID, page []byte) {
	if len(t.indexes) == 0 {
		return
	}
	schema := t.heap.Schema()
	recordSize := t.heap.RecordSize()
	records, err := Records(page, recordSize)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to reindex block after write")
		return
	}
	for _, idx := range t.indexes {
		idx.RemoveBlock(block)
	}
	for _, rec := range records {
		row, err := DecodeRecord(schema, rec)
		if err != nil {
			continue
		}
		for column, idx := range t.indexes {
			idx.Add(row.Values[column], block)
		}
	}
}

// Update applies predicate-matched mutations and rewrites pages in
// place. mutate receives the old row and returns the new column values
// (the row id never changes). If a rewritten page would not fit — which
// under this engine's fixed-width codec only happens if a future column
// type grows variable-width — the offending rows are deleted from the
// page and reinserted via the normal first-fit path rather than
// truncated (spec §9 bug fix (a): the original implementation truncated
// on overflow; this one never does).
func (e *Engine) Update(tableName string, predicate Predicate, mutate func(Row) map[string]Value) (int, error) {
	t, err := e.table(tableName)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	schema := t.heap.Schema()
	recordSize := t.heap.RecordSize()
	count, err := t.heap.BlockCount()
	if err != nil {
		return 0, err
	}

	updated := 0
	for b := 0; b < count; b++ {
		page, err := t.heap.ReadPage(BlockID(b))
		if err != nil {
			return updated, err
		}
		records, err := Records(page, recordSize)
		if err != nil {
			return updated, err
		}

		changed := false
		var overflowRows []Row
		newRecords := make([][]byte, 0, len(records))
		for _, rec := range records {
			row, err := DecodeRecord(schema, rec)
			if err != nil {
				return updated, err
			}
			ok, err := predicate.Matches(schema, row)
			if err != nil {
				return updated, err
			}
			if !ok {
				newRecords = append(newRecords, rec)
				continue
			}
			newValues := mutate(row)
			newRow := Row{ID: row.ID, Values: newValues}
			newRec, err := EncodeRecord(schema, newRow, e.log)
			if err != nil {
				return updated, err
			}
			if len(newRec) != recordSize {
				// Cannot happen under the fixed-width codec today, but
				// kept as a hard guard: never silently truncate.
				overflowRows = append(overflowRows, newRow)
				continue
			}
			newRecords = append(newRecords, newRec)
			changed = true
			updated++
		}

		if changed {
			newPage, err := NewPage(newRecords, recordSize)
			if err != nil {
				// The rewritten page no longer fits: move every row
				// of this page out, leave the page empty, and reinsert
				// those rows through the ordinary first-fit path
				// instead of truncating (spec §9 bug fix (a)).
				e.log.Warn().Str("table", tableName).Int("block", b).
					Msg("update overflowed page, falling back to delete-then-reinsert")
				overflowRows = append(overflowRows, extractRowsPendingInsert(schema, newRecords)...)
				newPage, err = NewPage(nil, recordSize)
				if err != nil {
					return updated, err
				}
			}
			if err := t.heap.WritePage(BlockID(b), newPage); err != nil {
				return updated, err
			}
			if err := t.heap.Sync(); err != nil {
				return updated, err
			}
			e.reindexBlock(t, BlockID(b), newPage)
		}

		for _, row := range overflowRows {
			rec, err := EncodeRecord(schema, row, e.log)
			if err != nil {
				return updated, err
			}
			if err := e.insertEncoded(t, rec); err != nil {
				return updated, errs.Wrap(errs.OverflowOnUpdate, "reinsert after overflow", err)
			}
			updated++
		}
	}

	return updated, nil
}

// extractRowsPendingInsert decodes a slice of already-built records back
// into rows for the overflow-recovery path above.
func extractRowsPendingInsert(schema Schema, records [][]byte) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		if row, err := DecodeRecord(schema, rec); err == nil {
			rows = append(rows, row)
		}
	}
	return rows
}

// insertEncoded is Insert's first-fit body, reused by Update's overflow
// fallback so it does not need a row's logical values, only its already
// encoded record bytes.
func (e *Engine) insertEncoded(t *table, rec []byte) error {
	recordSize := t.heap.RecordSize()
	count, err := t.heap.BlockCount()
	if err != nil {
		return err
	}
	for b := 0; b < count; b++ {
		page, err := t.heap.ReadPage(BlockID(b))
		if err != nil {
			return err
		}
		newPage, err := Insert(page, rec, recordSize)
		if err != nil {
			continue
		}
		if err := t.heap.WritePage(BlockID(b), newPage); err != nil {
			return err
		}
		e.reindexBlock(t, BlockID(b), newPage)
		return t.heap.Sync()
	}
	newPage, err := NewPage([][]byte{rec}, recordSize)
	if err != nil {
		return err
	}
	block, err := t.heap.AppendPage(newPage)
	if err != nil {
		return err
	}
	e.reindexBlock(t, block, newPage)
	return t.heap.Sync()
}

// Delete removes matching rows, rewriting the file with them gone.
// Fully-empty pages are left in place (compaction of empty pages is a
// storage-level housekeeping concern, not required by any spec
// invariant, and is deliberately not done here to keep block ids stable
// for any in-flight index references).
func (e *Engine) Delete(tableName string, predicate Predicate) (int, error) {
	t, err := e.table(tableName)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	schema := t.heap.Schema()
	recordSize := t.heap.RecordSize()
	count, err := t.heap.BlockCount()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for b := 0; b < count; b++ {
		page, err := t.heap.ReadPage(BlockID(b))
		if err != nil {
			return deleted, err
		}
		records, err := Records(page, recordSize)
		if err != nil {
			return deleted, err
		}

		kept := make([][]byte, 0, len(records))
		changed := false
		for _, rec := range records {
			row, err := DecodeRecord(schema, rec)
			if err != nil {
				return deleted, err
			}
			ok, err := predicate.Matches(schema, row)
			if err != nil {
				return deleted, err
			}
			if ok {
				deleted++
				changed = true
				continue
			}
			kept = append(kept, rec)
		}

		if changed {
			newPage, err := NewPage(kept, recordSize)
			if err != nil {
				return deleted, err
			}
			if err := t.heap.WritePage(BlockID(b), newPage); err != nil {
				return deleted, err
			}
			if err := t.heap.Sync(); err != nil {
				return deleted, err
			}
			e.reindexBlock(t, BlockID(b), newPage)
		}
	}

	return deleted, nil
}

// RowByID fetches a single row by its stable identifier, used by the
// transaction core to read a row's before- and after-images and by
// recovery's REDO pass to skip an insert whose row is already present.
func (e *Engine) RowByID(tableName, id string) (Row, bool, error) {
	for row, err := range e.Read(tableName, nil) {
		if err != nil {
			return Row{}, false, err
		}
		if row.ID == id {
			return row, true, nil
		}
	}
	return Row{}, false, nil
}

// UpdateByID rewrites exactly the row identified by id to newValues, by
// identity rather than by predicate. The transaction core uses this for
// undo/redo compensation, where the only thing known is a row id and
// its image, not a predicate that would still select it.
func (e *Engine) UpdateByID(tableName, id string, newValues map[string]Value) (bool, error) {
	t, err := e.table(tableName)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	schema := t.heap.Schema()
	recordSize := t.heap.RecordSize()
	count, err := t.heap.BlockCount()
	if err != nil {
		return false, err
	}

	for b := 0; b < count; b++ {
		page, err := t.heap.ReadPage(BlockID(b))
		if err != nil {
			return false, err
		}
		records, err := Records(page, recordSize)
		if err != nil {
			return false, err
		}
		for i, rec := range records {
			row, err := DecodeRecord(schema, rec)
			if err != nil {
				return false, err
			}
			if row.ID != id {
				continue
			}
			newRec, err := EncodeRecord(schema, Row{ID: id, Values: newValues}, e.log)
			if err != nil {
				return false, err
			}
			newPage, err := ReplaceAt(page, i, newRec, recordSize)
			if err != nil {
				return false, err
			}
			if err := t.heap.WritePage(BlockID(b), newPage); err != nil {
				return false, err
			}
			if err := t.heap.Sync(); err != nil {
				return false, err
			}
			e.reindexBlock(t, BlockID(b), newPage)
			return true, nil
		}
	}
	return false, nil
}

// DeleteByID removes exactly the row identified by id, by identity
// rather than by predicate. See UpdateByID.
func (e *Engine) DeleteByID(tableName, id string) (bool, error) {
	t, err := e.table(tableName)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	schema := t.heap.Schema()
	recordSize := t.heap.RecordSize()
	count, err := t.heap.BlockCount()
	if err != nil {
		return false, err
	}

	for b := 0; b < count; b++ {
		page, err := t.heap.ReadPage(BlockID(b))
		if err != nil {
			return false, err
		}
		records, err := Records(page, recordSize)
		if err != nil {
			return false, err
		}
		for i, rec := range records {
			row, err := DecodeRecord(schema, rec)
			if err != nil {
				return false, err
			}
			if row.ID != id {
				continue
			}
			newPage, err := Remove(page, i, recordSize)
			if err != nil {
				return false, err
			}
			if err := t.heap.WritePage(BlockID(b), newPage); err != nil {
				return false, err
			}
			if err := t.heap.Sync(); err != nil {
				return false, err
			}
			e.reindexBlock(t, BlockID(b), newPage)
			return true, nil
		}
	}
	return false, nil
}
