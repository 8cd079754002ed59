// Log entry format and factory constructors (spec §3, §4.4).
//
// Every entry is (LSN, timestamp, txn id, op, table, row id, before,
// after). Before/after are opaque JSON payloads (row values are typed,
// so a JSON object is the natural shape — the same role folio.Record's
// _d/_h fields play for document content, goccy-encoded here too) and
// are base64-wrapped in the text line so a string column value
// containing the field delimiter can never corrupt the framing.
package wal

import (
	"encoding/base64"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/jpl-au/minirel/errs"
)

// Op is the closed set of log operations spec §3 defines.
type Op int

const (
	OpBegin Op = iota
	OpInsert
	OpUpdate
	OpDelete
	OpCommit
	OpAbort
	OpCheckpoint
)

func (o Op) String() string {
	switch o {
	case OpBegin:
		return "BEGIN"
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpCommit:
		return "COMMIT"
	case OpAbort:
		return "ABORT"
	case OpCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

func opFromString(s string) (Op, bool) {
	switch s {
	case "BEGIN":
		return OpBegin, true
	case "INSERT":
		return OpInsert, true
	case "UPDATE":
		return OpUpdate, true
	case "DELETE":
		return OpDelete, true
	case "COMMIT":
		return OpCommit, true
	case "ABORT":
		return OpAbort, true
	case "CHECKPOINT":
		return OpCheckpoint, true
	default:
		return 0, false
	}
}

// Entry is one WAL record.
type Entry struct {
	LSN       int64
	Timestamp int64
	TxnID     int
	Op        Op
	Table     string
	RowID     string
	Before    map[string]any // nil when not applicable
	After     map[string]any
}

func newEntry(op Op, txn int, table, rowID string, before, after map[string]any) Entry {
	return Entry{TxnID: txn, Op: op, Table: table, RowID: rowID, Before: before, After: after}
}

// NewBegin builds a BEGIN entry.
func NewBegin(txn int) Entry { return newEntry(OpBegin, txn, "", "", nil, nil) }

// NewCommit builds a COMMIT entry.
func NewCommit(txn int) Entry { return newEntry(OpCommit, txn, "", "", nil, nil) }

// NewAbort builds an ABORT entry.
func NewAbort(txn int) Entry { return newEntry(OpAbort, txn, "", "", nil, nil) }

// NewCheckpoint builds a CHECKPOINT entry.
func NewCheckpoint() Entry { return newEntry(OpCheckpoint, 0, "", "", nil, nil) }

// NewInsert builds an INSERT entry carrying the after-image only.
func NewInsert(txn int, table, rowID string, after map[string]any) Entry {
	return newEntry(OpInsert, txn, table, rowID, nil, after)
}

// NewUpdate builds an UPDATE entry carrying before and after images.
func NewUpdate(txn int, table, rowID string, before, after map[string]any) Entry {
	return newEntry(OpUpdate, txn, table, rowID, before, after)
}

// NewDelete builds a DELETE entry carrying the before-image only.
func NewDelete(txn int, table, rowID string, before map[string]any) Entry {
	return newEntry(OpDelete, txn, table, rowID, before, nil)
}

const fieldSep = "|"

// serialize renders an entry as one pipe-delimited text line (no
// trailing newline; the caller appends one).
func (e Entry) serialize() (string, error) {
	beforeTxt, err := encodeImage(e.Before)
	if err != nil {
		return "", err
	}
	afterTxt, err := encodeImage(e.After)
	if err != nil {
		return "", err
	}
	fields := []string{
		strconv.FormatInt(e.LSN, 10),
		strconv.FormatInt(e.Timestamp, 10),
		strconv.Itoa(e.TxnID),
		e.Op.String(),
		e.Table,
		e.RowID,
		beforeTxt,
		afterTxt,
	}
	return strings.Join(fields, fieldSep), nil
}

func parseEntry(line string) (Entry, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) != 8 {
		return Entry{}, errs.New(errs.LogCorrupt, "log line does not have 8 fields")
	}
	lsn, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Entry{}, errs.Wrap(errs.LogCorrupt, "bad LSN", err)
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entry{}, errs.Wrap(errs.LogCorrupt, "bad timestamp", err)
	}
	txn, err := strconv.Atoi(fields[2])
	if err != nil {
		return Entry{}, errs.Wrap(errs.LogCorrupt, "bad txn id", err)
	}
	op, ok := opFromString(fields[3])
	if !ok {
		return Entry{}, errs.New(errs.LogCorrupt, "unknown op: "+fields[3])
	}
	before, err := decodeImage(fields[6])
	if err != nil {
		return Entry{}, err
	}
	after, err := decodeImage(fields[7])
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		LSN: lsn, Timestamp: ts, TxnID: txn, Op: op,
		Table: fields[4], RowID: fields[5], Before: before, After: after,
	}, nil
}

func encodeImage(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", errs.Wrap(errs.InternalInvariant, "encode log image", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeImage(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.LogCorrupt, "bad base64 image", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errs.Wrap(errs.LogCorrupt, "bad JSON image", err)
	}
	return m, nil
}
