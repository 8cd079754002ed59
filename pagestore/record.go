// Fixed-length row encode/decode against a table schema.
//
// A record on disk is a length-prefixed row-id followed by one fixed-width
// field per schema column, in schema order. Row identity survives update
// (folio's _id/label split plays the same role: the label never changes
// even though content does); here the id is prepended to every record so
// it travels with the row through insert, update, and delete.
package pagestore

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/jpl-au/minirel/errs"
	"github.com/rs/zerolog"
)

// Value is whatever a column holds: int32, float32, or string.
type Value any

// Row is a mapping from column name to typed value plus a stable
// identifier used as a lock-target and a log-target (spec §3).
type Row struct {
	ID     string
	Values map[string]Value
}

// idLengthBytes is the width of the row-id length prefix.
const idLengthBytes = 2

// EncodeRecord packs a row into its fixed-width on-disk representation:
// [2-byte id length][id bytes][column data in schema order].
func EncodeRecord(schema Schema, row Row, log zerolog.Logger) ([]byte, error) {
	if len(row.ID) > math.MaxUint16 {
		return nil, errs.New(errs.SchemaMismatch, "row id too long")
	}

	buf := make([]byte, idLengthBytes+len(row.ID)+schema.RecordSize())
	binary.LittleEndian.PutUint16(buf[0:idLengthBytes], uint16(len(row.ID)))
	off := idLengthBytes
	copy(buf[off:off+len(row.ID)], row.ID)
	off += len(row.ID)

	for _, col := range schema.Columns {
		v, ok := row.Values[col.Name]
		if !ok {
			return nil, errs.New(errs.SchemaMismatch, "missing value for column "+col.Name)
		}
		switch col.Type {
		case TypeInt:
			iv, ok := toInt32(v)
			if !ok {
				return nil, errs.New(errs.SchemaMismatch, "column "+col.Name+" expects int")
			}
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(iv))
			off += 4
		case TypeFloat:
			fv, ok := toFloat32(v)
			if !ok {
				return nil, errs.New(errs.SchemaMismatch, "column "+col.Name+" expects float")
			}
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(fv))
			off += 4
		case TypeString:
			sv, ok := v.(string)
			if !ok {
				return nil, errs.New(errs.SchemaMismatch, "column "+col.Name+" expects string")
			}
			if len(sv) > col.Length {
				log.Warn().Str("column", col.Name).Int("declared", col.Length).
					Int("actual", len(sv)).Msg("string value truncated to declared column length")
				sv = sv[:col.Length]
			}
			field := make([]byte, col.Length)
			copy(field, sv)
			copy(buf[off:off+col.Length], field)
			off += col.Length
		}
	}
	return buf, nil
}

// DecodeRecord is the inverse of EncodeRecord: strings are right-trimmed
// of NUL padding.
func DecodeRecord(schema Schema, data []byte) (Row, error) {
	if len(data) < idLengthBytes {
		return Row{}, errs.New(errs.PageCorrupt, "record shorter than id length prefix")
	}
	idLen := int(binary.LittleEndian.Uint16(data[0:idLengthBytes]))
	off := idLengthBytes
	if off+idLen > len(data) {
		return Row{}, errs.New(errs.PageCorrupt, "record id length overruns record")
	}
	id := string(data[off : off+idLen])
	off += idLen

	want := schema.RecordSize()
	if len(data)-off != want {
		return Row{}, errs.New(errs.SchemaMismatch, "record body does not match schema size")
	}

	values := make(map[string]Value, len(schema.Columns))
	for _, col := range schema.Columns {
		switch col.Type {
		case TypeInt:
			values[col.Name] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		case TypeFloat:
			values[col.Name] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		case TypeString:
			raw := data[off : off+col.Length]
			values[col.Name] = strings.TrimRight(string(raw), "\x00")
			off += col.Length
		}
	}
	return Row{ID: id, Values: values}, nil
}

// RecordByteSize returns the total on-disk size of a record for this
// schema and row-id length, including the id length prefix.
func RecordByteSize(schema Schema, idLen int) int {
	return idLengthBytes + idLen + schema.RecordSize()
}

func toInt32(v Value) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		return int32(x), true
	case int64:
		return int32(x), true
	case float64:
		// Recovery round-trips row images through JSON (wal.Entry
		// before/after), which decodes every number as float64.
		return int32(x), true
	}
	return 0, false
}

func toFloat32(v Value) (float32, bool) {
	switch x := v.(type) {
	case float32:
		return x, true
	case float64:
		return float32(x), true
	case int32:
		return float32(x), true
	case int:
		return float32(x), true
	}
	return 0, false
}
