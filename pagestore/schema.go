// Table schema definition and the file-header codec.
//
// A schema is an ordered list of fixed-width columns, written exactly
// once into the file header at table creation (spec §3, §6) and never
// changed afterward — there is no schema evolution in this engine.
package pagestore

import (
	"encoding/binary"

	"github.com/jpl-au/minirel/errs"
	"golang.org/x/crypto/blake2b"
)

// ColumnType is the closed set of column types spec §3 allows.
type ColumnType uint8

const (
	TypeInt ColumnType = 1 << iota
	TypeFloat
	TypeString
)

func (t ColumnType) code() byte {
	switch t {
	case TypeInt:
		return 1
	case TypeFloat:
		return 2
	case TypeString:
		return 3
	default:
		return 0
	}
}

func columnTypeFromCode(code byte) (ColumnType, bool) {
	switch code {
	case 1:
		return TypeInt, true
	case 2:
		return TypeFloat, true
	case 3:
		return TypeString, true
	default:
		return 0, false
	}
}

// Column describes one fixed-width field of a row.
type Column struct {
	Name   string
	Type   ColumnType
	Length int // byte length on disk; for Int/Float this is always 4
}

// Schema is the ordered, immutable column list for one table.
type Schema struct {
	TableName string
	Columns   []Column
}

// ColumnByName returns the column and its ordinal position, or false if
// no column with that name exists.
func (s Schema) ColumnByName(name string) (Column, int, bool) {
	for i, c := range s.Columns {
		if c.Name == name {
			return c, i, true
		}
	}
	return Column{}, -1, false
}

// RecordSize is the fixed on-disk byte length of one encoded row,
// excluding the length-prefixed row-id (which is variable length and
// written separately, see record.go).
func (s Schema) RecordSize() int {
	n := 0
	for _, c := range s.Columns {
		switch c.Type {
		case TypeInt, TypeFloat:
			n += 4
		case TypeString:
			n += c.Length
		}
	}
	return n
}

// --- File header ---
//
// Bytes 0-3: ASCII magic "mDBM"; bytes 4-7: version (1); bytes 8-39: table
// name (32 bytes, zero padded); bytes 40-43: column count; then per
// column: 32 bytes name, 1 byte type code, 4 bytes declared length. A
// trailing 8-byte blake2b digest of everything before it is written just
// before the 4096-byte pad boundary so header corruption (a flipped byte
// in the schema itself, as opposed to a corrupt data page) can be
// detected without scanning every data page — the same role folio's
// hash() family plays for document identity, repurposed here for header
// integrity.

const (
	magic            = "mDBM"
	headerVersion    = 1
	tableNameBytes   = 32
	columnNameBytes  = 32
	columnEntryBytes = columnNameBytes + 1 + 4
	checksumBytes    = 8
	// PageSize is the fixed page size for header and data pages alike.
	PageSize = 4096
)

func maxColumns() int {
	// everything before the column directory plus the trailing checksum
	fixed := 4 + 4 + tableNameBytes + 4 + checksumBytes
	return (PageSize - fixed) / columnEntryBytes
}

// EncodeHeader serialises a schema into the fixed 4096-byte header page.
func EncodeHeader(s Schema) ([]byte, error) {
	if len(s.TableName) == 0 || len(s.TableName) > tableNameBytes {
		return nil, errs.New(errs.SchemaMismatch, "table name must be 1-32 bytes")
	}
	if len(s.Columns) > maxColumns() {
		return nil, errs.New(errs.SchemaMismatch, "too many columns for one header page")
	}

	buf := make([]byte, PageSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], headerVersion)
	copy(buf[8:8+tableNameBytes], padASCII(s.TableName, tableNameBytes))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(s.Columns)))

	off := 44
	for _, c := range s.Columns {
		if len(c.Name) == 0 || len(c.Name) > columnNameBytes {
			return nil, errs.New(errs.SchemaMismatch, "column name must be 1-32 bytes: "+c.Name)
		}
		code := c.Type.code()
		if code == 0 {
			return nil, errs.New(errs.SchemaMismatch, "unknown column type for "+c.Name)
		}
		copy(buf[off:off+columnNameBytes], padASCII(c.Name, columnNameBytes))
		buf[off+columnNameBytes] = code
		binary.LittleEndian.PutUint32(buf[off+columnNameBytes+1:off+columnNameBytes+5], uint32(c.Length))
		off += columnEntryBytes
	}

	sum := blake2bSum8(buf[:off])
	copy(buf[PageSize-checksumBytes:PageSize], sum[:])
	return buf, nil
}

// DecodeHeader parses the fixed 4096-byte header page back into a Schema.
func DecodeHeader(buf []byte) (Schema, error) {
	if len(buf) != PageSize {
		return Schema{}, errs.New(errs.PageCorrupt, "header page must be exactly 4096 bytes")
	}
	if string(buf[0:4]) != magic {
		return Schema{}, errs.New(errs.PageCorrupt, "bad magic in table header")
	}
	if binary.LittleEndian.Uint32(buf[4:8]) != headerVersion {
		return Schema{}, errs.New(errs.PageCorrupt, "unsupported table file version")
	}

	name := trimASCII(buf[8 : 8+tableNameBytes])
	count := int(binary.LittleEndian.Uint32(buf[40:44]))
	if count < 0 || count > maxColumns() {
		return Schema{}, errs.New(errs.PageCorrupt, "implausible column count")
	}

	cols := make([]Column, 0, count)
	off := 44
	for i := 0; i < count; i++ {
		if off+columnEntryBytes > PageSize-checksumBytes {
			return Schema{}, errs.New(errs.PageCorrupt, "column directory overruns header page")
		}
		cname := trimASCII(buf[off : off+columnNameBytes])
		code := buf[off+columnNameBytes]
		ctype, ok := columnTypeFromCode(code)
		if !ok {
			return Schema{}, errs.New(errs.PageCorrupt, "unknown column type code")
		}
		length := int(binary.LittleEndian.Uint32(buf[off+columnNameBytes+1 : off+columnNameBytes+5]))
		cols = append(cols, Column{Name: cname, Type: ctype, Length: length})
		off += columnEntryBytes
	}

	want := blake2bSum8(buf[:off])
	got := buf[PageSize-checksumBytes : PageSize]
	for i := range want {
		if want[i] != got[i] {
			return Schema{}, errs.New(errs.PageCorrupt, "header checksum mismatch")
		}
	}

	return Schema{TableName: name, Columns: cols}, nil
}

func blake2bSum8(data []byte) [checksumBytes]byte {
	h, _ := blake2b.New(checksumBytes, nil)
	h.Write(data)
	var out [checksumBytes]byte
	copy(out[:], h.Sum(nil))
	return out
}

func padASCII(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func trimASCII(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}
