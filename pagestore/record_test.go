package pagestore

import (
	"testing"

	"github.com/rs/zerolog"
)

func testSchema() Schema {
	return Schema{
		TableName: "students",
		Columns: []Column{
			{Name: "id", Type: TypeInt, Length: 4},
			{Name: "name", Type: TypeString, Length: 16},
			{Name: "gpa", Type: TypeFloat, Length: 4},
		},
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	schema := testSchema()
	buf, err := EncodeHeader(schema)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	if len(buf) != PageSize {
		t.Fatalf("header must be %d bytes, got %d", PageSize, len(buf))
	}
	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if got.TableName != schema.TableName || len(got.Columns) != len(schema.Columns) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	for i, c := range schema.Columns {
		if got.Columns[i] != c {
			t.Fatalf("column %d mismatch: want %+v got %+v", i, c, got.Columns[i])
		}
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, PageSize)
	copy(buf, "xxxx")
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	schema := testSchema()
	row := Row{
		ID: "abc123",
		Values: map[string]Value{
			"id":   int32(1),
			"name": "Alice",
			"gpa":  float32(3.5),
		},
	}
	rec, err := EncodeRecord(schema, row, zerolog.Nop())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecord(schema, rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != row.ID {
		t.Fatalf("id mismatch: %q vs %q", got.ID, row.ID)
	}
	if got.Values["id"] != int32(1) || got.Values["name"] != "Alice" || got.Values["gpa"] != float32(3.5) {
		t.Fatalf("value mismatch: %+v", got.Values)
	}
}

func TestRecordTruncatesOverlongString(t *testing.T) {
	schema := testSchema()
	row := Row{
		ID: "x",
		Values: map[string]Value{
			"id":   int32(2),
			"name": "ThisNameIsWayTooLongForTheColumn",
			"gpa":  float32(1.0),
		},
	}
	rec, err := EncodeRecord(schema, row, zerolog.Nop())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecord(schema, rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Values["name"].(string)) != 16 {
		t.Fatalf("expected truncation to 16 bytes, got %q", got.Values["name"])
	}
}

func TestPageRoundTrip(t *testing.T) {
	schema := testSchema()
	recordSize := RecordByteSize(schema, 6)
	var recs [][]byte
	for i := 0; i < 5; i++ {
		row := Row{ID: "id0000", Values: map[string]Value{"id": int32(i), "name": "n", "gpa": float32(i)}}
		rec, err := EncodeRecord(schema, row, zerolog.Nop())
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		recs = append(recs, rec)
	}

	page, err := NewPage(recs, recordSize)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	if len(page) != PageSize {
		t.Fatalf("page must be 4096 bytes")
	}

	got, err := Records(page, recordSize)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("record count mismatch: want %d got %d", len(recs), len(got))
	}
	for i := range recs {
		if string(got[i]) != string(recs[i]) {
			t.Fatalf("record %d mismatch", i)
		}
	}
}

func TestPageInsertBoundary(t *testing.T) {
	schema := testSchema()
	recordSize := RecordByteSize(schema, 6)

	// Fill a page with as many records as fit; the free space left over
	// is then smaller than one more record plus its slot.
	perPage := FreeSpace(recordSize, 0) / (recordSize + slotBytes)
	var recs [][]byte
	for i := 0; i < perPage; i++ {
		row := Row{ID: "id0000", Values: map[string]Value{"id": int32(i), "name": "n", "gpa": float32(i)}}
		rec, _ := EncodeRecord(schema, row, zerolog.Nop())
		recs = append(recs, rec)
	}
	page, err := NewPage(recs, recordSize)
	if err != nil {
		t.Fatalf("build full page: %v", err)
	}

	extra := Row{ID: "id0000", Values: map[string]Value{"id": int32(999), "name": "n", "gpa": float32(0)}}
	extraRec, _ := EncodeRecord(schema, extra, zerolog.Nop())

	if _, err := Insert(page, extraRec, recordSize); err == nil {
		t.Fatal("expected overflow once the page is exactly full")
	}
}

func TestFreeSpaceInvariant(t *testing.T) {
	schema := testSchema()
	recordSize := RecordByteSize(schema, 6)
	for n := 0; n < 50; n++ {
		fs := FreeSpace(recordSize, n)
		used := pageHeaderBytes + n*(recordSize+slotBytes)
		if used > PageSize {
			continue
		}
		if fs != PageSize-used {
			t.Fatalf("free space invariant violated at n=%d", n)
		}
	}
}
