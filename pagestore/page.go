// Slotted page layout: a fixed 4 KiB block holding a forward-growing
// record area and a backward-growing directory of 16-bit offsets
// (spec §4.1).
//
// Layout: bytes 0-1 = record count N; bytes 2-3 = directory-start offset;
// bytes 4..D = record data; bytes D..4096 = directory entries, one per
// record, written back to front. Insertion into a partially full page
// deserialises, appends, and re-packs — O(N) per insert, acceptable for a
// 4 KiB page (spec §4.1).
package pagestore

import (
	"encoding/binary"

	"github.com/jpl-au/minirel/errs"
)

const pageHeaderBytes = 4 // count (2) + directory-start offset (2)
const slotBytes = 2

// FreeSpace returns the number of bytes still available on a page that
// already holds count fixed-size records of recordSize bytes each.
func FreeSpace(recordSize, count int) int {
	return PageSize - pageHeaderBytes - count*(recordSize+slotBytes)
}

// NewPage packs an ordered list of fixed-size records into a fresh
// 4096-byte page. All records must be exactly recordSize bytes.
func NewPage(records [][]byte, recordSize int) ([]byte, error) {
	buf := make([]byte, PageSize)
	d := pageHeaderBytes // forward cursor
	e := PageSize         // backward cursor

	for _, rec := range records {
		if len(rec) != recordSize {
			return nil, errs.New(errs.SchemaMismatch, "record does not match page record size")
		}
		if d+len(rec) > e-slotBytes {
			return nil, errs.New(errs.OverflowOnUpdate, "records do not fit in one page")
		}
		copy(buf[d:d+len(rec)], rec)
		e -= slotBytes
		binary.LittleEndian.PutUint16(buf[e:e+slotBytes], uint16(d))
		d += len(rec)
	}

	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(records)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(e))
	return buf, nil
}

// Records deserialises a page's records in directory order (slot 0 is the
// page's first live record). recordSize must match the table's fixed
// schema size plus the per-record id length, but since id length varies
// per row, callers pass the page's uniform recordSize as tracked
// out-of-band by the heap file (see heap.go: one heap file = one fixed
// recordSize because row ids are hashed to a constant width).
func Records(page []byte, recordSize int) ([][]byte, error) {
	if len(page) != PageSize {
		return nil, errs.New(errs.PageCorrupt, "page is not exactly 4096 bytes")
	}
	n := int(binary.LittleEndian.Uint16(page[0:2]))
	if n < 0 {
		return nil, errs.New(errs.PageCorrupt, "negative record count")
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		dirOff := PageSize - slotBytes*(i+1)
		if dirOff < pageHeaderBytes || dirOff+slotBytes > PageSize {
			return nil, errs.New(errs.PageCorrupt, "directory entry out of bounds")
		}
		recOff := int(binary.LittleEndian.Uint16(page[dirOff : dirOff+slotBytes]))
		if recOff < pageHeaderBytes || recOff+recordSize > PageSize {
			return nil, errs.New(errs.PageCorrupt, "record offset out of bounds")
		}
		rec := make([]byte, recordSize)
		copy(rec, page[recOff:recOff+recordSize])
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the live record count stored in a page's header.
func Count(page []byte) int {
	return int(binary.LittleEndian.Uint16(page[0:2]))
}

// Insert deserialises a page, appends newRecord, and re-packs. Returns
// errs.OverflowOnUpdate if the result would not fit — the caller is then
// expected to allocate a new page instead (spec §4.2 first-fit insert).
func Insert(page []byte, newRecord []byte, recordSize int) ([]byte, error) {
	records, err := Records(page, recordSize)
	if err != nil {
		return nil, err
	}
	if len(newRecord) != recordSize {
		return nil, errs.New(errs.SchemaMismatch, "new record does not match page record size")
	}
	if FreeSpace(recordSize, len(records)) < recordSize+slotBytes {
		return nil, errs.New(errs.OverflowOnUpdate, "page has insufficient free space")
	}
	records = append(records, newRecord)
	return NewPage(records, recordSize)
}

// Remove deserialises a page and rewrites it without the record at slot
// index idx (used by delete). A page left with no records stays in the
// heap file; nothing compacts empty pages.
func Remove(page []byte, idx int, recordSize int) ([]byte, error) {
	records, err := Records(page, recordSize)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(records) {
		return nil, errs.New(errs.InternalInvariant, "remove index out of range")
	}
	records = append(records[:idx], records[idx+1:]...)
	return NewPage(records, recordSize)
}

// ReplaceAt deserialises a page and rewrites the record at slot idx with
// newRecord, which must be the same fixed size (used by in-place update
// when the row's encoded size does not change, which is always true for
// this engine's fixed-width schema — but kept general for clarity).
func ReplaceAt(page []byte, idx int, newRecord []byte, recordSize int) ([]byte, error) {
	records, err := Records(page, recordSize)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(records) {
		return nil, errs.New(errs.InternalInvariant, "replace index out of range")
	}
	if len(newRecord) != recordSize {
		return nil, errs.New(errs.SchemaMismatch, "replacement record does not match page record size")
	}
	records[idx] = newRecord
	return NewPage(records, recordSize)
}
