// Heap file: one file per table, a 4096-byte header page followed by
// zero or more 4096-byte data pages (spec §3, §6).
//
// File access is sandboxed through an *os.Root the same way folio.DB
// opens its document file under a root directory handle — every table a
// Storage Engine manages lives under one such root, so a path traversal
// in a table name can never escape the data directory.
package pagestore

import (
	"io"
	"os"

	"github.com/jpl-au/minirel/errs"
)

// BlockID identifies a data page within a heap file, zero-indexed; block
// 0 is the first data page, at byte offset HeaderSize in the file.
type BlockID int64

// HeapFile is one table's on-disk heap: header page + data pages.
type HeapFile struct {
	root   *os.Root
	name   string
	schema Schema
	file   *os.File
	// idLen is the fixed byte length of every row id in this table,
	// computed once at create/open time so record sizes stay uniform —
	// row ids are always a fixed-width xxh3 hex digest (see engine.go).
	idLen int
}

// CreateHeapFile creates a new table file with the given schema. Fails
// if the file already exists.
func CreateHeapFile(root *os.Root, schema Schema, idLen int) (*HeapFile, error) {
	hdr, err := EncodeHeader(schema)
	if err != nil {
		return nil, err
	}

	f, err := root.Create(schema.TableName)
	if err != nil {
		return nil, errs.Wrap(errs.TableNotFound, "create table file", err)
	}
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.InternalInvariant, "write table header", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.InternalInvariant, "sync table header", err)
	}
	f.Close()

	return OpenHeapFile(root, schema.TableName, idLen)
}

// OpenHeapFile opens an existing table file and reads its header.
func OpenHeapFile(root *os.Root, name string, idLen int) (*HeapFile, error) {
	f, err := root.OpenFile(name, os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.TableNotFound, "open table file "+name, err)
	}

	hdrBuf := make([]byte, PageSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.PageCorrupt, "read table header", err)
	}
	schema, err := DecodeHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &HeapFile{root: root, name: name, schema: schema, file: f, idLen: idLen}, nil
}

// Close closes the underlying file handle.
func (h *HeapFile) Close() error {
	return h.file.Close()
}

// Schema returns the table's immutable schema.
func (h *HeapFile) Schema() Schema { return h.schema }

// RecordSize is the fixed on-disk size of one record in this heap file,
// including the row-id length prefix.
func (h *HeapFile) RecordSize() int {
	return RecordByteSize(h.schema, h.idLen)
}

// BlockCount returns the number of data pages currently in the file.
func (h *HeapFile) BlockCount() (int, error) {
	info, err := h.file.Stat()
	if err != nil {
		return 0, errs.Wrap(errs.InternalInvariant, "stat table file", err)
	}
	if info.Size() < PageSize {
		return 0, errs.New(errs.PageCorrupt, "table file shorter than one header page")
	}
	dataBytes := info.Size() - PageSize
	if dataBytes%PageSize != 0 {
		return 0, errs.New(errs.PageCorrupt, "table file length not a whole number of pages")
	}
	return int(dataBytes / PageSize), nil
}

// ReadPage reads one data page by block id.
func (h *HeapFile) ReadPage(id BlockID) ([]byte, error) {
	buf := make([]byte, PageSize)
	off := PageSize + int64(id)*PageSize
	if _, err := h.file.ReadAt(buf, off); err != nil {
		if err == io.EOF {
			return nil, errs.New(errs.PageCorrupt, "read past end of file")
		}
		return nil, errs.Wrap(errs.PageCorrupt, "read data page", err)
	}
	return buf, nil
}

// WritePage writes one data page by block id. The page must already
// exist (use AppendPage to grow the file).
func (h *HeapFile) WritePage(id BlockID, page []byte) error {
	if len(page) != PageSize {
		return errs.New(errs.InternalInvariant, "page write must be exactly 4096 bytes")
	}
	off := PageSize + int64(id)*PageSize
	if _, err := h.file.WriteAt(page, off); err != nil {
		return errs.Wrap(errs.InternalInvariant, "write data page", err)
	}
	return nil
}

// AppendPage appends a new data page at the end of the file and returns
// its block id.
func (h *HeapFile) AppendPage(page []byte) (BlockID, error) {
	if len(page) != PageSize {
		return 0, errs.New(errs.InternalInvariant, "page append must be exactly 4096 bytes")
	}
	count, err := h.BlockCount()
	if err != nil {
		return 0, err
	}
	if err := h.WritePage(BlockID(count), page); err != nil {
		return 0, err
	}
	return BlockID(count), nil
}

// Sync forces the heap file to stable storage — used for write-through
// durability of the REDO pass (spec §4.2: "page writes are write-through").
func (h *HeapFile) Sync() error {
	return h.file.Sync()
}
