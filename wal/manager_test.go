package wal

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func openTestManager(t *testing.T, interval int) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(dir, Config{CheckpointInterval: interval, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestBeginNotForcedButCommitIs(t *testing.T) {
	m := openTestManager(t, 100)
	if _, err := m.Begin(1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	entries, err := ReadAll(m.Path())
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("begin must not force a flush, found %d entries on disk", len(entries))
	}

	if err := m.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	entries, err = ReadAll(m.Path())
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected BEGIN+COMMIT on disk after commit, got %d", len(entries))
	}
	if entries[0].Op != OpBegin || entries[1].Op != OpCommit {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestInsertUpdateDeleteRoundTripImages(t *testing.T) {
	m := openTestManager(t, 100)
	m.Begin(1)
	m.Insert(1, "accounts", "row1", map[string]any{"id": float64(1), "bal": float64(1000)})
	m.Update(1, "accounts", "row1", map[string]any{"bal": float64(1000)}, map[string]any{"bal": float64(900)})
	m.Delete(1, "accounts", "row1", map[string]any{"bal": float64(900)})
	if err := m.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	entries, err := ReadAll(m.Path())
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	ins, upd, del := entries[1], entries[2], entries[3]
	if ins.After["bal"] != float64(1000) {
		t.Fatalf("insert after-image wrong: %+v", ins.After)
	}
	if upd.Before["bal"] != float64(1000) || upd.After["bal"] != float64(900) {
		t.Fatalf("update images wrong: before=%+v after=%+v", upd.Before, upd.After)
	}
	if del.Before["bal"] != float64(900) {
		t.Fatalf("delete before-image wrong: %+v", del.Before)
	}
}

func TestCheckpointEveryTenCommits(t *testing.T) {
	m := openTestManager(t, 10)
	for i := 0; i < 9; i++ {
		m.Begin(i)
		if err := m.Commit(i); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	entries, err := ReadAll(m.Path())
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	for _, e := range entries {
		if e.Op == OpCheckpoint {
			t.Fatal("no checkpoint expected before the 10th commit")
		}
	}

	m.Begin(100)
	if err := m.Commit(100); err != nil {
		t.Fatalf("commit 10th: %v", err)
	}
	entries, err = ReadAll(m.Path())
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 1 || entries[0].Op != OpCheckpoint {
		t.Fatalf("expected a fresh log containing only the checkpoint entry, got %+v", entries)
	}

	segments, err := filepath.Glob(filepath.Join(m.dir, "segments", "*.wal.zst"))
	if err != nil {
		t.Fatalf("glob segments: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected exactly one archived segment, got %d", len(segments))
	}
}

func TestReadAllToleratesTornFinalLine(t *testing.T) {
	m := openTestManager(t, 100)
	m.Begin(1)
	if err := m.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := m.file.WriteString("not-a-valid-entry"); err != nil {
		t.Fatalf("corrupt write: %v", err)
	}

	entries, err := ReadAll(m.Path())
	if err != nil {
		t.Fatalf("expected torn final line to be tolerated, got error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected the 2 well-formed entries preserved, got %d", len(entries))
	}
}

func TestCheckpointOffsetFindsMostRecent(t *testing.T) {
	entries := []Entry{
		{LSN: 0, Op: OpBegin},
		{LSN: 1, Op: OpCommit},
		{LSN: 2, Op: OpCheckpoint},
		{LSN: 3, Op: OpBegin},
		{LSN: 4, Op: OpCommit},
		{LSN: 5, Op: OpCheckpoint},
		{LSN: 6, Op: OpBegin},
	}
	if off := CheckpointOffset(entries); off != 5 {
		t.Fatalf("expected offset 5, got %d", off)
	}
}
