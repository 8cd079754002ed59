package lockmgr

import (
	"testing"
	"time"

	"github.com/jpl-au/minirel/errs"
	"github.com/rs/zerolog"
)

func TestSharedLocksDoNotConflict(t *testing.T) {
	m := New(zerolog.Nop())
	m.Begin(1)
	m.Begin(2)

	if err := m.Validate(Read, "row:5", 1); err != nil {
		t.Fatalf("txn1 read: %v", err)
	}
	if err := m.Validate(Read, "row:5", 2); err != nil {
		t.Fatalf("txn2 read: %v", err)
	}
}

func TestExclusiveBlocksAndWaitDieKillsYounger(t *testing.T) {
	m := New(zerolog.Nop())
	m.Begin(10) // older
	m.Begin(11) // younger

	if err := m.Validate(Write, "row:5", 10); err != nil {
		t.Fatalf("txn10 write: %v", err)
	}

	// Younger transaction requesting a conflicting lock must die, not wait.
	err := m.Validate(Write, "row:5", 11)
	if err == nil || !errs.Is(err, errs.Deadlock) {
		t.Fatalf("expected Deadlock for younger transaction, got %v", err)
	}
}

func TestOlderTransactionWaitsThenProceeds(t *testing.T) {
	m := New(zerolog.Nop())
	m.Begin(1) // younger holder
	m.Begin(0) // older waiter, should wait not die

	if err := m.Validate(Write, "row:9", 1); err != nil {
		t.Fatalf("txn1 write: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Validate(Write, "row:9", 0)
	}()

	select {
	case <-done:
		t.Fatal("txn0 should still be waiting")
	case <-time.After(50 * time.Millisecond):
	}

	m.Commit(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("txn0 should have been granted the lock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("txn0 was never granted the lock after txn1 committed")
	}
}

func TestLockSetNeverShrinksBeforeCommitOrAbort(t *testing.T) {
	m := New(zerolog.Nop())
	m.Begin(1)
	m.Validate(Read, "a", 1)
	m.Validate(Write, "b", 1)

	info := m.txns[1]
	if len(info.locks) != 2 {
		t.Fatalf("expected 2 held locks before commit, got %d", len(info.locks))
	}
	m.Commit(1)
	if len(info.locks) != 0 {
		t.Fatalf("expected locks released after commit")
	}
	if m.IsActive(1) {
		t.Fatal("transaction should no longer be active after commit")
	}
}

func TestTransactionNeverAcquiringLockCommitsCleanly(t *testing.T) {
	m := New(zerolog.Nop())
	m.Begin(42)
	m.Commit(42)
	if m.IsActive(42) {
		t.Fatal("committed transaction must not be active")
	}
}
