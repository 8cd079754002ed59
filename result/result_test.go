package result

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/exec"
)

func seqOf(rows []exec.Row, failAt int, failErr error) func(func(exec.Row, error) bool) {
	return func(yield func(exec.Row, error) bool) {
		for i, r := range rows {
			if i == failAt {
				yield(exec.Row{}, failErr)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestAssembleSuccessCollectsAllRows(t *testing.T) {
	rows := []exec.Row{
		{ID: "1", Values: map[string]any{"t.a": int32(1)}},
		{ID: "2", Values: map[string]any{"t.a": int32(2)}},
	}
	res := Assemble(seqOf(rows, -1, nil), 7)
	require.True(t, res.Success, "message: %s", res.Message)
	require.Equal(t, 7, res.TransactionID)
	require.Equal(t, 2, res.RowCount)
	require.Len(t, res.Rows, 2)
}

func TestAssembleFailureHidesPartialRows(t *testing.T) {
	rows := []exec.Row{
		{ID: "1", Values: map[string]any{"t.a": int32(1)}},
	}
	failErr := errs.New(errs.SchemaMismatch, "bad column")
	res := Assemble(seqOf(rows, 1, failErr), 3)
	require.False(t, res.Success)
	require.Nil(t, res.Rows)
	kind, ok := res.Kind()
	require.True(t, ok)
	require.Equal(t, errs.SchemaMismatch, kind)
}

func TestAssembleFailureOnFirstRow(t *testing.T) {
	failErr := errs.New(errs.TableNotFound, "no such table")
	seq := func(yield func(exec.Row, error) bool) {
		yield(exec.Row{}, failErr)
	}
	res := Assemble(seq, 1)
	require.False(t, res.Success)
	require.Nil(t, res.Rows)
}

func TestFailureEnvelope(t *testing.T) {
	err := errs.New(errs.SyntaxError, "unexpected token")
	res := Failure(err, 9)
	require.False(t, res.Success)
	require.Equal(t, 9, res.TransactionID)
	require.Nil(t, res.Rows)
	kind, ok := res.Kind()
	require.True(t, ok)
	require.Equal(t, errs.SyntaxError, kind)
}

func TestKindFalseWhenNoError(t *testing.T) {
	res := Result{Success: true}
	_, ok := res.Kind()
	require.False(t, ok)
}
