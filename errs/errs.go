// Package errs defines the closed set of error kinds shared across the
// engine. Every subsystem wraps its failures in an *Error carrying one of
// these kinds so callers can switch on category (spec §7) instead of
// matching on message text or package-local sentinels.
package errs

import "fmt"

// Kind is a closed enumeration of the error categories the engine can
// surface to a caller.
type Kind int

const (
	// SyntaxError covers lexer/parser failures: bad tokens, unexpected
	// end of input, malformed clauses.
	SyntaxError Kind = iota + 1
	// UnsupportedConstruct covers syntactically valid SQL the frontend
	// deliberately does not implement (spec Non-goals).
	UnsupportedConstruct
	// TableNotFound covers a reference to a table with no heap file.
	TableNotFound
	// SchemaMismatch covers a row, literal, or column reference that does
	// not conform to a table's fixed schema.
	SchemaMismatch
	// PageCorrupt covers a slotted page whose directory or record data
	// fails structural validation.
	PageCorrupt
	// OverflowOnUpdate covers an update whose new encoding no longer fits
	// in its page and could not be relocated.
	OverflowOnUpdate
	// LockConflict covers a lock request denied by a live conflict.
	LockConflict
	// Deadlock covers a lock request denied by wait-die avoidance.
	Deadlock
	// LogCorrupt covers a WAL whose LSN ordering or framing is invalid.
	LogCorrupt
	// RecoveryFailed covers any fatal failure during REDO/UNDO recovery.
	RecoveryFailed
	// InternalInvariant covers a violated internal invariant — a bug,
	// not a user-facing condition.
	InternalInvariant
)

func (k Kind) String() string {
	switch k {
	case SyntaxError:
		return "SyntaxError"
	case UnsupportedConstruct:
		return "UnsupportedConstruct"
	case TableNotFound:
		return "TableNotFound"
	case SchemaMismatch:
		return "SchemaMismatch"
	case PageCorrupt:
		return "PageCorrupt"
	case OverflowOnUpdate:
		return "OverflowOnUpdate"
	case LockConflict:
		return "LockConflict"
	case Deadlock:
		return "Deadlock"
	case LogCorrupt:
		return "LogCorrupt"
	case RecoveryFailed:
		return "RecoveryFailed"
	case InternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error is the engine-wide error type. It always carries a Kind so a
// caller several layers up the pipeline can still classify the failure
// after it has been wrapped by intermediate %w calls.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing cause, preserving it for
// errors.Is/errors.As while attaching a kind and a human message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
