// Package coreerr defines the error taxonomy shared by every storage and
// transaction component (spec §7). Components return one of these sentinel
// kinds, wrapped with context via fmt.Errorf("...: %w", err), so callers can
// use errors.Is/errors.As regardless of which component produced the error.
package coreerr

import "errors"

// Kind classifies an error for routing/retry policy decisions.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyExists
	KindLockConflict
	KindLockTimeout
	KindValidationFailed
	KindChecksumMismatch
	KindIoError
	KindOutOfMemory
	KindStorageFull
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindLockConflict:
		return "LockConflict"
	case KindLockTimeout:
		return "LockTimeout"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindIoError:
		return "IoError"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindStorageFull:
		return "StorageFull"
	case KindInvalidInput:
		return "InvalidInput"
	default:
		return "Internal"
	}
}

// Error wraps a Kind with component-specific context.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error for op, optionally wrapping a cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether the first *Error found in err's chain has the given
// Kind; *Error values wrapped further down are not consulted.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel values for simple comparisons where no op-specific context is needed.
var (
	ErrNotFound           = New(KindNotFound, "lookup", nil)
	ErrAlreadyExists      = New(KindAlreadyExists, "create", nil)
	ErrLockConflict       = New(KindLockConflict, "acquire", nil)
	ErrLockTimeout        = New(KindLockTimeout, "acquire", nil)
	ErrValidationFailed   = New(KindValidationFailed, "commit", nil)
	ErrChecksumMismatch   = New(KindChecksumMismatch, "read", nil)
	ErrStorageFull        = New(KindStorageFull, "write", nil)
	ErrInvalidInput       = New(KindInvalidInput, "validate", nil)
	ErrTxnNotActive       = New(KindInvalidInput, "txn", errors.New("transaction is not active"))
)
