package service

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the service. Callers match them with errors.Is.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrNotFound              = errors.New("not found")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrNotStarted            = errors.New("service not started")

	errLedgerRequired = errors.New("a ledger is required")
)

// Error ties a failure to the operation that produced it.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

func wrapError(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// kindOf returns the service kind carried by err, or nil.
func kindOf(err error) error {
	for _, k := range []error{ErrInvalidArgument, ErrNotFound, ErrStorageUnavailable, ErrInternalInconsistency, ErrNotStarted} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func outcome(err error) string {
	switch kindOf(err) {
	case nil:
		if err == nil {
			return "ok"
		}
		return "error"
	case ErrInvalidArgument:
		return "invalid"
	case ErrNotFound:
		return "not_found"
	case ErrStorageUnavailable:
		return "unavailable"
	case ErrInternalInconsistency:
		return "inconsistent"
	default:
		return "error"
	}
}
