package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is a locally detected precondition failure. It never
	// reaches the ledger.
	ErrInvalidInput = errors.New("invalid input")
	// ErrLedgerUnavailable means the ledger could not be read at all.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrPartialRead marks a single failed join; it is recorded as a
	// snapshot warning and never returned from a synchronization.
	ErrPartialRead = errors.New("partial read failure")
	// ErrRejectedByLedger means the ledger refused the state transition.
	ErrRejectedByLedger = errors.New("rejected by ledger")
	// ErrSubmissionTimeout means finality was not observed in time. The
	// write may still land; synchronize before retrying.
	ErrSubmissionTimeout = errors.New("submission timeout")
	// ErrConnectivityLost means the write could not be dispatched.
	ErrConnectivityLost = errors.New("connectivity lost")
	// ErrNameRequired means the display name gate was not satisfied.
	ErrNameRequired = errors.New("display name required")
)

// LedgerError is a classified failure of a ledger call.
type LedgerError struct {
	Kind   error
	Op     string
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *LedgerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewLedgerError builds a LedgerError of the given kind.
func NewLedgerError(kind error, op, reason string, cause error) *LedgerError {
	return &LedgerError{Kind: kind, Op: op, Reason: reason, Err: cause}
}

// InvalidInputf returns an ErrInvalidInput with a formatted detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the caller may retry the same request as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, ErrConnectivityLost) ||
		errors.Is(err, ErrSubmissionTimeout)
}

// Reason returns the human-readable reason carried by err, preferring the
// ledger's own reason when one was recovered.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var le *LedgerError
	if errors.As(err, &le) && le.Reason != "" {
		return le.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return err.Error()
}
