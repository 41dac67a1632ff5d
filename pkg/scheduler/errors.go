package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is matched by every error caused by cancellation of the
	// scheduler or of the caller's context.
	ErrCancelled = errors.New("cancelled")

	// ErrRetryExhausted is wrapped by a PageError once a transient failure
	// has been retried RetryLimit times.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// PageError is a permanent failure of one page request.
type PageError struct {
	Report   string
	Facility string
	Page     int
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	return fmt.Sprintf("%s/%s page %d failed after %d attempt(s): %v",
		e.Report, e.Facility, e.Page, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}

// cancelledError wraps cause so that it matches both ErrCancelled and cause.
func cancelledError(cause error) error {
	switch {
	case cause == nil:
		return ErrCancelled
	case errors.Is(cause, ErrCancelled):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}
