package writeup

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline stages.
var (
	ErrTransientFetch     = errors.New("transient fetch failure")
	ErrPermanentFetch     = errors.New("permanent fetch failure")
	ErrRetryExhausted     = errors.New("retry limit exhausted")
	ErrExtractionSkipped  = errors.New("extraction skipped")
	ErrBatchSubmission    = errors.New("batch submission failed")
	ErrIndexAlreadyExists = errors.New("index already exists")
	ErrNotFound           = errors.New("not found")
)

// FetchError reports a failed retrieval of one identifier.
type FetchError struct {
	ID         ID
	StatusCode int
	Kind       error
	Cause      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %v", e.ID, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}
