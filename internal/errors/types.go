// Package errors provides the error taxonomy and retry classification for
// the sync layer. Classification decides whether a failed write is retried
// with backoff or dead-lettered immediately.
package errors

import "fmt"

// Category determines how an error should be handled by retry logic.
type Category int

const (
	// Recoverable errors are retried with exponential backoff.
	// Examples: 5xx responses, network timeouts, connection failures.
	Recoverable Category = iota

	// Irrecoverable errors fail immediately without retry.
	// Examples: 400 Bad Request, 403 Forbidden, 404 Not Found.
	Irrecoverable
)

func (c Category) String() string {
	switch c {
	case Recoverable:
		return "recoverable"
	case Irrecoverable:
		return "irrecoverable"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ClassifiedError wraps an error with the category retry policies key off.
type ClassifiedError struct {
	Category   Category
	StatusCode int    // HTTP status code, 0 for non-HTTP errors
	Body       string // response body, when one was available
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error { return e.Underlying }

// IsIrrecoverable reports whether err should not be retried.
func IsIrrecoverable(err error) bool {
	if classified, ok := err.(*ClassifiedError); ok {
		return classified.Category == Irrecoverable
	}
	return false
}
