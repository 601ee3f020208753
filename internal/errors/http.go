package errors

import "fmt"

// ClassifyHTTPError maps an HTTP failure to a retry category:
// 4xx client errors (except 408/429) are irrecoverable, 5xx and
// network-level errors are recoverable.
func ClassifyHTTPError(statusCode int, body string, underlying error) *ClassifiedError {
	return &ClassifiedError{
		Category:   httpCategory(statusCode),
		StatusCode: statusCode,
		Body:       body,
		Underlying: underlying,
	}
}

func httpCategory(statusCode int) Category {
	switch {
	case statusCode >= 400 && statusCode < 500:
		switch statusCode {
		case 408, 429: // timeouts and throttling clear up on their own
			return Recoverable
		default:
			return Irrecoverable
		}
	default:
		// 5xx and anything unexpected: be conservative and retry.
		return Recoverable
	}
}

// NewHTTPError builds a classified error for a non-2xx response.
func NewHTTPError(statusCode int, body, operation string) *ClassifiedError {
	return ClassifyHTTPError(statusCode, body, fmt.Errorf("%s failed: HTTP %d", operation, statusCode))
}

// NewNetworkError builds a classified error for a transport-level failure.
// Network errors are always recoverable since they may be transient.
func NewNetworkError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}
