package errors

import (
	"errors"
	"fmt"
)

// ErrOfflineNoCache is returned when a read is attempted while offline and
// no cached response exists for the request.
var ErrOfflineNoCache = errors.New("offline and no cached response available")

// ErrAuditGaveUp is returned when audit polling exhausts its attempt budget
// without the server producing a result.
var ErrAuditGaveUp = errors.New("audit result not available after polling budget")

// UnauthorizedError marks an HTTP 401. Callers use it to trigger a
// re-login flow instead of an offline fallback.
type UnauthorizedError struct {
	Message string // server-provided message, when available
}

func (e *UnauthorizedError) Error() string {
	if e.Message != "" {
		return "unauthorized: " + e.Message
	}
	return "unauthorized"
}

// IsUnauthorized reports whether err is (or wraps) an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}

// BadResponseFormatError marks a 2xx response that was not usable JSON:
// wrong content type or a body that failed to parse. Always a server or
// proxy misconfiguration signal; never retried automatically.
type BadResponseFormatError struct {
	ContentType string
	Reason      string
}

func (e *BadResponseFormatError) Error() string {
	if e.ContentType != "" {
		return fmt.Sprintf("bad response format (%s): %s", e.ContentType, e.Reason)
	}
	return "bad response format: " + e.Reason
}

// IsBadResponseFormat reports whether err is (or wraps) a BadResponseFormatError.
func IsBadResponseFormat(err error) bool {
	var be *BadResponseFormatError
	return errors.As(err, &be)
}

// RequestFailedError carries a generic non-2xx outcome with the server's
// error text verbatim where one was provided.
type RequestFailedError struct {
	StatusCode int
	Body       string
}

func (e *RequestFailedError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("request failed: status %d", e.StatusCode)
}
