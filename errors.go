package safi

import (
	"errors"

	synerr "github.com/jnamaya/SAFi-sub001/internal/errors"
)

// Re-export the shared error taxonomy so callers compare against a single
// set of symbols.

// ErrOfflineNoCache: a read was attempted offline with nothing cached.
// Surface as "could not load, check connectivity."
var ErrOfflineNoCache = synerr.ErrOfflineNoCache

// ErrAuditGaveUp: the deferred-audit poll exhausted its attempt budget.
// The message stays pending; no further background retries happen.
var ErrAuditGaveUp = synerr.ErrAuditGaveUp

// ErrCreateUnconfirmed: a first-send conversation create could not be
// confirmed, so the message was not sent (there is no id to attach it to).
var ErrCreateUnconfirmed = errors.New("conversation create not confirmed; message not sent")

// Typed errors, usable with errors.As.
type (
	UnauthorizedError      = synerr.UnauthorizedError
	BadResponseFormatError = synerr.BadResponseFormatError
	RequestFailedError     = synerr.RequestFailedError
)

// IsUnauthorized reports whether err is a 401, meaning the caller should
// re-authenticate instead of falling back to cached data.
func IsUnauthorized(err error) bool { return synerr.IsUnauthorized(err) }

// IsBadResponseFormat reports whether err indicates a non-JSON or
// unparseable server response.
func IsBadResponseFormat(err error) bool { return synerr.IsBadResponseFormat(err) }
