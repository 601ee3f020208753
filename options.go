package safi

// This file defines functional options that configure the Client during
// construction. Keeping them in a standalone file avoids cluttering
// client.go and makes it easy to discover all available knobs at a glance.

import (
	"fmt"
	"time"

	"github.com/jnamaya/SAFi-sub001/internal/kv"
)

// Option configures a Client during construction in New.
//
// Options are applied before the token transport wrapper is installed, so
// transport-related options (like debug logging) sit underneath it.
// Options must be deterministic and side-effect free.
type Option func(*Client) error

// WithHTTPTimeout sets the underlying http.Client Timeout used by the SDK.
//
// Prefer per-request context deadlines where possible; this timeout is a
// coarse safety net that bounds the total time spent on a single HTTP
// request. The value must be greater than zero.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.Timeout = d
		return nil
	}
}

// WithDebugLogging wraps the client's transport so each request/response
// is logged when enabled is true. Dumps include bodies; keep it out of
// production.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		if enabled {
			c.http.Transport = &debugTransport{base: c.http.Transport}
		}
		return nil
	}
}

// WithStore injects the durable key-value store. Defaults to an
// in-memory store, which loses state on restart.
func WithStore(s Store) Option {
	return func(c *Client) error {
		if s == nil {
			return fmt.Errorf("store cannot be nil")
		}
		c.store = s
		return nil
	}
}

// WithStoragePath opens a file-backed store at path, degrading to memory
// when the location is not usable.
func WithStoragePath(path string) Option {
	return func(c *Client) error {
		c.store = kv.Open(path)
		return nil
	}
}

// WithProbe injects the platform connectivity capability. Defaults to a
// probe that always reports online.
func WithProbe(p Probe) Option {
	return func(c *Client) error {
		if p == nil {
			return fmt.Errorf("probe cannot be nil")
		}
		c.probe = p
		return nil
	}
}

// WithRenderer injects the UI consumer. Defaults to a no-op.
func WithRenderer(r Renderer) Option {
	return func(c *Client) error {
		if r == nil {
			return fmt.Errorf("renderer cannot be nil")
		}
		c.renderer = r
		return nil
	}
}

// WithTokenStore injects the auth token capability. Defaults to a store
// backed by the client's key-value store.
func WithTokenStore(t TokenStore) Option {
	return func(c *Client) error {
		if t == nil {
			return fmt.Errorf("token store cannot be nil")
		}
		c.tokens = t
		return nil
	}
}

// WithQueueRetry tunes the write queue's per-entry retry schedule: up to
// maxAttempts flushes per entry, with exponential backoff growing from
// base to maxInterval. Zero values keep the defaults.
func WithQueueRetry(maxAttempts int, base, maxInterval time.Duration) Option {
	return func(c *Client) error {
		c.queueCfg.MaxAttempts = maxAttempts
		c.queueCfg.BaseBackoff = base
		c.queueCfg.MaxInterval = maxInterval
		return nil
	}
}

// WithAuditPolling tunes the deferred-audit poll loop: one request per
// interval, up to maxAttempts, after which the message stays pending.
func WithAuditPolling(interval time.Duration, maxAttempts int) Option {
	return func(c *Client) error {
		if interval <= 0 || maxAttempts <= 0 {
			return fmt.Errorf("audit polling interval and attempts must be > 0")
		}
		c.auditInterval = interval
		c.auditAttempts = maxAttempts
		return nil
	}
}
