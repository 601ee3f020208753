// Package kv provides the durable key-value store backing the sync layer.
//
// Two backends exist: a bbolt file database for hosts with a writable data
// directory, and an in-memory store used as a fallback and in tests. Both
// treat an unreadable or corrupt value as a miss rather than an error so a
// partially written record can never wedge a read path.
package kv

import (
	"context"
	"errors"
)

// ErrQuotaExceeded distinguishes a Set that failed because the backing
// storage is full. Callers are expected to run eviction and retry once.
var ErrQuotaExceeded = errors.New("kv: storage quota exceeded")

// Store is the persistence contract shared by every sync component.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key. A missing, corrupt, or unreadable
	// value reports ok=false with a nil error.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set persists value under key, overwriting any previous value.
	// A storage-full failure is reported as ErrQuotaExceeded.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists all keys with the given prefix, in unspecified order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Open performs the startup capability check: if path points at a usable
// location a BoltStore is returned, otherwise the store degrades to memory.
func Open(path string) Store {
	if path != "" {
		if s, err := OpenBolt(path); err == nil {
			return s
		}
	}
	return NewMemStore()
}
