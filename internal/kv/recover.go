package kv

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// SetWithRecovery persists value under key; on a quota failure it runs
// evict once and retries the single failed write once. The second failure
// is returned to the caller, which is expected to drop the write rather
// than deadlock storage.
func SetWithRecovery(ctx context.Context, s Store, key string, value []byte, evict func(context.Context) error) error {
	err := s.Set(ctx, key, value)
	if !errors.Is(err, ErrQuotaExceeded) || evict == nil {
		return err
	}
	log.Warn().Str("key", key).Msg("kv: quota exceeded, evicting old cache")
	if evictErr := evict(ctx); evictErr != nil {
		log.Error().Err(evictErr).Msg("kv: eviction failed")
		return err
	}
	return s.Set(ctx, key, value)
}
