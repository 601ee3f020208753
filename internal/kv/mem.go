package kv

import (
	"context"
	"strings"
	"sync"
)

// MemStore is an in-memory Store. It backs hosts without a writable data
// directory and every test in this module. A quota can be injected to
// exercise the eviction path.
type MemStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	quota int // total byte budget across values; 0 means unlimited
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// SetQuota caps the total stored bytes. Sets that would exceed the cap
// fail with ErrQuotaExceeded.
func (s *MemStore) SetQuota(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = n
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota > 0 {
		total := len(value)
		for k, v := range s.data {
			if k != key {
				total += len(v)
			}
		}
		if total > s.quota {
			return ErrQuotaExceeded
		}
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemStore) Close() error { return nil }
