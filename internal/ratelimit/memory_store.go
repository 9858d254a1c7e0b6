package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemStore is a map-backed Store for tests and single-node deployments
// without Redis.
type MemStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
	}
}

func (m *MemStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(key)
	m.counts[key]++
	return m.counts[key], nil
}

func (m *MemStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = time.Now().Add(ttl)
	return nil
}

func (m *MemStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expires[key]
	if !ok {
		return 0, nil
	}
	return time.Until(exp), nil
}

func (m *MemStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.counts, key)
		delete(m.expires, key)
	}
	return nil
}

func (m *MemStore) reapLocked(key string) {
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.counts, key)
		delete(m.expires, key)
	}
}
