package kvstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Scopes expire ttl after their last write when ttl > 0.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]memoryEntry
	ttl    time.Duration
	now    func() time.Time
}

// MemoryOption customises the memory store.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		scopes: make(map[string]map[string]memoryEntry),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, scope, key string) ([]byte, error) {
	if err := validate(scope, key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.scopes[scope][key]
	if !ok || s.expired(entry) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Put implements Store. Writing refreshes the expiry of the whole scope, mirroring the Redis backend.
func (s *MemoryStore) Put(_ context.Context, scope, key string, value []byte) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.scopes[scope]
	if entries == nil {
		entries = make(map[string]memoryEntry)
		s.scopes[scope] = entries
	}
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl)
	}
	for k, e := range entries {
		if s.expired(e) {
			delete(entries, k)
			continue
		}
		e.expiresAt = expiresAt
		entries[k] = e
	}
	entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: expiresAt}
	return nil
}

// Delete implements Store. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, scope, key string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries, ok := s.scopes[scope]; ok {
		delete(entries, key)
		if len(entries) == 0 {
			delete(s.scopes, scope)
		}
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, scope string) (map[string][]byte, error) {
	if err := validate(scope, "-"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.scopes[scope]))
	for key, entry := range s.scopes[scope] {
		if s.expired(entry) {
			continue
		}
		out[key] = append([]byte(nil), entry.value...)
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt)
}
