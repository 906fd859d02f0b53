package auth

import (
	"context"
	"sync"
	"time"
)

// TokenStore is a key-value cache with per-key expiration backing issued
// session tokens. Expired keys behave exactly like absent keys.
type TokenStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

type memoryTokenEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenStore keeps token state in process memory. It is safe for
// concurrent use and primarily intended for tests and single-instance
// deployments.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	entries map[string]memoryTokenEntry
}

// NewMemoryTokenStore constructs an in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]memoryTokenEntry)}
}

// Set records the value for key, overwriting any existing entry.
func (s *MemoryTokenStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = memoryTokenEntry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Get retrieves the value for key. Expired entries are reported absent and
// removed.
func (s *MemoryTokenStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Delete removes the entry for key. Deleting an absent key is not an error.
func (s *MemoryTokenStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes any expired entries from the store.
func (s *MemoryTokenStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory token store.
func (s *MemoryTokenStore) Ping(context.Context) error {
	return nil
}
