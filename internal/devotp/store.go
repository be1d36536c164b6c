// Package devotp captures delivered one-time codes for local retrieval when
// NOTIFY_MODE=dev. It is never wired in production.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds the latest code per target address until it expires.
type Store interface {
	// Put stores code for address until expiresAt, replacing any previous code.
	Put(ctx context.Context, address, code string, expiresAt time.Time) error
	// Get returns the code for address. ok is false when it is missing or expired.
	Get(ctx context.Context, address string) (code string, ok bool, err error)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for address until expiresAt.
func (s *MemoryStore) Put(_ context.Context, address, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[address] = entry{code: code, expiresAt: expiresAt}
	return nil
}

// Get returns the code for address if present and not expired. Expired
// entries are dropped.
func (s *MemoryStore) Get(_ context.Context, address string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.m[address]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, address)
		s.mu.Unlock()
		return "", false, nil
	}
	return e.code, true, nil
}
