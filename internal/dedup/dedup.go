// Package dedup tracks processed order ids for a bounded window so
// redelivered webhooks are rejected instead of re-forwarded.
package dedup

import (
	"sync"
	"time"
)

// DefaultTTL is the window during which a processed order id is remembered.
const DefaultTTL = 24 * time.Hour

// Store abstracts the dedup backend. The memory store is a single-process
// best-effort guard; horizontally scaled deployments swap in a shared
// backend implementing the same capability.
type Store interface {
	// IsDuplicate is a point-in-time membership check with no side effects.
	IsDuplicate(orderID string) bool
	// MarkProcessed records the id; the entry expires after the TTL.
	MarkProcessed(orderID string)
	// Size reports the number of ids currently tracked.
	Size() int
	// Clear drops all tracked ids.
	Clear()
}

// Now returns current time. Split for testability.
var Now = time.Now

// MemoryStore is a thread-safe in-memory Store. State does not survive a
// restart; destination-side reference-number reconciliation is the backstop.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	expires map[string]time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, expires: make(map[string]time.Time)}
}

func (s *MemoryStore) IsDuplicate(orderID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.expires[orderID]
	return ok && Now().Before(exp)
}

func (s *MemoryStore) MarkProcessed(orderID string) {
	now := Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	// Sweep expired entries while we hold the write lock; keeps the map
	// bounded without a background janitor.
	for id, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, id)
		}
	}
	s.expires[orderID] = now.Add(s.ttl)
}

func (s *MemoryStore) Size() int {
	now := Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, exp := range s.expires {
		if now.Before(exp) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.expires = make(map[string]time.Time)
	s.mu.Unlock()
}
