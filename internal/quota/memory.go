package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]Counter
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]Counter)}
}

// Get returns the stored counter for key, zero if absent.
func (s *MemoryStore) Get(_ context.Context, key string) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

// Add rolls the counter over if its window elapsed, then adds n.
func (s *MemoryStore) Add(_ context.Context, key string, n int, now time.Time, length time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key].current(now, length)
	c.Count += n
	s.counters[key] = c
	return c, nil
}

// Set overwrites a counter. Intended for tests and migrations.
func (s *MemoryStore) Set(key string, c Counter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = c
}
