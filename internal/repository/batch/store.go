// Package batch keeps batch manifests for the length of the retention window.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// ErrBatchNotFound is returned for unknown or expired batches.
var ErrBatchNotFound = errors.New("batch not found")

// Store is a mutex-guarded, time-bounded batch manifest store.
// Expired batches are invisible to Get and removed by Sweep.
type Store struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]model.Batch
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a Store whose batches expire ttl after creation.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		batches: make(map[uuid.UUID]model.Batch),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Create stores b, stamping its creation and expiry times.
func (s *Store) Create(_ context.Context, b model.Batch) (model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b.CreatedAt = now
	b.ExpiresAt = now.Add(s.ttl)
	b.JobIDs = append([]uuid.UUID(nil), b.JobIDs...)
	s.batches[b.ID] = b
	return b, nil
}

// Get returns a live batch.
func (s *Store) Get(_ context.Context, id uuid.UUID) (model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok || b.Expired(s.now()) {
		return model.Batch{}, ErrBatchNotFound
	}
	b.JobIDs = append([]uuid.UUID(nil), b.JobIDs...)
	return b, nil
}

// Sweep removes expired batches and returns how many were removed.
func (s *Store) Sweep(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, b := range s.batches {
		if b.Expired(now) {
			delete(s.batches, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored batches, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}
