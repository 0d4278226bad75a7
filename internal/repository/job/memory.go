package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// MemoryRepository keeps jobs in process. It follows the same conditional
// transition rules as the PostgreSQL repository and serves single-node mode and tests.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]model.Job
	now  func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[uuid.UUID]model.Job),
		now:  time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *MemoryRepository) WithClock(now func() time.Time) *MemoryRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

// Create inserts the jobs as queued; either all are stored or none.
func (r *MemoryRepository) Create(_ context.Context, jobs []model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, j := range jobs {
		if _, ok := r.jobs[j.ID]; ok {
			return ErrNotClaimed
		}
	}
	for _, j := range jobs {
		j.Status = model.StatusQueued
		j.ResultKey = ""
		j.CompressedSize = 0
		j.CreatedAt = now
		j.UpdatedAt = now
		r.jobs[j.ID] = j
	}
	return nil
}

// Get retrieves a job by id.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}
	return j, nil
}

// ListByIDs returns the jobs that still exist among ids.
func (r *MemoryRepository) ListByIDs(_ context.Context, ids []uuid.UUID) ([]model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Job
	for _, id := range uniqueIDs(ids) {
		if j, ok := r.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

// Claim atomically moves a queued job to processing and returns it.
func (r *MemoryRepository) Claim(_ context.Context, id uuid.UUID) (model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != model.StatusQueued {
		return model.Job{}, ErrNotClaimed
	}

	now := r.now()
	j.Status = model.StatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	r.jobs[id] = j
	return j, nil
}

// Release undoes the claim of a processing job that was interrupted before it
// produced an outcome. The retry count is left as it was.
func (r *MemoryRepository) Release(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != model.StatusProcessing || j.CancelRequested {
		return ErrNotClaimed
	}

	j.Status = model.StatusQueued
	j.StartedAt = nil
	j.UpdatedAt = r.now()
	r.jobs[id] = j
	return nil
}

// Complete records the artifact of a processing job that was not cancelled.
func (r *MemoryRepository) Complete(_ context.Context, id uuid.UUID, c Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != model.StatusProcessing || j.CancelRequested {
		return ErrNotClaimed
	}

	now := r.now()
	j.Status = model.StatusCompleted
	j.ResultKey = c.ResultKey
	j.CompressedSize = c.CompressedSize
	j.CDNURL = c.CDNURL
	j.FinishedAt = &now
	j.UpdatedAt = now
	r.jobs[id] = j
	return nil
}

// Fail records the error classification of a processing job.
func (r *MemoryRepository) Fail(_ context.Context, id uuid.UUID, kind model.ErrorKind, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != model.StatusProcessing {
		return ErrNotClaimed
	}

	now := r.now()
	j.Status = model.StatusFailed
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.FinishedAt = &now
	j.UpdatedAt = now
	r.jobs[id] = j
	return nil
}

// Requeue moves a failed, retry-eligible job back to queued.
func (r *MemoryRepository) Requeue(_ context.Context, id uuid.UUID, maxRetries int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || !j.RetryEligible(maxRetries) || j.CancelRequested {
		return false, nil
	}

	j.Status = model.StatusQueued
	j.RetryCount++
	j.ErrorKind = model.ErrorNone
	j.ErrorMessage = ""
	j.StartedAt = nil
	j.FinishedAt = nil
	j.UpdatedAt = r.now()
	r.jobs[id] = j
	return true, nil
}

// CancelQueued removes a job that has not been claimed yet.
func (r *MemoryRepository) CancelQueued(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != model.StatusQueued {
		return false, nil
	}
	delete(r.jobs, id)
	return true, nil
}

// RequestCancel flags a processing job so its result is discarded.
func (r *MemoryRepository) RequestCancel(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != model.StatusProcessing {
		return false, nil
	}
	j.CancelRequested = true
	j.UpdatedAt = r.now()
	r.jobs[id] = j
	return true, nil
}

// ListStaleQueued returns ids of queued jobs not touched since cutoff, oldest first.
func (r *MemoryRepository) ListStaleQueued(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	var found []model.Job
	for _, j := range r.jobs {
		if stale(j, cutoff) {
			found = append(found, j)
		}
	}
	r.mu.Unlock()

	sort.Slice(found, func(a, b int) bool { return found[a].UpdatedAt.Before(found[b].UpdatedAt) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	ids := make([]uuid.UUID, len(found))
	for i, j := range found {
		ids[i] = j.ID
	}
	return ids, nil
}

// ListFinishedBefore returns terminal jobs that finished before cutoff.
func (r *MemoryRepository) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]model.Job, error) {
	r.mu.Lock()
	var found []model.Job
	for _, j := range r.jobs {
		if finishedBefore(j, cutoff) {
			found = append(found, j)
		}
	}
	r.mu.Unlock()

	sort.Slice(found, func(a, b int) bool { return found[a].FinishedAt.Before(*found[b].FinishedAt) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// Delete removes a job.
func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}
