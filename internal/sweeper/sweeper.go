// Package sweeper enforces the retention window: artifacts, inputs and rows of
// jobs that finished before the window are removed, and expired batches are purged.
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// pageSize bounds one repository read during a sweep.
const pageSize = 500

// repository lists and removes finished jobs.
type repository interface {
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// objectDeleter removes stored objects. Deleting a missing key is not an error.
type objectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// batchSweeper purges expired batch manifests.
type batchSweeper interface {
	Sweep(ctx context.Context) int
}

// Result summarizes one sweep.
type Result struct {
	Jobs    int
	Batches int
}

// Sweeper removes data older than the retention window.
type Sweeper struct {
	repo     repository
	storage  objectDeleter
	replicas objectDeleter
	batches  batchSweeper
	window   time.Duration
	now      func() time.Time
}

// New creates a Sweeper. batches may be nil when no batch store is in use.
func New(repo repository, storage objectDeleter, batches batchSweeper, window time.Duration) *Sweeper {
	return &Sweeper{repo: repo, storage: storage, batches: batches, window: window, now: time.Now}
}

// WithReplicas makes the sweep remove CDN replicas of expired artifacts.
func (s *Sweeper) WithReplicas(replicas objectDeleter) *Sweeper {
	s.replicas = replicas
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Sweep runs one retention pass. A job row is removed only after its objects
// were deleted, so a failed pass is picked up again by the next one.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	cutoff := s.now().Add(-s.window)

	for {
		jobs, err := s.repo.ListFinishedBefore(ctx, cutoff, pageSize)
		if err != nil {
			return res, err
		}

		removed := 0
		for _, j := range jobs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if !s.removeObjects(ctx, j) {
				continue
			}
			if err := s.repo.Delete(ctx, j.ID); err != nil {
				zlog.Logger.Warn().Err(err).Str("job_id", j.ID.String()).Msg("failed to delete expired job")
				continue
			}
			removed++
		}
		res.Jobs += removed

		if len(jobs) < pageSize || removed == 0 {
			break
		}
	}

	if s.batches != nil {
		res.Batches = s.batches.Sweep(ctx)
	}

	if res.Jobs > 0 || res.Batches > 0 {
		zlog.Logger.Info().Int("jobs", res.Jobs).Int("batches", res.Batches).Msg("retention sweep finished")
	}
	return res, nil
}

func (s *Sweeper) removeObjects(ctx context.Context, j model.Job) bool {
	ok := true
	for _, key := range []string{j.ResultKey, j.InputKey} {
		if key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, key); err != nil {
			zlog.Logger.Warn().Err(err).Str("job_id", j.ID.String()).Str("key", key).Msg("failed to delete expired object")
			ok = false
		}
	}

	if j.CDNURL == "" || j.ResultKey == "" {
		return ok
	}
	if s.replicas == nil {
		zlog.Logger.Warn().Str("job_id", j.ID.String()).Str("cdn_url", j.CDNURL).Msg("cdn disabled, replica left in place")
		return ok
	}
	if err := s.replicas.Delete(ctx, j.ResultKey); err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", j.ID.String()).Str("key", j.ResultKey).Msg("failed to delete expired replica")
		ok = false
	}
	return ok
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				zlog.Logger.Error().Err(err).Msg("retention sweep failed")
			}
		}
	}
}
