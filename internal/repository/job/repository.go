// Package job persists transcoding jobs.
//
// Every status change is a conditional update on the current status, so two
// executors racing for the same job can never both win a transition.
package job

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

var (
	// ErrJobNotFound is returned when no job has the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotClaimed is returned when a conditional transition found the job in another state.
	ErrNotClaimed = errors.New("job is not in the expected state")
)

// Completion is what an executor records for a successful job.
type Completion struct {
	ResultKey      string
	CompressedSize int64
	CDNURL         string // empty when the artifact was not replicated
}

// stale reports whether a queued job was last touched before the cutoff.
func stale(j model.Job, cutoff time.Time) bool {
	return j.Status == model.StatusQueued && j.UpdatedAt.Before(cutoff)
}

// finishedBefore reports whether a terminal job finished before the cutoff.
func finishedBefore(j model.Job, cutoff time.Time) bool {
	return j.Status.IsTerminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
