package model

import (
	"time"

	"github.com/google/uuid"
)

// Batch is a client-submitted group of independent jobs sharing one settings snapshot.
// Its status is always derived from the constituent jobs.
type Batch struct {
	ID        uuid.UUID   `json:"id"`
	Owner     string      `json:"owner"`
	JobIDs    []uuid.UUID `json:"job_ids"`
	Settings  Settings    `json:"settings"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the batch has outlived its retention window.
func (b Batch) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && !now.Before(b.ExpiresAt)
}

// BatchState summarizes the constituent jobs of a batch.
type BatchState string

const (
	BatchPending  BatchState = "pending"
	BatchComplete BatchState = "complete"
	BatchPartial  BatchState = "partial"
	BatchFailed   BatchState = "failed"
)

// BatchStatus is the derived view of a batch.
type BatchStatus struct {
	Total      int        `json:"total"`
	Queued     int        `json:"queued"`
	Processing int        `json:"processing"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	State      BatchState `json:"state"`
}

// DeriveBatchStatus computes the batch view. Jobs missing from jobs (for example
// cancelled while queued) count towards total as failed.
func DeriveBatchStatus(total int, jobs []Job) BatchStatus {
	st := BatchStatus{Total: total}
	for _, j := range jobs {
		switch j.Status {
		case StatusQueued:
			st.Queued++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
	}
	if missing := total - len(jobs); missing > 0 {
		st.Failed += missing
	}

	switch {
	case st.Queued+st.Processing > 0:
		st.State = BatchPending
	case st.Failed == 0:
		st.State = BatchComplete
	case st.Completed == 0:
		st.State = BatchFailed
	default:
		st.State = BatchPartial
	}
	return st
}
