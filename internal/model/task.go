package model

import "github.com/google/uuid"

// QueuedJob is the queue message announcing that a job is ready to be claimed.
type QueuedJob struct {
	JobID uuid.UUID `json:"job_id"`
}
