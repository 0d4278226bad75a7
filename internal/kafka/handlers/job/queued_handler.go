package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// dispatcher hands a job to a free executor, blocking while the pool is busy.
type dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
}

// QueuedHandler handles Kafka messages for newly queued jobs.
type QueuedHandler struct {
	pool dispatcher
}

// NewQueuedHandler creates a new handler feeding the given pool.
func NewQueuedHandler(p dispatcher) *QueuedHandler {
	return &QueuedHandler{pool: p}
}

// Handle decodes a queued-job message and dispatches it.
// Malformed messages are logged and acknowledged so they do not block the partition.
func (h *QueuedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var task model.QueuedJob
	if err := json.Unmarshal(msg.Value, &task); err != nil || task.JobID == uuid.Nil {
		zlog.Logger.Warn().
			Str("message", string(msg.Value)).
			Msg("dropping malformed queued-job message")
		return nil
	}

	if err := h.pool.Dispatch(ctx, task.JobID); err != nil {
		return fmt.Errorf("dispatch job %s: %w", task.JobID, err)
	}

	return nil
}
