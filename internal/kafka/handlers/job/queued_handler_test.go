package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

type recordingPool struct {
	ids []uuid.UUID
	err error
}

func (p *recordingPool) Dispatch(_ context.Context, id uuid.UUID) error {
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, id)
	return nil
}

func TestHandleDispatchesJob(t *testing.T) {
	pool := &recordingPool{}
	h := NewQueuedHandler(pool)

	id := uuid.New()
	value, _ := json.Marshal(model.QueuedJob{JobID: id})

	if err := h.Handle(context.Background(), kafka.Message{Key: []byte(id.String()), Value: value}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(pool.ids) != 1 || pool.ids[0] != id {
		t.Fatalf("expected %s to be dispatched, got %v", id, pool.ids)
	}
}

func TestHandleDropsMalformedMessage(t *testing.T) {
	pool := &recordingPool{}
	h := NewQueuedHandler(pool)

	for _, value := range []string{"not json", `{"job_id":"00000000-0000-0000-0000-000000000000"}`} {
		if err := h.Handle(context.Background(), kafka.Message{Value: []byte(value)}); err != nil {
			t.Fatalf("malformed message %q should be acknowledged, got %v", value, err)
		}
	}
	if len(pool.ids) != 0 {
		t.Fatalf("nothing should be dispatched, got %v", pool.ids)
	}
}

func TestHandleReportsDispatchFailure(t *testing.T) {
	pool := &recordingPool{err: context.Canceled}
	h := NewQueuedHandler(pool)

	value, _ := json.Marshal(model.QueuedJob{JobID: uuid.New()})
	err := h.Handle(context.Background(), kafka.Message{Value: value})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected dispatch error to surface, got %v", err)
	}
}
