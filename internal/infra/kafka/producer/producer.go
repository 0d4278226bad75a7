package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-transcoder/internal/config"
	"github.com/aliskhannn/image-transcoder/internal/model"
)

// Producer publishes queued-job notifications to Kafka.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
}

// New creates a new Producer for the configured topic.
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		Client:   wbfkafka.NewProducer(cfg.Brokers, cfg.Topic),
		strategy: s,
	}
}

// Notify announces a queued job. The job id is the message key, so redeliveries
// of the same job land on the same partition.
func (p *Producer) Notify(ctx context.Context, id uuid.UUID) error {
	data, err := json.Marshal(model.QueuedJob{JobID: id})
	if err != nil {
		return fmt.Errorf("failed to marshal queued job: %w", err)
	}

	if err := p.Client.SendWithRetry(ctx, p.strategy, []byte(id.String()), data); err != nil {
		return fmt.Errorf("failed to send queued job %s: %w", id, err)
	}

	return nil
}

// Close closes the underlying writer.
func (p *Producer) Close() error {
	return p.Client.Close()
}
