package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/config"
)

// fetchBackoff is the pause after a fetch that failed every retry attempt.
const fetchBackoff = 500 * time.Millisecond

// queuedHandler handles queued-job messages.
type queuedHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer reads queued-job notifications and hands them to the executor pool.
type Consumer struct {
	Client   *wbfkafka.Consumer
	handler  queuedHandler
	topic    string
	strategy retry.Strategy
}

// New creates a new Consumer joined to the configured group.
func New(cfg *config.Kafka, s retry.Strategy, h queuedHandler) *Consumer {
	return &Consumer{
		Client:   wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID),
		handler:  h,
		topic:    cfg.Topic,
		strategy: s,
	}
}

// Consume fetches messages until ctx is cancelled. A message is committed only
// after the handler accepted it; unhandled messages are redelivered to the group.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().Str("topic", c.topic).Msg("starting consumer")

	for {
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Err(err).Msg("failed to fetch message")
			select {
			case <-ctx.Done():
			case <-time.After(fetchBackoff):
			}
			continue
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Str("message", string(msg.Value)).
				Msg("failed to dispatch queued job")
			continue
		}

		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Debug().
			Int64("offset", msg.Offset).
			Str("key", string(msg.Key)).
			Msg("message handled")
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.Client.Close()
}
