package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	jobhandler "github.com/aliskhannn/image-transcoder/internal/api/handlers/job"
	"github.com/aliskhannn/image-transcoder/internal/api/router"
	"github.com/aliskhannn/image-transcoder/internal/api/server"
	"github.com/aliskhannn/image-transcoder/internal/codec"
	"github.com/aliskhannn/image-transcoder/internal/config"
	"github.com/aliskhannn/image-transcoder/internal/delivery"
	"github.com/aliskhannn/image-transcoder/internal/executor"
	"github.com/aliskhannn/image-transcoder/internal/infra/kafka/consumer"
	"github.com/aliskhannn/image-transcoder/internal/infra/kafka/producer"
	jobmsg "github.com/aliskhannn/image-transcoder/internal/kafka/handlers/job"
	jobsvc "github.com/aliskhannn/image-transcoder/internal/service/job"
	"github.com/aliskhannn/image-transcoder/internal/sweeper"
)

// replicator is the optional CDN mirror.
type replicator interface {
	Replicate(ctx context.Context, key, contentType string, payload []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

func newServeCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the executor pool and the retention sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to initialise sentry, reporting disabled")
		}
		defer sentry.Flush(2 * time.Second)
	}

	d, err := newDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// A nil *cdn.Replicator must not reach the executor as a non-nil interface.
	var rep replicator
	if d.replicas != nil {
		rep = d.replicas
	}

	c := codec.New(codec.Options{
		MaxPixels: cfg.Executor.MaxPixels,
		VipsPath:  cfg.Executor.VipsPath,
		WorkDir:   cfg.Executor.WorkDir,
		Timeout:   cfg.Executor.JobTimeout,
	})

	exec := executor.New(d.jobs, d.storage, c, d.registry, rep, executor.Config{
		MaxRetries: cfg.Executor.MaxRetries,
		JobTimeout: cfg.Executor.JobTimeout,
	})
	pool := executor.NewPool(exec, d.jobs, executor.PoolConfig{
		Workers:        cfg.Executor.PoolSize(),
		QueueSize:      cfg.Executor.QueueSize,
		RescanInterval: cfg.Executor.RescanInterval,
		StaleAfter:     cfg.Executor.StaleAfter,
	})

	// Queued jobs are announced through Kafka when it is enabled, so any
	// instance of the group can pick them up; otherwise straight to the local pool.
	var notifier interface {
		Notify(ctx context.Context, id uuid.UUID) error
	} = pool

	var wg sync.WaitGroup
	var p *producer.Producer
	var cons *consumer.Consumer
	if cfg.Kafka.Enabled {
		p = producer.New(&cfg.Kafka, strategy)
		cons = consumer.New(&cfg.Kafka, strategy, jobmsg.NewQueuedHandler(pool))
		notifier = p

		wg.Add(1)
		go cons.Consume(ctx, &wg)
	}
	exec.SetNotifier(notifier)
	pool.Start(ctx)

	sw := sweeper.New(d.jobs, d.storage, d.batches, cfg.Retention.Window)
	if d.replicas != nil {
		sw.WithReplicas(d.replicas)
	}
	if cfg.Retention.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.Run(ctx, cfg.Retention.SweepInterval)
		}()
	}

	svc := jobsvc.NewService(d.registry, d.jobs, d.batches, d.storage, d.ledger, d.tiers, notifier)
	dl := delivery.New(d.jobs, d.batches, d.storage, d.registry, delivery.Config{
		ChunkSize:        cfg.Delivery.ChunkSize,
		ArchiveLevel:     cfg.Delivery.ArchiveLevel,
		SearchPrefixes:   cfg.Delivery.SearchPrefixes,
		SearchExtensions: cfg.Delivery.SearchExtensions,
	})
	h := jobhandler.NewHandler(svc, dl, d.ledger, cfg.Server.MaxUploadBytes)

	s := server.New(cfg.Server.HTTPPort, router.Setup(h, d.tiers))
	serverErr := make(chan error, 1)
	go func() {
		zlog.Logger.Info().Str("addr", s.Addr).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM) or the server fails.
	var runErr error
	select {
	case <-ctx.Done():
		zlog.Logger.Info().Msg("shutdown signal received")
	case runErr = <-serverErr:
		zlog.Logger.Error().Err(runErr).Msg("server stopped")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	pool.Wait()
	wg.Wait()

	if p != nil {
		if err := p.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if cons != nil {
		if err := cons.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}

	return runErr
}
