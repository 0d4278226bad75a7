package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
)

// ErrSaturated is returned by Enqueue when every dispatch slot is taken.
// The job stays queued and is picked up by the stale rescan.
var ErrSaturated = errors.New("executor pool is saturated")

// runner processes one job.
type runner interface {
	Execute(ctx context.Context, id uuid.UUID) error
}

// staleLister finds queued jobs that nobody picked up.
type staleLister interface {
	ListStaleQueued(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Workers        int
	QueueSize      int
	RescanInterval time.Duration // 0 disables the rescan
	StaleAfter     time.Duration
}

// Pool runs a bounded number of executors in parallel.
type Pool struct {
	runner runner
	stale  staleLister
	cfg    PoolConfig

	queue chan uuid.UUID
	wg    sync.WaitGroup
}

// NewPool creates a Pool. stale may be nil to disable the rescan.
func NewPool(r runner, stale staleLister, cfg PoolConfig) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	return &Pool{
		runner: r,
		stale:  stale,
		cfg:    cfg,
		queue:  make(chan uuid.UUID, cfg.QueueSize),
	}
}

// Start launches the workers and the rescan loop. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	if p.stale != nil && p.cfg.RescanInterval > 0 {
		p.wg.Add(1)
		go p.rescanLoop(ctx)
	}

	zlog.Logger.Info().Int("workers", p.cfg.Workers).Int("queue", p.cfg.QueueSize).Msg("executor pool started")
}

// Wait blocks until all workers have stopped.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Enqueue hands a job to the pool without blocking.
func (p *Pool) Enqueue(id uuid.UUID) error {
	select {
	case p.queue <- id:
		return nil
	default:
		return ErrSaturated
	}
}

// Notify implements Notifier for single-process deployments.
func (p *Pool) Notify(_ context.Context, id uuid.UUID) error {
	return p.Enqueue(id)
}

// Dispatch hands a job to the pool, waiting for a free slot.
func (p *Pool) Dispatch(ctx context.Context, id uuid.UUID) error {
	select {
	case p.queue <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			if err := p.runner.Execute(ctx, id); err != nil {
				zlog.Logger.Error().Err(err).Str("job_id", id.String()).Msg("job execution error")
			}
		}
	}
}

func (p *Pool) rescanLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Rescan(ctx)
		}
	}
}

// Rescan re-dispatches queued jobs older than StaleAfter until the pool saturates.
// It returns the number of jobs dispatched.
func (p *Pool) Rescan(ctx context.Context) int {
	if p.stale == nil {
		return 0
	}

	cutoff := time.Now().Add(-p.cfg.StaleAfter)
	ids, err := p.stale.ListStaleQueued(ctx, cutoff, cap(p.queue))
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("stale rescan failed")
		return 0
	}

	dispatched := 0
	for _, id := range ids {
		if err := p.Enqueue(id); err != nil {
			break
		}
		dispatched++
	}

	if dispatched > 0 {
		zlog.Logger.Info().Int("jobs", dispatched).Msg("re-dispatched stale queued jobs")
	}
	return dispatched
}
