package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

type blockingRunner struct {
	release chan struct{}
}

func (r blockingRunner) Execute(ctx context.Context, _ uuid.UUID) error {
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return nil
}

type staticLister struct {
	ids []uuid.UUID
}

func (l staticLister) ListStaleQueued(_ context.Context, _ time.Time, limit int) ([]uuid.UUID, error) {
	if limit > 0 && len(l.ids) > limit {
		return l.ids[:limit], nil
	}
	return l.ids, nil
}

type recordingRunner struct {
	mu   sync.Mutex
	seen []uuid.UUID
}

func (r *recordingRunner) Execute(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, id)
	return nil
}

func TestEnqueueSaturates(t *testing.T) {
	p := NewPool(blockingRunner{release: make(chan struct{})}, nil, PoolConfig{Workers: 1, QueueSize: 2})

	for i := 0; i < 2; i++ {
		if err := p.Enqueue(uuid.New()); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	if err := p.Enqueue(uuid.New()); !errors.Is(err, ErrSaturated) {
		t.Fatalf("expected ErrSaturated, got %v", err)
	}
}

func TestDispatchHonoursContext(t *testing.T) {
	p := NewPool(blockingRunner{release: make(chan struct{})}, nil, PoolConfig{Workers: 1, QueueSize: 1})
	if err := p.Enqueue(uuid.New()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Dispatch(ctx, uuid.New()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRescanStopsAtSaturation(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	p := NewPool(&recordingRunner{}, staticLister{ids: ids}, PoolConfig{Workers: 1, QueueSize: 2})

	if n := p.Rescan(context.Background()); n != 2 {
		t.Fatalf("expected 2 jobs dispatched, got %d", n)
	}
}

func TestPoolRunsDispatchedJobs(t *testing.T) {
	r := &recordingRunner{}
	p := NewPool(r, nil, PoolConfig{Workers: 3, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	want := map[uuid.UUID]bool{}
	for i := 0; i < 5; i++ {
		id := uuid.New()
		want[id] = true
		if err := p.Dispatch(ctx, id); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.seen)
		r.mu.Unlock()
		if n == len(want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d jobs ran", n, len(want))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	p.Wait()

	for _, id := range r.seen {
		if !want[id] {
			t.Fatalf("unexpected job %s", id)
		}
	}
}

func TestBatchFailureIsIsolated(t *testing.T) {
	h := newHarness(t, nil, nil)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		src := photo(t, 48, 48)
		if i == 2 {
			src = []byte("corrupt raw payload")
		}
		ids = append(ids, h.submit(t, src, jpegToWebP).ID)
	}

	p := NewPool(h.exec, nil, PoolConfig{Workers: 2, QueueSize: 8})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for _, id := range ids {
		if err := p.Enqueue(id); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		jobs, _ := h.repo.ListByIDs(ctx, ids)
		terminal := 0
		for _, j := range jobs {
			if j.Status.IsTerminal() {
				terminal++
			}
		}
		if terminal == len(ids) {
			st := model.DeriveBatchStatus(len(ids), jobs)
			if st.Completed != 4 || st.Failed != 1 || st.State != model.BatchPartial {
				t.Fatalf("expected 4 completed and 1 failed, got %+v", st)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch did not finish: %d of %d terminal", terminal, len(ids))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
