package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

func newQueuedJob(t *testing.T, repo *MemoryRepository) model.Job {
	t.Helper()
	j := model.Job{
		ID:           uuid.New(),
		Owner:        "session-1",
		Filename:     "photo.jpg",
		InputKey:     "inputs/photo.jpg",
		OriginalSize: 4_000_000,
		Settings:     model.Settings{SourceFormat: "jpeg", TargetFormat: "webp", Quality: 75},
	}
	if err := repo.Create(context.Background(), []model.Job{j}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := repo.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func TestCreateStartsQueued(t *testing.T) {
	repo := NewMemoryRepository()
	j := newQueuedJob(t, repo)

	if j.Status != model.StatusQueued {
		t.Fatalf("expected queued, got %s", j.Status)
	}
	if j.ResultKey != "" || j.CompressedSize != 0 {
		t.Fatal("queued job must not carry a result")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	repo := NewMemoryRepository()
	j := newQueuedJob(t, repo)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Claim(context.Background(), j.ID); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrNotClaimed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", wins.Load())
	}
}

func TestCompleteRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	j := newQueuedJob(t, repo)

	if err := repo.Complete(ctx, j.ID, Completion{ResultKey: "results/x.webp", CompressedSize: 10}); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed for queued job, got %v", err)
	}

	if _, err := repo.Claim(ctx, j.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Complete(ctx, j.ID, Completion{ResultKey: "results/x.webp", CompressedSize: 1_400_000}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	done, _ := repo.Get(ctx, j.ID)
	if done.Status != model.StatusCompleted || done.FinishedAt == nil {
		t.Fatalf("expected completed job with finish time, got %+v", done)
	}

	if err := repo.Fail(ctx, j.ID, model.ErrorEncode, "late failure"); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("terminal job must not change, got %v", err)
	}
	again, _ := repo.Get(ctx, j.ID)
	if again.Status != done.Status || again.UpdatedAt != done.UpdatedAt {
		t.Fatal("terminal job was mutated")
	}
}

func TestRequeueOnlyOnceForTransient(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	j := newQueuedJob(t, repo)

	fail := func(kind model.ErrorKind) {
		t.Helper()
		if _, err := repo.Claim(ctx, j.ID); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if err := repo.Fail(ctx, j.ID, kind, kind.Message()); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}

	fail(model.ErrorTransientIO)
	ok, err := repo.Requeue(ctx, j.ID, 1)
	if err != nil || !ok {
		t.Fatalf("expected first transient failure to requeue, got %v %v", ok, err)
	}

	fail(model.ErrorTransientIO)
	ok, err = repo.Requeue(ctx, j.ID, 1)
	if err != nil || ok {
		t.Fatalf("expected second requeue to be refused, got %v %v", ok, err)
	}

	got, _ := repo.Get(ctx, j.ID)
	if got.Status != model.StatusFailed || got.RetryCount != 1 {
		t.Fatalf("expected failed job with one retry, got %s/%d", got.Status, got.RetryCount)
	}
}

func TestRequeueRefusesPermanentFailure(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	j := newQueuedJob(t, repo)

	if _, err := repo.Claim(ctx, j.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Fail(ctx, j.ID, model.ErrorCorruptInput, "bad"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if ok, _ := repo.Requeue(ctx, j.ID, 1); ok {
		t.Fatal("permanent failure must not be requeued")
	}
}

func TestCancellation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	queued := newQueuedJob(t, repo)
	if ok, _ := repo.CancelQueued(ctx, queued.ID); !ok {
		t.Fatal("expected queued job to be removed")
	}
	if _, err := repo.Get(ctx, queued.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected removed job, got %v", err)
	}

	running := newQueuedJob(t, repo)
	if _, err := repo.Claim(ctx, running.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok, _ := repo.CancelQueued(ctx, running.ID); ok {
		t.Fatal("processing job must not be removed")
	}
	if ok, _ := repo.RequestCancel(ctx, running.ID); !ok {
		t.Fatal("expected cancel flag to be set")
	}
	if err := repo.Complete(ctx, running.ID, Completion{ResultKey: "r", CompressedSize: 1}); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("cancelled job must not complete, got %v", err)
	}
	if err := repo.Fail(ctx, running.ID, model.ErrorCancelled, "cancelled"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
}

func TestListStaleAndFinished(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	repo := NewMemoryRepository().WithClock(func() time.Time { return clock })

	old := newQueuedJob(t, repo)
	clock = now.Add(time.Hour)
	fresh := newQueuedJob(t, repo)

	ids, err := repo.ListStaleQueued(ctx, now.Add(30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStaleQueued: %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Fatalf("expected only the old job to be stale, got %v", ids)
	}

	if _, err := repo.Claim(ctx, fresh.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Complete(ctx, fresh.ID, Completion{ResultKey: "r", CompressedSize: 5}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	finished, err := repo.ListFinishedBefore(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListFinishedBefore: %v", err)
	}
	if len(finished) != 1 || finished[0].ID != fresh.ID {
		t.Fatalf("expected the completed job, got %v", finished)
	}
}
