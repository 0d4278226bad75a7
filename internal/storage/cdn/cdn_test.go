package cdn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aliskhannn/image-transcoder/internal/config"
)

type fakeBucket struct {
	mu        sync.Mutex
	failures  int
	calls     int
	objects   map[string]bool
	deleteErr error
}

func newFakeBucket(failures int) *fakeBucket {
	return &fakeBucket{failures: failures, objects: map[string]bool{}}
}

func (f *fakeBucket) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("temporary failure")
	}
	f.objects[*in.Key] = true
	return &manager.UploadOutput{}, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestReplicateRetriesAndReturnsURL(t *testing.T) {
	b := newFakeBucket(2)
	r := NewReplicator(b, config.CDN{
		Bucket:        "cdn",
		PublicBaseURL: "https://cdn.example.com/",
		Workers:       1,
		Attempts:      3,
		Backoff:       time.Millisecond,
	})

	url, err := r.Replicate(context.Background(), "results/a.webp", "image/webp", []byte("data"))
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}
	if url != "https://cdn.example.com/results/a.webp" {
		t.Fatalf("unexpected url %s", url)
	}
	if b.calls != 3 {
		t.Fatalf("expected 3 upload attempts, got %d", b.calls)
	}
	if !b.objects["results/a.webp"] {
		t.Fatal("replica was not stored")
	}
}

func TestReplicateGivesUp(t *testing.T) {
	b := newFakeBucket(10)
	r := NewReplicator(b, config.CDN{Workers: 1, Attempts: 2, Backoff: time.Millisecond})

	url, err := r.Replicate(context.Background(), "results/b.png", "image/png", []byte("x"))
	if err == nil || url != "" {
		t.Fatalf("expected failure without url, got %q, %v", url, err)
	}
	if b.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", b.calls)
	}
}

func TestReplicateWaitsForSlot(t *testing.T) {
	r := NewReplicator(newFakeBucket(0), config.CDN{Workers: 1})
	r.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Replicate(ctx, "results/c.png", "image/png", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while all slots are busy, got %v", err)
	}
}

func TestDeleteRemovesReplica(t *testing.T) {
	b := newFakeBucket(0)
	r := NewReplicator(b, config.CDN{Bucket: "cdn"})

	if _, err := r.Replicate(context.Background(), "results/d.webp", "image/webp", []byte("d")); err != nil {
		t.Fatalf("Replicate: %v", err)
	}
	if err := r.Delete(context.Background(), "results/d.webp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if b.objects["results/d.webp"] {
		t.Fatal("replica survived Delete")
	}

	b.deleteErr = errors.New("access denied")
	if err := r.Delete(context.Background(), "results/e.webp"); err == nil {
		t.Fatal("expected the bucket error to surface")
	}
}
