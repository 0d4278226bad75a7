package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return s
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	key := ResultKey(uuid.New(), "webp")
	payload := bytes.Repeat([]byte("artifact"), 1000)

	n, err := s.Save(ctx, key, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("expected %d bytes written, got %d", len(payload), n)
	}

	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected object to exist, got %v %v", ok, err)
	}

	obj, size, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer obj.Close()
	if size != int64(len(payload)) {
		t.Fatalf("unexpected size %d", size)
	}

	if _, err := obj.Seek(8, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload[8:]) {
		t.Fatal("content mismatch after seek")
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Open(ctx, key); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	for _, key := range []string{"../etc/passwd", "/abs/path", "results/../../x", `results\x`, ""} {
		if _, err := s.Save(ctx, key, bytes.NewReader([]byte("x")), 1); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestKeysAreJobScoped(t *testing.T) {
	id := uuid.MustParse("6b1d6c52-1f4e-4c3e-9d7a-1a2b3c4d5e6f")

	if got := InputKey(id, ".JPG"); got != "inputs/6b1d6c52-1f4e-4c3e-9d7a-1a2b3c4d5e6f.jpg" {
		t.Fatalf("unexpected input key %s", got)
	}
	if got := ResultKey(id, "webp"); got != "results/6b1d6c52-1f4e-4c3e-9d7a-1a2b3c4d5e6f.webp" {
		t.Fatalf("unexpected result key %s", got)
	}
}
