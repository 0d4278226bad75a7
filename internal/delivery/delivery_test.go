package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/registry"
	batchrepo "github.com/aliskhannn/image-transcoder/internal/repository/batch"
	jobrepo "github.com/aliskhannn/image-transcoder/internal/repository/job"
	"github.com/aliskhannn/image-transcoder/internal/storage/file"
)

type harness struct {
	svc     *Service
	repo    *jobrepo.MemoryRepository
	batches *batchrepo.Store
	storage *file.LocalStorage
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	storage, err := file.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	h := &harness{
		repo:    jobrepo.NewMemoryRepository(),
		batches: batchrepo.NewStore(time.Hour),
		storage: storage,
	}
	h.svc = New(h.repo, h.batches, storage, registry.Default(), Config{
		ArchiveLevel:     3,
		SearchPrefixes:   []string{"results", "outputs"},
		SearchExtensions: []string{"jpg", "webp"},
	})
	return h
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

// completed stores payload under key and drives a job to completed.
func (h *harness) completed(t *testing.T, name string, key func(uuid.UUID) string, payload []byte) model.Job {
	t.Helper()
	ctx := context.Background()

	id := uuid.New()
	j := model.Job{
		ID:           id,
		Filename:     name,
		Status:       model.StatusQueued,
		Settings:     model.Settings{SourceFormat: "png", TargetFormat: "webp"},
		OriginalSize: int64(len(payload)) * 2,
	}
	if err := h.repo.Create(ctx, []model.Job{j}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.repo.Claim(ctx, id); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	resultKey := file.ResultKey(id, "webp")
	if payload != nil {
		if _, err := h.storage.Save(ctx, key(id), bytes.NewReader(payload), int64(len(payload))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := h.repo.Complete(ctx, id, jobrepo.Completion{ResultKey: resultKey, CompressedSize: int64(max(len(payload), 1))}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, _ := h.repo.Get(ctx, id)
	return got
}

func resultKey(id uuid.UUID) string { return file.ResultKey(id, "webp") }

func (h *harness) get(t *testing.T, id uuid.UUID, rangeHeader string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/download/"+id.String(), nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	return rec, h.svc.ServeJob(rec, req, id)
}

func TestServeJobRange(t *testing.T) {
	h := newHarness(t)
	payload := randomBytes(500000)
	j := h.completed(t, "holiday.png", resultKey, payload)

	rec, err := h.get(t, j.ID, "bytes=0-1023")
	if err != nil {
		t.Fatalf("ServeJob: %v", err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-1023/500000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "1024" {
		t.Fatalf("Content-Length = %q", got)
	}
	if rec.Body.Len() != 1024 || !bytes.Equal(rec.Body.Bytes(), payload[:1024]) {
		t.Fatalf("body mismatch: %d bytes", rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename=holiday_compressed.webp` {
		t.Fatalf("Content-Disposition = %q", got)
	}
}

func TestServeJobAdjacentRangesReassemble(t *testing.T) {
	h := newHarness(t)
	payload := randomBytes(300001)
	j := h.completed(t, "a.png", resultKey, payload)

	first, err := h.get(t, j.ID, "bytes=0-149999")
	if err != nil {
		t.Fatalf("first range: %v", err)
	}
	second, err := h.get(t, j.ID, "bytes=150000-")
	if err != nil {
		t.Fatalf("second range: %v", err)
	}

	joined := append(first.Body.Bytes(), second.Body.Bytes()...)
	if !bytes.Equal(joined, payload) {
		t.Fatalf("reassembled %d bytes do not match the %d byte artifact", len(joined), len(payload))
	}
}

func TestServeJobFull(t *testing.T) {
	h := newHarness(t)
	payload := randomBytes(4096)
	j := h.completed(t, "a.png", resultKey, payload)

	rec, err := h.get(t, j.ID, "")
	if err != nil {
		t.Fatalf("ServeJob: %v", err)
	}
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Fatalf("unexpected full response: %d, %d bytes", rec.Code, rec.Body.Len())
	}
	if rec.Header().Get("Content-Type") != "image/webp" || rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("unexpected headers: %v", rec.Header())
	}
}

func TestServeJobUnsatisfiableRange(t *testing.T) {
	h := newHarness(t)
	j := h.completed(t, "a.png", resultKey, randomBytes(100))

	rec, err := h.get(t, j.ID, "bytes=100-")
	var re *RangeError
	if !errors.As(err, &re) || re.Size != 100 {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatal("nothing should be written for an unsatisfiable range")
	}
}

func TestServeJobCDNRedirect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := model.Job{ID: uuid.New(), Filename: "a.png", Status: model.StatusQueued, OriginalSize: 20}
	if err := h.repo.Create(ctx, []model.Job{j}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.repo.Claim(ctx, j.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := h.repo.Complete(ctx, j.ID, jobrepo.Completion{
		ResultKey:      resultKey(j.ID),
		CompressedSize: 10,
		CDNURL:         "https://cdn.example.com/results/x.webp",
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	rec, err := h.get(t, j.ID, "")
	if err != nil {
		t.Fatalf("ServeJob: %v", err)
	}
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "https://cdn.example.com/results/x.webp" {
		t.Fatalf("expected 301 to CDN, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestServeJobNotDeliverable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	queued := model.Job{ID: uuid.New(), Status: model.StatusQueued, Settings: model.Settings{TargetFormat: "webp"}}
	if err := h.repo.Create(ctx, []model.Job{queued}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.get(t, queued.ID, ""); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("queued job: expected ErrArtifactNotFound, got %v", err)
	}

	missing := h.completed(t, "a.png", resultKey, nil)
	if _, err := h.get(t, missing.ID, ""); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("missing artifact: expected ErrArtifactNotFound, got %v", err)
	}

	if _, err := h.get(t, uuid.New(), ""); !errors.Is(err, jobrepo.ErrJobNotFound) {
		t.Fatalf("unknown job: expected ErrJobNotFound, got %v", err)
	}
}

func (h *harness) batch(t *testing.T, jobs ...model.Job) uuid.UUID {
	t.Helper()
	b := model.Batch{ID: uuid.New()}
	for _, j := range jobs {
		b.JobIDs = append(b.JobIDs, j.ID)
	}
	if _, err := h.batches.Create(context.Background(), b); err != nil {
		t.Fatalf("Create batch: %v", err)
	}
	return b.ID
}

func archiveNames(t *testing.T, body []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		if _, err := io.Copy(io.Discard, rc); err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		rc.Close()
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestServeBatchSkipsFailedJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var jobs []model.Job
	for _, name := range []string{"1.png", "2.png", "4.png", "5.png"} {
		jobs = append(jobs, h.completed(t, name, resultKey, randomBytes(2048)))
	}

	corrupt := model.Job{ID: uuid.New(), Filename: "3.dng", Status: model.StatusQueued}
	if err := h.repo.Create(ctx, []model.Job{corrupt}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.repo.Claim(ctx, corrupt.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := h.repo.Fail(ctx, corrupt.ID, model.ErrorCorruptInput, model.ErrorCorruptInput.Message()); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	id := h.batch(t, jobs[0], jobs[1], corrupt, jobs[2], jobs[3])

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/batch/"+id.String(), nil)
	if err := h.svc.ServeBatch(rec, req, id); err != nil {
		t.Fatalf("ServeBatch: %v", err)
	}
	if rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}

	names := archiveNames(t, rec.Body.Bytes())
	want := []string{"1_compressed.webp", "2_compressed.webp", "4_compressed.webp", "5_compressed.webp"}
	if len(names) != len(want) {
		t.Fatalf("archive entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("archive entries = %v, want %v", names, want)
		}
	}
}

func TestServeBatchFallbackSearchAndDuplicateNames(t *testing.T) {
	h := newHarness(t)

	indexed := h.completed(t, "same.png", resultKey, randomBytes(64))
	moved := h.completed(t, "same.png", func(id uuid.UUID) string { return "outputs/" + id.String() + ".webp" }, randomBytes(64))

	id := h.batch(t, indexed, moved)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/batch/"+id.String(), nil)
	if err := h.svc.ServeBatch(rec, req, id); err != nil {
		t.Fatalf("ServeBatch: %v", err)
	}

	names := archiveNames(t, rec.Body.Bytes())
	if len(names) != 2 {
		t.Fatalf("expected both artifacts, got %v", names)
	}
	if names[0] == names[1] {
		t.Fatalf("archive entry names must be unique, got %v", names)
	}
}

func TestServeBatchNothingResolvable(t *testing.T) {
	h := newHarness(t)

	lost := h.completed(t, "a.png", resultKey, nil)
	id := h.batch(t, lost)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/batch/"+id.String(), nil)
	if err := h.svc.ServeBatch(rec, req, id); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatal("no archive should be written")
	}

	unknown := uuid.New()
	if err := h.svc.ServeBatch(rec, req, unknown); !errors.Is(err, batchrepo.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}
