package model_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusQueued, model.StatusProcessing, true},
		{model.StatusProcessing, model.StatusCompleted, true},
		{model.StatusProcessing, model.StatusFailed, true},
		{model.StatusFailed, model.StatusQueued, true},
		{model.StatusQueued, model.StatusCompleted, false},
		{model.StatusCompleted, model.StatusQueued, false},
		{model.StatusCompleted, model.StatusFailed, false},
		{model.StatusFailed, model.StatusProcessing, false},
		{model.StatusProcessing, model.StatusQueued, true},
		{model.StatusCompleted, model.StatusProcessing, false},
	}
	for _, tc := range cases {
		if got := model.CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCompressionRatio(t *testing.T) {
	job := model.Job{Status: model.StatusCompleted, OriginalSize: 4_000_000, CompressedSize: 1_400_000}
	ratio, ok := job.CompressionRatio()
	if !ok || ratio != 65 {
		t.Fatalf("CompressionRatio() = %d, %v; want 65, true", ratio, ok)
	}

	grown := model.Job{Status: model.StatusCompleted, OriginalSize: 6056, CompressedSize: 18466}
	if ratio, ok := grown.CompressionRatio(); !ok || ratio != 0 {
		t.Fatalf("CompressionRatio() of a grown result = %d, %v; want 0, true", ratio, ok)
	}

	job.Status = model.StatusProcessing
	if _, ok := job.CompressionRatio(); ok {
		t.Fatal("expected no ratio for a job that is not completed")
	}
}

func TestDownloadName(t *testing.T) {
	job := model.Job{ID: uuid.New(), Filename: "holiday.photo.JPG"}
	if got := job.DownloadName("webp"); got != "holiday.photo_compressed.webp" {
		t.Fatalf("DownloadName = %q", got)
	}
	job.Filename = ""
	if got := job.DownloadName(".png"); got != job.ID.String()+"_compressed.png" {
		t.Fatalf("DownloadName fallback = %q", got)
	}
}

func TestRetryEligible(t *testing.T) {
	job := model.Job{Status: model.StatusFailed, ErrorKind: model.ErrorTransientIO}
	if !job.RetryEligible(1) {
		t.Fatal("transient failure should be retryable once")
	}
	job.RetryCount = 1
	if job.RetryEligible(1) {
		t.Fatal("second retry must not be allowed")
	}
	job = model.Job{Status: model.StatusFailed, ErrorKind: model.ErrorCorruptInput}
	if job.RetryEligible(1) {
		t.Fatal("permanent failure must never retry")
	}
}

func TestDeriveBatchStatus(t *testing.T) {
	done := model.Job{Status: model.StatusCompleted}
	failed := model.Job{Status: model.StatusFailed}
	queued := model.Job{Status: model.StatusQueued}

	cases := []struct {
		name  string
		total int
		jobs  []model.Job
		want  model.BatchState
	}{
		{"all complete", 2, []model.Job{done, done}, model.BatchComplete},
		{"one failed", 5, []model.Job{done, done, failed, done, done}, model.BatchPartial},
		{"all failed", 2, []model.Job{failed, failed}, model.BatchFailed},
		{"still running", 2, []model.Job{done, queued}, model.BatchPending},
		{"missing counts as failed", 3, []model.Job{done, done}, model.BatchPartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := model.DeriveBatchStatus(tc.total, tc.jobs)
			if st.State != tc.want {
				t.Fatalf("state = %s, want %s (%+v)", st.State, tc.want, st)
			}
		})
	}
}

func TestParseResizeOption(t *testing.T) {
	p, err := model.ParseResizeOption("max-1920")
	if err != nil || p.Mode != model.ResizeMaxDimension || p.Value != 1920 {
		t.Fatalf("ParseResizeOption(max-1920) = %+v, %v", p, err)
	}
	if p.String() != "max-1920" {
		t.Fatalf("String() = %q", p.String())
	}
	if _, err := model.ParseResizeOption("33%"); err == nil {
		t.Fatal("expected error for an option outside the enum")
	}
	p, err = model.ParseResizeOption("")
	if err != nil || p.Active() {
		t.Fatalf("empty option should mean no resize, got %+v, %v", p, err)
	}
}
