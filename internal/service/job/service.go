// Package job implements the synchronous surface of the pipeline: submission,
// status, cancellation and batch status. Transcoding itself happens in the executors.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/policy"
	"github.com/aliskhannn/image-transcoder/internal/quota"
	"github.com/aliskhannn/image-transcoder/internal/registry"
	batchrepo "github.com/aliskhannn/image-transcoder/internal/repository/batch"
	jobrepo "github.com/aliskhannn/image-transcoder/internal/repository/job"
	"github.com/aliskhannn/image-transcoder/internal/storage/file"
	"github.com/aliskhannn/image-transcoder/internal/tier"
)

var (
	// ErrNotCancellable is returned when cancelling a job that already finished.
	ErrNotCancellable = errors.New("job already finished")
	// ErrNoFiles is returned for a submission without files.
	ErrNoFiles = errors.New("no files submitted")
)

// repository is the job store as seen by the service.
type repository interface {
	Create(ctx context.Context, jobs []model.Job) error
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Job, error)
	CancelQueued(ctx context.Context, id uuid.UUID) (bool, error)
	RequestCancel(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// batchStore holds batch manifests.
type batchStore interface {
	Create(ctx context.Context, b model.Batch) (model.Batch, error)
	Get(ctx context.Context, id uuid.UUID) (model.Batch, error)
}

// fileStorage stores uploaded sources.
type fileStorage interface {
	Save(ctx context.Context, key string, src io.Reader, size int64) (int64, error)
	Delete(ctx context.Context, key string) error
}

// ledger is the hard admission control.
type ledger interface {
	CanPerform(ctx context.Context, id quota.Identity, kind string, n int) (quota.Decision, error)
	Record(ctx context.Context, id quota.Identity, kind string, n int) error
}

// tiers supplies per-identity ceilings.
type tiers interface {
	Limits(name string) tier.Limits
}

// notifier announces queued jobs to the executors.
type notifier interface {
	Notify(ctx context.Context, id uuid.UUID) error
}

// Upload is one file of a submission.
type Upload struct {
	Filename string
	MIMEType string // sniffed from content
	Size     int64
	Content  io.Reader
}

// Options is the user's conversion intent shared by every file of a submission.
type Options struct {
	TargetFormat    model.FormatID
	Algorithm       model.Algorithm
	Quality         int
	Resize          model.ResizePolicy
	WebOptimization model.WebOptimization
}

// Submission is a validated upload request.
type Submission struct {
	Identity quota.Identity
	Files    []Upload
	Options  Options
}

// Result lists the created jobs in file order.
type Result struct {
	JobIDs  []uuid.UUID
	BatchID *uuid.UUID
}

// QuotaError is returned when the ledger denies a submission.
type QuotaError struct {
	Decision quota.Decision
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d operations remaining", e.Decision.Exhausted, max(e.Decision.Remaining, 0))
}

func (e *QuotaError) Unwrap() error { return quota.ErrQuotaExceeded }

// CancelOutcome tells the caller what a cancellation did.
type CancelOutcome string

const (
	CancelRemoved   CancelOutcome = "removed"
	CancelRequested CancelOutcome = "cancel-requested"
)

// Service provides business logic for job operations.
type Service struct {
	registry *registry.Registry
	resolver *policy.Resolver
	repo     repository
	batches  batchStore
	storage  fileStorage
	ledger   ledger
	tiers    tiers
	notifier notifier
}

// NewService creates a new Service.
func NewService(
	reg *registry.Registry,
	repo repository,
	batches batchStore,
	storage fileStorage,
	l ledger,
	t tiers,
	n notifier,
) *Service {
	return &Service{
		registry: reg,
		resolver: policy.New(reg),
		repo:     repo,
		batches:  batches,
		storage:  storage,
		ledger:   l,
		tiers:    t,
		notifier: n,
	}
}

// Submit validates every file, checks quota, stores the sources and creates one
// queued job per file. Any validation failure rejects the whole submission
// before a job exists.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	if len(sub.Files) == 0 {
		return Result{}, ErrNoFiles
	}

	limits := s.tiers.Limits(sub.Identity.Tier)

	jobs := make([]model.Job, 0, len(sub.Files))
	for _, f := range sub.Files {
		settings, err := s.resolve(f, sub.Options, limits)
		if err != nil {
			return Result{}, err
		}
		jobs = append(jobs, model.Job{
			ID:           uuid.New(),
			Owner:        sub.Identity.ID,
			Filename:     filepath.Base(f.Filename),
			Status:       model.StatusQueued,
			Settings:     settings,
			OriginalSize: f.Size,
		})
	}

	decision, err := s.ledger.CanPerform(ctx, sub.Identity, quota.KindCompress, len(jobs))
	if err != nil {
		return Result{}, fmt.Errorf("submit: check quota: %w", err)
	}
	if !decision.Allowed {
		return Result{}, &QuotaError{Decision: decision}
	}

	saved := make([]string, 0, len(jobs))
	cleanup := func() {
		for _, key := range saved {
			if err := s.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
				zlog.Logger.Warn().Err(err).Str("key", key).Msg("failed to remove orphaned input")
			}
		}
	}

	for i := range jobs {
		src, err := s.registry.Lookup(jobs[i].Settings.SourceFormat)
		if err != nil {
			cleanup()
			return Result{}, fmt.Errorf("submit: %w", err)
		}
		key := file.InputKey(jobs[i].ID, src.Extension())
		if _, err := s.storage.Save(ctx, key, sub.Files[i].Content, sub.Files[i].Size); err != nil {
			cleanup()
			return Result{}, fmt.Errorf("submit: save input: %w", err)
		}
		saved = append(saved, key)
		jobs[i].InputKey = key
	}

	res := Result{JobIDs: make([]uuid.UUID, len(jobs))}
	for i, j := range jobs {
		res.JobIDs[i] = j.ID
	}

	var batchID *uuid.UUID
	if len(jobs) > 1 {
		id := uuid.New()
		batchID = &id
		for i := range jobs {
			jobs[i].BatchID = batchID
		}
	}

	// Jobs go first: a batch manifest must never name jobs that do not exist.
	if err := s.repo.Create(ctx, jobs); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("submit: create jobs: %w", err)
	}

	if batchID != nil {
		if _, err := s.batches.Create(ctx, model.Batch{
			ID:       *batchID,
			Owner:    sub.Identity.ID,
			JobIDs:   res.JobIDs,
			Settings: jobs[0].Settings,
		}); err != nil {
			s.dropJobs(context.WithoutCancel(ctx), res.JobIDs)
			cleanup()
			return Result{}, fmt.Errorf("submit: create batch: %w", err)
		}
		res.BatchID = batchID
	}

	if err := s.ledger.Record(ctx, sub.Identity, quota.KindCompress, len(jobs)); err != nil {
		zlog.Logger.Error().Err(err).Str("identity", sub.Identity.ID).Msg("failed to record quota usage")
	}

	for _, id := range res.JobIDs {
		if err := s.notifier.Notify(ctx, id); err != nil {
			zlog.Logger.Warn().Err(err).Str("job_id", id.String()).Msg("job left queued for rescan")
		}
	}

	zlog.Logger.Info().Int("jobs", len(jobs)).Str("identity", sub.Identity.ID).Msg("submission accepted")

	return res, nil
}

// dropJobs removes jobs whose submission failed after they were created.
// They were never announced, so no executor holds them.
func (s *Service) dropJobs(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		if err := s.repo.Delete(ctx, id); err != nil {
			zlog.Logger.Warn().Err(err).Str("job_id", id.String()).Msg("failed to remove orphaned job")
		}
	}
}

func (s *Service) resolve(f Upload, opts Options, limits tier.Limits) (model.Settings, error) {
	target := opts.TargetFormat
	if target == "" {
		target = model.KeepOriginal
	}

	src, ok := s.registry.Identify(f.MIMEType, f.Filename)
	if !ok {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Filename)), ".")
		return model.Settings{}, &policy.InvalidConversionError{Source: model.FormatID(ext), Target: target}
	}

	return s.resolver.Resolve(policy.Request{
		SourceFormat:    src.ID,
		TargetFormat:    target,
		Algorithm:       opts.Algorithm,
		Quality:         opts.Quality,
		Resize:          opts.Resize,
		WebOptimization: opts.WebOptimization,
		SourceSize:      f.Size,
		MaxFileSize:     limits.MaxFileSize,
	})
}

// Status returns the job. Terminal jobs are never mutated, so repeated calls
// return identical data.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (model.Job, error) {
	return s.repo.Get(ctx, id)
}

// Cancel removes a queued job or flags a processing one so its result is discarded.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (CancelOutcome, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if j.Status == model.StatusQueued {
		removed, err := s.repo.CancelQueued(ctx, id)
		if err != nil {
			return "", fmt.Errorf("cancel: %w", err)
		}
		if removed {
			if err := s.storage.Delete(ctx, j.InputKey); err != nil {
				zlog.Logger.Warn().Err(err).Str("job_id", id.String()).Msg("failed to remove cancelled input")
			}
			return CancelRemoved, nil
		}

		// Claimed between the read and the delete.
		if j, err = s.repo.Get(ctx, id); err != nil {
			return "", err
		}
	}

	if j.Status == model.StatusProcessing {
		flagged, err := s.repo.RequestCancel(ctx, id)
		if err != nil {
			return "", fmt.Errorf("cancel: %w", err)
		}
		if flagged {
			return CancelRequested, nil
		}
	}

	return "", ErrNotCancellable
}

// BatchStatus derives the status of a live batch from its jobs.
func (s *Service) BatchStatus(ctx context.Context, id uuid.UUID) (model.BatchStatus, error) {
	b, err := s.batches.Get(ctx, id)
	if err != nil {
		return model.BatchStatus{}, err
	}

	jobs, err := s.repo.ListByIDs(ctx, b.JobIDs)
	if err != nil {
		return model.BatchStatus{}, fmt.Errorf("batch status: %w", err)
	}

	return model.DeriveBatchStatus(len(b.JobIDs), jobs), nil
}

// Formats returns every legal conversion.
func (s *Service) Formats() []registry.ConversionRule {
	return s.registry.ListConversions()
}

// IsNotFound reports whether err means the job or batch does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, jobrepo.ErrJobNotFound) || errors.Is(err, batchrepo.ErrBatchNotFound)
}
