// Package executor claims queued jobs and drives the codec through the fixed
// decode, resize, web-optimize, encode order, recording the outcome on the job.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/codec"
	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/registry"
	jobrepo "github.com/aliskhannn/image-transcoder/internal/repository/job"
	"github.com/aliskhannn/image-transcoder/internal/storage/file"
)

// repository is the job store as seen by an executor.
type repository interface {
	Claim(ctx context.Context, id uuid.UUID) (model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
	Complete(ctx context.Context, id uuid.UUID, c jobrepo.Completion) error
	Fail(ctx context.Context, id uuid.UUID, kind model.ErrorKind, message string) error
	Requeue(ctx context.Context, id uuid.UUID, maxRetries int) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
}

// fileStorage holds job inputs and artifacts.
type fileStorage interface {
	Save(ctx context.Context, key string, src io.Reader, size int64) (int64, error)
	Open(ctx context.Context, key string) (file.Object, int64, error)
	Delete(ctx context.Context, key string) error
}

// transcoder is the codec capability.
type transcoder interface {
	Decode(ctx context.Context, route model.Route, format model.FormatID, src []byte) (image.Image, error)
	Encode(ctx context.Context, img image.Image, s model.Settings) ([]byte, error)
	StripMetadata(ctx context.Context, format model.FormatID, src []byte) ([]byte, error)
}

// replicator copies artifacts to the CDN.
type replicator interface {
	Replicate(ctx context.Context, key, contentType string, payload []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// reporter receives permanent failures.
type reporter interface {
	Report(job model.Job, kind model.ErrorKind, err error)
}

// Notifier re-announces a queued job to the executors.
type Notifier interface {
	Notify(ctx context.Context, id uuid.UUID) error
}

// Config tunes an Executor.
type Config struct {
	MaxRetries int
	JobTimeout time.Duration
}

// Executor processes one job at a time; run many of them through a Pool.
type Executor struct {
	repo       repository
	storage    fileStorage
	codec      transcoder
	registry   *registry.Registry
	replicator replicator
	reporter   reporter
	notifier   Notifier
	cfg        Config
}

// New creates an Executor. replicator may be nil when no CDN is configured.
func New(repo repository, storage fileStorage, c transcoder, reg *registry.Registry, rep replicator, cfg Config) *Executor {
	return &Executor{
		repo:       repo,
		storage:    storage,
		codec:      c,
		registry:   reg,
		replicator: rep,
		reporter:   SentryReporter{},
		cfg:        cfg,
	}
}

// SetNotifier sets where retried jobs are announced. Without one, retried
// jobs wait in the queued state for the stale rescan.
func (e *Executor) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetReporter replaces the failure reporter.
func (e *Executor) SetReporter(r reporter) {
	e.reporter = r
}

type result struct {
	key     string
	payload []byte
}

// Execute claims the job and processes it. A job that cannot be claimed
// (already taken, cancelled, or gone) is skipped without error.
func (e *Executor) Execute(ctx context.Context, id uuid.UUID) error {
	job, err := e.repo.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, jobrepo.ErrNotClaimed) {
			return nil
		}
		return fmt.Errorf("claim job %s: %w", id, err)
	}

	start := time.Now()
	log := zlog.Logger.With().Str("job_id", id.String()).
		Str("source", string(job.Settings.SourceFormat)).
		Str("target", string(job.Settings.TargetFormat)).Logger()
	log.Info().Msg("job claimed")

	res, err := e.process(ctx, job)
	bookkeeping := context.WithoutCancel(ctx)

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return e.release(bookkeeping, job)
		}
		return e.fail(bookkeeping, job, err)
	}

	// The replica is recorded with the completion; a completed job is never written again.
	cdnURL := e.replicate(ctx, job, res)

	if err := e.repo.Complete(bookkeeping, id, jobrepo.Completion{
		ResultKey:      res.key,
		CompressedSize: int64(len(res.payload)),
		CDNURL:         cdnURL,
	}); err != nil {
		if errors.Is(err, jobrepo.ErrNotClaimed) {
			return e.discard(bookkeeping, job, res.key, cdnURL != "")
		}
		return e.fail(bookkeeping, job, transient(fmt.Errorf("record completion: %w", err)))
	}

	completed := job
	completed.Status = model.StatusCompleted
	completed.CompressedSize = int64(len(res.payload))
	ratio, _ := completed.CompressionRatio()
	log.Info().
		Str("original", humanize.Bytes(uint64(job.OriginalSize))).
		Str("compressed", humanize.Bytes(uint64(len(res.payload)))).
		Int("ratio", ratio).
		Bool("cdn", cdnURL != "").
		Dur("took", time.Since(start)).
		Msg("job completed")

	return nil
}

// process runs the pipeline. Step order is fixed: decode, resize, web
// optimization (applied by the encoder), encode, measure, write.
func (e *Executor) process(ctx context.Context, job model.Job) (result, error) {
	if e.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.JobTimeout)
		defer cancel()
	}

	src, err := e.load(ctx, job.InputKey)
	if err != nil {
		return result{}, err
	}

	s := job.Settings
	log := zlog.Logger.With().Str("job_id", job.ID.String()).Logger()

	step := time.Now()
	img, err := e.codec.Decode(ctx, s.Route, s.SourceFormat, src)
	if err != nil {
		return result{}, err
	}
	log.Debug().Str("route", string(s.Route)).Dur("took", time.Since(step)).Msg("decoded")

	if s.Resize.Active() {
		step = time.Now()
		img = codec.Resize(img, s.Resize)
		log.Debug().Str("resize", s.Resize.String()).Dur("took", time.Since(step)).Msg("resized")
	}

	step = time.Now()
	out, err := e.codec.Encode(ctx, img, s)
	if err != nil {
		return result{}, err
	}
	log.Debug().Str("size", humanize.Bytes(uint64(len(out)))).Dur("took", time.Since(step)).Msg("encoded")

	if s.Operation == model.OperationCompress && !s.Resize.Active() && len(out) >= len(src) {
		out = e.keepSource(ctx, s, src, out)
	}
	if len(out) == 0 {
		return result{}, &classified{kind: model.ErrorEncode, err: errors.New("encoder produced no output")}
	}

	if err := ctx.Err(); err != nil {
		return result{}, err
	}

	if current, err := e.repo.Get(ctx, job.ID); err == nil && current.CancelRequested {
		return result{}, &classified{kind: model.ErrorCancelled, err: errors.New("cancelled before write")}
	}

	key := file.ResultKey(job.ID, e.extension(s.TargetFormat))
	if _, err := e.storage.Save(ctx, key, bytes.NewReader(out), int64(len(out))); err != nil {
		return result{}, transient(fmt.Errorf("write artifact: %w", err))
	}

	return result{key: key, payload: out}, nil
}

// keepSource picks the smaller of the re-encoded output and the uploaded file
// for a compress-in-place job. When metadata must go, the uploaded file is
// only usable once stripped losslessly.
func (e *Executor) keepSource(ctx context.Context, s model.Settings, src, encoded []byte) []byte {
	if !s.WebOptimization.StripsMetadata() {
		return src
	}

	stripped, err := e.codec.StripMetadata(ctx, s.TargetFormat, src)
	if err != nil {
		zlog.Logger.Debug().Err(err).Str("format", string(s.TargetFormat)).Msg("lossless strip unavailable, keeping re-encoded output")
		return encoded
	}
	if len(stripped) == 0 || len(stripped) > len(encoded) {
		return encoded
	}
	return stripped
}

func (e *Executor) load(ctx context.Context, key string) ([]byte, error) {
	obj, _, err := e.storage.Open(ctx, key)
	if err != nil {
		return nil, loadFailure(fmt.Errorf("open input: %w", err))
	}
	defer obj.Close()

	src, err := io.ReadAll(obj)
	if err != nil {
		return nil, transient(fmt.Errorf("read input: %w", err))
	}
	return src, nil
}

// fail records the failure and takes the single retry for transient errors.
func (e *Executor) fail(ctx context.Context, job model.Job, cause error) error {
	kind := Classify(cause)

	zlog.Logger.Warn().Err(cause).Str("job_id", job.ID.String()).Str("kind", string(kind)).Msg("job failed")

	if err := e.repo.Fail(ctx, job.ID, kind, kind.Message()); err != nil {
		return fmt.Errorf("record failure of job %s: %w", job.ID, err)
	}

	if !kind.Retryable() {
		if kind != model.ErrorCancelled && e.reporter != nil {
			e.reporter.Report(job, kind, cause)
		}
		return nil
	}

	requeued, err := e.repo.Requeue(ctx, job.ID, e.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	if !requeued {
		return nil
	}

	zlog.Logger.Info().Str("job_id", job.ID.String()).Msg("job requeued after transient failure")
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, job.ID); err != nil {
			zlog.Logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("retry notification failed, left for rescan")
		}
	}

	return nil
}

// release hands a job interrupted by shutdown back to the queue without
// spending its retry. A job whose cancellation was requested is recorded as
// cancelled instead.
func (e *Executor) release(ctx context.Context, job model.Job) error {
	err := e.repo.Release(ctx, job.ID)
	if errors.Is(err, jobrepo.ErrNotClaimed) {
		return e.fail(ctx, job, &classified{kind: model.ErrorCancelled, err: errors.New("cancelled during shutdown")})
	}
	if err != nil {
		return fmt.Errorf("release job %s: %w", job.ID, err)
	}

	zlog.Logger.Info().Str("job_id", job.ID.String()).Msg("job released back to the queue")
	return nil
}

// discard drops the artifact of a job whose cancellation arrived mid-flight.
func (e *Executor) discard(ctx context.Context, job model.Job, key string, replicated bool) error {
	if err := e.storage.Delete(ctx, key); err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to delete discarded artifact")
	}
	if replicated {
		if err := e.replicator.Delete(ctx, key); err != nil {
			zlog.Logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to delete discarded replica")
		}
	}

	if err := e.repo.Fail(ctx, job.ID, model.ErrorCancelled, model.ErrorCancelled.Message()); err != nil && !errors.Is(err, jobrepo.ErrNotClaimed) {
		return fmt.Errorf("record cancellation of job %s: %w", job.ID, err)
	}

	zlog.Logger.Info().Str("job_id", job.ID.String()).Msg("job cancelled, result discarded")
	return nil
}

// replicate uploads the artifact to the CDN and returns its public URL, or
// "" when no CDN is configured or the upload failed. A failed replica is not
// a job failure: the artifact is still served from storage.
func (e *Executor) replicate(ctx context.Context, job model.Job, res result) string {
	if e.replicator == nil {
		return ""
	}

	contentType := "application/octet-stream"
	if d, err := e.registry.Lookup(job.Settings.TargetFormat); err == nil && len(d.MIMETypes) > 0 {
		contentType = d.MIMETypes[0]
	}

	url, err := e.replicator.Replicate(ctx, res.key, contentType, res.payload)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("cdn replication skipped")
		return ""
	}
	return url
}

func (e *Executor) extension(target model.FormatID) string {
	if d, err := e.registry.Lookup(target); err == nil {
		return d.Extension()
	}
	return string(target)
}
