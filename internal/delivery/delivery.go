// Package delivery serves finished artifacts: single files with Range support
// or a CDN redirect, and whole batches as one streamed zip archive.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/registry"
	"github.com/aliskhannn/image-transcoder/internal/storage/file"
)

// ErrArtifactNotFound is returned when a job has no deliverable artifact.
var ErrArtifactNotFound = errors.New("artifact not found")

const minChunkSize = 256 << 10

// jobReader reads job records.
type jobReader interface {
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Job, error)
}

// batchReader reads live batch manifests.
type batchReader interface {
	Get(ctx context.Context, id uuid.UUID) (model.Batch, error)
}

// objectStore is the read side of artifact storage.
type objectStore interface {
	Open(ctx context.Context, key string) (file.Object, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Config tunes streaming and archive behaviour.
type Config struct {
	ChunkSize        int
	ArchiveLevel     int
	SearchPrefixes   []string
	SearchExtensions []string
}

// Service resolves and streams artifacts.
type Service struct {
	jobs     jobReader
	batches  batchReader
	storage  objectStore
	registry *registry.Registry
	cfg      Config
}

// New creates a delivery Service.
func New(jobs jobReader, batches batchReader, storage objectStore, reg *registry.Registry, cfg Config) *Service {
	if cfg.ChunkSize < minChunkSize {
		cfg.ChunkSize = minChunkSize
	}
	return &Service{jobs: jobs, batches: batches, storage: storage, registry: reg, cfg: cfg}
}

// ServeJob writes the artifact of a completed job to w.
//
// A CDN replica wins with a 301. Otherwise the local artifact is streamed,
// honouring a single-span Range header. ErrArtifactNotFound and *RangeError are
// returned before anything is written, so the caller can still choose the response.
func (s *Service) ServeJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) error {
	ctx := r.Context()

	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != model.StatusCompleted || j.ResultKey == "" {
		return ErrArtifactNotFound
	}

	if j.CDNURL != "" {
		http.Redirect(w, r, j.CDNURL, http.StatusMovedPermanently)
		return nil
	}

	obj, size, err := s.storage.Open(ctx, j.ResultKey)
	if err != nil {
		if errors.Is(err, file.ErrObjectNotFound) {
			return ErrArtifactNotFound
		}
		return fmt.Errorf("open artifact: %w", err)
	}
	defer obj.Close()

	span, err := ParseRange(r.Header.Get("Range"), size)
	if err != nil {
		return err
	}

	ext, contentType := s.describe(j.Settings.TargetFormat)

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": j.DownloadName(ext)}))

	status := http.StatusOK
	start, length := int64(0), size
	if span != nil {
		status = http.StatusPartialContent
		start, length = span.Start, span.Length()
		h.Set("Content-Range", span.ContentRange(size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))

	if start > 0 {
		if _, err := obj.Seek(start, io.SeekStart); err != nil {
			return fmt.Errorf("seek artifact: %w", err)
		}
	}

	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}

	n, err := s.copyChunked(w, io.LimitReader(obj, length))
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", id.String()).Int64("written", n).Msg("artifact stream interrupted")
	}
	return nil
}

// copyChunked copies with a ChunkSize buffer. The writer is wrapped so the
// buffer size holds even when w implements io.ReaderFrom.
func (s *Service) copyChunked(w io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, s.cfg.ChunkSize)
	return io.CopyBuffer(struct{ io.Writer }{w}, src, buf)
}

// describe returns the file extension and content type of a target format.
func (s *Service) describe(id model.FormatID) (ext, contentType string) {
	d, err := s.registry.Lookup(id)
	if err != nil {
		return string(id), "application/octet-stream"
	}
	contentType = "application/octet-stream"
	if len(d.MIMETypes) > 0 {
		contentType = d.MIMETypes[0]
	}
	return d.Extension(), contentType
}
