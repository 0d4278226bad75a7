package delivery

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// resolved is one batch artifact ready to be archived.
type resolved struct {
	job  model.Job
	key  string
	name string
}

// ServeBatch streams every resolvable artifact of a batch as a zip archive.
//
// The archive is written only when at least one artifact resolves; otherwise
// ErrArtifactNotFound is returned and nothing is written. Unknown or expired
// batches return the batch store's not-found error.
func (s *Service) ServeBatch(w http.ResponseWriter, r *http.Request, id uuid.UUID) error {
	ctx := r.Context()

	b, err := s.batches.Get(ctx, id)
	if err != nil {
		return err
	}

	entries, err := s.resolve(ctx, b)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrArtifactNotFound
	}

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "batch-" + id.String() + ".zip"}))
	w.WriteHeader(http.StatusOK)

	written, err := s.writeArchive(ctx, w, entries)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("batch_id", id.String()).Msg("archive stream interrupted")
		return nil
	}

	zlog.Logger.Info().
		Str("batch_id", id.String()).
		Int("entries", written).
		Int("jobs", len(b.JobIDs)).
		Msg("batch archive delivered")

	return nil
}

// resolve finds the artifact of every completed job in the batch. Jobs whose
// indexed reference is gone are looked up by id across the configured
// prefixes and extensions. Entry names are unique within the result.
func (s *Service) resolve(ctx context.Context, b model.Batch) ([]resolved, error) {
	jobs, err := s.jobs.ListByIDs(ctx, b.JobIDs)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", err)
	}

	used := make(map[string]int, len(jobs))
	out := make([]resolved, 0, len(jobs))
	for _, j := range jobs {
		if j.Status != model.StatusCompleted {
			continue
		}

		key, ok := s.locate(ctx, j)
		if !ok {
			zlog.Logger.Warn().Str("job_id", j.ID.String()).Msg("artifact missing from batch")
			continue
		}

		ext := strings.TrimPrefix(path.Ext(key), ".")
		if ext == "" {
			ext, _ = s.describe(j.Settings.TargetFormat)
		}
		out = append(out, resolved{job: j, key: key, name: uniqueName(used, j.DownloadName(ext))})
	}
	return out, nil
}

func (s *Service) locate(ctx context.Context, j model.Job) (string, bool) {
	candidates := make([]string, 0, 1+len(s.cfg.SearchPrefixes)*len(s.cfg.SearchExtensions))
	if j.ResultKey != "" {
		candidates = append(candidates, j.ResultKey)
	}
	for _, prefix := range s.cfg.SearchPrefixes {
		for _, ext := range s.cfg.SearchExtensions {
			candidates = append(candidates, path.Join(prefix, j.ID.String()+"."+strings.TrimPrefix(ext, ".")))
		}
	}

	for _, key := range candidates {
		ok, err := s.storage.Exists(ctx, key)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("key", key).Msg("artifact lookup failed")
			continue
		}
		if ok {
			return key, true
		}
	}
	return "", false
}

func uniqueName(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + strconv.Itoa(n) + ext
}

func (s *Service) writeArchive(ctx context.Context, w io.Writer, entries []resolved) (int, error) {
	zw := zip.NewWriter(w)
	level := s.cfg.ArchiveLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	buf := make([]byte, s.cfg.ChunkSize)
	written := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		obj, _, err := s.storage.Open(ctx, e.key)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("job_id", e.job.ID.String()).Msg("skipping unreadable artifact")
			continue
		}

		modified := e.job.UpdatedAt
		if e.job.FinishedAt != nil {
			modified = *e.job.FinishedAt
		}
		if modified.IsZero() {
			modified = time.Now()
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: modified})
		if err == nil {
			_, err = io.CopyBuffer(entry, obj, buf)
		}
		obj.Close()
		if err != nil {
			return written, fmt.Errorf("archive %s: %w", e.name, err)
		}
		written++
	}

	return written, zw.Close()
}
