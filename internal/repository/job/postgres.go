package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

const jobColumns = `
	id, owner, batch_id, filename, input_key, status, settings,
	result_key, cdn_url, original_size, compressed_size, retry_count,
	cancel_requested, error_kind, error_message,
	created_at, updated_at, started_at, finished_at`

// Repository stores jobs in PostgreSQL.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.Job, error) {
	var (
		j              model.Job
		batchID        uuid.NullUUID
		status         string
		settingsJSON   []byte
		resultKey      sql.NullString
		cdnURL         sql.NullString
		compressedSize sql.NullInt64
		errorKind      sql.NullString
		errorMessage   sql.NullString
		startedAt      sql.NullTime
		finishedAt     sql.NullTime
	)

	err := row.Scan(
		&j.ID, &j.Owner, &batchID, &j.Filename, &j.InputKey, &status, &settingsJSON,
		&resultKey, &cdnURL, &j.OriginalSize, &compressedSize, &j.RetryCount,
		&j.CancelRequested, &errorKind, &errorMessage,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	parsed, ok := model.ParseStatus(status)
	if !ok {
		return model.Job{}, fmt.Errorf("unknown status %q for job %s", status, j.ID)
	}
	j.Status = parsed

	if err := json.Unmarshal(settingsJSON, &j.Settings); err != nil {
		return model.Job{}, fmt.Errorf("unmarshal settings: %w", err)
	}

	if batchID.Valid {
		id := batchID.UUID
		j.BatchID = &id
	}
	j.ResultKey = resultKey.String
	j.CDNURL = cdnURL.String
	j.CompressedSize = compressedSize.Int64
	j.ErrorKind = model.ErrorKind(errorKind.String)
	j.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}

	return j, nil
}

// Create inserts the jobs in one transaction; either all rows exist afterwards or none.
func (r *Repository) Create(ctx context.Context, jobs []model.Job) error {
	query := `
		INSERT INTO jobs (id, owner, batch_id, filename, input_key, status, settings, original_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, j := range jobs {
		settingsJSON, err := json.Marshal(j.Settings)
		if err != nil {
			return fmt.Errorf("create: failed to marshal settings: %w", err)
		}

		var batchID uuid.NullUUID
		if j.BatchID != nil {
			batchID = uuid.NullUUID{UUID: *j.BatchID, Valid: true}
		}

		if _, err := tx.ExecContext(
			ctx, query, j.ID, j.Owner, batchID, j.Filename, j.InputKey, model.StatusQueued, settingsJSON, j.OriginalSize,
		); err != nil {
			return fmt.Errorf("create: failed to insert job %s: %w", j.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create: failed to commit: %w", err)
	}

	return nil
}

// Get retrieves a job by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, ErrJobNotFound
		}
		return model.Job{}, fmt.Errorf("get: failed to get job: %w", err)
	}

	return j, nil
}

// ListByIDs returns the jobs that still exist among ids, in no particular order.
func (r *Repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ANY($1::uuid[])`

	return r.list(ctx, "list by ids", query, uuidArray(uniqueIDs(ids)))
}

// Claim atomically moves a queued job to processing and returns it.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING ` + jobColumns

	j, err := scanJob(r.db.Master.QueryRowContext(ctx, query, id, model.StatusProcessing, model.StatusQueued))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, ErrNotClaimed
		}
		return model.Job{}, fmt.Errorf("claim: failed to claim job: %w", err)
	}

	return j, nil
}

// Release undoes the claim of a processing job that was interrupted before it
// produced an outcome. The retry count is left as it was.
func (r *Repository) Release(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $2, started_at = NULL, updated_at = now()
		WHERE id = $1 AND status = $3 AND NOT cancel_requested
	`

	return r.transition(ctx, "release", query, id, model.StatusQueued, model.StatusProcessing)
}

// Complete records the artifact of a processing job. It fails with ErrNotClaimed
// when the job is no longer processing or a cancellation was requested.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, c Completion) error {
	query := `
		UPDATE jobs
		SET status = $2, result_key = $3, compressed_size = $4, cdn_url = NULLIF($6, ''),
		    finished_at = now(), updated_at = now()
		WHERE id = $1 AND status = $5 AND NOT cancel_requested
	`

	return r.transition(ctx, "complete", query, id, model.StatusCompleted, c.ResultKey, c.CompressedSize, model.StatusProcessing, c.CDNURL)
}

// Fail records the error classification of a processing job.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, kind model.ErrorKind, message string) error {
	query := `
		UPDATE jobs
		SET status = $2, error_kind = $3, error_message = $4,
		    finished_at = now(), updated_at = now()
		WHERE id = $1 AND status = $5
	`

	return r.transition(ctx, "fail", query, id, model.StatusFailed, string(kind), message, model.StatusProcessing)
}

// Requeue moves a failed job back to queued if its error is retryable and it
// has retries left. It reports whether the job was re-queued.
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID, maxRetries int) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2, retry_count = retry_count + 1,
		    error_kind = NULL, error_message = NULL,
		    started_at = NULL, finished_at = NULL, updated_at = now()
		WHERE id = $1 AND status = $3 AND error_kind = $4 AND retry_count < $5
		  AND NOT cancel_requested
	`

	err := r.transition(ctx, "requeue", query, id, model.StatusQueued, model.StatusFailed, string(model.ErrorTransientIO), maxRetries)
	if errors.Is(err, ErrNotClaimed) {
		return false, nil
	}
	return err == nil, err
}

// CancelQueued removes a job that has not been claimed yet. It reports whether a row was removed.
func (r *Repository) CancelQueued(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `DELETE FROM jobs WHERE id = $1 AND status = $2`

	err := r.transition(ctx, "cancel queued", query, id, model.StatusQueued)
	if errors.Is(err, ErrNotClaimed) {
		return false, nil
	}
	return err == nil, err
}

// RequestCancel flags a processing job so its result is discarded. It reports whether the flag was set.
func (r *Repository) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE jobs
		SET cancel_requested = TRUE, updated_at = now()
		WHERE id = $1 AND status = $2
	`

	err := r.transition(ctx, "request cancel", query, id, model.StatusProcessing)
	if errors.Is(err, ErrNotClaimed) {
		return false, nil
	}
	return err == nil, err
}

// ListStaleQueued returns ids of queued jobs not touched since cutoff, oldest first.
func (r *Repository) ListStaleQueued(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`

	rows, err := r.db.Master.QueryContext(ctx, query, model.StatusQueued, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale: failed to query jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list stale: failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListFinishedBefore returns terminal jobs that finished before cutoff.
func (r *Repository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN ($1, $2) AND finished_at < $3
		ORDER BY finished_at
		LIMIT $4`

	return r.list(ctx, "list finished", query, model.StatusCompleted, model.StatusFailed, cutoff, limit)
}

// Delete removes a job row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM jobs WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete: failed to delete job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (r *Repository) transition(ctx context.Context, op, query string, id uuid.UUID, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: failed to update job: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get number of rows affected: %w", op, err)
	}

	if n == 0 {
		return ErrNotClaimed
	}

	return nil
}

func (r *Repository) list(ctx context.Context, op, query string, args ...any) ([]model.Job, error) {
	rows, err := r.db.Master.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query jobs: %w", op, err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan job: %w", op, err)
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

// uuidArray renders ids as a PostgreSQL array literal.
func uuidArray(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
