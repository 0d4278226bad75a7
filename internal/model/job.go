package model

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is the unit of transcoding work.
//
// ResultKey and CompressedSize are set if and only if Status is StatusCompleted.
// The compression ratio is always derived from the two sizes and never stored.
type Job struct {
	ID              uuid.UUID  `json:"id"`
	Owner           string     `json:"owner"`
	BatchID         *uuid.UUID `json:"batch_id,omitempty"`
	Filename        string     `json:"filename"`
	InputKey        string     `json:"input_key"`
	Status          Status     `json:"status"`
	Settings        Settings   `json:"settings"`
	ResultKey       string     `json:"result_key,omitempty"`
	CDNURL          string     `json:"cdn_url,omitempty"`
	OriginalSize    int64      `json:"original_size"`
	CompressedSize  int64      `json:"compressed_size,omitempty"`
	RetryCount      int        `json:"retry_count"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	ErrorKind       ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// CompressionRatio returns the size reduction in percent, round((1 - compressed/original) * 100).
// A result larger than its source (a conversion to a lossless target, or a
// re-encode whose metadata could not be stripped in place) reports 0; the
// real size stays in CompressedSize.
// ok is false unless the job is completed with a known original size.
func (j Job) CompressionRatio() (ratio int, ok bool) {
	if j.Status != StatusCompleted || j.OriginalSize <= 0 || j.CompressedSize <= 0 {
		return 0, false
	}
	r := (1 - float64(j.CompressedSize)/float64(j.OriginalSize)) * 100
	return max(0, int(math.Round(r))), true
}

// DownloadName derives the attachment filename: <original-basename>_compressed.<ext>.
func (j Job) DownloadName(ext string) string {
	base := filepath.Base(j.Filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = j.ID.String()
	}
	return base + "_compressed." + strings.TrimPrefix(ext, ".")
}

// RetryEligible reports whether the job may take the single failed -> queued transition.
func (j Job) RetryEligible(maxRetries int) bool {
	return j.Status == StatusFailed && j.ErrorKind.Retryable() && j.RetryCount < maxRetries
}
