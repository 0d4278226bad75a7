package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/api/middleware"
	"github.com/aliskhannn/image-transcoder/internal/api/respond"
	"github.com/aliskhannn/image-transcoder/internal/delivery"
	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/policy"
	"github.com/aliskhannn/image-transcoder/internal/quota"
	"github.com/aliskhannn/image-transcoder/internal/registry"
	jobsvc "github.com/aliskhannn/image-transcoder/internal/service/job"
)

// Error codes returned alongside the policy validation codes.
const (
	CodeInvalidRequest      = "invalid-request"
	CodeInvalidSettings     = "invalid-settings"
	CodeNoFiles             = "no-files"
	CodeUploadTooLarge      = "upload-too-large"
	CodeQuotaExceeded       = "quota-exceeded"
	CodeNotFound            = "not-found"
	CodeNotCancellable      = "not-cancellable"
	CodeRangeNotSatisfiable = "range-not-satisfiable"
	CodeInternal            = "internal"
)

// multipartMemory is how much of a multipart body is kept in memory before spilling to disk.
const multipartMemory = 32 << 20

// service defines the job operations used by the handlers.
type service interface {
	Submit(ctx context.Context, sub jobsvc.Submission) (jobsvc.Result, error)
	Status(ctx context.Context, id uuid.UUID) (model.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (jobsvc.CancelOutcome, error)
	BatchStatus(ctx context.Context, id uuid.UUID) (model.BatchStatus, error)
	Formats() []registry.ConversionRule
}

// artifacts streams finished outputs.
type artifacts interface {
	ServeJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) error
	ServeBatch(w http.ResponseWriter, r *http.Request, id uuid.UUID) error
}

// usage reports quota windows.
type usage interface {
	Usage(ctx context.Context, id quota.Identity, kind string) ([]quota.WindowUsage, error)
}

// Handler provides HTTP handlers for job endpoints.
type Handler struct {
	service        service
	delivery       artifacts
	usage          usage
	validator      *validator.Validate
	maxUploadBytes int64
}

// NewHandler creates a new Handler.
func NewHandler(s service, d artifacts, u usage, maxUploadBytes int64) *Handler {
	return &Handler{
		service:        s,
		delivery:       d,
		usage:          u,
		validator:      validator.New(),
		maxUploadBytes: maxUploadBytes,
	}
}

// SettingsRequest is the settings payload sent with an upload.
type SettingsRequest struct {
	Quality              int    `json:"quality" validate:"omitempty,min=10,max=100"`
	OutputFormat         string `json:"outputFormat" validate:"omitempty,max=32"`
	ResizeOption         string `json:"resizeOption" validate:"omitempty,oneof=none 75% 50% 25% max-3840 max-2560 max-1920 max-1280 max-800"`
	CompressionAlgorithm string `json:"compressionAlgorithm" validate:"omitempty,oneof=standard mozjpeg lossless max-compression"`
	WebOptimization      string `json:"webOptimization" validate:"omitempty,oneof=none strip-metadata progressive optimize-scans"`
}

// UploadedJob is one created job in the upload response.
type UploadedJob struct {
	JobID    uuid.UUID `json:"jobId"`
	Filename string    `json:"filename"`
}

// UploadResponse lists the created jobs in file order.
type UploadResponse struct {
	Jobs    []UploadedJob `json:"jobs"`
	BatchID *uuid.UUID    `json:"batchId,omitempty"`
}

// StatusResponse is the polling view of a job.
type StatusResponse struct {
	JobID            uuid.UUID       `json:"jobId"`
	Status           model.Status    `json:"status"`
	CompressedSize   *int64          `json:"compressedSize,omitempty"`
	CompressionRatio *int            `json:"compressionRatio,omitempty"`
	ErrorKind        model.ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	BatchID          *uuid.UUID      `json:"batchId,omitempty"`
}

// QuotaResponse is the caller's usage for one operation kind.
type QuotaResponse struct {
	Kind    string              `json:"kind"`
	Windows []quota.WindowUsage `json:"windows"`
}

// Upload accepts one or more files plus a settings payload and creates one
// queued job per file. Nothing is created when any file fails validation.
func (h *Handler) Upload(c *ginext.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		respond.Fail(c, http.StatusInternalServerError, CodeInternal, errors.New("missing identity"))
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Fail(c, http.StatusRequestEntityTooLarge, CodeUploadTooLarge, errors.New("upload exceeds the maximum request size"))
			return
		}
		zlog.Logger.Warn().Err(err).Msg("failed to parse multipart form")
		respond.Fail(c, http.StatusBadRequest, CodeInvalidRequest, errors.New("expected a multipart/form-data body"))
		return
	}
	defer c.Request.MultipartForm.RemoveAll() //nolint:errcheck

	opts, err := h.parseSettings(c.Request.PostFormValue("settings"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, CodeInvalidSettings, err)
		return
	}

	headers := formFiles(c.Request.MultipartForm)
	if len(headers) == 0 {
		respond.Fail(c, http.StatusBadRequest, CodeNoFiles, errors.New(`no files: use the "files[]" or "file" field`))
		return
	}

	uploads := make([]jobsvc.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			zlog.Logger.Err(err).Str("filename", fh.Filename).Msg("failed to open uploaded file")
			respond.Fail(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf("failed to read %q", fh.Filename))
			return
		}
		defer f.Close()

		mt, err := mimetype.DetectReader(f)
		if err == nil {
			_, err = f.Seek(0, io.SeekStart)
		}
		if err != nil {
			zlog.Logger.Err(err).Str("filename", fh.Filename).Msg("failed to sniff uploaded file")
			respond.Fail(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf("failed to read %q", fh.Filename))
			return
		}

		uploads = append(uploads, jobsvc.Upload{
			Filename: fh.Filename,
			MIMEType: mt.String(),
			Size:     fh.Size,
			Content:  f,
		})
	}

	res, err := h.service.Submit(c.Request.Context(), jobsvc.Submission{
		Identity: identity,
		Files:    uploads,
		Options:  opts,
	})
	if err != nil {
		h.failSubmit(c, err)
		return
	}

	resp := UploadResponse{Jobs: make([]UploadedJob, len(res.JobIDs)), BatchID: res.BatchID}
	for i, id := range res.JobIDs {
		resp.Jobs[i] = UploadedJob{JobID: id, Filename: uploads[i].Filename}
	}
	respond.Accepted(c, resp)
}

func formFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	var out []*multipart.FileHeader
	for _, field := range []string{"files[]", "files", "file"} {
		out = append(out, form.File[field]...)
	}
	return out
}

func (h *Handler) parseSettings(raw string) (jobsvc.Options, error) {
	var req SettingsRequest
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return jobsvc.Options{}, errors.New("settings must be a JSON object")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return jobsvc.Options{}, validationMessage(err)
	}

	resize, err := model.ParseResizeOption(req.ResizeOption)
	if err != nil {
		return jobsvc.Options{}, err
	}
	web, ok := model.ParseWebOptimization(req.WebOptimization)
	if !ok {
		return jobsvc.Options{}, fmt.Errorf("unknown webOptimization %q", req.WebOptimization)
	}

	return jobsvc.Options{
		TargetFormat:    model.FormatID(strings.ToLower(strings.TrimSpace(req.OutputFormat))),
		Algorithm:       model.Algorithm(req.CompressionAlgorithm),
		Quality:         req.Quality,
		Resize:          resize,
		WebOptimization: web,
	}, nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.New("invalid settings")
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := jsonName(e.Field())
		switch e.Tag() {
		case "min", "max":
			msgs = append(msgs, field+" is out of the allowed range")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+e.Param())
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func (h *Handler) failSubmit(c *ginext.Context, err error) {
	var verr policy.ValidationError
	var qerr *jobsvc.QuotaError

	switch {
	case errors.As(err, &verr):
		respond.Fail(c, http.StatusBadRequest, verr.Code(), verr)
	case errors.As(err, &qerr):
		if qerr.Decision.Remaining >= 0 {
			c.Header("X-Quota-Remaining", strconv.Itoa(qerr.Decision.Remaining))
		}
		respond.Fail(c, http.StatusTooManyRequests, CodeQuotaExceeded, qerr)
	case errors.Is(err, jobsvc.ErrNoFiles):
		respond.Fail(c, http.StatusBadRequest, CodeNoFiles, err)
	default:
		zlog.Logger.Error().Err(err).Msg("failed to submit upload")
		respond.Fail(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to accept the upload"))
	}
}

// parseID reads the :id path parameter, answering 400 when it is not a UUID.
func parseID(c *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, CodeInvalidRequest, errors.New("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

// Status returns the polling view of a job.
func (h *Handler) Status(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	j, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		h.failLookup(c, err, "job not found")
		return
	}

	resp := StatusResponse{
		JobID:        j.ID,
		Status:       j.Status,
		ErrorKind:    j.ErrorKind,
		ErrorMessage: j.ErrorMessage,
		BatchID:      j.BatchID,
	}
	if j.Status == model.StatusCompleted {
		size := j.CompressedSize
		resp.CompressedSize = &size
	}
	if ratio, ok := j.CompressionRatio(); ok {
		resp.CompressionRatio = &ratio
	}

	respond.OK(c, resp)
}

// Cancel removes a queued job or requests cancellation of a processing one.
func (h *Handler) Cancel(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	outcome, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobsvc.ErrNotCancellable) {
			respond.Fail(c, http.StatusConflict, CodeNotCancellable, err)
			return
		}
		h.failLookup(c, err, "job not found")
		return
	}

	result := map[string]interface{}{"jobId": id, "outcome": outcome}
	if outcome == jobsvc.CancelRequested {
		respond.Accepted(c, result)
		return
	}
	respond.OK(c, result)
}

// Download streams a completed artifact or redirects to its CDN copy.
func (h *Handler) Download(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	c.Header("Cache-Control", "private, no-transform")
	if err := h.delivery.ServeJob(c.Writer, c.Request, id); err != nil {
		h.failDelivery(c, err)
	}
}

// Batch streams the artifacts of a batch as one zip archive.
func (h *Handler) Batch(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.delivery.ServeBatch(c.Writer, c.Request, id); err != nil {
		h.failDelivery(c, err)
	}
}

// BatchStatus returns the status derived from a batch's jobs.
func (h *Handler) BatchStatus(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	st, err := h.service.BatchStatus(c.Request.Context(), id)
	if err != nil {
		h.failLookup(c, err, "batch not found")
		return
	}

	respond.OK(c, st)
}

// Quota returns the caller's usage in every window.
func (h *Handler) Quota(c *ginext.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		respond.Fail(c, http.StatusInternalServerError, CodeInternal, errors.New("missing identity"))
		return
	}

	windows, err := h.usage.Usage(c.Request.Context(), identity, quota.KindCompress)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("identity", identity.ID).Msg("failed to read quota")
		respond.Fail(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to read quota"))
		return
	}

	respond.OK(c, QuotaResponse{Kind: quota.KindCompress, Windows: windows})
}

// Formats lists every legal conversion.
func (h *Handler) Formats(c *ginext.Context) {
	respond.OK(c, h.service.Formats())
}

func (h *Handler) failLookup(c *ginext.Context, err error, notFound string) {
	if jobsvc.IsNotFound(err) {
		respond.Fail(c, http.StatusNotFound, CodeNotFound, errors.New(notFound))
		return
	}
	zlog.Logger.Error().Err(err).Msg("lookup failed")
	respond.Fail(c, http.StatusInternalServerError, CodeInternal, errors.New("internal error"))
}

func (h *Handler) failDelivery(c *ginext.Context, err error) {
	var rerr *delivery.RangeError
	switch {
	case errors.As(err, &rerr):
		c.Header("Content-Range", "bytes */"+strconv.FormatInt(rerr.Size, 10))
		respond.Fail(c, http.StatusRequestedRangeNotSatisfiable, CodeRangeNotSatisfiable, errors.New("requested range not satisfiable"))
	case errors.Is(err, delivery.ErrArtifactNotFound), jobsvc.IsNotFound(err):
		respond.Fail(c, http.StatusNotFound, CodeNotFound, errors.New("artifact not found"))
	default:
		zlog.Logger.Error().Err(err).Msg("delivery failed")
		respond.Fail(c, http.StatusInternalServerError, CodeInternal, errors.New("internal error"))
	}
}
