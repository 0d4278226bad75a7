package executor

import (
	"github.com/getsentry/sentry-go"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// SentryReporter sends permanent processing failures to Sentry.
// It is a no-op until sentry.Init has been called with a DSN.
type SentryReporter struct{}

// Report captures err with the job's identifying tags.
func (SentryReporter) Report(job model.Job, kind model.ErrorKind, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job_id", job.ID.String())
		scope.SetTag("error_kind", string(kind))
		scope.SetTag("source_format", string(job.Settings.SourceFormat))
		scope.SetTag("target_format", string(job.Settings.TargetFormat))
		scope.SetTag("route", string(job.Settings.Route))
		sentry.CaptureException(err)
	})
}
