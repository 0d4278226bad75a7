package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// ValidationError is implemented by every rejection the resolver produces.
// Code is the machine-readable classification surfaced to clients.
type ValidationError interface {
	error
	Code() string
}

// IsValidation reports whether err is a resolver rejection.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// InvalidConversionError is returned for an unknown format or a pair absent from the registry.
type InvalidConversionError struct {
	Source model.FormatID
	Target model.FormatID
}

func (e *InvalidConversionError) Error() string {
	return fmt.Sprintf("conversion from %s to %s is not supported", e.Source, e.Target)
}

func (e *InvalidConversionError) Code() string { return "invalid-conversion" }

// UnsupportedAlgorithmError is returned when the algorithm is not allowed for the resolved target.
type UnsupportedAlgorithmError struct {
	Algorithm model.Algorithm
	Target    model.FormatID
	Allowed   []model.Algorithm
}

func (e *UnsupportedAlgorithmError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, a := range e.Allowed {
		allowed = append(allowed, string(a))
	}
	return fmt.Sprintf("algorithm %q is not available for %s output (allowed: %s)",
		e.Algorithm, e.Target, strings.Join(allowed, ", "))
}

func (e *UnsupportedAlgorithmError) Code() string { return "unsupported-algorithm" }

// FileTooLargeError is returned when the source exceeds the ceiling for its format and tier.
type FileTooLargeError struct {
	Format model.FormatID
	Size   int64
	Limit  int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%s file of %s exceeds the %s limit",
		e.Format, humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

func (e *FileTooLargeError) Code() string { return "file-too-large" }

// InvalidSettingsError is returned for out-of-range or inapplicable settings.
type InvalidSettingsError struct {
	Field  string
	Reason string
}

func (e *InvalidSettingsError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidSettingsError) Code() string { return "invalid-settings" }
