package executor

import (
	"context"
	"errors"

	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/storage/file"
)

// kinded is implemented by errors that carry their own classification.
type kinded interface {
	Kind() model.ErrorKind
}

type classified struct {
	kind model.ErrorKind
	err  error
}

func (e *classified) Error() string         { return e.err.Error() }
func (e *classified) Unwrap() error         { return e.err }
func (e *classified) Kind() model.ErrorKind { return e.kind }

// transient marks an I/O failure that may succeed on the single retry.
func transient(err error) error {
	return &classified{kind: model.ErrorTransientIO, err: err}
}

// loadFailure classifies a failure to read the job input. A missing input
// will not reappear, so it is terminal.
func loadFailure(err error) error {
	if errors.Is(err, file.ErrObjectNotFound) {
		return &classified{kind: model.ErrorCorruptInput, err: err}
	}
	return transient(err)
}

// Classify maps any processing error to a job error kind.
// Unknown errors are treated as permanent encode failures.
func Classify(err error) model.ErrorKind {
	if err == nil {
		return model.ErrorNone
	}

	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorResourceLimit
	case errors.Is(err, context.Canceled):
		return model.ErrorTransientIO
	default:
		return model.ErrorEncode
	}
}
