package codec

import "github.com/aliskhannn/image-transcoder/internal/model"

// Error is a codec failure tagged with its classification.
type Error struct {
	kind model.ErrorKind
	op   string
	err  error
}

func (e *Error) Error() string { return e.op + ": " + e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// Kind returns the failure classification recorded on the job.
func (e *Error) Kind() model.ErrorKind { return e.kind }

func corruptInput(op string, err error) error {
	return &Error{kind: model.ErrorCorruptInput, op: op, err: err}
}

func encodeFailure(op string, err error) error {
	return &Error{kind: model.ErrorEncode, op: op, err: err}
}

func resourceLimit(op string, err error) error {
	return &Error{kind: model.ErrorResourceLimit, op: op, err: err}
}
