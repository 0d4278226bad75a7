package model

import "strings"

// Status represents the lifecycle of a transcoding job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

type statusTransition struct {
	from Status
	to   Status
}

// allowedTransitions lists every legal edge of the job state machine.
// failed -> queued is only taken for retryable failures and at most once per job;
// the repositories enforce both conditions. processing -> queued only undoes a
// claim interrupted by shutdown and leaves the retry budget untouched.
var allowedTransitions = []statusTransition{
	{from: StatusQueued, to: StatusProcessing},
	{from: StatusProcessing, to: StatusCompleted},
	{from: StatusProcessing, to: StatusFailed},
	{from: StatusProcessing, to: StatusQueued},
	{from: StatusFailed, to: StatusQueued},
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no executor will touch a job in this status again.
// A failed job may still be re-queued once when its error is retryable.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the state machine permits moving from one status to another.
func CanTransition(from, to Status) bool {
	for _, t := range allowedTransitions {
		if t.from == from && t.to == to {
			return true
		}
	}
	return false
}

// ErrorKind is the machine-readable classification of a failed job.
type ErrorKind string

const (
	ErrorNone          ErrorKind = ""
	ErrorCorruptInput  ErrorKind = "corrupt-input"
	ErrorEncode        ErrorKind = "encode-error"
	ErrorResourceLimit ErrorKind = "resource-limit"
	ErrorTransientIO   ErrorKind = "transient-io"
	ErrorCancelled     ErrorKind = "cancelled"
)

// Retryable reports whether a failure of this kind is eligible for the automatic retry.
func (k ErrorKind) Retryable() bool {
	return k == ErrorTransientIO
}

// Message returns the short user-facing description for the error kind.
func (k ErrorKind) Message() string {
	switch k {
	case ErrorCorruptInput:
		return "the source file could not be decoded"
	case ErrorEncode:
		return "the image could not be encoded with the requested settings"
	case ErrorResourceLimit:
		return "the image exceeds the processing limits"
	case ErrorTransientIO:
		return "a temporary storage error occurred"
	case ErrorCancelled:
		return "the job was cancelled"
	default:
		return ""
	}
}
