// Package file stores job inputs and artifacts. Every object lives under a
// job-id-keyed path so concurrent executors never write to the same key.
package file

import (
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrObjectNotFound is returned when the key does not exist in storage.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that escape the storage root.
	ErrInvalidKey = errors.New("invalid object key")
)

const (
	InputsPrefix  = "inputs"
	ResultsPrefix = "results"
)

// Object is an opened stored object. Callers must close it.
type Object interface {
	io.ReadSeeker
	io.Closer
}

// InputKey returns the key of a job's uploaded source file.
func InputKey(jobID uuid.UUID, ext string) string {
	return path.Join(InputsPrefix, jobID.String()+dotted(ext))
}

// ResultKey returns the key of a job's transcoded artifact.
func ResultKey(jobID uuid.UUID, ext string) string {
	return path.Join(ResultsPrefix, jobID.String()+dotted(ext))
}

func dotted(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return ""
	}
	return "." + ext
}

// cleanKey normalises key and rejects anything that would leave the storage root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, '\\') {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
