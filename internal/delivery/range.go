package delivery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RangeError is returned for a Range header that cannot be served against an
// object of Size bytes. The caller answers 416 with "Content-Range: bytes */Size".
type RangeError struct {
	Header string
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %q not satisfiable for %d bytes", e.Header, e.Size)
}

// ErrRangeNotSatisfiable is matched by every *RangeError.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

func (e *RangeError) Is(target error) bool { return target == ErrRangeNotSatisfiable }

// ByteRange is an inclusive byte span of an object.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the span.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range header value for an object of size bytes.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange parses a single-span "bytes=" Range header against an object of size bytes.
// It returns nil for an empty header. Supported forms are "a-b", "a-" and "-n";
// an end past the object is clamped. Multiple spans are rejected.
func ParseRange(header string, size int64) (*ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	fail := &RangeError{Header: header, Size: size}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") || size <= 0 {
		return nil, fail
	}

	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, fail
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return nil, fail
		}
		n = min(n, size)
		return &ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return nil, fail
	}

	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return nil, fail
		}
		end = min(e, size-1)
	}

	return &ByteRange{Start: start, End: end}, nil
}
