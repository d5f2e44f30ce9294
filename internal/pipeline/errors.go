package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Sentinel errors returned by the retrieval engine.
var (
	// ErrTooManyRedirects is returned when a request follows more than MaxRedirects hops.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrRobotsDisallowed is returned when robots.txt checks are enabled and deny the URL.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
)

// Kind classifies a failed block or file for reporting
type Kind string

const (
	KindNone             Kind = ""
	KindFileRead         Kind = "file_read"
	KindNetwork          Kind = "network"
	KindHTTPStatus       Kind = "http_status"
	KindTooManyRedirects Kind = "too_many_redirects"
	KindWrite            Kind = "write"
	KindRobots           Kind = "robots"
	KindUnknown          Kind = "unknown"
)

// StatusError reports a terminal non-2xx response
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, http.StatusText(e.Code))
}

// WriteError reports a local I/O failure while materializing a download
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ReadError reports an export file that could not be read
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read export %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Classify maps an error to its Kind using sentinels and error types only
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		statusErr *StatusError
		writeErr  *WriteError
		readErr   *ReadError
		netErr    net.Error
	)

	switch {
	case errors.Is(err, ErrTooManyRedirects):
		return KindTooManyRedirects
	case errors.Is(err, ErrRobotsDisallowed):
		return KindRobots
	case errors.As(err, &statusErr):
		return KindHTTPStatus
	case errors.As(err, &writeErr):
		return KindWrite
	case errors.As(err, &readErr):
		return KindFileRead
	case errors.As(err, &netErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}

	return KindUnknown
}

// IsTimeout reports whether err was caused by the request timeout
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
