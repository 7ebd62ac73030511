package qerr

import (
	"errors"
	"fmt"
	"time"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown       Code = "unknown"
	CodeUnauthorized  Code = "unauthorized"
	CodeExpiredToken  Code = "expired_token"
	CodeRefreshFailed Code = "refresh_failed"
	CodeConfiguration Code = "configuration"
	CodeTransport     Code = "transport"
	CodeTransfer      Code = "transfer"
	CodeSubmission    Code = "submission"
	CodeTimeout       Code = "timeout"
	CodeNotFound      Code = "not_found"
)

var (
	// ErrContainerRequired is returned before any network call when a workflow
	// moves files but no storage container was named.
	ErrContainerRequired = errors.New("container key is required when input or output files are given")

	// ErrUnknownTicketShape is returned for upload tickets that are neither a
	// single signed URL nor a form endpoint.
	ErrUnknownTicketShape = errors.New("unrecognized upload ticket shape")
)

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// IsCode reports whether any coded error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// CodeOf returns the outermost code in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

const maxBodyInMessage = 1000

// HTTPError describes a non-2xx response. The wrapping Code tells whether it
// came from the REST transport, a signed-URL transfer or a job submission.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > maxBodyInMessage {
		body = body[:maxBodyInMessage]
	}
	return fmt.Sprintf("[%d] %s %s :: %s", e.StatusCode, e.Method, e.URL, body)
}

// AsHTTPError extracts the HTTPError from err's chain.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	if he, ok := AsHTTPError(err); ok {
		return he.StatusCode
	}
	return 0
}

// TimeoutError is returned when a job did not reach a terminal state in time.
// The remote job is left running.
type TimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("work item %s did not finish within %s", e.JobID, e.Timeout)
}

// NewTimeout returns a TimeoutError wrapped with CodeTimeout.
func NewTimeout(jobID string, timeout time.Duration) error {
	return New(CodeTimeout, &TimeoutError{JobID: jobID, Timeout: timeout})
}
