package client

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorKind classifies a failed EDSM request.
type ErrorKind string

const (
	// KindTransientNetwork covers transport failures and 5xx responses.
	KindTransientNetwork ErrorKind = "transient_network"

	// KindRateLimited covers 429 responses and an exhausted rate-limit window.
	KindRateLimited ErrorKind = "rate_limited"

	// KindAuthInvalid covers rejected commander name / API key combinations.
	KindAuthInvalid ErrorKind = "auth_invalid"

	// KindMalformedResponse covers bodies that cannot be decoded and
	// unexpected API answers.
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Error is an EDSM request failure with its classification.
type Error struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int

	// MsgNum is the EDSM message number, when the body carried one.
	MsgNum int

	Message string

	// RetryAfter is the server-requested delay, if any.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	detail := e.Message
	if e.MsgNum != 0 {
		detail = fmt.Sprintf("msgnum %d: %s", e.MsgNum, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("EDSM %s error (status %d) on %s: %s: %v",
			e.Kind, e.StatusCode, e.Endpoint, detail, e.Err)
	}
	return fmt.Sprintf("EDSM %s error (status %d) on %s: %s",
		e.Kind, e.StatusCode, e.Endpoint, detail)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or "" if err is not an EDSM
// request error.
func KindOf(err error) ErrorKind {
	var edsmErr *Error
	if errors.As(err, &edsmErr) {
		return edsmErr.Kind
	}
	return ""
}

// retryAfterOf returns the server-requested delay carried by err.
func retryAfterOf(err error) time.Duration {
	var edsmErr *Error
	if errors.As(err, &edsmErr) {
		return edsmErr.RetryAfter
	}
	return 0
}

// IsFatal reports whether a failure of this kind must abort the run without
// retrying.
func IsFatal(kind ErrorKind) bool {
	return !shouldRetry(kind)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(kind ErrorKind) bool {
	switch kind {
	case KindTransientNetwork, KindRateLimited, KindMalformedResponse:
		return true
	case KindAuthInvalid:
		// retrying bad credentials only burns rate-limit budget
		return false
	default:
		return false
	}
}
