// Package errors defines the service-wide error taxonomy. Handlers map these
// to HTTP statuses; retry classifies them as transient or permanent.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes the service distinguishes.
var (
	ErrTimeout           = errors.New("request timed out")
	ErrRateLimit         = errors.New("rate limited")
	ErrUnavailable       = errors.New("service unavailable")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPrecondition      = errors.New("precondition not met")
	ErrParseFailure      = errors.New("structured output unparseable")
	ErrContractViolation = errors.New("collaborator contract violation")
	ErrStageLocked       = errors.New("stage is locked")
)

// APIError wraps a failure from an upstream service with enough context to
// classify and log it.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Service, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError builds an APIError without a wrapped cause.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable reports whether a failed call is worth repeating. Transient
// upstream conditions and unparseable collaborator output are; everything
// else fails fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrParseFailure) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
