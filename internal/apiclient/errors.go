package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTimeout is wrapped by every error caused by a request exceeding its deadline
var ErrTimeout = errors.New("request timed out")

// ErrMalformedResponse is returned when an auth response lacks a token or user
var ErrMalformedResponse = errors.New("malformed auth response")

// Kind classifies a failed request
type Kind string

const (
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindAuth        Kind = "auth"
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server"
	KindParse       Kind = "parse"
	KindGeneric     Kind = "generic"
)

// Human-readable messages shown when the server gives no detail
const (
	msgNetwork      = "Network error. Please check your connection and try again."
	msgTimeout      = "The server took too long to respond. Please try again."
	msgUnauthorized = "Authentication required. Please log in again."
	msgForbidden    = "Access denied. You do not have permission to perform this action."
	msgNotFound     = "Resource not found."
	msgValidation   = "Please check your input and try again."
	msgRateLimited  = "Too many requests. Please wait a moment and try again."
	msgServer       = "Server error. Please try again later."
	msgParse        = "Failed to process server response."
)

// APIError is returned for every failed request. Status is 0 when no HTTP
// response was received.
type APIError struct {
	Status  int
	Kind    Kind
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAuthError reports a 401/403 rejection
func (e *APIError) IsAuthError() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsValidationError reports a 400/422 rejection
func (e *APIError) IsValidationError() bool {
	return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
}

// IsRetryable reports failures worth another attempt: network errors,
// server errors and rate limiting. Timeouts are not retried so the
// caller's bound holds.
func (e *APIError) IsRetryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer || e.Status == http.StatusTooManyRequests
}

// IsAuthError reports whether err carries a 401/403 rejection
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuthError()
}

// IsTimeout reports whether err was caused by a request deadline
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Message returns the human-readable message for err, suitable for display
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "An unexpected error occurred. Please try again."
}

// statusError builds the error for a non-2xx response. detail is the
// server-provided explanation, if any.
func statusError(status int, detail string) *APIError {
	e := &APIError{Status: status, Kind: KindGeneric, Message: detail}

	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
		e.Message = orDefault(detail, msgUnauthorized)
	case status == http.StatusForbidden:
		e.Kind = KindAuth
		e.Message = orDefault(detail, msgForbidden)
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
		e.Message = msgNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
		e.Message = orDefault(detail, msgValidation)
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.Message = msgRateLimited
	case status >= 500:
		e.Kind = KindServer
		e.Message = msgServer
	default:
		e.Message = orDefault(detail, fmt.Sprintf("HTTP %d", status))
	}

	return e
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
