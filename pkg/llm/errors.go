package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoModel is returned when a model is required but missing.
	ErrNoModel = errors.New("llm: model required")

	// ErrMalformedResponse is returned when the backend answered 200 but
	// the body could not be decoded or carried no choices.
	ErrMalformedResponse = errors.New("llm: malformed completion response")
)

// APIError represents an error response from the completion API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API.
	Message string

	// Code is the error code (if provided).
	Code string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("llm: API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("llm: API error %d: %s", e.StatusCode, e.Message)
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// TransportError wraps a connection-level failure so callers can tell it
// apart from a malformed body.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("llm: transport: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
