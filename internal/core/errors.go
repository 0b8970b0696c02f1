// Package core provides the shared types, adapter contract, and error
// taxonomy for the mcpgate dispatch engine.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a gateway failure.
type ErrorKind string

const (
	// ErrUnknownModel indicates the requested model identifier is not registered (caller error).
	ErrUnknownModel ErrorKind = "unknown_model"
	// ErrInvalidTurns indicates a malformed conversation turn sequence (caller error).
	ErrInvalidTurns ErrorKind = "invalid_turns"
	// ErrBackend indicates the vendor returned a defined failure (non-2xx).
	ErrBackend ErrorKind = "backend_error"
	// ErrTimeout indicates the configured deadline elapsed before the backend answered.
	ErrTimeout ErrorKind = "timeout"
	// ErrMalformed indicates the vendor payload could not be parsed (backend fault).
	ErrMalformed ErrorKind = "malformed"
)

// GatewayError is the single error type crossing the dispatch boundary.
// Every backend failure is normalized into one of the ErrorKind values so
// the surrounding transport layer can map it without vendor knowledge.
type GatewayError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Status is the vendor HTTP status for backend errors, 0 otherwise.
	Status int `json:"status,omitempty"`
	// Backend names the originating backend, empty for caller errors.
	Backend string `json:"backend,omitempty"`
	// Err preserves the underlying cause for debugging (not exposed to clients).
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Backend, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error kind to a transport status code.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrUnknownModel:
		return http.StatusNotFound
	case ErrInvalidTurns:
		return http.StatusBadRequest
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrBackend, ErrMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the wire shape served to clients.
func (e *GatewayError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"kind":    e.Kind,
			"message": e.Message,
		},
	}
}

// NewUnknownModelError creates an unknown_model error for the given identifier.
func NewUnknownModelError(model string) *GatewayError {
	return &GatewayError{
		Kind:    ErrUnknownModel,
		Message: fmt.Sprintf("model %q is not registered", model),
	}
}

// NewInvalidTurnsError creates an invalid_turns error.
func NewInvalidTurnsError(message string) *GatewayError {
	return &GatewayError{
		Kind:    ErrInvalidTurns,
		Message: message,
	}
}

// NewBackendError creates a backend_error carrying the vendor status.
func NewBackendError(backend string, status int, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:    ErrBackend,
		Message: message,
		Status:  status,
		Backend: backend,
		Err:     err,
	}
}

// NewTimeoutError creates a timeout error for the given backend.
func NewTimeoutError(backend, message string) *GatewayError {
	return &GatewayError{
		Kind:    ErrTimeout,
		Message: message,
		Backend: backend,
		Err:     context.DeadlineExceeded,
	}
}

// NewMalformedError creates a malformed error for an unparseable vendor payload.
func NewMalformedError(backend, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:    ErrMalformed,
		Message: message,
		Backend: backend,
		Err:     err,
	}
}

// WrapTransportError normalizes a transport-level failure from an adapter
// call. Context expiry becomes a timeout; anything else is a backend error.
func WrapTransportError(backend string, err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(backend, "backend did not respond within the configured deadline")
	}
	if errors.Is(err, context.Canceled) {
		return NewTimeoutError(backend, "call cancelled before the backend responded")
	}
	return NewBackendError(backend, http.StatusBadGateway, "request failed: "+err.Error(), err)
}

// ParseBackendError parses a vendor error body into a GatewayError.
// OpenAI-style {"error":{"message":...}} bodies are unwrapped; unknown
// shapes fall back to the raw body text.
func ParseBackendError(backend string, status int, body []byte) *GatewayError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}

	return NewBackendError(backend, status, message, nil)
}
