// Package apperr defines the error taxonomy shared across the engine.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed or missing input, rejected before the pipeline.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a referenced conversation or contact that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrWindowStore marks an I/O failure reading or writing the service window.
	// Callers degrade to a closed window; this is never returned to API clients.
	ErrWindowStore = errors.New("window store error")

	// ErrResponder marks a responder capability failure. The conversation is
	// left in its prior status when this is returned.
	ErrResponder = errors.New("responder error")

	// ErrInvalidTransition marks a conversation status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Validation wraps a message as a validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps a message as a not-found error.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Code returns the machine-readable code for an error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrResponder):
		return "responder_error"
	case errors.Is(err, ErrWindowStore):
		return "window_store_error"
	default:
		return "internal_error"
	}
}

// Status returns the HTTP status classification for an error.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrResponder):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
