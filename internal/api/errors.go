package api

import (
	"errors"
	"net/http"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/service"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, store.ErrTaskNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicateActiveTask):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest

	// State machine violations surface as conflicts, not server faults
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrTaskTerminal):
		return http.StatusConflict

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrTaskNotFound), errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrDuplicateActiveTask):
		return "An active task already exists for this target"
	case errors.Is(err, domain.ErrInvalidInput):
		return "Invalid request"
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, store.ErrTaskTerminal):
		return "Task has already finished"
	default:
		return "An internal error occurred"
	}
}
