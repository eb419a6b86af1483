package service

import (
	"errors"
	"fmt"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for these with errors.Is(); the API layer maps them to HTTP
// status codes.
var (
	// ErrTaskNotFound indicates the requested task does not exist or belongs
	// to another owner. API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")
)

// ActiveTaskError is returned when creating a task would violate the
// one-active-task-per-target rule. It carries the existing task so the
// caller can surface it instead of a bare conflict.
type ActiveTaskError struct {
	Existing *domain.Task
}

// Error implements the error interface for ActiveTaskError.
func (e *ActiveTaskError) Error() string {
	if e.Existing != nil {
		return fmt.Sprintf(
			"an active %s task already exists for target %s",
			e.Existing.Type,
			e.Existing.TargetID,
		)
	}
	return "an active task already exists for this target"
}

// Unwrap supports errors.Is checks against the store sentinel.
func (e *ActiveTaskError) Unwrap() error {
	return store.ErrDuplicateActiveTask
}

// TaskServiceError wraps unexpected failures with the operation that
// produced them.
type TaskServiceError struct {
	Operation string
	Err       error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	return fmt.Sprintf("task service %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}
