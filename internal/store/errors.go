package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrTaskTerminal is returned when an update is attempted on a task that
	// already reached a terminal state. The record is left unchanged.
	ErrTaskTerminal = errors.New("task is in a terminal state")

	// ErrDuplicateActiveTask is returned when creating a task would violate
	// the one-active-task-per-target invariant and the store was able to
	// detect it (best-effort; see the partial unique index in the Postgres
	// adapter).
	ErrDuplicateActiveTask = errors.New("an active task already exists for this target")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrSubscriptionClosed is returned when operating on a change
	// subscription that has already been closed.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
