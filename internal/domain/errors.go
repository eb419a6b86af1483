package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrInvalidInput is returned when a caller attempts to create a task
	// missing required fields. The request is rejected before any store write.
	ErrInvalidInput = errors.New("invalid task input")

	// ErrInvalidTransition is returned when a progress or terminal update is
	// attempted on a task that already reached a terminal state. It indicates
	// a stale in-process reference, not a data problem, and is never surfaced
	// to the end user.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrResumptionDataMissing is returned when a non-terminal task is found
	// without a usable input snapshot during the resumption scan.
	ErrResumptionDataMissing = errors.New("task data missing")
)
