package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunr-app/taskforge/internal/domain"
)

// OutcomeKind distinguishes success and error outcome events.
type OutcomeKind string

// Possible outcome kinds
const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeError   OutcomeKind = "error"
)

// TaskOutcomeEvent is the single user-facing event emitted per finished
// task. Success events carry the task type and display metadata; error
// events carry a short user-facing message instead.
type TaskOutcomeEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Kind indicates whether the task completed or failed
	Kind OutcomeKind `json:"kind"`

	// OwnerID identifies the user the event belongs to
	OwnerID string `json:"owner_id"`

	// TaskID identifies the finished task
	TaskID string `json:"task_id"`

	// TaskType is the kind of work the task performed
	TaskType domain.TaskType `json:"task_type"`

	// TargetID identifies the resource the task operated on
	TargetID string `json:"target_id,omitempty"`

	// Title and Company are display metadata for success notifications
	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`

	// Message is the short user-facing failure reason for error events
	Message string `json:"message,omitempty"`

	// OccurredAt is the timestamp when the event was created
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskCompletedEvent creates a success outcome event for the given task.
func NewTaskCompletedEvent(t *domain.Task) *TaskOutcomeEvent {
	return &TaskOutcomeEvent{
		ID:         uuid.New(),
		Kind:       OutcomeSuccess,
		OwnerID:    t.OwnerID,
		TaskID:     t.ID,
		TaskType:   t.Type,
		TargetID:   t.TargetID,
		Title:      t.Meta["title"],
		Company:    t.Meta["company"],
		OccurredAt: time.Now().UTC(),
	}
}

// NewTaskFailedEvent creates an error outcome event carrying a short
// user-facing message.
func NewTaskFailedEvent(t *domain.Task, message string) *TaskOutcomeEvent {
	return &TaskOutcomeEvent{
		ID:         uuid.New(),
		Kind:       OutcomeError,
		OwnerID:    t.OwnerID,
		TaskID:     t.ID,
		TaskType:   t.Type,
		TargetID:   t.TargetID,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskOutcomeEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the dispatcher to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskOutcomeEvent) error
}
