package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a background task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskType identifies the kind of transformation a task performs.
// It determines which transform function runs the task and which
// notification copy applies to its outcome.
type TaskType string

// Supported task types
const (
	TaskTypeCVRewrite   TaskType = "cv_rewrite"
	TaskTypeATSAnalysis TaskType = "ats_analysis"
	TaskTypeCoverLetter TaskType = "cover_letter"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyTaskOwnerID  = errors.New("task owner ID cannot be empty")
	ErrEmptyTaskTargetID = errors.New("task target ID cannot be empty")
	ErrEmptyTaskInput    = errors.New("task input snapshot cannot be empty")
	ErrInvalidTaskType   = errors.New("invalid task type")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidProgress   = errors.New("task progress must be between 0 and 100")
)

// Task represents one unit of background work and its lifecycle state.
// It is the only shared mutable record in the orchestrator: the creator
// writes it once, the owning worker updates progress and finalizes it,
// and the notification dispatcher flips NotificationShown.
type Task struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"owner_id"`
	Type              TaskType          `json:"type"`
	Status            TaskStatus        `json:"status"`
	Progress          int               `json:"progress"`
	Step              int               `json:"step"`
	StepLabel         string            `json:"step_label,omitempty"`
	TargetID          string            `json:"target_id,omitempty"`
	InputSnapshot     json.RawMessage   `json:"input_snapshot,omitempty"`
	Result            json.RawMessage   `json:"result,omitempty"`
	Error             string            `json:"error,omitempty"`
	NotificationShown bool              `json:"notification_shown"`
	Meta              map[string]string `json:"meta,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// NewTask creates a new Task in the pending state with a generated ID
// and an immutable copy of the input snapshot. Returns an error if
// validation fails.
func NewTask(
	ownerID string,
	taskType TaskType,
	targetID string,
	inputSnapshot json.RawMessage,
	meta map[string]string,
) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Type:          taskType,
		Status:        TaskStatusPending,
		Progress:      0,
		TargetID:      targetID,
		InputSnapshot: append(json.RawMessage(nil), inputSnapshot...),
		Meta:          meta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrEmptyTaskID
	}

	if t.OwnerID == "" {
		return ErrEmptyTaskOwnerID
	}

	if !IsValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}

	if t.TargetID == "" {
		return ErrEmptyTaskTargetID
	}

	if !t.HasInputSnapshot() {
		return ErrEmptyTaskInput
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// IsTerminal reports whether the task has reached a terminal state.
// Terminal status, not progress, is the only authoritative completion signal.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// IsActive reports whether the task is still pending or running.
func (t *Task) IsActive() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusInProgress
}

// HasInputSnapshot reports whether the task carries a usable input snapshot.
// JSON null does not count: resumption must never guess inputs.
func (t *Task) HasInputSnapshot() bool {
	if len(t.InputSnapshot) == 0 {
		return false
	}
	return string(t.InputSnapshot) != "null"
}

// IsValidTaskType checks if the given type is a supported TaskType.
func IsValidTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypeCVRewrite, TaskTypeATSAnalysis, TaskTypeCoverLetter:
		return true
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}
