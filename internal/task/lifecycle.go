package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// Lifecycle owns the task state machine. All writes to a task record flow
// through it: creation, progress checkpoints, terminal transitions and the
// notification flag. It enforces terminal immutability and input validation;
// write monotonicity of progress is enforced by the store adapters so that
// racing checkpoint writes cannot regress the stored value.
type Lifecycle struct {
	store  store.TaskStore
	logger *slog.Logger
}

// NewLifecycle creates a new Lifecycle over the given store.
func NewLifecycle(taskStore store.TaskStore, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:  taskStore,
		logger: logger.With("component", "task_lifecycle"),
	}
}

// Create validates the input and persists a new pending task with an
// immutable input snapshot. Returns domain.ErrInvalidInput when the target
// or snapshot is missing, before any store write.
func (l *Lifecycle) Create(
	ctx context.Context,
	ownerID string,
	taskType domain.TaskType,
	targetID string,
	inputSnapshot json.RawMessage,
	meta map[string]string,
) (*domain.Task, error) {
	t, err := domain.NewTask(ownerID, taskType, targetID, inputSnapshot, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	if err := l.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	l.logger.Info("task created",
		"task_id", t.ID,
		"task_type", t.Type,
		"target_id", t.TargetID,
		"owner_id", t.OwnerID)

	return t, nil
}

// Get retrieves a task by owner and ID.
func (l *Lifecycle) Get(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	return l.store.GetTask(ctx, ownerID, taskID)
}

// UpdateProgress writes a display checkpoint. Any progress update forces the
// task into in_progress. Progress values are clamped to [0,100]. Returns
// domain.ErrInvalidTransition if the task already reached a terminal state;
// the record is left unchanged.
func (l *Lifecycle) UpdateProgress(
	ctx context.Context,
	ownerID, taskID string,
	progress, step int,
	stepLabel string,
) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	err := l.store.UpdateTaskProgress(ctx, ownerID, taskID, progress, step, stepLabel)
	if errors.Is(err, store.ErrTaskTerminal) {
		// Stale in-process reference, not a data problem. Logged and ignored
		// by callers; never surfaced to the end user.
		l.logger.Warn("progress update on terminal task ignored",
			"task_id", taskID,
			"progress", progress)
		return domain.ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// Complete finalizes the task as completed: progress pinned to 100,
// completed_at stamped, notification_shown reset to false so the dispatcher
// picks it up. Returns domain.ErrInvalidTransition if already terminal.
func (l *Lifecycle) Complete(ctx context.Context, ownerID, taskID string, result json.RawMessage) error {
	err := l.store.CompleteTask(ctx, ownerID, taskID, result)
	if errors.Is(err, store.ErrTaskTerminal) {
		l.logger.Warn("complete on terminal task ignored", "task_id", taskID)
		return domain.ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	l.logger.Info("task completed", "task_id", taskID, "owner_id", ownerID)
	return nil
}

// Fail finalizes the task as failed with a short user-facing message.
// Returns domain.ErrInvalidTransition if already terminal.
func (l *Lifecycle) Fail(ctx context.Context, ownerID, taskID, errorMessage string) error {
	err := l.store.FailTask(ctx, ownerID, taskID, errorMessage)
	if errors.Is(err, store.ErrTaskTerminal) {
		l.logger.Warn("fail on terminal task ignored", "task_id", taskID)
		return domain.ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}

	l.logger.Info("task failed", "task_id", taskID, "owner_id", ownerID, "reason", errorMessage)
	return nil
}

// MarkNotified flags the task's outcome as delivered so other sessions do
// not notify again. Idempotent: marking twice is not an error.
func (l *Lifecycle) MarkNotified(ctx context.Context, ownerID, taskID string) error {
	if err := l.store.MarkTaskNotified(ctx, ownerID, taskID); err != nil {
		return fmt.Errorf("failed to mark task notified: %w", err)
	}
	return nil
}
