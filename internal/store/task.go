package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jobrunr-app/taskforge/internal/domain"
)

// TaskStore defines the interface for persisting tasks in the external
// document store. Implementations are thin adapters: state-machine rules
// live in the task package, but terminal immutability is enforced here as
// a conditional write so that two processes cannot race a finalized task
// back to life.
// Version: 1.0
type TaskStore interface {
	// CreateTask persists a new task record.
	CreateTask(ctx context.Context, t *domain.Task) error

	// GetTask retrieves a task by owner and ID.
	// Returns ErrTaskNotFound if no such task exists.
	GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error)

	// UpdateTaskProgress writes a progress checkpoint and forces the status
	// to in_progress. Returns ErrTaskTerminal if the task already reached a
	// terminal state.
	UpdateTaskProgress(ctx context.Context, ownerID, taskID string, progress, step int, stepLabel string) error

	// CompleteTask transitions the task to completed with the given result,
	// pins progress to 100 and stamps completed_at. Returns ErrTaskTerminal
	// if the task is already terminal.
	CompleteTask(ctx context.Context, ownerID, taskID string, result json.RawMessage) error

	// FailTask transitions the task to failed with the given message.
	// Returns ErrTaskTerminal if the task is already terminal.
	FailTask(ctx context.Context, ownerID, taskID, errorMessage string) error

	// MarkTaskNotified sets the notification_shown flag. Idempotent: marking
	// an already-notified task is not an error.
	MarkTaskNotified(ctx context.Context, ownerID, taskID string) error

	// FindActiveTask returns the task with status pending or in_progress for
	// the given (owner, target, type) tuple, or ErrTaskNotFound when none
	// exists.
	FindActiveTask(ctx context.Context, ownerID, targetID string, taskType domain.TaskType) (*domain.Task, error)

	// ListResumableTasks returns non-terminal tasks for the owner created
	// within the retention window, oldest first. Used by the resumption scan.
	ListResumableTasks(ctx context.Context, ownerID string, within time.Duration) ([]*domain.Task, error)

	// SubscribeTasks opens a change subscription delivering snapshots of the
	// owner's tasks matching the filter. The first snapshot is delivered
	// immediately; later snapshots follow store change notifications, which
	// are delivered at least once, so consumers must tolerate duplicates.
	SubscribeTasks(ctx context.Context, ownerID string, filter TaskFilter) (TaskSubscription, error)
}

// TaskFilter selects which task set a subscription observes.
type TaskFilter struct {
	// Statuses restricts the snapshot to tasks in any of these states.
	// Empty means all states.
	Statuses []domain.TaskStatus

	// UnnotifiedOnly restricts the snapshot to tasks whose terminal outcome
	// has not been flagged as notified yet.
	UnnotifiedOnly bool

	// Within restricts the snapshot to tasks created inside this window.
	// Zero means no age limit.
	Within time.Duration
}

// ActiveTasksFilter matches tasks that are pending or in progress.
func ActiveTasksFilter() TaskFilter {
	return TaskFilter{
		Statuses: []domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusInProgress},
	}
}

// UnnotifiedTasksFilter matches terminal tasks whose outcome has not been
// delivered to the user yet.
func UnnotifiedTasksFilter() TaskFilter {
	return TaskFilter{
		Statuses:       []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed},
		UnnotifiedOnly: true,
	}
}

// RecentTasksFilter matches all tasks created inside the given window.
func RecentTasksFilter(within time.Duration) TaskFilter {
	return TaskFilter{Within: within}
}

// Matches reports whether the given task satisfies the filter relative to now.
func (f TaskFilter) Matches(t *domain.Task, now time.Time) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.UnnotifiedOnly && t.NotificationShown {
		return false
	}

	if f.Within > 0 && t.CreatedAt.Before(now.Add(-f.Within)) {
		return false
	}

	return true
}

// TaskSubscription is a handle on an open change subscription.
// Version: 1.0
type TaskSubscription interface {
	// Updates returns the channel delivering record-set snapshots.
	// The channel is closed when the subscription ends.
	Updates() <-chan []*domain.Task

	// Close terminates the subscription and releases its resources.
	Close() error
}
