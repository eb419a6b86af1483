package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/store"
	"github.com/jobrunr-app/taskforge/internal/task"
)

// CreateTaskRequest carries the caller's input for a new background task.
type CreateTaskRequest struct {
	Type          domain.TaskType
	TargetID      string
	InputSnapshot json.RawMessage
	Meta          map[string]string
}

// TaskService provides the application-level task operations exposed to the
// API layer.
type TaskService interface {
	// CreateTask starts a new background task for the owner. When an active
	// task already exists for the same (target, type) it returns an
	// *ActiveTaskError carrying the existing task instead of starting a
	// second one.
	CreateTask(ctx context.Context, ownerID string, req CreateTaskRequest) (*domain.Task, error)

	// GetTask retrieves a single task. Returns ErrTaskNotFound when the task
	// does not exist or belongs to another owner.
	GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error)

	// FindActiveTask returns the live task for the (target, type) tuple, or
	// nil when none exists.
	FindActiveTask(ctx context.Context, ownerID, targetID string, taskType domain.TaskType) (*domain.Task, error)

	// ListActiveTasks returns the owner's live tasks, oldest first.
	ListActiveTasks(ctx context.Context, ownerID string) ([]*domain.Task, error)

	// AttachSession hooks a connecting owner into the orchestrator: it
	// starts the notification watch and resumes any interrupted tasks.
	AttachSession(ctx context.Context, ownerID string) error

	// SubscribeActiveTasks opens a change subscription over the owner's
	// live tasks for streaming progress to clients.
	SubscribeActiveTasks(ctx context.Context, ownerID string) (store.TaskSubscription, error)
}

// taskServiceImpl implements the TaskService interface.
type taskServiceImpl struct {
	store      store.TaskStore
	lifecycle  *task.Lifecycle
	runner     *task.Runner
	dispatcher *task.Dispatcher
	retention  time.Duration
	logger     *slog.Logger
}

// NewTaskService creates a new TaskService. It returns an error if any of
// the required dependencies are nil.
func NewTaskService(
	taskStore store.TaskStore,
	lifecycle *task.Lifecycle,
	runner *task.Runner,
	dispatcher *task.Dispatcher,
	retention time.Duration,
	logger *slog.Logger,
) (TaskService, error) {
	if taskStore == nil {
		return nil, errors.New("taskStore cannot be nil")
	}
	if lifecycle == nil {
		return nil, errors.New("lifecycle cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		store:      taskStore,
		lifecycle:  lifecycle,
		runner:     runner,
		dispatcher: dispatcher,
		retention:  retention,
		logger:     logger.With(slog.String("component", "task_service")),
	}, nil
}

// CreateTask implements TaskService.CreateTask.
func (s *taskServiceImpl) CreateTask(
	ctx context.Context,
	ownerID string,
	req CreateTaskRequest,
) (*domain.Task, error) {
	// Fast path: surface the existing task before attempting the insert.
	// The store's create-time duplicate check still backstops the race
	// where two requests pass this read concurrently.
	existing, err := s.FindActiveTask(ctx, ownerID, req.TargetID, req.Type)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ActiveTaskError{Existing: existing}
	}

	t, err := s.lifecycle.Create(ctx, ownerID, req.Type, req.TargetID, req.InputSnapshot, req.Meta)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateActiveTask) {
			return nil, s.lostCreateRace(ctx, ownerID, req)
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, &TaskServiceError{Operation: "create", Err: err}
	}

	s.runner.Dispatch(t)

	// No notification watch here. The watch's initial snapshot would emit
	// older unnotified outcomes and mark them shown while no stream is open
	// to receive them; AttachSession starts the watch once a client connects.

	return t, nil
}

// lostCreateRace resolves a create that lost the duplicate race by loading
// the winner.
func (s *taskServiceImpl) lostCreateRace(
	ctx context.Context,
	ownerID string,
	req CreateTaskRequest,
) error {
	winner, err := s.FindActiveTask(ctx, ownerID, req.TargetID, req.Type)
	if err != nil {
		return err
	}
	return &ActiveTaskError{Existing: winner}
}

// GetTask implements TaskService.GetTask.
func (s *taskServiceImpl) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	t, err := s.lifecycle.Get(ctx, ownerID, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		return nil, &TaskServiceError{Operation: "get", Err: err}
	}
	return t, nil
}

// FindActiveTask implements TaskService.FindActiveTask. Absence is not an
// error here: callers use it to decide whether starting a task is allowed.
func (s *taskServiceImpl) FindActiveTask(
	ctx context.Context,
	ownerID, targetID string,
	taskType domain.TaskType,
) (*domain.Task, error) {
	t, err := s.store.FindActiveTask(ctx, ownerID, targetID, taskType)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, &TaskServiceError{Operation: "find_active", Err: err}
	}
	return t, nil
}

// ListActiveTasks implements TaskService.ListActiveTasks.
func (s *taskServiceImpl) ListActiveTasks(ctx context.Context, ownerID string) ([]*domain.Task, error) {
	tasks, err := s.store.ListResumableTasks(ctx, ownerID, s.retention)
	if err != nil {
		return nil, &TaskServiceError{Operation: "list_active", Err: err}
	}
	return tasks, nil
}

// AttachSession implements TaskService.AttachSession. The order matters:
// the watch must be in place before resumption finalizes anything, so an
// outcome produced during resume is delivered rather than sitting
// unnotified until the next store change.
func (s *taskServiceImpl) AttachSession(ctx context.Context, ownerID string) error {
	if err := s.dispatcher.Watch(ctx, ownerID); err != nil {
		return &TaskServiceError{Operation: "attach", Err: fmt.Errorf("failed to start notification watch: %w", err)}
	}

	if err := s.runner.Resume(ctx, ownerID); err != nil {
		return &TaskServiceError{Operation: "attach", Err: fmt.Errorf("failed to resume tasks: %w", err)}
	}

	s.logger.Debug("session attached", "owner_id", ownerID)
	return nil
}

// SubscribeActiveTasks implements TaskService.SubscribeActiveTasks.
func (s *taskServiceImpl) SubscribeActiveTasks(
	ctx context.Context,
	ownerID string,
) (store.TaskSubscription, error) {
	sub, err := s.store.SubscribeTasks(ctx, ownerID, store.ActiveTasksFilter())
	if err != nil {
		return nil, &TaskServiceError{Operation: "subscribe", Err: err}
	}
	return sub, nil
}
