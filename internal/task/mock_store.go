package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// MockTaskStore implements the store.TaskStore interface for testing.
// It keeps records in memory and fans change notifications out to
// subscriptions the way the external document store would, including
// occasional duplicate deliveries when several writes land close together.
type MockTaskStore struct {
	mutex sync.RWMutex
	tasks map[string]*domain.Task
	subs  []*mockSubscription

	// Optional overrides for simulating store failures.
	CreateFn       func(ctx context.Context, t *domain.Task) error
	CompleteFn     func(ctx context.Context, ownerID, taskID string, result json.RawMessage) error
	MarkNotifiedFn func(ctx context.Context, ownerID, taskID string) error
}

// NewMockTaskStore creates a new MockTaskStore with default implementations.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[string]*domain.Task),
	}
}

func taskKey(ownerID, taskID string) string {
	return ownerID + "/" + taskID
}

// CreateTask persists a task, enforcing the one-active-task-per-target
// invariant the way a store with conditional writes would.
func (s *MockTaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, t)
	}

	s.mutex.Lock()
	for _, existing := range s.tasks {
		if existing.OwnerID == t.OwnerID &&
			existing.TargetID == t.TargetID &&
			existing.Type == t.Type &&
			existing.IsActive() {
			s.mutex.Unlock()
			return store.ErrDuplicateActiveTask
		}
	}
	s.tasks[taskKey(t.OwnerID, t.ID)] = copyTask(t)
	s.mutex.Unlock()

	s.publish(t.OwnerID)
	return nil
}

// GetTask retrieves a task by owner and ID.
func (s *MockTaskStore) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	t, ok := s.tasks[taskKey(ownerID, taskID)]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(t), nil
}

// UpdateTaskProgress writes a checkpoint, forcing in_progress and keeping
// the stored progress monotonic under racing writes.
func (s *MockTaskStore) UpdateTaskProgress(
	ctx context.Context,
	ownerID, taskID string,
	progress, step int,
	stepLabel string,
) error {
	s.mutex.Lock()
	t, ok := s.tasks[taskKey(ownerID, taskID)]
	if !ok {
		s.mutex.Unlock()
		return store.ErrTaskNotFound
	}
	if t.IsTerminal() {
		s.mutex.Unlock()
		return store.ErrTaskTerminal
	}

	if progress > t.Progress {
		t.Progress = progress
	}
	t.Status = domain.TaskStatusInProgress
	t.Step = step
	t.StepLabel = stepLabel
	t.UpdatedAt = time.Now().UTC()
	s.mutex.Unlock()

	s.publish(ownerID)
	return nil
}

// CompleteTask finalizes the task as completed unless already terminal.
func (s *MockTaskStore) CompleteTask(
	ctx context.Context,
	ownerID, taskID string,
	result json.RawMessage,
) error {
	if s.CompleteFn != nil {
		return s.CompleteFn(ctx, ownerID, taskID, result)
	}

	s.mutex.Lock()
	t, ok := s.tasks[taskKey(ownerID, taskID)]
	if !ok {
		s.mutex.Unlock()
		return store.ErrTaskNotFound
	}
	if t.IsTerminal() {
		s.mutex.Unlock()
		return store.ErrTaskTerminal
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusCompleted
	t.Progress = 100
	t.Result = append(json.RawMessage(nil), result...)
	t.NotificationShown = false
	t.UpdatedAt = now
	t.CompletedAt = &now
	s.mutex.Unlock()

	s.publish(ownerID)
	return nil
}

// FailTask finalizes the task as failed unless already terminal.
func (s *MockTaskStore) FailTask(ctx context.Context, ownerID, taskID, errorMessage string) error {
	s.mutex.Lock()
	t, ok := s.tasks[taskKey(ownerID, taskID)]
	if !ok {
		s.mutex.Unlock()
		return store.ErrTaskNotFound
	}
	if t.IsTerminal() {
		s.mutex.Unlock()
		return store.ErrTaskTerminal
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusFailed
	t.Error = errorMessage
	t.NotificationShown = false
	t.UpdatedAt = now
	t.CompletedAt = &now
	s.mutex.Unlock()

	s.publish(ownerID)
	return nil
}

// MarkTaskNotified sets the notification flag. Idempotent.
func (s *MockTaskStore) MarkTaskNotified(ctx context.Context, ownerID, taskID string) error {
	if s.MarkNotifiedFn != nil {
		return s.MarkNotifiedFn(ctx, ownerID, taskID)
	}

	s.mutex.Lock()
	t, ok := s.tasks[taskKey(ownerID, taskID)]
	if !ok {
		s.mutex.Unlock()
		return store.ErrTaskNotFound
	}
	t.NotificationShown = true
	t.UpdatedAt = time.Now().UTC()
	s.mutex.Unlock()

	s.publish(ownerID)
	return nil
}

// FindActiveTask returns the active task for the (owner, target, type)
// tuple, or ErrTaskNotFound.
func (s *MockTaskStore) FindActiveTask(
	ctx context.Context,
	ownerID, targetID string,
	taskType domain.TaskType,
) (*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, t := range s.tasks {
		if t.OwnerID == ownerID && t.TargetID == targetID && t.Type == taskType && t.IsActive() {
			return copyTask(t), nil
		}
	}
	return nil, store.ErrTaskNotFound
}

// ListResumableTasks returns the owner's non-terminal tasks created within
// the window, oldest first.
func (s *MockTaskStore) ListResumableTasks(
	ctx context.Context,
	ownerID string,
	within time.Duration,
) ([]*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cutoff := time.Now().UTC().Add(-within)
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.OwnerID != ownerID || !t.IsActive() {
			continue
		}
		if within > 0 && t.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, copyTask(t))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SubscribeTasks opens a change subscription over the in-memory records.
func (s *MockTaskStore) SubscribeTasks(
	ctx context.Context,
	ownerID string,
	filter store.TaskFilter,
) (store.TaskSubscription, error) {
	sub := &mockSubscription{
		ownerID: ownerID,
		filter:  filter,
		updates: make(chan []*domain.Task, 32),
	}

	s.mutex.Lock()
	s.subs = append(s.subs, sub)
	s.mutex.Unlock()

	// Initial snapshot, like the real store's subscribe-to-query primitive.
	sub.deliver(s.snapshot(ownerID, filter))
	return sub, nil
}

// PublishDuplicate re-delivers the current snapshot to every subscription
// of the owner, simulating the duplicate callbacks the store's notification
// semantics permit.
func (s *MockTaskStore) PublishDuplicate(ownerID string) {
	s.publish(ownerID)
}

func (s *MockTaskStore) publish(ownerID string) {
	s.mutex.RLock()
	subs := make([]*mockSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.ownerID == ownerID {
			subs = append(subs, sub)
		}
	}
	s.mutex.RUnlock()

	for _, sub := range subs {
		sub.deliver(s.snapshot(ownerID, sub.filter))
	}
}

func (s *MockTaskStore) snapshot(ownerID string, filter store.TaskFilter) []*domain.Task {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now().UTC()
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && filter.Matches(t, now) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyTask(t *domain.Task) *domain.Task {
	clone := *t
	clone.InputSnapshot = append(json.RawMessage(nil), t.InputSnapshot...)
	clone.Result = append(json.RawMessage(nil), t.Result...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}
	if t.Meta != nil {
		clone.Meta = make(map[string]string, len(t.Meta))
		for k, v := range t.Meta {
			clone.Meta[k] = v
		}
	}
	return &clone
}

// mockSubscription is the in-memory TaskSubscription implementation.
type mockSubscription struct {
	ownerID string
	filter  store.TaskFilter
	updates chan []*domain.Task
}

func (s *mockSubscription) deliver(snapshot []*domain.Task) {
	select {
	case s.updates <- snapshot:
	default:
		// Slow consumer; the next write will deliver a fresher snapshot.
	}
}

// Updates returns the snapshot channel.
func (s *mockSubscription) Updates() <-chan []*domain.Task {
	return s.updates
}

// Close terminates the subscription. The channel is left open so racing
// publishers never panic; the consumer simply stops reading.
func (s *mockSubscription) Close() error {
	return nil
}

// Ensure MockTaskStore implements store.TaskStore
var _ store.TaskStore = (*MockTaskStore)(nil)
