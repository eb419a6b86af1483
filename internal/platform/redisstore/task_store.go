// Package redisstore implements the task store on Redis, treating it as a
// document store with change notifications: one JSON record per task, a
// per-owner index set, and a per-owner pub/sub channel standing in for the
// subscribe-to-query-changes primitive. Pub/sub delivery is best-effort and
// at-least-once from the consumer's point of view; subscribers re-query the
// record set on every notification rather than trusting message payloads.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// optimistic writes retry a few times when the watched key changes mid-update.
const txRetries = 5

// TaskStore implements store.TaskStore using Redis.
type TaskStore struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
}

// NewTaskStore creates a new Redis-backed TaskStore.
func NewTaskStore(rdb redis.UniversalClient, logger *slog.Logger) *TaskStore {
	return &TaskStore{
		rdb:    rdb,
		logger: logger.With("component", "redis_task_store"),
	}
}

// CreateTask persists a new task record and announces the change.
// The active-task check is best-effort: Redis offers no conditional write
// across the whole record set, so two racing creators can both succeed.
func (s *TaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	if existing, err := s.FindActiveTask(ctx, t.OwnerID, t.TargetID, t.Type); err == nil && existing != nil {
		return store.ErrDuplicateActiveTask
	} else if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		return err
	}

	raw, err := encodeTask(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, taskKey(t.OwnerID, t.ID), raw, 0)
		p.SAdd(ctx, indexKey(t.OwnerID), t.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}

	s.announce(ctx, t.OwnerID, t.ID)
	return nil
}

// GetTask retrieves a task by owner and ID.
func (s *TaskStore) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	raw, err := s.rdb.Get(ctx, taskKey(ownerID, taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return decodeTask(raw)
}

// UpdateTaskProgress writes a checkpoint, forcing in_progress. The stored
// progress never regresses: racing checkpoint writes keep the maximum.
func (s *TaskStore) UpdateTaskProgress(
	ctx context.Context,
	ownerID, taskID string,
	progress, step int,
	stepLabel string,
) error {
	return s.updateTask(ctx, ownerID, taskID, func(t *domain.Task) error {
		if t.IsTerminal() {
			return store.ErrTaskTerminal
		}
		if progress > t.Progress {
			t.Progress = progress
		}
		t.Status = domain.TaskStatusInProgress
		t.Step = step
		t.StepLabel = stepLabel
		t.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// CompleteTask finalizes the task as completed unless already terminal.
func (s *TaskStore) CompleteTask(
	ctx context.Context,
	ownerID, taskID string,
	result json.RawMessage,
) error {
	return s.updateTask(ctx, ownerID, taskID, func(t *domain.Task) error {
		if t.IsTerminal() {
			return store.ErrTaskTerminal
		}
		now := time.Now().UTC()
		t.Status = domain.TaskStatusCompleted
		t.Progress = 100
		t.Result = append(json.RawMessage(nil), result...)
		t.NotificationShown = false
		t.UpdatedAt = now
		t.CompletedAt = &now
		return nil
	})
}

// FailTask finalizes the task as failed unless already terminal.
func (s *TaskStore) FailTask(ctx context.Context, ownerID, taskID, errorMessage string) error {
	return s.updateTask(ctx, ownerID, taskID, func(t *domain.Task) error {
		if t.IsTerminal() {
			return store.ErrTaskTerminal
		}
		now := time.Now().UTC()
		t.Status = domain.TaskStatusFailed
		t.Error = errorMessage
		t.NotificationShown = false
		t.UpdatedAt = now
		t.CompletedAt = &now
		return nil
	})
}

// MarkTaskNotified sets the notification flag. Idempotent.
func (s *TaskStore) MarkTaskNotified(ctx context.Context, ownerID, taskID string) error {
	return s.updateTask(ctx, ownerID, taskID, func(t *domain.Task) error {
		t.NotificationShown = true
		t.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// FindActiveTask returns the active task for the (owner, target, type) tuple.
func (s *TaskStore) FindActiveTask(
	ctx context.Context,
	ownerID, targetID string,
	taskType domain.TaskType,
) (*domain.Task, error) {
	tasks, err := s.loadAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if t.TargetID == targetID && t.Type == taskType && t.IsActive() {
			return t, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

// ListResumableTasks returns the owner's non-terminal tasks created within
// the window, oldest first.
func (s *TaskStore) ListResumableTasks(
	ctx context.Context,
	ownerID string,
	within time.Duration,
) ([]*domain.Task, error) {
	tasks, err := s.loadAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-within)
	out := tasks[:0]
	for _, t := range tasks {
		if !t.IsActive() {
			continue
		}
		if within > 0 && t.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SubscribeTasks opens a pub/sub-backed change subscription. Every channel
// message (regardless of payload) triggers a re-query of the owner's record
// set against the filter; the first snapshot is delivered immediately.
func (s *TaskStore) SubscribeTasks(
	ctx context.Context,
	ownerID string,
	filter store.TaskFilter,
) (store.TaskSubscription, error) {
	pubsub := s.rdb.Subscribe(ctx, changeChannel(ownerID))

	// Force the SUBSCRIBE to complete before the initial snapshot so no
	// change between snapshot and subscribe is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to task changes: %w", err)
	}

	sub := &subscription{
		updates: make(chan []*domain.Task, 16),
		pubsub:  pubsub,
		done:    make(chan struct{}),
	}

	go s.pump(ctx, ownerID, filter, sub)
	return sub, nil
}

// pump feeds the subscription channel until the context ends or the
// subscription closes.
func (s *TaskStore) pump(ctx context.Context, ownerID string, filter store.TaskFilter, sub *subscription) {
	defer close(sub.updates)
	defer sub.closePubSub()

	send := func() {
		snapshot, err := s.query(ctx, ownerID, filter)
		if err != nil {
			s.logger.Error("failed to build subscription snapshot",
				"owner_id", ownerID,
				"error", err)
			return
		}
		select {
		case sub.updates <- snapshot:
		case <-sub.done:
		case <-ctx.Done():
		}
	}

	send()

	msgs := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			send()
		}
	}
}

// query loads and filters the owner's record set.
func (s *TaskStore) query(ctx context.Context, ownerID string, filter store.TaskFilter) ([]*domain.Task, error) {
	tasks, err := s.loadAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if filter.Matches(t, now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// loadAll fetches every task record of the owner through the index set.
func (s *TaskStore) loadAll(ctx context.Context, ownerID string) ([]*domain.Task, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(ownerID, id)
	}

	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load task records: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// Index entry without a record; skip rather than fail the scan.
			s.logger.Debug("dangling task index entry", "task_id", ids[i])
			continue
		}
		t, err := decodeTask([]byte(str))
		if err != nil {
			s.logger.Warn("skipping undecodable task record",
				"task_id", ids[i],
				"error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// updateTask applies mutate to the task record under optimistic locking.
// The watched key makes the read-modify-write safe against concurrent
// writers; on contention the transaction retries with a fresh read.
func (s *TaskStore) updateTask(
	ctx context.Context,
	ownerID, taskID string,
	mutate func(*domain.Task) error,
) error {
	key := taskKey(ownerID, taskID)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load task: %w", err)
		}

		t, err := decodeTask(raw)
		if err != nil {
			return fmt.Errorf("failed to decode task: %w", err)
		}

		if err := mutate(t); err != nil {
			return err
		}

		encoded, err := encodeTask(t)
		if err != nil {
			return fmt.Errorf("failed to encode task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < txRetries; i++ {
		err = s.rdb.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return err
	}

	s.announce(ctx, ownerID, taskID)
	return nil
}

// announce publishes a change notification. Losing one is tolerable:
// subscribers re-query on the next notification, and consumers must treat
// the stream as at-least-once anyway.
func (s *TaskStore) announce(ctx context.Context, ownerID, taskID string) {
	if err := s.rdb.Publish(ctx, changeChannel(ownerID), taskID).Err(); err != nil {
		s.logger.Warn("failed to publish task change",
			"task_id", taskID,
			"error", err)
	}
}

// subscription is the Redis-backed TaskSubscription implementation.
type subscription struct {
	updates   chan []*domain.Task
	pubsub    *redis.PubSub
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func (s *subscription) closePubSub() {
	s.closeOnce.Do(func() {
		_ = s.pubsub.Close()
	})
}

// Updates returns the snapshot channel.
func (s *subscription) Updates() <-chan []*domain.Task {
	return s.updates
}

// Close terminates the subscription and its pub/sub connection.
func (s *subscription) Close() error {
	err := store.ErrSubscriptionClosed
	s.doneOnce.Do(func() {
		close(s.done)
		err = nil
	})
	s.closePubSub()
	return err
}

// Ensure TaskStore implements store.TaskStore
var _ store.TaskStore = (*TaskStore)(nil)
