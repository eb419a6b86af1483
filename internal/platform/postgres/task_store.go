package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// taskColumns is the column list shared by every task SELECT.
const taskColumns = `id, owner_id, type, status, progress, step, step_label, target_id,
	input_snapshot, result, error_message, notification_shown, meta,
	created_at, updated_at, completed_at`

// TaskStore implements store.TaskStore using PostgreSQL. Terminal
// immutability and monotonic progress are enforced in SQL, so they hold
// across processes: a conditional UPDATE that matches zero rows is resolved
// into ErrTaskTerminal or ErrTaskNotFound by a follow-up status read.
type TaskStore struct {
	db       store.DBTX
	listener *Listener
	logger   *slog.Logger
}

// NewTaskStore creates a new PostgreSQL-backed TaskStore. The listener
// carries change notifications for SubscribeTasks and may be nil when
// subscriptions are not needed (e.g. one-shot migration tooling).
func NewTaskStore(db store.DBTX, listener *Listener, logger *slog.Logger) *TaskStore {
	return &TaskStore{
		db:       db,
		listener: listener,
		logger:   logger.With("component", "postgres_task_store"),
	}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{
		db:       tx,
		listener: s.listener,
		logger:   s.logger,
	}
}

// CreateTask persists a new task record. The partial unique index on
// (owner_id, target_id, type) for live rows turns create/create races into
// ErrDuplicateActiveTask instead of a second concurrent task.
func (s *TaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	query := `
		INSERT INTO tasks (id, owner_id, type, status, progress, step, step_label,
			target_id, input_snapshot, result, error_message, notification_shown,
			meta, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	meta, err := encodeMeta(t.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode task meta: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		t.OwnerID,
		t.Type,
		t.Status,
		t.Progress,
		t.Step,
		t.StepLabel,
		t.TargetID,
		nullableJSON(t.InputSnapshot),
		nullableJSON(t.Result),
		t.Error,
		t.NotificationShown,
		meta,
		t.CreatedAt,
		t.UpdatedAt,
		t.CompletedAt,
	)
	if err != nil {
		s.logger.Error("failed to create task",
			"task_id", t.ID,
			"task_type", t.Type,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetTask retrieves a task by owner and ID.
func (s *TaskStore) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND owner_id = $2`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, taskID, ownerID))
	if err != nil {
		return nil, MapError(err)
	}
	return t, nil
}

// UpdateTaskProgress writes a progress checkpoint. GREATEST keeps progress
// monotonic under out-of-order checkpoint writes, and the status guard
// leaves terminal rows untouched.
func (s *TaskStore) UpdateTaskProgress(
	ctx context.Context,
	ownerID, taskID string,
	progress, step int,
	stepLabel string,
) error {
	query := `
		UPDATE tasks
		SET progress = GREATEST(progress, $3),
			status = 'in_progress',
			step = $4,
			step_label = $5,
			updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
			AND status NOT IN ('completed', 'failed')
	`

	result, err := s.db.ExecContext(ctx, query, taskID, ownerID, progress, step, stepLabel)
	if err != nil {
		return MapError(err)
	}

	return s.resolveConditionalWrite(ctx, ownerID, taskID, result)
}

// CompleteTask finalizes the task as completed, pinning progress to 100.
func (s *TaskStore) CompleteTask(
	ctx context.Context,
	ownerID, taskID string,
	result json.RawMessage,
) error {
	query := `
		UPDATE tasks
		SET status = 'completed',
			progress = 100,
			result = $3,
			notification_shown = FALSE,
			updated_at = NOW(),
			completed_at = NOW()
		WHERE id = $1 AND owner_id = $2
			AND status NOT IN ('completed', 'failed')
	`

	res, err := s.db.ExecContext(ctx, query, taskID, ownerID, nullableJSON(result))
	if err != nil {
		return MapError(err)
	}

	return s.resolveConditionalWrite(ctx, ownerID, taskID, res)
}

// FailTask finalizes the task as failed with the given message.
func (s *TaskStore) FailTask(ctx context.Context, ownerID, taskID, errorMessage string) error {
	query := `
		UPDATE tasks
		SET status = 'failed',
			error_message = $3,
			notification_shown = FALSE,
			updated_at = NOW(),
			completed_at = NOW()
		WHERE id = $1 AND owner_id = $2
			AND status NOT IN ('completed', 'failed')
	`

	res, err := s.db.ExecContext(ctx, query, taskID, ownerID, errorMessage)
	if err != nil {
		return MapError(err)
	}

	return s.resolveConditionalWrite(ctx, ownerID, taskID, res)
}

// MarkTaskNotified sets the notification flag. Idempotent.
func (s *TaskStore) MarkTaskNotified(ctx context.Context, ownerID, taskID string) error {
	query := `
		UPDATE tasks
		SET notification_shown = TRUE, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
	`

	result, err := s.db.ExecContext(ctx, query, taskID, ownerID)
	if err != nil {
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// FindActiveTask returns the live task for the (owner, target, type) tuple.
func (s *TaskStore) FindActiveTask(
	ctx context.Context,
	ownerID, targetID string,
	taskType domain.TaskType,
) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE owner_id = $1 AND target_id = $2 AND type = $3
			AND status IN ('pending', 'in_progress')
		LIMIT 1
	`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, ownerID, targetID, taskType))
	if err != nil {
		return nil, MapError(err)
	}
	return t, nil
}

// ListResumableTasks returns the owner's live tasks created within the
// window, oldest first.
func (s *TaskStore) ListResumableTasks(
	ctx context.Context,
	ownerID string,
	within time.Duration,
) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE owner_id = $1
			AND status IN ('pending', 'in_progress')
	`
	args := []any{ownerID}

	if within > 0 {
		query += ` AND created_at >= $2`
		args = append(args, time.Now().UTC().Add(-within))
	}
	query += ` ORDER BY created_at ASC`

	return s.queryTasks(ctx, query, args...)
}

// SubscribeTasks opens a change subscription backed by LISTEN/NOTIFY.
// A trigger on the tasks table notifies the owner channel on every insert
// or update; each notification re-runs the filter query, so the payload
// itself carries no state and duplicate notifications are harmless.
func (s *TaskStore) SubscribeTasks(
	ctx context.Context,
	ownerID string,
	filter store.TaskFilter,
) (store.TaskSubscription, error) {
	if s.listener == nil {
		return nil, errors.New("task store has no change listener configured")
	}

	notify, unregister := s.listener.Register(ownerID)

	sub := &subscription{
		updates: make(chan []*domain.Task, 16),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.updates)
		defer unregister()

		send := func() {
			snapshot, err := s.queryFiltered(ctx, ownerID, filter)
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

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
				send()
			}
		}
	}()

	return sub, nil
}

// queryFiltered builds and runs the snapshot query for a subscription filter.
func (s *TaskStore) queryFiltered(
	ctx context.Context,
	ownerID string,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1`
	args := []any{ownerID}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}

	if filter.UnnotifiedOnly {
		query += ` AND notification_shown = FALSE`
	}

	if filter.Within > 0 {
		args = append(args, time.Now().UTC().Add(-filter.Within))
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}

	query += ` ORDER BY created_at ASC`

	return s.queryTasks(ctx, query, args...)
}

// queryTasks runs a multi-row task query and scans the results.
func (s *TaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// resolveConditionalWrite turns a zero-row conditional UPDATE into the
// precise error: the row is either terminal or absent.
func (s *TaskStore) resolveConditionalWrite(
	ctx context.Context,
	ownerID, taskID string,
	result sql.Result,
) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var status domain.TaskStatus
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE id = $1 AND owner_id = $2`,
		taskID, ownerID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to resolve conditional write: %w", err)
	}

	return store.ErrTaskTerminal
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask maps one database row onto a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t             domain.Task
		inputSnapshot []byte
		result        []byte
		meta          []byte
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Type,
		&t.Status,
		&t.Progress,
		&t.Step,
		&t.StepLabel,
		&t.TargetID,
		&inputSnapshot,
		&result,
		&t.Error,
		&t.NotificationShown,
		&meta,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(inputSnapshot) > 0 {
		t.InputSnapshot = json.RawMessage(inputSnapshot)
	}
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode task meta: %w", err)
		}
	}
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}

	return &t, nil
}

// nullableJSON maps an empty raw message to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// encodeMeta serializes task metadata for the JSONB column, NULL when empty.
func encodeMeta(meta map[string]string) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// subscription is the LISTEN/NOTIFY-backed TaskSubscription implementation.
type subscription struct {
	updates   chan []*domain.Task
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Updates() <-chan []*domain.Task {
	return s.updates
}

func (s *subscription) Close() error {
	err := store.ErrSubscriptionClosed
	s.closeOnce.Do(func() {
		close(s.done)
		err = nil
	})
	return err
}

// Ensure TaskStore implements store.TaskStore
var _ store.TaskStore = (*TaskStore)(nil)
