package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/generation"
)

// echoTransform is a deterministic transform echoing its input back.
func echoTransform() generation.TransformFunc {
	return func(ctx context.Context, taskType domain.TaskType, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(fmt.Sprintf(`{"echo":%s}`, input)), nil
	}
}

func newTestRunner(t *testing.T, mockStore *MockTaskStore, transform generation.Transformer) *Runner {
	t.Helper()

	registry := NewRegistry()
	if transform != nil {
		registry.Register(domain.TaskTypeCVRewrite, transform)
		registry.Register(domain.TaskTypeATSAnalysis, transform)
	}

	config := DefaultRunnerConfig()
	config.RescanInterval = 0 // tests drive Resume explicitly

	lc := NewLifecycle(mockStore, testLogger())
	runner := NewRunner(lc, mockStore, registry, config, testLogger())
	t.Cleanup(runner.Stop)
	return runner
}

func waitForStatus(
	t *testing.T,
	mockStore *MockTaskStore,
	ownerID, taskID string,
	want domain.TaskStatus,
) *domain.Task {
	t.Helper()

	var got *domain.Task
	require.Eventually(t, func() bool {
		stored, err := mockStore.GetTask(context.Background(), ownerID, taskID)
		if err != nil {
			return false
		}
		got = stored
		return stored.Status == want
	}, 2*time.Second, 10*time.Millisecond, "task never reached status %s", want)
	return got
}

func TestRunnerDispatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("successful execution completes the task", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		runner := newTestRunner(t, mockStore, echoTransform())
		lc := NewLifecycle(mockStore, testLogger())

		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeCVRewrite, "A1", testSnapshot(), nil)
		require.NoError(t, err)
		runner.Dispatch(created)

		stored := waitForStatus(t, mockStore, "owner-1", created.ID, domain.TaskStatusCompleted)
		assert.Equal(t, 100, stored.Progress)
		assert.Contains(t, string(stored.Result), `"echo"`)
	})

	t.Run("transform error is classified into a short message", func(t *testing.T) {
		t.Parallel()

		failing := generation.TransformFunc(
			func(ctx context.Context, taskType domain.TaskType, input json.RawMessage) (json.RawMessage, error) {
				return nil, fmt.Errorf("gemini call: %w", generation.ErrMissingCredential)
			})

		mockStore := NewMockTaskStore()
		runner := newTestRunner(t, mockStore, failing)
		lc := NewLifecycle(mockStore, testLogger())

		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeCVRewrite, "A1", testSnapshot(), nil)
		require.NoError(t, err)
		runner.Dispatch(created)

		stored := waitForStatus(t, mockStore, "owner-1", created.ID, domain.TaskStatusFailed)
		assert.Equal(t, "missing credential", stored.Error)
	})

	t.Run("in-flight guard prevents double execution", func(t *testing.T) {
		t.Parallel()

		var executions atomic.Int32
		release := make(chan struct{})
		blocking := generation.TransformFunc(
			func(ctx context.Context, taskType domain.TaskType, input json.RawMessage) (json.RawMessage, error) {
				executions.Add(1)
				<-release
				return json.RawMessage(`{}`), nil
			})

		mockStore := NewMockTaskStore()
		runner := newTestRunner(t, mockStore, blocking)
		lc := NewLifecycle(mockStore, testLogger())

		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeCVRewrite, "A1", testSnapshot(), nil)
		require.NoError(t, err)

		runner.Dispatch(created)
		require.Eventually(t, func() bool { return executions.Load() == 1 },
			time.Second, 5*time.Millisecond)

		// Second dispatch while the first is still running must abort silently.
		runner.Dispatch(created)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), executions.Load())

		close(release)
		waitForStatus(t, mockStore, "owner-1", created.ID, domain.TaskStatusCompleted)
	})
}

func TestRunnerResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("resumed task reaches the same outcome as a fresh run", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		runner := newTestRunner(t, mockStore, echoTransform())
		lc := NewLifecycle(mockStore, testLogger())

		// Created before a simulated crash: persisted but never dispatched.
		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeATSAnalysis, "A2", testSnapshot(), nil)
		require.NoError(t, err)

		require.NoError(t, runner.Resume(ctx, "owner-1"))

		stored := waitForStatus(t, mockStore, "owner-1", created.ID, domain.TaskStatusCompleted)
		assert.Contains(t, string(stored.Result), `"echo"`)
	})

	t.Run("task with missing snapshot fails immediately", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		runner := newTestRunner(t, mockStore, echoTransform())

		// Records written by an older client may lack the snapshot entirely.
		broken := &domain.Task{
			ID:        "broken-task",
			OwnerID:   "owner-1",
			Type:      domain.TaskTypeCVRewrite,
			Status:    domain.TaskStatusPending,
			TargetID:  "A1",
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, mockStore.CreateTask(ctx, broken))

		require.NoError(t, runner.Resume(ctx, "owner-1"))

		stored := waitForStatus(t, mockStore, "owner-1", "broken-task", domain.TaskStatusFailed)
		assert.Equal(t, "task data missing", stored.Error)
	})

	t.Run("null snapshot is treated as missing", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		runner := newTestRunner(t, mockStore, echoTransform())

		broken := &domain.Task{
			ID:            "null-snapshot-task",
			OwnerID:       "owner-1",
			Type:          domain.TaskTypeCVRewrite,
			Status:        domain.TaskStatusInProgress,
			Progress:      40,
			TargetID:      "A1",
			InputSnapshot: json.RawMessage(`null`),
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
		require.NoError(t, mockStore.CreateTask(ctx, broken))

		require.NoError(t, runner.Resume(ctx, "owner-1"))

		stored := waitForStatus(t, mockStore, "owner-1", "null-snapshot-task", domain.TaskStatusFailed)
		assert.Equal(t, "task data missing", stored.Error)
	})

	t.Run("tasks outside the retention window are ignored", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		runner := newTestRunner(t, mockStore, echoTransform())

		stale := &domain.Task{
			ID:            "stale-task",
			OwnerID:       "owner-1",
			Type:          domain.TaskTypeCVRewrite,
			Status:        domain.TaskStatusPending,
			TargetID:      "A9",
			InputSnapshot: testSnapshot(),
			CreatedAt:     time.Now().UTC().Add(-48 * time.Hour),
			UpdatedAt:     time.Now().UTC().Add(-48 * time.Hour),
		}
		require.NoError(t, mockStore.CreateTask(ctx, stale))

		require.NoError(t, runner.Resume(ctx, "owner-1"))
		time.Sleep(50 * time.Millisecond)

		stored, err := mockStore.GetTask(ctx, "owner-1", "stale-task")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, stored.Status)
	})

	t.Run("unknown task types are skipped", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		runner := newTestRunner(t, mockStore, nil) // nothing registered

		orphan := &domain.Task{
			ID:            "orphan-task",
			OwnerID:       "owner-1",
			Type:          domain.TaskTypeCoverLetter,
			Status:        domain.TaskStatusPending,
			TargetID:      "L1",
			InputSnapshot: testSnapshot(),
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
		require.NoError(t, mockStore.CreateTask(ctx, orphan))

		require.NoError(t, runner.Resume(ctx, "owner-1"))
		time.Sleep(50 * time.Millisecond)

		stored, err := mockStore.GetTask(ctx, "owner-1", "orphan-task")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, stored.Status)
	})
}
