package task

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/events"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// captureEmitter records emitted events for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []*events.TaskOutcomeEvent
}

func (e *captureEmitter) EmitEvent(_ context.Context, event *events.TaskOutcomeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *captureEmitter) snapshot() []*events.TaskOutcomeEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*events.TaskOutcomeEvent(nil), e.events...)
}

// flakyEmitter fails a configured number of emits before succeeding.
type flakyEmitter struct {
	captureEmitter
	failures int
	attempts int
}

func (e *flakyEmitter) EmitEvent(ctx context.Context, event *events.TaskOutcomeEvent) error {
	e.mu.Lock()
	e.attempts++
	if e.failures > 0 {
		e.failures--
		e.mu.Unlock()
		return assert.AnError
	}
	e.mu.Unlock()
	return e.captureEmitter.EmitEvent(ctx, event)
}

func (e *flakyEmitter) attemptCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

func newWatchedDispatcher(
	t *testing.T,
	mockStore *MockTaskStore,
	emitter events.EventEmitter,
	ownerID string,
) *Dispatcher {
	t.Helper()

	lc := NewLifecycle(mockStore, testLogger())
	dispatcher := NewDispatcher(mockStore, lc, emitter, testLogger())
	require.NoError(t, dispatcher.Watch(context.Background(), ownerID))
	t.Cleanup(dispatcher.Stop)
	return dispatcher
}

func TestDispatcherNotifyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("completed task emits one success event and marks the flag", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		lc := NewLifecycle(mockStore, testLogger())
		emitter := &captureEmitter{}
		newWatchedDispatcher(t, mockStore, emitter, "owner-1")

		meta := map[string]string{"title": "Staff Engineer", "company": "Initech"}
		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeCVRewrite, "A1", testSnapshot(), meta)
		require.NoError(t, err)
		require.NoError(t, lc.Complete(ctx, "owner-1", created.ID, json.RawMessage(`{"ok":true}`)))

		require.Eventually(t, func() bool {
			return len(emitter.snapshot()) == 1
		}, 2*time.Second, 10*time.Millisecond)

		got := emitter.snapshot()[0]
		assert.Equal(t, events.OutcomeSuccess, got.Kind)
		assert.Equal(t, created.ID, got.TaskID)
		assert.Equal(t, "A1", got.TargetID)
		assert.Equal(t, "Staff Engineer", got.Title)
		assert.Equal(t, "Initech", got.Company)

		require.Eventually(t, func() bool {
			stored, err := mockStore.GetTask(ctx, "owner-1", created.ID)
			return err == nil && stored.NotificationShown
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("duplicate subscription delivery does not emit twice", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		lc := NewLifecycle(mockStore, testLogger())
		emitter := &captureEmitter{}
		newWatchedDispatcher(t, mockStore, emitter, "owner-1")

		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeATSAnalysis, "A2", testSnapshot(), nil)
		require.NoError(t, err)
		require.NoError(t, lc.Complete(ctx, "owner-1", created.ID, json.RawMessage(`{"score":82}`)))

		require.Eventually(t, func() bool {
			return len(emitter.snapshot()) == 1
		}, 2*time.Second, 10*time.Millisecond)

		// The store's notification semantics allow re-delivering the same
		// change; the in-process handled set must absorb it.
		mockStore.PublishDuplicate("owner-1")
		time.Sleep(100 * time.Millisecond)

		assert.Len(t, emitter.snapshot(), 1)

		stored, err := mockStore.GetTask(ctx, "owner-1", created.ID)
		require.NoError(t, err)
		assert.True(t, stored.NotificationShown)
	})

	t.Run("failed task emits one error event with the short message", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		lc := NewLifecycle(mockStore, testLogger())
		emitter := &captureEmitter{}
		newWatchedDispatcher(t, mockStore, emitter, "owner-1")

		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeCoverLetter, "L1", testSnapshot(), nil)
		require.NoError(t, err)
		require.NoError(t, lc.Fail(ctx, "owner-1", created.ID, "missing credential"))

		require.Eventually(t, func() bool {
			return len(emitter.snapshot()) == 1
		}, 2*time.Second, 10*time.Millisecond)

		got := emitter.snapshot()[0]
		assert.Equal(t, events.OutcomeError, got.Kind)
		assert.Equal(t, "missing credential", got.Message)
	})

	t.Run("emit failure leaves the task unnotified for a later delivery", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		lc := NewLifecycle(mockStore, testLogger())
		emitter := &flakyEmitter{failures: 1}
		newWatchedDispatcher(t, mockStore, emitter, "owner-1")

		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeCVRewrite, "A1", testSnapshot(), nil)
		require.NoError(t, err)
		require.NoError(t, lc.Complete(ctx, "owner-1", created.ID, json.RawMessage(`{}`)))

		// The first delivery fails to emit; the outcome must not be consumed.
		require.Eventually(t, func() bool {
			return emitter.attemptCount() == 1
		}, 2*time.Second, 10*time.Millisecond)

		assert.Empty(t, emitter.snapshot())
		stored, err := mockStore.GetTask(ctx, "owner-1", created.ID)
		require.NoError(t, err)
		assert.False(t, stored.NotificationShown)

		// A re-delivery of the same change retries the emit and then marks.
		mockStore.PublishDuplicate("owner-1")

		require.Eventually(t, func() bool {
			return len(emitter.snapshot()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool {
			stored, err := mockStore.GetTask(ctx, "owner-1", created.ID)
			return err == nil && stored.NotificationShown
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("mark failure still emits only once in this session", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		mockStore.MarkNotifiedFn = func(ctx context.Context, ownerID, taskID string) error {
			return store.ErrTransactionFailed
		}
		lc := NewLifecycle(mockStore, testLogger())
		emitter := &captureEmitter{}
		newWatchedDispatcher(t, mockStore, emitter, "owner-1")

		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeCVRewrite, "A1", testSnapshot(), nil)
		require.NoError(t, err)
		require.NoError(t, lc.Complete(ctx, "owner-1", created.ID, json.RawMessage(`{}`)))

		require.Eventually(t, func() bool {
			return len(emitter.snapshot()) == 1
		}, 2*time.Second, 10*time.Millisecond)

		mockStore.PublishDuplicate("owner-1")
		time.Sleep(100 * time.Millisecond)

		// Event shown once this session; a later session may re-notify.
		assert.Len(t, emitter.snapshot(), 1)
	})

	t.Run("watching the same owner twice is a no-op", func(t *testing.T) {
		t.Parallel()

		mockStore := NewMockTaskStore()
		lc := NewLifecycle(mockStore, testLogger())
		emitter := &captureEmitter{}
		dispatcher := newWatchedDispatcher(t, mockStore, emitter, "owner-1")
		require.NoError(t, dispatcher.Watch(ctx, "owner-1"))

		created, err := lc.Create(ctx, "owner-1", domain.TaskTypeCVRewrite, "A1", testSnapshot(), nil)
		require.NoError(t, err)
		require.NoError(t, lc.Complete(ctx, "owner-1", created.ID, json.RawMessage(`{}`)))

		require.Eventually(t, func() bool {
			return len(emitter.snapshot()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		assert.Len(t, emitter.snapshot(), 1)
	})
}
