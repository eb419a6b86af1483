package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunr-app/taskforge/internal/domain"
)

type recordingHandler struct {
	events []*TaskOutcomeEvent
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *TaskOutcomeEvent) error {
	h.events = append(h.events, event)
	return h.err
}

func testTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(
		"owner-1",
		domain.TaskTypeCVRewrite,
		"analysis-1",
		[]byte(`{"cv":"text"}`),
		map[string]string{"title": "Backend Engineer", "company": "Acme"},
	)
	require.NoError(t, err)
	return task
}

func TestInMemoryEventEmitter(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("delivers to all handlers", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(logger)
		h1 := &recordingHandler{}
		h2 := &recordingHandler{}
		emitter.RegisterHandler(h1)
		emitter.RegisterHandler(h2)

		event := NewTaskCompletedEvent(testTask(t))
		require.NoError(t, emitter.EmitEvent(context.Background(), event))

		assert.Len(t, h1.events, 1)
		assert.Len(t, h2.events, 1)
		assert.Equal(t, OutcomeSuccess, h1.events[0].Kind)
		assert.Equal(t, "Backend Engineer", h1.events[0].Title)
		assert.Equal(t, "Acme", h1.events[0].Company)
	})

	t.Run("handler error does not stop delivery", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(logger)
		failing := &recordingHandler{err: errors.New("boom")}
		ok := &recordingHandler{}
		emitter.RegisterHandler(failing)
		emitter.RegisterHandler(ok)

		event := NewTaskFailedEvent(testTask(t), "generation failed")
		err := emitter.EmitEvent(context.Background(), event)

		assert.Error(t, err)
		assert.Len(t, ok.events, 1)
		assert.Equal(t, OutcomeError, ok.events[0].Kind)
		assert.Equal(t, "generation failed", ok.events[0].Message)
	})

	t.Run("no handlers is not an error", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(logger)
		assert.NoError(t, emitter.EmitEvent(context.Background(), NewTaskCompletedEvent(testTask(t))))
	})
}
