package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunr-app/taskforge/internal/api/shared"
	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/service"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// stubTaskService implements service.TaskService with overridable funcs.
type stubTaskService struct {
	createFn     func(ctx context.Context, ownerID string, req service.CreateTaskRequest) (*domain.Task, error)
	getFn        func(ctx context.Context, ownerID, taskID string) (*domain.Task, error)
	findActiveFn func(ctx context.Context, ownerID, targetID string, taskType domain.TaskType) (*domain.Task, error)
	listActiveFn func(ctx context.Context, ownerID string) ([]*domain.Task, error)
	attachFn     func(ctx context.Context, ownerID string) error
	subscribeFn  func(ctx context.Context, ownerID string) (store.TaskSubscription, error)
}

func (s *stubTaskService) CreateTask(
	ctx context.Context,
	ownerID string,
	req service.CreateTaskRequest,
) (*domain.Task, error) {
	return s.createFn(ctx, ownerID, req)
}

func (s *stubTaskService) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	return s.getFn(ctx, ownerID, taskID)
}

func (s *stubTaskService) FindActiveTask(
	ctx context.Context,
	ownerID, targetID string,
	taskType domain.TaskType,
) (*domain.Task, error) {
	return s.findActiveFn(ctx, ownerID, targetID, taskType)
}

func (s *stubTaskService) ListActiveTasks(ctx context.Context, ownerID string) ([]*domain.Task, error) {
	return s.listActiveFn(ctx, ownerID)
}

func (s *stubTaskService) AttachSession(ctx context.Context, ownerID string) error {
	if s.attachFn != nil {
		return s.attachFn(ctx, ownerID)
	}
	return nil
}

func (s *stubTaskService) SubscribeActiveTasks(
	ctx context.Context,
	ownerID string,
) (store.TaskSubscription, error) {
	return s.subscribeFn(ctx, ownerID)
}

func sampleTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(
		"owner-1",
		domain.TaskTypeCVRewrite,
		"job-1",
		json.RawMessage(`{"cv":"plumber"}`),
		map[string]string{"title": "Senior Plumber"},
	)
	require.NoError(t, err)
	return task
}

// withOwner places the owner ID in the request context the way the
// middleware would.
func withOwner(r *http.Request, ownerID string) *http.Request {
	return r.WithContext(shared.SetOwnerID(r.Context(), ownerID))
}

func TestCreateTask_Success(t *testing.T) {
	created := (*domain.Task)(nil)
	svc := &stubTaskService{
		createFn: func(ctx context.Context, ownerID string, req service.CreateTaskRequest) (*domain.Task, error) {
			task, err := domain.NewTask(ownerID, req.Type, req.TargetID, req.InputSnapshot, req.Meta)
			created = task
			return task, err
		},
	}
	handler := NewTaskHandler(svc)

	body := `{"type":"cv_rewrite","target_id":"job-1","input_snapshot":{"cv":"plumber"}}`
	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(body)), "owner-1")
	rec := httptest.NewRecorder()

	handler.CreateTask(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "job-1", resp.TargetID)
}

func TestCreateTask_MissingOwner(t *testing.T) {
	handler := NewTaskHandler(&stubTaskService{})

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	handler.CreateTask(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateTask_InvalidBody(t *testing.T) {
	handler := NewTaskHandler(&stubTaskService{})

	for name, body := range map[string]string{
		"malformed json":    `{not json`,
		"missing type":      `{"target_id":"job-1","input_snapshot":{}}`,
		"missing target":    `{"type":"cv_rewrite","input_snapshot":{}}`,
		"unknown task type": `{"type":"summon_demon","target_id":"job-1","input_snapshot":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := withOwner(httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(body)), "owner-1")
			rec := httptest.NewRecorder()

			handler.CreateTask(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateTask_ConflictCarriesExistingTask(t *testing.T) {
	existing := sampleTask(t)
	svc := &stubTaskService{
		createFn: func(ctx context.Context, ownerID string, req service.CreateTaskRequest) (*domain.Task, error) {
			return nil, &service.ActiveTaskError{Existing: existing}
		},
	}
	handler := NewTaskHandler(svc)

	body := `{"type":"cv_rewrite","target_id":"job-1","input_snapshot":{"cv":"plumber"}}`
	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(body)), "owner-1")
	rec := httptest.NewRecorder()

	handler.CreateTask(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ConflictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, existing.ID, resp.ExistingTask.ID)
	assert.NotEmpty(t, resp.Error)
}

func TestGetTask(t *testing.T) {
	task := sampleTask(t)
	svc := &stubTaskService{
		getFn: func(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
			if taskID == task.ID && ownerID == "owner-1" {
				return task, nil
			}
			return nil, service.ErrTaskNotFound
		},
	}
	handler := NewTaskHandler(svc)

	router := chi.NewRouter()
	router.Get("/api/tasks/{id}", handler.GetTask)

	t.Run("found", func(t *testing.T) {
		req := withOwner(httptest.NewRequest(http.MethodGet, "/api/tasks/"+task.ID, nil), "owner-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, task.ID, resp.ID)
	})

	t.Run("not found", func(t *testing.T) {
		req := withOwner(httptest.NewRequest(http.MethodGet, "/api/tasks/nope", nil), "owner-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("other owner", func(t *testing.T) {
		req := withOwner(httptest.NewRequest(http.MethodGet, "/api/tasks/"+task.ID, nil), "owner-2")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetActiveTasks_List(t *testing.T) {
	first := sampleTask(t)
	svc := &stubTaskService{
		listActiveFn: func(ctx context.Context, ownerID string) ([]*domain.Task, error) {
			return []*domain.Task{first}, nil
		},
	}
	handler := NewTaskHandler(svc)

	req := withOwner(httptest.NewRequest(http.MethodGet, "/api/tasks/active", nil), "owner-1")
	rec := httptest.NewRecorder()

	handler.GetActiveTasks(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, first.ID, resp[0].ID)
}

func TestGetActiveTasks_ByTarget(t *testing.T) {
	task := sampleTask(t)
	svc := &stubTaskService{
		findActiveFn: func(ctx context.Context, ownerID, targetID string, taskType domain.TaskType) (*domain.Task, error) {
			if targetID == "job-1" && taskType == domain.TaskTypeCVRewrite {
				return task, nil
			}
			return nil, nil
		},
	}
	handler := NewTaskHandler(svc)

	t.Run("match", func(t *testing.T) {
		req := withOwner(
			httptest.NewRequest(http.MethodGet, "/api/tasks/active?target_id=job-1&type=cv_rewrite", nil),
			"owner-1",
		)
		rec := httptest.NewRecorder()
		handler.GetActiveTasks(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp []TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp, 1)
		assert.Equal(t, task.ID, resp[0].ID)
	})

	t.Run("no match", func(t *testing.T) {
		req := withOwner(
			httptest.NewRequest(http.MethodGet, "/api/tasks/active?target_id=job-9&type=cv_rewrite", nil),
			"owner-1",
		)
		rec := httptest.NewRecorder()
		handler.GetActiveTasks(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp []TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp)
	})

	t.Run("bad type", func(t *testing.T) {
		req := withOwner(
			httptest.NewRequest(http.MethodGet, "/api/tasks/active?target_id=job-1&type=nope", nil),
			"owner-1",
		)
		rec := httptest.NewRecorder()
		handler.GetActiveTasks(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMapErrorToStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"task not found", service.ErrTaskNotFound, http.StatusNotFound},
		{"store not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"duplicate active", store.ErrDuplicateActiveTask, http.StatusConflict},
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest},
		{"invalid transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"terminal", store.ErrTaskTerminal, http.StatusConflict},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}
