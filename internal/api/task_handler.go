package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jobrunr-app/taskforge/internal/api/shared"
	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/service"
)

// CreateTaskRequest represents the request body for starting a new task
type CreateTaskRequest struct {
	Type          string            `json:"type"           validate:"required"`
	TargetID      string            `json:"target_id"      validate:"required"`
	InputSnapshot json.RawMessage   `json:"input_snapshot" validate:"required"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// TaskResponse represents the response data for a task
type TaskResponse struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	Status            string            `json:"status"`
	Progress          int               `json:"progress"`
	Step              int               `json:"step"`
	StepLabel         string            `json:"step_label,omitempty"`
	TargetID          string            `json:"target_id,omitempty"`
	Result            json.RawMessage   `json:"result,omitempty"`
	Error             string            `json:"error,omitempty"`
	NotificationShown bool              `json:"notification_shown"`
	Meta              map[string]string `json:"meta,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// ConflictResponse is returned when an active task already exists for the
// requested target. It carries the existing task so clients can attach to
// it instead of retrying.
type ConflictResponse struct {
	Error        string       `json:"error"`
	ExistingTask TaskResponse `json:"existing_task"`
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	taskService service.TaskService
	validator   *validator.Validate
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(taskService service.TaskService) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		validator:   validator.New(),
	}
}

// CreateTask handles POST /api/tasks requests
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())
	if ownerID == "" {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found")
		return
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	if !domain.IsValidTaskType(domain.TaskType(req.Type)) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type: "+req.Type)
		return
	}

	task, err := h.taskService.CreateTask(r.Context(), ownerID, service.CreateTaskRequest{
		Type:          domain.TaskType(req.Type),
		TargetID:      req.TargetID,
		InputSnapshot: req.InputSnapshot,
		Meta:          req.Meta,
	})
	if err != nil {
		var activeErr *service.ActiveTaskError
		if errors.As(err, &activeErr) && activeErr.Existing != nil {
			shared.RespondWithJSON(w, r, http.StatusConflict, ConflictResponse{
				Error:        GetSafeErrorMessage(err),
				ExistingTask: taskToResponse(activeErr.Existing),
			})
			return
		}

		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// 202: the task runs in the background, the response only acknowledges it.
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(task))
}

// GetTask handles GET /api/tasks/{id} requests
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())
	if ownerID == "" {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found")
		return
	}

	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing task ID")
		return
	}

	task, err := h.taskService.GetTask(r.Context(), ownerID, taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// GetActiveTasks handles GET /api/tasks/active requests. With target_id and
// type query parameters it looks up the single active task for that tuple;
// without them it lists all of the owner's active tasks.
func (h *TaskHandler) GetActiveTasks(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())
	if ownerID == "" {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found")
		return
	}

	targetID := r.URL.Query().Get("target_id")
	taskType := r.URL.Query().Get("type")

	if targetID != "" && taskType != "" {
		if !domain.IsValidTaskType(domain.TaskType(taskType)) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type: "+taskType)
			return
		}

		task, err := h.taskService.FindActiveTask(r.Context(), ownerID, targetID, domain.TaskType(taskType))
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, GetSafeErrorMessage(err), err)
			return
		}
		if task == nil {
			shared.RespondWithJSON(w, r, http.StatusOK, []TaskResponse{})
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, []TaskResponse{taskToResponse(task)})
		return
	}

	tasks, err := h.taskService.ListActiveTasks(r.Context(), ownerID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, taskToResponse(task))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// taskToResponse converts a domain.Task to a TaskResponse. The input
// snapshot stays server-side.
func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:                t.ID,
		Type:              string(t.Type),
		Status:            string(t.Status),
		Progress:          t.Progress,
		Step:              t.Step,
		StepLabel:         t.StepLabel,
		TargetID:          t.TargetID,
		Result:            t.Result,
		Error:             t.Error,
		NotificationShown: t.NotificationShown,
		Meta:              t.Meta,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		CompletedAt:       t.CompletedAt,
	}
}
