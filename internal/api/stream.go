package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jobrunr-app/taskforge/internal/api/shared"
	"github.com/jobrunr-app/taskforge/internal/events"
	"github.com/jobrunr-app/taskforge/internal/service"
)

// NotificationHub routes task outcome events to connected SSE clients.
// It implements events.EventHandler and is registered on the emitter the
// notification dispatcher publishes to.
type NotificationHub struct {
	mu      sync.Mutex
	clients map[string][]chan *events.TaskOutcomeEvent
}

// NewNotificationHub creates a new NotificationHub.
func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		clients: make(map[string][]chan *events.TaskOutcomeEvent),
	}
}

// HandleEvent implements events.EventHandler. Delivery to a slow client is
// dropped rather than blocking the dispatcher; the task record itself still
// carries the outcome.
func (h *NotificationHub) HandleEvent(ctx context.Context, event *events.TaskOutcomeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients[event.OwnerID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a client channel for the owner's outcome events.
// The returned function unregisters the channel.
func (h *NotificationHub) Subscribe(ownerID string) (<-chan *events.TaskOutcomeEvent, func()) {
	ch := make(chan *events.TaskOutcomeEvent, 8)

	h.mu.Lock()
	h.clients[ownerID] = append(h.clients[ownerID], ch)
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.clients[ownerID]
		for i, c := range chans {
			if c == ch {
				h.clients[ownerID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(h.clients[ownerID]) == 0 {
			delete(h.clients, ownerID)
		}
	}

	return ch, unsubscribe
}

// StreamHandler serves the SSE endpoints: live snapshots of active tasks
// and the outcome notification stream.
type StreamHandler struct {
	taskService service.TaskService
	hub         *NotificationHub
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(taskService service.TaskService, hub *NotificationHub) *StreamHandler {
	return &StreamHandler{
		taskService: taskService,
		hub:         hub,
	}
}

// StreamTasks handles GET /api/tasks/stream requests. Connecting counts as
// a session attach: interrupted tasks are resumed and the notification
// watch starts before the first snapshot is sent.
func (s *StreamHandler) StreamTasks(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())
	if ownerID == "" {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	if err := s.taskService.AttachSession(r.Context(), ownerID); err != nil {
		slog.Error("failed to attach session", "error", err, "owner_id", ownerID)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to attach session")
		return
	}

	sub, err := s.taskService.SubscribeActiveTasks(r.Context(), ownerID)
	if err != nil {
		slog.Error("failed to subscribe to tasks", "error", err, "owner_id", ownerID)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to open task stream")
		return
	}
	defer func() { _ = sub.Close() }()

	setSSEHeaders(w)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, ok := <-sub.Updates():
			if !ok {
				return
			}
			responses := make([]TaskResponse, 0, len(snapshot))
			for _, t := range snapshot {
				responses = append(responses, taskToResponse(t))
			}
			if err := writeSSE(w, "tasks", responses); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// StreamNotifications handles GET /api/tasks/notifications requests,
// serving each outcome event the dispatcher emits for the owner.
func (s *StreamHandler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())
	if ownerID == "" {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Outcomes can only be delivered while the dispatcher is watching the
	// owner, so attach here as well.
	if err := s.taskService.AttachSession(r.Context(), ownerID); err != nil {
		slog.Error("failed to attach session", "error", err, "owner_id", ownerID)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to attach session")
		return
	}

	eventCh, unsubscribe := s.hub.Subscribe(ownerID)
	defer unsubscribe()

	setSSEHeaders(w)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-eventCh:
			if err := writeSSE(w, "outcome", event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// setSSEHeaders writes the standard server-sent-events response headers.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSE writes one named SSE event with a JSON payload.
func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode SSE payload: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
