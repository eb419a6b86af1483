package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jobrunr-app/taskforge/internal/api"
	apiMiddleware "github.com/jobrunr-app/taskforge/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.taskService)
	streamHandler := api.NewStreamHandler(app.taskService, app.hub)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.OwnerMiddleware)

			r.Post("/tasks", taskHandler.CreateTask)
			r.Get("/tasks/active", taskHandler.GetActiveTasks)
			r.Get("/tasks/stream", streamHandler.StreamTasks)
			r.Get("/tasks/notifications", streamHandler.StreamNotifications)
			r.Get("/tasks/{id}", taskHandler.GetTask)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
