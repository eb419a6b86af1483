package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobrunr-app/taskforge/internal/api"
	"github.com/jobrunr-app/taskforge/internal/config"
	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/events"
	"github.com/jobrunr-app/taskforge/internal/platform/gemini"
	"github.com/jobrunr-app/taskforge/internal/platform/postgres"
	"github.com/jobrunr-app/taskforge/internal/platform/redisstore"
	"github.com/jobrunr-app/taskforge/internal/service"
	"github.com/jobrunr-app/taskforge/internal/store"
	"github.com/jobrunr-app/taskforge/internal/task"
)

// application holds the wired components of the running server.
type application struct {
	config *config.Config
	logger *slog.Logger

	db             *sql.DB
	redisClient    *redis.Client
	listenerCancel context.CancelFunc

	taskStore   store.TaskStore
	runner      *task.Runner
	dispatcher  *task.Dispatcher
	hub         *api.NotificationHub
	taskService service.TaskService
}

// newApplication builds the full dependency graph: store adapter per the
// configured driver, transform registry, runner, dispatcher, notification
// hub, and the task service on top of them.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}

	lifecycle := task.NewLifecycle(app.taskStore, logger)

	registry := task.NewRegistry()
	transformer, err := gemini.NewGeminiTransformer(ctx, logger, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create transformer: %w", err)
	}
	for _, taskType := range []domain.TaskType{
		domain.TaskTypeCVRewrite,
		domain.TaskTypeATSAnalysis,
		domain.TaskTypeCoverLetter,
	} {
		registry.Register(taskType, transformer)
	}

	retention := time.Duration(cfg.Worker.RetentionHours) * time.Hour
	app.runner = task.NewRunner(lifecycle, app.taskStore, registry, task.RunnerConfig{
		Retention:      retention,
		RescanInterval: time.Duration(cfg.Worker.RescanMinutes) * time.Minute,
	}, logger)
	app.runner.Start()

	emitter := events.NewInMemoryEventEmitter(logger)
	app.hub = api.NewNotificationHub()
	emitter.RegisterHandler(app.hub)

	app.dispatcher = task.NewDispatcher(app.taskStore, lifecycle, emitter, logger)

	app.taskService, err = service.NewTaskService(
		app.taskStore,
		lifecycle,
		app.runner,
		app.dispatcher,
		retention,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	return app, nil
}

// setupStore initializes the configured store adapter.
func (app *application) setupStore(ctx context.Context) error {
	switch app.config.Store.Driver {
	case "postgres":
		db, err := setupAppDatabase(app.config, app.logger)
		if err != nil {
			return err
		}
		app.db = db

		if err := postgres.RunMigrations(db); err != nil {
			return err
		}

		listener := postgres.NewListener(app.config.Store.DatabaseURL, app.logger)
		listenerCtx, cancel := context.WithCancel(context.Background())
		app.listenerCancel = cancel
		go listener.Run(listenerCtx)

		app.taskStore = postgres.NewTaskStore(db, listener, app.logger)
		return nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: app.config.Store.RedisAddr})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		app.redisClient = client
		app.taskStore = redisstore.NewTaskStore(client, app.logger)
		app.logger.Info("Redis connection established", "addr", app.config.Store.RedisAddr)
		return nil

	default:
		return fmt.Errorf("unknown store driver: %s", app.config.Store.Driver)
	}
}

// cleanup releases application resources in reverse dependency order.
func (app *application) cleanup() {
	app.runner.Stop()
	app.dispatcher.Stop()

	if app.listenerCancel != nil {
		app.listenerCancel()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Failed to close database connection", "error", err)
		}
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Failed to close redis connection", "error", err)
		}
	}
}
