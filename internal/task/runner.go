package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/generation"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// Retention is the read-side age filter for the resumption scan:
	// non-terminal tasks older than this are ignored rather than re-run.
	Retention time.Duration

	// RescanInterval defines how often known owners are rescanned for
	// resumable tasks. Zero disables periodic rescans.
	RescanInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Retention:      24 * time.Hour,
		RescanInterval: 5 * time.Minute,
	}
}

// Runner executes task transformations. Each task runs on its own
// goroutine; the only in-process concurrency control is the in-flight set,
// which guarantees at most one execution per task ID within this process.
// It deliberately does not coordinate across processes.
type Runner struct {
	lifecycle  *Lifecycle
	store      store.TaskStore
	registry   *Registry
	config     RunnerConfig
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	owners   map[string]struct{}
}

// NewRunner creates a new Runner.
func NewRunner(
	lifecycle *Lifecycle,
	taskStore store.TaskStore,
	registry *Registry,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if config.Retention == 0 {
		config.Retention = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		lifecycle:  lifecycle,
		store:      taskStore,
		registry:   registry,
		config:     config,
		logger:     logger.With("component", "task_runner"),
		ctx:        ctx,
		cancelFunc: cancel,
		inflight:   make(map[string]struct{}),
		owners:     make(map[string]struct{}),
	}
}

// Start begins the periodic resumption rescan for owners this runner has
// seen. Initial per-owner scans happen opportunistically via Resume.
func (r *Runner) Start() {
	if r.config.RescanInterval <= 0 {
		return
	}
	r.wg.Add(1)
	go r.rescanLoop()
}

// Stop cancels in-flight work contexts and waits for running tasks to
// settle.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
}

// Dispatch starts executing the given task on its own goroutine. If this
// process already has an in-flight execution for the task ID the dispatch
// is silently dropped.
func (r *Runner) Dispatch(t *domain.Task) {
	r.trackOwner(t.OwnerID)

	if !r.begin(t.ID) {
		r.logger.Debug("task already executing in this process, skipping",
			"task_id", t.ID)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Always release the execution guard, regardless of outcome.
		defer r.release(t.ID)
		r.execute(r.ctx, t)
	}()
}

// Resume scans the store for the owner's unfinished tasks and re-enters the
// execution protocol for each, as if freshly created. Partial progress from
// a previous attempt is discarded: the transform re-runs from the stored
// input snapshot. Tasks without a usable snapshot are failed immediately;
// inputs are never guessed.
func (r *Runner) Resume(ctx context.Context, ownerID string) error {
	r.trackOwner(ownerID)

	resumable, err := r.store.ListResumableTasks(ctx, ownerID, r.config.Retention)
	if err != nil {
		return fmt.Errorf("failed to list resumable tasks: %w", err)
	}

	if len(resumable) == 0 {
		return nil
	}

	r.logger.Info("resuming unfinished tasks",
		"owner_id", ownerID,
		"count", len(resumable))

	for _, t := range resumable {
		if _, ok := r.registry.Lookup(t.Type); !ok {
			r.logger.Debug("skipping task with no registered transform",
				"task_id", t.ID,
				"task_type", t.Type)
			continue
		}

		if !t.HasInputSnapshot() {
			if err := r.lifecycle.Fail(ctx, t.OwnerID, t.ID, domain.ErrResumptionDataMissing.Error()); err != nil {
				r.logger.Error("failed to fail task with missing snapshot",
					"task_id", t.ID,
					"error", err)
			}
			continue
		}

		r.Dispatch(t)
	}

	return nil
}

// execute runs the execution protocol for a single task: checkpoint,
// transform, finalize. The caller holds the in-flight guard.
func (r *Runner) execute(ctx context.Context, t *domain.Task) {
	logger := r.logger.With(
		"task_id", t.ID,
		"task_type", t.Type,
		"owner_id", t.OwnerID,
	)

	transformer, ok := r.registry.Lookup(t.Type)
	if !ok {
		logger.Error("no transform registered for task type")
		r.finalizeFailure(ctx, t, logger, "generation failed")
		return
	}

	logger.Info("executing task")

	// Coarse-grained phase checkpoints. These are best-effort UI signals:
	// writes are fire-and-forget and must not block the transform.
	r.checkpoint(t, 10, 0, "Validating input", logger)
	r.checkpoint(t, 30, 1, "Preparing", logger)

	r.checkpoint(t, 50, 2, "Generating", logger)
	result, err := transformer.Transform(ctx, t.Type, t.InputSnapshot)
	if err != nil {
		logger.Error("transformation failed", "error", err)
		r.finalizeFailure(ctx, t, logger, generation.UserMessage(err))
		return
	}

	r.checkpoint(t, 75, 3, "Persisting result", logger)

	// Terminal writes are awaited: a task must not be lost.
	if err := r.lifecycle.Complete(ctx, t.OwnerID, t.ID, result); err != nil {
		logger.Error("failed to finalize completed task", "error", err)
		return
	}

	logger.Info("task execution finished")
}

// finalizeFailure writes the terminal failed state with a short classified
// message. Store errors here are logged; the guard is released by Dispatch.
func (r *Runner) finalizeFailure(ctx context.Context, t *domain.Task, logger *slog.Logger, message string) {
	if err := r.lifecycle.Fail(ctx, t.OwnerID, t.ID, message); err != nil {
		logger.Error("failed to finalize failed task", "error", err)
	}
}

// checkpoint writes a progress update without blocking the caller.
// Checkpoint errors are swallowed with a log; progress display is
// best-effort and carries no correctness semantics.
func (r *Runner) checkpoint(t *domain.Task, progress, step int, label string, logger *slog.Logger) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.lifecycle.UpdateProgress(r.ctx, t.OwnerID, t.ID, progress, step, label); err != nil {
			logger.Debug("progress checkpoint dropped",
				"progress", progress,
				"step_label", label,
				"error", err)
		}
	}()
}

// begin records an in-flight execution for the task ID. Returns false when
// one already exists.
func (r *Runner) begin(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inflight[taskID]; exists {
		return false
	}
	r.inflight[taskID] = struct{}{}
	return true
}

// release removes the in-flight record for the task ID.
func (r *Runner) release(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, taskID)
}

// trackOwner remembers an owner for periodic rescans.
func (r *Runner) trackOwner(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[ownerID] = struct{}{}
}

// knownOwners snapshots the owners seen so far.
func (r *Runner) knownOwners() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	owners := make([]string, 0, len(r.owners))
	for o := range r.owners {
		owners = append(owners, o)
	}
	return owners
}

// rescanLoop periodically re-runs the resumption scan for known owners,
// picking up tasks whose worker died without a process restart.
func (r *Runner) rescanLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			for _, owner := range r.knownOwners() {
				if err := r.Resume(r.ctx, owner); err != nil {
					r.logger.Error("periodic resumption scan failed",
						"owner_id", owner,
						"error", err)
				}
			}
		}
	}
}
