package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/events"
	"github.com/jobrunr-app/taskforge/internal/store"
)

// Dispatcher observes terminal, unnotified tasks through the store's change
// stream and emits exactly one user-facing outcome event per task within
// this process. The persisted notification flag extends the guarantee
// across sessions and tabs: whichever session emits first marks the task,
// and the others observe the flag instead of the unnotified task.
//
// If marking fails after the event was emitted the task may be re-notified
// in a future session. That at-most-once-per-session / at-least-once-overall
// trade-off is accepted: a duplicate notification is a UX annoyance, not a
// correctness failure.
type Dispatcher struct {
	store     store.TaskStore
	lifecycle *Lifecycle
	emitter   events.EventEmitter
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	handled map[string]struct{}
	watched map[string]struct{}
}

// NewDispatcher creates a new Dispatcher emitting through the given emitter.
func NewDispatcher(
	taskStore store.TaskStore,
	lifecycle *Lifecycle,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:     taskStore,
		lifecycle: lifecycle,
		emitter:   emitter,
		logger:    logger.With("component", "notification_dispatcher"),
		ctx:       ctx,
		cancel:    cancel,
		handled:   make(map[string]struct{}),
		watched:   make(map[string]struct{}),
	}
}

// Watch opens the unnotified-tasks subscription for the owner and starts
// consuming it. Watching the same owner twice is a no-op.
func (d *Dispatcher) Watch(ctx context.Context, ownerID string) error {
	d.mu.Lock()
	if _, exists := d.watched[ownerID]; exists {
		d.mu.Unlock()
		return nil
	}
	d.watched[ownerID] = struct{}{}
	d.mu.Unlock()

	sub, err := d.store.SubscribeTasks(ctx, ownerID, store.UnnotifiedTasksFilter())
	if err != nil {
		d.mu.Lock()
		delete(d.watched, ownerID)
		d.mu.Unlock()
		return fmt.Errorf("failed to subscribe to unnotified tasks: %w", err)
	}

	d.wg.Add(1)
	go d.consume(ownerID, sub)

	return nil
}

// Stop terminates all watches and waits for consumers to drain.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// consume reads record-set snapshots from the subscription until it closes.
func (d *Dispatcher) consume(ownerID string, sub store.TaskSubscription) {
	defer d.wg.Done()
	defer func() {
		if err := sub.Close(); err != nil {
			d.logger.Debug("failed to close subscription", "owner_id", ownerID, "error", err)
		}
		d.mu.Lock()
		delete(d.watched, ownerID)
		d.mu.Unlock()
	}()

	for {
		select {
		case <-d.ctx.Done():
			return
		case snapshot, ok := <-sub.Updates():
			if !ok {
				return
			}
			for _, t := range snapshot {
				d.notify(t)
			}
		}
	}
}

// notify emits the outcome event for a terminal task, at most once per
// process. The store's notification semantics do not rule out duplicate
// deliveries of the same change, so an in-process handled set guards the
// emit before the persisted flag does.
func (d *Dispatcher) notify(t *domain.Task) {
	if !t.IsTerminal() || t.NotificationShown {
		return
	}

	d.mu.Lock()
	if _, seen := d.handled[t.ID]; seen {
		d.mu.Unlock()
		return
	}
	d.handled[t.ID] = struct{}{}
	d.mu.Unlock()

	var event *events.TaskOutcomeEvent
	if t.Status == domain.TaskStatusCompleted {
		event = events.NewTaskCompletedEvent(t)
	} else {
		event = events.NewTaskFailedEvent(t, t.Error)
	}

	if err := d.emitter.EmitEvent(d.ctx, event); err != nil {
		d.logger.Error("failed to emit outcome event",
			"task_id", t.ID,
			"event_kind", event.Kind,
			"error", err)
		// The outcome never reached a handler. Leave the task unnotified and
		// unhandled so a later snapshot can deliver it.
		d.mu.Lock()
		delete(d.handled, t.ID)
		d.mu.Unlock()
		return
	}

	// The event has been emitted in this session; mark the task so other
	// sessions do not notify again. A failure here only risks a duplicate
	// notification in a later session.
	if err := d.lifecycle.MarkNotified(d.ctx, t.OwnerID, t.ID); err != nil {
		d.logger.Error("failed to mark task notified",
			"task_id", t.ID,
			"error", err)
	}
}
