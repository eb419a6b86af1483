package postgres

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// taskChangeChannel is the NOTIFY channel fired by the tasks table trigger.
// The payload is the owner ID of the changed row.
const taskChangeChannel = "task_changes"

// reconnectDelay paces reconnect attempts after the listen connection drops.
const reconnectDelay = 2 * time.Second

// Listener holds a dedicated connection in LISTEN mode and fans incoming
// task-change notifications out to per-owner registrations. It only signals
// that something changed; subscribers re-query the store for actual state,
// so a dropped connection costs latency, never correctness beyond the next
// notification.
type Listener struct {
	databaseURL string
	logger      *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewListener creates a Listener for the given database. Run must be called
// to start receiving notifications.
func NewListener(databaseURL string, logger *slog.Logger) *Listener {
	return &Listener{
		databaseURL: databaseURL,
		logger:      logger.With("component", "postgres_listener"),
		waiters:     make(map[string][]chan struct{}),
	}
}

// Register adds a notification channel for the owner. The returned channel
// receives a signal (coalesced, capacity 1) whenever one of the owner's
// tasks changes. The unregister function must be called when done.
func (l *Listener) Register(ownerID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	l.waiters[ownerID] = append(l.waiters[ownerID], ch)
	l.mu.Unlock()

	unregister := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		chans := l.waiters[ownerID]
		for i, c := range chans {
			if c == ch {
				l.waiters[ownerID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(l.waiters[ownerID]) == 0 {
			delete(l.waiters, ownerID)
		}
	}

	return ch, unregister
}

// Run listens for notifications until the context is canceled, reconnecting
// whenever the connection drops.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("listen connection lost, reconnecting",
				"error", err,
				"retry_in", reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// listen holds one LISTEN connection and dispatches its notifications.
func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+taskChangeChannel); err != nil {
		return err
	}

	l.logger.Debug("listening for task changes", "channel", taskChangeChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		l.dispatch(notification.Payload)
	}
}

// dispatch signals every registration for the owner. Sends are non-blocking:
// the channel has capacity 1 and a pending signal already guarantees the
// subscriber will re-query.
func (l *Listener) dispatch(ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.waiters[ownerID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
