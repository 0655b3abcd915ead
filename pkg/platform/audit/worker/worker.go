package worker

import (
	"context"
	"log/slog"
	"time"

	audit "receiv3/pkg/platform/audit"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 50 * time.Millisecond
)

// Worker consumes audit events from a channel and persists them. An event the
// store keeps refusing is logged and skipped; the worker never stops early.
type Worker struct {
	store    audit.Store
	inbox    <-chan audit.Event
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

type Option func(*Worker)

// WithLogger reports events that could not be stored.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithRetry sets how many times an append is tried and the pause between tries.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if backoff >= 0 {
			w.backoff = backoff
		}
	}
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox, attempts: defaultAttempts, backoff: defaultBackoff}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run appends events until ctx ends, then drains whatever is still queued
// using a fresh context so shutdown does not lose accepted events.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case event := <-w.inbox:
			w.persist(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-w.inbox:
			w.persist(ctx, event)
		default:
			return
		}
	}
}

// persist appends one event, retrying with backoff. A run context ending
// mid-retry moves the event onto a detached context so it is not lost to
// shutdown.
func (w *Worker) persist(ctx context.Context, event audit.Event) {
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = w.store.Append(ctx, event); err == nil {
			return
		}
		if attempt == w.attempts {
			break
		}
		timer := time.NewTimer(w.backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			ctx = context.WithoutCancel(ctx)
		}
	}
	if w.logger != nil {
		w.logger.Error("failed to store audit event",
			"event", event.Action,
			"entity_id", event.EntityID,
			"attempts", w.attempts,
			"error", err,
		)
	}
}
