package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/audit/worker"
)

// ErrBufferFull is returned in async mode when the buffer stayed full for the
// whole enqueue wait and the caller's context has not ended.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher appends audit events to a Store. In sync mode Emit returns once
// the store accepted the event; in async mode events are queued and a worker
// drains them, and Close flushes what is left.
type Publisher struct {
	store  audit.Store
	now    func() time.Time
	logger *slog.Logger
	wait   time.Duration
	retry  []worker.Option
	inbox  chan audit.Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

const defaultEnqueueWait = 100 * time.Millisecond

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan audit.Event, n)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithLogger reports events the async worker could not store.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithEnqueueWait bounds how long Emit blocks on a full buffer.
func WithEnqueueWait(d time.Duration) Option {
	return func(p *Publisher) {
		p.wait = d
	}
}

// WithRetry is passed through to the async worker.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Publisher) {
		p.retry = append(p.retry, worker.WithRetry(attempts, backoff))
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, now: time.Now, wait: defaultEnqueueWait}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.inbox, append([]worker.Option{worker.WithLogger(p.logger)}, p.retry...)...)
		go func() {
			defer close(p.done)
			if err := w.Run(ctx); err != nil && p.logger != nil {
				p.logger.Error("audit worker stopped", "error", err)
			}
		}()
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event.Normalize(p.now())
	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	default:
	}
	timer := time.NewTimer(p.wait)
	defer timer.Stop()
	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBufferFull
	}
}

func (p *Publisher) ListByEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Event, error) {
	return p.store.ListByEntity(ctx, entityType, entityID)
}

func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.store.ListRecent(ctx, limit)
}

// Close stops the async worker after draining queued events. It is a no-op
// in sync mode and safe to call more than once.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}
