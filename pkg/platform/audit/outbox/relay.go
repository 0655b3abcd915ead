// Package outbox relays committed audit events from the outbox table to a
// message broker. Delivery is at-least-once: an entry is marked published
// only after the producer acknowledged it.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"receiv3/pkg/platform/audit/store/postgres"
)

// Reader reads and acknowledges outbox entries.
type Reader interface {
	FetchUnpublished(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
}

// Producer delivers one message synchronously.
type Producer interface {
	Produce(ctx context.Context, key string, value []byte) error
}

type Relay struct {
	reader    Reader
	producer  Producer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(reader Reader, producer Producer, opts ...Option) *Relay {
	r := &Relay{
		reader:    reader,
		producer:  producer,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx ends. Failed batches are retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "outbox relay batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns how many entries were delivered.
// It stops at the first failure so ordering per key is preserved.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	entries, err := r.reader.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, e := range entries {
		if err := r.producer.Produce(ctx, e.Key, e.Payload); err != nil {
			return sent, err
		}
		if err := r.reader.MarkPublished(ctx, e.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
