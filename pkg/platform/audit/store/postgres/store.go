package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"receiv3/pkg/domain"
	audit "receiv3/pkg/platform/audit"
	txcontext "receiv3/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Each event is written to audit_events for querying and to outbox for the
// relay that publishes it to Kafka, in one transaction. When the caller's
// context already carries a transaction the writes join it.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Payload is the JSON body published for each event.
type Payload struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Timestamp    string `json:"timestamp"`
	Action       string `json:"action"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	Actor        string `json:"actor,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Old          string `json:"old,omitempty"`
	New          string `json:"new,omitempty"`
	Reason       string `json:"reason,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

func payloadOf(event audit.Event) Payload {
	return Payload{
		ID:           event.ID.String(),
		Category:     string(event.Category),
		Timestamp:    event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:       string(event.Action),
		EntityType:   string(event.EntityType),
		EntityID:     event.EntityID,
		Actor:        event.Actor.String(),
		Counterparty: event.Counterparty.String(),
		Amount:       int64(event.Amount),
		Old:          event.Old,
		New:          event.New,
		Reason:       event.Reason,
		RequestID:    event.RequestID,
	}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	event.Normalize(time.Now())
	body, err := json.Marshal(payloadOf(event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_events (
				id, category, timestamp, action, entity_type, entity_id,
				actor, counterparty, amount, old_value, new_value, reason, request_id
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING
		`,
			event.ID,
			string(event.Category),
			event.Timestamp,
			string(event.Action),
			string(event.EntityType),
			event.EntityID,
			event.Actor.String(),
			event.Counterparty.String(),
			int64(event.Amount),
			event.Old,
			event.New,
			event.Reason,
			event.RequestID,
		)
		if err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			uuid.New(),
			string(event.EntityType),
			event.EntityID,
			string(event.Action),
			body,
			time.Now(),
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
		return nil
	})
}

const eventColumns = `id, category, timestamp, action, entity_type, entity_id,
	actor, counterparty, amount, old_value, new_value, reason, request_id`

// ListByEntity returns events for one entity in emission order.
func (s *Store) ListByEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM audit_events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq ASC
	`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events, oldest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM (
			SELECT `+eventColumns+`, seq FROM audit_events ORDER BY seq DESC LIMIT $1
		) recent
		ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event        audit.Event
			category     string
			action       string
			entityType   string
			actor        string
			counterparty string
			amount       int64
		)
		err := rows.Scan(
			&event.ID, &category, &event.Timestamp, &action, &entityType, &event.EntityID,
			&actor, &counterparty, &amount, &event.Old, &event.New, &event.Reason, &event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Action = audit.AuditEvent(action)
		event.EntityType = audit.EntityType(entityType)
		event.Actor = domain.Address(actor)
		event.Counterparty = domain.Address(counterparty)
		event.Amount = domain.Amount(amount)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// OutboxEntry is one unpublished event.
type OutboxEntry struct {
	ID        uuid.UUID
	Key       string
	EventType string
	Payload   []byte
}

// FetchUnpublished returns up to limit entries in insertion order.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_type || ':' || aggregate_id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC, seq ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Key, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps an entry so it is not relayed again.
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
	}
	return nil
}
