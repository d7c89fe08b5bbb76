package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "hycredit/pkg/domain"
	audit "hycredit/pkg/platform/audit"
)

// Store implements audit.Store on the audit_events table. Rows are never
// updated or deleted.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes one audit event under a fresh id.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	return s.AppendWithID(ctx, uuid.New(), event)
}

// AppendWithID inserts an event with a caller-chosen id. Replays of the
// same id are ignored via ON CONFLICT DO NOTHING.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, actor_id, action,
			request_id, credit_id, decision, reason, subject
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		eventID,
		string(event.Category),
		event.Timestamp,
		event.ActorID.String(),
		event.Action,
		event.RequestID,
		event.CreditID,
		event.Decision,
		event.Reason,
		event.Subject,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT category, timestamp, actor_id, action,
		   request_id, credit_id, decision, reason, subject
	FROM audit_events`

// ListByActor returns events filed under one actor, oldest first.
func (s *Store) ListByActor(ctx context.Context, actorID id.ActorID) ([]audit.Event, error) {
	return s.query(ctx, selectEvents+` WHERE actor_id = $1 ORDER BY timestamp, id`, actorID.String())
}

// ListByRequest returns every event correlated with a workflow request.
func (s *Store) ListByRequest(ctx context.Context, requestID string) ([]audit.Event, error) {
	return s.query(ctx, selectEvents+` WHERE request_id = $1 ORDER BY timestamp, id`, requestID)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return s.query(ctx, selectEvents+` ORDER BY timestamp DESC LIMIT $1`, limit)
}

func (s *Store) query(ctx context.Context, query string, arg any) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			category string
			actorID  string
			event    audit.Event
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&actorID,
			&event.Action,
			&event.RequestID,
			&event.CreditID,
			&event.Decision,
			&event.Reason,
			&event.Subject,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.ActorID = id.ActorID(actorID)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
