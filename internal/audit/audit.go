// Package audit persists the immutable trail of business mutations.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Event represents one immutable audit record.
type Event struct {
	ID          uuid.UUID `json:"id"`
	ActorID     string    `json:"actor_id"`
	TargetID    string    `json:"target_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	OriginIP    string    `json:"origin_ip,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service handles audit logging. Record never panics; failures are returned
// for the caller to log, not to abort the triggering mutation.
type Service struct {
	db DB
}

// NewService creates a new audit service.
func NewService(db DB) *Service {
	return &Service{db: db}
}

const insertQuery = `
	INSERT INTO audit_events (id, actor_id, target_id, action, description, origin_ip, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Record persists one audit event.
func (s *Service) Record(ctx context.Context, e Event) error {
	fill(&e)
	_, err := s.db.Exec(ctx, insertQuery,
		e.ID, e.ActorID, e.TargetID, e.Action, e.Description, e.OriginIP, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: record event: %w", err)
	}
	return nil
}

// RecordInTx persists one audit event inside the caller's transaction. Used
// where the audit row and the business mutation must commit together.
func (s *Service) RecordInTx(ctx context.Context, tx pgx.Tx, e Event) error {
	fill(&e)
	_, err := tx.Exec(ctx, insertQuery,
		e.ID, e.ActorID, e.TargetID, e.Action, e.Description, e.OriginIP, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: record event in tx: %w", err)
	}
	return nil
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	TargetID string
	Action   string
	Since    time.Time
	Limit    int
}

// Query retrieves audit events for operator review, newest first.
func (s *Service) Query(ctx context.Context, f Filter) ([]Event, error) {
	query := `
		SELECT id, actor_id, target_id, action, description, origin_ip, created_at
		FROM audit_events
		WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.TargetID != "" {
		query += " AND target_id = " + arg(f.TargetID)
	}
	if f.Action != "" {
		query += " AND action = " + arg(f.Action)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= " + arg(f.Since)
	}
	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ActorID, &e.TargetID, &e.Action,
			&e.Description, &e.OriginIP, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func fill(e *Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}
