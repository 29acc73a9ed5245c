package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for doctor schedule windows.
type Store struct {
	db DB
}

// NewStore creates a schedule window store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// ActiveWindow returns the doctor's active window for a weekday, or nil when
// the doctor has no schedule that day.
func (s *Store) ActiveWindow(ctx context.Context, doctorID uuid.UUID, weekday string) (*Window, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, doctor_id, weekday, start_mins, end_mins, active, created_at
		FROM schedule_windows
		WHERE doctor_id = $1 AND weekday = $2 AND active
		LIMIT 1`, doctorID, weekday)

	var w Window
	err := row.Scan(&w.ID, &w.DoctorID, &w.Weekday, &w.StartMins, &w.EndMins, &w.Active, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: load active window: %w", err)
	}
	return &w, nil
}

// Upsert inserts or replaces the doctor's window for a weekday.
func (s *Store) Upsert(ctx context.Context, w *Window) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO schedule_windows (id, doctor_id, weekday, start_mins, end_mins, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, weekday) DO UPDATE
		SET start_mins = EXCLUDED.start_mins,
		    end_mins = EXCLUDED.end_mins,
		    active = EXCLUDED.active`,
		w.ID, w.DoctorID, w.Weekday, w.StartMins, w.EndMins, w.Active)
	if err != nil {
		return fmt.Errorf("schedule: upsert window: %w", err)
	}
	return nil
}
