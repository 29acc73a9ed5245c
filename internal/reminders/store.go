package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Store persists reminders and their append-only status events.
type Store struct {
	db DB
}

// NewStore creates a reminder store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// CreateReminder inserts a new reminder.
func (s *Store) CreateReminder(ctx context.Context, r *Reminder) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO reminders (id, appointment_id, channel, scheduled_for, cancelled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.AppointmentID, string(r.Channel), r.ScheduledFor, r.Cancelled, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("reminders: create: %w", err)
	}
	return nil
}

// GetByID loads one reminder.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, appointment_id, channel, scheduled_for, cancelled, created_at
		FROM reminders WHERE id = $1`, id)
	var r Reminder
	var channel string
	err := row.Scan(&r.ID, &r.AppointmentID, &channel, &r.ScheduledFor, &r.Cancelled, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reminder %s: %w", id, ErrReminderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reminders: load: %w", err)
	}
	r.Channel = Channel(channel)
	return &r, nil
}

// MarkCancelled sets the cancelled flag. The CANCELADO event is appended
// separately; the flag is what the due sweep filters on.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminders SET cancelled = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reminders: mark cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrReminderNotFound)
	}
	return nil
}

// AppendEvent inserts one status event. Seq is assigned by the database
// sequence and written back to e.
func (s *Store) AppendEvent(ctx context.Context, e *StatusEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		INSERT INTO reminder_status_events (id, reminder_id, state, content, is_cancellation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`,
		e.ID, e.ReminderID, string(e.State), e.Content, e.IsCancellation, e.CreatedAt)
	if err := row.Scan(&e.Seq); err != nil {
		return fmt.Errorf("reminders: append event: %w", err)
	}
	return nil
}

// LatestState returns the state of the highest-seq event, or "" when the
// reminder has no events yet.
func (s *Store) LatestState(ctx context.Context, reminderID uuid.UUID) (EventState, error) {
	row := s.db.QueryRow(ctx, `
		SELECT state FROM reminder_status_events
		WHERE reminder_id = $1
		ORDER BY seq DESC LIMIT 1`, reminderID)
	var state string
	err := row.Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reminders: latest state: %w", err)
	}
	return EventState(state), nil
}

// EventsByReminder returns a reminder's events ordered by seq ascending.
func (s *Store) EventsByReminder(ctx context.Context, reminderID uuid.UUID) ([]StatusEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, reminder_id, seq, state, content, is_cancellation, created_at
		FROM reminder_status_events
		WHERE reminder_id = $1
		ORDER BY seq ASC`, reminderID)
	if err != nil {
		return nil, fmt.Errorf("reminders: list events: %w", err)
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var e StatusEvent
		var state string
		if err := rows.Scan(&e.ID, &e.ReminderID, &e.Seq, &state, &e.Content,
			&e.IsCancellation, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("reminders: scan event: %w", err)
		}
		e.State = EventState(state)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListByAppointment returns an appointment's reminders, most recently
// scheduled first.
func (s *Store) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, appointment_id, channel, scheduled_for, cancelled, created_at
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY scheduled_for DESC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("reminders: list by appointment: %w", err)
	}
	defer rows.Close()

	var result []Reminder
	for rows.Next() {
		var r Reminder
		var channel string
		if err := rows.Scan(&r.ID, &r.AppointmentID, &channel, &r.ScheduledFor,
			&r.Cancelled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("reminders: scan reminder: %w", err)
		}
		r.Channel = Channel(channel)
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListDue returns not-cancelled reminders due at or before now whose latest
// event is PENDIENTE or REINTENTO, joined with appointment and contact data.
// Missing patient or doctor rows yield empty name fields; the caller skips
// those items.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]DueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.appointment_id, r.channel, r.scheduled_for, r.cancelled, r.created_at,
			a.appointment_date, a.start_mins, a.reason,
			COALESCE(p.full_name, ''), COALESCE(p.email, ''), COALESCE(d.full_name, ''),
			(SELECT COUNT(*) FROM reminder_status_events ec
				WHERE ec.reminder_id = r.id AND ec.state = 'ERROR')
		FROM reminders r
		JOIN appointments a ON a.id = r.appointment_id
		LEFT JOIN patients p ON p.id = a.patient_id
		LEFT JOIN doctors d ON d.id = a.doctor_id
		WHERE r.cancelled = FALSE
			AND r.scheduled_for <= $1
			AND (SELECT e.state FROM reminder_status_events e
				WHERE e.reminder_id = r.id
				ORDER BY e.seq DESC LIMIT 1) IN ('PENDIENTE', 'REINTENTO')
		ORDER BY r.scheduled_for ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list due: %w", err)
	}
	defer rows.Close()

	var result []DueItem
	for rows.Next() {
		var it DueItem
		var channel string
		if err := rows.Scan(&it.Reminder.ID, &it.Reminder.AppointmentID, &channel,
			&it.Reminder.ScheduledFor, &it.Reminder.Cancelled, &it.Reminder.CreatedAt,
			&it.Date, &it.StartMins, &it.Reason,
			&it.PatientName, &it.PatientEmail, &it.DoctorName, &it.Attempts); err != nil {
			return nil, fmt.Errorf("reminders: scan due item: %w", err)
		}
		it.Reminder.Channel = Channel(channel)
		result = append(result, it)
	}
	return result, rows.Err()
}

// FindConfirmedWithoutReminders returns CONFIRMADA appointments starting in
// (now, until] that have no reminder rows at all.
func (s *Store) FindConfirmedWithoutReminders(ctx context.Context, now, until time.Time) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.appointment_date, a.start_mins, a.reason
		FROM appointments a
		WHERE a.status = 'CONFIRMADA'
			AND a.appointment_date + make_interval(mins => a.start_mins) > $1
			AND a.appointment_date + make_interval(mins => a.start_mins) <= $2
			AND NOT EXISTS (SELECT 1 FROM reminders r WHERE r.appointment_id = a.id)
		ORDER BY a.appointment_date, a.start_mins`, now, until)
	if err != nil {
		return nil, fmt.Errorf("reminders: find auto-create candidates: %w", err)
	}
	defer rows.Close()

	var result []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.AppointmentID, &c.PatientID, &c.DoctorID,
			&c.Date, &c.StartMins, &c.Reason); err != nil {
			return nil, fmt.Errorf("reminders: scan candidate: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
