package appointments

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
	Begin(ctx context.Context) (pgx.Tx, error)
}

const appointmentColumns = `id, patient_id, doctor_id, appointment_date, start_mins,
	duration_mins, status, type_id, reason, created_by, checked_in_at, created_at, updated_at`

// Store provides persistence for appointments and reschedule records.
type Store struct {
	db DB
}

// NewStore creates an appointment store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Begin opens a transaction for callers that need multi-statement atomicity.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin tx: %w", err)
	}
	return tx, nil
}

// Create inserts a new appointment.
func (s *Store) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.DurationMins <= 0 {
		a.DurationMins = 60
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, start_mins,
			duration_mins, status, type_id, reason, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.StartMins,
		a.DurationMins, string(a.Status), a.TypeID, a.Reason, a.CreatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("appointments: create: %w", err)
	}
	return nil
}

// GetByID loads one appointment.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "appointment", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: load: %w", err)
	}
	return a, nil
}

// ListByDoctorDate returns all non-cancelled appointments for a doctor on a
// date, optionally excluding one id (for reschedules).
func (s *Store) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status <> $3 AND id <> $4
		ORDER BY start_mins ASC`,
		doctorID, date, string(StatusCancelada), excludeID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list by doctor/date: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// UpdateStatus writes the status column.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "appointment", ID: id.String()}
	}
	return nil
}

// CancelWithReason sets status to CANCELADA and appends the reason to the
// free-text field.
func (s *Store) CancelWithReason(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET status = $1,
		    reason = TRIM(BOTH FROM reason || $2),
		    updated_at = $3
		WHERE id = $4`,
		string(StatusCancelada), "\nCancelación: "+reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("appointments: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "appointment", ID: id.String()}
	}
	return nil
}

// UpdateSlot moves the appointment to a new date and start time.
func (s *Store) UpdateSlot(ctx context.Context, id uuid.UUID, date time.Time, startMins int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET appointment_date = $1, start_mins = $2, updated_at = $3
		WHERE id = $4`,
		date, startMins, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("appointments: update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "appointment", ID: id.String()}
	}
	return nil
}

// MarkCheckedIn records the check-in timestamp and the advanced status. The
// WHERE clause guards against double check-in at the database level.
func (s *Store) MarkCheckedIn(ctx context.Context, id uuid.UUID, at time.Time, status Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET checked_in_at = $1, status = $2, updated_at = $3
		WHERE id = $4 AND checked_in_at IS NULL`,
		at, string(status), time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("appointments: mark checked in: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizePaymentTx flips PENDIENTE_PAGO to FINALIZADA inside the caller's
// transaction. Returns false when the appointment was not awaiting payment.
func (s *Store) FinalizePaymentTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(StatusFinalizada), time.Now().UTC(), id, string(StatusPendientePago))
	if err != nil {
		return false, fmt.Errorf("appointments: finalize payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns appointments matching the filter, newest slot first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.DoctorID != uuid.Nil {
		query += " AND doctor_id = " + arg(f.DoctorID)
	}
	if f.PatientID != uuid.Nil {
		query += " AND patient_id = " + arg(f.PatientID)
	}
	if f.Status != "" {
		query += " AND status = " + arg(string(f.Status))
	}
	if !f.From.IsZero() {
		query += " AND appointment_date >= " + arg(f.From)
	}
	if !f.To.IsZero() {
		query += " AND appointment_date <= " + arg(f.To)
	}
	query += " ORDER BY appointment_date DESC, start_mins DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// InsertRescheduleRecord appends one history entry. Records are never updated
// or deleted.
func (s *Store) InsertRescheduleRecord(ctx context.Context, r *RescheduleRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO reschedule_records (id, appointment_id, prior_date, prior_start_mins,
			new_date, new_start_mins, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.AppointmentID, r.PriorDate, r.PriorStartMins,
		r.NewDate, r.NewStartMins, r.Reason, r.Actor, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("appointments: insert reschedule record: %w", err)
	}
	return nil
}

// RescheduleHistory returns an appointment's reschedule entries, oldest first.
func (s *Store) RescheduleHistory(ctx context.Context, appointmentID uuid.UUID) ([]RescheduleRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, appointment_id, prior_date, prior_start_mins, new_date, new_start_mins,
			reason, actor, created_at
		FROM reschedule_records
		WHERE appointment_id = $1
		ORDER BY created_at ASC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("appointments: reschedule history: %w", err)
	}
	defer rows.Close()

	var result []RescheduleRecord
	for rows.Next() {
		var r RescheduleRecord
		if err := rows.Scan(&r.ID, &r.AppointmentID, &r.PriorDate, &r.PriorStartMins,
			&r.NewDate, &r.NewStartMins, &r.Reason, &r.Actor, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("appointments: scan reschedule record: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.StartMins,
		&a.DurationMins, &status, &a.TypeID, &a.Reason, &a.CreatedBy,
		&a.CheckedInAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		var a Appointment
		var status string
		err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.StartMins,
			&a.DurationMins, &status, &a.TypeID, &a.Reason, &a.CreatedBy,
			&a.CheckedInAt, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		a.Status = Status(status)
		result = append(result, a)
	}
	return result, rows.Err()
}
