// Package directory resolves patient, doctor, and appointment-type references.
// It is a lookup surface only; people CRUD lives elsewhere.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when the referenced record does not exist.
var ErrNotFound = errors.New("directory: not found")

// Patient is the minimal patient record needed by the booking core.
type Patient struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
}

// Doctor is the minimal doctor record needed by the booking core.
type Doctor struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Specialty string    `json:"specialty"`
}

// AppointmentType is a bookable encounter category.
type AppointmentType struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Active bool      `json:"active"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides reference lookups against the clinic directory tables.
type Store struct {
	db DB
}

// NewStore creates a directory store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// PatientByID loads one patient. Missing rows wrap ErrNotFound.
func (s *Store) PatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, full_name, email, phone FROM patients WHERE id = $1`, id)
	var p Patient
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: load patient: %w", err)
	}
	return &p, nil
}

// DoctorByID loads one doctor. Missing rows wrap ErrNotFound.
func (s *Store) DoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, full_name, email, specialty FROM doctors WHERE id = $1`, id)
	var d Doctor
	err := row.Scan(&d.ID, &d.FullName, &d.Email, &d.Specialty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("doctor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: load doctor: %w", err)
	}
	return &d, nil
}

// AppointmentTypeByID loads one appointment type. Missing rows wrap ErrNotFound.
func (s *Store) AppointmentTypeByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, active FROM appointment_types WHERE id = $1`, id)
	var t AppointmentType
	err := row.Scan(&t.ID, &t.Name, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appointment type %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: load appointment type: %w", err)
	}
	return &t, nil
}
