package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is a scheduled patient-doctor encounter. Date is a civil date;
// StartMins is minutes past midnight on that date.
type Appointment struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	DoctorID     uuid.UUID  `json:"doctor_id"`
	Date         time.Time  `json:"date"`
	StartMins    int        `json:"start_mins"`
	DurationMins int        `json:"duration_mins"`
	Status       Status     `json:"status"`
	TypeID       uuid.UUID  `json:"type_id"`
	Reason       string     `json:"reason"`
	CreatedBy    string     `json:"created_by"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Start returns the appointment's starting instant.
func (a *Appointment) Start() time.Time {
	y, m, d := a.Date.Date()
	return time.Date(y, m, d, a.StartMins/60, a.StartMins%60, 0, 0, time.UTC)
}

// RescheduleRecord is an append-only history entry for one reschedule.
type RescheduleRecord struct {
	ID             uuid.UUID `json:"id"`
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PriorDate      time.Time `json:"prior_date"`
	PriorStartMins int       `json:"prior_start_mins"`
	NewDate        time.Time `json:"new_date"`
	NewStartMins   int       `json:"new_start_mins"`
	Reason         string    `json:"reason"`
	Actor          string    `json:"actor"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateInput carries everything needed to book an appointment.
type CreateInput struct {
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	Date         time.Time
	StartMins    int
	DurationMins int
	TypeID       uuid.UUID
	Reason       string
	CreatedBy    string
}

// RescheduleInput carries the target slot for a reschedule.
type RescheduleInput struct {
	Date      time.Time
	StartMins int
	Reason    string
	Actor     string
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    Status
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}
