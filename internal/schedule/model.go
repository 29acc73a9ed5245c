package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Window is a doctor's recurring weekly availability interval for one weekday.
// One active window per (doctor, weekday).
type Window struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Weekday   string    `json:"weekday"`
	StartMins int       `json:"start_mins"`
	EndMins   int       `json:"end_mins"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Booking is the slice of an existing appointment the conflict check needs.
type Booking struct {
	ID           uuid.UUID
	StartMins    int
	DurationMins int
	Cancelled    bool
}
