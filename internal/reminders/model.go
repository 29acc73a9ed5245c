// Package reminders implements appointment reminder delivery with an
// append-only status-event log. A reminder's current state is always the
// event with the highest seq; events are never updated or deleted.
package reminders

import (
	"time"

	"github.com/google/uuid"
)

// EventState is one state in a reminder's delivery history.
type EventState string

const (
	StatePendiente EventState = "PENDIENTE"
	StateEnviado   EventState = "ENVIADO"
	StateEntregado EventState = "ENTREGADO"
	StateRebotado  EventState = "REBOTADO"
	StateError     EventState = "ERROR"
	StateReintento EventState = "REINTENTO"
	StateCancelado EventState = "CANCELADO"
)

// IsValid reports whether s is a known event state.
func (s EventState) IsValid() bool {
	switch s {
	case StatePendiente, StateEnviado, StateEntregado, StateRebotado,
		StateError, StateReintento, StateCancelado:
		return true
	}
	return false
}

// Channel is a reminder delivery channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelApp   Channel = "app-notification"
)

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelApp:
		return true
	}
	return false
}

// Reminder is one scheduled notification for an appointment.
type Reminder struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Channel       Channel   `json:"channel"`
	ScheduledFor  time.Time `json:"scheduled_for"`
	Cancelled     bool      `json:"cancelled"`
	CreatedAt     time.Time `json:"created_at"`
}

// StatusEvent is one append-only entry in a reminder's delivery history.
// Seq is assigned by the database and is monotonic per table.
type StatusEvent struct {
	ID             uuid.UUID  `json:"id"`
	ReminderID     uuid.UUID  `json:"reminder_id"`
	Seq            int64      `json:"seq"`
	State          EventState `json:"state"`
	Content        string     `json:"content"`
	IsCancellation bool       `json:"is_cancellation"`
	CreatedAt      time.Time  `json:"created_at"`
}

// History pairs a reminder with its ordered event log and derived state.
type History struct {
	Reminder     Reminder      `json:"reminder"`
	CurrentState EventState    `json:"current_state"`
	Events       []StatusEvent `json:"events"`
}

// DueItem is a due reminder joined with the appointment and contact details
// needed to deliver it. Name fields are empty when the join was incomplete.
type DueItem struct {
	Reminder     Reminder
	Date         time.Time
	StartMins    int
	Reason       string
	PatientName  string
	PatientEmail string
	DoctorName   string
	Attempts     int
}

// Candidate is a confirmed appointment eligible for reminder auto-creation.
type Candidate struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Date          time.Time
	StartMins     int
	Reason        string
}

// Start returns the candidate appointment's starting instant.
func (c Candidate) Start() time.Time {
	y, m, d := c.Date.Date()
	return time.Date(y, m, d, c.StartMins/60, c.StartMins%60, 0, 0, time.UTC)
}
