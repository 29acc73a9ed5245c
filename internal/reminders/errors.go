package reminders

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidReminderState is returned when an event state is not in the enum.
	ErrInvalidReminderState = errors.New("reminders: invalid event state")

	// ErrInvalidChannel is returned for channels outside sms/email/app-notification.
	ErrInvalidChannel = errors.New("reminders: invalid channel")

	// ErrInvalidStatusForReminder is returned when the appointment is not in a
	// remindable status (PROGRAMADA or CONFIRMADA).
	ErrInvalidStatusForReminder = errors.New("reminders: appointment not in a remindable status")

	// ErrReminderNotFound is returned when the reminder does not exist or does
	// not belong to the given appointment.
	ErrReminderNotFound = errors.New("reminders: reminder not found")
)

// DeliveryError reports a failed or unimplemented delivery attempt.
type DeliveryError struct {
	Channel Channel
	Message string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("reminders: delivery via %s failed: %s", e.Channel, e.Message)
}
