package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalmed/clinic-agenda/internal/notify"
)

// Delivery is everything a channel needs to reach the patient.
type Delivery struct {
	Reminder     Reminder
	Date         time.Time
	StartMins    int
	Reason       string
	PatientName  string
	PatientEmail string
	DoctorName   string
}

// Result describes a completed delivery attempt.
type Result struct {
	Detail string
}

// Notifier delivers a reminder over one channel.
type Notifier interface {
	Send(ctx context.Context, d Delivery) (Result, error)
}

// EmailNotifier delivers reminders through the configured email sender.
type EmailNotifier struct {
	sender     notify.EmailSender
	clinicName string
}

// NewEmailNotifier creates the email channel.
func NewEmailNotifier(sender notify.EmailSender, clinicName string) *EmailNotifier {
	return &EmailNotifier{sender: sender, clinicName: clinicName}
}

// Send builds and sends the reminder email.
func (n *EmailNotifier) Send(ctx context.Context, d Delivery) (Result, error) {
	if n.sender == nil {
		return Result{}, &DeliveryError{Channel: ChannelEmail, Message: "no email sender configured"}
	}
	if d.PatientEmail == "" {
		return Result{}, &DeliveryError{Channel: ChannelEmail, Message: "patient has no email address"}
	}
	msg := notify.ReminderEmail(notify.ReminderInfo{
		PatientName:  d.PatientName,
		PatientEmail: d.PatientEmail,
		DoctorName:   d.DoctorName,
		ClinicName:   n.clinicName,
		Date:         d.Date,
		StartMins:    d.StartMins,
		Reason:       d.Reason,
	})
	if err := n.sender.Send(ctx, msg); err != nil {
		return Result{}, &DeliveryError{Channel: ChannelEmail, Message: err.Error()}
	}
	return Result{Detail: fmt.Sprintf("email sent to %s", d.PatientEmail)}, nil
}

// unimplementedNotifier fails deterministically for channels the clinic has
// not contracted yet.
type unimplementedNotifier struct {
	channel Channel
}

func (n unimplementedNotifier) Send(ctx context.Context, d Delivery) (Result, error) {
	return Result{}, &DeliveryError{Channel: n.channel, Message: "channel not implemented"}
}

// Dispatcher routes deliveries to the notifier for their channel.
type Dispatcher struct {
	byChannel map[Channel]Notifier
}

// NewDispatcher wires the standard channel set: email backed by the sender,
// sms and app-notification deterministically unimplemented.
func NewDispatcher(sender notify.EmailSender, clinicName string) *Dispatcher {
	return &Dispatcher{byChannel: map[Channel]Notifier{
		ChannelEmail: NewEmailNotifier(sender, clinicName),
		ChannelSMS:   unimplementedNotifier{channel: ChannelSMS},
		ChannelApp:   unimplementedNotifier{channel: ChannelApp},
	}}
}

// Send dispatches to the delivery's channel.
func (d *Dispatcher) Send(ctx context.Context, del Delivery) (Result, error) {
	n, ok := d.byChannel[del.Reminder.Channel]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidChannel, del.Reminder.Channel)
	}
	return n.Send(ctx, del)
}
