package reminders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vitalmed/clinic-agenda/internal/appointments"
	"github.com/vitalmed/clinic-agenda/internal/directory"
	"github.com/vitalmed/clinic-agenda/internal/observability/metrics"
	"github.com/vitalmed/clinic-agenda/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.reminders")

// storage is the persistence surface the reminder service needs. *Store
// implements it; tests inject fakes.
type storage interface {
	CreateReminder(ctx context.Context, r *Reminder) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	AppendEvent(ctx context.Context, e *StatusEvent) error
	LatestState(ctx context.Context, reminderID uuid.UUID) (EventState, error)
	EventsByReminder(ctx context.Context, reminderID uuid.UUID) ([]StatusEvent, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]DueItem, error)
	FindConfirmedWithoutReminders(ctx context.Context, now, until time.Time) ([]Candidate, error)
}

// AppointmentSource loads appointments for reminder guards and addressing.
type AppointmentSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
}

// Directory resolves patient and doctor contact details.
type Directory interface {
	PatientByID(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	DoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
}

// Sender delivers a reminder over its channel. *Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, d Delivery) (Result, error)
}

// ServiceConfig tunes delivery confirmation, retry, and sweep behavior.
type ServiceConfig struct {
	ConfirmDelay     time.Duration
	RetryBackoff     time.Duration
	MaxAttempts      int
	SweepBatchSize   int
	LeadTime         time.Duration
	AutoCreateWindow time.Duration
}

func (c *ServiceConfig) applyDefaults() {
	if c.ConfirmDelay <= 0 {
		c.ConfirmDelay = 2 * time.Minute
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 50
	}
	if c.LeadTime <= 0 {
		c.LeadTime = time.Hour
	}
	if c.AutoCreateWindow <= 0 {
		c.AutoCreateWindow = 24 * time.Hour
	}
}

// Service owns the reminder lifecycle: manual creation, event registration,
// cancellation, history, and the two scheduler sweeps.
type Service struct {
	store   storage
	appts   AppointmentSource
	dir     Directory
	sender  Sender
	cfg     ServiceConfig
	metrics *metrics.AgendaMetrics
	logger  *logging.Logger
}

// NewService constructs the reminder service.
func NewService(store storage, appts AppointmentSource, dir Directory, sender Sender,
	cfg ServiceConfig, m *metrics.AgendaMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("reminders: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg.applyDefaults()
	return &Service{
		store:   store,
		appts:   appts,
		dir:     dir,
		sender:  sender,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// RegisterEvent appends one status event to a reminder's log after validating
// the state against the enum.
func (s *Service) RegisterEvent(ctx context.Context, reminderID uuid.UUID, state EventState,
	content string, isCancellation bool) (*StatusEvent, error) {
	if !state.IsValid() {
		return nil, ErrInvalidReminderState
	}
	if _, err := s.store.GetByID(ctx, reminderID); err != nil {
		return nil, err
	}
	e := &StatusEvent{
		ReminderID:     reminderID,
		State:          state,
		Content:        content,
		IsCancellation: isCancellation,
	}
	if err := s.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateManual creates a reminder for an appointment and attempts immediate
// delivery. The reminder is returned even when delivery fails; the failure is
// recorded as an ERROR event and surfaced in the returned error.
func (s *Service) CreateManual(ctx context.Context, appointmentID uuid.UUID, channel Channel) (*Reminder, error) {
	ctx, span := tracer.Start(ctx, "reminders.create_manual")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.channel", string(channel)))

	if !channel.IsValid() {
		return nil, ErrInvalidChannel
	}
	appt, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != appointments.StatusProgramada && appt.Status != appointments.StatusConfirmada {
		return nil, ErrInvalidStatusForReminder
	}

	r := &Reminder{
		AppointmentID: appointmentID,
		Channel:       channel,
		ScheduledFor:  time.Now().UTC(),
	}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.AppendEvent(ctx, &StatusEvent{
		ReminderID: r.ID,
		State:      StatePendiente,
		Content:    "reminder created manually",
	}); err != nil {
		return nil, err
	}
	s.metrics.ObserveReminderCreated("manual")

	d, err := s.buildDelivery(ctx, *r, appt)
	if err != nil {
		s.recordFailure(ctx, r.ID, string(channel), err, 0)
		return r, err
	}
	if err := s.deliver(ctx, d, 0); err != nil {
		return r, err
	}
	return r, nil
}

// Cancel marks a reminder cancelled after verifying it belongs to the
// appointment, appending a CANCELADO event. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, appointmentID, reminderID uuid.UUID, reason string) error {
	r, err := s.store.GetByID(ctx, reminderID)
	if err != nil {
		return err
	}
	if r.AppointmentID != appointmentID {
		return ErrReminderNotFound
	}
	if r.Cancelled {
		return nil
	}
	if err := s.store.AppendEvent(ctx, &StatusEvent{
		ReminderID:     reminderID,
		State:          StateCancelado,
		Content:        reason,
		IsCancellation: true,
	}); err != nil {
		return err
	}
	if err := s.store.MarkCancelled(ctx, reminderID); err != nil {
		return err
	}
	s.logger.Info("reminder cancelled", "reminder_id", reminderID, "reason", reason)
	return nil
}

// History returns an appointment's reminders, most recently scheduled first,
// each with its ordered event log and the state derived from the last event.
func (s *Service) History(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	rs, err := s.store.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	result := make([]History, 0, len(rs))
	for _, r := range rs {
		events, err := s.store.EventsByReminder(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		h := History{Reminder: r, Events: events}
		if len(events) > 0 {
			h.CurrentState = events[len(events)-1].State
		}
		result = append(result, h)
	}
	return result, nil
}

// SweepDue delivers every due reminder once. One item's failure never stops
// the batch. Returns the number of successful deliveries.
func (s *Service) SweepDue(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "reminders.sweep_due")
	defer span.End()
	start := time.Now()
	defer func() {
		s.metrics.ObserveSweepDuration("due", time.Since(start).Seconds())
	}()

	items, err := s.store.ListDue(ctx, time.Now().UTC(), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, it := range items {
		if it.PatientName == "" || it.DoctorName == "" {
			s.logger.Warn("skipping reminder with incomplete joins",
				"reminder_id", it.Reminder.ID, "appointment_id", it.Reminder.AppointmentID)
			s.metrics.ObserveSweepItem("due", "skipped")
			continue
		}
		if it.Attempts >= s.cfg.MaxAttempts {
			s.logger.Error("reminder delivery attempts exhausted",
				"reminder_id", it.Reminder.ID, "attempts", it.Attempts)
			s.metrics.ObserveSweepItem("due", "exhausted")
			continue
		}
		d := Delivery{
			Reminder:     it.Reminder,
			Date:         it.Date,
			StartMins:    it.StartMins,
			Reason:       it.Reason,
			PatientName:  it.PatientName,
			PatientEmail: it.PatientEmail,
			DoctorName:   it.DoctorName,
		}
		if err := s.deliver(ctx, d, it.Attempts); err != nil {
			s.metrics.ObserveSweepItem("due", "error")
			continue
		}
		s.metrics.ObserveSweepItem("due", "sent")
		sent++
	}
	return sent, nil
}

// SweepAutoCreate creates an email reminder for every confirmed appointment
// starting within the auto-create window that has none, scheduled at the lead
// time before the start, only when that instant is still in the future.
// Returns the number of reminders created.
func (s *Service) SweepAutoCreate(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "reminders.sweep_auto_create")
	defer span.End()
	start := time.Now()
	defer func() {
		s.metrics.ObserveSweepDuration("auto", time.Since(start).Seconds())
	}()

	now := time.Now().UTC()
	cands, err := s.store.FindConfirmedWithoutReminders(ctx, now, now.Add(s.cfg.AutoCreateWindow))
	if err != nil {
		return 0, err
	}

	created := 0
	for _, c := range cands {
		sendAt := c.Start().Add(-s.cfg.LeadTime)
		if !sendAt.After(now) {
			continue
		}
		r := &Reminder{
			AppointmentID: c.AppointmentID,
			Channel:       ChannelEmail,
			ScheduledFor:  sendAt,
		}
		if err := s.store.CreateReminder(ctx, r); err != nil {
			s.logger.Error("auto-create reminder failed", "appointment_id", c.AppointmentID, "error", err)
			s.metrics.ObserveSweepItem("auto", "error")
			continue
		}
		if err := s.store.AppendEvent(ctx, &StatusEvent{
			ReminderID: r.ID,
			State:      StatePendiente,
			Content:    "reminder auto-created",
		}); err != nil {
			s.logger.Error("auto-create initial event failed", "reminder_id", r.ID, "error", err)
			s.metrics.ObserveSweepItem("auto", "error")
			continue
		}
		s.metrics.ObserveReminderCreated("auto")
		s.metrics.ObserveSweepItem("auto", "created")
		created++
	}
	return created, nil
}

// buildDelivery resolves patient and doctor contacts for a fresh reminder.
func (s *Service) buildDelivery(ctx context.Context, r Reminder, appt *appointments.Appointment) (Delivery, error) {
	patient, err := s.dir.PatientByID(ctx, appt.PatientID)
	if err != nil {
		return Delivery{}, err
	}
	doctor, err := s.dir.DoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{
		Reminder:     r,
		Date:         appt.Date,
		StartMins:    appt.StartMins,
		Reason:       appt.Reason,
		PatientName:  patient.FullName,
		PatientEmail: patient.Email,
		DoctorName:   doctor.FullName,
	}, nil
}

// deliver runs one delivery attempt and records the outcome in the event log.
// attempts is the count of prior ERROR events.
func (s *Service) deliver(ctx context.Context, d Delivery, attempts int) error {
	res, err := s.sender.Send(ctx, d)
	channel := string(d.Reminder.Channel)
	if err != nil {
		s.metrics.ObserveDelivery(channel, "failed")
		s.recordFailure(ctx, d.Reminder.ID, channel, err, attempts)
		return err
	}

	s.metrics.ObserveDelivery(channel, "sent")
	if err := s.store.AppendEvent(ctx, &StatusEvent{
		ReminderID: d.Reminder.ID,
		State:      StateEnviado,
		Content:    res.Detail,
	}); err != nil {
		return err
	}
	s.logger.Info("reminder sent", "reminder_id", d.Reminder.ID, "channel", channel)
	s.deferConfirm(d.Reminder.ID)
	return nil
}

// recordFailure appends the ERROR event and arms a retry marker when the
// attempt cap allows another round.
func (s *Service) recordFailure(ctx context.Context, reminderID uuid.UUID, channel string, cause error, attempts int) {
	s.logger.Error("reminder delivery failed",
		"reminder_id", reminderID, "channel", channel, "error", cause)
	if err := s.store.AppendEvent(ctx, &StatusEvent{
		ReminderID: reminderID,
		State:      StateError,
		Content:    cause.Error(),
	}); err != nil {
		s.logger.Error("recording delivery failure failed", "reminder_id", reminderID, "error", err)
		return
	}
	if attempts+1 < s.cfg.MaxAttempts {
		s.deferRetry(reminderID)
	} else {
		s.logger.Error("reminder left in ERROR, attempts exhausted",
			"reminder_id", reminderID, "attempts", attempts+1)
	}
}

// deferConfirm appends ENTREGADO after the confirmation delay, unless a later
// event superseded the send. The timer is fire-and-forget; the due sweep is
// the durable fallback.
func (s *Service) deferConfirm(reminderID uuid.UUID) {
	time.AfterFunc(s.cfg.ConfirmDelay, func() {
		ctx := context.Background()
		state, err := s.store.LatestState(ctx, reminderID)
		if err != nil {
			s.logger.Error("delivery confirmation check failed", "reminder_id", reminderID, "error", err)
			return
		}
		if state != StateEnviado {
			return
		}
		if err := s.store.AppendEvent(ctx, &StatusEvent{
			ReminderID: reminderID,
			State:      StateEntregado,
			Content:    "delivery confirmed",
		}); err != nil {
			s.logger.Error("delivery confirmation failed", "reminder_id", reminderID, "error", err)
		}
	})
}

// deferRetry appends a REINTENTO marker after the backoff, re-arming the due
// sweep for the reminder. Skipped when the reminder was cancelled or its state
// moved past ERROR in the meantime.
func (s *Service) deferRetry(reminderID uuid.UUID) {
	time.AfterFunc(s.cfg.RetryBackoff, func() {
		ctx := context.Background()
		r, err := s.store.GetByID(ctx, reminderID)
		if err != nil || r.Cancelled {
			return
		}
		state, err := s.store.LatestState(ctx, reminderID)
		if err != nil || state != StateError {
			return
		}
		if err := s.store.AppendEvent(ctx, &StatusEvent{
			ReminderID: reminderID,
			State:      StateReintento,
			Content:    "retry armed after delivery failure",
		}); err != nil {
			s.logger.Error("arming retry failed", "reminder_id", reminderID, "error", err)
		}
	})
}
