package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vitalmed/clinic-agenda/internal/audit"
	"github.com/vitalmed/clinic-agenda/internal/directory"
	"github.com/vitalmed/clinic-agenda/internal/observability/metrics"
	"github.com/vitalmed/clinic-agenda/internal/schedule"
	"github.com/vitalmed/clinic-agenda/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.appointments")

// Directory resolves patient, doctor, and appointment-type references.
type Directory interface {
	PatientByID(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	DoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	AppointmentTypeByID(ctx context.Context, id uuid.UUID) (*directory.AppointmentType, error)
}

// WindowSource looks up a doctor's active schedule window for a weekday.
type WindowSource interface {
	ActiveWindow(ctx context.Context, doctorID uuid.UUID, weekday string) (*schedule.Window, error)
}

// SlotLocker serializes booking writes per (doctor, date).
type SlotLocker interface {
	Acquire(ctx context.Context, doctorID uuid.UUID, date time.Time) (func(), error)
}

// AuditSink records business mutations for operator review.
type AuditSink interface {
	Record(ctx context.Context, e audit.Event) error
	RecordInTx(ctx context.Context, tx pgx.Tx, e audit.Event) error
}

// Actor identifies who triggered a mutation and from where.
type Actor struct {
	ID string
	IP string
}

// storage is the persistence surface the lifecycle service needs. *Store
// implements it; tests inject fakes.
type storage interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	CancelWithReason(ctx context.Context, id uuid.UUID, reason string) error
	UpdateSlot(ctx context.Context, id uuid.UUID, date time.Time, startMins int) error
	MarkCheckedIn(ctx context.Context, id uuid.UUID, at time.Time, status Status) (bool, error)
	FinalizePaymentTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	List(ctx context.Context, f ListFilter) ([]Appointment, error)
	InsertRescheduleRecord(ctx context.Context, r *RescheduleRecord) error
	RescheduleHistory(ctx context.Context, id uuid.UUID) ([]RescheduleRecord, error)
}

// Service orchestrates the appointment lifecycle: guarded status transitions,
// conflict-checked booking, and audit emission.
type Service struct {
	store   storage
	dir     Directory
	windows WindowSource
	lock    SlotLocker
	auditor AuditSink
	metrics *metrics.AgendaMetrics
	logger  *logging.Logger
}

// NewService constructs the lifecycle service.
func NewService(store storage, dir Directory, windows WindowSource, lock SlotLocker,
	auditor AuditSink, m *metrics.AgendaMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:   store,
		dir:     dir,
		windows: windows,
		lock:    lock,
		auditor: auditor,
		metrics: m,
		logger:  logger,
	}
}

// Create books a new appointment in PROGRAMADA after reference and schedule
// validation. The conflict check and the insert run under the (doctor, date)
// lock.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.doctor_id", in.DoctorID.String()),
		attribute.String("clinic.date", in.Date.Format(time.DateOnly)),
	)

	if _, err := s.dir.PatientByID(ctx, in.PatientID); err != nil {
		return nil, refError(err, "patient", in.PatientID)
	}
	if _, err := s.dir.DoctorByID(ctx, in.DoctorID); err != nil {
		return nil, refError(err, "doctor", in.DoctorID)
	}
	apptType, err := s.dir.AppointmentTypeByID(ctx, in.TypeID)
	if err != nil {
		return nil, refError(err, "appointment type", in.TypeID)
	}
	if !apptType.Active {
		return nil, ErrInvalidAppointmentType
	}

	release, err := s.lock.Acquire(ctx, in.DoctorID, in.Date)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validateSlot(ctx, in.DoctorID, in.Date, in.StartMins, in.DurationMins, uuid.Nil); err != nil {
		span.RecordError(err)
		return nil, err
	}

	a := &Appointment{
		PatientID:    in.PatientID,
		DoctorID:     in.DoctorID,
		Date:         in.Date,
		StartMins:    in.StartMins,
		DurationMins: in.DurationMins,
		Status:       StatusProgramada,
		TypeID:       in.TypeID,
		Reason:       in.Reason,
		CreatedBy:    in.CreatedBy,
	}
	if err := s.store.Create(ctx, a); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("appointment created",
		"id", a.ID, "doctor_id", a.DoctorID, "patient_id", a.PatientID,
		"date", a.Date.Format(time.DateOnly), "start", schedule.FormatTimeOfDay(a.StartMins))
	s.emitAudit(ctx, Actor{ID: in.CreatedBy}, a.ID, "appointment.create",
		fmt.Sprintf("booked %s %s for %d min", a.Date.Format(time.DateOnly),
			schedule.FormatTimeOfDay(a.StartMins), a.DurationMins))
	return a, nil
}

// UpdateStatus applies a guarded status transition. A rejected transition
// names the current status and the exhaustive valid-next set. Requesting the
// current status is a permitted no-op; the write is still issued.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, requested Status, actor Actor) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.update_status")
	defer span.End()

	if !requested.IsValid() {
		return nil, &InvalidStatusError{Status: requested}
	}
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, requested) {
		s.metrics.ObserveTransitionRejected(string(a.Status), string(requested))
		return nil, &InvalidTransitionError{
			Current:   a.Status,
			Requested: requested,
			ValidNext: ValidTransitions(a.Status),
		}
	}
	if err := s.store.UpdateStatus(ctx, id, requested); err != nil {
		return nil, err
	}
	prior := a.Status
	a.Status = requested

	s.logger.Info("appointment status updated", "id", id, "from", prior, "to", requested)
	s.emitAudit(ctx, actor, id, "appointment.status",
		fmt.Sprintf("status %s -> %s", prior, requested))
	return a, nil
}

// Reschedule moves an appointment to a new slot, re-validating against the
// doctor's schedule while excluding the appointment itself, and appends an
// immutable reschedule record holding the prior slot.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, in RescheduleInput) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.reschedule")
	defer span.End()

	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, &InvalidStatusError{Status: a.Status}
	}

	release, err := s.lock.Acquire(ctx, a.DoctorID, in.Date)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validateSlot(ctx, a.DoctorID, in.Date, in.StartMins, a.DurationMins, a.ID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	record := &RescheduleRecord{
		AppointmentID:  a.ID,
		PriorDate:      a.Date,
		PriorStartMins: a.StartMins,
		NewDate:        in.Date,
		NewStartMins:   in.StartMins,
		Reason:         in.Reason,
		Actor:          in.Actor,
	}
	if err := s.store.InsertRescheduleRecord(ctx, record); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSlot(ctx, id, in.Date, in.StartMins); err != nil {
		return nil, err
	}
	a.Date = in.Date
	a.StartMins = in.StartMins

	s.logger.Info("appointment rescheduled", "id", id,
		"date", in.Date.Format(time.DateOnly), "start", schedule.FormatTimeOfDay(in.StartMins))
	s.emitAudit(ctx, Actor{ID: in.Actor}, id, "appointment.reschedule",
		fmt.Sprintf("moved from %s %s to %s %s: %s",
			record.PriorDate.Format(time.DateOnly), schedule.FormatTimeOfDay(record.PriorStartMins),
			in.Date.Format(time.DateOnly), schedule.FormatTimeOfDay(in.StartMins), in.Reason))
	return a, nil
}

// Cancel sets CANCELADA when the transition is legal and appends the reason to
// the appointment's free-text field.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) error {
	ctx, span := tracer.Start(ctx, "appointments.cancel")
	defer span.End()

	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(a.Status, StatusCancelada) {
		s.metrics.ObserveTransitionRejected(string(a.Status), string(StatusCancelada))
		return &InvalidTransitionError{
			Current:   a.Status,
			Requested: StatusCancelada,
			ValidNext: ValidTransitions(a.Status),
		}
	}
	if err := s.store.CancelWithReason(ctx, id, reason); err != nil {
		return err
	}

	s.logger.Info("appointment cancelled", "id", id, "reason", reason)
	s.emitAudit(ctx, actor, id, "appointment.cancel", "cancelled: "+reason)
	return nil
}

// CheckIn marks patient arrival. Allowed once, from PROGRAMADA or CONFIRMADA,
// and advances the appointment to EN_CONSULTA.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.check_in")
	defer span.End()

	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.CheckedInAt != nil {
		return nil, ErrAlreadyCheckedIn
	}
	if a.Status != StatusProgramada && a.Status != StatusConfirmada {
		return nil, &InvalidTransitionError{
			Current:   a.Status,
			Requested: StatusEnConsulta,
			ValidNext: ValidTransitions(a.Status),
		}
	}

	now := time.Now().UTC()
	ok, err := s.store.MarkCheckedIn(ctx, id, now, StatusEnConsulta)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with a concurrent check-in.
		return nil, ErrAlreadyCheckedIn
	}
	a.CheckedInAt = &now
	a.Status = StatusEnConsulta

	s.logger.Info("appointment checked in", "id", id)
	s.emitAudit(ctx, actor, id, "appointment.checkin", "patient checked in")
	return a, nil
}

// Pay finalizes an appointment awaiting payment. The status flip and its audit
// record commit in one transaction: either both land or the appointment stays
// PENDIENTE_PAGO.
func (s *Service) Pay(ctx context.Context, id uuid.UUID, payer string, meta string, actor Actor) error {
	ctx, span := tracer.Start(ctx, "appointments.pay")
	defer span.End()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ok, err := s.store.FinalizePaymentTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok {
		a, loadErr := s.store.GetByID(ctx, id)
		if loadErr != nil {
			return loadErr
		}
		return &NotInExpectedStateError{
			Entity:   "appointment",
			Expected: string(StatusPendientePago),
			Actual:   string(a.Status),
		}
	}

	desc := fmt.Sprintf("payment registered by %s", payer)
	if meta != "" {
		desc += " (" + meta + ")"
	}
	if err := s.auditor.RecordInTx(ctx, tx, audit.Event{
		ActorID:     actor.ID,
		TargetID:    id.String(),
		Action:      "appointment.pay",
		Description: desc,
		OriginIP:    actor.IP,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit payment: %w", err)
	}

	s.logger.Info("appointment paid", "id", id, "payer", payer)
	return nil
}

// Get loads one appointment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.GetByID(ctx, id)
}

// List returns appointments matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	return s.store.List(ctx, f)
}

// RescheduleHistory returns an appointment's reschedule entries, oldest first.
func (s *Service) RescheduleHistory(ctx context.Context, id uuid.UUID) ([]RescheduleRecord, error) {
	return s.store.RescheduleHistory(ctx, id)
}

// validateSlot runs the schedule window and conflict checks for a candidate
// slot. Callers hold the (doctor, date) lock.
func (s *Service) validateSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, startMins, durationMins int, excludeID uuid.UUID) error {
	window, err := s.windows.ActiveWindow(ctx, doctorID, schedule.WeekdayName(date))
	if err != nil {
		return err
	}
	if err := schedule.FitsWindow(window, startMins, durationMins); err != nil {
		return err
	}

	existing, err := s.store.ListByDoctorDate(ctx, doctorID, date, excludeID)
	if err != nil {
		return err
	}
	bookings := make([]schedule.Booking, 0, len(existing))
	for _, e := range existing {
		bookings = append(bookings, schedule.Booking{
			ID:           e.ID,
			StartMins:    e.StartMins,
			DurationMins: e.DurationMins,
			Cancelled:    e.Status == StatusCancelada,
		})
	}
	return schedule.FindConflict(startMins, durationMins, bookings, excludeID)
}

// emitAudit records a best-effort audit event. Failures are logged and counted
// but never abort the mutation that triggered them.
func (s *Service) emitAudit(ctx context.Context, actor Actor, target uuid.UUID, action, description string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Record(ctx, audit.Event{
		ActorID:     actor.ID,
		TargetID:    target.String(),
		Action:      action,
		Description: description,
		OriginIP:    actor.IP,
	})
	if err != nil {
		s.metrics.ObserveAuditFailure()
		s.logger.Error("audit write failed after mutation",
			"action", action, "target", target, "error", err)
	}
}

func refError(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, directory.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id.String()}
	}
	return err
}
