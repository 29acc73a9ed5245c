package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalmed/clinic-agenda/internal/audit"
	"github.com/vitalmed/clinic-agenda/internal/directory"
	"github.com/vitalmed/clinic-agenda/internal/schedule"
)

// monday is a known Monday used across slot tests.
var monday = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

type fakeStorage struct {
	appts       map[uuid.UUID]*Appointment
	sameDay     []Appointment
	created     []*Appointment
	reschedules []RescheduleRecord
	checkedIn   bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{appts: make(map[uuid.UUID]*Appointment)}
}

func (f *fakeStorage) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeStorage: no transactions")
}

func (f *fakeStorage) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.DurationMins <= 0 {
		a.DurationMins = 60
	}
	cp := *a
	f.appts[a.ID] = &cp
	f.created = append(f.created, &cp)
	return nil
}

func (f *fakeStorage) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, &NotFoundError{Entity: "appointment", ID: id.String()}
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStorage) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.sameDay {
		if a.ID != excludeID && a.Status != StatusCancelada {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStorage) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	a, ok := f.appts[id]
	if !ok {
		return &NotFoundError{Entity: "appointment", ID: id.String()}
	}
	a.Status = status
	return nil
}

func (f *fakeStorage) CancelWithReason(ctx context.Context, id uuid.UUID, reason string) error {
	a, ok := f.appts[id]
	if !ok {
		return &NotFoundError{Entity: "appointment", ID: id.String()}
	}
	a.Status = StatusCancelada
	a.Reason = a.Reason + "\nCancelación: " + reason
	return nil
}

func (f *fakeStorage) UpdateSlot(ctx context.Context, id uuid.UUID, date time.Time, startMins int) error {
	a, ok := f.appts[id]
	if !ok {
		return &NotFoundError{Entity: "appointment", ID: id.String()}
	}
	a.Date = date
	a.StartMins = startMins
	return nil
}

func (f *fakeStorage) MarkCheckedIn(ctx context.Context, id uuid.UUID, at time.Time, status Status) (bool, error) {
	a, ok := f.appts[id]
	if !ok || a.CheckedInAt != nil {
		return false, nil
	}
	a.CheckedInAt = &at
	a.Status = status
	f.checkedIn = true
	return true, nil
}

func (f *fakeStorage) FinalizePaymentTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	return false, errors.New("fakeStorage: no transactions")
}

func (f *fakeStorage) List(ctx context.Context, fl ListFilter) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.appts {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeStorage) InsertRescheduleRecord(ctx context.Context, r *RescheduleRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	f.reschedules = append(f.reschedules, *r)
	return nil
}

func (f *fakeStorage) RescheduleHistory(ctx context.Context, id uuid.UUID) ([]RescheduleRecord, error) {
	return f.reschedules, nil
}

type fakeDirectory struct {
	patients map[uuid.UUID]*directory.Patient
	doctors  map[uuid.UUID]*directory.Doctor
	types    map[uuid.UUID]*directory.AppointmentType
}

func (f *fakeDirectory) PatientByID(ctx context.Context, id uuid.UUID) (*directory.Patient, error) {
	if p, ok := f.patients[id]; ok {
		return p, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) DoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error) {
	if d, ok := f.doctors[id]; ok {
		return d, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) AppointmentTypeByID(ctx context.Context, id uuid.UUID) (*directory.AppointmentType, error) {
	if t, ok := f.types[id]; ok {
		return t, nil
	}
	return nil, directory.ErrNotFound
}

type fakeWindows struct {
	windows map[string]*schedule.Window
}

func (f *fakeWindows) ActiveWindow(ctx context.Context, doctorID uuid.UUID, weekday string) (*schedule.Window, error) {
	return f.windows[weekday], nil
}

type countingLock struct {
	acquires int
}

func (l *countingLock) Acquire(ctx context.Context, doctorID uuid.UUID, date time.Time) (func(), error) {
	l.acquires++
	return func() {}, nil
}

type fakeAuditor struct {
	events []audit.Event
	err    error
}

func (f *fakeAuditor) Record(ctx context.Context, e audit.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeAuditor) RecordInTx(ctx context.Context, tx pgx.Tx, e audit.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

type fixture struct {
	store   *fakeStorage
	dir     *fakeDirectory
	windows *fakeWindows
	lock    *countingLock
	auditor *fakeAuditor
	svc     *Service

	patientID uuid.UUID
	doctorID  uuid.UUID
	typeID    uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		store:     newFakeStorage(),
		lock:      &countingLock{},
		auditor:   &fakeAuditor{},
		patientID: uuid.New(),
		doctorID:  uuid.New(),
		typeID:    uuid.New(),
	}
	f.dir = &fakeDirectory{
		patients: map[uuid.UUID]*directory.Patient{
			f.patientID: {ID: f.patientID, FullName: "Ana Morales", Email: "ana@example.com"},
		},
		doctors: map[uuid.UUID]*directory.Doctor{
			f.doctorID: {ID: f.doctorID, FullName: "Dr. Reyes", Email: "reyes@clinic.example"},
		},
		types: map[uuid.UUID]*directory.AppointmentType{
			f.typeID: {ID: f.typeID, Name: "Consulta general", Active: true},
		},
	}
	f.windows = &fakeWindows{windows: map[string]*schedule.Window{
		"Monday": {DoctorID: f.doctorID, Weekday: "Monday", StartMins: 8 * 60, EndMins: 12 * 60, Active: true},
	}}
	f.svc = NewService(f.store, f.dir, f.windows, f.lock, f.auditor, nil, nil)
	return f
}

func (f *fixture) createInput() CreateInput {
	return CreateInput{
		PatientID:    f.patientID,
		DoctorID:     f.doctorID,
		Date:         monday,
		StartMins:    9 * 60,
		DurationMins: 60,
		TypeID:       f.typeID,
		Reason:       "control anual",
		CreatedBy:    "reception",
	}
}

func (f *fixture) seed(status Status) *Appointment {
	a := &Appointment{
		PatientID:    f.patientID,
		DoctorID:     f.doctorID,
		Date:         monday,
		StartMins:    9 * 60,
		DurationMins: 60,
		Status:       status,
		TypeID:       f.typeID,
	}
	_ = f.store.Create(context.Background(), a)
	return a
}

func TestCreateSucceedsInsideWindow(t *testing.T) {
	f := newFixture()

	a, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	assert.Equal(t, StatusProgramada, a.Status)
	assert.Equal(t, 60, a.DurationMins)
	assert.Equal(t, 1, f.lock.acquires)
	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, "appointment.create", f.auditor.events[0].Action)
}

func TestCreateRejectsOverlap(t *testing.T) {
	f := newFixture()
	f.store.sameDay = []Appointment{
		{ID: uuid.New(), StartMins: 9 * 60, DurationMins: 60, Status: StatusProgramada},
	}

	in := f.createInput()
	in.StartMins = 9*60 + 30
	in.DurationMins = 30

	_, err := f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, schedule.ErrScheduleConflict)
	assert.Empty(t, f.store.created)
}

func TestCreateRejectsOutsideWorkingHours(t *testing.T) {
	f := newFixture()

	in := f.createInput()
	in.StartMins = 11*60 + 30 // ends 12:30, window closes at 12:00

	_, err := f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, schedule.ErrOutsideWorkingHours)
}

func TestCreateRejectsDayWithoutSchedule(t *testing.T) {
	f := newFixture()

	in := f.createInput()
	in.Date = monday.AddDate(0, 0, 1) // Tuesday, no window configured

	_, err := f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, schedule.ErrNoScheduleForDay)
}

func TestCreateRejectsUnknownReferences(t *testing.T) {
	f := newFixture()

	in := f.createInput()
	in.PatientID = uuid.New()
	_, err := f.svc.Create(context.Background(), in)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "patient", nf.Entity)

	in = f.createInput()
	in.DoctorID = uuid.New()
	_, err = f.svc.Create(context.Background(), in)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "doctor", nf.Entity)
}

func TestCreateRejectsInactiveType(t *testing.T) {
	f := newFixture()
	f.dir.types[f.typeID].Active = false

	_, err := f.svc.Create(context.Background(), f.createInput())
	assert.ErrorIs(t, err, ErrInvalidAppointmentType)
}

func TestCreateSurvivesAuditFailure(t *testing.T) {
	f := newFixture()
	f.auditor.err = errors.New("audit store down")

	a, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	assert.Equal(t, StatusProgramada, a.Status)
}

func TestUpdateStatusRejectedNamesValidNext(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusProgramada)

	_, err := f.svc.UpdateStatus(context.Background(), a.ID, StatusFinalizada, Actor{ID: "admin"})
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusProgramada, ite.Current)
	assert.Equal(t, StatusFinalizada, ite.Requested)
	assert.ElementsMatch(t,
		[]Status{StatusConfirmada, StatusEnConsulta, StatusCancelada, StatusNoAsistio},
		ite.ValidNext)
}

func TestUpdateStatusAccepted(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusProgramada)

	got, err := f.svc.UpdateStatus(context.Background(), a.ID, StatusConfirmada, Actor{ID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmada, got.Status)

	stored, _ := f.store.GetByID(context.Background(), a.ID)
	assert.Equal(t, StatusConfirmada, stored.Status)
}

func TestUpdateStatusNoOpNeverErrors(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusConfirmada)

	got, err := f.svc.UpdateStatus(context.Background(), a.ID, StatusConfirmada, Actor{})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmada, got.Status)
}

func TestUpdateStatusUnknownValue(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusProgramada)

	_, err := f.svc.UpdateStatus(context.Background(), a.ID, Status("LIMBO"), Actor{})
	var ise *InvalidStatusError
	assert.ErrorAs(t, err, &ise)
}

func TestRescheduleTerminalRejected(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusCancelada)

	_, err := f.svc.Reschedule(context.Background(), a.ID, RescheduleInput{
		Date: monday, StartMins: 10 * 60, Reason: "move", Actor: "admin",
	})
	var ise *InvalidStatusError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, StatusCancelada, ise.Status)
}

func TestRescheduleAppendsRecordAndMoves(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusProgramada)

	got, err := f.svc.Reschedule(context.Background(), a.ID, RescheduleInput{
		Date: monday, StartMins: 10 * 60, Reason: "paciente lo pidió", Actor: "reception",
	})
	require.NoError(t, err)
	assert.Equal(t, 10*60, got.StartMins)

	require.Len(t, f.store.reschedules, 1)
	rec := f.store.reschedules[0]
	assert.Equal(t, 9*60, rec.PriorStartMins)
	assert.Equal(t, 10*60, rec.NewStartMins)
	assert.Equal(t, "reception", rec.Actor)
}

func TestRescheduleExcludesSelfFromConflict(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusProgramada)
	// The appointment's own slot is the only booking that day.
	f.store.sameDay = []Appointment{*f.store.appts[a.ID]}

	_, err := f.svc.Reschedule(context.Background(), a.ID, RescheduleInput{
		Date: monday, StartMins: 9*60 + 15, Reason: "shift", Actor: "reception",
	})
	assert.NoError(t, err)
}

func TestCancelFromConsultationRejected(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusEnConsulta)

	err := f.svc.Cancel(context.Background(), a.ID, "no show", Actor{})
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusCancelada, ite.Requested)
}

func TestCancelAppendsReason(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusProgramada)

	require.NoError(t, f.svc.Cancel(context.Background(), a.ID, "viaje", Actor{ID: "patient"}))
	stored, _ := f.store.GetByID(context.Background(), a.ID)
	assert.Equal(t, StatusCancelada, stored.Status)
	assert.Contains(t, stored.Reason, "viaje")
}

func TestCheckInAdvancesOnce(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusConfirmada)

	got, err := f.svc.CheckIn(context.Background(), a.ID, Actor{ID: "reception"})
	require.NoError(t, err)
	assert.Equal(t, StatusEnConsulta, got.Status)
	assert.NotNil(t, got.CheckedInAt)

	_, err = f.svc.CheckIn(context.Background(), a.ID, Actor{ID: "reception"})
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
}

func TestCheckInFromProgramadaAllowed(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusProgramada)

	got, err := f.svc.CheckIn(context.Background(), a.ID, Actor{})
	require.NoError(t, err)
	assert.Equal(t, StatusEnConsulta, got.Status)
}

func TestCheckInWrongStatusRejected(t *testing.T) {
	f := newFixture()
	a := f.seed(StatusPendientePago)

	_, err := f.svc.CheckIn(context.Background(), a.ID, Actor{})
	var ite *InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
}

// Pay runs against a pgxmock-backed store because the status flip and the
// audit write must share one transaction.
func TestPayFinalizesAtomically(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback() // deferred rollback after commit is a no-op server-side

	store := NewStore(mock)
	svc := NewService(store, &fakeDirectory{}, &fakeWindows{}, &countingLock{},
		audit.NewService(mock), nil, nil)

	err = svc.Pay(context.Background(), id, "caja-1", "efectivo", Actor{ID: "cashier"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayRejectsWhenNotAwaitingPayment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, patient_id, doctor_id").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "patient_id", "doctor_id", "appointment_date", "start_mins",
			"duration_mins", "status", "type_id", "reason", "created_by",
			"checked_in_at", "created_at", "updated_at",
		}).AddRow(id, uuid.New(), uuid.New(), monday, 540, 60,
			string(StatusFinalizada), uuid.New(), "", "", nil, now, now))
	mock.ExpectRollback()

	store := NewStore(mock)
	svc := NewService(store, &fakeDirectory{}, &fakeWindows{}, &countingLock{},
		audit.NewService(mock), nil, nil)

	err = svc.Pay(context.Background(), id, "caja-1", "", Actor{})
	var nes *NotInExpectedStateError
	require.ErrorAs(t, err, &nes)
	assert.Equal(t, string(StatusPendientePago), nes.Expected)
	assert.Equal(t, string(StatusFinalizada), nes.Actual)
}
