package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalmed/clinic-agenda/internal/appointments"
	"github.com/vitalmed/clinic-agenda/internal/directory"
)

var monday = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

type fakeStorage struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]*Reminder
	events    map[uuid.UUID][]StatusEvent
	seq       int64

	due        []DueItem
	candidates []Candidate
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		reminders: make(map[uuid.UUID]*Reminder),
		events:    make(map[uuid.UUID][]StatusEvent),
	}
}

func (f *fakeStorage) CreateReminder(ctx context.Context, r *Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	cp := *r
	f.reminders[r.ID] = &cp
	return nil
}

func (f *fakeStorage) GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return nil, ErrReminderNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStorage) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return ErrReminderNotFound
	}
	r.Cancelled = true
	return nil
}

func (f *fakeStorage) AppendEvent(ctx context.Context, e *StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.seq++
	e.Seq = f.seq
	e.CreatedAt = time.Now().UTC()
	f.events[e.ReminderID] = append(f.events[e.ReminderID], *e)
	return nil
}

func (f *fakeStorage) LatestState(ctx context.Context, reminderID uuid.UUID) (EventState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.events[reminderID]
	if len(evs) == 0 {
		return "", nil
	}
	return evs[len(evs)-1].State, nil
}

func (f *fakeStorage) EventsByReminder(ctx context.Context, reminderID uuid.UUID) ([]StatusEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StatusEvent(nil), f.events[reminderID]...), nil
}

func (f *fakeStorage) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reminder
	for _, r := range f.reminders {
		if r.AppointmentID == appointmentID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStorage) ListDue(ctx context.Context, now time.Time, limit int) ([]DueItem, error) {
	return f.due, nil
}

func (f *fakeStorage) FindConfirmedWithoutReminders(ctx context.Context, now, until time.Time) ([]Candidate, error) {
	return f.candidates, nil
}

func (f *fakeStorage) states(reminderID uuid.UUID) []EventState {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EventState
	for _, e := range f.events[reminderID] {
		out = append(out, e.State)
	}
	return out
}

type fakeAppts struct {
	appts map[uuid.UUID]*appointments.Appointment
}

func (f *fakeAppts) GetByID(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, &appointments.NotFoundError{Entity: "appointment", ID: id.String()}
	}
	return a, nil
}

type fakeDir struct {
	patient *directory.Patient
	doctor  *directory.Doctor
}

func (f *fakeDir) PatientByID(ctx context.Context, id uuid.UUID) (*directory.Patient, error) {
	if f.patient == nil {
		return nil, directory.ErrNotFound
	}
	return f.patient, nil
}

func (f *fakeDir) DoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error) {
	if f.doctor == nil {
		return nil, directory.ErrNotFound
	}
	return f.doctor, nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []Delivery
	err    error
	failTo string // fail only when PatientEmail matches
}

func (f *fakeSender) Send(ctx context.Context, d Delivery) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Result{}, f.err
	}
	if f.failTo != "" && d.PatientEmail == f.failTo {
		return Result{}, &DeliveryError{Channel: d.Reminder.Channel, Message: "provider rejected"}
	}
	f.sent = append(f.sent, d)
	return Result{Detail: "sent to " + d.PatientEmail}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type reminderFixture struct {
	store  *fakeStorage
	appts  *fakeAppts
	dir    *fakeDir
	sender *fakeSender
	svc    *Service

	apptID uuid.UUID
}

func newReminderFixture(cfg ServiceConfig) *reminderFixture {
	f := &reminderFixture{
		store:  newFakeStorage(),
		sender: &fakeSender{},
		apptID: uuid.New(),
	}
	f.appts = &fakeAppts{appts: map[uuid.UUID]*appointments.Appointment{
		f.apptID: {
			ID:        f.apptID,
			PatientID: uuid.New(),
			DoctorID:  uuid.New(),
			Date:      monday,
			StartMins: 9 * 60,
			Status:    appointments.StatusConfirmada,
			Reason:    "control",
		},
	}}
	f.dir = &fakeDir{
		patient: &directory.Patient{FullName: "Ana Morales", Email: "ana@example.com"},
		doctor:  &directory.Doctor{FullName: "Dr. Reyes"},
	}
	f.svc = NewService(f.store, f.appts, f.dir, f.sender, cfg, nil, nil)
	return f
}

func TestRegisterEventValidatesState(t *testing.T) {
	f := newReminderFixture(ServiceConfig{})

	_, err := f.svc.RegisterEvent(context.Background(), uuid.New(), EventState("DESPACHADO"), "", false)
	assert.ErrorIs(t, err, ErrInvalidReminderState)

	_, err = f.svc.RegisterEvent(context.Background(), uuid.New(), StateEnviado, "", false)
	assert.ErrorIs(t, err, ErrReminderNotFound)
}

func TestRegisterEventAppendsWithMonotonicSeq(t *testing.T) {
	f := newReminderFixture(ServiceConfig{})
	r := &Reminder{AppointmentID: f.apptID, Channel: ChannelEmail, ScheduledFor: monday}
	require.NoError(t, f.store.CreateReminder(context.Background(), r))

	e1, err := f.svc.RegisterEvent(context.Background(), r.ID, StatePendiente, "queued", false)
	require.NoError(t, err)
	e2, err := f.svc.RegisterEvent(context.Background(), r.ID, StateEnviado, "sent", false)
	require.NoError(t, err)
	assert.Greater(t, e2.Seq, e1.Seq)
}

func TestCreateManualDeliversEmail(t *testing.T) {
	f := newReminderFixture(ServiceConfig{ConfirmDelay: 20 * time.Millisecond})

	r, err := f.svc.CreateManual(context.Background(), f.apptID, ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, []EventState{StatePendiente, StateEnviado}, f.store.states(r.ID))
	assert.Equal(t, 1, f.sender.count())

	// Deferred delivery confirmation lands after the configured delay.
	assert.Eventually(t, func() bool {
		states := f.store.states(r.ID)
		return len(states) == 3 && states[2] == StateEntregado
	}, time.Second, 10*time.Millisecond)
}

func TestCreateManualRejectsBadInput(t *testing.T) {
	f := newReminderFixture(ServiceConfig{})

	_, err := f.svc.CreateManual(context.Background(), f.apptID, Channel("fax"))
	assert.ErrorIs(t, err, ErrInvalidChannel)

	f.appts.appts[f.apptID].Status = appointments.StatusFinalizada
	_, err = f.svc.CreateManual(context.Background(), f.apptID, ChannelEmail)
	assert.ErrorIs(t, err, ErrInvalidStatusForReminder)

	var nf *appointments.NotFoundError
	_, err = f.svc.CreateManual(context.Background(), uuid.New(), ChannelEmail)
	assert.ErrorAs(t, err, &nf)
}

func TestCreateManualUnimplementedChannelRecordsError(t *testing.T) {
	f := newReminderFixture(ServiceConfig{RetryBackoff: 20 * time.Millisecond})
	f.svc.sender = NewDispatcher(nil, "")

	r, err := f.svc.CreateManual(context.Background(), f.apptID, ChannelSMS)
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ChannelSMS, de.Channel)
	require.NotNil(t, r, "reminder is created even when delivery fails")
	assert.Equal(t, []EventState{StatePendiente, StateError}, f.store.states(r.ID))

	// The deferred REINTENTO marker re-arms the reminder for the due sweep.
	assert.Eventually(t, func() bool {
		states := f.store.states(r.ID)
		return len(states) == 3 && states[2] == StateReintento
	}, time.Second, 10*time.Millisecond)
}

func TestRetryNotArmedAtAttemptCap(t *testing.T) {
	f := newReminderFixture(ServiceConfig{RetryBackoff: 10 * time.Millisecond, MaxAttempts: 2})
	f.sender.err = errors.New("smtp unreachable")

	r := Reminder{ID: uuid.New(), AppointmentID: f.apptID, Channel: ChannelEmail}
	cp := r
	f.store.reminders[r.ID] = &cp

	// Second failure reaches the cap of 2 attempts.
	err := f.svc.deliver(context.Background(), Delivery{Reminder: r, PatientEmail: "x@example.com"}, 1)
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []EventState{StateError}, f.store.states(r.ID))
}

func TestCancelChecksOwnership(t *testing.T) {
	f := newReminderFixture(ServiceConfig{})
	r := &Reminder{AppointmentID: f.apptID, Channel: ChannelEmail}
	require.NoError(t, f.store.CreateReminder(context.Background(), r))

	err := f.svc.Cancel(context.Background(), uuid.New(), r.ID, "wrong appointment")
	assert.ErrorIs(t, err, ErrReminderNotFound)

	require.NoError(t, f.svc.Cancel(context.Background(), f.apptID, r.ID, "patient request"))
	got, _ := f.store.GetByID(context.Background(), r.ID)
	assert.True(t, got.Cancelled)

	events, _ := f.store.EventsByReminder(context.Background(), r.ID)
	require.Len(t, events, 1)
	assert.Equal(t, StateCancelado, events[0].State)
	assert.True(t, events[0].IsCancellation)

	// Cancelling again is a no-op, not a second event.
	require.NoError(t, f.svc.Cancel(context.Background(), f.apptID, r.ID, "again"))
	events, _ = f.store.EventsByReminder(context.Background(), r.ID)
	assert.Len(t, events, 1)
}

func TestHistoryDerivesCurrentState(t *testing.T) {
	f := newReminderFixture(ServiceConfig{})
	r := &Reminder{AppointmentID: f.apptID, Channel: ChannelEmail, ScheduledFor: monday}
	require.NoError(t, f.store.CreateReminder(context.Background(), r))
	for _, st := range []EventState{StatePendiente, StateEnviado, StateEntregado} {
		_, err := f.svc.RegisterEvent(context.Background(), r.ID, st, "", false)
		require.NoError(t, err)
	}

	history, err := f.svc.History(context.Background(), f.apptID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StateEntregado, history[0].CurrentState)
	assert.Len(t, history[0].Events, 3)
}

func dueItem(email string) DueItem {
	return DueItem{
		Reminder: Reminder{
			ID:            uuid.New(),
			AppointmentID: uuid.New(),
			Channel:       ChannelEmail,
			ScheduledFor:  time.Now().Add(-time.Minute),
		},
		Date:         monday,
		StartMins:    9 * 60,
		PatientName:  "Ana",
		PatientEmail: email,
		DoctorName:   "Dr. Reyes",
	}
}

func TestSweepDueDeliversBatch(t *testing.T) {
	f := newReminderFixture(ServiceConfig{ConfirmDelay: time.Hour})
	f.store.due = []DueItem{dueItem("a@example.com"), dueItem("b@example.com")}
	for _, it := range f.store.due {
		cp := it.Reminder
		f.store.reminders[cp.ID] = &cp
	}

	sent, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 2, f.sender.count())
}

func TestSweepDueIsolatesFailures(t *testing.T) {
	f := newReminderFixture(ServiceConfig{ConfirmDelay: time.Hour, RetryBackoff: time.Hour})
	bad := dueItem("broken@example.com")
	good := dueItem("ok@example.com")
	f.store.due = []DueItem{bad, good}
	for _, it := range f.store.due {
		cp := it.Reminder
		f.store.reminders[cp.ID] = &cp
	}
	f.sender.failTo = "broken@example.com"

	sent, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []EventState{StateError}, f.store.states(bad.Reminder.ID))
	assert.Equal(t, []EventState{StateEnviado}, f.store.states(good.Reminder.ID))
}

func TestSweepDueSkipsIncompleteAndExhausted(t *testing.T) {
	f := newReminderFixture(ServiceConfig{ConfirmDelay: time.Hour, MaxAttempts: 3})

	orphan := dueItem("orphan@example.com")
	orphan.PatientName = ""
	exhausted := dueItem("tired@example.com")
	exhausted.Attempts = 3
	f.store.due = []DueItem{orphan, exhausted}

	sent, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, f.sender.count())
}

func TestSweepAutoCreateSchedulesAheadOnly(t *testing.T) {
	f := newReminderFixture(ServiceConfig{LeadTime: time.Hour, AutoCreateWindow: 24 * time.Hour})

	soon := time.Now().UTC().Add(30 * time.Minute) // send instant already past
	later := time.Now().UTC().Add(6 * time.Hour)
	f.store.candidates = []Candidate{
		{
			AppointmentID: uuid.New(),
			Date:          time.Date(soon.Year(), soon.Month(), soon.Day(), 0, 0, 0, 0, time.UTC),
			StartMins:     soon.Hour()*60 + soon.Minute(),
		},
		{
			AppointmentID: uuid.New(),
			Date:          time.Date(later.Year(), later.Month(), later.Day(), 0, 0, 0, 0, time.UTC),
			StartMins:     later.Hour()*60 + later.Minute(),
		},
	}

	created, err := f.svc.SweepAutoCreate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	rs, _ := f.store.ListByAppointment(context.Background(), f.store.candidates[1].AppointmentID)
	require.Len(t, rs, 1)
	assert.Equal(t, ChannelEmail, rs[0].Channel)
	assert.Equal(t, []EventState{StatePendiente}, f.store.states(rs[0].ID))

	none, _ := f.store.ListByAppointment(context.Background(), f.store.candidates[0].AppointmentID)
	assert.Empty(t, none)
}
