package appointments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vitalmed/clinic-agenda/internal/locks"
	"github.com/vitalmed/clinic-agenda/internal/schedule"
	"github.com/vitalmed/clinic-agenda/pkg/logging"
)

// Handler exposes the appointment lifecycle over HTTP.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates an appointments handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

type createRequest struct {
	PatientID    uuid.UUID `json:"patient_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	Date         string    `json:"date"`
	StartTime    string    `json:"start_time"`
	DurationMins int       `json:"duration_mins"`
	TypeID       uuid.UUID `json:"type_id"`
	Reason       string    `json:"reason"`
}

// Create handles POST /appointments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	startMins, err := schedule.ParseTimeOfDay(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time, want HH:MM", http.StatusBadRequest)
		return
	}

	actor := actorFromRequest(r)
	a, err := h.svc.Create(r.Context(), CreateInput{
		PatientID:    req.PatientID,
		DoctorID:     req.DoctorID,
		Date:         date,
		StartMins:    startMins,
		DurationMins: req.DurationMins,
		TypeID:       req.TypeID,
		Reason:       req.Reason,
		CreatedBy:    actor.ID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Get handles GET /appointments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// List handles GET /appointments.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var f ListFilter
	q := r.URL.Query()
	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "invalid doctor_id", http.StatusBadRequest)
			return
		}
		f.DoctorID = id
	}
	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "invalid patient_id", http.StatusBadRequest)
			return
		}
		f.PatientID = id
	}
	if v := q.Get("status"); v != "" {
		f.Status = Status(v)
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			http.Error(w, "invalid to date", http.StatusBadRequest)
			return
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}

	appts, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointments": appts,
		"count":        len(appts),
	})
}

type statusRequest struct {
	Status Status `json:"status"`
}

// UpdateStatus handles PATCH /appointments/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := h.svc.UpdateStatus(r.Context(), id, req.Status, actorFromRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type rescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Reason    string `json:"reason"`
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	startMins, err := schedule.ParseTimeOfDay(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time, want HH:MM", http.StatusBadRequest)
		return
	}

	actor := actorFromRequest(r)
	a, err := h.svc.Reschedule(r.Context(), id, RescheduleInput{
		Date:      date,
		StartMins: startMins,
		Reason:    req.Reason,
		Actor:     actor.ID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /appointments/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.Cancel(r.Context(), id, req.Reason, actorFromRequest(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckIn handles POST /appointments/{id}/checkin.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.svc.CheckIn(r.Context(), id, actorFromRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type payRequest struct {
	Payer  string `json:"payer"`
	Method string `json:"method"`
}

// Pay handles POST /appointments/{id}/pay.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.Pay(r.Context(), id, req.Payer, req.Method, actorFromRequest(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RescheduleHistory handles GET /appointments/{id}/reschedules.
func (h *Handler) RescheduleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	records, err := h.svc.RescheduleHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reschedules": records,
		"count":       len(records),
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps domain errors to HTTP statuses: missing references are 404,
// state and slot conflicts are 409, rule violations are 422, the rest 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		nf  *NotFoundError
		ite *InvalidTransitionError
		ise *InvalidStatusError
		nes *NotInExpectedStateError
	)
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.As(err, &ite):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      err.Error(),
			"current":    ite.Current,
			"requested":  ite.Requested,
			"valid_next": ite.ValidNext,
		})
	case errors.As(err, &nes):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    err.Error(),
			"expected": nes.Expected,
			"actual":   nes.Actual,
		})
	case errors.Is(err, ErrAlreadyCheckedIn),
		errors.Is(err, schedule.ErrScheduleConflict),
		errors.Is(err, locks.ErrSlotBusy):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.As(err, &ise),
		errors.Is(err, schedule.ErrNoScheduleForDay),
		errors.Is(err, schedule.ErrOutsideWorkingHours),
		errors.Is(err, ErrInvalidAppointmentType):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	default:
		h.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func actorFromRequest(r *http.Request) Actor {
	return Actor{ID: r.Header.Get("X-Actor-Id"), IP: r.RemoteAddr}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
