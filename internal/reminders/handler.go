package reminders

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vitalmed/clinic-agenda/internal/appointments"
	"github.com/vitalmed/clinic-agenda/pkg/logging"
)

// Handler exposes reminder operations over HTTP.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a reminders handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

type createReminderRequest struct {
	Channel Channel `json:"channel"`
}

// Create handles POST /appointments/{id}/reminders. The reminder is created
// even when the immediate delivery attempt fails; the response then carries
// the delivery error alongside the reminder.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	apptID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req createReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reminder, err := h.svc.CreateManual(r.Context(), apptID, req.Channel)
	if err != nil {
		var de *DeliveryError
		if reminder != nil && errors.As(err, &de) {
			writeJSON(w, http.StatusCreated, map[string]any{
				"reminder":       reminder,
				"delivery_error": de.Error(),
			})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reminder": reminder})
}

type cancelReminderRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles DELETE /appointments/{id}/reminders/{reminderID}. The reason
// may come in the body or the "reason" query parameter.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	apptID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	reminderID, ok := h.pathID(w, r, "reminderID")
	if !ok {
		return
	}

	var req cancelReminderRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = r.URL.Query().Get("reason")
	}

	if err := h.svc.Cancel(r.Context(), apptID, reminderID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /appointments/{id}/reminders.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	apptID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.svc.History(r.Context(), apptID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reminders": history,
		"count":     len(history),
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

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var nf *appointments.NotFoundError
	switch {
	case errors.Is(err, ErrReminderNotFound), errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, ErrInvalidStatusForReminder):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, ErrInvalidChannel), errors.Is(err, ErrInvalidReminderState):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	default:
		h.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
