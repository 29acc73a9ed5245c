// Package router assembles the HTTP surface of the clinic agenda service.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vitalmed/clinic-agenda/internal/appointments"
	httpmiddleware "github.com/vitalmed/clinic-agenda/internal/http/middleware"
	"github.com/vitalmed/clinic-agenda/internal/reminders"
	"github.com/vitalmed/clinic-agenda/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	AppointmentsHandler *appointments.Handler
	RemindersHandler    *reminders.Handler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// Write-path rate limiting; zero disables it.
	WriteRateLimit float64
	WriteRateBurst int
}

// New creates a new chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Rate limiting covers the write paths only.
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.WriteRateLimit > 0 {
		limit = httpmiddleware.RateLimit(cfg.WriteRateLimit, cfg.WriteRateBurst)
	}

	if cfg.AppointmentsHandler != nil {
		appts := cfg.AppointmentsHandler
		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", appts.List)
			r.With(limit).Post("/", appts.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", appts.Get)
				r.Get("/reschedules", appts.RescheduleHistory)
				r.With(limit).Patch("/status", appts.UpdateStatus)
				r.With(limit).Post("/reschedule", appts.Reschedule)
				r.With(limit).Post("/cancel", appts.Cancel)
				r.With(limit).Post("/checkin", appts.CheckIn)
				r.With(limit).Post("/pay", appts.Pay)

				if cfg.RemindersHandler != nil {
					r.Get("/reminders", cfg.RemindersHandler.History)
					r.With(limit).Post("/reminders", cfg.RemindersHandler.Create)
					r.With(limit).Delete("/reminders/{reminderID}", cfg.RemindersHandler.Cancel)
				}
			})
		})
	}

	return r
}
