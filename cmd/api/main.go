package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalmed/clinic-agenda/internal/api/router"
	"github.com/vitalmed/clinic-agenda/internal/app/bootstrap"
	"github.com/vitalmed/clinic-agenda/internal/appointments"
	"github.com/vitalmed/clinic-agenda/internal/audit"
	appconfig "github.com/vitalmed/clinic-agenda/internal/config"
	"github.com/vitalmed/clinic-agenda/internal/directory"
	"github.com/vitalmed/clinic-agenda/internal/locks"
	"github.com/vitalmed/clinic-agenda/internal/observability/metrics"
	"github.com/vitalmed/clinic-agenda/internal/reminders"
	"github.com/vitalmed/clinic-agenda/internal/schedule"
	"github.com/vitalmed/clinic-agenda/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	pool, err := bootstrap.BuildPgxPool(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	emailSender, err := bootstrap.BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		logger.Error("email sender setup failed", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	agendaMetrics := metrics.NewAgendaMetrics(registry)

	apptStore := appointments.NewStore(pool)
	dirStore := directory.NewStore(pool)
	scheduleStore := schedule.NewStore(pool)
	reminderStore := reminders.NewStore(pool)
	auditSvc := audit.NewService(pool)
	bookingLock := locks.NewBookingLock(redisClient, cfg.BookingLockTTL, logger)

	apptSvc := appointments.NewService(apptStore, dirStore, scheduleStore,
		bookingLock, auditSvc, agendaMetrics, logger)

	dispatcher := reminders.NewDispatcher(emailSender, cfg.ClinicName)
	reminderSvc := reminders.NewService(reminderStore, apptStore, dirStore, dispatcher,
		reminders.ServiceConfig{
			ConfirmDelay:     cfg.DeliveryConfirmDelay,
			RetryBackoff:     cfg.RetryBackoff,
			MaxAttempts:      cfg.MaxDeliveryAttempts,
			SweepBatchSize:   cfg.SweepBatchSize,
			LeadTime:         cfg.ReminderLeadTime,
			AutoCreateWindow: cfg.AutoCreateWindow,
		}, agendaMetrics, logger)

	scheduler := reminders.NewScheduler(reminderSvc, cfg.SweepSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error("reminder scheduler failed to start", "error", err)
		os.Exit(1)
	}

	handler := router.New(&router.Config{
		Logger:              logger,
		AppointmentsHandler: appointments.NewHandler(apptSvc, logger),
		RemindersHandler:    reminders.NewHandler(reminderSvc, logger),
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		WriteRateLimit:      cfg.WriteRateLimit,
		WriteRateBurst:      cfg.WriteRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
