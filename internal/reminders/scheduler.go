package reminders

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/vitalmed/clinic-agenda/pkg/logging"
)

// Scheduler runs the due and auto-creation sweeps on a cron cadence.
type Scheduler struct {
	svc      *Service
	schedule string
	cron     *cron.Cron
	logger   *logging.Logger
}

// NewScheduler wires the sweeps to a cron expression ("@every 5m" style works).
func NewScheduler(svc *Service, schedule string, logger *logging.Logger) *Scheduler {
	if svc == nil {
		panic("reminders: service required")
	}
	if schedule == "" {
		schedule = "@every 5m"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{svc: svc, schedule: schedule, logger: logger}
}

// Start begins the periodic sweeps. Calling Start twice is a no-op.
func (s *Scheduler) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		s.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("reminders: invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("reminder scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts the cron runner and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("reminder scheduler stopped")
}

// RunOnce executes both sweeps a single time. A failing sweep is logged and
// does not block the other.
func (s *Scheduler) RunOnce(ctx context.Context) {
	sent, err := s.svc.SweepDue(ctx)
	if err != nil {
		s.logger.Error("due sweep failed", "error", err)
	} else if sent > 0 {
		s.logger.Info("due sweep completed", "sent", sent)
	}

	created, err := s.svc.SweepAutoCreate(ctx)
	if err != nil {
		s.logger.Error("auto-create sweep failed", "error", err)
	} else if created > 0 {
		s.logger.Info("auto-create sweep completed", "created", created)
	}
}
