package loans

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/selco13/treasury/pkg/logger"
)

// DefaultSweepSchedule runs the overdue sweep twice a day.
const DefaultSweepSchedule = "@every 12h"

// Sweeper runs SweepOverdue on a cron schedule. It implements the system
// service interface so the application manager owns its lifecycle.
type Sweeper struct {
	svc      *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper constructs a sweeper. An empty schedule uses the default.
func NewSweeper(svc *Service, schedule string, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if log == nil {
		log = logger.NewDefault("loan-sweeper")
	}
	return &Sweeper{svc: svc, schedule: schedule, log: log}
}

// Name implements the system service interface.
func (s *Sweeper) Name() string { return "loan-sweeper" }

// Start schedules the sweep and runs one immediately so a restart never
// stretches the gap between sweeps.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	s.running = true
	c.Start()
	go s.sweep()

	s.log.WithField("schedule", s.schedule).Info("loan sweeper started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		s.log.Warn("loan sweeper stop timed out waiting for in-flight sweep")
	}
	s.log.Info("loan sweeper stopped")
	return nil
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.svc.SweepOverdue(ctx); err != nil {
		s.log.WithError(err).Error("overdue sweep failed")
	}
}
