package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Scheduler runs the sweep and retention passes on their cron
// schedules. Schedules use standard five-field cron expressions.
type Scheduler struct {
	sweeper   *Sweeper
	retention *Retention
	cron      *cronlib.Cron
	logger    *slog.Logger
}

// NewScheduler wires the sweeper and retention purger onto their cron
// expressions. Either component may be nil to skip its schedule.
func NewScheduler(sweeper *Sweeper, retention *Retention, sweepSchedule, retentionSchedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		sweeper:   sweeper,
		retention: retention,
		cron:      cronlib.New(),
		logger:    logger,
	}

	if sweeper != nil {
		if _, err := s.cron.AddFunc(sweepSchedule, s.runSweep); err != nil {
			return nil, fmt.Errorf("recovery: sweep schedule %q: %w", sweepSchedule, err)
		}
	}
	if retention != nil {
		if _, err := s.cron.AddFunc(retentionSchedule, s.runRetention); err != nil {
			return nil, fmt.Errorf("recovery: retention schedule %q: %w", retentionSchedule, err)
		}
	}
	return s, nil
}

// Start begins firing scheduled passes. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	s.logger.Info("recovery scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish or
// the context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.logger.Info("recovery scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Error("scheduled sweep failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.retention.Run(ctx); err != nil {
		s.logger.Error("scheduled retention purge failed", slog.String("error", err.Error()))
	}
}
