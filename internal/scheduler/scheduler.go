// Package scheduler runs the periodic ledger jobs on cron specs
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/ledger"
)

// Jobs are the ledger operations run on a schedule
type Jobs interface {
	SweepOverdue(ctx context.Context) (int64, ledger.Outcome, error)
	SendEMIReminders(ctx context.Context) (int, ledger.Outcome, error)
}

// Scheduler owns the cron runner
type Scheduler struct {
	cron   *cron.Cron
	jobs   Jobs
	logger *slog.Logger
}

// New registers the sweep and reminder jobs. Runs of one job never overlap.
func New(cfg *config.SchedulerConfig, jobs Jobs, logger *slog.Logger) (*Scheduler, error) {
	cronLogger := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		jobs:   jobs,
		logger: logger,
	}

	if _, err := s.cron.AddFunc(cfg.SweepSpec, func() { s.RunSweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.ReminderSpec, func() { s.RunReminders(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", cfg.ReminderSpec, err)
	}
	return s, nil
}

// Start runs the jobs until ctx is canceled, then waits for running jobs to finish
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", "jobs", len(s.cron.Entries()))
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info("Scheduler stopping due to context cancellation.")
	<-s.cron.Stop().Done()
}

// RunSweep marks overdue installments once
func (s *Scheduler) RunSweep(ctx context.Context) {
	changed, outcome, err := s.jobs.SweepOverdue(ctx)
	if err != nil {
		s.logger.Error("Scheduled overdue sweep failed", "error", err)
		return
	}
	s.logger.Debug("Scheduled overdue sweep finished", "changed", changed, "degraded", outcome.Degraded)
}

// RunReminders publishes due EMI reminders once
func (s *Scheduler) RunReminders(ctx context.Context) {
	sent, outcome, err := s.jobs.SendEMIReminders(ctx)
	if err != nil {
		s.logger.Error("Scheduled EMI reminders failed", "error", err)
		return
	}
	s.logger.Debug("Scheduled EMI reminders finished", "sent", sent, "degraded", outcome.Degraded)
}

// cronLogger routes cron's own logging to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
