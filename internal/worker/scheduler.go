/**
 * @description
 * Cron scheduler wiring for the side-effect retry worker.
 */
package worker

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	job      *RetryJob
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(job *RetryJob, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		job:      job,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the retry job and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.job.ProcessDueItems); err != nil {
		s.logger.Error("failed to schedule side-effect retry job", "error", err)
	} else {
		s.logger.Info("scheduled side-effect retry job", "schedule", s.schedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
