/**
 * @description
 * Cron scheduler for the card spend counter resets.
 */
package app

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var errNoJobsScheduled = errors.New("no jobs scheduled")

// SpendResetter is the subset of the repository the reset jobs need.
type SpendResetter interface {
	ResetCardDailySpend(ctx context.Context) (int64, error)
	ResetCardMonthlySpend(ctx context.Context) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo   SpendResetter
	logger *zap.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo SpendResetter, logger *zap.Logger) *Jobs {
	return &Jobs{repo: repo, logger: logger}
}

// ResetDailyCardSpend zeroes every card's daily spend counter.
func (j *Jobs) ResetDailyCardSpend() {
	j.logger.Info("starting card daily spend reset job")
	n, err := j.repo.ResetCardDailySpend(context.Background())
	if err != nil {
		j.logger.Error("failed to reset card daily spend", zap.Error(err))
		return
	}
	j.logger.Info("card daily spend reset job finished", zap.Int64("cards_reset", n))
}

// ResetMonthlyCardSpend zeroes every card's monthly spend counter.
func (j *Jobs) ResetMonthlyCardSpend() {
	j.logger.Info("starting card monthly spend reset job")
	n, err := j.repo.ResetCardMonthlySpend(context.Background())
	if err != nil {
		j.logger.Error("failed to reset card monthly spend", zap.Error(err))
		return
	}
	j.logger.Info("card monthly spend reset job finished", zap.Int64("cards_reset", n))
}

// Schedules holds the cron expressions for each job.
type Schedules struct {
	DailyReset   string
	MonthlyReset string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *zap.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance. Jobs run in UTC.
func NewScheduler(jobs *Jobs, logger *zap.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. An invalid schedule
// is logged and that job is skipped.
func (s *Scheduler) Start() error {
	registered := 0
	if _, err := s.cron.AddFunc(s.schedules.DailyReset, s.jobs.ResetDailyCardSpend); err != nil {
		s.logger.Error("failed to schedule card daily spend reset job", zap.String("schedule", s.schedules.DailyReset), zap.Error(err))
	} else {
		registered++
		s.logger.Info("scheduled card daily spend reset job", zap.String("schedule", s.schedules.DailyReset))
	}

	if _, err := s.cron.AddFunc(s.schedules.MonthlyReset, s.jobs.ResetMonthlyCardSpend); err != nil {
		s.logger.Error("failed to schedule card monthly spend reset job", zap.String("schedule", s.schedules.MonthlyReset), zap.Error(err))
	} else {
		registered++
		s.logger.Info("scheduled card monthly spend reset job", zap.String("schedule", s.schedules.MonthlyReset))
	}

	s.cron.Start()
	if registered == 0 {
		return errNoJobsScheduled
	}
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
