// Package scheduler runs the periodic jobs: enqueueing per-user credit
// accrual each billing period and pruning finished jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
)

// AccrualEnqueuer queues credit accrual jobs for a billing period.
type AccrualEnqueuer interface {
	EnqueueAccrual(ctx context.Context, period string) (int, error)
}

// JobCleaner prunes finished jobs.
type JobCleaner interface {
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config holds the cron expressions. An empty CleanupSchedule disables
// cleanup.
type Config struct {
	AccrualSchedule string
	CleanupSchedule string
	CleanupAge      time.Duration
	RunTimeout      time.Duration
	Clock           func() time.Time
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	accrual AccrualEnqueuer
	cleaner JobCleaner
	config  Config
}

// New creates a scheduler. cleaner may be nil.
func New(cfg Config, accrual AccrualEnqueuer, cleaner JobCleaner) (*Scheduler, error) {
	if accrual == nil {
		return nil, errors.New("scheduler: accrual enqueuer cannot be nil")
	}
	if cfg.AccrualSchedule == "" {
		return nil, errors.New("scheduler: accrual schedule is required")
	}
	if cfg.CleanupAge <= 0 {
		cfg.CleanupAge = 30 * 24 * time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}

	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	s := &Scheduler{cron: c, accrual: accrual, cleaner: cleaner, config: cfg}

	if _, err := c.AddFunc(cfg.AccrualSchedule, s.runAccrual); err != nil {
		return nil, fmt.Errorf("scheduler: invalid accrual schedule %q: %w", cfg.AccrualSchedule, err)
	}
	log.Printf("[scheduler] scheduled credit accrual (%s)", cfg.AccrualSchedule)

	if cleaner != nil && cfg.CleanupSchedule != "" {
		if _, err := c.AddFunc(cfg.CleanupSchedule, s.runCleanup); err != nil {
			return nil, fmt.Errorf("scheduler: invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
		}
		log.Printf("[scheduler] scheduled job cleanup (%s)", cfg.CleanupSchedule)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many schedules are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// EnqueueAccrual queues accrual jobs for the billing period containing the
// current time.
func (s *Scheduler) EnqueueAccrual(ctx context.Context) (string, int, error) {
	period := engine.BillingPeriod(s.config.Clock())
	n, err := s.accrual.EnqueueAccrual(ctx, period)
	if err != nil {
		return period, n, fmt.Errorf("enqueue accrual for %s: %w", period, err)
	}
	return period, n, nil
}

func (s *Scheduler) runAccrual() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	period, n, err := s.EnqueueAccrual(ctx)
	if err != nil {
		log.Printf("[scheduler] credit accrual run failed: %v", err)
		return
	}
	log.Printf("[scheduler] queued %d credit accrual jobs for %s", n, period)
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	n, err := s.cleaner.CleanupOldJobs(ctx, s.config.CleanupAge)
	if err != nil {
		log.Printf("[scheduler] job cleanup failed: %v", err)
		return
	}
	log.Printf("[scheduler] removed %d finished jobs older than %v", n, s.config.CleanupAge)
}
