// Package cron provides a periodic scheduler that drives the store's
// housekeeping: the once-per-day backup and the retention pruner.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/plantrack/plantrack/internal/migrate"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// DefaultSchedule runs housekeeping nightly, off the busy hours.
const DefaultSchedule = "15 3 * * *"

// Config holds the dependencies for the housekeeping scheduler.
type Config struct {
	Housekeeper *migrate.Housekeeper
	Logger      *slog.Logger
	// CronExpr decides when housekeeping runs; defaults to DefaultSchedule.
	CronExpr string
	// Interval is the tick resolution; defaults to 1 minute.
	Interval time.Duration
	// DailyBackup gates the backup half of housekeeping. Pruning always
	// runs.
	DailyBackup bool
}

// Scheduler fires housekeeping when the cron expression comes due. A fire
// also happens immediately on start so a long-stopped server catches up.
type Scheduler struct {
	housekeeper *migrate.Housekeeper
	logger      *slog.Logger
	cronExpr    string
	interval    time.Duration

	mu          sync.Mutex
	dailyBackup bool
	nextRun     time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cronExpr := cfg.CronExpr
	if cronExpr == "" {
		cronExpr = DefaultSchedule
	}
	return &Scheduler{
		housekeeper: cfg.Housekeeper,
		logger:      logger,
		cronExpr:    cronExpr,
		interval:    interval,
		dailyBackup: cfg.DailyBackup,
	}
}

// SetDailyBackup flips the backup toggle; the config watcher calls this on
// reload.
func (s *Scheduler) SetDailyBackup(enabled bool) {
	s.mu.Lock()
	s.dailyBackup = enabled
	s.mu.Unlock()
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("housekeeping scheduler started", "schedule", s.cronExpr, "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("housekeeping scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then per the cron expression. The daily
	// backup is idempotent per calendar day, so the catch-up fire is safe.
	s.fire(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			due := !s.nextRun.IsZero() && !now.Before(s.nextRun)
			s.mu.Unlock()
			if due {
				s.fire(ctx)
			}
		}
	}
}

// fire runs one housekeeping pass and schedules the next.
func (s *Scheduler) fire(ctx context.Context) {
	s.mu.Lock()
	backup := s.dailyBackup
	s.mu.Unlock()

	if backup {
		b, err := s.housekeeper.DailyBackup(ctx)
		switch {
		case err != nil:
			// Housekeeping failures never take the server down.
			s.logger.Error("daily backup failed", "error", err)
		case b != nil:
			s.logger.Info("daily backup taken", "backup", b.Path)
		}
	}

	pruned := s.housekeeper.Prune(ctx)
	if pruned > 0 {
		s.logger.Info("backups pruned", "count", pruned)
	}

	next, err := NextRunTime(s.cronExpr, time.Now())
	if err != nil {
		s.logger.Error("invalid housekeeping schedule", "schedule", s.cronExpr, "error", err)
		return
	}
	s.mu.Lock()
	s.nextRun = next
	s.mu.Unlock()
	s.logger.Debug("housekeeping scheduled", "next_run_at", next)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
