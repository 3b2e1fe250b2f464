// Package scheduler runs the ledger's optional background jobs on a cron
// schedule:
//  1. sweep       – evaluates every active challenge so the daily baseline
//     rolls even without user activity (off by default).
//  2. leaderboard – pushes the current ranking to WS clients.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborators, declared here to keep the scheduler free of service/ws
// imports
// ──────────────────────────────────────────────────────────────────────────────

// Ledger is what the scheduler needs from service.ChallengeService.
type Ledger interface {
	EvaluateAllActive(ctx context.Context) (int, error)
	Leaderboard(ctx context.Context, limit int) ([]*domain.LeaderboardEntry, error)
}

// Broadcaster is implemented by ws.Hub.
type Broadcaster interface {
	BroadcastLeaderboard(entries []*domain.LeaderboardEntry)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns one cron runner.  Call Start(ctx) once from main(); cancel
// the context to shut it down.
type Scheduler struct {
	ledger Ledger
	hub    Broadcaster // optional
	cfg    *config.Config
	logger *slog.Logger
	cron   *cron.Cron
}

// NewScheduler registers the enabled jobs.  A bad cron spec is reported here
// rather than at Start.
func NewScheduler(ledger Ledger, hub Broadcaster, cfg *config.Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Ledger.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		ledger: ledger,
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(cron.WithParser(config.CronParser), cron.WithLocation(loc)),
	}

	if cfg.Scheduler.SweepEnabled {
		if _, err := s.cron.AddFunc(cfg.Scheduler.SweepSpec, s.job("sweep", s.Sweep)); err != nil {
			return nil, fmt.Errorf("scheduler: sweep spec: %w", err)
		}
	}
	if hub != nil && cfg.Scheduler.LeaderboardSpec != "" {
		if _, err := s.cron.AddFunc(cfg.Scheduler.LeaderboardSpec, s.job("leaderboard", s.PushLeaderboard)); err != nil {
			return nil, fmt.Errorf("scheduler: leaderboard spec: %w", err)
		}
	}
	return s, nil
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Start launches the cron runner.  It returns immediately; the runner stops
// when ctx is cancelled, after in-flight jobs finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.Jobs(), "sweep", s.cfg.Scheduler.SweepEnabled)

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler: shut down")
	}()
}

// ──────────────────────────────────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────────────────────────────────

// Sweep evaluates every active challenge once.
func (s *Scheduler) Sweep(ctx context.Context) error {
	changed, err := s.ledger.EvaluateAllActive(ctx)
	if err != nil {
		return err
	}
	if changed > 0 && s.hub != nil {
		return s.PushLeaderboard(ctx)
	}
	return nil
}

// PushLeaderboard sends the configured top N to every WS client.
func (s *Scheduler) PushLeaderboard(ctx context.Context) error {
	if s.hub == nil {
		return nil
	}
	board, err := s.ledger.Leaderboard(ctx, 0)
	if err != nil {
		return err
	}
	s.hub.BroadcastLeaderboard(board)
	return nil
}

// job adapts fn to a cron.FuncJob with its own timeout and panic guard.
func (s *Scheduler) job(name string, fn func(ctx context.Context) error) func() {
	return func() {
		defer s.recoverAndLog(name)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error("scheduler job failed", "job", name, "err", err)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each job to catch unexpected panics, log
// them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(job string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler job",
			"job", job, "panic", r)
	}
}
