package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// ChallengeService
// ──────────────────────────────────────────────────────────────────────────────

// ChallengeService owns the challenge lifecycle outside of trading: checkout,
// plan upgrades, the administrative mutations and the read models.
type ChallengeService struct {
	ledger
}

// NewChallengeService creates a ChallengeService.
func NewChallengeService(
	store domain.Store,
	locker domain.Locker,
	cfg *config.Config,
	logger *slog.Logger,
) *ChallengeService {
	return &ChallengeService{ledger: newLedger(store, locker, cfg, logger)}
}

// ──────────────────────────────────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────────────────────────────────

// ListPlans returns every plan, cheapest first.
func (s *ChallengeService) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("challenge_service.ListPlans: %w", err)
	}
	return plans, nil
}

// CreatePlan adds a purchasable tier.  Price must be positive and the
// starting balance non-negative.
func (s *ChallengeService) CreatePlan(ctx context.Context, name string, price, startingBalance decimal.Decimal) (*domain.Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: plan name is required", domain.ErrValidation)
	}
	if !price.IsPositive() || startingBalance.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	p := &domain.Plan{
		ID:              uuid.New(),
		Name:            name,
		Price:           price,
		StartingBalance: startingBalance,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("challenge_service.CreatePlan: %w", err)
	}
	s.logger.Info("plan created", "plan_id", p.ID, "name", p.Name, "price", p.Price.String())
	return p, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Checkout
// ──────────────────────────────────────────────────────────────────────────────

// CreateChallenge starts an active challenge on planID for userID, funded
// with the plan's starting balance.  Payment capture happens upstream.
func (s *ChallengeService) CreateChallenge(ctx context.Context, userID, planID uuid.UUID) (*domain.Challenge, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, wrapOp("challenge_service.CreateChallenge", err)
	}

	c := domain.NewChallenge(userID, plan, s.today(), s.now().UTC())
	if err := s.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.CreateChallenge(ctx, c)
	}); err != nil {
		return nil, fmt.Errorf("challenge_service.CreateChallenge: %w", err)
	}

	s.logger.Info("challenge created",
		"challenge_id", c.ID, "user_id", userID, "plan", plan.Name,
		"starting_balance", c.StartingBalance.String())
	s.notify(c)
	return c, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Upgrade
// ──────────────────────────────────────────────────────────────────────────────

// Upgrade moves the caller's active challenge onto a strictly more expensive
// plan.  Profit so far is carried over and the daily baseline restarts at the
// new equity.  Rules are not re-evaluated.
func (s *ChallengeService) Upgrade(ctx context.Context, req domain.UpgradeRequest) (*domain.Challenge, error) {
	if _, err := s.loadOwned(ctx, req.ChallengeID, req.UserID); err != nil {
		return nil, err
	}

	// Plans are immutable, so they can be read before the lock.
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("challenge_service.Upgrade: list plans: %w", err)
	}
	byID := make(map[uuid.UUID]*domain.Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}
	next, ok := byID[req.NewPlanID]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}

	var from *domain.Plan
	c, err := s.mutateChallenge(ctx, req.ChallengeID, func(_ domain.Tx, c *domain.Challenge) error {
		current, ok := byID[c.PlanID]
		if !ok {
			return domain.ErrPlanNotFound
		}
		from = current
		return c.Upgrade(current, next)
	})
	if err != nil {
		return nil, wrapOp("challenge_service.Upgrade", err)
	}

	s.logger.Info("challenge upgraded",
		"challenge_id", c.ID, "from_plan", from.Name, "to_plan", next.Name,
		"equity", c.Equity.String())
	return c, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Administrative mutations
// ──────────────────────────────────────────────────────────────────────────────

// Reset restores equity and the daily baseline to the starting balance and
// reactivates the challenge.  Existing trades are left as they are.
func (s *ChallengeService) Reset(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	c, err := s.mutateChallenge(ctx, id, func(_ domain.Tx, c *domain.Challenge) error {
		c.Reset()
		return nil
	})
	if err != nil {
		return nil, wrapOp("challenge_service.Reset", err)
	}
	s.logger.Info("challenge reset", "challenge_id", id, "equity", c.Equity.String())
	return c, nil
}

// AdjustEquity overwrites equity.  Call Evaluate afterwards to re-check the
// rules.
func (s *ChallengeService) AdjustEquity(ctx context.Context, id uuid.UUID, equity decimal.Decimal) (*domain.Challenge, error) {
	var before decimal.Decimal
	c, err := s.mutateChallenge(ctx, id, func(_ domain.Tx, c *domain.Challenge) error {
		before = c.Equity
		c.AdjustEquity(equity)
		return nil
	})
	if err != nil {
		return nil, wrapOp("challenge_service.AdjustEquity", err)
	}
	s.logger.Info("challenge equity adjusted",
		"challenge_id", id, "from", before.String(), "to", equity.String())
	return c, nil
}

// SetStatus forces any of the four statuses, bypassing the evaluator.
func (s *ChallengeService) SetStatus(ctx context.Context, id uuid.UUID, status domain.ChallengeStatus) (*domain.Challenge, error) {
	if !status.IsValid() {
		return nil, domain.ErrInvalidStatus
	}
	var before domain.ChallengeStatus
	c, err := s.mutateChallenge(ctx, id, func(_ domain.Tx, c *domain.Challenge) error {
		before = c.Status
		return c.SetStatus(status)
	})
	if err != nil {
		return nil, wrapOp("challenge_service.SetStatus", err)
	}
	s.logger.Info("challenge status overridden", "challenge_id", id, "from", before, "to", status)
	return c, nil
}

// Evaluate runs the rule evaluator on challenge id for today and persists
// the outcome.  changed is false when nothing moved, in which case nothing
// is written.
func (s *ChallengeService) Evaluate(ctx context.Context, id uuid.UUID) (c *domain.Challenge, changed bool, err error) {
	today := s.today()
	c, err = s.mutateChallenge(ctx, id, func(_ domain.Tx, c *domain.Challenge) error {
		if !c.Evaluate(today) {
			return errNoChange
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, wrapOp("challenge_service.Evaluate", err)
	}
	if changed {
		s.logger.Info("challenge evaluated", "challenge_id", id, "status", c.Status,
			"equity", c.Equity.String(), "day_start_equity", c.DayStartEquity.String())
	}
	return c, changed, nil
}

// EvaluateAllActive evaluates every active challenge and returns how many
// changed.  A failure on one challenge is logged and does not stop the sweep.
func (s *ChallengeService) EvaluateAllActive(ctx context.Context) (int, error) {
	ids, err := s.store.ListActiveChallengeIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("challenge_service.EvaluateAllActive: %w", err)
	}

	start := time.Now()
	changed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		_, ok, err := s.Evaluate(ctx, id)
		if err != nil {
			s.logger.Warn("sweep: evaluate failed", "challenge_id", id, "err", err)
			continue
		}
		if ok {
			changed++
		}
	}
	s.logger.Info("sweep: done", "active", len(ids), "changed", changed, "took", time.Since(start))
	return changed, nil
}

// DeleteChallenge removes challenge id and all of its trades.
func (s *ChallengeService) DeleteChallenge(ctx context.Context, id uuid.UUID) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.DeleteChallenge(ctx, id)
	}); err != nil {
		return wrapOp("challenge_service.DeleteChallenge", err)
	}
	s.logger.Info("challenge deleted", "challenge_id", id)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read models
// ──────────────────────────────────────────────────────────────────────────────

// GetChallenge returns the caller's challenge.  Someone else's challenge is
// reported as not found.
func (s *ChallengeService) GetChallenge(ctx context.Context, id, userID uuid.UUID) (*domain.Challenge, error) {
	return s.loadOwned(ctx, id, userID)
}

// GetChallengeAdmin returns any challenge.
func (s *ChallengeService) GetChallengeAdmin(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	return s.store.GetChallenge(ctx, id)
}

// ListChallenges returns the caller's challenges, newest first.
func (s *ChallengeService) ListChallenges(ctx context.Context, userID uuid.UUID) ([]*domain.Challenge, error) {
	list, err := s.store.ListChallenges(ctx, domain.ChallengeFilter{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("challenge_service.ListChallenges: %w", err)
	}
	return list, nil
}

// ListAllChallenges is the back-office listing.
func (s *ChallengeService) ListAllChallenges(ctx context.Context, f domain.ChallengeFilter) ([]*domain.Challenge, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, domain.ErrInvalidStatus
	}
	list, err := s.store.ListChallenges(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("challenge_service.ListAllChallenges: %w", err)
	}
	return list, nil
}

// ListTrades returns the caller's trades, newest first.  With challengeID set
// only that challenge is listed, and it must belong to the caller.
func (s *ChallengeService) ListTrades(ctx context.Context, userID uuid.UUID, challengeID *uuid.UUID) ([]*domain.Trade, error) {
	var ids []uuid.UUID
	if challengeID != nil {
		if _, err := s.loadOwned(ctx, *challengeID, userID); err != nil {
			return nil, err
		}
		ids = []uuid.UUID{*challengeID}
	} else {
		list, err := s.ListChallenges(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, c := range list {
			ids = append(ids, c.ID)
		}
	}

	trades, err := s.store.ListTrades(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("challenge_service.ListTrades: %w", err)
	}
	return trades, nil
}

// Leaderboard ranks challenges by profit percentage.  limit <= 0 uses the
// configured size.
func (s *ChallengeService) Leaderboard(ctx context.Context, limit int) ([]*domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = s.cfg.Ledger.LeaderboardSize
	}
	board, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("challenge_service.Leaderboard: %w", err)
	}
	return board, nil
}

// Stats returns the platform-wide counters.
func (s *ChallengeService) Stats(ctx context.Context) (*domain.ChallengeStats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("challenge_service.Stats: %w", err)
	}
	return st, nil
}
