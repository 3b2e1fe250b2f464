package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// PositionService
// ──────────────────────────────────────────────────────────────────────────────

// PositionService opens and closes simulated positions against a challenge's
// equity.  Prices are fetched before the per-challenge lock is taken; every
// precondition is re-checked inside the transaction.
type PositionService struct {
	ledger
	oracle PriceOracle
}

// NewPositionService creates a PositionService.
func NewPositionService(
	store domain.Store,
	locker domain.Locker,
	oracle PriceOracle,
	cfg *config.Config,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		ledger: newLedger(store, locker, cfg, logger),
		oracle: oracle,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Open
// ──────────────────────────────────────────────────────────────────────────────

// Open withholds price×qty from equity and records an OPEN trade.
//
// Capital is withheld for both sides, but only a BUY is rejected when the cost
// exceeds equity; a SELL may drive equity negative.  A failed price fetch
// aborts before anything is written.
func (s *PositionService) Open(ctx context.Context, req domain.OpenRequest) (*domain.OpenResult, error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// ── 2. Cheap pre-check, so a dead challenge never costs a price fetch ────
	c, err := s.loadOwned(ctx, req.ChallengeID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive() {
		return nil, domain.ErrChallengeNotActive
	}

	// ── 3. Price (no lock held) ──────────────────────────────────────────────
	price, err := s.oracle.GetPrice(ctx, req.Market, req.Symbol)
	if err != nil {
		return nil, err
	}

	// ── 4. Re-validate and mutate under the lock ─────────────────────────────
	trade := &domain.Trade{
		ID:          uuid.New(),
		ChallengeID: req.ChallengeID,
		Symbol:      req.Symbol,
		Market:      req.Market,
		Side:        req.Side,
		Qty:         req.Qty,
		EntryPrice:  price,
		Status:      domain.TradeOpen,
	}
	cost := trade.Cost()

	c, err = s.mutateChallenge(ctx, req.ChallengeID, func(tx domain.Tx, c *domain.Challenge) error {
		if !c.IsActive() {
			return domain.ErrChallengeNotActive
		}
		if req.Side == domain.SideBuy && cost.GreaterThan(c.Equity) {
			return &domain.InsufficientFundsError{Required: cost, Available: c.Equity}
		}
		c.Equity = c.Equity.Sub(cost)
		trade.OpenedAt = s.now().UTC()
		return tx.CreateTrade(ctx, trade)
	})
	if err != nil {
		return nil, wrapOp("position_service.Open", err)
	}

	s.logger.Info("position opened",
		"challenge_id", c.ID,
		"trade_id", trade.ID,
		"symbol", trade.Symbol,
		"side", trade.Side,
		"qty", trade.Qty.String(),
		"price", price.String(),
		"equity", c.Equity.String(),
	)

	return &domain.OpenResult{
		TradeID:         trade.ID,
		EntryPrice:      price,
		RemainingEquity: c.Equity,
		Trade:           trade,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Close
// ──────────────────────────────────────────────────────────────────────────────

// Close settles an OPEN trade at the current price, credits the exit value to
// equity and runs the rule evaluator, all in one transaction.
func (s *PositionService) Close(ctx context.Context, tradeID, callerID uuid.UUID) (*domain.CloseResult, error) {
	// ── 1. Ownership and state pre-checks ────────────────────────────────────
	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetChallenge(ctx, trade.ChallengeID)
	if err != nil {
		return nil, err
	}
	if c.UserID != callerID {
		return nil, domain.ErrNotOwner
	}
	if !trade.IsOpen() {
		return nil, domain.ErrTradeClosed
	}

	// ── 2. Price (no lock held) ──────────────────────────────────────────────
	exit, err := s.oracle.GetPrice(ctx, trade.Market, trade.Symbol)
	if err != nil {
		return nil, err
	}

	// ── 3. Settle, credit, evaluate ──────────────────────────────────────────
	var pnl decimal.Decimal
	today := s.today()
	c, err = s.mutateChallenge(ctx, trade.ChallengeID, func(tx domain.Tx, c *domain.Challenge) error {
		locked, err := tx.GetTradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}
		value, err := locked.Settle(exit, s.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.UpdateTrade(ctx, locked); err != nil {
			return err
		}
		pnl = *locked.PnL
		c.Equity = c.Equity.Add(value)
		c.Evaluate(today)
		return nil
	})
	if err != nil {
		return nil, wrapOp("position_service.Close", err)
	}

	s.logger.Info("position closed",
		"challenge_id", c.ID,
		"trade_id", tradeID,
		"exit_price", exit.String(),
		"pnl", pnl.String(),
		"equity", c.Equity.String(),
		"status", c.Status,
	)

	return &domain.CloseResult{
		TradeID:         tradeID,
		ExitPrice:       exit,
		PnL:             pnl,
		Equity:          c.Equity,
		ChallengeStatus: c.Status,
	}, nil
}
