// Package repository persists plans, challenges and trades.  Store speaks to
// PostgreSQL or SQLite through sqlx; MemoryStore keeps everything in process.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/domain"
)

const (
	planColumns      = `id, name, price, starting_balance, created_at`
	challengeColumns = `id, user_id, plan_id, status, starting_balance, equity,
		day_start_equity, day_start_date, created_at, updated_at`
	tradeColumns = `id, challenge_id, symbol, market, side, qty, entry_price,
		status, exit_price, pnl, opened_at, closed_at`
)

// Store implements domain.Store on top of *sqlx.DB.  Queries are written
// with ? placeholders and rebound for the active driver.
type Store struct {
	db         *sqlx.DB
	lockClause string // " FOR UPDATE" on PostgreSQL, "" on SQLite
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB) *Store {
	s := &Store{db: db}
	if db.DriverName() == "postgres" {
		s.lockClause = " FOR UPDATE"
	}
	return s
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// ──────────────────────────────────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────────────────────────────────

// GetPlan fetches a plan by id.
func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	var p domain.Plan
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`SELECT `+planColumns+` FROM plans WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, fmt.Errorf("store.GetPlan: %w", err)
	}
	return &p, nil
}

// ListPlans returns every plan, cheapest first.
func (s *Store) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	var plans []*domain.Plan
	err := s.db.SelectContext(ctx, &plans, `SELECT `+planColumns+` FROM plans ORDER BY CAST(price AS NUMERIC) ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("store.ListPlans: %w", err)
	}
	return plans, nil
}

// CreatePlan inserts a new plan.
func (s *Store) CreatePlan(ctx context.Context, p *domain.Plan) error {
	query := `
		INSERT INTO plans (id, name, price, starting_balance, created_at)
		VALUES (:id, :name, :price, :starting_balance, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("store.CreatePlan: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Challenges
// ──────────────────────────────────────────────────────────────────────────────

// GetChallenge reads the last committed state of a challenge.
func (s *Store) GetChallenge(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	return getChallenge(ctx, s.db, id, "")
}

// ListChallenges returns challenges matching f, newest first.
func (s *Store) ListChallenges(ctx context.Context, f domain.ChallengeFilter) ([]*domain.Challenge, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `SELECT ` + challengeColumns + ` FROM challenges`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	var list []*domain.Challenge
	if err := s.db.SelectContext(ctx, &list, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store.ListChallenges: %w", err)
	}
	return list, nil
}

// ListActiveChallengeIDs returns the ids of every active challenge.
func (s *Store) ListActiveChallengeIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids,
		s.db.Rebind(`SELECT id FROM challenges WHERE status = ? ORDER BY created_at ASC`),
		string(domain.ChallengeActive))
	if err != nil {
		return nil, fmt.Errorf("store.ListActiveChallengeIDs: %w", err)
	}
	return ids, nil
}

// Leaderboard ranks every challenge by (equity - start) / start.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]*domain.LeaderboardEntry, error) {
	var rows []*domain.LeaderboardEntry
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, user_id, status, starting_balance, equity
		FROM challenges
		ORDER BY (CAST(equity AS NUMERIC) - CAST(starting_balance AS NUMERIC)) * 1.0
		         / NULLIF(CAST(starting_balance AS NUMERIC), 0) DESC,
		         created_at ASC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("store.Leaderboard: %w", err)
	}
	for _, r := range rows {
		r.Pct = leaderboardPct(r.Equity, r.StartingBalance)
	}
	return rows, nil
}

// Stats counts challenges by status and totals the balances of active ones.
func (s *Store) Stats(ctx context.Context) (*domain.ChallengeStats, error) {
	var counts []struct {
		Status domain.ChallengeStatus `db:"status"`
		N      int                    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &counts,
		`SELECT status, COUNT(*) AS n FROM challenges GROUP BY status`); err != nil {
		return nil, fmt.Errorf("store.Stats: counts: %w", err)
	}

	var sums struct {
		Equity   decimal.Decimal `db:"equity"`
		Starting decimal.Decimal `db:"starting"`
	}
	if err := s.db.GetContext(ctx, &sums, s.db.Rebind(`
		SELECT COALESCE(SUM(CAST(equity AS NUMERIC)), 0)           AS equity,
		       COALESCE(SUM(CAST(starting_balance AS NUMERIC)), 0) AS starting
		FROM challenges
		WHERE status = ?`), string(domain.ChallengeActive)); err != nil {
		return nil, fmt.Errorf("store.Stats: sums: %w", err)
	}

	st := newStats()
	for _, c := range counts {
		st.ByStatus[c.Status] = c.N
		st.Total += c.N
	}
	st.ActiveEquity = sums.Equity
	st.ActiveStartingBalance = sums.Starting
	return st, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Trades
// ──────────────────────────────────────────────────────────────────────────────

// GetTrade reads the last committed state of a trade.
func (s *Store) GetTrade(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	return getTrade(ctx, s.db, id, "")
}

// ListTrades returns the trades of the given challenges, newest first.
func (s *Store) ListTrades(ctx context.Context, challengeIDs []uuid.UUID) ([]*domain.Trade, error) {
	if len(challengeIDs) == 0 {
		return []*domain.Trade{}, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+tradeColumns+` FROM trades WHERE challenge_id IN (?) ORDER BY opened_at DESC, id ASC`,
		challengeIDs)
	if err != nil {
		return nil, fmt.Errorf("store.ListTrades: %w", err)
	}
	var trades []*domain.Trade
	if err = s.db.SelectContext(ctx, &trades, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store.ListTrades: %w", err)
	}
	return trades, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Unit of work
// ──────────────────────────────────────────────────────────────────────────────

// InTx runs fn inside a database transaction.  Any error returned by fn, or a
// panic, rolls the transaction back.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.InTx: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqlTx{tx: tx, lockClause: s.lockClause}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store.InTx: commit: %w", err)
	}
	return nil
}

// sqlTx implements domain.Tx.
type sqlTx struct {
	tx         *sqlx.Tx
	lockClause string
}

func (t *sqlTx) GetChallengeForUpdate(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	return getChallenge(ctx, t.tx, id, t.lockClause)
}

func (t *sqlTx) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	query := `
		INSERT INTO challenges
			(id, user_id, plan_id, status, starting_balance, equity,
			 day_start_equity, day_start_date, created_at, updated_at)
		VALUES
			(:id, :user_id, :plan_id, :status, :starting_balance, :equity,
			 :day_start_equity, :day_start_date, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("store.CreateChallenge: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateChallenge(ctx context.Context, c *domain.Challenge) error {
	c.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE challenges
		SET plan_id          = :plan_id,
		    status           = :status,
		    starting_balance = :starting_balance,
		    equity           = :equity,
		    day_start_equity = :day_start_equity,
		    day_start_date   = :day_start_date,
		    updated_at       = :updated_at
		WHERE id = :id`
	res, err := t.tx.NamedExecContext(ctx, query, c)
	if err != nil {
		return fmt.Errorf("store.UpdateChallenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrChallengeNotFound
	}
	return nil
}

func (t *sqlTx) DeleteChallenge(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM trades WHERE challenge_id = ?`), id); err != nil {
		return fmt.Errorf("store.DeleteChallenge: trades: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM challenges WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store.DeleteChallenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrChallengeNotFound
	}
	return nil
}

func (t *sqlTx) GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	return getTrade(ctx, t.tx, id, t.lockClause)
}

func (t *sqlTx) CreateTrade(ctx context.Context, tr *domain.Trade) error {
	query := `
		INSERT INTO trades
			(id, challenge_id, symbol, market, side, qty, entry_price,
			 status, exit_price, pnl, opened_at, closed_at)
		VALUES
			(:id, :challenge_id, :symbol, :market, :side, :qty, :entry_price,
			 :status, :exit_price, :pnl, :opened_at, :closed_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, tr); err != nil {
		return fmt.Errorf("store.CreateTrade: %w", err)
	}
	return nil
}

// UpdateTrade writes the exit fields.  Only an OPEN row is updated, so a
// trade can never be closed twice.
func (t *sqlTx) UpdateTrade(ctx context.Context, tr *domain.Trade) error {
	query := `
		UPDATE trades
		SET status     = :status,
		    exit_price = :exit_price,
		    pnl        = :pnl,
		    closed_at  = :closed_at
		WHERE id = :id AND status = 'OPEN'`
	res, err := t.tx.NamedExecContext(ctx, query, tr)
	if err != nil {
		return fmt.Errorf("store.UpdateTrade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTradeClosed
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Shared helpers
// ──────────────────────────────────────────────────────────────────────────────

func getChallenge(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, lockClause string) (*domain.Challenge, error) {
	var c domain.Challenge
	query := sqlx.Rebind(sqlx.BindType(driverOf(q)), `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`+lockClause)
	if err := sqlx.GetContext(ctx, q, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("store.getChallenge: %w", err)
	}
	return &c, nil
}

func getTrade(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, lockClause string) (*domain.Trade, error) {
	var tr domain.Trade
	query := sqlx.Rebind(sqlx.BindType(driverOf(q)), `SELECT `+tradeColumns+` FROM trades WHERE id = ?`+lockClause)
	if err := sqlx.GetContext(ctx, q, &tr, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, fmt.Errorf("store.getTrade: %w", err)
	}
	return &tr, nil
}

// driverOf returns the driver name of a *sqlx.DB or *sqlx.Tx.
func driverOf(q sqlx.QueryerContext) string {
	if d, ok := q.(interface{ DriverName() string }); ok {
		return d.DriverName()
	}
	return ""
}

func leaderboardPct(equity, start decimal.Decimal) decimal.Decimal {
	if start.IsZero() {
		return decimal.Zero
	}
	return equity.Sub(start).Div(start).Mul(decimal.NewFromInt(100))
}

func newStats() *domain.ChallengeStats {
	st := &domain.ChallengeStats{
		ByStatus:              make(map[domain.ChallengeStatus]int, 4),
		ActiveEquity:          decimal.Zero,
		ActiveStartingBalance: decimal.Zero,
	}
	for _, status := range []domain.ChallengeStatus{
		domain.ChallengeActive, domain.ChallengeFailed, domain.ChallengePassed, domain.ChallengePending,
	} {
		st.ByStatus[status] = 0
	}
	return st
}

// Compile-time interface checks.
var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*sqlTx)(nil)
)
