// Package domain defines the core business entities and rules of the
// funded-trading challenge ledger.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// ChallengeStatus represents the lifecycle state of a challenge.
type ChallengeStatus string

const (
	ChallengeActive  ChallengeStatus = "active"  // trading allowed, rules evaluated
	ChallengeFailed  ChallengeStatus = "failed"  // a loss limit was breached
	ChallengePassed  ChallengeStatus = "passed"  // profit target reached
	ChallengePending ChallengeStatus = "pending" // set only by an administrator
)

// IsValid returns true for the four recognised statuses.
func (s ChallengeStatus) IsValid() bool {
	switch s {
	case ChallengeActive, ChallengeFailed, ChallengePassed, ChallengePending:
		return true
	}
	return false
}

// Rule thresholds, as fractions of the relevant baseline.
var (
	DailyLossLimit = decimal.NewFromFloat(0.05)
	TotalLossLimit = decimal.NewFromFloat(0.10)
	ProfitTarget   = decimal.NewFromFloat(0.10)
)

// ──────────────────────────────────────────────────────────────────────────────
// Challenge
// ──────────────────────────────────────────────────────────────────────────────

// Challenge is one user's funded-trading account tied to a purchased plan.
type Challenge struct {
	ID              uuid.UUID       `json:"id"               db:"id"`
	UserID          uuid.UUID       `json:"user_id"          db:"user_id"`
	PlanID          uuid.UUID       `json:"plan_id"          db:"plan_id"`
	Status          ChallengeStatus `json:"status"           db:"status"`
	StartingBalance decimal.Decimal `json:"starting_balance" db:"starting_balance"`
	Equity          decimal.Decimal `json:"equity"           db:"equity"`
	DayStartEquity  decimal.Decimal `json:"day_start_equity" db:"day_start_equity"`
	DayStartDate    time.Time       `json:"day_start_date"   db:"day_start_date"` // civil date at 00:00 UTC
	CreatedAt       time.Time       `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"       db:"updated_at"`
}

// NewChallenge builds an active challenge funded with the plan's starting
// balance.  today is the ledger's current civil date.
func NewChallenge(userID uuid.UUID, plan *Plan, today, now time.Time) *Challenge {
	return &Challenge{
		ID:              uuid.New(),
		UserID:          userID,
		PlanID:          plan.ID,
		Status:          ChallengeActive,
		StartingBalance: plan.StartingBalance,
		Equity:          plan.StartingBalance,
		DayStartEquity:  plan.StartingBalance,
		DayStartDate:    today,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsActive returns true while the challenge accepts trades.
func (c *Challenge) IsActive() bool {
	return c.Status == ChallengeActive
}

// Profit returns equity minus the starting balance.
func (c *Challenge) Profit() decimal.Decimal {
	return c.Equity.Sub(c.StartingBalance)
}

// ProfitPct returns Profit as a percentage of the starting balance.
// Returns decimal.Zero when the starting balance is zero.
func (c *Challenge) ProfitPct() decimal.Decimal {
	if c.StartingBalance.IsZero() {
		return decimal.Zero
	}
	return c.Profit().Div(c.StartingBalance).Mul(decimal.NewFromInt(100))
}

// ──────────────────────────────────────────────────────────────────────────────
// Rule evaluation
// ──────────────────────────────────────────────────────────────────────────────

// Evaluate applies the challenge rules for the civil date today and reports
// whether any field changed.
//
// Failed, passed and pending challenges are left untouched. For an active
// challenge the daily baseline is rolled first when today differs from
// DayStartDate, then the thresholds are checked in fixed priority order:
//
//	equity <= dayStartEquity  × (1 - DailyLossLimit) → failed
//	equity <= startingBalance × (1 - TotalLossLimit) → failed
//	equity >= startingBalance × (1 + ProfitTarget)   → passed
func (c *Challenge) Evaluate(today time.Time) bool {
	if c.Status != ChallengeActive {
		return false
	}

	changed := false
	if !SameDate(c.DayStartDate, today) {
		c.DayStartDate = today
		c.DayStartEquity = c.Equity
		changed = true
	}

	one := decimal.NewFromInt(1)
	dailyFloor := c.DayStartEquity.Mul(one.Sub(DailyLossLimit))
	totalFloor := c.StartingBalance.Mul(one.Sub(TotalLossLimit))
	target := c.StartingBalance.Mul(one.Add(ProfitTarget))

	switch {
	case c.Equity.LessThanOrEqual(dailyFloor):
		c.Status = ChallengeFailed
	case c.Equity.LessThanOrEqual(totalFloor):
		c.Status = ChallengeFailed
	case c.Equity.GreaterThanOrEqual(target):
		c.Status = ChallengePassed
	default:
		return changed
	}
	return true
}

// ──────────────────────────────────────────────────────────────────────────────
// Administrative mutations
// ──────────────────────────────────────────────────────────────────────────────

// Reset restarts the challenge from its starting balance and reactivates it.
// Trade history is ignored.
func (c *Challenge) Reset() {
	c.Equity = c.StartingBalance
	c.DayStartEquity = c.StartingBalance
	c.Status = ChallengeActive
}

// AdjustEquity overwrites equity.  Rules are not re-checked.
func (c *Challenge) AdjustEquity(equity decimal.Decimal) {
	c.Equity = equity
}

// SetStatus forces the status.  Used to reactivate terminal challenges, which
// Evaluate never does.
func (c *Challenge) SetStatus(status ChallengeStatus) error {
	if !status.IsValid() {
		return ErrInvalidStatus
	}
	c.Status = status
	return nil
}

// Upgrade moves an active challenge from current to a strictly more expensive
// plan, carrying the accumulated profit over to the new starting balance and
// granting a fresh daily baseline at the new equity.
func (c *Challenge) Upgrade(current, next *Plan) error {
	if !c.IsActive() {
		return ErrChallengeNotActive
	}
	if !next.Price.GreaterThan(current.Price) {
		return ErrPlanNotSuperior
	}
	profit := c.Profit()
	c.PlanID = next.ID
	c.StartingBalance = next.StartingBalance
	c.Equity = next.StartingBalance.Add(profit)
	c.DayStartEquity = c.Equity
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Civil dates
// ──────────────────────────────────────────────────────────────────────────────

// DateOf returns the civil date of t in loc, represented as midnight UTC so it
// round-trips through DATE columns unchanged.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether a and b fall on the same calendar day, compared in
// the location each carries.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ──────────────────────────────────────────────────────────────────────────────
// Read models
// ──────────────────────────────────────────────────────────────────────────────

// LeaderboardEntry is one ranked challenge.
type LeaderboardEntry struct {
	ChallengeID     uuid.UUID       `json:"challenge_id"     db:"id"`
	UserID          uuid.UUID       `json:"user_id"          db:"user_id"`
	Status          ChallengeStatus `json:"status"           db:"status"`
	StartingBalance decimal.Decimal `json:"starting_balance" db:"starting_balance"`
	Equity          decimal.Decimal `json:"equity"           db:"equity"`
	Pct             decimal.Decimal `json:"pct"              db:"-"`
}

// ChallengeStats aggregates the platform-wide view for the back-office.
type ChallengeStats struct {
	Total                 int                     `json:"total"`
	ByStatus              map[ChallengeStatus]int `json:"by_status"`
	ActiveEquity          decimal.Decimal         `json:"active_total_equity"`
	ActiveStartingBalance decimal.Decimal         `json:"active_total_starting_balance"`
}
