package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// Side is the direction of a position.
type Side string

const (
	SideBuy  Side = "BUY"  // long
	SideSell Side = "SELL" // short
)

// IsValid returns true if the side is BUY or SELL.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide accepts any letter case.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(s)))
	if !side.IsValid() {
		return "", ErrInvalidSide
	}
	return side, nil
}

// TradeStatus is OPEN until the position is closed.  The transition is one-way.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// Market names the price source a trade is valued against.
type Market string

const (
	MarketYahoo   Market = "YAHOO"   // equities / ETFs via the Yahoo chart API
	MarketBinance Market = "BINANCE" // spot crypto pairs
)

// ParseMarket defaults to YAHOO when s is empty.
func ParseMarket(s string) (Market, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return MarketYahoo, nil
	}
	m := Market(s)
	switch m {
	case MarketYahoo, MarketBinance:
		return m, nil
	}
	return "", ErrUnsupportedMarket
}

// ──────────────────────────────────────────────────────────────────────────────
// Trade
// ──────────────────────────────────────────────────────────────────────────────

// Trade is a simulated position inside a challenge.
type Trade struct {
	ID          uuid.UUID        `json:"id"           db:"id"`
	ChallengeID uuid.UUID        `json:"challenge_id" db:"challenge_id"`
	Symbol      string           `json:"symbol"       db:"symbol"`
	Market      Market           `json:"market"       db:"market"`
	Side        Side             `json:"side"         db:"side"`
	Qty         decimal.Decimal  `json:"qty"          db:"qty"`
	EntryPrice  decimal.Decimal  `json:"entry_price"  db:"entry_price"`
	Status      TradeStatus      `json:"status"       db:"status"`
	ExitPrice   *decimal.Decimal `json:"exit_price"   db:"exit_price"` // nil while OPEN
	PnL         *decimal.Decimal `json:"pnl"          db:"pnl"`        // nil while OPEN
	OpenedAt    time.Time        `json:"opened_at"    db:"opened_at"`
	ClosedAt    *time.Time       `json:"closed_at"    db:"closed_at"`
}

// IsOpen returns true until Settle succeeds.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeOpen
}

// Cost is the capital withheld from equity when the position opens.  It is
// the same for both sides.
func (t *Trade) Cost() decimal.Decimal {
	return t.EntryPrice.Mul(t.Qty)
}

// PnLAt returns the realised profit or loss if the position closed at exit.
//
//	BUY:  (exit - entry) × qty
//	SELL: (entry - exit) × qty
func (t *Trade) PnLAt(exit decimal.Decimal) decimal.Decimal {
	if t.Side == SideSell {
		return t.EntryPrice.Sub(exit).Mul(t.Qty)
	}
	return exit.Sub(t.EntryPrice).Mul(t.Qty)
}

// ExitValueAt returns the amount credited back to equity on close.  For a long
// it is the market value of the position; for a short it is the withheld
// margin plus the realised P&L.
func (t *Trade) ExitValueAt(exit decimal.Decimal) decimal.Decimal {
	if t.Side == SideSell {
		return t.Cost().Add(t.PnLAt(exit))
	}
	return exit.Mul(t.Qty)
}

// Settle closes the trade at exit and returns the amount to credit back to
// equity.  A closed trade cannot be settled again.
func (t *Trade) Settle(exit decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if !t.IsOpen() {
		return decimal.Zero, ErrTradeClosed
	}
	pnl := t.PnLAt(exit)
	value := t.ExitValueAt(exit)

	t.Status = TradeClosed
	t.ExitPrice = &exit
	t.PnL = &pnl
	t.ClosedAt = &at
	return value, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Request / result types
// ──────────────────────────────────────────────────────────────────────────────

// OpenRequest is the input to the position manager's Open operation.
type OpenRequest struct {
	ChallengeID uuid.UUID
	UserID      uuid.UUID
	Symbol      string
	Side        Side
	Qty         decimal.Decimal
	Market      Market
}

// Validate checks the request fields that need no stored state.
func (r *OpenRequest) Validate() error {
	if !r.Qty.IsPositive() {
		return ErrInvalidQty
	}
	if !r.Side.IsValid() {
		return ErrInvalidSide
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return ErrInvalidSymbol
	}
	switch r.Market {
	case MarketYahoo, MarketBinance:
	default:
		return ErrUnsupportedMarket
	}
	return nil
}

// OpenResult is returned by a successful Open.
type OpenResult struct {
	TradeID         uuid.UUID       `json:"trade_id"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	RemainingEquity decimal.Decimal `json:"remaining_equity"`
	Trade           *Trade          `json:"trade"`
}

// CloseResult is returned by a successful Close.
type CloseResult struct {
	TradeID         uuid.UUID       `json:"trade_id"`
	ExitPrice       decimal.Decimal `json:"exit_price"`
	PnL             decimal.Decimal `json:"pnl"`
	Equity          decimal.Decimal `json:"equity"`
	ChallengeStatus ChallengeStatus `json:"challenge_status"`
}
