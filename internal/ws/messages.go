// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/domain"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeChallengeUpdate MsgType = "challenge_update"
	MsgTypeLeaderboard     MsgType = "leaderboard"
)

// ──────────────────────────────────────────────────────────────────────────────
// ChallengeUpdateMessage: sent to the owner after every committed mutation.
// ──────────────────────────────────────────────────────────────────────────────

// ChallengeUpdateMessage carries the balance fields and status of one
// challenge.  UpdatedAt is the commit time; a client holding a newer snapshot
// can drop an older one.
type ChallengeUpdateMessage struct {
	Type            MsgType                `json:"type"`
	ChallengeID     uuid.UUID              `json:"challenge_id"`
	Status          domain.ChallengeStatus `json:"status"`
	StartingBalance decimal.Decimal        `json:"starting_balance"`
	Equity          decimal.Decimal        `json:"equity"`
	DayStartEquity  decimal.Decimal        `json:"day_start_equity"`
	ProfitPct       decimal.Decimal        `json:"profit_pct"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Timestamp       time.Time              `json:"timestamp"`
}

// NewChallengeUpdate builds the message for c.
func NewChallengeUpdate(c *domain.Challenge) ChallengeUpdateMessage {
	return ChallengeUpdateMessage{
		Type:            MsgTypeChallengeUpdate,
		ChallengeID:     c.ID,
		Status:          c.Status,
		StartingBalance: c.StartingBalance,
		Equity:          c.Equity,
		DayStartEquity:  c.DayStartEquity,
		ProfitPct:       c.ProfitPct().Round(2),
		UpdatedAt:       c.UpdatedAt,
		Timestamp:       time.Now().UTC(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// LeaderboardMessage: broadcast to everyone after a sweep.
// ──────────────────────────────────────────────────────────────────────────────

// LeaderboardMessage carries the current top challenges.
type LeaderboardMessage struct {
	Type      MsgType                    `json:"type"`
	Entries   []*domain.LeaderboardEntry `json:"entries"`
	Timestamp time.Time                  `json:"timestamp"`
}
