package domain

import (
	"context"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Persistence ports
//
// Implemented by repository.Store (PostgreSQL / SQLite via sqlx) and
// repository.MemoryStore.  Reads on Store see last-committed state only; every
// equity mutation goes through InTx.
// ──────────────────────────────────────────────────────────────────────────────

// ChallengeFilter narrows ListChallenges.  Zero values mean "any".
type ChallengeFilter struct {
	UserID *uuid.UUID
	Status ChallengeStatus
	Limit  int
	Offset int
}

// Store is the read side plus the unit-of-work entry point.
type Store interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	CreatePlan(ctx context.Context, p *Plan) error

	GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error)
	ListChallenges(ctx context.Context, f ChallengeFilter) ([]*Challenge, error)
	ListActiveChallengeIDs(ctx context.Context) ([]uuid.UUID, error)

	GetTrade(ctx context.Context, id uuid.UUID) (*Trade, error)
	ListTrades(ctx context.Context, challengeIDs []uuid.UUID) ([]*Trade, error)

	// Leaderboard returns the top limit challenges by profit percentage.
	Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error)
	Stats(ctx context.Context) (*ChallengeStats, error)

	// InTx runs fn inside one transaction.  fn's error, or a panic, rolls
	// everything back.  fn must not call back into the Store.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side, valid only inside InTx.
type Tx interface {
	// GetChallengeForUpdate loads a challenge and holds its row for the rest
	// of the transaction where the backend supports it.
	GetChallengeForUpdate(ctx context.Context, id uuid.UUID) (*Challenge, error)
	CreateChallenge(ctx context.Context, c *Challenge) error
	UpdateChallenge(ctx context.Context, c *Challenge) error
	DeleteChallenge(ctx context.Context, id uuid.UUID) error

	GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*Trade, error)
	CreateTrade(ctx context.Context, t *Trade) error
	UpdateTrade(ctx context.Context, t *Trade) error
}

// Locker serialises work per key.  The returned func releases the lock and is
// safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
