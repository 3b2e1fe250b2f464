package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into the ledger services to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Notifier is the minimal interface the ledger needs from the WS hub.
// Implemented by ws.Hub and redis.UpdateBus.
type Notifier interface {
	NotifyChallenge(c *domain.Challenge)
}

// ──────────────────────────────────────────────────────────────────────────────
// ledger: shared plumbing of PositionService and ChallengeService
// ──────────────────────────────────────────────────────────────────────────────

// ledger bundles what every equity mutation needs: the store, the
// per-challenge lock, the ledger clock and the post-commit notifier.
type ledger struct {
	store    domain.Store
	locker   domain.Locker
	cfg      *config.Config
	logger   *slog.Logger
	notifier Notifier // optional, injected after the WS hub is built
	now      func() time.Time
}

func newLedger(store domain.Store, locker domain.Locker, cfg *config.Config, logger *slog.Logger) ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return ledger{
		store:  store,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetNotifier injects the WS Hub dependency post-construction.
func (l *ledger) SetNotifier(n Notifier) { l.notifier = n }

// SetClock replaces the wall clock.  Tests use it to cross day boundaries.
func (l *ledger) SetClock(now func() time.Time) { l.now = now }

// today is the ledger's current civil date in the configured time zone.
func (l *ledger) today() time.Time {
	return domain.DateOf(l.now(), l.cfg.Ledger.Location)
}

// lock acquires the per-challenge lock, waiting at most Lock.WaitTimeout.
func (l *ledger) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	lockCtx := ctx
	if wait := l.cfg.Lock.WaitTimeout; wait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	unlock, err := l.locker.Lock(lockCtx, "challenge:"+id.String())
	if err != nil {
		if errors.Is(err, domain.ErrLockUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrLockUnavailable, err)
	}
	return unlock, nil
}

// errNoChange lets a mutateChallenge callback skip the write.
var errNoChange = errors.New("no change")

// mutateChallenge runs fn on a freshly loaded copy of challenge id under the
// per-challenge lock and inside one transaction, then persists the result.
// fn may write other rows through tx.  Any error rolls everything back;
// errNoChange does too but is not reported.  A committed change is handed to
// the notifier before the lock is released, so updates for one challenge
// are queued in commit order.
func (l *ledger) mutateChallenge(
	ctx context.Context,
	id uuid.UUID,
	fn func(tx domain.Tx, c *domain.Challenge) error,
) (*domain.Challenge, error) {
	unlock, err := l.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *domain.Challenge
	err = l.store.InTx(ctx, func(tx domain.Tx) error {
		c, err := tx.GetChallengeForUpdate(ctx, id)
		if err != nil {
			return err
		}
		out = c
		if err := fn(tx, c); err != nil {
			return err
		}
		return tx.UpdateChallenge(ctx, c)
	})
	if errors.Is(err, errNoChange) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	l.notify(out)
	return out, nil
}

// notify pushes the committed challenge to its owner.  Notifier
// implementations only queue the update (ws.Hub, redis.UpdateBus) and must
// not block.
func (l *ledger) notify(c *domain.Challenge) {
	if l.notifier != nil && c != nil {
		l.notifier.NotifyChallenge(c)
	}
}

// loadOwned returns challenge id when userID owns it.  A foreign challenge is
// reported as not found so its existence is not disclosed.
func (l *ledger) loadOwned(ctx context.Context, id, userID uuid.UUID) (*domain.Challenge, error) {
	c, err := l.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, domain.ErrChallengeNotFound
	}
	return c, nil
}

// wrapOp prefixes infrastructure errors with op.  Domain errors pass through
// unchanged so the HTTP layer can render their message as is.
func wrapOp(op string, err error) error {
	switch {
	case domain.IsNotFound(err), domain.IsValidation(err), domain.IsState(err),
		domain.IsForbidden(err), domain.IsInsufficientFunds(err), domain.IsExternal(err):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
