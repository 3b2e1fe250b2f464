package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradesense/challenge/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Round trips
// ──────────────────────────────────────────────────────────────────────────────

func TestPosition_RoundTrips(t *testing.T) {
	cases := []struct {
		name       string
		side       domain.Side
		exit       string
		wantPnL    string
		wantEquity string
	}{
		{"long profit", domain.SideBuy, "155", "50", "5050"},
		{"long loss", domain.SideBuy, "145", "-50", "4950"},
		{"short profit", domain.SideSell, "145", "50", "5050"},
		{"short loss", domain.SideSell, "155", "-50", "4950"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			forEachStore(t, func(t *testing.T, f *fixture) {
				c := f.newChallenge(t)

				opened := f.open(t, c, tc.side, 10)
				assert.True(t, opened.EntryPrice.Equal(dec("150")))
				assert.True(t, opened.RemainingEquity.Equal(dec("3500")), "equity after open = %s", opened.RemainingEquity)

				f.oracle.set("AAPL", tc.exit)
				closed, err := f.positions.Close(context.Background(), opened.TradeID, c.UserID)
				require.NoError(t, err)
				assert.True(t, closed.PnL.Equal(dec(tc.wantPnL)), "pnl = %s", closed.PnL)
				assert.True(t, closed.Equity.Equal(dec(tc.wantEquity)), "equity = %s", closed.Equity)
				assert.True(t, closed.ExitPrice.Equal(dec(tc.exit)))
				assert.Equal(t, domain.ChallengeActive, closed.ChallengeStatus)

				stored, err := f.store.GetTrade(context.Background(), opened.TradeID)
				require.NoError(t, err)
				assert.Equal(t, domain.TradeClosed, stored.Status)
				require.NotNil(t, stored.ClosedAt)
				assert.True(t, f.reload(t, c.ID).Equity.Equal(dec(tc.wantEquity)))
			})
		})
	}
}

func TestPosition_OpenNormalisesSymbol(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)

	res, err := f.positions.Open(context.Background(), domain.OpenRequest{
		ChallengeID: c.ID, UserID: c.UserID, Symbol: "  aapl ",
		Side: domain.SideBuy, Qty: dec("0.5"), Market: domain.MarketYahoo,
	})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Trade.Symbol)
	assert.True(t, res.RemainingEquity.Equal(dec("4925")))
}

// ──────────────────────────────────────────────────────────────────────────────
// Open failures
// ──────────────────────────────────────────────────────────────────────────────

func TestPosition_BuyInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)

	_, err := f.positions.Open(context.Background(), domain.OpenRequest{
		ChallengeID: c.ID, UserID: c.UserID, Symbol: "AAPL",
		Side: domain.SideBuy, Qty: decimal.NewFromInt(40), Market: domain.MarketYahoo,
	})
	require.Error(t, err)
	assert.True(t, domain.IsInsufficientFunds(err))

	var ife *domain.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.True(t, ife.Required.Equal(dec("6000")))
	assert.True(t, ife.Available.Equal(dec("5000")))

	assert.True(t, f.reload(t, c.ID).Equity.Equal(dec("5000")))
	trades, err := f.challenges.ListTrades(context.Background(), c.UserID, &c.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPosition_BuyExactlyEquityAllowed(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)
	f.oracle.set("AAPL", "500")

	res := f.open(t, c, domain.SideBuy, 10)
	assert.True(t, res.RemainingEquity.IsZero())
}

// A SELL is never checked against equity, so it can go negative.
func TestPosition_SellSkipsFundsCheck(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)

	res := f.open(t, c, domain.SideSell, 40)
	assert.True(t, res.RemainingEquity.Equal(dec("-1000")), "equity = %s", res.RemainingEquity)
}

func TestPosition_OpenRejections(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)
	ctx := context.Background()

	base := domain.OpenRequest{
		ChallengeID: c.ID, UserID: c.UserID, Symbol: "AAPL",
		Side: domain.SideBuy, Qty: decimal.NewFromInt(1), Market: domain.MarketYahoo,
	}

	cases := []struct {
		name  string
		tweak func(r *domain.OpenRequest)
		check func(error) bool
	}{
		{"zero qty", func(r *domain.OpenRequest) { r.Qty = decimal.Zero }, domain.IsValidation},
		{"negative qty", func(r *domain.OpenRequest) { r.Qty = dec("-1") }, domain.IsValidation},
		{"bad side", func(r *domain.OpenRequest) { r.Side = "HOLD" }, domain.IsValidation},
		{"empty symbol", func(r *domain.OpenRequest) { r.Symbol = " " }, domain.IsValidation},
		{"bad market", func(r *domain.OpenRequest) { r.Market = "BVC" }, domain.IsValidation},
		{"unknown challenge", func(r *domain.OpenRequest) { r.ChallengeID = uuid.New() }, domain.IsNotFound},
		{"foreign challenge", func(r *domain.OpenRequest) { r.UserID = uuid.New() }, domain.IsNotFound},
		{"no price", func(r *domain.OpenRequest) { r.Symbol = "NOPE" }, domain.IsExternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.tweak(&req)
			_, err := f.positions.Open(ctx, req)
			require.Error(t, err)
			assert.True(t, tc.check(err), "unexpected error kind: %v", err)
		})
	}

	assert.True(t, f.reload(t, c.ID).Equity.Equal(dec("5000")), "rejections must not touch equity")
}

func TestPosition_OpenOnInactiveChallenge(t *testing.T) {
	for _, status := range []domain.ChallengeStatus{domain.ChallengeFailed, domain.ChallengePassed, domain.ChallengePending} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			c := f.newChallenge(t)
			_, err := f.challenges.SetStatus(context.Background(), c.ID, status)
			require.NoError(t, err)

			calls := f.oracle.calls
			_, err = f.positions.Open(context.Background(), domain.OpenRequest{
				ChallengeID: c.ID, UserID: c.UserID, Symbol: "AAPL",
				Side: domain.SideBuy, Qty: decimal.NewFromInt(1), Market: domain.MarketYahoo,
			})
			assert.ErrorIs(t, err, domain.ErrChallengeNotActive)
			assert.Equal(t, calls, f.oracle.calls, "no price fetch for an inactive challenge")
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Close failures
// ──────────────────────────────────────────────────────────────────────────────

func TestPosition_CloseRejections(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)
	ctx := context.Background()
	opened := f.open(t, c, domain.SideBuy, 10)

	_, err := f.positions.Close(ctx, uuid.New(), c.UserID)
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)

	_, err = f.positions.Close(ctx, opened.TradeID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.True(t, domain.IsForbidden(err))

	// Price failure leaves the trade open and equity untouched.
	f.oracle.mu.Lock()
	delete(f.oracle.prices, "AAPL")
	f.oracle.mu.Unlock()
	_, err = f.positions.Close(ctx, opened.TradeID, c.UserID)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	tr, err := f.store.GetTrade(ctx, opened.TradeID)
	require.NoError(t, err)
	assert.True(t, tr.IsOpen())
	assert.True(t, f.reload(t, c.ID).Equity.Equal(dec("3500")))

	f.oracle.set("AAPL", "150")
	_, err = f.positions.Close(ctx, opened.TradeID, c.UserID)
	require.NoError(t, err)

	_, err = f.positions.Close(ctx, opened.TradeID, c.UserID)
	assert.ErrorIs(t, err, domain.ErrTradeClosed)
	assert.True(t, f.reload(t, c.ID).Equity.Equal(dec("5000")), "second close must not credit again")
}

// ──────────────────────────────────────────────────────────────────────────────
// Evaluation on close
// ──────────────────────────────────────────────────────────────────────────────

func TestPosition_CloseTripsDailyLoss(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)
	ctx := context.Background()

	opened := f.open(t, c, domain.SideBuy, 10)
	f.oracle.set("AAPL", "125") // pnl -250 → equity 4750 = 95% of 5000

	res, err := f.positions.Close(ctx, opened.TradeID, c.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeFailed, res.ChallengeStatus)
	assert.True(t, res.Equity.Equal(dec("4750")))

	// Terminal: a later evaluation changes nothing.
	after, changed, err := f.challenges.Evaluate(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.ChallengeFailed, after.Status)
	assert.True(t, after.Equity.Equal(dec("4750")))
}

func TestPosition_CloseHitsProfitTarget(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)

	opened := f.open(t, c, domain.SideBuy, 10)
	f.oracle.set("AAPL", "200") // pnl 500 → equity 5500 = 110%

	res, err := f.positions.Close(context.Background(), opened.TradeID, c.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengePassed, res.ChallengeStatus)
}

// A trade opened yesterday and closed today is judged against today's
// baseline, which is the equity seen at the first evaluation of the day.
func TestPosition_CloseRollsDailyBaseline(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)

	opened := f.open(t, c, domain.SideBuy, 10) // equity 3500
	f.clock.advance(24 * time.Hour)
	f.oracle.set("AAPL", "150")

	res, err := f.positions.Close(context.Background(), opened.TradeID, c.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeActive, res.ChallengeStatus)

	got := f.reload(t, c.ID)
	assert.True(t, got.DayStartEquity.Equal(dec("5000")), "baseline = %s", got.DayStartEquity)
	assert.True(t, domain.SameDate(got.DayStartDate, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)))
}

func TestPosition_NotifiesOwner(t *testing.T) {
	f := newFixture(t)
	c := f.newChallenge(t)
	before := f.notes.count()

	opened := f.open(t, c, domain.SideBuy, 1)
	_, err := f.positions.Close(context.Background(), opened.TradeID, c.UserID)
	require.NoError(t, err)

	assert.Equal(t, before+2, f.notes.count())
	last := f.notes.updates[len(f.notes.updates)-1]
	assert.Equal(t, c.UserID, last.UserID)
	assert.True(t, last.Equity.Equal(dec("5000")))
}

// ──────────────────────────────────────────────────────────────────────────────
// Concurrency
// ──────────────────────────────────────────────────────────────────────────────

// Concurrent BUYs whose combined cost exceeds equity: exactly the ones that fit
// succeed and equity never goes negative.  The fixture also fails the test if
// any row was loaded without its challenge lock or the lock was shared.
func TestPosition_ConcurrentOpensNeverOverspend(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		c := f.newChallenge(t) // 5000; each BUY costs 150 → 33 fit

		const workers = 60
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			otherErrs []error
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.positions.Open(context.Background(), domain.OpenRequest{
					ChallengeID: c.ID, UserID: c.UserID, Symbol: "AAPL",
					Side: domain.SideBuy, Qty: decimal.NewFromInt(1), Market: domain.MarketYahoo,
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case domain.IsInsufficientFunds(err):
				default:
					otherErrs = append(otherErrs, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Empty(t, otherErrs)
		assert.Equal(t, 33, succeeded)

		got := f.reload(t, c.ID)
		assert.True(t, got.Equity.Equal(dec("50")), "equity = %s", got.Equity)

		trades, err := f.challenges.ListTrades(context.Background(), c.UserID, &c.ID)
		require.NoError(t, err)
		assert.Len(t, trades, succeeded)
	})
}

// Concurrent closes of the same trade credit equity once.
func TestPosition_ConcurrentClosesSettleOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		c := f.newChallenge(t)
		opened := f.open(t, c, domain.SideBuy, 10)
		f.oracle.set("AAPL", "151")

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.positions.Close(context.Background(), opened.TradeID, c.UserID)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, domain.ErrTradeClosed)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.True(t, f.reload(t, c.ID).Equity.Equal(dec("5010")))
	})
}

// An open has to wait for whoever holds the challenge lock.
func TestPosition_OpenWaitsForChallengeLock(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		c := f.newChallenge(t)

		unlock, err := f.locks.Lock(context.Background(), "challenge:"+c.ID.String())
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := f.positions.Open(context.Background(), domain.OpenRequest{
				ChallengeID: c.ID, UserID: c.UserID, Symbol: "AAPL",
				Side: domain.SideBuy, Qty: decimal.NewFromInt(1), Market: domain.MarketYahoo,
			})
			done <- err
		}()

		select {
		case err := <-done:
			unlock()
			t.Fatalf("open finished while the lock was held: %v", err)
		case <-time.After(150 * time.Millisecond):
		}
		assert.True(t, f.reload(t, c.ID).Equity.Equal(dec("5000")), "equity moved while locked")

		unlock()
		require.NoError(t, <-done)
		assert.True(t, f.reload(t, c.ID).Equity.Equal(dec("4850")))
	})
}

// Updates for one challenge reach the notifier in commit order even when
// mutations race.
func TestPosition_NotificationsFollowCommitOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		c := f.newChallenge(t)
		before := f.notes.count()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.positions.Open(context.Background(), domain.OpenRequest{
					ChallengeID: c.ID, UserID: c.UserID, Symbol: "AAPL",
					Side: domain.SideBuy, Qty: decimal.NewFromInt(1), Market: domain.MarketYahoo,
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		f.notes.mu.Lock()
		defer f.notes.mu.Unlock()
		updates := f.notes.updates[before:]
		require.Len(t, updates, 20)
		for i, u := range updates {
			want := dec("5000").Sub(dec("150").Mul(decimal.NewFromInt(int64(i + 1))))
			assert.True(t, u.Equity.Equal(want), "update %d: equity %s, want %s", i, u.Equity, want)
		}
	})
}
