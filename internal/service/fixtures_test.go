package service_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/keylock"
	"github.com/tradesense/challenge/internal/repository"
	"github.com/tradesense/challenge/internal/repository/repotest"
	"github.com/tradesense/challenge/internal/service"
)

// ── Stub oracle ───────────────────────────────────────────────────────────────

type stubOracle struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  int
}

func newStubOracle() *stubOracle {
	return &stubOracle{prices: make(map[string]decimal.Decimal)}
}

func (o *stubOracle) set(symbol, price string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = decimal.RequireFromString(price)
}

func (o *stubOracle) GetPrice(_ context.Context, _ domain.Market, symbol string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	p, ok := o.prices[symbol]
	if !ok {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return p, nil
}

// ── Recording notifier ────────────────────────────────────────────────────────

type recordingNotifier struct {
	mu      sync.Mutex
	updates []domain.Challenge
}

func (n *recordingNotifier) NotifyChallenge(c *domain.Challenge) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, *c)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.updates)
}

// ── Clock ─────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ── Lock spy ──────────────────────────────────────────────────────────────────

// spyLocker wraps a real Locker and records, per key, how many callers hold
// it at once.
type spyLocker struct {
	inner domain.Locker

	mu      sync.Mutex
	held    map[string]int
	maxHeld int
}

func newSpyLocker(inner domain.Locker) *spyLocker {
	return &spyLocker{inner: inner, held: make(map[string]int)}
}

func (s *spyLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.inner.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.held[key]++
	if s.held[key] > s.maxHeld {
		s.maxHeld = s.held[key]
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.held[key]--
			s.mu.Unlock()
			unlock()
		})
	}, nil
}

func (s *spyLocker) holds(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[key] > 0
}

func (s *spyLocker) maxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxHeld
}

// guardedStore counts challenge rows loaded for update while their lock is
// not held.
type guardedStore struct {
	domain.Store
	locks     *spyLocker
	unguarded atomic.Int32
}

func (g *guardedStore) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return g.Store.InTx(ctx, func(tx domain.Tx) error {
		return fn(guardedTx{Tx: tx, store: g})
	})
}

type guardedTx struct {
	domain.Tx
	store *guardedStore
}

func (g guardedTx) GetChallengeForUpdate(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	if !g.store.locks.holds("challenge:" + id.String()) {
		g.store.unguarded.Add(1)
	}
	return g.Tx.GetChallengeForUpdate(ctx, id)
}

// ── Fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	store      domain.Store
	locks      *spyLocker
	oracle     *stubOracle
	notes      *recordingNotifier
	clock      *fakeClock
	positions  *service.PositionService
	challenges *service.ChallengeService

	starter *domain.Plan // price 199, balance 5000
	pro     *domain.Plan // price 399, balance 10000
}

func testConfig() *config.Config {
	return &config.Config{
		Lock:   config.LockConfig{Backend: "memory", WaitTimeout: 10 * time.Second},
		Ledger: config.LedgerConfig{Timezone: "UTC", Location: time.UTC, LeaderboardSize: 10},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, repository.NewMemoryStore())
}

// newFixtureOn builds the services over store.  When the test ends it checks
// that no challenge was loaded for update outside its lock and that no lock
// was ever held twice.
func newFixtureOn(t *testing.T, store domain.Store) *fixture {
	t.Helper()
	cfg := testConfig()

	locks := newSpyLocker(keylock.New())
	guarded := &guardedStore{Store: store, locks: locks}
	f := &fixture{
		store:  guarded,
		locks:  locks,
		oracle: newStubOracle(),
		notes:  &recordingNotifier{},
		clock:  &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
	f.positions = service.NewPositionService(f.store, locks, f.oracle, cfg, nil)
	f.challenges = service.NewChallengeService(f.store, locks, cfg, nil)
	for _, s := range []interface {
		SetClock(func() time.Time)
		SetNotifier(service.Notifier)
	}{f.positions, f.challenges} {
		s.SetClock(f.clock.Now)
		s.SetNotifier(f.notes)
	}

	f.starter = ensurePlan(t, store, "Starter", 199, 5000)
	f.pro = ensurePlan(t, store, "Pro", 399, 10000)
	f.oracle.set("AAPL", "150")

	t.Cleanup(func() {
		assert.Zero(t, guarded.unguarded.Load(), "challenge loaded for update without its lock")
		assert.LessOrEqual(t, locks.maxConcurrent(), 1, "challenge lock held by two callers at once")
	})
	return f
}

// ensurePlan returns the plan called name, creating it when the store was not
// seeded by migrations.
func ensurePlan(t *testing.T, store domain.Store, name string, price, balance int64) *domain.Plan {
	t.Helper()
	ctx := context.Background()
	plans, err := store.ListPlans(ctx)
	require.NoError(t, err)
	for _, p := range plans {
		if p.Name == name {
			require.True(t, p.StartingBalance.Equal(decimal.NewFromInt(balance)), "seeded %s balance", name)
			return p
		}
	}
	p := &domain.Plan{ID: uuid.New(), Name: name,
		Price: decimal.NewFromInt(price), StartingBalance: decimal.NewFromInt(balance)}
	require.NoError(t, store.CreatePlan(ctx, p))
	return p
}

// forEachStore runs fn against a fixture on every Store implementation:
// memory, SQLite, and PostgreSQL when POSTGRES_TEST_DSN is set.
func forEachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	stores := []struct {
		name string
		open func(t *testing.T) domain.Store
	}{
		{"memory", func(*testing.T) domain.Store { return repository.NewMemoryStore() }},
		{"sqlite", func(t *testing.T) domain.Store { return repotest.SQLite(t) }},
		{"postgres", func(t *testing.T) domain.Store { return repotest.Postgres(t, os.Getenv(repotest.PostgresDSNEnv)) }},
	}
	for _, s := range stores {
		t.Run(s.name, func(t *testing.T) {
			fn(t, newFixtureOn(t, s.open(t)))
		})
	}
}

// newChallenge checks out a Starter challenge for a fresh user.
func (f *fixture) newChallenge(t *testing.T) *domain.Challenge {
	t.Helper()
	c, err := f.challenges.CreateChallenge(context.Background(), uuid.New(), f.starter.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *domain.Challenge {
	t.Helper()
	c, err := f.store.GetChallenge(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) open(t *testing.T, c *domain.Challenge, side domain.Side, qty int64) *domain.OpenResult {
	t.Helper()
	res, err := f.positions.Open(context.Background(), domain.OpenRequest{
		ChallengeID: c.ID, UserID: c.UserID, Symbol: "AAPL",
		Side: side, Qty: decimal.NewFromInt(qty), Market: domain.MarketYahoo,
	})
	require.NoError(t, err)
	return res
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
