package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradesense/challenge/internal/domain"
)

// MemoryStore implements domain.Store in process memory.  Transactions are
// serialised by a single mutex and staged, so a failed unit of work leaves no
// trace.  Every value crossing the API is a copy.
type MemoryStore struct {
	txMu sync.Mutex // one transaction at a time

	mu         sync.RWMutex
	plans      map[uuid.UUID]domain.Plan
	challenges map[uuid.UUID]domain.Challenge
	trades     map[uuid.UUID]domain.Trade
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:      make(map[uuid.UUID]domain.Plan),
		challenges: make(map[uuid.UUID]domain.Challenge),
		trades:     make(map[uuid.UUID]domain.Trade),
	}
}

// ── Plans ─────────────────────────────────────────────────────────────────────

func (m *MemoryStore) GetPlan(_ context.Context, id uuid.UUID) (*domain.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ListPlans(_ context.Context) ([]*domain.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) CreatePlan(_ context.Context, p *domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = *p
	return nil
}

// ── Challenges ────────────────────────────────────────────────────────────────

func (m *MemoryStore) GetChallenge(_ context.Context, id uuid.UUID) (*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, domain.ErrChallengeNotFound
	}
	return &c, nil
}

func (m *MemoryStore) ListChallenges(_ context.Context, f domain.ChallengeFilter) ([]*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Challenge{}
	for _, c := range m.challenges {
		if f.UserID != nil && c.UserID != *f.UserID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func (m *MemoryStore) ListActiveChallengeIDs(ctx context.Context) ([]uuid.UUID, error) {
	list, _ := m.ListChallenges(ctx, domain.ChallengeFilter{Status: domain.ChallengeActive})
	ids := make([]uuid.UUID, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return ids, nil
}

func (m *MemoryStore) Leaderboard(_ context.Context, limit int) ([]*domain.LeaderboardEntry, error) {
	m.mu.RLock()
	out := make([]*domain.LeaderboardEntry, 0, len(m.challenges))
	created := make(map[uuid.UUID]time.Time, len(m.challenges))
	for _, c := range m.challenges {
		out = append(out, &domain.LeaderboardEntry{
			ChallengeID:     c.ID,
			UserID:          c.UserID,
			Status:          c.Status,
			StartingBalance: c.StartingBalance,
			Equity:          c.Equity,
			Pct:             leaderboardPct(c.Equity, c.StartingBalance),
		})
		created[c.ID] = c.CreatedAt
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Pct.Equal(out[j].Pct) {
			return out[i].Pct.GreaterThan(out[j].Pct)
		}
		return created[out[i].ChallengeID].Before(created[out[j].ChallengeID])
	})
	return paginate(out, limit, 0), nil
}

func (m *MemoryStore) Stats(_ context.Context) (*domain.ChallengeStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := newStats()
	for _, c := range m.challenges {
		st.ByStatus[c.Status]++
		st.Total++
		if c.Status == domain.ChallengeActive {
			st.ActiveEquity = st.ActiveEquity.Add(c.Equity)
			st.ActiveStartingBalance = st.ActiveStartingBalance.Add(c.StartingBalance)
		}
	}
	return st, nil
}

// ── Trades ────────────────────────────────────────────────────────────────────

func (m *MemoryStore) GetTrade(_ context.Context, id uuid.UUID) (*domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return &t, nil
}

func (m *MemoryStore) ListTrades(_ context.Context, challengeIDs []uuid.UUID) ([]*domain.Trade, error) {
	want := make(map[uuid.UUID]struct{}, len(challengeIDs))
	for _, id := range challengeIDs {
		want[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Trade{}
	for _, t := range m.trades {
		if _, ok := want[t.ChallengeID]; !ok {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// ── Unit of work ──────────────────────────────────────────────────────────────

// InTx runs fn against a staging area and publishes its writes only when fn
// returns nil.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{
		store:      m,
		challenges: make(map[uuid.UUID]*domain.Challenge),
		trades:     make(map[uuid.UUID]*domain.Trade),
		deleted:    make(map[uuid.UUID]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range tx.deleted {
		delete(m.challenges, id)
		for tid, t := range m.trades {
			if t.ChallengeID == id {
				delete(m.trades, tid)
			}
		}
	}
	for id, c := range tx.challenges {
		m.challenges[id] = *c
	}
	for id, t := range tx.trades {
		m.trades[id] = *t
	}
	return nil
}

// memTx buffers writes for one MemoryStore transaction.
type memTx struct {
	store      *MemoryStore
	challenges map[uuid.UUID]*domain.Challenge
	trades     map[uuid.UUID]*domain.Trade
	deleted    map[uuid.UUID]bool
}

func (t *memTx) GetChallengeForUpdate(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	if t.deleted[id] {
		return nil, domain.ErrChallengeNotFound
	}
	if c, ok := t.challenges[id]; ok {
		cp := *c
		return &cp, nil
	}
	return t.store.GetChallenge(ctx, id)
}

func (t *memTx) CreateChallenge(_ context.Context, c *domain.Challenge) error {
	cp := *c
	t.challenges[c.ID] = &cp
	delete(t.deleted, c.ID)
	return nil
}

func (t *memTx) UpdateChallenge(ctx context.Context, c *domain.Challenge) error {
	if _, err := t.GetChallengeForUpdate(ctx, c.ID); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	t.challenges[c.ID] = &cp
	return nil
}

func (t *memTx) DeleteChallenge(ctx context.Context, id uuid.UUID) error {
	if _, err := t.GetChallengeForUpdate(ctx, id); err != nil {
		return err
	}
	delete(t.challenges, id)
	for tid, tr := range t.trades {
		if tr.ChallengeID == id {
			delete(t.trades, tid)
		}
	}
	t.deleted[id] = true
	return nil
}

func (t *memTx) GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	if tr, ok := t.trades[id]; ok {
		cp := *tr
		return &cp, nil
	}
	return t.store.GetTrade(ctx, id)
}

func (t *memTx) CreateTrade(_ context.Context, tr *domain.Trade) error {
	cp := *tr
	t.trades[tr.ID] = &cp
	return nil
}

func (t *memTx) UpdateTrade(ctx context.Context, tr *domain.Trade) error {
	cur, err := t.GetTradeForUpdate(ctx, tr.ID)
	if err != nil {
		return err
	}
	if !cur.IsOpen() {
		return domain.ErrTradeClosed
	}
	cp := *tr
	t.trades[tr.ID] = &cp
	return nil
}

func paginate[T any](list []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(list) {
			return list[:0]
		}
		list = list[offset:]
	}
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

// Compile-time interface checks.
var (
	_ domain.Store = (*MemoryStore)(nil)
	_ domain.Tx    = (*memTx)(nil)
)
