package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/domain"
)

var (
	day1 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func activeChallenge(start, equity, dayStart int64) *domain.Challenge {
	return &domain.Challenge{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		PlanID:          uuid.New(),
		Status:          domain.ChallengeActive,
		StartingBalance: d(start),
		Equity:          d(equity),
		DayStartEquity:  d(dayStart),
		DayStartDate:    day1,
	}
}

// ── Rule evaluation ───────────────────────────────────────────────────────────

func TestEvaluate_Thresholds(t *testing.T) {
	cases := []struct {
		name    string
		equity  int64
		want    domain.ChallengeStatus
		changed bool
	}{
		{"within limits", 5100, domain.ChallengeActive, false},
		{"daily loss exactly 5%", 4750, domain.ChallengeFailed, true},
		{"daily loss beyond 5%", 4700, domain.ChallengeFailed, true},
		{"just above daily floor", 4751, domain.ChallengeActive, false},
		{"profit target exactly 10%", 5500, domain.ChallengePassed, true},
		{"profit beyond target", 6000, domain.ChallengePassed, true},
		{"just below target", 5499, domain.ChallengeActive, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := activeChallenge(5000, tc.equity, 5000)
			changed := c.Evaluate(day1)
			if c.Status != tc.want {
				t.Errorf("status = %s, want %s", c.Status, tc.want)
			}
			if changed != tc.changed {
				t.Errorf("changed = %v, want %v", changed, tc.changed)
			}
		})
	}
}

func TestEvaluate_TotalLossWithoutDailyBreach(t *testing.T) {
	// Day baseline already low, so the 5% daily rule does not trip but the
	// 10% total rule does.
	c := activeChallenge(5000, 4500, 4600)
	c.Evaluate(day1)
	if c.Status != domain.ChallengeFailed {
		t.Errorf("status = %s, want failed", c.Status)
	}
}

func TestEvaluate_DailyLossTakesPriority(t *testing.T) {
	// Equity satisfies both the profit target (vs. starting balance) and the
	// daily-loss rule (vs. a high day baseline).  Daily loss wins.
	c := activeChallenge(5000, 5600, 6000)
	c.Evaluate(day1)
	if c.Status != domain.ChallengeFailed {
		t.Errorf("status = %s, want failed (daily loss checked first)", c.Status)
	}
}

func TestEvaluate_TerminalStatesAreSticky(t *testing.T) {
	for _, status := range []domain.ChallengeStatus{
		domain.ChallengeFailed, domain.ChallengePassed, domain.ChallengePending,
	} {
		c := activeChallenge(5000, 5200, 5000)
		c.Status = status
		before := *c

		if c.Evaluate(day2) {
			t.Errorf("%s: Evaluate reported a change", status)
		}
		if c.Status != status || !c.Equity.Equal(before.Equity) ||
			!c.DayStartEquity.Equal(before.DayStartEquity) || !c.DayStartDate.Equal(before.DayStartDate) {
			t.Errorf("%s: challenge mutated: %+v", status, c)
		}
	}
}

func TestEvaluate_FailedThenEvaluateAgainIsIdempotent(t *testing.T) {
	c := activeChallenge(5000, 4750, 5000)
	c.Evaluate(day1)
	if c.Status != domain.ChallengeFailed {
		t.Fatalf("status = %s, want failed", c.Status)
	}
	if c.Evaluate(day1) {
		t.Error("second Evaluate should be a no-op")
	}
	if !c.Equity.Equal(d(4750)) {
		t.Errorf("equity = %s, want 4750", c.Equity)
	}
}

func TestEvaluate_DayBoundaryResetsBaselineFirst(t *testing.T) {
	// Yesterday's baseline was 5000.  Equity is now 4760: not a daily breach
	// against 5000 either, but the new baseline must become 4760.
	c := activeChallenge(5000, 4760, 5000)
	changed := c.Evaluate(day2)
	if !changed {
		t.Error("day roll should report a change")
	}
	if !c.DayStartEquity.Equal(d(4760)) {
		t.Errorf("DayStartEquity = %s, want 4760", c.DayStartEquity)
	}
	if !c.DayStartDate.Equal(day2) {
		t.Errorf("DayStartDate = %s, want %s", c.DayStartDate, day2)
	}
	if c.Status != domain.ChallengeActive {
		t.Errorf("status = %s, want active", c.Status)
	}
}

func TestEvaluate_DayBoundaryForgivesYesterdaysLoss(t *testing.T) {
	// 4700 against yesterday's 5000 would be a 6% daily loss, but the roll
	// happens before the checks so only the total-loss rule applies (4700 >
	// 4500).
	c := activeChallenge(5000, 4700, 5000)
	c.Evaluate(day2)
	if c.Status != domain.ChallengeActive {
		t.Errorf("status = %s, want active", c.Status)
	}
}

// ── Administrative mutations ──────────────────────────────────────────────────

func TestChallenge_Reset(t *testing.T) {
	c := activeChallenge(5000, 4200, 4600)
	c.Status = domain.ChallengeFailed
	c.Reset()

	if c.Status != domain.ChallengeActive {
		t.Errorf("status = %s, want active", c.Status)
	}
	if !c.Equity.Equal(d(5000)) || !c.DayStartEquity.Equal(d(5000)) {
		t.Errorf("equity/dayStart = %s/%s, want 5000/5000", c.Equity, c.DayStartEquity)
	}
	if !c.DayStartDate.Equal(day1) {
		t.Errorf("DayStartDate changed to %s", c.DayStartDate)
	}
}

func TestChallenge_AdjustEquityDoesNotEvaluate(t *testing.T) {
	c := activeChallenge(5000, 5000, 5000)
	c.AdjustEquity(d(100))
	if !c.Equity.Equal(d(100)) {
		t.Errorf("equity = %s, want 100", c.Equity)
	}
	if c.Status != domain.ChallengeActive {
		t.Errorf("status = %s, want active", c.Status)
	}
}

func TestChallenge_SetStatus(t *testing.T) {
	c := activeChallenge(5000, 5000, 5000)
	c.Status = domain.ChallengePassed
	if err := c.SetStatus(domain.ChallengeActive); err != nil {
		t.Fatalf("SetStatus(active): %v", err)
	}
	if c.Status != domain.ChallengeActive {
		t.Errorf("status = %s, want active", c.Status)
	}
	err := c.SetStatus("archived")
	if !errors.Is(err, domain.ErrInvalidStatus) || !domain.IsValidation(err) {
		t.Errorf("SetStatus(archived) err = %v, want ErrInvalidStatus", err)
	}
}

func TestChallenge_UpgradePreservesProfit(t *testing.T) {
	starter := &domain.Plan{ID: uuid.New(), Price: d(199), StartingBalance: d(5000)}
	pro := &domain.Plan{ID: uuid.New(), Price: d(399), StartingBalance: d(10000)}

	c := activeChallenge(5000, 5500, 5200)
	c.PlanID = starter.ID
	if err := c.Upgrade(starter, pro); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if !c.StartingBalance.Equal(d(10000)) {
		t.Errorf("StartingBalance = %s, want 10000", c.StartingBalance)
	}
	if !c.Equity.Equal(d(10500)) || !c.DayStartEquity.Equal(d(10500)) {
		t.Errorf("equity/dayStart = %s/%s, want 10500/10500", c.Equity, c.DayStartEquity)
	}
	if c.PlanID != pro.ID {
		t.Errorf("PlanID not rewritten")
	}
}

func TestChallenge_UpgradeRejections(t *testing.T) {
	starter := &domain.Plan{ID: uuid.New(), Price: d(199), StartingBalance: d(5000)}
	same := &domain.Plan{ID: uuid.New(), Price: d(199), StartingBalance: d(8000)}

	c := activeChallenge(5000, 5000, 5000)
	if err := c.Upgrade(starter, same); !errors.Is(err, domain.ErrPlanNotSuperior) {
		t.Errorf("equal price: err = %v, want ErrPlanNotSuperior", err)
	}

	c.Status = domain.ChallengeFailed
	pro := &domain.Plan{ID: uuid.New(), Price: d(399), StartingBalance: d(10000)}
	if err := c.Upgrade(starter, pro); !errors.Is(err, domain.ErrChallengeNotActive) {
		t.Errorf("failed challenge: err = %v, want ErrChallengeNotActive", err)
	}
	if !c.StartingBalance.Equal(d(5000)) {
		t.Errorf("rejected upgrade mutated StartingBalance to %s", c.StartingBalance)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func TestChallenge_ProfitPct(t *testing.T) {
	c := activeChallenge(5000, 5250, 5000)
	if !c.ProfitPct().Equal(d(5)) {
		t.Errorf("ProfitPct() = %s, want 5", c.ProfitPct())
	}
	c.StartingBalance = decimal.Zero
	if !c.ProfitPct().IsZero() {
		t.Errorf("zero starting balance should yield 0, got %s", c.ProfitPct())
	}
}

func TestDateOf_UsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 23:30 UTC on 1 March is already 2 March in Tokyo.
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	if got := domain.DateOf(ts, time.UTC); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DateOf(UTC) = %s", got)
	}
	if got := domain.DateOf(ts, tokyo); !got.Equal(day1) {
		t.Errorf("DateOf(Tokyo) = %s, want %s", got, day1)
	}
}

func TestNewChallenge(t *testing.T) {
	plan := &domain.Plan{ID: uuid.New(), Price: d(199), StartingBalance: d(5000)}
	user := uuid.New()
	c := domain.NewChallenge(user, plan, day1, day1.Add(time.Hour))

	if c.Status != domain.ChallengeActive || c.UserID != user || c.PlanID != plan.ID {
		t.Errorf("unexpected challenge: %+v", c)
	}
	for name, v := range map[string]decimal.Decimal{
		"StartingBalance": c.StartingBalance,
		"Equity":          c.Equity,
		"DayStartEquity":  c.DayStartEquity,
	} {
		if !v.Equal(d(5000)) {
			t.Errorf("%s = %s, want 5000", name, v)
		}
	}
}
