package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Price history
// ──────────────────────────────────────────────────────────────────────────────

// Candle is one OHLC bar.  Time is the bar's open in unix seconds, the shape
// charting libraries consume directly.
type Candle struct {
	Time  int64           `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

const (
	DefaultHistoryLimit = 300
	MaxHistoryLimit     = 1000
)

var (
	historyIntervals = map[string]bool{"1m": true, "5m": true, "15m": true, "30m": true, "1h": true, "1d": true}
	historyRanges    = map[string]bool{"1d": true, "5d": true, "1mo": true, "3mo": true}
)

// HistoryRequest selects a window of bars.  Limit keeps only the most recent
// bars.
type HistoryRequest struct {
	Interval string `json:"interval"`
	Range    string `json:"range"`
	Limit    int    `json:"limit"`
}

// Normalize fills in 1m / 1d / DefaultHistoryLimit and rejects anything the
// quote sources cannot serve.
func (r *HistoryRequest) Normalize() error {
	if r.Interval == "" {
		r.Interval = "1m"
	}
	if r.Range == "" {
		r.Range = "1d"
	}
	if r.Limit == 0 {
		r.Limit = DefaultHistoryLimit
	}
	switch {
	case !historyIntervals[r.Interval]:
		return fmt.Errorf("%w: %q", ErrInvalidInterval, r.Interval)
	case !historyRanges[r.Range]:
		return fmt.Errorf("%w: %q", ErrInvalidRange, r.Range)
	case r.Limit < 0 || r.Limit > MaxHistoryLimit:
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxHistoryLimit)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// SMA crossover signal
// ──────────────────────────────────────────────────────────────────────────────

// SignalKind is the suggested direction.
type SignalKind string

const (
	SignalBuy     SignalKind = "BUY"
	SignalSell    SignalKind = "SELL"
	SignalNeutral SignalKind = "NEUTRAL"
)

const (
	DefaultFastWindow = 5
	DefaultSlowWindow = 20
	MaxSignalWindow   = 200
)

var (
	stopLossFactor   = decimal.RequireFromString("0.99")
	takeProfitFactor = decimal.RequireFromString("1.02")
)

// Signal is a read model; it never touches a challenge.
type Signal struct {
	Market              Market          `json:"market"`
	Symbol              string          `json:"symbol"`
	Fast                int             `json:"fast"`
	Slow                int             `json:"slow"`
	LastPrice           decimal.Decimal `json:"last_price"`
	FastSMA             decimal.Decimal `json:"fast_sma"`
	SlowSMA             decimal.Decimal `json:"slow_sma"`
	Signal              SignalKind      `json:"signal"`
	SuggestedStopLoss   decimal.Decimal `json:"suggested_stop_loss"`
	SuggestedTakeProfit decimal.Decimal `json:"suggested_take_profit"`
}

// ValidateWindows requires 1 <= fast < slow <= MaxSignalWindow.
func ValidateWindows(fast, slow int) error {
	if fast < 1 || slow <= fast || slow > MaxSignalWindow {
		return fmt.Errorf("%w: got fast=%d slow=%d", ErrInvalidWindow, fast, slow)
	}
	return nil
}

// SMACrossover compares the simple moving averages of the last fast and slow
// closes.  BUY when fast is above slow, SELL when below.  The suggested stop
// sits 1% under the last close and the target 2% above it.
func SMACrossover(closes []decimal.Decimal, fast, slow int) (*Signal, error) {
	if err := ValidateWindows(fast, slow); err != nil {
		return nil, err
	}
	if len(closes) < slow {
		return nil, fmt.Errorf("%w: have %d bars, need %d", ErrNotEnoughHistory, len(closes), slow)
	}

	last := closes[len(closes)-1]
	fastSMA := sma(closes, fast)
	slowSMA := sma(closes, slow)

	kind := SignalNeutral
	switch fastSMA.Cmp(slowSMA) {
	case 1:
		kind = SignalBuy
	case -1:
		kind = SignalSell
	}

	return &Signal{
		Fast:                fast,
		Slow:                slow,
		LastPrice:           last,
		FastSMA:             fastSMA,
		SlowSMA:             slowSMA,
		Signal:              kind,
		SuggestedStopLoss:   last.Mul(stopLossFactor),
		SuggestedTakeProfit: last.Mul(takeProfitFactor),
	}, nil
}

// sma averages the last n values; the caller guarantees len(values) >= n.
func sma(values []decimal.Decimal, n int) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values[len(values)-n:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
