package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
	"golang.org/x/sync/singleflight"
)

// PriceOracle is the read-only quote source the position manager depends on.
type PriceOracle interface {
	GetPrice(ctx context.Context, market domain.Market, symbol string) (decimal.Decimal, error)
}

// ChartSource serves bar history and the indicators computed from it.
type ChartSource interface {
	History(ctx context.Context, market domain.Market, symbol string, req domain.HistoryRequest) ([]domain.Candle, error)
	Signal(ctx context.Context, market domain.Market, symbol string, fast, slow int) (*domain.Signal, error)
}

// SharedPriceCache lets several ledger processes reuse each other's quotes.
// Implemented by redis.PriceCache.
type SharedPriceCache interface {
	SetPrice(ctx context.Context, market, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, market, symbol string) (decimal.Decimal, time.Time, bool, error)
}

// priceFetcher fetches one symbol from one market.
type priceFetcher func(ctx context.Context, symbol string) (decimal.Decimal, error)

// historyFetcher fetches bars, oldest first.
type historyFetcher func(ctx context.Context, symbol string, req domain.HistoryRequest) ([]domain.Candle, error)

type cachedQuote struct {
	price decimal.Decimal
	at    time.Time
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceService
// ──────────────────────────────────────────────────────────────────────────────

// PriceService fetches last-traded prices and bar history from Yahoo Finance
// (equities) and Binance (crypto), caching each quote for CacheTTL.
// Concurrent requests for the same symbol share one upstream call.
type PriceService struct {
	client *http.Client
	cfg    *config.PriceConfig
	logger *slog.Logger

	fetchers    map[domain.Market]priceFetcher
	history     map[domain.Market]historyFetcher
	group       singleflight.Group
	sharedCache SharedPriceCache // optional

	// in-memory cache
	mu    sync.RWMutex
	cache map[string]cachedQuote

	// per-market last-success timestamp (for SourceStatus)
	statusMu    sync.RWMutex
	lastSuccess map[domain.Market]time.Time
}

// NewPriceService constructs a PriceService from the given config.
func NewPriceService(cfg *config.Config, logger *slog.Logger) *PriceService {
	if logger == nil {
		logger = slog.Default()
	}
	ps := &PriceService{
		client: &http.Client{Timeout: cfg.Price.FetchTimeout},
		cfg:    &cfg.Price,
		logger: logger,
		cache:  make(map[string]cachedQuote),
		lastSuccess: map[domain.Market]time.Time{
			domain.MarketYahoo:   {},
			domain.MarketBinance: {},
		},
	}
	ps.fetchers = map[domain.Market]priceFetcher{
		domain.MarketYahoo:   ps.fetchYahoo,
		domain.MarketBinance: ps.fetchBinance,
	}
	ps.history = map[domain.Market]historyFetcher{
		domain.MarketYahoo:   ps.fetchYahooHistory,
		domain.MarketBinance: ps.fetchBinanceKlines,
	}
	return ps
}

// SetSharedCache injects the Redis quote cache post-construction.
func (ps *PriceService) SetSharedCache(c SharedPriceCache) { ps.sharedCache = c }

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// GetPrice returns the current price of symbol on market.  Every failure is
// reported as domain.ErrPriceUnavailable (or ErrUnsupportedMarket) so callers
// can abort before touching any balance.
func (ps *PriceService) GetPrice(ctx context.Context, market domain.Market, symbol string) (decimal.Decimal, error) {
	fetch, ok := ps.fetchers[market]
	if !ok {
		return decimal.Zero, domain.ErrUnsupportedMarket
	}
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return decimal.Zero, domain.ErrInvalidSymbol
	}
	key := string(market) + ":" + symbol

	// ── Cache check ──────────────────────────────────────────────────────────
	if p, ok := ps.cached(key); ok {
		return p, nil
	}

	v, err := ps.shared(ctx, key, func(fetchCtx context.Context) (interface{}, error) {
		if p, ok := ps.cached(key); ok {
			return p, nil
		}
		if p, ok := ps.fromShared(fetchCtx, market, symbol); ok {
			ps.store(key, p, time.Now())
			return p, nil
		}

		p, err := fetch(fetchCtx, symbol)
		if err == nil && !p.IsPositive() {
			err = fmt.Errorf("non-positive price %s", p)
		}
		if err != nil {
			ps.logger.Warn("price fetch failed", "market", market, "symbol", symbol, "err", err)
			return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrPriceUnavailable, market, symbol, err)
		}

		now := time.Now()
		ps.store(key, p, now)
		ps.markSuccess(market, now)

		if ps.sharedCache != nil {
			if err := ps.sharedCache.SetPrice(fetchCtx, string(market), symbol, p, now); err != nil {
				ps.logger.Warn("shared price cache write failed", "key", key, "err", err)
			}
		}
		return p, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// History returns up to req.Limit of the most recent bars, oldest first.
// Bars with a missing field are skipped.
func (ps *PriceService) History(ctx context.Context, market domain.Market, symbol string, req domain.HistoryRequest) ([]domain.Candle, error) {
	fetch, ok := ps.history[market]
	if !ok {
		return nil, domain.ErrUnsupportedMarket
	}
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, domain.ErrInvalidSymbol
	}
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("history:%s:%s:%s:%s:%d", market, symbol, req.Interval, req.Range, req.Limit)

	v, err := ps.shared(ctx, key, func(fetchCtx context.Context) (interface{}, error) {
		bars, err := fetch(fetchCtx, symbol, req)
		if err == nil && len(bars) == 0 {
			err = errors.New("no bars")
		}
		if err != nil {
			ps.logger.Warn("history fetch failed", "market", market, "symbol", symbol, "interval", req.Interval, "err", err)
			return nil, fmt.Errorf("%w: %s %s history: %v", domain.ErrPriceUnavailable, market, symbol, err)
		}
		ps.markSuccess(market, time.Now())
		if len(bars) > req.Limit {
			bars = bars[len(bars)-req.Limit:]
		}
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Candle), nil
}

// Signal runs an SMA crossover over the last five days of 15-minute closes.
func (ps *PriceService) Signal(ctx context.Context, market domain.Market, symbol string, fast, slow int) (*domain.Signal, error) {
	if err := domain.ValidateWindows(fast, slow); err != nil {
		return nil, err
	}
	bars, err := ps.History(ctx, market, symbol, domain.HistoryRequest{
		Interval: "15m",
		Range:    "5d",
		Limit:    domain.MaxHistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	closes := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	sig, err := domain.SMACrossover(closes, fast, slow)
	if err != nil {
		return nil, err
	}
	sig.Market = market
	sig.Symbol = normalizeSymbol(symbol)
	return sig, nil
}

// SourceStatus reports, per market, whether a fetch succeeded in the last
// minute.  Used by the back-office health endpoint.
func (ps *PriceService) SourceStatus() map[domain.Market]bool {
	threshold := time.Minute
	ps.statusMu.RLock()
	defer ps.statusMu.RUnlock()

	status := make(map[domain.Market]bool, len(ps.lastSuccess))
	for m, t := range ps.lastSuccess {
		status[m] = !t.IsZero() && time.Since(t) < threshold
	}
	return status
}

func (ps *PriceService) cached(key string) (decimal.Decimal, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	q, ok := ps.cache[key]
	if !ok || time.Since(q.at) >= ps.cfg.CacheTTL {
		return decimal.Zero, false
	}
	return q.price, true
}

func (ps *PriceService) store(key string, p decimal.Decimal, at time.Time) {
	ps.mu.Lock()
	ps.cache[key] = cachedQuote{price: p, at: at}
	ps.mu.Unlock()
}

func (ps *PriceService) markSuccess(market domain.Market, at time.Time) {
	ps.statusMu.Lock()
	ps.lastSuccess[market] = at
	ps.statusMu.Unlock()
}

// shared collapses concurrent calls for key into one upstream fetch.  fn runs
// on a context detached from any single caller and bounded by FetchTimeout;
// each caller stops waiting when its own ctx ends.
func (ps *PriceService) shared(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ch := ps.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := ps.detached(ctx)
		defer cancel()
		return fn(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, ctx.Err())
	}
}

// detached keeps ctx's values but not its cancellation.  A zero FetchTimeout
// leaves the fetch bounded only by the HTTP client.
func (ps *PriceService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if ps.cfg.FetchTimeout > 0 {
		return context.WithTimeout(base, ps.cfg.FetchTimeout)
	}
	return context.WithCancel(base)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (ps *PriceService) fromShared(ctx context.Context, market domain.Market, symbol string) (decimal.Decimal, bool) {
	if ps.sharedCache == nil {
		return decimal.Zero, false
	}
	p, ts, ok, err := ps.sharedCache.GetPrice(ctx, string(market), symbol)
	if err != nil {
		ps.logger.Warn("shared price cache read failed", "market", market, "symbol", symbol, "err", err)
		return decimal.Zero, false
	}
	if !ok || time.Since(ts) >= ps.cfg.CacheTTL {
		return decimal.Zero, false
	}
	return p, true
}

// ──────────────────────────────────────────────────────────────────────────────
// Source fetchers
// ──────────────────────────────────────────────────────────────────────────────

// yahooChartResult is one entry of the chart endpoint's result array.
//
//	GET /v8/finance/chart/AAPL?interval=1m&range=1d
//	{"chart":{"result":[{"meta":{"regularMarketPrice":187.42},
//	  "timestamp":[1718890200,...],
//	  "indicators":{"quote":[{"open":[...],"high":[...],"low":[...],"close":[...]}]}}],
//	 "error":null}}
type yahooChartResult struct {
	Meta struct {
		RegularMarketPrice *json.Number `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open  []*json.Number `json:"open"`
			High  []*json.Number `json:"high"`
			Low   []*json.Number `json:"low"`
			Close []*json.Number `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// fetchYahooChart calls the chart endpoint and returns its first result.
func (ps *PriceService) fetchYahooChart(ctx context.Context, symbol, interval, rng string) (*yahooChartResult, error) {
	u := ps.cfg.YahooURL + "/v8/finance/chart/" + url.PathEscape(symbol) +
		"?interval=" + url.QueryEscape(interval) + "&range=" + url.QueryEscape(rng)
	body, err := ps.doGet(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("yahoo: %w", err)
	}

	var resp struct {
		Chart struct {
			Result []yahooChartResult `json:"result"`
			Error  *struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("yahoo parse: %w", err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo: %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo: empty result")
	}
	return &resp.Chart.Result[0], nil
}

// fetchYahoo prefers regularMarketPrice and falls back to the last non-null
// close.
func (ps *PriceService) fetchYahoo(ctx context.Context, symbol string) (decimal.Decimal, error) {
	r, err := ps.fetchYahooChart(ctx, symbol, "1m", "1d")
	if err != nil {
		return decimal.Zero, err
	}

	raw := r.Meta.RegularMarketPrice
	if raw == nil && len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil {
				raw = closes[i]
				break
			}
		}
	}
	if raw == nil {
		return decimal.Zero, fmt.Errorf("yahoo: no price for %s", symbol)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("yahoo decimal: %w", err)
	}
	return price, nil
}

// fetchYahooHistory zips the timestamp and OHLC arrays into candles.
func (ps *PriceService) fetchYahooHistory(ctx context.Context, symbol string, req domain.HistoryRequest) ([]domain.Candle, error) {
	r, err := ps.fetchYahooChart(ctx, symbol, req.Interval, req.Range)
	if err != nil {
		return nil, err
	}
	if len(r.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := r.Indicators.Quote[0]

	bars := make([]domain.Candle, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(q.Open) || i >= len(q.High) || i >= len(q.Low) || i >= len(q.Close) {
			break
		}
		ohlc, ok := decimals(q.Open[i], q.High[i], q.Low[i], q.Close[i])
		if !ok {
			continue
		}
		bars = append(bars, domain.Candle{Time: ts, Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3]})
	}
	return bars, nil
}

// decimals converts every number, reporting false if any is null or
// malformed.
func decimals(nums ...*json.Number) ([]decimal.Decimal, bool) {
	out := make([]decimal.Decimal, len(nums))
	for i, n := range nums {
		if n == nil {
			return nil, false
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// fetchBinance fetches a spot price from the Binance REST API.  "BTC-USDT"
// and "BTC/USDT" are accepted as aliases of "BTCUSDT".
//
//	GET /api/v3/ticker/price?symbol=BTCUSDT
//	{"symbol":"BTCUSDT","price":"87350.00"}
func (ps *PriceService) fetchBinance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair := strings.NewReplacer("-", "", "/", "").Replace(symbol)
	u := ps.cfg.BinanceURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(pair)
	body, err := ps.doGet(ctx, u)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance decimal: %w", err)
	}
	return price, nil
}

// binanceIntervals maps history intervals onto kline intervals.  Binance has
// no range parameter, so req.Range is ignored and req.Limit bars are asked for.
var binanceIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m", "1h": "1h", "1d": "1d",
}

// fetchBinanceKlines reads candlesticks.
//
//	GET /api/v3/klines?symbol=BTCUSDT&interval=15m&limit=300
//	[[1718890200000,"87000.1","87400.0","86950.5","87350.0","12.3",...],...]
func (ps *PriceService) fetchBinanceKlines(ctx context.Context, symbol string, req domain.HistoryRequest) ([]domain.Candle, error) {
	interval, ok := binanceIntervals[req.Interval]
	if !ok {
		return nil, fmt.Errorf("binance: interval %q", req.Interval)
	}
	pair := strings.NewReplacer("-", "", "/", "").Replace(symbol)
	u := ps.cfg.BinanceURL + "/api/v3/klines?symbol=" + url.QueryEscape(pair) +
		"&interval=" + interval + "&limit=" + strconv.Itoa(req.Limit)
	body, err := ps.doGet(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("binance: %w", err)
	}

	var rows [][]json.RawMessage
	if err = json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance parse: %w", err)
	}

	bars := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("binance: short kline row")
		}
		var openMs int64
		if err = json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("binance open time: %w", err)
		}
		var ohlc [4]decimal.Decimal
		for i := range ohlc {
			var raw string
			if err = json.Unmarshal(row[i+1], &raw); err != nil {
				return nil, fmt.Errorf("binance kline field: %w", err)
			}
			if ohlc[i], err = decimal.NewFromString(raw); err != nil {
				return nil, fmt.Errorf("binance decimal: %w", err)
			}
		}
		bars = append(bars, domain.Candle{Time: openMs / 1000, Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3]})
	}
	return bars, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP helper
// ──────────────────────────────────────────────────────────────────────────────

// doGet performs an HTTP GET with the service's client and returns the body
// bytes, or an error for any non-200 status code.
func (ps *PriceService) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", ps.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := ps.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
