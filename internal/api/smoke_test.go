// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// They need no database: the services run on repository.MemoryStore with a
// stub price oracle, and verify
//   - Gin routing and middleware wiring
//   - JWT auth middleware (401 without or with a bad token)
//   - the success/error envelope and the domain error → status mapping
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/api"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/keylock"
	"github.com/tradesense/challenge/internal/repository"
	"github.com/tradesense/challenge/internal/service"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

type stubPrices map[string]decimal.Decimal

func (s stubPrices) GetPrice(_ context.Context, _ domain.Market, symbol string) (decimal.Decimal, error) {
	p, ok := s[symbol]
	if !ok {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return p, nil
}

// stubCharts serves three fixed AAPL bars and a BUY signal.
type stubCharts struct{}

func (stubCharts) History(_ context.Context, _ domain.Market, symbol string, req domain.HistoryRequest) ([]domain.Candle, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if symbol != "AAPL" {
		return nil, domain.ErrPriceUnavailable
	}
	bars := []domain.Candle{
		{Time: 1718890200, Open: decimal.NewFromInt(149), High: decimal.NewFromInt(151), Low: decimal.NewFromInt(148), Close: decimal.NewFromInt(150)},
		{Time: 1718890260, Open: decimal.NewFromInt(150), High: decimal.NewFromInt(152), Low: decimal.NewFromInt(149), Close: decimal.NewFromInt(151)},
		{Time: 1718890320, Open: decimal.NewFromInt(151), High: decimal.NewFromInt(153), Low: decimal.NewFromInt(150), Close: decimal.NewFromInt(152)},
	}
	if len(bars) > req.Limit {
		bars = bars[len(bars)-req.Limit:]
	}
	return bars, nil
}

func (stubCharts) Signal(_ context.Context, market domain.Market, symbol string, fast, slow int) (*domain.Signal, error) {
	if err := domain.ValidateWindows(fast, slow); err != nil {
		return nil, err
	}
	return &domain.Signal{Market: market, Symbol: symbol, Fast: fast, Slow: slow, Signal: domain.SignalBuy, LastPrice: decimal.NewFromInt(152)}, nil
}

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		JWT: config.JWTConfig{
			AccessSecret: "test-access-secret-abcdefghijklmnop",
			AccessTTL:    15 * time.Minute,
			Issuer:       "challenge-ledger",
		},
		Lock:   config.LockConfig{Backend: "memory", WaitTimeout: 5 * time.Second},
		Ledger: config.LedgerConfig{Timezone: "UTC", Location: time.UTC, LeaderboardSize: 10},
	}
}

type testEnv struct {
	h       http.Handler
	auth    *service.AuthService
	starter *domain.Plan
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID, role domain.Role) map[string]string {
	t.Helper()
	tok, err := e.auth.IssueAccessToken(userID, role)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func buildTestRouter(t *testing.T) *testEnv {
	t.Helper()
	cfg := testCfg()
	store := repository.NewMemoryStore()
	locks := keylock.New()
	prices := stubPrices{"AAPL": decimal.NewFromInt(150)}

	challenges := service.NewChallengeService(store, locks, cfg, nil)
	positions := service.NewPositionService(store, locks, prices, cfg, nil)
	starter, err := challenges.CreatePlan(context.Background(), "Starter", decimal.NewFromInt(199), decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	authSvc := service.NewAuthService(cfg)
	r := api.SetupRouter(api.RouterDeps{
		AuthSvc:      authSvc,
		ChallengeSvc: challenges,
		PositionSvc:  positions,
		Prices:       prices,
		Charts:       stubCharts{},
		Cfg:          cfg,
	})
	return &testEnv{h: r, auth: authSvc, starter: starter}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v (body: %s)", err, rr.Body.String())
	}
	return m
}

func dataOf(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	body := decodeBody(t, rr)
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %v", body)
	}
	return data
}

// checkout buys the starter plan for the caller and returns the challenge id.
func (e *testEnv) checkout(t *testing.T, hdr map[string]string) string {
	t.Helper()
	rr := do(t, e.h, http.MethodPost, "/api/checkout", `{"plan_id":"`+e.starter.ID.String()+`"}`, hdr)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /api/checkout = %d, want 201 (body: %s)", rr.Code, rr.Body.String())
	}
	return dataOf(t, rr)["id"].(string)
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

// ── JWT auth middleware ───────────────────────────────────────────────────────

func TestProtectedRoutes_NoToken_Returns401(t *testing.T) {
	env := buildTestRouter(t)
	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/challenges"},
		{http.MethodPost, "/api/checkout"},
		{http.MethodGet, "/api/trades"},
		{http.MethodPost, "/api/trades/open"},
		{http.MethodPost, "/api/trades/" + uuid.NewString() + "/close"},
	}
	for _, r := range routes {
		rr := do(t, env.h, r.method, r.path, `{}`, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", r.method, r.path, rr.Code)
		}
	}
}

func TestOpen_InvalidToken_Returns401(t *testing.T) {
	env := buildTestRouter(t)
	// Well-formed header and payload, wrong signature.
	fakeJWT := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9" +
		".eyJzdWIiOiIxMjM0NTY3ODkwIiwicm9sZSI6InVzZXIiLCJ0eXBlIjoiYWNjZXNzIn0" +
		".BADSIG"
	rr := do(t, env.h, http.MethodPost, "/api/trades/open", `{}`, map[string]string{
		"Authorization": "Bearer " + fakeJWT,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/trades/open with invalid JWT = %d, want 401", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != "ERR_TOKEN_INVALID" {
		t.Errorf("code = %v, want ERR_TOKEN_INVALID", body["code"])
	}
}

// ── Public endpoints ──────────────────────────────────────────────────────────

func TestPublicEndpoints(t *testing.T) {
	env := buildTestRouter(t)
	for _, path := range []string{"/api/plans", "/api/leaderboard", "/api/prices/yahoo/AAPL"} {
		rr := do(t, env.h, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rr.Code)
		}
	}

	rr := do(t, env.h, http.MethodGet, "/api/prices/yahoo/NOPE", "", nil)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("quote for unknown symbol = %d, want 502", rr.Code)
	}
	rr = do(t, env.h, http.MethodGet, "/api/prices/nasdaq/AAPL", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("quote on unsupported market = %d, want 400", rr.Code)
	}
}

// ── Trading flow ──────────────────────────────────────────────────────────────

func TestTradingFlow(t *testing.T) {
	env := buildTestRouter(t)
	hdr := env.token(t, uuid.New(), domain.RoleUser)
	challengeID := env.checkout(t, hdr)

	rr := do(t, env.h, http.MethodPost, "/api/trades/open",
		`{"challenge_id":"`+challengeID+`","symbol":"aapl","side":"buy","qty":"10"}`, hdr)
	if rr.Code != http.StatusCreated {
		t.Fatalf("open = %d, want 201 (body: %s)", rr.Code, rr.Body.String())
	}
	opened := dataOf(t, rr)
	if got := opened["remaining_equity"]; got != "3500" {
		t.Errorf("remaining_equity = %v, want 3500", got)
	}
	tradeID := opened["trade_id"].(string)

	rr = do(t, env.h, http.MethodGet, "/api/trades?challenge_id="+challengeID, "", hdr)
	if rr.Code != http.StatusOK {
		t.Fatalf("list trades = %d, want 200", rr.Code)
	}
	if total := decodeBody(t, rr)["meta"].(map[string]interface{})["total"]; total != float64(1) {
		t.Errorf("trade count = %v, want 1", total)
	}

	rr = do(t, env.h, http.MethodPost, "/api/trades/"+tradeID+"/close", "", hdr)
	if rr.Code != http.StatusOK {
		t.Fatalf("close = %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	closed := dataOf(t, rr)
	if closed["equity"] != "5000" || closed["challenge_status"] != "active" {
		t.Errorf("close result = %v, want equity 5000 and active", closed)
	}

	rr = do(t, env.h, http.MethodPost, "/api/trades/"+tradeID+"/close", "", hdr)
	if rr.Code != http.StatusConflict {
		t.Errorf("second close = %d, want 409", rr.Code)
	}
}

func TestOpen_ErrorMapping(t *testing.T) {
	env := buildTestRouter(t)
	hdr := env.token(t, uuid.New(), domain.RoleUser)
	challengeID := env.checkout(t, hdr)

	cases := []struct {
		name string
		body string
		want int
		code string
	}{
		{"missing fields", `{}`, http.StatusBadRequest, "ERR_VALIDATION"},
		{"bad qty", `{"challenge_id":"` + challengeID + `","symbol":"AAPL","side":"BUY","qty":"ten"}`, http.StatusBadRequest, "ERR_INVALID_QTY"},
		{"zero qty", `{"challenge_id":"` + challengeID + `","symbol":"AAPL","side":"BUY","qty":"0"}`, http.StatusBadRequest, "ERR_INVALID_QTY"},
		{"bad side", `{"challenge_id":"` + challengeID + `","symbol":"AAPL","side":"HOLD","qty":"1"}`, http.StatusBadRequest, "ERR_INVALID_SIDE"},
		{"too expensive", `{"challenge_id":"` + challengeID + `","symbol":"AAPL","side":"BUY","qty":"40"}`, http.StatusPaymentRequired, "ERR_INSUFFICIENT_FUNDS"},
		{"no price", `{"challenge_id":"` + challengeID + `","symbol":"NOPE","side":"BUY","qty":"1"}`, http.StatusBadGateway, "ERR_PRICE_UNAVAILABLE"},
		{"unknown challenge", `{"challenge_id":"` + uuid.NewString() + `","symbol":"AAPL","side":"BUY","qty":"1"}`, http.StatusNotFound, "ERR_CHALLENGE_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, env.h, http.MethodPost, "/api/trades/open", tc.body, hdr)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d (body: %s)", rr.Code, tc.want, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["success"] != false || body["code"] != tc.code {
				t.Errorf("envelope = %v, want success=false code=%s", body, tc.code)
			}
		})
	}
}

func TestOwnership(t *testing.T) {
	env := buildTestRouter(t)
	owner := env.token(t, uuid.New(), domain.RoleUser)
	other := env.token(t, uuid.New(), domain.RoleUser)
	challengeID := env.checkout(t, owner)

	rr := do(t, env.h, http.MethodGet, "/api/challenges/"+challengeID, "", other)
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign challenge = %d, want 404", rr.Code)
	}

	rr = do(t, env.h, http.MethodPost, "/api/trades/open",
		`{"challenge_id":"`+challengeID+`","symbol":"AAPL","side":"BUY","qty":"1"}`, owner)
	tradeID := dataOf(t, rr)["trade_id"].(string)

	rr = do(t, env.h, http.MethodPost, "/api/trades/"+tradeID+"/close", "", other)
	if rr.Code != http.StatusForbidden {
		t.Errorf("closing a foreign trade = %d, want 403", rr.Code)
	}

	rr = do(t, env.h, http.MethodGet, "/api/challenges", "", other)
	if total := decodeBody(t, rr)["meta"].(map[string]interface{})["total"]; total != float64(0) {
		t.Errorf("other user sees %v challenges, want 0", total)
	}
}

func TestUpgrade_RequiresSuperiorPlan(t *testing.T) {
	env := buildTestRouter(t)
	hdr := env.token(t, uuid.New(), domain.RoleUser)
	challengeID := env.checkout(t, hdr)

	rr := do(t, env.h, http.MethodPost, "/api/challenges/"+challengeID+"/upgrade",
		`{"plan_id":"`+env.starter.ID.String()+`"}`, hdr)
	if rr.Code != http.StatusConflict {
		t.Errorf("upgrade to same plan = %d, want 409", rr.Code)
	}

	rr = do(t, env.h, http.MethodPost, "/api/challenges/not-a-uuid/upgrade", `{"plan_id":"x"}`, hdr)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("upgrade with bad id = %d, want 400", rr.Code)
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	env := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/trades/open", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("OPTIONS /api/trades/open = %d, want 204", rr.Code)
	}
	allow := rr.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allow, "POST") {
		t.Errorf("Access-Control-Allow-Methods missing POST, got %q", allow)
	}
}

func TestCORSAllowOrigin_Dev(t *testing.T) {
	env := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.h.ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Dev CORS origin = %q, want *", origin)
	}
}

// ── Charts ────────────────────────────────────────────────────────────────────

func TestHistoryEndpoint(t *testing.T) {
	env := buildTestRouter(t)

	rr := do(t, env.h, http.MethodGet, "/api/prices/YAHOO/AAPL/history?interval=5m&limit=2", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history = %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	points, ok := dataOf(t, rr)["points"].([]interface{})
	if !ok || len(points) != 2 {
		t.Fatalf("points = %v, want 2 bars", points)
	}
	last := points[1].(map[string]interface{})
	if last["close"] != "152" || last["time"] != float64(1718890320) {
		t.Errorf("last bar = %v", last)
	}

	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"/api/prices/YAHOO/AAPL/history?interval=2m", http.StatusBadRequest, "ERR_INVALID_INTERVAL"},
		{"/api/prices/YAHOO/AAPL/history?limit=lots", http.StatusBadRequest, "ERR_VALIDATION"},
		{"/api/prices/BVC/IAM/history", http.StatusBadRequest, "ERR_UNSUPPORTED_MARKET"},
		{"/api/prices/YAHOO/NOPE/history", http.StatusBadGateway, "ERR_PRICE_UNAVAILABLE"},
	}
	for _, tc := range cases {
		rr := do(t, env.h, http.MethodGet, tc.path, "", nil)
		if rr.Code != tc.status {
			t.Errorf("GET %s = %d, want %d", tc.path, rr.Code, tc.status)
			continue
		}
		if got := decodeBody(t, rr)["code"]; got != tc.code {
			t.Errorf("GET %s code = %v, want %s", tc.path, got, tc.code)
		}
	}
}

func TestSignalEndpoint(t *testing.T) {
	env := buildTestRouter(t)

	rr := do(t, env.h, http.MethodGet, "/api/signals/AAPL", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("signal = %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	data := dataOf(t, rr)
	if data["signal"] != "BUY" || data["fast"] != float64(5) || data["slow"] != float64(20) || data["market"] != "YAHOO" {
		t.Errorf("signal body = %v", data)
	}

	rr = do(t, env.h, http.MethodGet, "/api/signals/AAPL?fast=30&slow=10", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad windows = %d, want 400", rr.Code)
	}
	rr = do(t, env.h, http.MethodGet, "/api/signals/AAPL?market=BVC", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unsupported market = %d, want 400", rr.Code)
	}
}
