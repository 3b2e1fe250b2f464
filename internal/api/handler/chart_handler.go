package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/service"
)

// ChartHandler serves bar history and indicator signals.  Neither endpoint
// touches a challenge.
type ChartHandler struct {
	charts service.ChartSource
}

// NewChartHandler creates a ChartHandler.
func NewChartHandler(charts service.ChartSource) *ChartHandler {
	return &ChartHandler{charts: charts}
}

// History godoc
// GET /api/prices/:market/:symbol/history?interval=1m&range=1d&limit=300
func (h *ChartHandler) History(c *gin.Context) {
	market, err := domain.ParseMarket(c.Param("market"))
	if err != nil {
		respondDomainError(c, err, "")
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	req := domain.HistoryRequest{
		Interval: c.Query("interval"),
		Range:    c.DefaultQuery("range", c.Query("period")),
		Limit:    limit,
	}

	symbol := c.Param("symbol")
	bars, err := h.charts.History(c.Request.Context(), market, symbol, req)
	if err != nil {
		respondDomainError(c, err, "could not fetch history")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"market": market,
		"symbol": symbol,
		"points": bars,
	})
}

// Signal godoc
// GET /api/signals/:symbol?market=YAHOO&fast=5&slow=20
func (h *ChartHandler) Signal(c *gin.Context) {
	market, err := domain.ParseMarket(c.Query("market"))
	if err != nil {
		respondDomainError(c, err, "")
		return
	}
	fast, ok := queryInt(c, "fast", domain.DefaultFastWindow)
	if !ok {
		return
	}
	slow, ok := queryInt(c, "slow", domain.DefaultSlowWindow)
	if !ok {
		return
	}

	sig, err := h.charts.Signal(c.Request.Context(), market, c.Param("symbol"), fast, slow)
	if err != nil {
		respondDomainError(c, err, "could not compute signal")
		return
	}
	respondSuccess(c, http.StatusOK, sig)
}

// queryInt reads an optional integer query parameter, writing a 400 when it
// is malformed.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", name+" must be an integer")
		return 0, false
	}
	return v, true
}
