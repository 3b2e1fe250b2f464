package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/api/middleware"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/service"
)

// TradeHandler serves position open/close, trade history and quotes.
type TradeHandler struct {
	positions  *service.PositionService
	challenges *service.ChallengeService
	oracle     service.PriceOracle
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(positions *service.PositionService, challenges *service.ChallengeService, oracle service.PriceOracle) *TradeHandler {
	return &TradeHandler{positions: positions, challenges: challenges, oracle: oracle}
}

// Open godoc
// POST /api/trades/open [JWT]
// Body: {"challenge_id":"uuid","symbol":"AAPL","side":"BUY","qty":"10","market":"YAHOO"}
func (h *TradeHandler) Open(c *gin.Context) {
	var body struct {
		ChallengeID string `json:"challenge_id" binding:"required"`
		Symbol      string `json:"symbol"       binding:"required"`
		Side        string `json:"side"         binding:"required"`
		Qty         string `json:"qty"          binding:"required"`
		Market      string `json:"market"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	challengeID, err := uuid.Parse(body.ChallengeID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_CHALLENGE_ID", "invalid challenge_id format")
		return
	}
	qty, err := decimal.NewFromString(body.Qty)
	if err != nil {
		respondDomainError(c, domain.ErrInvalidQty, "")
		return
	}
	side, err := domain.ParseSide(body.Side)
	if err != nil {
		respondDomainError(c, err, "")
		return
	}
	market, err := domain.ParseMarket(body.Market)
	if err != nil {
		respondDomainError(c, err, "")
		return
	}

	res, err := h.positions.Open(c.Request.Context(), domain.OpenRequest{
		ChallengeID: challengeID,
		UserID:      middleware.GetUserID(c),
		Symbol:      body.Symbol,
		Side:        side,
		Qty:         qty,
		Market:      market,
	})
	if err != nil {
		respondDomainError(c, err, "could not open trade")
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// Close godoc
// POST /api/trades/:id/close [JWT]
func (h *TradeHandler) Close(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	res, err := h.positions.Close(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		respondDomainError(c, err, "could not close trade")
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// List godoc
// GET /api/trades?challenge_id=uuid [JWT]
func (h *TradeHandler) List(c *gin.Context) {
	var challengeID *uuid.UUID
	if raw := c.Query("challenge_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_CHALLENGE_ID", "invalid challenge_id format")
			return
		}
		challengeID = &id
	}
	trades, err := h.challenges.ListTrades(c.Request.Context(), middleware.GetUserID(c), challengeID)
	if err != nil {
		respondDomainError(c, err, "could not fetch trades")
		return
	}
	respondList(c, trades, len(trades))
}

// Quote godoc
// GET /api/prices/:market/:symbol
func (h *TradeHandler) Quote(c *gin.Context) {
	market, err := domain.ParseMarket(c.Param("market"))
	if err != nil {
		respondDomainError(c, err, "")
		return
	}
	symbol := c.Param("symbol")
	price, err := h.oracle.GetPrice(c.Request.Context(), market, symbol)
	if err != nil {
		respondDomainError(c, err, "could not fetch price")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"market": market,
		"symbol": symbol,
		"price":  price,
	})
}
