package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/service"
)

// SourceStatuser reports price-source health.  Implemented by
// service.PriceService.
type SourceStatuser interface {
	SourceStatus() map[domain.Market]bool
}

// ConnCounter reports live WebSocket connections.  Implemented by ws.Hub.
type ConnCounter interface {
	ConnectedCount() int
}

// LeaderboardBroadcaster is implemented by ws.Hub.
type LeaderboardBroadcaster interface {
	BroadcastLeaderboard(entries []*domain.LeaderboardEntry)
}

// DashboardHandler serves the aggregate admin views.
type DashboardHandler struct {
	svc    *service.ChallengeService
	prices SourceStatuser         // optional
	conns  ConnCounter            // optional
	board  LeaderboardBroadcaster // optional
}

// NewDashboardHandler creates a DashboardHandler.  prices, conns and board
// may be nil.
func NewDashboardHandler(
	svc *service.ChallengeService,
	prices SourceStatuser,
	conns ConnCounter,
	board LeaderboardBroadcaster,
) *DashboardHandler {
	return &DashboardHandler{svc: svc, prices: prices, conns: conns, board: board}
}

// Stats godoc
// GET /admin/stats
func (h *DashboardHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.svc.Stats(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	board, err := h.svc.Leaderboard(ctx, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"stats":       stats,
		"leaderboard": board,
	})
}

// Health godoc
// GET /admin/health
func (h *DashboardHandler) Health(c *gin.Context) {
	sources := map[domain.Market]bool{}
	if h.prices != nil {
		sources = h.prices.SourceStatus()
	}
	conns := 0
	if h.conns != nil {
		conns = h.conns.ConnectedCount()
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"price_sources":  sources,
		"ws_connections": conns,
		"server_time":    time.Now().UTC(),
	})
}

// Sweep godoc
// POST /admin/sweep
// Evaluates every active challenge now and pushes the leaderboard when
// anything changed.
func (h *DashboardHandler) Sweep(c *gin.Context) {
	ctx := c.Request.Context()
	changed, err := h.svc.EvaluateAllActive(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if changed > 0 && h.board != nil {
		if board, err := h.svc.Leaderboard(ctx, 0); err == nil {
			h.board.BroadcastLeaderboard(board)
		}
	}
	respondSuccess(c, http.StatusOK, gin.H{"changed": changed})
}
