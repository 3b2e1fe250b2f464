package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/api/middleware"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/service"
)

// ChallengeAdminHandler serves /admin/challenges.  Every mutation is logged
// with the acting admin's id.
type ChallengeAdminHandler struct {
	svc    *service.ChallengeService
	logger *slog.Logger
}

// NewChallengeAdminHandler creates a ChallengeAdminHandler.
func NewChallengeAdminHandler(svc *service.ChallengeService, logger *slog.Logger) *ChallengeAdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChallengeAdminHandler{svc: svc, logger: logger}
}

// List godoc
// GET /admin/challenges?status=active&user_id=uuid&page=1&limit=50
func (h *ChallengeAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	f := domain.ChallengeFilter{
		Status: domain.ChallengeStatus(c.Query("status")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if raw := c.Query("user_id"); raw != "" {
		uid, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid user_id")
			return
		}
		f.UserID = &uid
	}

	list, err := h.svc.ListAllChallenges(c.Request.Context(), f)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, list, len(list), page, limit)
}

// Detail godoc
// GET /admin/challenges/:id
func (h *ChallengeAdminHandler) Detail(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ch, err := h.svc.GetChallengeAdmin(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	trades, err := h.svc.ListTrades(ctx, ch.UserID, &ch.ID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"challenge":  ch,
		"profit_pct": ch.ProfitPct().Round(2),
		"trades":     trades,
	})
}

// SetStatus godoc
// POST /admin/challenges/:id/status
// Body: {"status":"passed"}
func (h *ChallengeAdminHandler) SetStatus(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	ch, err := h.svc.SetStatus(c.Request.Context(), id, domain.ChallengeStatus(body.Status))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	h.audit(c, "status", id, "status", ch.Status)
	respondSuccess(c, http.StatusOK, ch)
}

// Reset godoc
// POST /admin/challenges/:id/reset
func (h *ChallengeAdminHandler) Reset(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	ch, err := h.svc.Reset(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	h.audit(c, "reset", id)
	respondSuccess(c, http.StatusOK, ch)
}

// AdjustEquity godoc
// POST /admin/challenges/:id/equity
// Body: {"equity":"5250.00"}
func (h *ChallengeAdminHandler) AdjustEquity(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	var body struct {
		Equity string `json:"equity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	equity, err := decimal.NewFromString(body.Equity)
	if err != nil {
		respondDomainError(c, domain.ErrInvalidAmount)
		return
	}

	ch, err := h.svc.AdjustEquity(c.Request.Context(), id, equity)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	h.audit(c, "adjust_equity", id, "equity", equity.String())
	respondSuccess(c, http.StatusOK, ch)
}

// Evaluate godoc
// POST /admin/challenges/:id/evaluate
func (h *ChallengeAdminHandler) Evaluate(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	ch, changed, err := h.svc.Evaluate(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"challenge": ch,
		"changed":   changed,
	})
}

// Delete godoc
// DELETE /admin/challenges/:id
func (h *ChallengeAdminHandler) Delete(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteChallenge(c.Request.Context(), id); err != nil {
		respondDomainError(c, err)
		return
	}
	h.audit(c, "delete", id)
	respondSuccess(c, http.StatusOK, gin.H{"deleted": id})
}

func (h *ChallengeAdminHandler) audit(c *gin.Context, action string, id uuid.UUID, kv ...any) {
	args := append([]any{"action", action, "challenge_id", id, "admin_id", middleware.GetUserID(c)}, kv...)
	h.logger.Info("admin action", args...)
}

func challengeID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid challenge id")
		return uuid.Nil, false
	}
	return id, true
}
