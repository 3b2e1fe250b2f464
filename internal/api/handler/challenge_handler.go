package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tradesense/challenge/internal/api/middleware"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/service"
)

// ChallengeHandler serves plans, checkout, the caller's challenges and the
// public leaderboard.
type ChallengeHandler struct {
	svc *service.ChallengeService
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(svc *service.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{svc: svc}
}

// ListPlans godoc
// GET /api/plans
func (h *ChallengeHandler) ListPlans(c *gin.Context) {
	plans, err := h.svc.ListPlans(c.Request.Context())
	if err != nil {
		respondDomainError(c, err, "could not fetch plans")
		return
	}
	respondList(c, plans, len(plans))
}

// Checkout godoc
// POST /api/checkout [JWT]
// Body: {"plan_id":"uuid"}
func (h *ChallengeHandler) Checkout(c *gin.Context) {
	var body struct {
		PlanID string `json:"plan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	planID, err := uuid.Parse(body.PlanID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PLAN_ID", "invalid plan_id format")
		return
	}

	ch, err := h.svc.CreateChallenge(c.Request.Context(), middleware.GetUserID(c), planID)
	if err != nil {
		respondDomainError(c, err, "could not create challenge")
		return
	}
	respondSuccess(c, http.StatusCreated, ch)
}

// List godoc
// GET /api/challenges [JWT]
func (h *ChallengeHandler) List(c *gin.Context) {
	list, err := h.svc.ListChallenges(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondDomainError(c, err, "could not fetch challenges")
		return
	}
	respondList(c, list, len(list))
}

// Get godoc
// GET /api/challenges/:id [JWT]
func (h *ChallengeHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ch, err := h.svc.GetChallenge(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		respondDomainError(c, err, "could not fetch challenge")
		return
	}
	respondSuccess(c, http.StatusOK, ch)
}

// Upgrade godoc
// POST /api/challenges/:id/upgrade [JWT]
// Body: {"plan_id":"uuid"}
func (h *ChallengeHandler) Upgrade(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body struct {
		PlanID string `json:"plan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	planID, err := uuid.Parse(body.PlanID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PLAN_ID", "invalid plan_id format")
		return
	}

	ch, err := h.svc.Upgrade(c.Request.Context(), domain.UpgradeRequest{
		ChallengeID: id,
		UserID:      middleware.GetUserID(c),
		NewPlanID:   planID,
	})
	if err != nil {
		respondDomainError(c, err, "could not upgrade challenge")
		return
	}
	respondSuccess(c, http.StatusOK, ch)
}

// Leaderboard godoc
// GET /api/leaderboard?limit=10
func (h *ChallengeHandler) Leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit > 100 {
		limit = 100
	}
	board, err := h.svc.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondDomainError(c, err, "could not fetch leaderboard")
		return
	}
	respondList(c, board, len(board))
}

// pathUUID parses a path parameter, writing a 400 on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
