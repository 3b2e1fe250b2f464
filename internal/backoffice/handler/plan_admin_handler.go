package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/service"
)

// PlanAdminHandler serves /admin/plans.
type PlanAdminHandler struct {
	svc *service.ChallengeService
}

// NewPlanAdminHandler creates a PlanAdminHandler.
func NewPlanAdminHandler(svc *service.ChallengeService) *PlanAdminHandler {
	return &PlanAdminHandler{svc: svc}
}

// List godoc
// GET /admin/plans
func (h *PlanAdminHandler) List(c *gin.Context) {
	plans, err := h.svc.ListPlans(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, plans, len(plans), 1, len(plans))
}

// Create godoc
// POST /admin/plans [superadmin]
// Body: {"name":"Elite","price":"799","starting_balance":"20000"}
func (h *PlanAdminHandler) Create(c *gin.Context) {
	var body struct {
		Name            string `json:"name"             binding:"required"`
		Price           string `json:"price"            binding:"required"`
		StartingBalance string `json:"starting_balance" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		respondDomainError(c, domain.ErrInvalidAmount)
		return
	}
	balance, err := decimal.NewFromString(body.StartingBalance)
	if err != nil {
		respondDomainError(c, domain.ErrInvalidAmount)
		return
	}

	plan, err := h.svc.CreatePlan(c.Request.Context(), body.Name, price, balance)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, plan)
}
