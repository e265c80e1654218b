package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/middleware"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/metering"
	"github.com/upb/agent-safe-grid/utils"
)

// BudgetPolicySource supplies the policy budget a ledger is opened with
type BudgetPolicySource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*models.PolicyConfig, error)
}

// SetBudgetRequest changes a tenant's budget
type SetBudgetRequest struct {
	Budget *float64 `json:"budget" validate:"required,gte=0"`
}

// MeteringResponse is a tenant's counters plus the derived utilization
type MeteringResponse struct {
	models.MeteringStats
	Utilization float64 `json:"utilization"`
}

// MeteringHandler exposes the tenant ledger
type MeteringHandler struct {
	ledger   metering.Ledger
	policies BudgetPolicySource
	logger   *zap.Logger
}

// NewMeteringHandler creates a new MeteringHandler
func NewMeteringHandler(ledger metering.Ledger, policies BudgetPolicySource, logger *zap.Logger) *MeteringHandler {
	return &MeteringHandler{
		ledger:   ledger,
		policies: policies,
		logger:   logger,
	}
}

// open makes sure the tenant has counters, seeding them from the policy budget
func (h *MeteringHandler) open(ctx context.Context, tenantID uuid.UUID) (models.MeteringStats, error) {
	cfg, err := h.policies.Get(ctx, tenantID)
	if err != nil {
		return models.MeteringStats{}, err
	}
	return h.ledger.Open(ctx, tenantID, cfg.MaxBudget)
}

func (h *MeteringHandler) write(w http.ResponseWriter, stats models.MeteringStats) {
	if err := utils.WriteOK(w, MeteringResponse{MeteringStats: stats, Utilization: stats.Utilization()}); err != nil {
		h.logger.Error("failed to write metering response", zap.Error(err))
	}
}

// HandleGetStats handles GET /api/v1/metering
func (h *MeteringHandler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	stats, err := h.open(r.Context(), tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.write(w, stats)
}

// HandleSetBudget handles PUT /api/v1/metering/budget
func (h *MeteringHandler) HandleSetBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	var req SetBudgetRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	if _, err := h.open(ctx, tenantID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	stats, err := h.ledger.SetBudget(ctx, tenantID, *req.Budget)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("budget updated",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("tenant_id", tenantID.String()),
		zap.Float64("budget", stats.Budget),
		zap.Float64("budget_remaining", stats.BudgetRemaining))

	h.write(w, stats)
}

// HandleReset handles POST /api/v1/metering/reset
func (h *MeteringHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	if _, err := h.open(ctx, tenantID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	stats, err := h.ledger.Reset(ctx, tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("ledger reset",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("tenant_id", tenantID.String()))

	h.write(w, stats)
}
