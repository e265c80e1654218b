package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/middleware"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/policy"
	"github.com/upb/agent-safe-grid/utils"
)

// PolicyService defines the interface for policy operations
type PolicyService interface {
	// Get returns the tenant's policy, or the default one
	Get(ctx context.Context, tenantID uuid.UUID) (*models.PolicyConfig, error)

	// Save validates and stores the tenant's policy
	Save(ctx context.Context, tenantID uuid.UUID, cfg *models.PolicyConfig) (*models.PolicyConfig, error)

	// SetLegacyFlags edits the simple toggles of a policy without advanced rules
	SetLegacyFlags(ctx context.Context, tenantID uuid.UUID, flags policy.LegacyFlags) (*models.PolicyConfig, error)
}

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	service PolicyService
	logger  *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(service PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGetPolicy handles GET /api/v1/policy
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	cfg, err := h.service.Get(r.Context(), tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, cfg)
}

// HandleSavePolicy handles PUT /api/v1/policy
func (h *PolicyHandler) HandleSavePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	var cfg models.PolicyConfig
	if !decodeBody(w, r, &cfg, h.logger) {
		return
	}

	saved, err := h.service.Save(ctx, tenantID, &cfg)
	if err != nil {
		h.logger.Warn("failed to save policy",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy saved",
		zap.String("request_id", requestID),
		zap.String("tenant_id", tenantID.String()),
		zap.Int("advanced_rules", len(saved.AdvancedRules)))

	_ = utils.WriteOK(w, saved)
}

// HandleSetFlags handles PUT /api/v1/policy/flags
func (h *PolicyHandler) HandleSetFlags(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	var flags policy.LegacyFlags
	if !decodeBody(w, r, &flags, h.logger) {
		return
	}

	saved, err := h.service.SetLegacyFlags(r.Context(), tenantID, flags)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, saved)
}

// HandleCatalog handles GET /api/v1/policy/catalog
func (h *PolicyHandler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, models.RuleCatalog())
}
