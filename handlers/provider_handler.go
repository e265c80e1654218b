package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/utils"
)

// ProviderLister lists the configured providers
type ProviderLister interface {
	List() []models.LLMProviderConfig
}

// ProviderHandler exposes the provider catalog
type ProviderHandler struct {
	providers ProviderLister
	logger    *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(providers ProviderLister, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		providers: providers,
		logger:    logger,
	}
}

// HandleList handles GET /api/v1/providers. Credentials are never returned.
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTenant(w, r, h.logger); !ok {
		return
	}

	list := h.providers.List()
	for i := range list {
		list[i].APIKey = ""
	}
	_ = utils.WriteOK(w, list)
}
