package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/config"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/providers"
	"github.com/upb/agent-safe-grid/services/providers/openai"
)

// simulatedDelay mimics upstream latency for providers answered locally
const simulatedDelay = 1500 * time.Millisecond

// envProviderID names the provider registered from OPENAI_* variables
const envProviderID = "openai"

// NewProviderRegistry builds the provider registry. With a catalog file every
// enabled entry is registered; otherwise a single OpenAI provider is built
// from the environment.
func NewProviderRegistry(cfg config.ProvidersConfig, logger *zap.Logger) (*providers.Registry, error) {
	var catalog []models.LLMProviderConfig
	if cfg.CatalogFile != "" {
		loaded, err := providers.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	} else {
		catalog = []models.LLMProviderConfig{envProvider(cfg.OpenAI)}
	}

	registry := providers.NewRegistry(logger)
	for i := range catalog {
		p := catalog[i]
		adapter := newAdapter(&p, cfg.Timeout, logger)
		if err := registry.RegisterProvider(p, adapter); err != nil {
			return nil, fmt.Errorf("failed to register provider %s: %w", p.ID, err)
		}
		logger.Info("provider registered",
			zap.String("provider_id", p.ID),
			zap.String("kind", string(p.Provider)),
			zap.String("adapter", adapterKind(adapter)))
	}

	if registry.GetProviderCount() == 0 {
		logger.Warn("no LLM providers configured")
	}
	return registry, nil
}

func envProvider(cfg config.OpenAIConfig) models.LLMProviderConfig {
	p := models.LLMProviderConfig{
		ID:            envProviderID,
		Name:          "OpenAI",
		Provider:      models.ProviderOpenAI,
		Enabled:       true,
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		SelectedModel: cfg.Model,
		Priority:      1,
	}
	if cfg.Model != "" {
		p.Models = []string{cfg.Model}
	}
	return p
}

// newAdapter picks the go-openai client for OpenAI-compatible APIs and
// falls back to simulation for providers with no credentials or no client.
func newAdapter(p *models.LLMProviderConfig, timeout time.Duration, logger *zap.Logger) providers.Adapter {
	switch {
	case providers.NeedsSimulation(p):
		logger.Warn("provider has no credentials, using simulation",
			zap.String("provider_id", p.ID))
		return providers.NewSimulatedAdapter(p.Name, simulatedDelay)
	case p.Provider == models.ProviderGoogle || p.Provider == models.ProviderAnthropic:
		logger.Warn("no client for provider kind, using simulation",
			zap.String("provider_id", p.ID),
			zap.String("kind", string(p.Provider)))
		return providers.NewSimulatedAdapter(p.Name, simulatedDelay)
	}

	adapterCfg := openai.ConfigFor(p)
	adapterCfg.Timeout = timeout
	return openai.NewOpenAIAdapter(adapterCfg, logger)
}

func adapterKind(a providers.Adapter) string {
	if _, ok := a.(*providers.SimulatedAdapter); ok {
		return "simulated"
	}
	return "openai"
}
