package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

type entry struct {
	config  models.LLMProviderConfig
	adapter Adapter
}

// Registry maps provider ids to an adapter and its configuration. It
// implements ModelAdapter and Catalog.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*entry
	logger    *zap.Logger
}

// NewRegistry creates a new provider registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		providers: make(map[string]*entry),
		logger:    logger,
	}
}

// RegisterProvider registers an adapter under cfg.ID
func (r *Registry) RegisterProvider(cfg models.LLMProviderConfig, adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter cannot be nil")
	}
	if cfg.ID == "" {
		return errors.New("provider id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[cfg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, cfg.ID)
	}
	r.providers[cfg.ID] = &entry{config: cfg, adapter: adapter}
	return nil
}

// UnregisterProvider removes a provider from the registry
func (r *Registry) UnregisterProvider(providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[providerID]; !exists {
		return ErrProviderNotFound
	}
	delete(r.providers, providerID)
	return nil
}

// Lookup returns a copy of the provider configuration
func (r *Registry) Lookup(providerID string) (*models.LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.providers[providerID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	cfg := e.config
	return &cfg, nil
}

// List returns every registered provider ordered by priority, then id
func (r *Registry) List() []models.LLMProviderConfig {
	r.mu.RLock()
	out := make([]models.LLMProviderConfig, 0, len(r.providers))
	for _, e := range r.providers {
		out = append(out, e.config)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetProviderCount returns the number of registered providers
func (r *Registry) GetProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Send routes one turn to the provider's adapter. Adapter failures are
// always returned as *UpstreamError.
func (r *Registry) Send(ctx context.Context, providerID, systemInstruction string, history []models.ChatMessage, message string) (*Completion, error) {
	r.mu.RLock()
	e, exists := r.providers[providerID]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}

	if systemInstruction == "" {
		systemInstruction = DefaultSystemInstruction
	}
	req := &ChatRequest{
		Model:             ResolveModel(&e.config),
		SystemInstruction: systemInstruction,
		History:           ConversationHistory(history),
		Message:           message,
		MaxTokens:         DefaultMaxTokens,
	}

	completion, err := e.adapter.Complete(ctx, req)
	if err != nil {
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			upErr = NewUpstreamError(e.config.Name, 0, err)
		}
		r.logger.Warn("provider call failed",
			zap.String("provider", providerID),
			zap.Int("status_code", upErr.StatusCode),
			zap.Bool("retryable", upErr.Retryable),
			zap.Error(err),
		)
		return nil, upErr
	}
	if completion.Model == "" {
		completion.Model = req.Model
	}
	return completion, nil
}
