package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
	"github.com/upb/agent-safe-grid/services"
)

// LegacyFlags is the simple toggle view of a policy. Nil fields are left unchanged.
type LegacyFlags struct {
	PIIRedaction       *bool    `json:"piiRedaction,omitempty"`
	JailbreakDetection *bool    `json:"jailbreakDetection,omitempty"`
	TopicConstraint    *bool    `json:"topicConstraint,omitempty"`
	AuditLogging       *bool    `json:"auditLogging,omitempty"`
	MaxBudget          *float64 `json:"maxBudget,omitempty" validate:"omitempty,gte=0"`
}

// Service reads and writes tenant policies
type Service struct {
	repo   repositories.PolicyConfigRepository
	cache  *PolicyCache
	logger *zap.Logger
	now    func() time.Time

	defaultBudget *float64
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithDefaultBudget sets the maxBudget handed to tenants with no stored policy
func WithDefaultBudget(budget float64) ServiceOption {
	return func(s *Service) { s.defaultBudget = &budget }
}

// NewService creates a new policy service
func NewService(repo repositories.PolicyConfigRepository, cache *PolicyCache, logger *zap.Logger, opts ...ServiceOption) *Service {
	if cache == nil {
		cache = NewPolicyCache(1000, 5*time.Minute)
	}
	s := &Service{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) defaultConfig() *models.PolicyConfig {
	cfg := models.DefaultPolicyConfig()
	if s.defaultBudget != nil {
		cfg.MaxBudget = *s.defaultBudget
	}
	return cfg
}

// Get returns the tenant's policy. Tenants without a stored policy get
// the default one.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (*models.PolicyConfig, error) {
	if cached := s.cache.Get(tenantID); cached != nil {
		return cached, nil
	}

	cfg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
		s.logger.Debug("no stored policy, using default",
			zap.String("tenant_id", tenantID.String()))
		cfg = s.defaultConfig()
	}

	s.cache.Set(tenantID, cfg)
	return cfg, nil
}

// Save validates cfg, recomputes the derived legacy flags and stores it
func (s *Service) Save(ctx context.Context, tenantID uuid.UUID, cfg *models.PolicyConfig) (*models.PolicyConfig, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	prev, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stored := cfg.Clone()
	if stored.AdvancedRules == nil {
		stored.AdvancedRules = []models.PolicyRule{}
	}
	stored.ReconcileLegacyFlags(prev)
	stored.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, tenantID, stored); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}
	s.cache.Invalidate(tenantID)

	s.logger.Info("policy saved",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("rules", len(stored.AdvancedRules)),
		zap.Bool("pii_redaction", stored.PIIRedaction),
		zap.Bool("jailbreak_detection", stored.JailbreakDetection),
		zap.Float64("max_budget", stored.MaxBudget),
	)
	return stored, nil
}

// SetLegacyFlags edits the simple toggles. Once advanced rules exist the
// toggles are derived from them and this returns ErrLegacyFlagsLocked.
func (s *Service) SetLegacyFlags(ctx context.Context, tenantID uuid.UUID, flags LegacyFlags) (*models.PolicyConfig, error) {
	current, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if current.HasAdvancedRules() {
		return nil, services.ErrLegacyFlagsLocked
	}

	if flags.PIIRedaction != nil {
		current.PIIRedaction = *flags.PIIRedaction
	}
	if flags.JailbreakDetection != nil {
		current.JailbreakDetection = *flags.JailbreakDetection
	}
	if flags.TopicConstraint != nil {
		current.TopicConstraint = *flags.TopicConstraint
	}
	if flags.AuditLogging != nil {
		current.AuditLogging = *flags.AuditLogging
	}
	if flags.MaxBudget != nil {
		current.MaxBudget = *flags.MaxBudget
	}
	return s.Save(ctx, tenantID, current)
}

// ListTenants returns tenants with a stored policy
func (s *Service) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListTenants(ctx)
}

// Invalidate drops the cached policy for a tenant
func (s *Service) Invalidate(tenantID uuid.UUID) {
	s.cache.Invalidate(tenantID)
}

// CacheStats returns cache statistics
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// StartCacheCleanup runs the cache cleanup worker until stopCh closes
func (s *Service) StartCacheCleanup(interval time.Duration, stopCh <-chan struct{}) {
	s.logger.Info("started policy cache cleanup worker",
		zap.Duration("interval", interval))
	s.cache.StartCleanupWorker(interval, stopCh)
}
