// Package gateway runs one chat turn through the enforcement pipeline:
// policy, budget projection, model call, metering and audit.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/internal/observability"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services"
	"github.com/upb/agent-safe-grid/services/audit"
	"github.com/upb/agent-safe-grid/services/metering"
	"github.com/upb/agent-safe-grid/services/policy"
	"github.com/upb/agent-safe-grid/services/providers"
	"github.com/upb/agent-safe-grid/services/rules"
)

// PolicySource returns a tenant's effective policy
type PolicySource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*models.PolicyConfig, error)
}

// Config holds pipeline settings
type Config struct {
	// ProviderTimeout bounds the model call
	ProviderTimeout time.Duration
	// ProjectedCompletionTokens is added to the prompt estimate when
	// projecting the cost of a turn
	ProjectedCompletionTokens int64
	// DefaultCostPer1k prices providers that declare no cost
	DefaultCostPer1k float64
}

// DefaultConfig returns the default pipeline settings
func DefaultConfig() Config {
	return Config{
		ProviderTimeout:           10 * time.Second,
		ProjectedCompletionTokens: 2048,
		DefaultCostPer1k:          0.0001,
	}
}

// TurnRequest is one user message addressed to a provider
type TurnRequest struct {
	TenantID          uuid.UUID
	UserID            string
	Role              string
	Permission        string
	Country           string
	ProviderID        string
	SystemInstruction string
	History           []models.ChatMessage
	Message           string
	RequestID         string
}

// TurnResult is the outcome of an allowed turn
type TurnResult struct {
	UserMessage       models.ChatMessage        `json:"userMessage"`
	Message           models.ChatMessage        `json:"message"`
	Enforcement       *policy.EnforcementResult `json:"enforcement"`
	OutputEnforcement *policy.EnforcementResult `json:"outputEnforcement,omitempty"`
	Stats             models.MeteringStats      `json:"stats"`
	Cost              float64                   `json:"cost"`
}

// Service is the turn pipeline
type Service struct {
	policies PolicySource
	engine   *policy.Engine
	ledger   metering.Ledger
	audit    audit.Sink
	adapter  providers.ModelAdapter
	catalog  providers.Catalog
	metrics  *observability.Metrics
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the gateway pipeline
func NewService(
	policies PolicySource,
	engine *policy.Engine,
	ledger metering.Ledger,
	sink audit.Sink,
	adapter providers.ModelAdapter,
	catalog providers.Catalog,
	metrics *observability.Metrics,
	config Config,
	logger *zap.Logger,
) *Service {
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	return &Service{
		policies: policies,
		engine:   engine,
		ledger:   ledger,
		audit:    sink,
		adapter:  adapter,
		catalog:  catalog,
		metrics:  metrics,
		config:   config,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Chat runs one turn. A blocked turn returns a PolicyViolation error after
// its violation entry is written. A failed model call returns an
// UpstreamError and is never debited. A turn canceled by the caller
// records nothing.
func (s *Service) Chat(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, services.ErrEmptyMessage
	}

	log := s.logger.With(
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("request_id", req.RequestID),
		zap.String("provider", req.ProviderID),
	)

	cfg, err := s.policies.Get(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	provider, err := s.catalog.Lookup(req.ProviderID)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "provider not found", err).
			WithDetail("provider", req.ProviderID)
	}
	costPer1k := provider.CostPer1k
	if costPer1k <= 0 {
		costPer1k = s.config.DefaultCostPer1k
	}

	stats, err := s.ledger.Open(ctx, req.TenantID, cfg.MaxBudget)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	ectx := &rules.Context{
		TenantID:      req.TenantID,
		UserRole:      req.Role,
		Permission:    req.Permission,
		Country:       req.Country,
		Now:           s.now(),
		Direction:     rules.DirectionInput,
		Ledger:        stats,
		ProjectedCost: metering.ProjectedCost(req.Message, s.config.ProjectedCompletionTokens, costPer1k),
		Provider:      provider,
	}
	log.Debug("enforcing input policy", zap.Float64("projected_cost", ectx.ProjectedCost))

	in, err := s.engine.Enforce(ctx, cfg, req.Message, ectx)
	if err != nil {
		return nil, err
	}
	if !in.Allowed {
		return nil, s.recordBlock(ctx, req, in, req.Message)
	}

	userMsg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   in.FinalText,
		Timestamp: ectx.Now,
		Flagged:   in.Flagged(),
		Redacted:  len(in.Transforms()) > 0,
	}
	if userMsg.Redacted {
		if _, err := s.record(ctx, req, redactionEntry(in, req.UserID, req.Message, "prompt")); err != nil {
			return nil, err
		}
	}

	completion, err := s.callModel(ctx, req, provider, in.FinalText)
	if err != nil && ctx.Err() != nil {
		log.Info("turn canceled by caller", zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}

	// The call has resolved; the writes below must not be cut short.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		upErr := services.NewUpstreamError(provider.Name, err)
		log.Warn("model call failed", zap.Error(err))
		if _, recErr := s.record(ctx, req, audit.EntryInput{
			Action:  models.ActionModelError,
			User:    provider.Name,
			Details: fmt.Sprintf("Model call to %s failed: %v", provider.Name, err),
			Status:  models.AuditStatusError,
		}); recErr != nil {
			return nil, recErr
		}
		return nil, upErr
	}

	stats, cost, err := s.ledger.Record(ctx, req.TenantID, completion.Tokens, costPer1k)
	if err != nil {
		return nil, services.WrapInternal("failed to record usage", err)
	}
	log.Debug("usage recorded",
		zap.Int64("tokens", completion.Tokens),
		zap.Float64("cost", cost),
		zap.Float64("budget_remaining", stats.BudgetRemaining),
	)

	entry, err := s.record(ctx, req, audit.EntryInput{
		Action:       models.ActionModelInference,
		User:         provider.Name,
		Details:      fmt.Sprintf("Generated %d tokens via %s", completion.Tokens, completion.Model),
		Status:       models.AuditStatusSuccess,
		SigningInput: completion.Text,
	})
	if err != nil {
		return nil, err
	}

	out, err := s.enforceOutput(ctx, req, cfg, ectx, completion.Text)
	if err != nil {
		return nil, err
	}

	return &TurnResult{
		UserMessage: userMsg,
		Message: models.ChatMessage{
			ID:        uuid.NewString(),
			Role:      models.RoleModel,
			Content:   out.FinalText,
			Timestamp: entry.Timestamp,
			Provider:  provider.Name,
			Tokens:    int(completion.Tokens),
			Signature: entry.Hash,
			Flagged:   out.Flagged(),
			Redacted:  len(out.Transforms()) > 0,
		},
		Enforcement:       in,
		OutputEnforcement: out,
		Stats:             stats,
		Cost:              cost,
	}, nil
}

// callModel invokes the adapter under the provider timeout
func (s *Service) callModel(ctx context.Context, req TurnRequest, provider *models.LLMProviderConfig, text string) (*providers.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	start := time.Now()
	completion, err := s.adapter.Send(callCtx, req.ProviderID, req.SystemInstruction, req.History, text)

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	s.metrics.RecordModelCall(provider.Name, status, time.Since(start))
	return completion, err
}

// enforceOutput applies output-scoped rules to the model response. A
// response-side block is recorded and returned like an input block.
func (s *Service) enforceOutput(ctx context.Context, req TurnRequest, cfg *models.PolicyConfig, ectx *rules.Context, text string) (*policy.EnforcementResult, error) {
	outCtx := *ectx
	outCtx.Direction = rules.DirectionOutput

	out, err := s.engine.Enforce(ctx, cfg, text, &outCtx)
	if err != nil {
		return nil, err
	}
	if !out.Allowed {
		return nil, s.recordBlock(ctx, req, out, text)
	}
	if len(out.Transforms()) > 0 {
		if _, err := s.record(ctx, req, redactionEntry(out, req.UserID, text, "response")); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// recordBlock writes the violation entry for a blocked message and returns
// the PolicyViolation error for the caller
func (s *Service) recordBlock(ctx context.Context, req TurnRequest, result *policy.EnforcementResult, content string) error {
	fired, _ := result.Blocking()
	reason := fired.Verdict.Reason

	if _, err := s.record(ctx, req, audit.EntryInput{
		Action:       models.ActionPolicyViolation,
		User:         req.UserID,
		Details:      fmt.Sprintf("Blocked by rule %s (%s, severity %s): %s", fired.RuleID, fired.RuleType, fired.Severity, reason),
		Status:       models.AuditStatusViolation,
		RuleID:       fired.RuleID,
		SigningInput: content,
	}); err != nil {
		return err
	}

	return services.NewPolicyViolationError(fired.RuleID, string(fired.RuleType), string(fired.Severity), reason)
}

// record appends one audit entry; a failed write fails the turn
func (s *Service) record(ctx context.Context, req TurnRequest, in audit.EntryInput) (*models.AuditLogEntry, error) {
	in.RequestID = req.RequestID
	entry, err := s.audit.Record(ctx, req.TenantID, in)
	if err != nil {
		s.logger.Error("failed to write audit entry",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("request_id", req.RequestID),
			zap.String("action", in.Action),
			zap.Error(err),
		)
		return nil, services.WrapInternal("failed to write audit entry", err)
	}
	return entry, nil
}

func redactionEntry(result *policy.EnforcementResult, user, original, where string) audit.EntryInput {
	transforms := result.Transforms()
	ids := make([]string, len(transforms))
	action := models.ActionContentRedaction
	for i, f := range transforms {
		ids[i] = f.RuleID
		if f.RuleType == models.RuleTypePII {
			action = models.ActionPIIRedaction
		}
	}
	return audit.EntryInput{
		Action:       action,
		User:         user,
		Details:      fmt.Sprintf("Redacted sensitive data in %s (rules: %s)", where, strings.Join(ids, ", ")),
		Status:       models.AuditStatusViolation,
		RuleID:       ids[0],
		SigningInput: original,
	}
}
