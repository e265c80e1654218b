package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/internal/observability"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/rules"
)

// FiredRule records one rule whose condition matched
type FiredRule struct {
	RuleID   string          `json:"ruleId"`
	RuleType models.RuleType `json:"ruleType"`
	Name     string          `json:"name"`
	Severity models.Severity `json:"severity"`
	Verdict  rules.Verdict   `json:"verdict"`
}

// EnforcementResult is the outcome of running a policy over one message
type EnforcementResult struct {
	FinalText    string      `json:"finalText"`
	Allowed      bool        `json:"allowed"`
	FiredRules   []FiredRule `json:"firedRules"`
	BlockingRule string      `json:"blockingRule,omitempty"`
	Warnings     []string    `json:"warnings,omitempty"`
}

// Blocking returns the rule that stopped the message
func (r *EnforcementResult) Blocking() (FiredRule, bool) {
	if r.Allowed || len(r.FiredRules) == 0 {
		return FiredRule{}, false
	}
	last := r.FiredRules[len(r.FiredRules)-1]
	return last, last.RuleID == r.BlockingRule
}

// Transforms returns the fired rules that rewrote the text, in order
func (r *EnforcementResult) Transforms() []FiredRule {
	var out []FiredRule
	for _, f := range r.FiredRules {
		if f.Verdict.Action == rules.ActionTransform {
			out = append(out, f)
		}
	}
	return out
}

// Flagged reports whether any rule fired
func (r *EnforcementResult) Flagged() bool {
	return len(r.FiredRules) > 0
}

// Engine runs a tenant's rules in order over one message
type Engine struct {
	registry *rules.Registry
	metrics  *observability.Metrics
	logger   *zap.Logger
	parallel bool
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithParallelPrefix evaluates the leading run of rules that cannot
// rewrite text concurrently. Results are merged back in rule order.
func WithParallelPrefix() EngineOption {
	return func(e *Engine) { e.parallel = true }
}

// WithMetrics records per-rule verdicts and enforcement latency
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over the given evaluator registry
func NewEngine(registry *rules.Registry, logger *zap.Logger, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = rules.NewRegistry()
	}
	e := &Engine{registry: registry, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enforce evaluates the effective rules of cfg against text. Disabled
// rules are skipped, transforms compose left to right and the first block
// stops evaluation. On the output direction only PII rules run.
func (e *Engine) Enforce(ctx context.Context, cfg *models.PolicyConfig, text string, ectx *rules.Context) (*EnforcementResult, error) {
	if cfg == nil {
		return nil, errors.New("policy config is required")
	}
	local := rules.Context{}
	if ectx != nil {
		local = *ectx
	}
	ectx = &local
	if ectx.Direction == "" {
		ectx.Direction = rules.DirectionInput
	}

	start := time.Now()
	defer func() { e.metrics.ObserveEnforcement(time.Since(start)) }()

	active := e.activeRules(cfg, ectx.Direction)
	result := &EnforcementResult{FinalText: text, Allowed: true}

	i := 0
	if e.parallel {
		n := blockOnlyPrefix(active)
		if n > 1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			verdicts := e.evaluateConcurrently(active[:n], text, ectx)
			for j, v := range verdicts {
				if stop := e.apply(result, active[j], v, ectx); stop {
					return result, nil
				}
			}
			i = n
		}
	}

	for ; i < len(active); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := e.registry.Evaluate(active[i], result.FinalText, ectx)
		if stop := e.apply(result, active[i], v, ectx); stop {
			return result, nil
		}
	}
	return result, nil
}

func (e *Engine) activeRules(cfg *models.PolicyConfig, dir rules.Direction) []models.PolicyRule {
	effective := cfg.EffectiveRules()
	active := make([]models.PolicyRule, 0, len(effective))
	for _, rule := range effective {
		if !rule.Enabled {
			continue
		}
		if dir == rules.DirectionOutput && rule.Type != models.RuleTypePII {
			continue
		}
		active = append(active, rule)
	}
	return active
}

// blockOnlyPrefix returns the length of the leading run of rules that
// never transform text
func blockOnlyPrefix(active []models.PolicyRule) int {
	n := 0
	for n < len(active) && !rules.CanTransform(active[n]) {
		n++
	}
	return n
}

func (e *Engine) evaluateConcurrently(batch []models.PolicyRule, text string, ectx *rules.Context) []rules.Verdict {
	verdicts := make([]rules.Verdict, len(batch))
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i] = e.registry.Evaluate(batch[i], text, ectx)
		}(i)
	}
	wg.Wait()
	return verdicts
}

// apply folds one verdict into result and reports whether to stop
func (e *Engine) apply(result *EnforcementResult, rule models.PolicyRule, v rules.Verdict, ectx *rules.Context) bool {
	e.metrics.ObserveRuleEvaluation(string(rule.Type), string(v.Action))

	if v.Err != nil {
		e.logger.Error("rule evaluation failed, blocking",
			zap.String("tenant_id", ectx.TenantID.String()),
			zap.String("rule_id", rule.ID),
			zap.String("rule_type", string(rule.Type)),
			zap.Error(v.Err),
		)
	}

	if !v.Fired {
		return false
	}

	result.FiredRules = append(result.FiredRules, FiredRule{
		RuleID:   rule.ID,
		RuleType: rule.Type,
		Name:     rule.Name,
		Severity: rule.Severity,
		Verdict:  v,
	})

	switch v.Action {
	case rules.ActionBlock:
		result.Allowed = false
		result.BlockingRule = rule.ID
		e.logger.Info("message blocked by rule",
			zap.String("tenant_id", ectx.TenantID.String()),
			zap.String("rule_id", rule.ID),
			zap.String("rule_type", string(rule.Type)),
			zap.String("direction", string(ectx.Direction)),
			zap.String("reason", v.Reason),
		)
		return true
	case rules.ActionTransform:
		result.FinalText = v.TransformedText
		e.logger.Debug("message transformed by rule",
			zap.String("tenant_id", ectx.TenantID.String()),
			zap.String("rule_id", rule.ID),
			zap.String("reason", v.Reason),
		)
	case rules.ActionAllow:
		if v.Reason != "" {
			result.Warnings = append(result.Warnings, v.Reason)
		}
	}
	return false
}
