// Package rules implements one evaluator per policy rule type. Evaluators
// are pure: they read the rule config, the message text and the request
// context, and return a Verdict without side effects.
package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upb/agent-safe-grid/models"
)

// Action is the outcome an evaluator asks the engine to apply
type Action string

const (
	ActionAllow     Action = "allow"
	ActionTransform Action = "transform"
	ActionBlock     Action = "block"
)

// Direction tells evaluators whether they see the prompt or the model response
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Verdict is the result of evaluating one rule against one message
type Verdict struct {
	Fired           bool   `json:"fired"`
	Action          Action `json:"action"`
	TransformedText string `json:"transformedText,omitempty"`
	Reason          string `json:"reason,omitempty"`
	// Err is set when the verdict was produced by the fail-closed path.
	Err error `json:"-"`
}

// Allow is the verdict for a rule whose condition did not match
func Allow() Verdict {
	return Verdict{Action: ActionAllow}
}

// Block builds a fired blocking verdict
func Block(format string, args ...interface{}) Verdict {
	return Verdict{Fired: true, Action: ActionBlock, Reason: fmt.Sprintf(format, args...)}
}

// Context carries the request facts that non-text rules inspect
type Context struct {
	TenantID   uuid.UUID
	UserRole   string
	Permission string
	Country    string
	Now        time.Time
	Direction  Direction

	// Ledger is the tenant's usage before this turn; ProjectedCost is the
	// estimated cost of the turn being evaluated.
	Ledger        models.MeteringStats
	ProjectedCost float64

	Provider *models.LLMProviderConfig
}

// Evaluator checks a single rule type
type Evaluator interface {
	Evaluate(cfg models.RuleConfig, text string, ectx *Context) (Verdict, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface
type EvaluatorFunc func(cfg models.RuleConfig, text string, ectx *Context) (Verdict, error)

// Evaluate calls f
func (f EvaluatorFunc) Evaluate(cfg models.RuleConfig, text string, ectx *Context) (Verdict, error) {
	return f(cfg, text, ectx)
}

// Registry resolves evaluators by rule type
type Registry struct {
	mu         sync.RWMutex
	evaluators map[models.RuleType]Evaluator
}

// NewRegistry returns a registry holding the built-in evaluator for every rule type
func NewRegistry() *Registry {
	r := &Registry{evaluators: make(map[models.RuleType]Evaluator)}
	r.Register(models.RuleTypePII, EvaluatorFunc(EvaluatePII))
	r.Register(models.RuleTypeContent, NewContentEvaluator())
	r.Register(models.RuleTypeBudget, EvaluatorFunc(EvaluateBudget))
	r.Register(models.RuleTypeJailbreak, EvaluatorFunc(EvaluateJailbreak))
	r.Register(models.RuleTypeRBAC, EvaluatorFunc(EvaluateRBAC))
	r.Register(models.RuleTypeGeo, EvaluatorFunc(EvaluateGeo))
	r.Register(models.RuleTypeTime, EvaluatorFunc(EvaluateTime))
	r.Register(models.RuleTypeCompliance, EvaluatorFunc(EvaluateCompliance))
	return r
}

// Register installs or replaces the evaluator for a rule type
func (r *Registry) Register(t models.RuleType, e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[t] = e
}

// Lookup returns the evaluator for a rule type
func (r *Registry) Lookup(t models.RuleType) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[t]
	return e, ok
}

// Evaluate runs the rule's evaluator. A missing evaluator, a returned
// error or a panic all yield a blocking verdict; it never allows by accident.
func (r *Registry) Evaluate(rule models.PolicyRule, text string, ectx *Context) (v Verdict) {
	ev, ok := r.Lookup(rule.Type)
	if !ok {
		return failClosed(fmt.Errorf("no evaluator registered for rule type %q", rule.Type))
	}

	defer func() {
		if rec := recover(); rec != nil {
			v = failClosed(fmt.Errorf("evaluator panic: %v", rec))
		}
	}()

	v, err := ev.Evaluate(rule.Config, text, ectx)
	if err != nil {
		return failClosed(err)
	}

	switch v.Action {
	case ActionAllow, ActionBlock:
	case ActionTransform:
		if !v.Fired {
			v.Fired = true
		}
	default:
		return failClosed(fmt.Errorf("evaluator returned unknown action %q", v.Action))
	}
	return v
}

func failClosed(err error) Verdict {
	return Verdict{
		Fired:  true,
		Action: ActionBlock,
		Reason: "evaluator failure",
		Err:    err,
	}
}

// CanTransform reports whether a rule may rewrite the message text. Rules
// that cannot are safe to evaluate concurrently.
func CanTransform(rule models.PolicyRule) bool {
	switch cfg := rule.Config.(type) {
	case models.PIIConfig:
		return cfg.Method != models.PIIMethodBlock
	case models.ContentConfig:
		return cfg.Action == models.ContentActionRedact
	default:
		return false
	}
}

func configError(want models.RuleType, got models.RuleConfig) error {
	return fmt.Errorf("expected %s config, got %T", want, got)
}
