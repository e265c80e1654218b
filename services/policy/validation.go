package policy

import (
	"fmt"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services"
	"github.com/upb/agent-safe-grid/services/rules"
	"github.com/upb/agent-safe-grid/utils"
)

// ValidateConfig checks a policy before it is stored. Everything a rule
// evaluator would otherwise trip over at request time is rejected here
// as a ConfigurationError.
func ValidateConfig(cfg *models.PolicyConfig) error {
	if cfg == nil {
		return services.NewConfigurationError("policy is required", nil)
	}
	if cfg.MaxBudget < 0 {
		return services.NewConfigurationError("maxBudget must not be negative", nil)
	}

	seen := make(map[string]struct{}, len(cfg.AdvancedRules))
	for i, rule := range cfg.AdvancedRules {
		if rule.ID == "" {
			return services.NewConfigurationError(fmt.Sprintf("rule #%d has no id", i+1), nil)
		}
		if _, dup := seen[rule.ID]; dup {
			return services.NewConfigurationError(fmt.Sprintf("duplicate rule id %q", rule.ID), nil).
				WithDetail("rule_id", rule.ID)
		}
		seen[rule.ID] = struct{}{}

		if err := ValidateRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRule checks one rule's type and config
func ValidateRule(rule models.PolicyRule) error {
	fail := func(msg string, err error) error {
		de := services.NewConfigurationError(fmt.Sprintf("rule %q: %s", rule.ID, msg), err).
			WithDetail("rule_id", rule.ID).
			WithDetail("rule_type", string(rule.Type))
		if fields := utils.GetValidationFields(err); fields != nil {
			de.WithDetail("fields", fields)
		}
		return de
	}

	if !rule.Type.Valid() {
		return fail("unknown rule type", models.ErrUnknownRuleType)
	}
	if rule.Config == nil {
		return fail("config is required", nil)
	}
	if rule.Config.RuleType() != rule.Type {
		return fail(fmt.Sprintf("config is for %s", rule.Config.RuleType()), nil)
	}
	if err := utils.ValidateStruct(rule.Config); err != nil {
		return fail("invalid config", err)
	}

	if cfg, ok := rule.Config.(models.ContentConfig); ok {
		for _, kw := range cfg.Keywords {
			if _, err := rules.CompileKeyword(kw, cfg.MatchType, cfg.IsCaseSensitive()); err != nil {
				return fail(fmt.Sprintf("keyword %q does not compile", kw), err)
			}
		}
	}
	return nil
}
