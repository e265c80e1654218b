package rules

import (
	"github.com/upb/agent-safe-grid/models"
)

// EvaluateCompliance blocks when the selected provider does not attest the
// rule's standard or keeps data longer than the rule allows.
func EvaluateCompliance(cfg models.RuleConfig, _ string, ectx *Context) (Verdict, error) {
	c, ok := cfg.(models.ComplianceConfig)
	if !ok {
		return Verdict{}, configError(models.RuleTypeCompliance, cfg)
	}
	if ectx == nil || ectx.Provider == nil {
		return Block("no provider selected to check %s compliance", c.Standard), nil
	}

	p := ectx.Provider
	if !p.Attests(c.Standard) {
		return Block("provider %s does not attest %s", p.Name, c.Standard), nil
	}
	if c.DataRetentionDays > 0 && p.RetentionDays > c.DataRetentionDays {
		return Block("provider %s retains data %d days, limit is %d", p.Name, p.RetentionDays, c.DataRetentionDays), nil
	}
	return Allow(), nil
}
