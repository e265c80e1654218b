package rules

import (
	"fmt"

	"github.com/upb/agent-safe-grid/models"
)

// EvaluateBudget checks the ledger plus the projected cost of this turn
// against the rule limit. It never inspects the text.
func EvaluateBudget(cfg models.RuleConfig, _ string, ectx *Context) (Verdict, error) {
	c, ok := cfg.(models.BudgetConfig)
	if !ok {
		return Verdict{}, configError(models.RuleTypeBudget, cfg)
	}
	if ectx == nil {
		ectx = &Context{}
	}

	limit := c.LimitValue()
	current := ectx.Ledger.TotalCost
	projected := current + ectx.ProjectedCost

	if projected > limit {
		return Block("would exceed %s budget of %.2f (current: %.4f, request: %.4f)",
			c.Period, limit, current, ectx.ProjectedCost), nil
	}

	if limit > 0 && c.AlertThreshold > 0 {
		utilization := projected / limit * 100
		if utilization >= c.AlertThreshold {
			return Verdict{
				Fired:  true,
				Action: ActionAllow,
				Reason: fmt.Sprintf("budget utilization %.1f%% crossed alert threshold %.0f%%", utilization, c.AlertThreshold),
			}, nil
		}
	}

	return Allow(), nil
}
