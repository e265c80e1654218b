package rules

import (
	"strconv"

	"github.com/upb/agent-safe-grid/internal/prompt"
	"github.com/upb/agent-safe-grid/models"
)

// EvaluateJailbreak scores the text and blocks when the score reaches the
// configured sensitivity. A higher sensitivity is easier to pass.
func EvaluateJailbreak(cfg models.RuleConfig, text string, _ *Context) (Verdict, error) {
	c, ok := cfg.(models.JailbreakConfig)
	if !ok {
		return Verdict{}, configError(models.RuleTypeJailbreak, cfg)
	}

	detections := prompt.DetectInjections(text, c.KnownAttacks)
	score := prompt.RiskScore(detections)
	if score < c.Sensitivity {
		return Allow(), nil
	}

	if len(detections) == 0 {
		return Block("injection risk %s >= %s", ftoa(score), ftoa(c.Sensitivity)), nil
	}
	return Block("injection risk %s >= %s (%s)", ftoa(score), ftoa(c.Sensitivity), detections[0].Type), nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
