package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/upb/agent-safe-grid/internal/prompt"
	"github.com/upb/agent-safe-grid/models"
)

// EvaluatePII masks or blocks configured PII classes. Every occurrence is
// replaced, not just the first.
func EvaluatePII(cfg models.RuleConfig, text string, ectx *Context) (Verdict, error) {
	c, ok := cfg.(models.PIIConfig)
	if !ok {
		return Verdict{}, configError(models.RuleTypePII, cfg)
	}

	direction := DirectionInput
	if ectx != nil && ectx.Direction != "" {
		direction = ectx.Direction
	}
	if !c.AppliesTo(string(direction)) {
		return Allow(), nil
	}

	types := make([]prompt.PIIType, 0, len(c.Patterns))
	for _, p := range c.Patterns {
		types = append(types, prompt.PIIType(p))
	}
	if len(types) == 0 {
		return Allow(), nil
	}

	if c.Method == models.PIIMethodBlock {
		detections := prompt.DetectPII(text, types...)
		if len(detections) == 0 {
			return Allow(), nil
		}
		seen := make(map[prompt.PIIType]int)
		for _, d := range detections {
			seen[d.Type]++
		}
		return Block("detected %s", describeCounts(seen)), nil
	}

	redacted, counts := prompt.RedactPII(text, types...)
	if len(counts) == 0 {
		return Allow(), nil
	}
	return Verdict{
		Fired:           true,
		Action:          ActionTransform,
		TransformedText: redacted,
		Reason:          "redacted " + describeCounts(counts),
	}, nil
}

func describeCounts(counts map[prompt.PIIType]int) string {
	parts := make([]string, 0, len(counts))
	for t, n := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", n, t))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
