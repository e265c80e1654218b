package prompt

import (
	"regexp"
)

// InjectionType represents different types of prompt injection attacks
type InjectionType string

const (
	InjectionTypeSystemPromptLeak    InjectionType = "system_prompt_leak"
	InjectionTypeRoleManipulation    InjectionType = "role_manipulation"
	InjectionTypeInstructionOverride InjectionType = "instruction_override"
	InjectionTypeDataExfiltration    InjectionType = "data_exfiltration"
	InjectionTypeJailbreak           InjectionType = "jailbreak"
	InjectionTypeDelimiterAttack     InjectionType = "delimiter_attack"
	InjectionTypeEncodingAttack      InjectionType = "encoding_attack"
)

// InjectionDetection represents a detected injection attempt
type InjectionDetection struct {
	Type        InjectionType
	Pattern     string
	Confidence  float64
	StartPos    int
	EndPos      int
	Description string
}

type patternFamily struct {
	kind        InjectionType
	confidence  float64
	description string
	// known marks named attack signatures, as opposed to generic phrasing
	known    bool
	patterns []*regexp.Regexp
}

var families = []patternFamily{
	{
		kind:        InjectionTypeSystemPromptLeak,
		confidence:  0.9,
		description: "Attempt to reveal system prompt",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore\s+(previous|all|above|prior)\s+(instructions?|prompts?|commands?)`),
			regexp.MustCompile(`(?i)show\s+(me\s+)?(your|the)\s+(system|original|initial)\s+(prompt|instructions?)`),
			regexp.MustCompile(`(?i)what\s+(is|are|was|were)\s+(your|the)\s+(system|original|initial)\s+(prompt|instructions?)`),
			regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system|hidden|secret)\s+(prompt|instructions?)`),
			regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system|original)\s+(prompt|instructions?)`),
		},
	},
	{
		kind:        InjectionTypeRoleManipulation,
		confidence:  0.85,
		description: "Attempt to manipulate AI role or identity",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)assume\s+(the\s+)?(role|identity)\s+of`),
			regexp.MustCompile(`(?i)pretend\s+(to\s+)?be\s+(a|an)`),
			regexp.MustCompile(`(?i)from\s+now\s+on[,]?\s+(you|your)\s+(are|will)`),
			regexp.MustCompile(`(?i)new\s+(instructions?|role|personality)`),
		},
	},
	{
		kind:        InjectionTypeInstructionOverride,
		confidence:  0.9,
		description: "Attempt to override system instructions",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)disregard\s+(all|previous|above|any)\s+(instructions?|rules|commands?)`),
			regexp.MustCompile(`(?i)override\s+(all|previous|system)\s+(instructions?|rules|settings?)`),
			regexp.MustCompile(`(?i)forget\s+(everything|all\s+previous|what\s+you\s+learned)`),
		},
	},
	{
		kind:        InjectionTypeDataExfiltration,
		confidence:  0.95,
		description: "Attempt to execute code or exfiltrate data",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)execute\s+(this|the\s+following)\s+(code|script|command)`),
			regexp.MustCompile(`(?i)import\s+(os|sys|subprocess|socket)`),
			regexp.MustCompile(`(?i)send\s+(data|information|content)\s+to\s+(http|https)://`),
		},
	},
	{
		kind:        InjectionTypeJailbreak,
		confidence:  0.95,
		description: "Known jailbreak pattern detected",
		known:       true,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)DAN\s+mode`), // Do Anything Now
			regexp.MustCompile(`(?i)do\s+anything\s+now`),
			regexp.MustCompile(`(?i)developer\s+mode`),
			regexp.MustCompile(`(?i)jailbreak`),
			regexp.MustCompile(`(?i)(unrestricted|god)\s+mode`),
			regexp.MustCompile(`(?i)evil\s+(mode|assistant)`),
			regexp.MustCompile(`(?i)without\s+(any|ethical|moral)\s+(restrictions?|limitations?|guidelines?)`),
		},
	},
	{
		kind:        InjectionTypeDelimiterAttack,
		confidence:  0.8,
		description: "Attempt to manipulate prompt delimiters",
		known:       true,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(\[SYSTEM\]|\[\/SYSTEM\]|\[USER\]|\[\/USER\]|\[ASSISTANT\]|\[\/ASSISTANT\])`),
			regexp.MustCompile(`(<\|system\|>|<\|user\|>|<\|assistant\|>|<\|end\|>)`),
			regexp.MustCompile(`(###\s*(SYSTEM|USER|ASSISTANT|INSTRUCTION))`),
		},
	},
	{
		kind:        InjectionTypeEncodingAttack,
		confidence:  0.7,
		description: "Potential encoded payload detected",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)base64\s*[:\s=]\s*[A-Za-z0-9+/]{20,}={0,2}`),
			regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){10,}`),
		},
	},
}

// DetectInjections detects all potential injection attempts in the prompt.
// With includeKnown false, named attack signatures are skipped.
func DetectInjections(text string, includeKnown bool) []InjectionDetection {
	var detections []InjectionDetection

	for _, fam := range families {
		if fam.known && !includeKnown {
			continue
		}
		for _, pattern := range fam.patterns {
			for _, match := range pattern.FindAllStringIndex(text, -1) {
				detections = append(detections, InjectionDetection{
					Type:        fam.kind,
					Pattern:     pattern.String(),
					Confidence:  fam.confidence,
					StartPos:    match[0],
					EndPos:      match[1],
					Description: fam.description,
				})
			}
		}
	}

	return detections
}

// RiskScore combines detection confidences with a noisy-OR,
// 1 - Π(1 - cᵢ), so each extra match can only raise the score.
// The result is in [0, 1].
func RiskScore(detections []InjectionDetection) float64 {
	pass := 1.0
	for _, d := range detections {
		c := d.Confidence
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		pass *= 1 - c
	}
	return 1 - pass
}

// GetInjectionRiskScore detects and scores in one call
func GetInjectionRiskScore(text string, includeKnown bool) float64 {
	return RiskScore(DetectInjections(text, includeKnown))
}
