package models

import "github.com/google/uuid"

// RuleDefinition describes a rule type offered to policy authors
type RuleDefinition struct {
	Type          RuleType   `json:"type"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	DefaultConfig RuleConfig `json:"defaultConfig"`
}

func float64Ptr(v float64) *float64 { return &v }

// RuleCatalog returns the static catalog of rule types with fresh default configs
func RuleCatalog() []RuleDefinition {
	return []RuleDefinition{
		{
			Type:        RuleTypePII,
			Name:        "PII Redaction",
			Description: "Detect & mask sensitive data (SSN, Email, Phone)",
			DefaultConfig: PIIConfig{
				Patterns: []string{"email", "phone", "ssn"},
				Method:   PIIMethodMask,
				Scope:    PIIScopeBidirectional,
			},
		},
		{
			Type:        RuleTypeContent,
			Name:        "Content Filter",
			Description: "Block specific keywords or regex patterns",
			DefaultConfig: ContentConfig{
				Keywords:  []string{},
				MatchType: MatchPartial,
				Action:    ContentActionBlock,
			},
		},
		{
			Type:        RuleTypeBudget,
			Name:        "Budget Control",
			Description: "Enforce spending limits per timeframe",
			DefaultConfig: BudgetConfig{
				Limit:          float64Ptr(100),
				Period:         "monthly",
				AlertThreshold: 80,
			},
		},
		{
			Type:        RuleTypeRBAC,
			Name:        "Role Access",
			Description: "Define access levels for user roles",
			DefaultConfig: RBACConfig{
				Roles:       []string{"admin"},
				Permissions: []string{"read", "write"},
			},
		},
		{
			Type:        RuleTypeJailbreak,
			Name:        "Anti-Jailbreak",
			Description: "Prevent prompt injection and attacks",
			DefaultConfig: JailbreakConfig{
				Sensitivity:  0.8,
				KnownAttacks: true,
			},
		},
		{
			Type:        RuleTypeCompliance,
			Name:        "Compliance Pack",
			Description: "Apply standard regulatory presets",
			DefaultConfig: ComplianceConfig{
				Standard:          "GDPR",
				DataRetentionDays: 30,
			},
		},
		{
			Type:        RuleTypeGeo,
			Name:        "Geo-Fencing",
			Description: "Restrict access by country/region",
			DefaultConfig: GeoConfig{
				AllowedCountries: []string{"US", "EU", "UK"},
			},
		},
		{
			Type:        RuleTypeTime,
			Name:        "Time Constraints",
			Description: "Limit usage to specific business hours",
			DefaultConfig: TimeConfig{
				StartTime: "09:00",
				EndTime:   "17:00",
				Timezone:  "UTC",
			},
		},
	}
}

// LookupRuleDefinition finds the catalog entry for t
func LookupRuleDefinition(t RuleType) (RuleDefinition, bool) {
	for _, def := range RuleCatalog() {
		if def.Type == t {
			return def, true
		}
	}
	return RuleDefinition{}, false
}

// NewRule creates an enabled, medium-severity rule with the catalog defaults
func NewRule(t RuleType) (PolicyRule, error) {
	def, ok := LookupRuleDefinition(t)
	if !ok {
		return PolicyRule{}, ErrUnknownRuleType
	}
	return PolicyRule{
		ID:          uuid.NewString(),
		Type:        t,
		Name:        def.Name,
		Description: def.Description,
		Enabled:     true,
		Severity:    SeverityMedium,
		Config:      def.DefaultConfig,
	}, nil
}

// DefaultPolicyConfig is the policy a tenant starts with
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		PIIRedaction:       true,
		JailbreakDetection: true,
		TopicConstraint:    false,
		AuditLogging:       true,
		MaxBudget:          100,
		AdvancedRules:      []PolicyRule{},
	}
}

const (
	LegacyPIIRuleID       = "legacy-pii"
	LegacyJailbreakRuleID = "legacy-jailbreak"
)

// LegacyRules synthesizes the rules implied by the coarse flags. It returns
// nil when advanced rules exist, since those take over entirely.
func (c *PolicyConfig) LegacyRules() []PolicyRule {
	if c.HasAdvancedRules() {
		return nil
	}

	var rules []PolicyRule
	if c.PIIRedaction {
		rules = append(rules, PolicyRule{
			ID:          LegacyPIIRuleID,
			Type:        RuleTypePII,
			Name:        "PII Redaction",
			Description: "Legacy PII redaction toggle",
			Enabled:     true,
			Severity:    SeverityMedium,
			Config: PIIConfig{
				Patterns: []string{"email", "phone"},
				Method:   PIIMethodMask,
				Scope:    PIIScopeBidirectional,
			},
		})
	}
	if c.JailbreakDetection {
		rules = append(rules, PolicyRule{
			ID:          LegacyJailbreakRuleID,
			Type:        RuleTypeJailbreak,
			Name:        "Anti-Jailbreak",
			Description: "Legacy jailbreak detection toggle",
			Enabled:     true,
			Severity:    SeverityHigh,
			Config: JailbreakConfig{
				Sensitivity:  0.8,
				KnownAttacks: true,
			},
		})
	}
	return rules
}

// EffectiveRules returns the ordered rules enforcement runs: the advanced
// rules when present, otherwise the synthesized legacy rules.
func (c *PolicyConfig) EffectiveRules() []PolicyRule {
	if c.HasAdvancedRules() {
		return c.AdvancedRules
	}
	return c.LegacyRules()
}
