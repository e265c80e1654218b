package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RuleType identifies the kind of check a PolicyRule performs
type RuleType string

const (
	RuleTypePII        RuleType = "PII"
	RuleTypeContent    RuleType = "CONTENT"
	RuleTypeBudget     RuleType = "BUDGET"
	RuleTypeRBAC       RuleType = "RBAC"
	RuleTypeJailbreak  RuleType = "JAILBREAK"
	RuleTypeCompliance RuleType = "COMPLIANCE"
	RuleTypeGeo        RuleType = "GEO"
	RuleTypeTime       RuleType = "TIME"
)

// RuleTypes lists every known rule type in catalog order
var RuleTypes = []RuleType{
	RuleTypePII,
	RuleTypeContent,
	RuleTypeBudget,
	RuleTypeRBAC,
	RuleTypeJailbreak,
	RuleTypeCompliance,
	RuleTypeGeo,
	RuleTypeTime,
}

// Valid reports whether t is one of the known rule types
func (t RuleType) Valid() bool {
	for _, known := range RuleTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity ranks a rule for reporting; it does not affect evaluation order
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var (
	// ErrUnknownRuleType is returned when decoding a rule with an unrecognized type
	ErrUnknownRuleType = errors.New("unknown rule type")
)

// RuleConfig is the type-specific parameter set of a PolicyRule.
// Exactly one concrete struct exists per RuleType.
type RuleConfig interface {
	RuleType() RuleType
}

// PIIConfig configures PII detection
type PIIConfig struct {
	Patterns []string `json:"patterns" yaml:"patterns" validate:"required,min=1,dive,oneof=email phone ssn credit_card secret"`
	Method   string   `json:"method" yaml:"method" validate:"oneof=mask block"`
	Scope    string   `json:"scope" yaml:"scope" validate:"oneof=input output bi-directional"`
}

func (PIIConfig) RuleType() RuleType { return RuleTypePII }

// AppliesTo reports whether the rule covers the given direction ("input" or "output")
func (c PIIConfig) AppliesTo(direction string) bool {
	return c.Scope == PIIScopeBidirectional || c.Scope == direction
}

const (
	PIIMethodMask  = "mask"
	PIIMethodBlock = "block"

	PIIScopeInput         = "input"
	PIIScopeOutput        = "output"
	PIIScopeBidirectional = "bi-directional"
)

// ContentConfig configures keyword filtering
type ContentConfig struct {
	Keywords      []string `json:"keywords" yaml:"keywords"`
	MatchType     string   `json:"matchType" yaml:"matchType" validate:"oneof=partial exact regex"`
	Action        string   `json:"action" yaml:"action" validate:"oneof=block redact"`
	CaseSensitive *bool    `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
}

func (ContentConfig) RuleType() RuleType { return RuleTypeContent }

// IsCaseSensitive defaults to true when unset
func (c ContentConfig) IsCaseSensitive() bool {
	return c.CaseSensitive == nil || *c.CaseSensitive
}

const (
	MatchPartial = "partial"
	MatchExact   = "exact"
	MatchRegex   = "regex"

	ContentActionBlock  = "block"
	ContentActionRedact = "redact"
)

// BudgetConfig configures spend enforcement. Limit is a pointer so a
// missing limit can be told apart from a zero limit.
type BudgetConfig struct {
	Limit          *float64 `json:"limit" yaml:"limit" validate:"required,gte=0"`
	Period         string   `json:"period" yaml:"period" validate:"oneof=daily weekly monthly"`
	AlertThreshold float64  `json:"alertThreshold" yaml:"alertThreshold" validate:"gte=0,lte=100"`
}

func (BudgetConfig) RuleType() RuleType { return RuleTypeBudget }

// LimitValue returns the configured limit or zero
func (c BudgetConfig) LimitValue() float64 {
	if c.Limit == nil {
		return 0
	}
	return *c.Limit
}

// RBACConfig configures role based access
type RBACConfig struct {
	Roles       []string `json:"roles" yaml:"roles" validate:"required,min=1"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

func (RBACConfig) RuleType() RuleType { return RuleTypeRBAC }

// JailbreakConfig configures prompt-injection scoring
type JailbreakConfig struct {
	Sensitivity  float64 `json:"sensitivity" yaml:"sensitivity" validate:"gte=0,lte=1"`
	KnownAttacks bool    `json:"knownAttacks" yaml:"knownAttacks"`
}

func (JailbreakConfig) RuleType() RuleType { return RuleTypeJailbreak }

// ComplianceConfig configures a regulatory preset
type ComplianceConfig struct {
	Standard          string `json:"standard" yaml:"standard" validate:"oneof=GDPR HIPAA SOC2 PCI-DSS CCPA"`
	DataRetentionDays int    `json:"dataRetentionDays" yaml:"dataRetentionDays" validate:"gte=0"`
}

func (ComplianceConfig) RuleType() RuleType { return RuleTypeCompliance }

// GeoConfig configures geo-fencing
type GeoConfig struct {
	AllowedCountries []string `json:"allowedCountries" yaml:"allowedCountries" validate:"required,min=1,dive,country"`
}

func (GeoConfig) RuleType() RuleType { return RuleTypeGeo }

// TimeConfig configures a daily usage window
type TimeConfig struct {
	StartTime string `json:"startTime" yaml:"startTime" validate:"required,clock"`
	EndTime   string `json:"endTime" yaml:"endTime" validate:"required,clock"`
	Timezone  string `json:"timezone" yaml:"timezone" validate:"omitempty,timezone"`
}

func (TimeConfig) RuleType() RuleType { return RuleTypeTime }

// PolicyRule is one configurable check in a tenant's ordered rule list
type PolicyRule struct {
	ID          string     `json:"id"`
	Type        RuleType   `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	Severity    Severity   `json:"severity"`
	Config      RuleConfig `json:"config"`
}

// UnmarshalJSON decodes Config into the struct matching Type
func (r *PolicyRule) UnmarshalJSON(data []byte) error {
	type alias PolicyRule
	aux := struct {
		*alias
		Config json.RawMessage `json:"config"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	cfg, err := DecodeRuleConfig(r.Type, aux.Config)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}
	r.Config = cfg
	return nil
}

// DecodeRuleConfig decodes raw JSON into the config struct for ruleType.
// Empty enum fields are filled with their defaults; numeric limits are not.
func DecodeRuleConfig(ruleType RuleType, raw json.RawMessage) (RuleConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	switch ruleType {
	case RuleTypePII:
		var c PIIConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid PII config: %w", err)
		}
		if c.Method == "" {
			c.Method = PIIMethodMask
		}
		if c.Scope == "" {
			c.Scope = PIIScopeBidirectional
		}
		return c, nil
	case RuleTypeContent:
		var c ContentConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid CONTENT config: %w", err)
		}
		if c.MatchType == "" {
			c.MatchType = MatchPartial
		}
		if c.Action == "" {
			c.Action = ContentActionBlock
		}
		return c, nil
	case RuleTypeBudget:
		var c BudgetConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid BUDGET config: %w", err)
		}
		if c.Period == "" {
			c.Period = "monthly"
		}
		return c, nil
	case RuleTypeRBAC:
		var c RBACConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid RBAC config: %w", err)
		}
		return c, nil
	case RuleTypeJailbreak:
		var c JailbreakConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid JAILBREAK config: %w", err)
		}
		return c, nil
	case RuleTypeCompliance:
		var c ComplianceConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid COMPLIANCE config: %w", err)
		}
		return c, nil
	case RuleTypeGeo:
		var c GeoConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid GEO config: %w", err)
		}
		return c, nil
	case RuleTypeTime:
		var c TimeConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid TIME config: %w", err)
		}
		if c.Timezone == "" {
			c.Timezone = "UTC"
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleType, ruleType)
	}
}

// PolicyConfig is a tenant's policy aggregate. The coarse booleans and
// MaxBudget are a projection of AdvancedRules once any rule exists.
type PolicyConfig struct {
	PIIRedaction       bool         `json:"piiRedaction"`
	JailbreakDetection bool         `json:"jailbreakDetection"`
	TopicConstraint    bool         `json:"topicConstraint"`
	AuditLogging       bool         `json:"auditLogging"`
	MaxBudget          float64      `json:"maxBudget"`
	AdvancedRules      []PolicyRule `json:"advancedRules"`
	UpdatedAt          time.Time    `json:"updatedAt,omitempty"`
}

// HasAdvancedRules reports whether the tenant authored any advanced rule
func (c *PolicyConfig) HasAdvancedRules() bool {
	return len(c.AdvancedRules) > 0
}

// ReconcileLegacyFlags derives the flags for a config replacing prev.
// Dropping the last advanced rule turns piiRedaction and
// jailbreakDetection off, since no rule of either type remains.
func (c *PolicyConfig) ReconcileLegacyFlags(prev *PolicyConfig) {
	if !c.HasAdvancedRules() && prev != nil && prev.HasAdvancedRules() {
		c.PIIRedaction = false
		c.JailbreakDetection = false
		return
	}
	c.DeriveLegacyFlags()
}

// DeriveLegacyFlags recomputes piiRedaction, jailbreakDetection and
// maxBudget from AdvancedRules. It is a no-op when no rules exist so
// tenants on the simple toggles keep their values.
func (c *PolicyConfig) DeriveLegacyFlags() {
	if !c.HasAdvancedRules() {
		return
	}

	c.PIIRedaction = false
	c.JailbreakDetection = false
	budgetSet := false

	for _, rule := range c.AdvancedRules {
		if !rule.Enabled {
			continue
		}
		switch rule.Type {
		case RuleTypePII:
			c.PIIRedaction = true
		case RuleTypeJailbreak:
			c.JailbreakDetection = true
		case RuleTypeBudget:
			if budgetSet {
				continue
			}
			if bc, ok := rule.Config.(BudgetConfig); ok && bc.Limit != nil {
				c.MaxBudget = *bc.Limit
				budgetSet = true
			}
		}
	}
}

// FirstEnabledRule returns the first enabled rule of the given type
func (c *PolicyConfig) FirstEnabledRule(t RuleType) (PolicyRule, bool) {
	for _, rule := range c.AdvancedRules {
		if rule.Enabled && rule.Type == t {
			return rule, true
		}
	}
	return PolicyRule{}, false
}

// Clone returns a copy whose rule slice can be modified independently
func (c *PolicyConfig) Clone() *PolicyConfig {
	out := *c
	if c.AdvancedRules != nil {
		out.AdvancedRules = make([]PolicyRule, len(c.AdvancedRules))
		copy(out.AdvancedRules, c.AdvancedRules)
	}
	return &out
}
