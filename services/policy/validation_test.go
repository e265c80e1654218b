package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services"
)

func TestValidateConfig(t *testing.T) {
	regex := contentRule("re", "([")
	regex.Config = models.ContentConfig{Keywords: []string{"(["}, MatchType: models.MatchRegex, Action: models.ContentActionBlock}

	noLimit := budgetRule("b1", 0, 80)
	noLimit.Config = models.BudgetConfig{Period: "monthly"}

	badPattern := emailRule("p1")
	badPattern.Config = models.PIIConfig{Patterns: []string{"passport"}, Method: models.PIIMethodMask, Scope: models.PIIScopeInput}

	mismatched := emailRule("p2")
	mismatched.Type = models.RuleTypeContent

	badClock := models.PolicyRule{ID: "t1", Type: models.RuleTypeTime, Enabled: true,
		Config: models.TimeConfig{StartTime: "25:00", EndTime: "17:00", Timezone: "UTC"}}
	badZone := models.PolicyRule{ID: "t2", Type: models.RuleTypeTime, Enabled: true,
		Config: models.TimeConfig{StartTime: "09:00", EndTime: "17:00", Timezone: "Mars/Olympus"}}
	goodWindow := models.PolicyRule{ID: "t3", Type: models.RuleTypeTime, Enabled: true,
		Config: models.TimeConfig{StartTime: "22:00", EndTime: "06:00", Timezone: "Europe/Berlin"}}

	negative := models.DefaultPolicyConfig()
	negative.MaxBudget = -1

	tests := []struct {
		name    string
		cfg     *models.PolicyConfig
		wantErr string
		ruleID  string
	}{
		{name: "default", cfg: models.DefaultPolicyConfig()},
		{name: "mixed rules", cfg: withRules(emailRule("p1"), contentRule("c1", "x"), budgetRule("b1", 10, 50), goodWindow)},
		{name: "nil", cfg: nil, wantErr: "policy is required"},
		{name: "negative budget", cfg: negative, wantErr: "maxBudget"},
		{name: "missing id", cfg: withRules(contentRule("", "x")), wantErr: "has no id"},
		{name: "duplicate id", cfg: withRules(contentRule("c1", "x"), emailRule("c1")), wantErr: "duplicate", ruleID: "c1"},
		{name: "unknown type", cfg: withRules(models.PolicyRule{ID: "u", Type: "TOPIC", Config: models.GeoConfig{}}), wantErr: "unknown rule type", ruleID: "u"},
		{name: "missing config", cfg: withRules(models.PolicyRule{ID: "g", Type: models.RuleTypeGeo}), wantErr: "config is required", ruleID: "g"},
		{name: "config type mismatch", cfg: withRules(mismatched), wantErr: "config is for PII", ruleID: "p2"},
		{name: "invalid regex", cfg: withRules(regex), wantErr: "does not compile", ruleID: "re"},
		{name: "budget without limit", cfg: withRules(noLimit), wantErr: "invalid config", ruleID: "b1"},
		{name: "unknown pii pattern", cfg: withRules(badPattern), wantErr: "invalid config", ruleID: "p1"},
		{name: "bad clock", cfg: withRules(badClock), wantErr: "StartTime must be a time in HH:MM format", ruleID: "t1"},
		{name: "bad timezone", cfg: withRules(badZone), wantErr: "Timezone must be an IANA time zone", ruleID: "t2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, services.IsConfigurationError(err))
			if tt.ruleID != "" {
				assert.Equal(t, tt.ruleID, services.GetErrorDetails(err)["rule_id"])
			}
		})
	}
}

func TestValidateRule_FieldDetails(t *testing.T) {
	rule := models.PolicyRule{ID: "g", Type: models.RuleTypeGeo, Config: models.GeoConfig{AllowedCountries: []string{"USA"}}}

	err := ValidateRule(rule)
	require.Error(t, err)
	details := services.GetErrorDetails(err)
	assert.Equal(t, "GEO", details["rule_type"])
	require.NotNil(t, details["fields"])
	fields := details["fields"].(map[string]string)
	assert.Contains(t, fields["AllowedCountries[0]"], "two-letter country code")
}
