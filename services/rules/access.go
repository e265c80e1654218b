package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/upb/agent-safe-grid/models"
)

// EvaluateRBAC blocks roles outside the allow list, and requested
// permissions the rule does not grant.
func EvaluateRBAC(cfg models.RuleConfig, _ string, ectx *Context) (Verdict, error) {
	c, ok := cfg.(models.RBACConfig)
	if !ok {
		return Verdict{}, configError(models.RuleTypeRBAC, cfg)
	}
	if ectx == nil || ectx.UserRole == "" {
		return Block("request has no role"), nil
	}

	if !containsFold(c.Roles, ectx.UserRole) {
		return Block("role %q is not permitted", ectx.UserRole), nil
	}
	if ectx.Permission != "" && len(c.Permissions) > 0 && !containsFold(c.Permissions, ectx.Permission) {
		return Block("permission %q is not granted", ectx.Permission), nil
	}
	return Allow(), nil
}

var euMembers = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true, "DK": true,
	"EE": true, "FI": true, "FR": true, "DE": true, "GR": true, "HU": true, "IE": true,
	"IT": true, "LV": true, "LT": true, "LU": true, "MT": true, "NL": true, "PL": true,
	"PT": true, "RO": true, "SK": true, "SI": true, "ES": true, "SE": true,
}

// EvaluateGeo blocks origins outside the allowed countries. "EU" admits any
// member state and "UK" and "GB" are interchangeable. Unknown origins block.
func EvaluateGeo(cfg models.RuleConfig, _ string, ectx *Context) (Verdict, error) {
	c, ok := cfg.(models.GeoConfig)
	if !ok {
		return Verdict{}, configError(models.RuleTypeGeo, cfg)
	}

	country := ""
	if ectx != nil {
		country = strings.ToUpper(strings.TrimSpace(ectx.Country))
	}
	if country == "" {
		return Block("request origin is unknown"), nil
	}
	if country == "GB" {
		country = "UK"
	}

	for _, allowed := range c.AllowedCountries {
		allowed = strings.ToUpper(allowed)
		if allowed == "GB" {
			allowed = "UK"
		}
		if allowed == country || (allowed == "EU" && euMembers[country]) {
			return Allow(), nil
		}
	}
	return Block("origin %s is not in the allowed regions", country), nil
}

// EvaluateTime blocks requests outside [start, end) in the rule's timezone.
// A window whose end precedes its start wraps past midnight.
func EvaluateTime(cfg models.RuleConfig, _ string, ectx *Context) (Verdict, error) {
	c, ok := cfg.(models.TimeConfig)
	if !ok {
		return Verdict{}, configError(models.RuleTypeTime, cfg)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return Verdict{}, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	start, err := ParseClock(c.StartTime)
	if err != nil {
		return Verdict{}, err
	}
	end, err := ParseClock(c.EndTime)
	if err != nil {
		return Verdict{}, err
	}

	now := time.Now()
	if ectx != nil && !ectx.Now.IsZero() {
		now = ectx.Now
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	var inside bool
	switch {
	case start == end:
		inside = true
	case start < end:
		inside = minute >= start && minute < end
	default:
		inside = minute >= start || minute < end
	}

	if !inside {
		return Block("outside allowed hours %s-%s %s", c.StartTime, c.EndTime, c.Timezone), nil
	}
	return Allow(), nil
}

// ParseClock converts "HH:MM" into minutes after midnight
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
