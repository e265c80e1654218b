package prompt

import "regexp"

// PIITypeSecret covers credentials pasted into a conversation. It is not
// part of AllPIITypes: a rule has to name it.
const PIITypeSecret PIIType = "secret"

// secretPatterns only match shapes specific enough to redact without
// review. Generic long strings are left alone.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),                                      // AWS access key id
	regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`),                                // Google API key
	regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{32,}`),                              // Anthropic
	regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9\-_]{32,}`),                        // OpenAI
	regexp.MustCompile(`\b(?:sk|rk)_(?:live|test)_[0-9a-zA-Z]{24,}\b`),              // Stripe
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),                            // GitHub
	regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`),                         // Slack
	regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`), // JWT
	regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)\b(?:postgres|postgresql|mysql|mongodb|redis)://[^\s:'"]+:[^\s@'"]+@[^\s'"]+`),
	regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
}

func secretMatchers() []piiMatcher {
	out := make([]piiMatcher, 0, len(secretPatterns))
	for _, p := range secretPatterns {
		out = append(out, piiMatcher{pattern: p})
	}
	return out
}

// ContainsSecret reports whether text carries a recognizable credential
func ContainsSecret(text string) bool {
	return ContainsPII(text, PIITypeSecret)
}
