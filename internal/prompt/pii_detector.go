package prompt

import (
	"regexp"
	"sort"
	"strings"
)

// PIIType represents different types of PII that can be detected
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypePhone      PIIType = "phone"
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit_card"
)

// AllPIITypes lists every supported class
var AllPIITypes = []PIIType{PIITypeEmail, PIITypePhone, PIITypeSSN, PIITypeCreditCard}

// PIIDetection represents a detected PII instance
type PIIDetection struct {
	Type     PIIType
	Value    string
	StartPos int
	EndPos   int
}

var (
	emailPattern = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)

	// North American numbers: 555-123-4567, 555.123.4567, 5551234567
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)

	ssnDashedPattern = regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)
	ssnBarePattern   = regexp.MustCompile(`\b[0-9]{9}\b`)

	creditCardPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b4[0-9]{12}(?:[0-9]{3})?\b`),     // Visa
		regexp.MustCompile(`\b5[1-5][0-9]{14}\b`),             // MasterCard
		regexp.MustCompile(`\b3[47][0-9]{13}\b`),              // American Express
		regexp.MustCompile(`\b6(?:011|5[0-9]{2})[0-9]{12}\b`), // Discover
	}
)

// redactionOrder applies credentials and the longest digit classes first so
// a key or card number is never partially consumed by the phone pattern.
var redactionOrder = []PIIType{PIITypeSecret, PIITypeCreditCard, PIITypeSSN, PIITypeEmail, PIITypePhone}

type piiMatcher struct {
	pattern *regexp.Regexp
	accept  func(string) bool
}

func matchersFor(t PIIType) []piiMatcher {
	switch t {
	case PIITypeEmail:
		return []piiMatcher{{pattern: emailPattern}}
	case PIITypePhone:
		return []piiMatcher{{pattern: phonePattern}}
	case PIITypeSSN:
		return []piiMatcher{
			{pattern: ssnDashedPattern},
			{pattern: ssnBarePattern, accept: looksLikeSSN},
		}
	case PIITypeCreditCard:
		out := make([]piiMatcher, 0, len(creditCardPatterns))
		for _, p := range creditCardPatterns {
			out = append(out, piiMatcher{pattern: p, accept: luhnCheck})
		}
		return out
	case PIITypeSecret:
		return secretMatchers()
	default:
		return nil
	}
}

func wanted(types []PIIType) map[PIIType]bool {
	if len(types) == 0 {
		types = AllPIITypes
	}
	set := make(map[PIIType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// DetectPII reports every match of the requested classes (all classes when
// none are given), ordered by position.
func DetectPII(text string, types ...PIIType) []PIIDetection {
	set := wanted(types)
	var detections []PIIDetection

	for _, t := range redactionOrder {
		if !set[t] {
			continue
		}
		for _, m := range matchersFor(t) {
			for _, loc := range m.pattern.FindAllStringIndex(text, -1) {
				value := text[loc[0]:loc[1]]
				if m.accept != nil && !m.accept(value) {
					continue
				}
				detections = append(detections, PIIDetection{
					Type:     t,
					Value:    value,
					StartPos: loc[0],
					EndPos:   loc[1],
				})
			}
		}
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].StartPos < detections[j].StartPos
	})
	return detections
}

// ContainsPII returns true if any requested class matches
func ContainsPII(text string, types ...PIIType) bool {
	return len(DetectPII(text, types...)) > 0
}

// RedactPII replaces every occurrence of the requested classes with the
// class placeholder. It returns the input unchanged when nothing matched,
// along with per-class match counts.
func RedactPII(text string, types ...PIIType) (string, map[PIIType]int) {
	set := wanted(types)
	counts := make(map[PIIType]int)
	result := text

	for _, t := range redactionOrder {
		if !set[t] {
			continue
		}
		token := RedactionToken(t)
		for _, m := range matchersFor(t) {
			accept := m.accept
			result = m.pattern.ReplaceAllStringFunc(result, func(match string) string {
				if accept != nil && !accept(match) {
					return match
				}
				counts[t]++
				return token
			})
		}
	}

	if len(counts) == 0 {
		return text, counts
	}
	return result, counts
}

// RedactionToken returns the placeholder for a PII class
func RedactionToken(piiType PIIType) string {
	switch piiType {
	case PIITypeEmail:
		return "[EMAIL_REDACTED]"
	case PIITypePhone:
		return "[PHONE_REDACTED]"
	case PIITypeSSN:
		return "[SSN_REDACTED]"
	case PIITypeCreditCard:
		return "[CC_REDACTED]"
	case PIITypeSecret:
		return "[SECRET_REDACTED]"
	default:
		return "[REDACTED]"
	}
}

// looksLikeSSN performs basic validation on a 9-digit number to check if it looks like an SSN
func looksLikeSSN(s string) bool {
	if len(s) != 9 {
		return false
	}

	// SSN cannot be all zeros in any group
	if s[:3] == "000" || s[3:5] == "00" || s[5:] == "0000" {
		return false
	}

	if strings.HasPrefix(s, "666") || strings.HasPrefix(s, "9") {
		return false
	}

	return true
}

// luhnCheck validates a credit card number using the Luhn algorithm
func luhnCheck(cardNumber string) bool {
	cardNumber = strings.ReplaceAll(cardNumber, " ", "")
	cardNumber = strings.ReplaceAll(cardNumber, "-", "")

	if len(cardNumber) < 13 || len(cardNumber) > 19 {
		return false
	}

	sum := 0
	isSecond := false

	// Traverse from right to left
	for i := len(cardNumber) - 1; i >= 0; i-- {
		digit := int(cardNumber[i] - '0')

		if isSecond {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		isSecond = !isSecond
	}

	return sum%10 == 0
}
