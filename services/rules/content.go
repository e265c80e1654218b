package rules

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/upb/agent-safe-grid/models"
)

const contentRedaction = "[REDACTED]"

// ContentEvaluator filters messages by keyword. Compiled patterns are
// cached since the same rules are evaluated on every turn.
type ContentEvaluator struct {
	patterns sync.Map // string -> *regexp.Regexp
}

// NewContentEvaluator creates a content evaluator with an empty pattern cache
func NewContentEvaluator() *ContentEvaluator {
	return &ContentEvaluator{}
}

// Evaluate blocks (or redacts) when any keyword matches
func (e *ContentEvaluator) Evaluate(cfg models.RuleConfig, text string, _ *Context) (Verdict, error) {
	c, ok := cfg.(models.ContentConfig)
	if !ok {
		return Verdict{}, configError(models.RuleTypeContent, cfg)
	}

	result := text
	var matched []string

	for _, kw := range c.Keywords {
		if kw == "" {
			continue
		}
		re, err := e.compile(kw, c.MatchType, c.IsCaseSensitive())
		if err != nil {
			return Verdict{}, err
		}
		if !re.MatchString(result) {
			continue
		}
		matched = append(matched, kw)
		if c.Action != models.ContentActionRedact {
			return Block("matched keyword %q", kw), nil
		}
		result = re.ReplaceAllString(result, contentRedaction)
	}

	if len(matched) == 0 {
		return Allow(), nil
	}
	return Verdict{
		Fired:           true,
		Action:          ActionTransform,
		TransformedText: result,
		Reason:          fmt.Sprintf("redacted %d keyword(s)", len(matched)),
	}, nil
}

// CompileKeyword builds the matcher for one keyword. It is exported so
// policy validation can reject bad regex keywords at save time.
func CompileKeyword(keyword, matchType string, caseSensitive bool) (*regexp.Regexp, error) {
	var expr string
	switch matchType {
	case models.MatchExact:
		expr = `^\s*` + regexp.QuoteMeta(keyword) + `\s*$`
	case models.MatchRegex:
		expr = keyword
	default:
		expr = regexp.QuoteMeta(keyword)
	}
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid keyword pattern %q: %w", keyword, err)
	}
	return re, nil
}

func (e *ContentEvaluator) compile(keyword, matchType string, caseSensitive bool) (*regexp.Regexp, error) {
	key := fmt.Sprintf("%s|%t|%s", matchType, caseSensitive, keyword)
	if cached, ok := e.patterns.Load(key); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := CompileKeyword(keyword, matchType, caseSensitive)
	if err != nil {
		return nil, err
	}
	e.patterns.Store(key, re)
	return re, nil
}
