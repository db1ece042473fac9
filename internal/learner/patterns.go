package learner

import (
	"regexp"
	"strings"
)

// Pattern mining tables. Mining only runs on content that was already
// blocked with high confidence, so these favor recall over precision.

var minedKeywords = []string{
	"system prompt",
	"ignore previous",
	"override",
	"admin password",
	"bypass security",
	"jailbreak",
	"exploit",
	"hack",
	"malware",
	"sql injection",
	"xss",
	"csrf",
	"remote code execution",
}

// minedRegexes are attack shapes whose source text becomes the rule pattern
// when they match blocked content.
var minedRegexes = []*regexp.Regexp{
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`\d{3}-\d{2}-\d{4}`),
	regexp.MustCompile(`\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}`),
	regexp.MustCompile(`(?i)password\s*[=:]\s*['"]?[^'"\s]+`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[=:]\s*['"]?[^'"\s]+`),
}

var piiIndicators = []string{
	"social security number",
	"ssn",
	"credit card",
	"cvv",
	"phone number",
	"birth date",
	"medical record",
	"bank account",
}

// minePatterns extracts candidate rule patterns from blocked content:
// suspicious keywords, matching attack-regex sources, and PII indicator
// phrases. Deduplicated, order-stable.
func minePatterns(content string) []string {
	lower := strings.ToLower(content)
	seen := make(map[string]struct{})
	var patterns []string

	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		patterns = append(patterns, p)
	}

	for _, kw := range minedKeywords {
		if strings.Contains(lower, kw) {
			add(kw)
		}
	}
	for _, re := range minedRegexes {
		if re.MatchString(content) {
			add(re.String())
		}
	}
	for _, ind := range piiIndicators {
		if strings.Contains(lower, ind) {
			add(ind)
		}
	}
	return patterns
}

// classifyRuleType infers a rule type from the mined pattern text.
func classifyRuleType(pattern string) RuleType {
	lower := strings.ToLower(pattern)
	switch {
	case strings.Contains(lower, "email") || strings.Contains(lower, "phone") ||
		strings.Contains(lower, "ssn") || strings.Contains(lower, "credit card"):
		return RulePII
	case strings.Contains(lower, "hate") || strings.Contains(lower, "abuse") ||
		strings.Contains(lower, "toxic"):
		return RuleToxicity
	case strings.Contains(lower, "jailbreak") || strings.Contains(lower, "bypass") ||
		strings.Contains(lower, "override"):
		return RuleKeyword
	default:
		return RuleRegex
	}
}

// classifySeverity maps the block reason code to a severity band.
func classifySeverity(reasonCode string) Severity {
	upper := strings.ToUpper(reasonCode)
	switch {
	case strings.Contains(upper, "PII") || strings.Contains(upper, "MALWARE") ||
		strings.Contains(upper, "SECRET"):
		return SeverityCritical
	case strings.Contains(upper, "INJECTION") || strings.Contains(upper, "TOXICITY"):
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
