package feature

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aegis-ai/aegis/internal/engine"
)

// Extraction normalization constants. Long content saturates the bounded
// scores instead of overflowing them.
const (
	complexityWordsPerSentence = 50.0
	payloadSizeSaturation      = 10_000.0
	headerAnomalyWeight        = 0.2
)

// Extractor converts a RequestContext into a FeatureVector. Pure and
// deterministic given the same input and the static pattern tables: no I/O,
// no side effects, and it never fails on malformed or empty content.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract derives the feature vector for one request. Absent fields default
// to zero values; every *Score/*Risk field is clamped to [0, 1].
func (e *Extractor) Extract(req RequestContext) FeatureVector {
	content := req.Content

	return FeatureVector{
		ContentLength:          len(content),
		TokenCount:             estimateTokenCount(content),
		ComplexityScore:        complexityScore(content),
		RequestFrequency:       frequencyHint(req.Metadata),
		TimeOfDay:              timeOfDayScore(req),
		UserAgentRisk:          userAgentRisk(req.UserAgent),
		IPRiskScore:            ipRisk(req.IPAddress),
		EndpointRisk:           endpointRisk(req.Endpoint),
		PayloadSize:            payloadSizeScore(req),
		HeaderAnomalies:        headerAnomalyScore(req.Headers),
		InjectionPatternCount:  countMatches(content, injectionPatterns),
		SuspiciousKeywordCount: countKeywords(content, suspiciousKeywords),
		ContainsPII:            matchesAny(content, piiPatterns),
		ContainsSecrets:        matchesAny(content, secretPatterns),
	}
}

// estimateTokenCount approximates tokens as content length / 4. A real
// tokenizer is the scoring service's job; this only feeds a coarse feature.
func estimateTokenCount(content string) int {
	return (len(content) + 3) / 4
}

func complexityScore(content string) float64 {
	if content == "" {
		return 0
	}
	words := len(strings.Fields(content))
	sentences := strings.Count(content, ".") + strings.Count(content, "!") + strings.Count(content, "?")
	if sentences == 0 {
		sentences = 1
	}
	avg := float64(words) / float64(sentences)
	return engine.Clamp01(avg / complexityWordsPerSentence)
}

// frequencyHint reads the caller-supplied requests-per-minute hint from the
// metadata side-channel. The extractor itself does no counting; that would
// make it stateful.
func frequencyHint(metadata map[string]string) float64 {
	v, ok := metadata["request_frequency"]
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// timeOfDayScore flags the 02:00–06:00 window as unusual.
func timeOfDayScore(req RequestContext) float64 {
	if req.Timestamp.IsZero() {
		return 0
	}
	hour := req.Timestamp.Hour()
	if hour >= 2 && hour <= 6 {
		return 0.8
	}
	return 0.3
}

func userAgentRisk(userAgent string) float64 {
	if userAgent == "" {
		return 0.5
	}
	lower := strings.ToLower(userAgent)
	for _, agent := range suspiciousUserAgents {
		if strings.Contains(lower, agent) {
			return 0.8
		}
	}
	return 0.2
}

func ipRisk(ip string) float64 {
	if ip == "" {
		return 0.3
	}
	// Loopback and RFC1918 ranges are internal traffic.
	if strings.HasPrefix(ip, "127.") || strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "192.168.") || ip == "::1" {
		return 0.1
	}
	return 0.3
}

func endpointRisk(endpoint string) float64 {
	for _, prefix := range highRiskEndpoints {
		if strings.Contains(endpoint, prefix) {
			return 0.8
		}
	}
	return 0.3
}

func payloadSizeScore(req RequestContext) float64 {
	approx := len(req.Content)
	for k, v := range req.Headers {
		approx += len(k) + len(v)
	}
	return engine.Clamp01(float64(approx) / payloadSizeSaturation)
}

func headerAnomalyScore(headers map[string]string) float64 {
	if len(headers) == 0 {
		return 0
	}
	var score float64
	for _, name := range anomalousHeaders {
		if _, ok := headers[name]; ok {
			score += headerAnomalyWeight
		}
	}
	return engine.Clamp01(score)
}

func countMatches(content string, patterns []*regexp.Regexp) int {
	var n int
	for _, re := range patterns {
		if re.MatchString(content) {
			n++
		}
	}
	return n
}

func countKeywords(content string, keywords []string) int {
	lower := strings.ToLower(content)
	var n int
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

func matchesAny(content string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}
