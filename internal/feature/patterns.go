package feature

import "regexp"

// Pre-compiled detector tables, compiled once at startup, never during a
// request. Extraction is deterministic given these lists.

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?above\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`),
	regexp.MustCompile(`(?i)override\s+(system|safety|security)\s+(prompt|instructions|rules|policy)`),
	regexp.MustCompile(`(?i)bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`),
	regexp.MustCompile(`(?i)\[SYSTEM\]`),
	regexp.MustCompile(`(?i)<\|im_start\|>system`),
	regexp.MustCompile(`(?i)system\s*[:;]`),
	regexp.MustCompile(`(?i)admin\s*[:;]`),
}

var suspiciousKeywords = []string{
	"exploit",
	"hack",
	"bypass",
	"jailbreak",
	"override",
	"malware",
	"sql injection",
	"remote code execution",
	"admin password",
	"system prompt",
}

// High-precision PII shapes: SSN, credit cards, email.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`),
	regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`),
	regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
}

// Credential assignment shapes: password=..., api_key: ..., etc.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password\s*[=:]\s*['"]?[^'"\s]+`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[=:]\s*['"]?[\w\-]{16,}`),
	regexp.MustCompile(`(?i)secret\s*[=:]\s*['"]?[\w\-]{16,}`),
	regexp.MustCompile(`(?i)token\s*[=:]\s*['"]?[\w.\-]{20,}`),
	regexp.MustCompile(`-----BEGIN\s+(RSA|EC|OPENSSH)?\s*PRIVATE KEY-----`),
}

var suspiciousUserAgents = []string{"curl", "wget", "python", "bot", "scanner"}

var highRiskEndpoints = []string{"/admin", "/api/internal", "/system"}

// Request headers whose presence suggests proxy/origin spoofing.
var anomalousHeaders = []string{"X-Forwarded-For", "X-Real-IP", "X-Originating-IP"}
