package learner

import "time"

// RuleType classifies how an adaptive rule's pattern is meant to match.
type RuleType string

const (
	RuleKeyword   RuleType = "keyword"
	RuleRegex     RuleType = "regex"
	RuleToxicity  RuleType = "toxicity"
	RulePII       RuleType = "pii"
	RuleSentiment RuleType = "sentiment"
)

// Severity ranks the impact of a rule firing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RuleSource records where a rule came from.
type RuleSource string

const (
	SourceManual      RuleSource = "manual"
	SourceAutoLearned RuleSource = "auto_learned"
	SourceThreatIntel RuleSource = "threat_intel"
)

// Feedback is an operator verdict on a past decision a rule contributed to.
type Feedback string

const (
	FeedbackPositive      Feedback = "positive"
	FeedbackNegative      Feedback = "negative"
	FeedbackFalsePositive Feedback = "false_positive"
)

// AdaptiveRule is a learned (or manually seeded) detection pattern. Rules
// are stored as JSON and served to the feature path once their confidence
// and false-positive rate qualify them.
type AdaptiveRule struct {
	ID                string     `json:"id"`
	Pattern           string     `json:"pattern"`
	Type              RuleType   `json:"type"`
	Severity          Severity   `json:"severity"`
	Confidence        float64    `json:"confidence"`
	FalsePositiveRate float64    `json:"false_positive_rate"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Source            RuleSource `json:"source"`
	Enabled           bool       `json:"enabled"`
}

// LearningEvent is the learner's view of one completed decision. Built from
// the decision stream, optionally annotated later with operator feedback.
type LearningEvent struct {
	RequestID  string
	TenantID   string
	Content    string
	Blocked    bool
	Reason     string
	ReasonCode string
	Confidence float64
	Timestamp  time.Time
}

// Stats summarizes learner state for the operator API.
type Stats struct {
	TotalEvents   int64   `json:"total_events"`
	BlockedEvents int64   `json:"blocked_events"`
	LearnedRules  int     `json:"learned_rules"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgFPRate     float64 `json:"avg_false_positive_rate"`
}
