package alert

import "time"

// AlertType names the class of event an alert reports.
type AlertType string

const (
	TypeFirewallBlock     AlertType = "firewall_block"
	TypeFirewallThreat    AlertType = "firewall_threat"
	TypeFirewallError     AlertType = "firewall_error"
	TypePolicyViolation   AlertType = "policy_violation"
	TypeRateLimitExceeded AlertType = "rate_limit_exceeded"
	TypeSuspiciousActivity AlertType = "suspicious_activity"
	TypeSystemError       AlertType = "system_error"
	TypeConfigChange      AlertType = "config_change"
	TypeUserAction        AlertType = "user_action"
	TypeSecurityIncident  AlertType = "security_incident"
)

// Types lists every known alert type, for API discovery.
func Types() []AlertType {
	return []AlertType{
		TypeFirewallBlock, TypeFirewallThreat, TypeFirewallError,
		TypePolicyViolation, TypeRateLimitExceeded, TypeSuspiciousActivity,
		TypeSystemError, TypeConfigChange, TypeUserAction, TypeSecurityIncident,
	}
}

// Severity ranks alert impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank maps severity to a comparable level; unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AlertMessage is one security event to be fanned out to webhooks.
type AlertMessage struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	TenantID  string            `json:"tenant_id"`
	Type      AlertType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Source    string            `json:"source"`
	Tags      []string          `json:"tags,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
}

// RetryPolicy controls delivery retries with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	InitialDelay      time.Duration `json:"initial_delay"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BackoffMultiplier: 2,
		InitialDelay:      time.Second,
	}
}

// RateLimit bounds deliveries per webhook over sliding windows.
type RateLimit struct {
	MaxPerMinute int `json:"max_per_minute"`
	MaxPerHour   int `json:"max_per_hour"`
}

func DefaultRateLimit() RateLimit {
	return RateLimit{MaxPerMinute: 60, MaxPerHour: 1000}
}

// Filters restrict which alerts a webhook receives and what the payload
// contains.
type Filters struct {
	AlertTypes     []AlertType `json:"alert_types,omitempty"`
	MinSeverity    Severity    `json:"min_severity,omitempty"`
	IncludeRawData bool        `json:"include_raw_data"`
}

// WebhookConfig is one tenant-owned delivery target. Secret signs payloads
// and is never echoed back through the API.
type WebhookConfig struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Method      string            `json:"method"` // POST, PUT, or PATCH
	Headers     map[string]string `json:"headers,omitempty"`
	Secret      string            `json:"-"`
	Enabled     bool              `json:"enabled"`
	RetryPolicy RetryPolicy       `json:"retry_policy"`
	RateLimit   RateLimit         `json:"rate_limit"`
	Filters     Filters           `json:"filters"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DeliveryStatus is the lifecycle state of one webhook delivery.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusRetrying  DeliveryStatus = "retrying"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// WebhookDelivery tracks one alert's journey to one webhook. Terminal states
// are delivered and failed; the scheduler only picks up pending deliveries
// and retrying ones whose NextRetryAt has passed.
type WebhookDelivery struct {
	ID             string         `json:"id"`
	WebhookID      string         `json:"webhook_id"`
	AlertID        string         `json:"alert_id"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	LastAttemptAt  time.Time      `json:"last_attempt_at,omitempty"`
	NextRetryAt    time.Time      `json:"next_retry_at,omitempty"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	DeliveredAt    time.Time      `json:"delivered_at,omitempty"`
}
