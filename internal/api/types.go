package api

import (
	"time"

	"github.com/aegis-ai/aegis/internal/alert"
	"github.com/aegis-ai/aegis/internal/learner"
)

// --- POST /v1/check/{input,output} request/response ---

// CheckRequest is the JSON body for the check endpoints. The SDK forwards
// the gated call's own endpoint, user agent, and client address; they are
// not the SDK's transport details.
type CheckRequest struct {
	RequestID string            `json:"request_id,omitempty"`
	Content   string            `json:"content"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Endpoint  string            `json:"endpoint,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CheckResponse is the gate's verdict on one request.
type CheckResponse struct {
	RequestID        string   `json:"request_id"`
	Allowed          bool     `json:"allowed"`
	RiskScore        float64  `json:"risk_score"`
	Confidence       float64  `json:"confidence"`
	Threats          []string `json:"threats"`
	Reason           string   `json:"reason,omitempty"`
	Mode             string   `json:"mode"`
	Degraded         bool     `json:"degraded"`
	Sampled          bool     `json:"sampled"`
	SanitizedContent string   `json:"sanitized_content,omitempty"`
	LatencyMs        float32  `json:"latency_ms"`
}

// --- Tenant CRUD ---

// CreateTenantReq is the JSON body for POST /api/aegis/tenants.
type CreateTenantReq struct {
	Name string `json:"name"`
}

// CreateTenantResp includes the plaintext API key (shown once).
type CreateTenantResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	CreatedAt    time.Time `json:"created_at"`
}

// TenantResp mirrors a tenant row without the plaintext key.
type TenantResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Policy configuration ---

// PolicyConfigResp is the engine's current configuration.
type PolicyConfigResp struct {
	Enabled        bool    `json:"enabled"`
	Mode           string  `json:"mode"`
	FailOpen       bool    `json:"fail_open"`
	Sampling       float64 `json:"sampling"`
	RedactionToken string  `json:"redaction_token"`
}

// UpdatePolicyConfigReq carries a full replacement configuration.
type UpdatePolicyConfigReq struct {
	Enabled        *bool    `json:"enabled,omitempty"`
	Mode           *string  `json:"mode,omitempty"`
	FailOpen       *bool    `json:"fail_open,omitempty"`
	Sampling       *float64 `json:"sampling,omitempty"`
	RedactionToken *string  `json:"redaction_token,omitempty"`
}

// CreateBindingReq is the JSON body for POST /api/aegis/bindings.
type CreateBindingReq struct {
	TenantID    string `json:"tenant_id,omitempty"`
	RoutePrefix string `json:"route_prefix"`
}

// UpdateBindingReq toggles a binding.
type UpdateBindingReq struct {
	IsActive *bool `json:"is_active"`
}

// BindingResp mirrors a policy binding row.
type BindingResp struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	RoutePrefix string    `json:"route_prefix"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// --- Webhooks ---

// RetryPolicyReq is the wire form of a retry policy, with the delay in
// milliseconds.
type RetryPolicyReq struct {
	MaxRetries        int     `json:"max_retries"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	InitialDelayMs    int     `json:"initial_delay_ms"`
}

// CreateWebhookReq is the JSON body for POST /api/aegis/webhooks.
type CreateWebhookReq struct {
	TenantID    string            `json:"tenant_id"`
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Secret      string            `json:"secret,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	RetryPolicy *RetryPolicyReq   `json:"retry_policy,omitempty"`
	RateLimit   *alert.RateLimit  `json:"rate_limit,omitempty"`
	Filters     *alert.Filters    `json:"filters,omitempty"`
}

// UpdateWebhookReq is the JSON body for PATCH /api/aegis/webhooks/{id}.
// Nil fields keep their current values.
type UpdateWebhookReq struct {
	Name        *string            `json:"name,omitempty"`
	URL         *string            `json:"url,omitempty"`
	Method      *string            `json:"method,omitempty"`
	Headers     *map[string]string `json:"headers,omitempty"`
	Secret      *string            `json:"secret,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`
	RetryPolicy *RetryPolicyReq    `json:"retry_policy,omitempty"`
	RateLimit   *alert.RateLimit   `json:"rate_limit,omitempty"`
	Filters     *alert.Filters     `json:"filters,omitempty"`
}

// --- Adaptive rules ---

// RuleFeedbackReq is the JSON body for POST /api/aegis/rules/{id}/feedback.
type RuleFeedbackReq struct {
	Feedback string `json:"feedback"` // positive, negative, or false_positive
}

// RuleListResp wraps the learned rule set.
type RuleListResp struct {
	Rules []learner.AdaptiveRule `json:"rules"`
	Total int                    `json:"total"`
}

// --- Events ---

// DecisionEventResp mirrors one audited decision.
type DecisionEventResp struct {
	RequestID      string    `json:"request_id"`
	TenantID       string    `json:"tenant_id"`
	Timestamp      time.Time `json:"timestamp"`
	Phase          string    `json:"phase"`
	ContentPreview string    `json:"content_preview"`
	ContentSize    uint32    `json:"content_size"`
	Allowed        bool      `json:"allowed"`
	Mode           string    `json:"mode"`
	Degraded       bool      `json:"degraded"`
	RiskScore      float32   `json:"risk_score"`
	Confidence     float32   `json:"confidence"`
	ThreatTypes    []string  `json:"threat_types"`
	Reason         *string   `json:"reason"`
	ModelIDs       []string  `json:"model_ids"`
	ModelScores    []float32 `json:"model_scores"`
	ModelActions   []string  `json:"model_actions"`
	UserID         *string   `json:"user_id"`
	Endpoint       string    `json:"endpoint"`
	LatencyMs      float32   `json:"latency_ms"`
}

// EventListResp is a page of decision events.
type EventListResp struct {
	Events   []DecisionEventResp `json:"events"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
