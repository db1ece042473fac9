package api

import (
	"context"
	"net/http"

	"github.com/aegis-ai/aegis/internal/alert"
	"github.com/aegis-ai/aegis/internal/auth"
	"github.com/aegis-ai/aegis/internal/chread"
	"github.com/aegis-ai/aegis/internal/feature"
	"github.com/aegis-ai/aegis/internal/gate"
	"github.com/aegis-ai/aegis/internal/learner"
	"github.com/aegis-ai/aegis/internal/policy"
	"github.com/aegis-ai/aegis/internal/store"
	"go.uber.org/zap"
)

// Checker is the gate's synchronous surface.
type Checker interface {
	PreCheck(ctx context.Context, req feature.RequestContext) gate.CheckResult
	PostCheck(ctx context.Context, req feature.RequestContext) gate.CheckResult
}

// RuleService exposes the learner's rule management operations.
type RuleService interface {
	Rules(ctx context.Context) ([]learner.AdaptiveRule, error)
	OnFeedback(ctx context.Context, ruleID string, fb learner.Feedback) error
	SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error
	Stats(ctx context.Context) (learner.Stats, error)
}

// AlertService fires synthetic alerts at webhooks.
type AlertService interface {
	SendTestAlert(ctx context.Context, webhookID string) error
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store      *store.Store
	Gate       Checker
	Rules      RuleService
	Alerts     AlertService
	Deliveries alert.DeliveryStore
	Policy     *policy.Engine
	Auth       auth.Authenticator
	Reader     *chread.Reader // nil if ClickHouse unavailable
	Logger     *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Check endpoints (auth required via Bearer agk_ token)
	mux.HandleFunc("POST /v1/check/input", deps.authMiddleware(deps.handleCheckInput))
	mux.HandleFunc("POST /v1/check/output", deps.authMiddleware(deps.handleCheckOutput))

	// Tenant CRUD (no auth; dashboard auth added later)
	mux.HandleFunc("POST /api/aegis/tenants", deps.handleCreateTenant)
	mux.HandleFunc("GET /api/aegis/tenants", deps.handleListTenants)
	mux.HandleFunc("GET /api/aegis/tenants/{tenant_id}", deps.handleGetTenant)
	mux.HandleFunc("DELETE /api/aegis/tenants/{tenant_id}", deps.handleDeleteTenant)
	mux.HandleFunc("POST /api/aegis/tenants/{tenant_id}/rotate-key", deps.handleRotateKey)

	// Policy configuration and bindings (no auth)
	mux.HandleFunc("GET /api/aegis/config", deps.handleGetConfig)
	mux.HandleFunc("PUT /api/aegis/config", deps.handleUpdateConfig)
	mux.HandleFunc("GET /api/aegis/bindings", deps.handleListBindings)
	mux.HandleFunc("POST /api/aegis/bindings", deps.handleCreateBinding)
	mux.HandleFunc("PATCH /api/aegis/bindings/{binding_id}", deps.handleUpdateBinding)
	mux.HandleFunc("DELETE /api/aegis/bindings/{binding_id}", deps.handleDeleteBinding)

	// Webhook CRUD (no auth)
	mux.HandleFunc("POST /api/aegis/webhooks", deps.handleCreateWebhook)
	mux.HandleFunc("GET /api/aegis/webhooks", deps.handleListWebhooks)
	mux.HandleFunc("GET /api/aegis/webhooks/{webhook_id}", deps.handleGetWebhook)
	mux.HandleFunc("PATCH /api/aegis/webhooks/{webhook_id}", deps.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/aegis/webhooks/{webhook_id}", deps.handleDeleteWebhook)
	mux.HandleFunc("POST /api/aegis/webhooks/{webhook_id}/test", deps.handleTestWebhook)
	mux.HandleFunc("GET /api/aegis/webhooks/{webhook_id}/deliveries", deps.handleListDeliveries)

	// Adaptive rules (no auth)
	mux.HandleFunc("GET /api/aegis/rules", deps.handleListRules)
	mux.HandleFunc("GET /api/aegis/rules/stats", deps.handleRuleStats)
	mux.HandleFunc("POST /api/aegis/rules/{rule_id}/feedback", deps.handleRuleFeedback)
	mux.HandleFunc("POST /api/aegis/rules/{rule_id}/enable", deps.handleEnableRule)
	mux.HandleFunc("POST /api/aegis/rules/{rule_id}/disable", deps.handleDisableRule)

	// Events & Analytics (no auth)
	mux.HandleFunc("GET /api/aegis/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/aegis/events/{request_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/aegis/analytics", deps.handleGetAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
