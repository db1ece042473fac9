package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegis-ai/aegis/internal/alert"
	"github.com/aegis-ai/aegis/internal/engine"
	"github.com/aegis-ai/aegis/internal/learner"
)

// LearnerHandler feeds decision events into the adaptive rule learner.
type LearnerHandler struct {
	learner *learner.Learner
}

func NewLearnerHandler(l *learner.Learner) *LearnerHandler {
	return &LearnerHandler{learner: l}
}

func (h *LearnerHandler) Name() string { return "learner" }

// HandleDecision converts the event into a learning event. Blocked means
// the aggregated decision said block, whether or not shadow mode let the
// request through, so shadow deployments learn at full fidelity.
func (h *LearnerHandler) HandleDecision(ctx context.Context, ev DecisionEvent) error {
	return h.learner.OnDecision(ctx, learner.LearningEvent{
		RequestID:  ev.Request.RequestID,
		TenantID:   ev.Request.TenantID,
		Content:    ev.Request.Content,
		Blocked:    ev.Decision.PredictedAction == engine.ActionBlock,
		Reason:     ev.Outcome.Reason,
		ReasonCode: reasonCode(ev.Decision.ThreatType),
		Confidence: ev.Decision.Confidence,
		Timestamp:  ev.Timestamp,
	})
}

func reasonCode(threatType string) string {
	return strings.ToUpper(threatType)
}

// AlertHandler raises webhook alerts for noteworthy decisions: blocks,
// shadow would-blocks, and degraded (scoring-failure) events.
type AlertHandler struct {
	dispatcher *alert.Dispatcher
}

func NewAlertHandler(d *alert.Dispatcher) *AlertHandler {
	return &AlertHandler{dispatcher: d}
}

func (h *AlertHandler) Name() string { return "alerts" }

func (h *AlertHandler) HandleDecision(ctx context.Context, ev DecisionEvent) error {
	switch {
	case ev.Outcome.Degraded:
		return h.dispatcher.SendAlert(ctx, h.build(ev,
			alert.TypeFirewallError,
			alert.SeverityMedium,
			"Scoring degraded",
			"decision resolved by fail-open policy: "+ev.Outcome.Reason,
		))
	case ev.Decision.PredictedAction == engine.ActionBlock:
		severity := alert.SeverityHigh
		if ev.Decision.RiskScore >= 0.9 {
			severity = alert.SeverityCritical
		}
		title := "Request blocked"
		if ev.Outcome.Allowed {
			title = "Request would be blocked (shadow)"
		}
		return h.dispatcher.SendAlert(ctx, h.build(ev,
			alert.TypeFirewallBlock, severity, title, ev.Decision.Explanation,
		))
	default:
		return nil
	}
}

func (h *AlertHandler) build(ev DecisionEvent, typ alert.AlertType, severity alert.Severity, title, message string) alert.AlertMessage {
	return alert.AlertMessage{
		ID:        fmt.Sprintf("%s-%s", ev.Request.RequestID, ev.Phase),
		Timestamp: ev.Timestamp,
		TenantID:  ev.Request.TenantID,
		Type:      typ,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Data: map[string]string{
			"request_id": ev.Request.RequestID,
			"phase":      string(ev.Phase),
			"endpoint":   ev.Request.Endpoint,
			"risk_score": fmt.Sprintf("%.2f", ev.Decision.RiskScore),
			"mode":       string(ev.Outcome.Mode),
		},
		Source:    "gate",
		UserID:    ev.Request.UserID,
		IPAddress: ev.Request.IPAddress,
		UserAgent: ev.Request.UserAgent,
	}
}
