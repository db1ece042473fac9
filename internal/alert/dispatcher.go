package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher fans alerts out to tenant webhooks. It only enqueues delivery
// records; the Worker performs the actual HTTP calls, so a slow or dead
// endpoint never blocks the caller.
type Dispatcher struct {
	webhooks   WebhookSource
	alerts     AlertStore
	deliveries DeliveryStore
	limiter    RateLimiter
	logger     *zap.Logger
	now        func() time.Time
}

func NewDispatcher(webhooks WebhookSource, alerts AlertStore, deliveries DeliveryStore, limiter RateLimiter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		webhooks:   webhooks,
		alerts:     alerts,
		deliveries: deliveries,
		limiter:    limiter,
		logger:     logger,
		now:        time.Now,
	}
}

// SendAlert persists the alert and enqueues one pending delivery per
// eligible webhook. A webhook is eligible when enabled, its filters accept
// the alert, and its rate limit has headroom; a rate-limited alert is
// dropped for that webhook, not queued.
func (d *Dispatcher) SendAlert(ctx context.Context, alert AlertMessage) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = d.now()
	}
	if err := d.alerts.PutAlert(ctx, alert); err != nil {
		return fmt.Errorf("store alert: %w", err)
	}

	webhooks, err := d.webhooks.ListForTenant(ctx, alert.TenantID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}

	for _, wh := range webhooks {
		if !wh.Enabled || !shouldSend(wh, alert) {
			continue
		}

		allowed, err := d.limiter.Allow(ctx, wh.ID, wh.RateLimit)
		if err != nil {
			d.logger.Warn("rate limit check failed, skipping webhook",
				zap.String("webhook_id", wh.ID), zap.Error(err))
			continue
		}
		if !allowed {
			d.logger.Warn("webhook rate limit exceeded, dropping alert",
				zap.String("webhook_id", wh.ID),
				zap.String("alert_id", alert.ID),
			)
			continue
		}

		delivery := WebhookDelivery{
			ID:        uuid.NewString(),
			WebhookID: wh.ID,
			AlertID:   alert.ID,
			Status:    StatusPending,
		}
		if err := d.deliveries.PutDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("enqueue delivery for %s: %w", wh.ID, err)
		}
		d.logger.Debug("delivery enqueued",
			zap.String("delivery_id", delivery.ID),
			zap.String("webhook_id", wh.ID),
			zap.String("alert_id", alert.ID),
		)
	}
	return nil
}

// SendSystemAlert builds and dispatches an internally generated alert.
func (d *Dispatcher) SendSystemAlert(ctx context.Context, tenantID string, typ AlertType, severity Severity, title, message string, data map[string]string) error {
	return d.SendAlert(ctx, AlertMessage{
		ID:        uuid.NewString(),
		Timestamp: d.now(),
		TenantID:  tenantID,
		Type:      typ,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Data:      data,
		Source:    "system",
	})
}

// SendTestAlert fires a synthetic medium-severity alert at one webhook so
// operators can verify their endpoint end to end. Filters and rate limits
// still apply.
func (d *Dispatcher) SendTestAlert(ctx context.Context, webhookID string) error {
	wh, err := d.webhooks.GetWebhook(ctx, webhookID)
	if err != nil {
		return err
	}
	if wh == nil {
		return fmt.Errorf("webhook %s not found", webhookID)
	}
	return d.SendAlert(ctx, AlertMessage{
		ID:        fmt.Sprintf("test_%d", d.now().UnixMilli()),
		Timestamp: d.now(),
		TenantID:  wh.TenantID,
		Type:      TypeSystemError,
		Severity:  SeverityMedium,
		Title:     "Test Alert",
		Message:   "This is a test alert from the Aegis gateway",
		Data:      map[string]string{"test": "true"},
		Source:    "webhook_test",
		Tags:      []string{"test"},
	})
}

// shouldSend applies the webhook's type and severity filters. An empty type
// list accepts every type; an empty MinSeverity accepts every severity.
func shouldSend(wh WebhookConfig, alert AlertMessage) bool {
	if len(wh.Filters.AlertTypes) > 0 {
		var found bool
		for _, t := range wh.Filters.AlertTypes {
			if t == alert.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if wh.Filters.MinSeverity != "" && alert.Severity.Rank() < wh.Filters.MinSeverity.Rank() {
		return false
	}
	return true
}
