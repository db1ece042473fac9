package alert

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testWebhook(id, tenantID string) WebhookConfig {
	return WebhookConfig{
		ID:          id,
		TenantID:    tenantID,
		Name:        id,
		URL:         "https://hooks.example.com/" + id,
		Method:      "POST",
		Enabled:     true,
		RetryPolicy: DefaultRetryPolicy(),
		RateLimit:   DefaultRateLimit(),
	}
}

func testAlert(tenantID string, severity Severity) AlertMessage {
	return AlertMessage{
		TenantID: tenantID,
		Type:     TypeFirewallBlock,
		Severity: severity,
		Title:    "Request blocked",
		Message:  "prompt injection detected",
		Source:   "gate",
	}
}

func newTestDispatcher() (*Dispatcher, *MemoryWebhookSource, *MemoryDeliveryStore) {
	webhooks := NewMemoryWebhookSource()
	deliveries := NewMemoryDeliveryStore()
	d := NewDispatcher(webhooks, NewMemoryAlertStore(), deliveries, NewMemoryRateLimiter(), zap.NewNop())
	return d, webhooks, deliveries
}

func pendingCount(t *testing.T, deliveries *MemoryDeliveryStore) int {
	t.Helper()
	due, err := deliveries.Due(context.Background(), time.Now(), 100)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	return len(due)
}

func TestSendAlert_EnqueuesPerEnabledWebhook(t *testing.T) {
	d, webhooks, deliveries := newTestDispatcher()
	webhooks.Put(testWebhook("wh-1", "t1"))
	disabled := testWebhook("wh-2", "t1")
	disabled.Enabled = false
	webhooks.Put(disabled)
	webhooks.Put(testWebhook("wh-3", "other-tenant"))

	if err := d.SendAlert(context.Background(), testAlert("t1", SeverityHigh)); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}

	if got := pendingCount(t, deliveries); got != 1 {
		t.Errorf("expected 1 pending delivery, got %d", got)
	}
}

func TestSendAlert_MinSeverityFilter(t *testing.T) {
	d, webhooks, deliveries := newTestDispatcher()
	wh := testWebhook("wh-1", "t1")
	wh.Filters.MinSeverity = SeverityHigh
	webhooks.Put(wh)

	if err := d.SendAlert(context.Background(), testAlert("t1", SeverityMedium)); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if got := pendingCount(t, deliveries); got != 0 {
		t.Errorf("medium alert must not pass a high floor, got %d deliveries", got)
	}

	if err := d.SendAlert(context.Background(), testAlert("t1", SeverityCritical)); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if got := pendingCount(t, deliveries); got != 1 {
		t.Errorf("critical alert must pass a high floor, got %d deliveries", got)
	}
}

func TestSendAlert_TypeFilter(t *testing.T) {
	d, webhooks, deliveries := newTestDispatcher()
	wh := testWebhook("wh-1", "t1")
	wh.Filters.AlertTypes = []AlertType{TypeConfigChange}
	webhooks.Put(wh)

	if err := d.SendAlert(context.Background(), testAlert("t1", SeverityCritical)); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if got := pendingCount(t, deliveries); got != 0 {
		t.Errorf("firewall_block must not match a config_change-only filter, got %d", got)
	}
}

func TestSendAlert_RateLimitDropsExcess(t *testing.T) {
	d, webhooks, deliveries := newTestDispatcher()
	wh := testWebhook("wh-1", "t1")
	wh.RateLimit = RateLimit{MaxPerMinute: 5, MaxPerHour: 1000}
	webhooks.Put(wh)

	for i := 0; i < 6; i++ {
		alert := testAlert("t1", SeverityHigh)
		alert.ID = fmt.Sprintf("alert-%d", i)
		if err := d.SendAlert(context.Background(), alert); err != nil {
			t.Fatalf("SendAlert %d: %v", i, err)
		}
	}

	// The sixth alert inside the window is dropped, not queued.
	if got := pendingCount(t, deliveries); got != 5 {
		t.Errorf("expected 5 deliveries after rate limit, got %d", got)
	}
}

func TestSendTestAlert(t *testing.T) {
	d, webhooks, deliveries := newTestDispatcher()
	webhooks.Put(testWebhook("wh-1", "t1"))

	if err := d.SendTestAlert(context.Background(), "wh-1"); err != nil {
		t.Fatalf("SendTestAlert: %v", err)
	}
	if got := pendingCount(t, deliveries); got != 1 {
		t.Errorf("expected 1 test delivery, got %d", got)
	}

	if err := d.SendTestAlert(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown webhook")
	}
}

func TestShouldSend(t *testing.T) {
	cases := []struct {
		name    string
		filters Filters
		alert   AlertMessage
		want    bool
	}{
		{"no filters", Filters{}, testAlert("t1", SeverityLow), true},
		{
			"type allowed",
			Filters{AlertTypes: []AlertType{TypeFirewallBlock}},
			testAlert("t1", SeverityLow), true,
		},
		{
			"severity at floor passes",
			Filters{MinSeverity: SeverityMedium},
			testAlert("t1", SeverityMedium), true,
		},
		{
			"severity below floor",
			Filters{MinSeverity: SeverityMedium},
			testAlert("t1", SeverityLow), false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wh := testWebhook("wh", "t1")
			wh.Filters = tc.filters
			if got := shouldSend(wh, tc.alert); got != tc.want {
				t.Errorf("shouldSend = %v, want %v", got, tc.want)
			}
		})
	}
}
