package alert

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WebhookSource resolves webhook configurations for dispatch.
type WebhookSource interface {
	ListForTenant(ctx context.Context, tenantID string) ([]WebhookConfig, error)
	GetWebhook(ctx context.Context, webhookID string) (*WebhookConfig, error)
}

// AlertStore persists alerts so deliveries can reload them across restarts.
type AlertStore interface {
	PutAlert(ctx context.Context, alert AlertMessage) error
	GetAlert(ctx context.Context, alertID string) (*AlertMessage, error)
}

// DeliveryStore persists delivery state. Every transition is written before
// the next attempt so a crash never loses scheduling state.
type DeliveryStore interface {
	PutDelivery(ctx context.Context, d WebhookDelivery) error
	// Due returns pending deliveries plus retrying ones whose NextRetryAt
	// has passed, oldest first, at most limit.
	Due(ctx context.Context, now time.Time, limit int) ([]WebhookDelivery, error)
	// ListForWebhook returns recent deliveries for one webhook, newest first.
	ListForWebhook(ctx context.Context, webhookID string, limit int) ([]WebhookDelivery, error)
}

// MemoryWebhookSource holds webhook configs in process. Serves tests and the
// no-database configuration.
type MemoryWebhookSource struct {
	mu       sync.RWMutex
	webhooks map[string]WebhookConfig
}

func NewMemoryWebhookSource() *MemoryWebhookSource {
	return &MemoryWebhookSource{webhooks: make(map[string]WebhookConfig)}
}

func (s *MemoryWebhookSource) Put(cfg WebhookConfig) {
	s.mu.Lock()
	s.webhooks[cfg.ID] = cfg
	s.mu.Unlock()
}

func (s *MemoryWebhookSource) ListForTenant(_ context.Context, tenantID string) ([]WebhookConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WebhookConfig
	for _, w := range s.webhooks {
		if w.TenantID == tenantID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryWebhookSource) GetWebhook(_ context.Context, webhookID string) (*WebhookConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.webhooks[webhookID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

// MemoryAlertStore keeps alerts in process.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]AlertMessage
}

func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string]AlertMessage)}
}

func (s *MemoryAlertStore) PutAlert(_ context.Context, alert AlertMessage) error {
	s.mu.Lock()
	s.alerts[alert.ID] = alert
	s.mu.Unlock()
	return nil
}

func (s *MemoryAlertStore) GetAlert(_ context.Context, alertID string) (*AlertMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// MemoryDeliveryStore keeps delivery state in process.
type MemoryDeliveryStore struct {
	mu         sync.RWMutex
	deliveries map[string]WebhookDelivery
	order      []string // insertion order, oldest first
}

func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{deliveries: make(map[string]WebhookDelivery)}
}

func (s *MemoryDeliveryStore) PutDelivery(_ context.Context, d WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		s.order = append(s.order, d.ID)
	}
	s.deliveries[d.ID] = d
	return nil
}

func (s *MemoryDeliveryStore) GetDelivery(_ context.Context, id string) (*WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *MemoryDeliveryStore) Due(_ context.Context, now time.Time, limit int) ([]WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []WebhookDelivery
	for _, id := range s.order {
		d := s.deliveries[id]
		switch d.Status {
		case StatusPending:
			due = append(due, d)
		case StatusRetrying:
			if !d.NextRetryAt.After(now) {
				due = append(due, d)
			}
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *MemoryDeliveryStore) ListForWebhook(_ context.Context, webhookID string, limit int) ([]WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WebhookDelivery
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		d := s.deliveries[s.order[i]]
		if d.WebhookID == webhookID {
			out = append(out, d)
		}
	}
	return out, nil
}
