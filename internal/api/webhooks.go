package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aegis-ai/aegis/internal/alert"
	"go.uber.org/zap"
)

// isNotFound reports whether a store error means the row does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (d *Dependencies) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.TenantID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tenant_id is required"})
		return
	}
	if req.Name == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name and url are required"})
		return
	}

	cfg := alert.WebhookConfig{
		TenantID:    req.TenantID,
		Name:        req.Name,
		URL:         req.URL,
		Method:      req.Method,
		Headers:     req.Headers,
		Secret:      req.Secret,
		Enabled:     true,
		RetryPolicy: alert.DefaultRetryPolicy(),
		RateLimit:   alert.DefaultRateLimit(),
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.RetryPolicy != nil {
		cfg.RetryPolicy = toRetryPolicy(*req.RetryPolicy)
	}
	if req.RateLimit != nil {
		cfg.RateLimit = *req.RateLimit
	}
	if req.Filters != nil {
		cfg.Filters = *req.Filters
	}

	created, err := d.Store.CreateWebhook(r.Context(), cfg)
	if err != nil {
		d.Logger.Error("failed to create webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create webhook"})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (d *Dependencies) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tenant_id query parameter is required"})
		return
	}

	webhooks, err := d.Store.ListForTenant(r.Context(), tenantID)
	if err != nil {
		d.Logger.Error("failed to list webhooks", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list webhooks"})
		return
	}
	writeJSON(w, http.StatusOK, webhooks)
}

func (d *Dependencies) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("webhook_id")
	wh, err := d.Store.GetWebhook(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to get webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get webhook"})
		return
	}
	if wh == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Webhook not found."})
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (d *Dependencies) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("webhook_id")

	var req UpdateWebhookReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	wh, err := d.Store.GetWebhook(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to get webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update webhook"})
		return
	}
	if wh == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Webhook not found."})
		return
	}

	if req.Name != nil {
		wh.Name = *req.Name
	}
	if req.URL != nil {
		wh.URL = *req.URL
	}
	if req.Method != nil {
		wh.Method = *req.Method
	}
	if req.Headers != nil {
		wh.Headers = *req.Headers
	}
	if req.Secret != nil {
		wh.Secret = *req.Secret
	}
	if req.Enabled != nil {
		wh.Enabled = *req.Enabled
	}
	if req.RetryPolicy != nil {
		wh.RetryPolicy = toRetryPolicy(*req.RetryPolicy)
	}
	if req.RateLimit != nil {
		wh.RateLimit = *req.RateLimit
	}
	if req.Filters != nil {
		wh.Filters = *req.Filters
	}

	updated, err := d.Store.UpdateWebhook(r.Context(), *wh)
	if err != nil {
		d.Logger.Error("failed to update webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update webhook"})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (d *Dependencies) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("webhook_id")
	if err := d.Store.DeleteWebhook(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Webhook not found."})
			return
		}
		d.Logger.Error("failed to delete webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete webhook"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestWebhook fires a synthetic alert at one webhook so operators can
// verify their endpoint end to end.
func (d *Dependencies) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("webhook_id")
	if err := d.Alerts.SendTestAlert(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (d *Dependencies) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("webhook_id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	deliveries, err := d.Deliveries.ListForWebhook(r.Context(), id, limit)
	if err != nil {
		d.Logger.Error("failed to list deliveries", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list deliveries"})
		return
	}
	if deliveries == nil {
		deliveries = []alert.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

func toRetryPolicy(req RetryPolicyReq) alert.RetryPolicy {
	return alert.RetryPolicy{
		MaxRetries:        req.MaxRetries,
		BackoffMultiplier: req.BackoffMultiplier,
		InitialDelay:      time.Duration(req.InitialDelayMs) * time.Millisecond,
	}
}
