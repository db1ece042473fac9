package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aegis-ai/aegis/internal/chread"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tenant_id query parameter is required"})
		return
	}

	params := chread.ListEventsParams{
		TenantID: tenantID,
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("phase"); v != "" {
		params.Phase = &v
	}
	if v := q.Get("allowed"); v != "" {
		b := v == "true" || v == "1"
		params.Allowed = &b
	}
	if v := q.Get("degraded"); v != "" {
		b := v == "true" || v == "1"
		params.Degraded = &b
	}
	if v := q.Get("threat_type"); v != "" {
		params.ThreatType = &v
	}
	if v := q.Get("user_id"); v != "" {
		params.UserID = &v
	}
	if v := q.Get("endpoint"); v != "" {
		params.Endpoint = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	resp := EventListResp{
		Events:   make([]DecisionEventResp, 0, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, eventRowToResp(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	requestID := r.PathValue("request_id")
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tenant_id query parameter is required"})
		return
	}

	event, err := d.Reader.GetEvent(r.Context(), tenantID, requestID)
	if err != nil {
		d.Logger.Error("failed to get event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get event"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found."})
		return
	}

	writeJSON(w, http.StatusOK, eventRowToResp(*event))
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tenant_id query parameter is required"})
		return
	}

	days := queryInt(q, "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	analytics, err := d.Reader.GetAnalytics(r.Context(), tenantID, days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}

	writeJSON(w, http.StatusOK, analytics)
}

func eventRowToResp(e chread.EventRow) DecisionEventResp {
	resp := DecisionEventResp{
		RequestID:      e.RequestID,
		TenantID:       e.TenantID,
		Timestamp:      e.Timestamp,
		Phase:          e.Phase,
		ContentPreview: e.ContentPreview,
		ContentSize:    e.ContentSize,
		Allowed:        e.Allowed == 1,
		Mode:           e.Mode,
		Degraded:       e.Degraded == 1,
		RiskScore:      e.RiskScore,
		Confidence:     e.Confidence,
		ThreatTypes:    e.ThreatTypes,
		ModelIDs:       e.ModelIDs,
		ModelScores:    e.ModelScores,
		ModelActions:   e.ModelActions,
		Endpoint:       e.Endpoint,
		LatencyMs:      e.LatencyMs,
	}
	if e.Reason != "" {
		reason := e.Reason
		resp.Reason = &reason
	}
	if e.UserID != "" {
		uid := e.UserID
		resp.UserID = &uid
	}
	if resp.ThreatTypes == nil {
		resp.ThreatTypes = []string{}
	}
	if resp.ModelIDs == nil {
		resp.ModelIDs = []string{}
	}
	if resp.ModelScores == nil {
		resp.ModelScores = []float32{}
	}
	if resp.ModelActions == nil {
		resp.ModelActions = []string{}
	}
	return resp
}

func queryInt(q url.Values, key string, fallback int) int {
	v := q.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
