package api

import (
	"net/http"
	"time"

	"github.com/aegis-ai/aegis/internal/feature"
	"github.com/aegis-ai/aegis/internal/gate"
)

// handleCheckInput gates request content before the protected call runs.
func (d *Dependencies) handleCheckInput(w http.ResponseWriter, r *http.Request) {
	d.handleCheck(w, r, true)
}

// handleCheckOutput gates response content after the protected call ran.
func (d *Dependencies) handleCheckOutput(w http.ResponseWriter, r *http.Request) {
	d.handleCheck(w, r, false)
}

func (d *Dependencies) handleCheck(w http.ResponseWriter, r *http.Request, pre bool) {
	var req CheckRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "content is required"})
		return
	}

	tenant := tenantFromContext(r.Context())
	if tenant == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing tenant context"})
		return
	}

	reqCtx := feature.RequestContext{
		RequestID: req.RequestID,
		TenantID:  tenant.TenantID,
		UserID:    req.UserID,
		Content:   req.Content,
		Endpoint:  req.Endpoint,
		UserAgent: req.UserAgent,
		IPAddress: req.IPAddress,
		Headers:   req.Headers,
		Metadata:  req.Metadata,
		Timestamp: time.Now().UTC(),
	}
	if req.SessionID != "" {
		if reqCtx.Metadata == nil {
			reqCtx.Metadata = map[string]string{}
		}
		reqCtx.Metadata["session_id"] = req.SessionID
	}

	var result gate.CheckResult
	if pre {
		result = d.Gate.PreCheck(r.Context(), reqCtx)
	} else {
		result = d.Gate.PostCheck(r.Context(), reqCtx)
	}

	threats := result.Threats
	if threats == nil {
		threats = []string{}
	}
	writeJSON(w, http.StatusOK, CheckResponse{
		RequestID:        result.RequestID,
		Allowed:          result.Allowed,
		RiskScore:        result.RiskScore,
		Confidence:       result.Confidence,
		Threats:          threats,
		Reason:           result.Reason,
		Mode:             string(result.Mode),
		Degraded:         result.Degraded,
		Sampled:          result.Sampled,
		SanitizedContent: result.SanitizedContent,
		LatencyMs:        result.LatencyMs,
	})
}
