package api

import (
	"net/http"

	"github.com/aegis-ai/aegis/internal/learner"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := d.Rules.Rules(r.Context())
	if err != nil {
		d.Logger.Error("failed to list rules", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list rules"})
		return
	}
	if rules == nil {
		rules = []learner.AdaptiveRule{}
	}
	writeJSON(w, http.StatusOK, RuleListResp{Rules: rules, Total: len(rules)})
}

func (d *Dependencies) handleRuleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Rules.Stats(r.Context())
	if err != nil {
		d.Logger.Error("failed to load rule stats", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to load stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (d *Dependencies) handleRuleFeedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rule_id")

	var req RuleFeedbackReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	fb := learner.Feedback(req.Feedback)
	switch fb {
	case learner.FeedbackPositive, learner.FeedbackNegative, learner.FeedbackFalsePositive:
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "feedback must be positive, negative, or false_positive"})
		return
	}

	if err := d.Rules.OnFeedback(r.Context(), id, fb); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	d.setRuleEnabled(w, r, true)
}

func (d *Dependencies) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	d.setRuleEnabled(w, r, false)
}

func (d *Dependencies) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("rule_id")
	if err := d.Rules.SetRuleEnabled(r.Context(), id, enabled); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
