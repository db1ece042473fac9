package api

import (
	"net/http"

	"github.com/aegis-ai/aegis/internal/policy"
	"github.com/aegis-ai/aegis/internal/store"
	"go.uber.org/zap"
)

func (d *Dependencies) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := d.Policy.Config()
	writeJSON(w, http.StatusOK, configToResp(cfg))
}

// handleUpdateConfig applies a partial update to the policy configuration.
// The merged config is validated, swapped into the live engine, and
// persisted so it survives a restart.
func (d *Dependencies) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdatePolicyConfigReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	cfg := d.Policy.Config()
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.Mode != nil {
		cfg.Mode = policy.Mode(*req.Mode)
	}
	if req.FailOpen != nil {
		cfg.FailOpen = *req.FailOpen
	}
	if req.Sampling != nil {
		cfg.Sampling = *req.Sampling
	}
	if req.RedactionToken != nil {
		cfg.RedactionToken = *req.RedactionToken
	}

	if err := d.Policy.SetConfig(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	if err := d.Store.SavePolicyConfig(r.Context(), cfg); err != nil {
		d.Logger.Error("failed to persist policy config", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to save configuration"})
		return
	}

	writeJSON(w, http.StatusOK, configToResp(cfg))
}

func (d *Dependencies) handleListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := d.Store.ListBindings(r.Context())
	if err != nil {
		d.Logger.Error("failed to list bindings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list bindings"})
		return
	}

	resp := make([]BindingResp, 0, len(bindings))
	for _, b := range bindings {
		resp = append(resp, bindingToResp(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleCreateBinding(w http.ResponseWriter, r *http.Request) {
	var req CreateBindingReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.RoutePrefix == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "route_prefix is required"})
		return
	}

	binding, err := d.Store.CreateBinding(r.Context(), req.TenantID, req.RoutePrefix)
	if err != nil {
		d.Logger.Error("failed to create binding", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create binding"})
		return
	}

	d.reloadBindings(r)
	writeJSON(w, http.StatusCreated, bindingToResp(binding))
}

func (d *Dependencies) handleUpdateBinding(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("binding_id")

	var req UpdateBindingReq
	if err := readJSON(r, &req); err != nil || req.IsActive == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "is_active is required"})
		return
	}

	if err := d.Store.SetBindingActive(r.Context(), id, *req.IsActive); err != nil {
		if isNotFound(err) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Binding not found."})
			return
		}
		d.Logger.Error("failed to update binding", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update binding"})
		return
	}

	d.reloadBindings(r)
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("binding_id")
	if err := d.Store.DeleteBinding(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Binding not found."})
			return
		}
		d.Logger.Error("failed to delete binding", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete binding"})
		return
	}

	d.reloadBindings(r)
	w.WriteHeader(http.StatusNoContent)
}

// reloadBindings pushes the current binding set into the live policy engine.
func (d *Dependencies) reloadBindings(r *http.Request) {
	bindings, err := d.Store.ListBindings(r.Context())
	if err != nil {
		d.Logger.Error("failed to reload bindings", zap.Error(err))
		return
	}
	live := make([]policy.Binding, 0, len(bindings))
	for _, b := range bindings {
		live = append(live, policy.Binding{
			RoutePrefix: b.RoutePrefix,
			TenantID:    b.TenantID,
			IsActive:    b.IsActive,
		})
	}
	d.Policy.SetBindings(live)
}

func configToResp(cfg policy.Config) PolicyConfigResp {
	return PolicyConfigResp{
		Enabled:        cfg.Enabled,
		Mode:           string(cfg.Mode),
		FailOpen:       cfg.FailOpen,
		Sampling:       cfg.Sampling,
		RedactionToken: cfg.RedactionToken,
	}
}

func bindingToResp(b *store.Binding) BindingResp {
	return BindingResp{
		ID:          b.ID,
		TenantID:    b.TenantID,
		RoutePrefix: b.RoutePrefix,
		IsActive:    b.IsActive,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}
