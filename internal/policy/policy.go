package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aegis-ai/aegis/internal/engine"
	"go.uber.org/zap"
)

// Mode controls how decisions are enforced.
type Mode string

const (
	ModeOff     Mode = "off"     // never evaluate
	ModeShadow  Mode = "shadow"  // evaluate and log, never block
	ModeEnforce Mode = "enforce" // block when the decision says to
)

// Config is the engine-wide policy configuration. Validated before apply;
// an invalid config is rejected at write time and never takes effect.
type Config struct {
	Enabled        bool    `json:"enabled"`
	Mode           Mode    `json:"mode"`
	FailOpen       bool    `json:"fail_open"`
	Sampling       float64 `json:"sampling"`        // fraction of allowed traffic that is fully scored
	RedactionToken string  `json:"redaction_token"` // substitute for blocked post-check output
}

// DefaultConfig returns the stock configuration: enforcing, fail-closed,
// full sampling.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Mode:           ModeEnforce,
		FailOpen:       false,
		Sampling:       1.0,
		RedactionToken: "[REDACTED]",
	}
}

// Validate rejects configurations that must never be applied.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeOff, ModeShadow, ModeEnforce:
	default:
		return fmt.Errorf("policy: unknown mode %q", c.Mode)
	}
	if c.Sampling < 0 || c.Sampling > 1 {
		return fmt.Errorf("policy: sampling %v outside [0,1]", c.Sampling)
	}
	if c.RedactionToken == "" {
		return fmt.Errorf("policy: redaction token must not be empty")
	}
	return nil
}

// Binding scopes the engine to a route prefix, optionally per tenant.
// An empty TenantID makes the binding global.
type Binding struct {
	RoutePrefix string
	TenantID    string
	IsActive    bool
}

// Outcome is the terminal result of one policy decision for a gated call.
type Outcome struct {
	RequestID string
	Phase     engine.CheckPhase
	Mode      Mode
	Allowed   bool
	Reason    string
	Threats   []string
	RiskScore float64
	Degraded  bool // true when the decision came from the scoring-failure path
}

// Engine applies mode, fail-open rules, and route/tenant bindings to turn
// an aggregated decision into an allow/block outcome. Safe for concurrent
// use: decisions take a read lock, configuration updates a write lock.
type Engine struct {
	mu       sync.RWMutex
	cfg      Config
	bindings []Binding
	logger   *zap.Logger
}

// NewEngine creates a policy engine with the given configuration.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Config returns the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig atomically replaces the configuration. Invalid configurations
// are rejected and the previous one stays in effect.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info("policy config updated",
		zap.String("mode", string(cfg.Mode)),
		zap.Bool("fail_open", cfg.FailOpen),
		zap.Float64("sampling", cfg.Sampling),
	)
	return nil
}

// SetBindings atomically replaces the route/tenant bindings.
func (e *Engine) SetBindings(bindings []Binding) {
	e.mu.Lock()
	e.bindings = bindings
	e.mu.Unlock()
}

// ShouldApply reports whether the engine gates the given route for the
// given tenant.
//
// Rules: disabled or mode=off never applies. If no active bindings exist
// (globally or for this tenant), the engine applies everywhere. Otherwise it
// applies only where an active binding's RoutePrefix prefixes the route.
func (e *Engine) ShouldApply(routePath, tenantID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.cfg.Enabled || e.cfg.Mode == ModeOff {
		return false
	}

	var anyActive bool
	for _, b := range e.bindings {
		if !b.IsActive {
			continue
		}
		if b.TenantID != "" && b.TenantID != tenantID {
			continue
		}
		anyActive = true
		if strings.HasPrefix(routePath, b.RoutePrefix) {
			return true
		}
	}
	return !anyActive
}

// Decide turns an aggregated decision into an outcome for one check phase.
//
// mode=off always allows. mode=shadow always allows but still records the
// threats and reason for observability. mode=enforce allows iff the
// predicted action is not block.
func (e *Engine) Decide(dec engine.AggregatedDecision, phase engine.CheckPhase) Outcome {
	e.mu.RLock()
	mode := e.cfg.Mode
	e.mu.RUnlock()

	out := Outcome{
		RequestID: dec.RequestID,
		Phase:     phase,
		Mode:      mode,
		RiskScore: dec.RiskScore,
	}
	if dec.ThreatType != "" {
		out.Threats = []string{dec.ThreatType}
	}

	switch mode {
	case ModeOff:
		out.Allowed = true
	case ModeShadow:
		out.Allowed = true
		if dec.PredictedAction == engine.ActionBlock {
			out.Reason = dec.Explanation
		}
	default: // enforce
		out.Allowed = dec.PredictedAction != engine.ActionBlock
		if !out.Allowed {
			out.Reason = dec.Explanation
		}
	}
	return out
}

// DecideUnavailable resolves a scoring failure (timeout, non-2xx, network
// error) for one gated call. The outcome is allowed iff fail-open is set or
// the mode never blocks. This favors availability over strict blocking; it
// is logged as a degraded-mode event, never silently treated as safe.
func (e *Engine) DecideUnavailable(requestID string, phase engine.CheckPhase) Outcome {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	allowed := cfg.FailOpen || cfg.Mode == ModeShadow || cfg.Mode == ModeOff
	e.logger.Warn("scoring unavailable, applying fail-open policy",
		zap.String("request_id", requestID),
		zap.String("phase", string(phase)),
		zap.Bool("fail_open", cfg.FailOpen),
		zap.Bool("allowed", allowed),
	)
	return Outcome{
		RequestID: requestID,
		Phase:     phase,
		Mode:      cfg.Mode,
		Allowed:   allowed,
		Reason:    "scoring service unavailable",
		Threats:   []string{engine.ThreatScoringError},
		Degraded:  true,
	}
}
