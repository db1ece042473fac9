package policy

import (
	"testing"

	"github.com/aegis-ai/aegis/internal/engine"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func blockDecision() engine.AggregatedDecision {
	return engine.AggregatedDecision{
		RequestID:       "req-1",
		RiskScore:       0.9,
		Confidence:      0.85,
		ThreatType:      engine.ThreatPromptInjection,
		PredictedAction: engine.ActionBlock,
		Explanation:     "risk score 0.90 exceeds block threshold",
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default ok", func(c *Config) {}, false},
		{"unknown mode", func(c *Config) { c.Mode = "audit" }, true},
		{"sampling below range", func(c *Config) { c.Sampling = -0.1 }, true},
		{"sampling above range", func(c *Config) { c.Sampling = 1.5 }, true},
		{"sampling zero ok", func(c *Config) { c.Sampling = 0 }, false},
		{"empty redaction token", func(c *Config) { c.RedactionToken = "" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSetConfig_RejectsInvalidKeepsPrevious(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	bad := DefaultConfig()
	bad.Sampling = 2
	if err := e.SetConfig(bad); err == nil {
		t.Fatal("expected error for invalid config")
	}
	if got := e.Config().Sampling; got != 1.0 {
		t.Errorf("previous config not preserved, sampling = %v", got)
	}
}

func TestDecide_EnforceBlocks(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	out := e.Decide(blockDecision(), engine.PhasePre)
	if out.Allowed {
		t.Error("enforce mode must block a block decision")
	}
	if out.Reason == "" {
		t.Error("blocked outcome must carry a reason")
	}
	if len(out.Threats) != 1 || out.Threats[0] != engine.ThreatPromptInjection {
		t.Errorf("unexpected threats: %v", out.Threats)
	}
}

func TestDecide_ShadowNeverBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeShadow
	e := newTestEngine(t, cfg)

	out := e.Decide(blockDecision(), engine.PhasePre)
	if !out.Allowed {
		t.Error("shadow mode must never block")
	}
	// Shadow still records what enforce would have done.
	if out.Reason == "" {
		t.Error("shadow outcome must still record the block reason")
	}
	if out.RiskScore != 0.9 {
		t.Errorf("risk score not carried through: %v", out.RiskScore)
	}
}

func TestDecide_OffAllows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeOff
	e := newTestEngine(t, cfg)

	if out := e.Decide(blockDecision(), engine.PhasePost); !out.Allowed {
		t.Error("off mode must always allow")
	}
}

func TestDecide_EnforceAllowsChallengeAndAllow(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	for _, action := range []engine.PredictedAction{engine.ActionAllow, engine.ActionChallenge} {
		dec := blockDecision()
		dec.PredictedAction = action
		if out := e.Decide(dec, engine.PhasePre); !out.Allowed {
			t.Errorf("enforce must allow action %q", action)
		}
	}
}

func TestDecideUnavailable(t *testing.T) {
	cases := []struct {
		name     string
		mode     Mode
		failOpen bool
		want     bool
	}{
		{"enforce fail-closed", ModeEnforce, false, false},
		{"enforce fail-open", ModeEnforce, true, true},
		{"shadow fail-closed", ModeShadow, false, true},
		{"off fail-closed", ModeOff, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = tc.mode
			cfg.FailOpen = tc.failOpen
			e := newTestEngine(t, cfg)

			out := e.DecideUnavailable("req-1", engine.PhasePre)
			if out.Allowed != tc.want {
				t.Errorf("Allowed = %v, want %v", out.Allowed, tc.want)
			}
			if !out.Degraded {
				t.Error("unavailable outcome must be marked degraded")
			}
			if len(out.Threats) != 1 || out.Threats[0] != engine.ThreatScoringError {
				t.Errorf("expected scoring_error threat, got %v", out.Threats)
			}
		})
	}
}

func TestShouldApply(t *testing.T) {
	cases := []struct {
		name     string
		cfg      func(*Config)
		bindings []Binding
		route    string
		tenant   string
		want     bool
	}{
		{
			name:  "no bindings applies everywhere",
			route: "/v1/anything", tenant: "t1", want: true,
		},
		{
			name: "disabled never applies",
			cfg:  func(c *Config) { c.Enabled = false },
			want: false,
		},
		{
			name: "mode off never applies",
			cfg:  func(c *Config) { c.Mode = ModeOff },
			want: false,
		},
		{
			name:     "matching prefix",
			bindings: []Binding{{RoutePrefix: "/v1/chat", IsActive: true}},
			route:    "/v1/chat/completions", want: true,
		},
		{
			name:     "non-matching prefix",
			bindings: []Binding{{RoutePrefix: "/v1/chat", IsActive: true}},
			route:    "/v1/embeddings", want: false,
		},
		{
			name:     "inactive binding ignored",
			bindings: []Binding{{RoutePrefix: "/v1/chat", IsActive: false}},
			route:    "/v1/embeddings", want: true,
		},
		{
			name: "tenant-scoped binding other tenant",
			bindings: []Binding{
				{RoutePrefix: "/v1/chat", TenantID: "t2", IsActive: true},
			},
			route: "/v1/embeddings", tenant: "t1", want: true,
		},
		{
			name: "tenant-scoped binding same tenant",
			bindings: []Binding{
				{RoutePrefix: "/v1/chat", TenantID: "t1", IsActive: true},
			},
			route: "/v1/embeddings", tenant: "t1", want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			e := newTestEngine(t, cfg)
			e.SetBindings(tc.bindings)
			if got := e.ShouldApply(tc.route, tc.tenant); got != tc.want {
				t.Errorf("ShouldApply(%q, %q) = %v, want %v", tc.route, tc.tenant, got, tc.want)
			}
		})
	}
}
