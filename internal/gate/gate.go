package gate

import (
	"context"
	"crypto/sha256"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-ai/aegis/internal/engine"
	"github.com/aegis-ai/aegis/internal/feature"
	"github.com/aegis-ai/aegis/internal/learner"
	"github.com/aegis-ai/aegis/internal/policy"
	"github.com/aegis-ai/aegis/internal/scoring"
	"github.com/aegis-ai/aegis/internal/storage"
)

// ScoringService is the slice of the scoring layer the gate needs.
type ScoringService interface {
	Score(ctx context.Context, req scoring.ScoreRequest) ([]engine.ModelPrediction, error)
}

// RuleProvider supplies the adaptive rules eligible to influence gating.
type RuleProvider interface {
	EnabledRules(ctx context.Context) ([]learner.AdaptiveRule, error)
}

// CheckResult is what callers of the gate act on.
type CheckResult struct {
	RequestID        string
	Allowed          bool
	RiskScore        float64
	Confidence       float64
	Threats          []string
	Reason           string
	Mode             policy.Mode
	Degraded         bool
	Sampled          bool
	SanitizedContent string // replacement output when a post-check blocks
	LatencyMs        float32
}

// DecisionEvent is the full record of one gate decision, published to the
// async side paths (learning, alerting) after the caller has its answer.
type DecisionEvent struct {
	Request     feature.RequestContext
	Phase       engine.CheckPhase
	Features    feature.FeatureVector
	Predictions []engine.ModelPrediction
	Decision    engine.AggregatedDecision
	Outcome     policy.Outcome
	LatencyMs   float32
	Timestamp   time.Time
}

// DecisionHandler consumes decision events off the hot path. Handler errors
// are logged and never affect gating.
type DecisionHandler interface {
	Name() string
	HandleDecision(ctx context.Context, ev DecisionEvent) error
}

const eventBufferSize = 4096

// Gate is the synchronous decision pipeline: extract features, score,
// aggregate, apply policy. Side effects (audit record, decision event) are
// fire-and-forget.
type Gate struct {
	extractor *feature.Extractor
	scoring   ScoringService
	rules     RuleProvider // may be nil
	policy    *policy.Engine
	aggCfg    engine.AggregatorConfig
	writer    storage.EventWriter
	logger    *zap.Logger

	events   chan DecisionEvent
	handlers []DecisionHandler
	sample   func() float64
	now      func() time.Time
}

func New(scoringSvc ScoringService, rules RuleProvider, pol *policy.Engine, aggCfg engine.AggregatorConfig, writer storage.EventWriter, logger *zap.Logger) *Gate {
	return &Gate{
		extractor: feature.NewExtractor(),
		scoring:   scoringSvc,
		rules:     rules,
		policy:    pol,
		aggCfg:    aggCfg,
		writer:    writer,
		logger:    logger,
		events:    make(chan DecisionEvent, eventBufferSize),
		sample:    rand.Float64,
		now:       time.Now,
	}
}

// AddHandler registers a decision-event consumer. Call before Start.
func (g *Gate) AddHandler(h DecisionHandler) {
	g.handlers = append(g.handlers, h)
}

// PreCheck gates agent input before execution.
func (g *Gate) PreCheck(ctx context.Context, req feature.RequestContext) CheckResult {
	return g.check(ctx, req, engine.PhasePre)
}

// PostCheck gates agent output before it reaches the caller. A blocked
// post-check carries the redaction token as the sanitized substitute.
func (g *Gate) PostCheck(ctx context.Context, req feature.RequestContext) CheckResult {
	res := g.check(ctx, req, engine.PhasePost)
	if !res.Allowed {
		res.SanitizedContent = g.policy.Config().RedactionToken
	}
	return res
}

func (g *Gate) check(ctx context.Context, req feature.RequestContext, phase engine.CheckPhase) CheckResult {
	start := g.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = start
	}
	cfg := g.policy.Config()

	if !g.policy.ShouldApply(req.Endpoint, req.TenantID) {
		return CheckResult{
			RequestID: req.RequestID,
			Allowed:   true,
			Mode:      cfg.Mode,
			Reason:    "out of policy scope",
			LatencyMs: g.sinceMs(start),
		}
	}

	// Sampled-out traffic skips scoring entirely but is still audited.
	if cfg.Sampling < 1 && g.sample() >= cfg.Sampling {
		out := policy.Outcome{
			RequestID: req.RequestID,
			Phase:     phase,
			Mode:      cfg.Mode,
			Allowed:   true,
			Reason:    "sampled out",
		}
		res := CheckResult{
			RequestID: req.RequestID,
			Allowed:   true,
			Mode:      cfg.Mode,
			Sampled:   true,
			Reason:    out.Reason,
			LatencyMs: g.sinceMs(start),
		}
		g.finish(req, phase, feature.FeatureVector{}, nil, engine.AggregatedDecision{RequestID: req.RequestID}, out, res.LatencyMs)
		return res
	}

	fv := g.extractor.Extract(req)

	preds, err := g.scoring.Score(ctx, scoring.ScoreRequest{
		RequestID: req.RequestID,
		Content:   req.Content,
		UserID:    req.UserID,
		Phase:     phase,
	})
	if err != nil {
		out := g.policy.DecideUnavailable(req.RequestID, phase)
		res := g.toResult(out, engine.AggregatedDecision{RequestID: req.RequestID}, start)
		g.finish(req, phase, fv, nil, engine.AggregatedDecision{RequestID: req.RequestID}, out, res.LatencyMs)
		return res
	}

	// Local signals ride alongside the remote models: one prediction from
	// the static feature heuristics, one from the learned adaptive rules.
	preds = append(preds, heuristicPrediction(req.RequestID, fv, g.aggCfg))
	if rulePred, ok := g.adaptiveRulesPrediction(ctx, req); ok {
		preds = append(preds, rulePred)
	}

	dec := engine.Aggregate(req.RequestID, preds, g.aggCfg)
	out := g.policy.Decide(dec, phase)

	res := g.toResult(out, dec, start)
	g.finish(req, phase, fv, preds, dec, out, res.LatencyMs)
	return res
}

func (g *Gate) toResult(out policy.Outcome, dec engine.AggregatedDecision, start time.Time) CheckResult {
	return CheckResult{
		RequestID:  out.RequestID,
		Allowed:    out.Allowed,
		RiskScore:  dec.RiskScore,
		Confidence: dec.Confidence,
		Threats:    out.Threats,
		Reason:     out.Reason,
		Mode:       out.Mode,
		Degraded:   out.Degraded,
		LatencyMs:  g.sinceMs(start),
	}
}

func (g *Gate) sinceMs(start time.Time) float32 {
	return float32(float64(g.now().Sub(start)) / float64(time.Millisecond))
}

// finish writes the audit record and publishes the decision event. Both are
// non-blocking: a full event buffer drops the event with a warning rather
// than stalling the request.
func (g *Gate) finish(req feature.RequestContext, phase engine.CheckPhase, fv feature.FeatureVector, preds []engine.ModelPrediction, dec engine.AggregatedDecision, out policy.Outcome, latencyMs float32) {
	g.writer.Write(buildRecord(req, phase, preds, dec, out, latencyMs))

	ev := DecisionEvent{
		Request:     req,
		Phase:       phase,
		Features:    fv,
		Predictions: preds,
		Decision:    dec,
		Outcome:     out,
		LatencyMs:   latencyMs,
		Timestamp:   g.now(),
	}
	select {
	case g.events <- ev:
	default:
		g.logger.Warn("decision event buffer full, dropping event",
			zap.String("request_id", req.RequestID),
		)
	}
}

func buildRecord(req feature.RequestContext, phase engine.CheckPhase, preds []engine.ModelPrediction, dec engine.AggregatedDecision, out policy.Outcome, latencyMs float32) *storage.DecisionRecord {
	ids := make([]string, len(preds))
	scores := make([]float32, len(preds))
	actions := make([]string, len(preds))
	for i, p := range preds {
		ids[i] = p.ModelID
		scores[i] = float32(p.RiskScore)
		actions[i] = string(p.PredictedAction)
	}

	hash := sha256.Sum256([]byte(req.Content))

	return &storage.DecisionRecord{
		RequestID:      req.RequestID,
		TenantID:       req.TenantID,
		Timestamp:      req.Timestamp,
		Phase:          string(phase),
		ContentPreview: storage.TruncateContent(req.Content, storage.ContentPreviewLength),
		ContentHash:    string(hash[:]),
		ContentSize:    uint32(len(req.Content)),
		Allowed:        out.Allowed,
		Mode:           string(out.Mode),
		Degraded:       out.Degraded,
		RiskScore:      float32(dec.RiskScore),
		Confidence:     float32(dec.Confidence),
		ThreatTypes:    out.Threats,
		Reason:         out.Reason,
		ModelIDs:       ids,
		ModelScores:    scores,
		ModelActions:   actions,
		UserID:         req.UserID,
		Endpoint:       req.Endpoint,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		Metadata:       req.Metadata,
		LatencyMs:      latencyMs,
	}
}

// Start launches the decision-event consumer loop. Handlers run
// sequentially per event; a failing handler is logged and skipped.
func (g *Gate) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-g.events:
				g.dispatch(ctx, ev)
			}
		}
	}()
}

func (g *Gate) dispatch(ctx context.Context, ev DecisionEvent) {
	for _, h := range g.handlers {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := h.HandleDecision(hctx, ev); err != nil {
			g.logger.Warn("decision handler failed",
				zap.String("handler", h.Name()),
				zap.String("request_id", ev.Request.RequestID),
				zap.Error(err),
			)
		}
		cancel()
	}
}
