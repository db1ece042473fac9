package engine

// PredictedAction is the action an upstream model (or the aggregator)
// recommends for a request.
type PredictedAction string

const (
	ActionAllow     PredictedAction = "allow"
	ActionChallenge PredictedAction = "challenge"
	ActionBlock     PredictedAction = "block"
)

// CheckPhase distinguishes the pre-check (request content, before the gated
// action runs) from the post-check (produced output, before it is returned).
type CheckPhase string

const (
	PhasePre  CheckPhase = "pre"
	PhasePost CheckPhase = "post"
)

// Well-known threat type strings. Upstream scorers may report others; these
// are the ones the engine itself produces or special-cases.
const (
	ThreatPromptInjection = "prompt_injection"
	ThreatPIIExposure     = "pii_exposure"
	ThreatSecretLeakage   = "secret_leakage"
	ThreatToxicity        = "toxicity"
	ThreatScoringError    = "scoring_error"
)

// ModelPrediction is one upstream scorer's verdict for a single request.
// Produced by the scoring service; never mutated after creation.
type ModelPrediction struct {
	RequestID        string
	ModelID          string
	RiskScore        float64 // 0.0 – 1.0
	Confidence       float64 // 0.0 – 1.0
	ThreatType       string  // empty if the model saw no specific threat
	PredictedAction  PredictedAction
	Explanation      string
	ProcessingTimeMs float64
}

// AggregatedDecision merges all model predictions for one request into a
// single decision. Created by Aggregate; consumed by the policy engine and
// persisted for learning and audit.
type AggregatedDecision struct {
	RequestID          string
	RiskScore          float64
	Confidence         float64
	ThreatType         string
	PredictedAction    PredictedAction
	Explanation        string
	ContributingModels []ModelPrediction
}

// Clamp01 bounds v to [0, 1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	if !(v > 0) { // catches NaN too
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
