package engine

import (
	"fmt"
	"strings"
)

// AggregatorConfig holds the thresholds for action determination.
// The band values are deliberately configuration, not constants: the defaults
// below are starting heuristics, tuned per deployment.
type AggregatorConfig struct {
	BlockThreshold      float64 // aggregated score >= this → block (default 0.7)
	ChallengeThreshold  float64 // aggregated score >= this but < BlockThreshold → challenge (default 0.4)
	MinThreatConfidence float64 // a prediction must reach this confidence to name the threat type (default 0.5)
}

// DefaultAggregatorConfig returns the stock threshold bands.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		BlockThreshold:      0.7,
		ChallengeThreshold:  0.4,
		MinThreatConfidence: 0.5,
	}
}

// Aggregate merges model predictions into a single decision.
//
// Rules:
//  1. Risk score is the confidence-weighted mean of all prediction scores
//     (Σ score·confidence / Σ confidence). If every confidence is 0, fall
//     back to the unweighted mean.
//  2. Threat type is taken from the highest-confidence prediction that both
//     names a threat and reaches MinThreatConfidence; otherwise empty.
//  3. The action comes from the threshold bands on the aggregated score.
//  4. Zero predictions yield a neutral decision (score 0, allow). What "no
//     model answered" means under fail-open/fail-closed is the policy
//     engine's call, not the aggregator's.
func Aggregate(requestID string, preds []ModelPrediction, cfg AggregatorConfig) AggregatedDecision {
	if len(preds) == 0 {
		return AggregatedDecision{
			RequestID:       requestID,
			RiskScore:       0,
			Confidence:      0,
			PredictedAction: ActionAllow,
			Explanation:     "no model predictions available",
		}
	}

	var weightedScore, totalWeight, scoreSum, confSum float64
	for _, p := range preds {
		conf := Clamp01(p.Confidence)
		score := Clamp01(p.RiskScore)
		weightedScore += score * conf
		totalWeight += conf
		scoreSum += score
		confSum += conf
	}

	var riskScore float64
	if totalWeight > 0 {
		riskScore = weightedScore / totalWeight
	} else {
		riskScore = scoreSum / float64(len(preds))
	}
	riskScore = Clamp01(riskScore)
	confidence := Clamp01(confSum / float64(len(preds)))

	// Highest-confidence prediction above the floor names the threat.
	var threatType string
	var bestConf float64
	for _, p := range preds {
		if p.ThreatType == "" {
			continue
		}
		if p.Confidence >= cfg.MinThreatConfidence && p.Confidence > bestConf {
			bestConf = p.Confidence
			threatType = p.ThreatType
		}
	}

	var action PredictedAction
	switch {
	case riskScore >= cfg.BlockThreshold:
		action = ActionBlock
	case riskScore >= cfg.ChallengeThreshold:
		action = ActionChallenge
	default:
		action = ActionAllow
	}

	return AggregatedDecision{
		RequestID:          requestID,
		RiskScore:          riskScore,
		Confidence:         confidence,
		ThreatType:         threatType,
		PredictedAction:    action,
		Explanation:        explain(preds, riskScore, threatType),
		ContributingModels: preds,
	}
}

func explain(preds []ModelPrediction, riskScore float64, threatType string) string {
	names := make([]string, 0, len(preds))
	for _, p := range preds {
		names = append(names, p.ModelID)
	}
	base := fmt.Sprintf("aggregated %d prediction(s) from %s: risk %.2f",
		len(preds), strings.Join(names, ", "), riskScore)
	if threatType != "" {
		return base + ", threat " + threatType
	}
	return base
}
