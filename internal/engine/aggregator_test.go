package engine

import (
	"math"
	"testing"
)

func TestAggregate_Empty(t *testing.T) {
	dec := Aggregate("req-1", nil, DefaultAggregatorConfig())

	if dec.RiskScore != 0 {
		t.Errorf("expected risk 0, got %v", dec.RiskScore)
	}
	if dec.PredictedAction != ActionAllow {
		t.Errorf("expected allow, got %v", dec.PredictedAction)
	}
	if dec.ThreatType != "" {
		t.Errorf("expected no threat type, got %q", dec.ThreatType)
	}
}

func TestAggregate_ConfidenceWeightedMean(t *testing.T) {
	preds := []ModelPrediction{
		{ModelID: "m1", RiskScore: 0.9, Confidence: 0.9},
		{ModelID: "m2", RiskScore: 0.1, Confidence: 0.1},
	}

	dec := Aggregate("req-1", preds, DefaultAggregatorConfig())

	// (0.9*0.9 + 0.1*0.1) / (0.9+0.1) = 0.82
	want := 0.82
	if math.Abs(dec.RiskScore-want) > 1e-9 {
		t.Errorf("expected risk %v, got %v", want, dec.RiskScore)
	}
	if dec.PredictedAction != ActionBlock {
		t.Errorf("expected block at %.2f, got %v", dec.RiskScore, dec.PredictedAction)
	}
}

func TestAggregate_ZeroConfidenceFallsBackToUnweightedMean(t *testing.T) {
	preds := []ModelPrediction{
		{ModelID: "m1", RiskScore: 0.6, Confidence: 0},
		{ModelID: "m2", RiskScore: 0.2, Confidence: 0},
	}

	dec := Aggregate("req-1", preds, DefaultAggregatorConfig())

	want := 0.4
	if math.Abs(dec.RiskScore-want) > 1e-9 {
		t.Errorf("expected unweighted mean %v, got %v", want, dec.RiskScore)
	}
}

func TestAggregate_ThreatTypeFromHighestConfidence(t *testing.T) {
	preds := []ModelPrediction{
		{ModelID: "m1", RiskScore: 0.8, Confidence: 0.7, ThreatType: ThreatToxicity},
		{ModelID: "m2", RiskScore: 0.9, Confidence: 0.95, ThreatType: ThreatPromptInjection},
		{ModelID: "m3", RiskScore: 0.5, Confidence: 0.99}, // no threat named
	}

	dec := Aggregate("req-1", preds, DefaultAggregatorConfig())

	if dec.ThreatType != ThreatPromptInjection {
		t.Errorf("expected %s, got %q", ThreatPromptInjection, dec.ThreatType)
	}
}

func TestAggregate_ThreatTypeBelowConfidenceFloor(t *testing.T) {
	cfg := DefaultAggregatorConfig() // MinThreatConfidence = 0.5
	preds := []ModelPrediction{
		{ModelID: "m1", RiskScore: 0.3, Confidence: 0.4, ThreatType: ThreatToxicity},
	}

	dec := Aggregate("req-1", preds, cfg)

	if dec.ThreatType != "" {
		t.Errorf("expected no threat type below confidence floor, got %q", dec.ThreatType)
	}
}

func TestAggregate_ThresholdBands(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	cases := []struct {
		name  string
		score float64
		want  PredictedAction
	}{
		{"well below challenge", 0.1, ActionAllow},
		{"just below challenge", 0.39, ActionAllow},
		{"exactly challenge", 0.4, ActionChallenge},
		{"between bands", 0.55, ActionChallenge},
		{"exactly block", 0.7, ActionBlock},
		{"above block", 0.95, ActionBlock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			preds := []ModelPrediction{{ModelID: "m1", RiskScore: tc.score, Confidence: 1.0}}
			dec := Aggregate("req-1", preds, cfg)
			if dec.PredictedAction != tc.want {
				t.Errorf("score %v: expected %v, got %v", tc.score, tc.want, dec.PredictedAction)
			}
		})
	}
}

func TestAggregate_ClampsOutOfRangeInputs(t *testing.T) {
	preds := []ModelPrediction{
		{ModelID: "m1", RiskScore: 7.5, Confidence: 3.0},
		{ModelID: "m2", RiskScore: -2.0, Confidence: -1.0},
	}

	dec := Aggregate("req-1", preds, DefaultAggregatorConfig())

	if dec.RiskScore < 0 || dec.RiskScore > 1 {
		t.Errorf("risk score out of bounds: %v", dec.RiskScore)
	}
	if dec.Confidence < 0 || dec.Confidence > 1 {
		t.Errorf("confidence out of bounds: %v", dec.Confidence)
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.5, 0.5},
		{-0.1, 0},
		{1.5, 1},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		if got := Clamp01(tc.in); got != tc.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
