package gate

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/aegis-ai/aegis/internal/engine"
	"github.com/aegis-ai/aegis/internal/feature"
	"github.com/aegis-ai/aegis/internal/learner"
)

// heuristicPrediction turns the static feature vector into a model
// prediction so local signals participate in aggregation alongside the
// remote models.
func heuristicPrediction(requestID string, fv feature.FeatureVector, cfg engine.AggregatorConfig) engine.ModelPrediction {
	var score float64
	var threat string

	if fv.InjectionPatternCount > 0 {
		score += 0.3 + 0.1*float64(capAt(fv.InjectionPatternCount, 4))
		threat = engine.ThreatPromptInjection
	}
	if fv.ContainsSecrets {
		score += 0.35
		if threat == "" {
			threat = engine.ThreatSecretLeakage
		}
	}
	if fv.ContainsPII {
		score += 0.25
		if threat == "" {
			threat = engine.ThreatPIIExposure
		}
	}
	score += 0.05 * float64(capAt(fv.SuspiciousKeywordCount, 4))

	// Ambient request risk nudges the score but never drives it alone.
	ambient := (fv.UserAgentRisk + fv.IPRiskScore + fv.EndpointRisk + fv.TimeOfDay + fv.HeaderAnomalies) / 5
	score = engine.Clamp01(score + 0.15*ambient)

	confidence := 0.4
	if threat != "" {
		confidence = 0.6
	}

	pred := engine.ModelPrediction{
		RequestID:   requestID,
		ModelID:     "heuristic",
		RiskScore:   score,
		Confidence:  confidence,
		ThreatType:  threat,
		Explanation: "static feature heuristics",
	}
	switch {
	case score >= cfg.BlockThreshold:
		pred.PredictedAction = engine.ActionBlock
	case score >= cfg.ChallengeThreshold:
		pred.PredictedAction = engine.ActionChallenge
	default:
		pred.PredictedAction = engine.ActionAllow
	}
	return pred
}

func capAt(n, max int) int {
	if n > max {
		return max
	}
	return n
}

// adaptiveRulesPrediction matches the request against the learned rules and
// folds the strongest hit into one prediction. A rule-provider failure is
// swallowed: learned rules are an enhancement, never a dependency.
func (g *Gate) adaptiveRulesPrediction(ctx context.Context, req feature.RequestContext) (engine.ModelPrediction, bool) {
	if g.rules == nil {
		return engine.ModelPrediction{}, false
	}
	rules, err := g.rules.EnabledRules(ctx)
	if err != nil {
		g.logger.Warn("adaptive rules unavailable", zap.Error(err))
		return engine.ModelPrediction{}, false
	}

	var best *learner.AdaptiveRule
	for i := range rules {
		if !ruleMatches(rules[i], req.Content) {
			continue
		}
		if best == nil || rules[i].Confidence > best.Confidence {
			best = &rules[i]
		}
	}
	if best == nil {
		return engine.ModelPrediction{}, false
	}

	pred := engine.ModelPrediction{
		RequestID:   req.RequestID,
		ModelID:     "adaptive_rules",
		RiskScore:   severityScore(best.Severity),
		Confidence:  best.Confidence,
		ThreatType:  ruleThreat(best.Type),
		Explanation: "matched learned rule " + best.ID,
	}
	if pred.RiskScore >= g.aggCfg.BlockThreshold {
		pred.PredictedAction = engine.ActionBlock
	} else {
		pred.PredictedAction = engine.ActionChallenge
	}
	return pred, true
}

func ruleMatches(rule learner.AdaptiveRule, content string) bool {
	switch rule.Type {
	case learner.RuleRegex:
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(content)
	default:
		return strings.Contains(strings.ToLower(content), strings.ToLower(rule.Pattern))
	}
}

func severityScore(s learner.Severity) float64 {
	switch s {
	case learner.SeverityCritical:
		return 0.95
	case learner.SeverityHigh:
		return 0.8
	case learner.SeverityMedium:
		return 0.55
	default:
		return 0.35
	}
}

func ruleThreat(t learner.RuleType) string {
	switch t {
	case learner.RulePII:
		return engine.ThreatPIIExposure
	case learner.RuleToxicity:
		return engine.ThreatToxicity
	default:
		return engine.ThreatPromptInjection
	}
}
