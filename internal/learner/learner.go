package learner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the learning loop.
type Config struct {
	// MinLearnConfidence gates pattern mining: only blocks decided with at
	// least this confidence teach new rules.
	MinLearnConfidence float64
	// MaxFalsePositiveRate disables a rule once operator feedback pushes it
	// past this rate.
	MaxFalsePositiveRate float64
	// SimilarityThreshold merges a mined pattern into an existing rule when
	// normalized similarity exceeds it.
	SimilarityThreshold float64
	// FeedbackAlpha is the exponential-moving-average weight for feedback
	// updates to confidence and false-positive rate.
	FeedbackAlpha float64
	// EventRetention bounds the recent-event window kept for analysis.
	EventRetention time.Duration
	// SweepInterval is how often Run prunes expired events.
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinLearnConfidence:   0.7,
		MaxFalsePositiveRate: 0.1,
		SimilarityThreshold:  0.8,
		FeedbackAlpha:        0.2,
		EventRetention:       30 * 24 * time.Hour,
		SweepInterval:        time.Hour,
	}
}

// Learner mines adaptive rules from blocked decisions and adjusts them from
// operator feedback. It runs off the hot path: decision events arrive
// asynchronously and a learner failure never affects gating.
type Learner struct {
	cfg    Config
	rules  RuleStore
	events EventLog
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config, rules RuleStore, events EventLog, logger *zap.Logger) *Learner {
	return &Learner{
		cfg:    cfg,
		rules:  rules,
		events: events,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// ruleLock returns the mutex serializing updates to one rule. Every
// Get-modify-Put on a rule must hold it, so concurrent feedback and
// reinforcement never lose a write.
func (l *Learner) ruleLock(ruleID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[ruleID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[ruleID] = m
	}
	return m
}

// OnDecision ingests one completed decision. Blocked content with high
// enough confidence is mined for patterns; each mined pattern either
// reinforces a similar existing rule or becomes a new auto-learned one.
func (l *Learner) OnDecision(ctx context.Context, ev LearningEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if err := l.events.Record(ctx, ev); err != nil {
		return err
	}

	if !ev.Blocked || ev.Confidence <= l.cfg.MinLearnConfidence {
		return nil
	}

	existing, err := l.rules.List(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	for _, pattern := range minePatterns(ev.Content) {
		if match := l.findSimilar(existing, pattern); match != nil {
			if err := l.reinforce(ctx, match, ev.Confidence); err != nil {
				return err
			}
			continue
		}
		rule := AdaptiveRule{
			ID:         uuid.NewString(),
			Pattern:    pattern,
			Type:       classifyRuleType(pattern),
			Severity:   classifySeverity(ev.ReasonCode),
			Confidence: ev.Confidence,
			CreatedAt:  l.now(),
			UpdatedAt:  l.now(),
			Source:     SourceAutoLearned,
			Enabled:    true,
		}
		if err := l.rules.Put(ctx, rule); err != nil {
			return err
		}
		existing = append(existing, rule)
		l.logger.Info("learned adaptive rule",
			zap.String("rule_id", rule.ID),
			zap.String("type", string(rule.Type)),
			zap.String("severity", string(rule.Severity)),
		)
	}
	return nil
}

func (l *Learner) findSimilar(rules []AdaptiveRule, pattern string) *AdaptiveRule {
	for i := range rules {
		if similarity(rules[i].Pattern, pattern) > l.cfg.SimilarityThreshold {
			return &rules[i]
		}
	}
	return nil
}

// reinforce averages the rule's confidence with the new observation, so a
// pattern seen repeatedly converges toward the confidence it is seen with.
// The rule is re-read under its lock: the caller's copy may be stale by the
// time the update lands.
func (l *Learner) reinforce(ctx context.Context, rule *AdaptiveRule, confidence float64) error {
	lock := l.ruleLock(rule.ID)
	lock.Lock()
	defer lock.Unlock()

	fresh, err := l.rules.Get(ctx, rule.ID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return nil // deleted since the caller listed it
	}
	fresh.Confidence = (fresh.Confidence + confidence) / 2
	fresh.UpdatedAt = l.now()
	if err := l.rules.Put(ctx, *fresh); err != nil {
		return err
	}
	*rule = *fresh
	return nil
}

// OnFeedback applies an operator verdict to a rule. Positive feedback pulls
// confidence toward 1, negative pulls it toward 0, and a false-positive
// report raises the false-positive rate; a rule past MaxFalsePositiveRate is
// disabled on the spot.
func (l *Learner) OnFeedback(ctx context.Context, ruleID string, fb Feedback) error {
	lock := l.ruleLock(ruleID)
	lock.Lock()
	defer lock.Unlock()

	rule, err := l.rules.Get(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("feedback for unknown rule %s", ruleID)
	}

	a := l.cfg.FeedbackAlpha
	switch fb {
	case FeedbackPositive:
		rule.Confidence += a * (1 - rule.Confidence)
		rule.FalsePositiveRate *= 1 - a
	case FeedbackNegative:
		rule.Confidence *= 1 - a
	case FeedbackFalsePositive:
		rule.FalsePositiveRate = (1-a)*rule.FalsePositiveRate + a
	default:
		return fmt.Errorf("unknown feedback %q", fb)
	}

	if rule.FalsePositiveRate > l.cfg.MaxFalsePositiveRate && rule.Enabled {
		rule.Enabled = false
		l.logger.Warn("adaptive rule auto-disabled",
			zap.String("rule_id", rule.ID),
			zap.Float64("false_positive_rate", rule.FalsePositiveRate),
		)
	}

	rule.UpdatedAt = l.now()
	return l.rules.Put(ctx, *rule)
}

// EnabledRules returns the rules eligible to influence detection: enabled
// and at or under the false-positive ceiling.
func (l *Learner) EnabledRules(ctx context.Context) ([]AdaptiveRule, error) {
	all, err := l.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]AdaptiveRule, 0, len(all))
	for _, r := range all {
		if r.Enabled && r.FalsePositiveRate <= l.cfg.MaxFalsePositiveRate {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

// Rules returns every stored rule regardless of eligibility.
func (l *Learner) Rules(ctx context.Context) ([]AdaptiveRule, error) {
	return l.rules.List(ctx)
}

// SetRuleEnabled flips a rule on or off manually.
func (l *Learner) SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	lock := l.ruleLock(ruleID)
	lock.Lock()
	defer lock.Unlock()

	rule, err := l.rules.Get(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("unknown rule %s", ruleID)
	}
	rule.Enabled = enabled
	rule.UpdatedAt = l.now()
	return l.rules.Put(ctx, *rule)
}

// Stats summarizes learner state across counters and eligible rules.
func (l *Learner) Stats(ctx context.Context) (Stats, error) {
	total, blocked, err := l.events.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	rules, err := l.EnabledRules(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalEvents:   total,
		BlockedEvents: blocked,
		LearnedRules:  len(rules),
	}
	if len(rules) > 0 {
		var conf, fpr float64
		for _, r := range rules {
			conf += r.Confidence
			fpr += r.FalsePositiveRate
		}
		stats.AvgConfidence = conf / float64(len(rules))
		stats.AvgFPRate = fpr / float64(len(rules))
	}
	return stats, nil
}

// SweepEvents prunes events older than the retention window.
func (l *Learner) SweepEvents(ctx context.Context) (int64, error) {
	return l.events.Sweep(ctx, l.now().Add(-l.cfg.EventRetention))
}

// Run sweeps expired events on the configured interval until ctx ends.
func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := l.SweepEvents(ctx)
			if err != nil {
				l.logger.Warn("event sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				l.logger.Debug("swept expired learning events", zap.Int64("removed", removed))
			}
		}
	}
}
