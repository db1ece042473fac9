package learner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RuleStore persists adaptive rules. Implementations must be safe for
// concurrent use.
type RuleStore interface {
	// Put stores or replaces a rule.
	Put(ctx context.Context, rule AdaptiveRule) error
	// Get returns the rule, or nil when no rule has that id.
	Get(ctx context.Context, id string) (*AdaptiveRule, error)
	// List returns all rules, enabled or not.
	List(ctx context.Context) ([]AdaptiveRule, error)
}

// EventLog tracks decision-event counters and a retention window of recent
// event ids.
type EventLog interface {
	Record(ctx context.Context, ev LearningEvent) error
	// Sweep drops events older than cutoff and returns how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int64, error)
	// Counts returns total and blocked event counters.
	Counts(ctx context.Context) (total, blocked int64, err error)
}

const (
	ruleKeyPrefix   = "adaptive_rule:"
	eventTotalKey   = "learning_events:total"
	eventBlockedKey = "learning_events:blocked"
	eventRecentKey  = "learning_events:recent"
)

// RedisRuleStore keeps each rule as JSON under adaptive_rule:<id> so rules
// survive restarts and are shared across replicas.
type RedisRuleStore struct {
	client *redis.Client
}

func NewRedisRuleStore(client *redis.Client) *RedisRuleStore {
	return &RedisRuleStore{client: client}
}

func (s *RedisRuleStore) Put(ctx context.Context, rule AdaptiveRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule %s: %w", rule.ID, err)
	}
	if err := s.client.Set(ctx, ruleKeyPrefix+rule.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("store rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *RedisRuleStore) Get(ctx context.Context, id string) (*AdaptiveRule, error) {
	data, err := s.client.Get(ctx, ruleKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rule %s: %w", id, err)
	}
	var rule AdaptiveRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("decode rule %s: %w", id, err)
	}
	return &rule, nil
}

// List scans the rule keyspace incrementally. SCAN instead of KEYS so a
// large rule set never stalls the redis event loop.
func (s *RedisRuleStore) List(ctx context.Context) ([]AdaptiveRule, error) {
	var rules []AdaptiveRule
	iter := s.client.Scan(ctx, 0, ruleKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", iter.Val(), err)
		}
		var rule AdaptiveRule
		if err := json.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Val(), err)
		}
		rules = append(rules, rule)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan rules: %w", err)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// RedisEventLog keeps monotonic counters plus a sorted set of recent event
// ids scored by unix timestamp, which makes retention a single
// ZRemRangeByScore.
type RedisEventLog struct {
	client *redis.Client
}

func NewRedisEventLog(client *redis.Client) *RedisEventLog {
	return &RedisEventLog{client: client}
}

func (l *RedisEventLog) Record(ctx context.Context, ev LearningEvent) error {
	pipe := l.client.TxPipeline()
	pipe.Incr(ctx, eventTotalKey)
	if ev.Blocked {
		pipe.Incr(ctx, eventBlockedKey)
	}
	pipe.ZAdd(ctx, eventRecentKey, redis.Z{
		Score:  float64(ev.Timestamp.Unix()),
		Member: ev.RequestID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record event %s: %w", ev.RequestID, err)
	}
	return nil
}

func (l *RedisEventLog) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := l.client.ZRemRangeByScore(ctx, eventRecentKey,
		"-inf", fmt.Sprintf("%d", cutoff.Unix())).Result()
	if err != nil {
		return 0, fmt.Errorf("sweep events: %w", err)
	}
	return removed, nil
}

func (l *RedisEventLog) Counts(ctx context.Context) (int64, int64, error) {
	total, err := l.client.Get(ctx, eventTotalKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	blocked, err := l.client.Get(ctx, eventBlockedKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	return total, blocked, nil
}

// MemoryRuleStore is the in-process fallback used when no redis is
// configured, and in tests that don't exercise persistence.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]AdaptiveRule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]AdaptiveRule)}
}

func (s *MemoryRuleStore) Put(_ context.Context, rule AdaptiveRule) error {
	s.mu.Lock()
	s.rules[rule.ID] = rule
	s.mu.Unlock()
	return nil
}

func (s *MemoryRuleStore) Get(_ context.Context, id string) (*AdaptiveRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (s *MemoryRuleStore) List(_ context.Context) ([]AdaptiveRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]AdaptiveRule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// MemoryEventLog mirrors RedisEventLog for the no-redis configuration.
type MemoryEventLog struct {
	mu      sync.Mutex
	total   int64
	blocked int64
	recent  map[string]time.Time
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{recent: make(map[string]time.Time)}
}

func (l *MemoryEventLog) Record(_ context.Context, ev LearningEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if ev.Blocked {
		l.blocked++
	}
	l.recent[ev.RequestID] = ev.Timestamp
	return nil
}

func (l *MemoryEventLog) Sweep(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed int64
	for id, ts := range l.recent {
		if ts.Before(cutoff) {
			delete(l.recent, id)
			removed++
		}
	}
	return removed, nil
}

func (l *MemoryEventLog) Counts(_ context.Context) (int64, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, l.blocked, nil
}
