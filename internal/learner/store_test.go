package learner

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisRuleStore_RoundTrip(t *testing.T) {
	store := NewRedisRuleStore(redisClient(t))
	ctx := context.Background()

	rule := AdaptiveRule{
		ID:         "r1",
		Pattern:    "hostile escalation",
		Type:       RuleSentiment,
		Severity:   SeverityHigh,
		Confidence: 0.85,
		CreatedAt:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Source:     SourceAutoLearned,
		Enabled:    true,
	}
	if err := store.Put(ctx, rule); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected rule, got nil")
	}
	if *got != rule {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", *got, rule)
	}
}

func TestRedisRuleStore_GetMissing(t *testing.T) {
	store := NewRedisRuleStore(redisClient(t))

	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing rule, got %+v", got)
	}
}

func TestRedisRuleStore_List(t *testing.T) {
	client := redisClient(t)
	store := NewRedisRuleStore(client)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		if err := store.Put(ctx, AdaptiveRule{ID: id, Pattern: id, Enabled: true}); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}
	// Unrelated keys must not leak into the listing.
	client.Set(ctx, "webhook_ratelimit:x", "1", 0)

	rules, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}
	for i, want := range []string{"a", "b", "c"} {
		if rules[i].ID != want {
			t.Errorf("rules[%d].ID = %q, want %q", i, rules[i].ID, want)
		}
	}
}

func TestRedisEventLog(t *testing.T) {
	log := NewRedisEventLog(redisClient(t))
	ctx := context.Background()

	now := time.Now()
	events := []LearningEvent{
		{RequestID: "old", Blocked: true, Timestamp: now.Add(-40 * 24 * time.Hour)},
		{RequestID: "fresh-1", Blocked: true, Timestamp: now},
		{RequestID: "fresh-2", Blocked: false, Timestamp: now},
	}
	for _, ev := range events {
		if err := log.Record(ctx, ev); err != nil {
			t.Fatalf("Record %s: %v", ev.RequestID, err)
		}
	}

	total, blocked, err := log.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if total != 3 || blocked != 2 {
		t.Errorf("counts = (%d, %d), want (3, 2)", total, blocked)
	}

	removed, err := log.Sweep(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	// Counters are monotonic; sweeping only prunes the recent window.
	total, _, _ = log.Counts(ctx)
	if total != 3 {
		t.Errorf("total after sweep = %d, want 3", total)
	}
}

func TestRedisLearnerEndToEnd(t *testing.T) {
	client := redisClient(t)
	l := New(DefaultConfig(), NewRedisRuleStore(client), NewRedisEventLog(client), zap.NewNop())
	ctx := context.Background()

	ev := blockedEvent("attempted sql injection via admin password", 0.9)
	if err := l.OnDecision(ctx, ev); err != nil {
		t.Fatalf("OnDecision: %v", err)
	}

	rules, err := l.EnabledRules(ctx)
	if err != nil {
		t.Fatalf("EnabledRules: %v", err)
	}
	if len(rules) == 0 {
		t.Fatal("expected mined rules in redis")
	}
	for _, r := range rules {
		if r.Source != SourceAutoLearned {
			t.Errorf("rule %s source = %s", r.ID, r.Source)
		}
	}
}
