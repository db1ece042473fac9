package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// testAPIKey is the raw API key used in tests. Must start with "agk_" and be >= 8 chars.
const testAPIKey = "agk_test_valid_key_1234567890abcdef"

// testHash returns a bcrypt hash of testAPIKey using MinCost (fast for tests).
func testHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}
	return string(hash)
}

// mockStore implements TenantStore for testing.
type mockStore struct {
	row       *tenantRow
	err       error
	callCount atomic.Int32
}

func (m *mockStore) LookupByPrefix(_ context.Context, _ string) (*tenantRow, error) {
	m.callCount.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.row, nil
}

func TestPostgresAuth_CacheMiss_ValidKey(t *testing.T) {
	store := &mockStore{
		row: &tenantRow{
			TenantID:   "t_abc",
			Name:       "acme",
			APIKeyHash: testHash(t),
		},
	}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	tenant, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if tenant.TenantID != "t_abc" {
		t.Errorf("expected tenant ID t_abc, got %s", tenant.TenantID)
	}
	if tenant.Name != "acme" {
		t.Errorf("expected name acme, got %s", tenant.Name)
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected 1 DB call, got %d", store.callCount.Load())
	}
}

func TestPostgresAuth_CacheHit_NoDBCall(t *testing.T) {
	store := &mockStore{
		row: &tenantRow{
			TenantID:   "t_abc",
			APIKeyHash: testHash(t),
		},
	}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	// First call, cache miss, hits DB
	if _, err := auth.Authenticate(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if store.callCount.Load() != 1 {
		t.Fatalf("expected 1 DB call after first auth, got %d", store.callCount.Load())
	}

	// Second call, cache hit, no DB call
	tenant, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected still 1 DB call (cache hit), got %d", store.callCount.Load())
	}
	if tenant.TenantID != "t_abc" {
		t.Errorf("expected t_abc from cache, got %s", tenant.TenantID)
	}
}

func TestPostgresAuth_WrongKey_Rejected(t *testing.T) {
	store := &mockStore{
		row: &tenantRow{
			TenantID:   "t_abc",
			APIKeyHash: testHash(t), // hash of testAPIKey, not of what we send
		},
	}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	_, err := auth.Authenticate(context.Background(), "agk_test_wrong_key_000000000000000")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestPostgresAuth_UnknownPrefix_Rejected(t *testing.T) {
	store := &mockStore{err: ErrInvalidAPIKey}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	_, err := auth.Authenticate(context.Background(), testAPIKey)
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestPostgresAuth_ShortKey_Rejected(t *testing.T) {
	store := &mockStore{}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	_, err := auth.Authenticate(context.Background(), "agk_1")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got: %v", err)
	}
	if store.callCount.Load() != 0 {
		t.Error("short key must be rejected before the DB lookup")
	}
}

func TestPostgresAuth_DBError_Unavailable(t *testing.T) {
	store := &mockStore{err: errors.New("connection refused")}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	_, err := auth.Authenticate(context.Background(), testAPIKey)
	if !errors.Is(err, ErrAuthUnavailable) {
		t.Fatalf("expected ErrAuthUnavailable, got: %v", err)
	}
}

func TestPostgresAuth_StaleHit_ServesStaleAndRefreshes(t *testing.T) {
	store := &mockStore{
		row: &tenantRow{
			TenantID:   "t_abc",
			APIKeyHash: testHash(t),
		},
	}
	cache := NewAuthCache(1 * time.Millisecond)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	if _, err := auth.Authenticate(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // expire the entry

	// Stale read serves the old value without blocking.
	tenant, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("stale call failed: %v", err)
	}
	if tenant.TenantID != "t_abc" {
		t.Errorf("expected t_abc from stale cache, got %s", tenant.TenantID)
	}

	// The background refresh lands eventually.
	deadline := time.Now().Add(2 * time.Second)
	for store.callCount.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("background refresh never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
