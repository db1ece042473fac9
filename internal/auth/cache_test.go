package auth

import (
	"sync"
	"testing"
	"time"
)

func TestCache_FreshHit(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	tenant := &TenantContext{TenantID: "t_1", Name: "acme"}

	cache.Set("agk_abc123", tenant)

	result := cache.Get("agk_abc123")
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Error("fresh entry should not need refresh")
	}
	if result.Tenant.TenantID != "t_1" {
		t.Errorf("expected t_1, got %s", result.Tenant.TenantID)
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)

	result := cache.Get("agk_nonexistent")
	if result.Hit {
		t.Error("expected cache miss")
	}
	if result.Tenant != nil {
		t.Error("expected nil tenant on miss")
	}
	if result.NeedsRefresh {
		t.Error("miss should not need refresh")
	}
}

func TestCache_StaleHit_ReturnsValueAndSignalsRefresh(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond) // Very short TTL
	tenant := &TenantContext{TenantID: "t_1"}

	cache.Set("agk_abc123", tenant)
	time.Sleep(5 * time.Millisecond) // Wait for expiration

	result := cache.Get("agk_abc123")
	if !result.Hit {
		t.Fatal("expected stale hit")
	}
	if !result.NeedsRefresh {
		t.Error("expired entry should signal refresh")
	}
	if result.Tenant.TenantID != "t_1" {
		t.Error("stale hit should still return the tenant")
	}
}

func TestCache_StaleHit_OnlyOneRefreshSignal(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	cache.Set("agk_abc123", &TenantContext{TenantID: "t_1"})
	time.Sleep(5 * time.Millisecond)

	// First stale read gets NeedsRefresh=true
	r1 := cache.Get("agk_abc123")
	if !r1.NeedsRefresh {
		t.Fatal("first stale read should signal refresh")
	}

	// Second stale read gets NeedsRefresh=false (someone already refreshing)
	r2 := cache.Get("agk_abc123")
	if !r2.Hit {
		t.Fatal("expected stale hit on second read")
	}
	if r2.NeedsRefresh {
		t.Error("second stale read should NOT signal refresh (already in progress)")
	}
	if r2.Tenant.TenantID != "t_1" {
		t.Error("second stale read should still return the tenant")
	}
}

func TestCache_SetResetsRefreshFlag(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	cache.Set("agk_abc123", &TenantContext{TenantID: "t_1"})
	time.Sleep(5 * time.Millisecond)

	// Claim the refresh slot, then complete the refresh with Set.
	if !cache.Get("agk_abc123").NeedsRefresh {
		t.Fatal("expected refresh signal")
	}
	cache.Set("agk_abc123", &TenantContext{TenantID: "t_1"})
	time.Sleep(5 * time.Millisecond)

	// After the refresh, the next expiry must signal again.
	if !cache.Get("agk_abc123").NeedsRefresh {
		t.Error("refresh flag should reset after Set")
	}
}

func TestCache_Delete(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("agk_abc123", &TenantContext{TenantID: "t_1"})
	cache.Delete("agk_abc123")

	if cache.Get("agk_abc123").Hit {
		t.Error("expected miss after delete")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cache.Set("agk_shared", &TenantContext{TenantID: "t_1"})
		}()
		go func() {
			defer wg.Done()
			cache.Get("agk_shared")
		}()
	}
	wg.Wait()

	if got := cache.Get("agk_shared"); !got.Hit || got.Tenant.TenantID != "t_1" {
		t.Error("expected consistent entry after concurrent access")
	}
}
