package notification

import (
	"context"
	"testing"
	"time"
)

// TestPerUserCeiling verifies sends past the per-user minute ceiling are
// rejected with the per_user scope and a wait no longer than the window.
func TestPerUserCeiling(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindowLimiter(RateLimits{PerUserPerMinute: 3}).
		withClock(func() time.Time { return base })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		adm, err := l.TryAcquire(ctx, "user-1", 1)
		if err != nil {
			t.Fatalf("TryAcquire #%d: %v", i, err)
		}
		if !adm.Allowed {
			t.Fatalf("send #%d rejected below ceiling", i)
		}
	}

	adm, err := l.TryAcquire(ctx, "user-1", 1)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if adm.Allowed {
		t.Fatal("send above ceiling was admitted")
	}
	if adm.Scope != "per_user" {
		t.Errorf("Scope = %q, want per_user", adm.Scope)
	}
	if adm.RetryAfter <= 0 || adm.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, 1m]", adm.RetryAfter)
	}
}

// TestUsersAreIndependent verifies one recipient exhausting their quota
// leaves another untouched.
func TestUsersAreIndependent(t *testing.T) {
	l := NewFixedWindowLimiter(RateLimits{PerUserPerMinute: 1})
	ctx := context.Background()

	if adm, _ := l.TryAcquire(ctx, "heavy", 1); !adm.Allowed {
		t.Fatal("first send rejected")
	}
	if adm, _ := l.TryAcquire(ctx, "heavy", 1); adm.Allowed {
		t.Fatal("second send admitted above ceiling")
	}
	if adm, _ := l.TryAcquire(ctx, "quiet", 1); !adm.Allowed {
		t.Fatal("unrelated recipient was throttled")
	}
}

// TestGlobalCeiling verifies the global window rejects across recipients.
func TestGlobalCeiling(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindowLimiter(RateLimits{GlobalPerSecond: 2}).
		withClock(func() time.Time { return base })
	ctx := context.Background()

	for _, user := range []string{"a", "b"} {
		if adm, _ := l.TryAcquire(ctx, user, 1); !adm.Allowed {
			t.Fatalf("send for %s rejected below global ceiling", user)
		}
	}
	adm, _ := l.TryAcquire(ctx, "c", 1)
	if adm.Allowed {
		t.Fatal("send above global ceiling was admitted")
	}
	if adm.Scope != "global" {
		t.Errorf("Scope = %q, want global", adm.Scope)
	}
}

// TestWindowLazyReset verifies counters reset once the clock passes the
// window boundary, with no background goroutine.
func TestWindowLazyReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	l := NewFixedWindowLimiter(RateLimits{PerUserPerMinute: 1}).
		withClock(func() time.Time { return now })
	ctx := context.Background()

	if adm, _ := l.TryAcquire(ctx, "u", 1); !adm.Allowed {
		t.Fatal("first send rejected")
	}
	if adm, _ := l.TryAcquire(ctx, "u", 1); adm.Allowed {
		t.Fatal("second send admitted in same window")
	}

	now = now.Add(31 * time.Second) // crosses the minute boundary
	if adm, _ := l.TryAcquire(ctx, "u", 1); !adm.Allowed {
		t.Fatal("send rejected after window reset")
	}
}

// TestRejectionConsumesNothing verifies a rejected attempt leaves every
// counter untouched: after the constraining window resets, the full quota
// is available again.
func TestRejectionConsumesNothing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindowLimiter(RateLimits{PerUserPerMinute: 2, PerUserPerHour: 4}).
		withClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if adm, _ := l.TryAcquire(ctx, "u", 1); !adm.Allowed {
			t.Fatalf("send #%d rejected", i)
		}
	}
	// Rejected by the minute window; must not consume hourly quota.
	for i := 0; i < 3; i++ {
		if adm, _ := l.TryAcquire(ctx, "u", 1); adm.Allowed {
			t.Fatal("send admitted above minute ceiling")
		}
	}

	now = now.Add(time.Minute)
	for i := 0; i < 2; i++ {
		if adm, _ := l.TryAcquire(ctx, "u", 1); !adm.Allowed {
			t.Fatalf("hourly quota was consumed by rejected attempts (send #%d)", i)
		}
	}
}

// TestZeroLimitUnlimited verifies a zero ceiling disables that window.
func TestZeroLimitUnlimited(t *testing.T) {
	l := NewFixedWindowLimiter(RateLimits{})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		adm, err := l.TryAcquire(ctx, "u", 1)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if !adm.Allowed {
			t.Fatalf("send #%d rejected with no ceilings configured", i)
		}
	}
}

// TestFixedWindowEdgeBurst documents the accepted fixed-window tradeoff: a
// burst straddling a window boundary can pass up to twice the ceiling.
func TestFixedWindowEdgeBurst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 59, 0, time.UTC)
	l := NewFixedWindowLimiter(RateLimits{PerUserPerMinute: 2}).
		withClock(func() time.Time { return now })
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 2; i++ {
		if adm, _ := l.TryAcquire(ctx, "u", 1); adm.Allowed {
			admitted++
		}
	}
	now = now.Add(2 * time.Second) // new minute window
	for i := 0; i < 2; i++ {
		if adm, _ := l.TryAcquire(ctx, "u", 1); adm.Allowed {
			admitted++
		}
	}

	if admitted != 4 {
		t.Errorf("admitted = %d across the boundary, want 4 (2x ceiling)", admitted)
	}
}

// TestAcquireWeight verifies weighted acquires count as multiple sends.
func TestAcquireWeight(t *testing.T) {
	l := NewFixedWindowLimiter(RateLimits{PerUserPerMinute: 3})
	ctx := context.Background()

	if adm, _ := l.TryAcquire(ctx, "u", 2); !adm.Allowed {
		t.Fatal("weight-2 acquire rejected with headroom 3")
	}
	if adm, _ := l.TryAcquire(ctx, "u", 2); adm.Allowed {
		t.Fatal("weight-2 acquire admitted with headroom 1")
	}
	if adm, _ := l.TryAcquire(ctx, "u", 1); !adm.Allowed {
		t.Fatal("weight-1 acquire rejected with headroom 1")
	}
}
