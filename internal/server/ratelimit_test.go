package server

import (
	"testing"
	"time"
)

func newClockedLimiter(cfg RateLimitConfig, now *time.Time) *rateLimiter {
	rl := newRateLimiter(cfg)
	rl.now = func() time.Time { return *now }
	return rl
}

func closeTo(got, want time.Duration) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < time.Millisecond
}

func TestAllowConversionReportsRefillDelay(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newClockedLimiter(RateLimitConfig{ConversionLimit: 2, ConversionWindow: time.Minute}, &now)

	for i := 0; i < 2; i++ {
		if ok, _, err := rl.AllowConversion("10.0.0.1"); err != nil || !ok {
			t.Fatalf("request %d: expected allowed, got ok=%v err=%v", i, ok, err)
		}
	}

	ok, retryAfter, err := rl.AllowConversion("10.0.0.1")
	if err != nil {
		t.Fatalf("AllowConversion: %v", err)
	}
	if ok {
		t.Fatal("expected third request within the window to be denied")
	}
	if !closeTo(retryAfter, 30*time.Second) {
		t.Fatalf("expected 30s until the next token, got %s", retryAfter)
	}

	now = now.Add(10 * time.Second)
	ok, retryAfter, _ = rl.AllowConversion("10.0.0.1")
	if ok {
		t.Fatal("expected request before refill to be denied")
	}
	if !closeTo(retryAfter, 20*time.Second) {
		t.Fatalf("denied requests must not consume tokens: expected 20s, got %s", retryAfter)
	}

	now = now.Add(21 * time.Second)
	if ok, _, _ := rl.AllowConversion("10.0.0.1"); !ok {
		t.Fatal("expected request after refill to be allowed")
	}
}

func TestAllowConversionForgetsIdleClients(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newClockedLimiter(RateLimitConfig{ConversionLimit: 1, ConversionWindow: time.Minute}, &now)

	rl.AllowConversion("10.0.0.1")
	now = now.Add(3 * time.Minute)
	rl.AllowConversion("10.0.0.2")

	rl.conversionMu.Lock()
	_, stale := rl.conversionBuckets["10.0.0.1"]
	count := len(rl.conversionBuckets)
	rl.conversionMu.Unlock()
	if stale || count != 1 {
		t.Fatalf("expected idle client to be dropped, got %d limiters (stale=%v)", count, stale)
	}
}

func TestAllowRequestUsesGlobalBurst(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newClockedLimiter(RateLimitConfig{GlobalRPS: 1, GlobalBurst: 2}, &now)

	if !rl.AllowRequest() || !rl.AllowRequest() {
		t.Fatal("expected burst of two to be allowed")
	}
	if rl.AllowRequest() {
		t.Fatal("expected third request to exceed the burst")
	}
	now = now.Add(1100 * time.Millisecond)
	if !rl.AllowRequest() {
		t.Fatal("expected a token after one second")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		if !rl.AllowRequest() {
			t.Fatal("expected unlimited global requests")
		}
		if ok, retry, err := rl.AllowConversion(""); !ok || retry != 0 || err != nil {
			t.Fatalf("expected unlimited conversions, got ok=%v retry=%s err=%v", ok, retry, err)
		}
	}
}
