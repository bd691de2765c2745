package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, perSecond float64, burst int, now *time.Time) *Limiter {
	t.Helper()
	rl := NewLimiter(Config{PerSecond: perSecond, Burst: burst})
	rl.now = func() time.Time { return *now }
	t.Cleanup(rl.Stop)
	return rl
}

func TestAllowBurstThenRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(t, 1, 3, &now)

	for i := 0; i < 3; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("alice") {
		t.Fatal("fourth request should be limited")
	}
	if !rl.Allow("bob") {
		t.Fatal("keys have separate buckets")
	}

	now = now.Add(time.Second)
	if !rl.Allow("alice") {
		t.Fatal("one token should have refilled")
	}
}

func TestCleanupStaleEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(t, 1, 1, &now)

	rl.Allow("alice")
	now = now.Add(5 * time.Minute)
	rl.Allow("bob")
	now = now.Add(6 * time.Minute)

	rl.cleanupStaleEntries()
	if got := rl.ActiveClients(); got != 1 {
		t.Fatalf("ActiveClients = %d, want 1", got)
	}
}

func TestMiddleware(t *testing.T) {
	now := time.Now()
	rl := newTestLimiter(t, 1, 1, &now)
	h := rl.Middleware(func(r *http.Request) string { return r.RemoteAddr })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 2)
	for i := range codes {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = rr.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
