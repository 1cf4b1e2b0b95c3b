package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByUserOrIP_PrefersIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.RemoteAddr = net.JoinHostPort("198.51.100.4", "40000")
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	// Anonymous clients are keyed by IP.
	if key := KeyByUserOrIP()(c); !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "198.51.100.4") {
		t.Fatalf("anonymous key = %q, want ip-based", key)
	}

	// Once identity middleware has resolved a user, the key follows them
	// across addresses.
	SetUserID(c, "alice")
	if key := KeyByUserOrIP()(c); key != "user:alice" {
		t.Fatalf("authenticated key = %q, want user:alice", key)
	}
}

func TestNewRateLimiter_CoercesBurstAndReusesVisitors(t *testing.T) {
	rl := NewRateLimiter(5.0, -3, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1 for non-positive input", rl.burst)
	}

	first := rl.getVisitor("user:alice")
	if first == nil {
		t.Fatalf("expected limiter for new visitor")
	}
	if again := rl.getVisitor("user:alice"); again != first {
		t.Fatalf("same key returned a different limiter")
	}
}

func TestRateLimiter_EvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["user:idle"] = &visitor{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	rl.cleanupN = 4999 // next getVisitor triggers the sweep
	rl.mu.Unlock()

	_ = rl.getVisitor("user:active")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["user:idle"]; ok {
		t.Fatalf("idle visitor survived the sweep")
	}
	if _, ok := rl.visitors["user:active"]; !ok {
		t.Fatalf("active visitor missing after sweep")
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	if IsRateBypass(c) {
		t.Fatalf("bypass should default to false")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("bypass flag not honored")
	}
	c.Set(ctxKeyRateBypass, "true")
	if IsRateBypass(c) {
		t.Fatalf("non-bool bypass value should read as false")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// burst 1 at 1 rps: the second immediate request is rejected.
	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(rl.Handler())
	r.POST("/conversations/direct", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations/direct", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("first request -> %d, want 201", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations/direct", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request -> %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want 1", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("429 body not JSON: %v", err)
	}
	if body["code"] != "rate_limited" {
		t.Fatalf("429 body = %v", body)
	}
}

func TestRateLimiter_BypassSkipsTokenCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	r.Use(rl.Handler())
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Well past burst, every request still goes through.
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("bypassed request %d -> %d, want 200", i, w.Code)
		}
	}
}
