package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/labflags/internal/domain"
)

type mockLimiter struct {
	decision Decision
	err      error
}

func (m mockLimiter) Allow(context.Context, string, int, time.Duration) (Decision, error) {
	return m.decision, m.err
}

type recordingLimiter struct {
	lastKey string
}

func (r *recordingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (Decision, error) {
	r.lastKey = key
	return Decision{Allowed: true, Remaining: limit - 1}, nil
}

func serveLimited(rl *RateLimiter, req *http.Request) *httptest.ResponseRecorder {
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiterBackendErrorModes(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1111"

	open := NewRateLimiter(mockLimiter{err: errors.New("redis down")}, 10, time.Minute, FailOpen, "admin")
	if rr := serveLimited(open, req); rr.Code != http.StatusOK {
		t.Fatalf("expected fail-open to allow request, got %d", rr.Code)
	}

	closed := NewRateLimiter(mockLimiter{err: errors.New("redis down")}, 10, time.Minute, FailClosed, "admin")
	rr := serveLimited(closed, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected fail-closed to reject request, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected window retry-after, got %q", rr.Header().Get("Retry-After"))
	}
}

func TestRateLimiterDeniedSetsRetryAfter(t *testing.T) {
	rl := NewRateLimiter(mockLimiter{decision: Decision{RetryAfter: 5 * time.Second}}, 1, time.Minute, FailClosed, "admin")
	rr := serveLimited(rl, httptest.NewRequest(http.MethodPost, "/x", nil))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "5" {
		t.Fatalf("unexpected response %d retry=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
}

func TestRateLimiterKeysByActorThenIP(t *testing.T) {
	rec := &recordingLimiter{}
	rl := NewRateLimiter(rec, 1, time.Minute, FailClosed, "admin")

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.0.0.2:9999"
	serveLimited(rl, req)
	if rec.lastKey != "admin:ip:10.0.0.2" {
		t.Fatalf("unexpected ip key %q", rec.lastKey)
	}

	req = req.WithContext(WithActor(req.Context(), domain.Actor{UserID: "42", Role: "administrator"}))
	serveLimited(rl, req)
	if rec.lastKey != "admin:sub:42" {
		t.Fatalf("unexpected subject key %q", rec.lastKey)
	}
}

func TestRateLimiterZeroLimitDisables(t *testing.T) {
	rl := NewRateLimiter(mockLimiter{}, 0, time.Minute, FailClosed, "admin")
	if rr := serveLimited(rl, httptest.NewRequest(http.MethodPost, "/x", nil)); rr.Code != http.StatusOK {
		t.Fatalf("expected disabled limiter to pass, got %d", rr.Code)
	}
}

func TestRateLimiterSetsQuotaHeaders(t *testing.T) {
	rl := NewRateLimiter(&recordingLimiter{}, 3, time.Minute, FailClosed, "admin")
	rr := serveLimited(rl, httptest.NewRequest(http.MethodPost, "/x", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "3" || rr.Header().Get("X-RateLimit-Remaining") != "2" {
		t.Fatalf("unexpected quota headers limit=%q remaining=%q",
			rr.Header().Get("X-RateLimit-Limit"), rr.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestLocalFixedWindowLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := newLocalFixedWindowLimiter(func() time.Time { return now })
	ctx := context.Background()

	for i, wantRemaining := range []int{1, 0} {
		d, err := limiter.Allow(ctx, "admin:sub:42", 2, time.Minute)
		if err != nil || !d.Allowed || d.Remaining != wantRemaining {
			t.Fatalf("request %d: decision=%+v err=%v", i, d, err)
		}
	}

	now = now.Add(20 * time.Second)
	d, err := limiter.Allow(ctx, "admin:sub:42", 2, time.Minute)
	if err != nil || d.Allowed || d.RetryAfter != 40*time.Second {
		t.Fatalf("expected denial until window end, got %+v err=%v", d, err)
	}
	if d, _ := limiter.Allow(ctx, "admin:sub:7", 2, time.Minute); !d.Allowed {
		t.Fatal("subjects must have separate quotas")
	}

	now = now.Add(40 * time.Second)
	if d, _ := limiter.Allow(ctx, "admin:sub:42", 2, time.Minute); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
}

func TestLocalFixedWindowLimiterSweepsExpiredCounters(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := newLocalFixedWindowLimiter(func() time.Time { return now })
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "admin:ip:10.0.0.1", 1, time.Minute)
	_, _ = limiter.Allow(ctx, "admin:ip:10.0.0.2", 1, time.Minute)
	now = now.Add(2 * time.Minute)
	_, _ = limiter.Allow(ctx, "admin:ip:10.0.0.3", 1, time.Minute)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.counters) != 1 {
		t.Fatalf("expected expired counters swept, have %d", len(limiter.counters))
	}
}

func TestRateLimiterUsesLocalLimiterPerSubject(t *testing.T) {
	rl := NewRateLimiter(nil, 1, time.Minute, FailClosed, "admin")
	for _, tc := range []struct {
		user string
		ip   string
		want int
	}{
		{user: "42", ip: "10.0.0.1:1", want: http.StatusOK},
		{user: "42", ip: "10.0.0.2:1", want: http.StatusTooManyRequests},
		{user: "7", ip: "10.0.0.1:1", want: http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.RemoteAddr = tc.ip
		req = req.WithContext(WithActor(req.Context(), domain.Actor{UserID: tc.user, Role: "administrator"}))
		if rr := serveLimited(rl, req); rr.Code != tc.want {
			t.Fatalf("user %s from %s: expected %d got %d", tc.user, tc.ip, tc.want, rr.Code)
		}
	}
}

func TestRedisFixedWindowLimiter(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewRedisFixedWindowLimiter(client, "rl_test")
	ctx := context.Background()

	if d, err := limiter.Allow(ctx, "", 1, time.Minute); err != nil || !d.Allowed || d.Remaining != 0 {
		t.Fatalf("first request: decision=%+v err=%v", d, err)
	}
	d, err := limiter.Allow(ctx, "", 1, time.Minute)
	if err != nil || d.Allowed {
		t.Fatalf("second request should be denied: decision=%+v err=%v", d, err)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry-after %v", d.RetryAfter)
	}
	if !m.Exists("rl_test:unknown") {
		t.Fatal("expected fallback key in redis")
	}

	m.FastForward(time.Minute + time.Second)
	if d, err := limiter.Allow(ctx, "", 1, time.Minute); err != nil || !d.Allowed {
		t.Fatalf("expected new window: decision=%+v err=%v", d, err)
	}
}

func TestRedisFixedWindowLimiterErrors(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter(nil, "").Allow(context.Background(), "k", 1, time.Second); err == nil {
		t.Fatal("expected nil client error")
	}
	bad := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 20 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = bad.Close() })
	if _, err := NewRedisFixedWindowLimiter(bad, "").Allow(context.Background(), "k", 1, time.Second); err == nil {
		t.Fatal("expected connection error")
	}
}
