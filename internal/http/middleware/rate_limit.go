package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sandeepkv93/labflags/internal/http/response"
)

// Decision is a limiter verdict for one key in its current window.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// RateLimiter throttles admin mutations, each of which can fan out to the feature backend.
// Requests are counted per admin subject, falling back to the client IP for anonymous callers.
type RateLimiter struct {
	limiter Limiter
	limit   int
	window  time.Duration
	mode    FailureMode
	scope   string
}

func NewRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if limiter == nil {
		limiter = NewLocalFixedWindowLimiter()
	}
	if scope == "" {
		scope = "admin"
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limiter: limiter, limit: limit, window: window, mode: mode, scope: scope}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := rl.keyFor(r)
			decision, err := rl.limiter.Allow(r.Context(), key, rl.limit, rl.window)
			if err != nil {
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				rl.reject(w, r, key, rl.window)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				rl.reject(w, r, key, decision.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) keyFor(r *http.Request) string {
	if actor := ActorFromContext(r.Context()); actor.HasUser() {
		return rl.scope + ":sub:" + actor.UserID
	}
	return rl.scope + ":ip:" + clientIP(r)
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, key string, retryAfter time.Duration) {
	slog.InfoContext(r.Context(), "admin request rate limited", "scope", rl.scope, "key", key)
	w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
	response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// localFixedWindowLimiter keeps counters in process memory; replicas do not share them.
type localFixedWindowLimiter struct {
	mu        sync.Mutex
	now       func() time.Time
	counters  map[string]*windowCounter
	nextSweep time.Time
}

func NewLocalFixedWindowLimiter() Limiter {
	return newLocalFixedWindowLimiter(time.Now)
}

func newLocalFixedWindowLimiter(now func() time.Time) *localFixedWindowLimiter {
	return &localFixedWindowLimiter{now: now, counters: make(map[string]*windowCounter)}
}

func (l *localFixedWindowLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		for k, c := range l.counters {
			if !now.Before(c.resetAt) {
				delete(l.counters, k)
			}
		}
		l.nextSweep = now.Add(window)
	}

	c, ok := l.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &windowCounter{resetAt: now.Add(window)}
		l.counters[key] = c
	}
	if c.count >= limit {
		return Decision{RetryAfter: c.resetAt.Sub(now)}, nil
	}
	c.count++
	return Decision{Allowed: true, Remaining: limit - c.count}, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
