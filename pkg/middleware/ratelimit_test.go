package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/observability"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(cfg)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2})
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 20; i++ {
		res, err := rl.Allow(ctx, "user:a")
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed)

	res, err := rl.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 12, res.Limit)
	assert.Equal(t, 100*time.Millisecond, res.RetryAfter)

	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 2, rl.Remaining("user:a"))
	res, err = rl.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, err = rl.Allow(ctx, "user:b")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "buckets are per key")
	assert.Equal(t, 11, res.Remaining)
}

func TestRateLimiter_RefillCapsAtCapacity(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Second, BurstSize: 1})
	for i := 0; i < 6; i++ {
		_, _ = rl.Allow(context.Background(), "k")
	}
	assert.Equal(t, 0, rl.Remaining("k"))

	clock.Advance(time.Hour)
	res, err := rl.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Remaining)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Second})
	_, _ = rl.Allow(context.Background(), "old")
	clock.Advance(3 * time.Second)
	_, _ = rl.Allow(context.Background(), "fresh")

	rl.Cleanup()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "old")
	assert.Contains(t, rl.buckets, "fresh")
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	cfg := RateLimitConfig{BurstSize: -1}.withDefaults()
	assert.Equal(t, 300, cfg.RequestsPerWindow)
	assert.Equal(t, time.Minute, cfg.WindowDuration)
	assert.Equal(t, 0, cfg.BurstSize)
	assert.Equal(t, 300, cfg.capacity())
}

func TestRateLimiter_Concurrency(t *testing.T) {
	rl, _ := newTestLimiter(RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute})
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, _ := rl.Allow(context.Background(), "shared"); res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed)
}

func TestRateLimitKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "ip:10.1.2.3", RateLimitKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.7", RateLimitKey(r))

	r = r.WithContext(auth.WithUser(r.Context(), &auth.User{ID: "u-1", Role: auth.RoleViewer}))
	assert.Equal(t, "user:u-1", RateLimitKey(r))
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (Result, error) {
	return Result{}, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("sets headers and rejects once exhausted", func(t *testing.T) {
		rl, _ := newTestLimiter(RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
		handler := RateLimitMiddleware(rl, observability.NewNopLogger())(ok)

		send := func() *httptest.ResponseRecorder {
			r := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			r.RemoteAddr = "192.0.2.1:1234"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			return w
		}

		w := send()
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

		assert.Equal(t, http.StatusOK, send().Code)

		w = send()
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"error":"rate limit exceeded","retry_after":30}`, w.Body.String())
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		handler := RateLimitMiddleware(erroringLimiter{}, observability.NewNopLogger())(ok)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	})
}
