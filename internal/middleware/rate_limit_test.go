package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/tokengate/internal/ratelimit"
)

// mockLimiter implements ratelimit.Limiter for testing
type mockLimiter struct {
	decision ratelimit.Decision
	err      error
	calls    int
	scope    string
	subject  string
}

func (m *mockLimiter) Allow(ctx context.Context, scope string, subject string, bucket ratelimit.Bucket) (ratelimit.Decision, error) {
	m.calls++
	m.scope = scope
	m.subject = subject
	return m.decision, m.err
}

var enabledBucket = ratelimit.Bucket{RequestsPerMinute: 100, BurstSize: 10}

func newRefreshContext(authHeader string) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/v1/keys/refresh", nil)
	ctx.Request.RemoteAddr = "10.1.2.3:4567"
	if authHeader != "" {
		ctx.Request.Header.Set("Authorization", authHeader)
	}
	return ctx, rec
}

func TestRateLimitKeyRefresh_DisabledBucket(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false}}
	ctx, _ := newRefreshContext("")

	RateLimitKeyRefresh(limiter, ratelimit.Bucket{})(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through for disabled bucket")
	}
	if limiter.calls != 0 {
		t.Fatalf("limiter should not be consulted, got %d calls", limiter.calls)
	}
}

func TestRateLimitKeyRefresh_AllowedDecision(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}
	ctx, _ := newRefreshContext("")

	RateLimitKeyRefresh(limiter, enabledBucket)(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when rate limit allows")
	}
	if limiter.scope != "keys" || limiter.subject != "10.1.2.3" {
		t.Fatalf("expected client ip bucket in keys scope, got %s/%s", limiter.scope, limiter.subject)
	}
}

func TestRateLimitAuthorize_IgnoresBearerToken(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}
	ctx, _ := newRefreshContext("Bearer client-secret")

	RateLimitAuthorize(limiter, enabledBucket)(ctx)

	if limiter.scope != "authz" || limiter.subject != "10.1.2.3" {
		t.Fatalf("expected client ip bucket in authz scope, got %s/%s", limiter.scope, limiter.subject)
	}
}

func TestRateLimitAuthorize_RotatingBearerDoesNotEscapeBucket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	handled := 0
	r := gin.New()
	r.POST("/v1/authorize",
		RateLimitAuthorize(ratelimit.NewTokenBucketLimiter(rdb), ratelimit.Bucket{RequestsPerMinute: 6, BurstSize: 2}),
		func(c *gin.Context) {
			handled++
			c.Status(http.StatusOK)
		})

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/authorize", nil)
		req.RemoteAddr = "10.1.2.3:4567"
		req.Header.Set("Authorization", "Bearer junk-"+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if handled != 2 || limited != 48 {
		t.Fatalf("expected burst of 2 then 48 rejections, got handled=%d limited=%d", handled, limited)
	}
}

func TestRateLimitKeyRefresh_DeniedDecision(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 5 * time.Second}}
	ctx, rec := newRefreshContext("")

	RateLimitKeyRefresh(limiter, enabledBucket)(ctx)

	if !ctx.IsAborted() {
		t.Fatal("expected request to be aborted when rate limited")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 status, got %d", rec.Code)
	}
	if retryAfter := rec.Header().Get("Retry-After"); retryAfter != "5" {
		t.Fatalf("expected Retry-After: 5, got %s", retryAfter)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal JSON response: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Fatalf("expected error field, got %v", body)
	}
	if body["scope"] != "keys" || body["operation"] != "refresh" {
		t.Fatalf("unexpected scope/operation %v", body)
	}
	if body["retryAfterSeconds"] != float64(5) {
		t.Fatalf("expected retryAfterSeconds=5, got %v", body["retryAfterSeconds"])
	}
}

func TestRateLimitKeyRefresh_LimiterError(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false}, err: context.DeadlineExceeded}
	ctx, _ := newRefreshContext("")

	RateLimitKeyRefresh(limiter, enabledBucket)(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when limiter returns error (fail open)")
	}
}

func TestRateLimitKeyRefresh_NilLimiter(t *testing.T) {
	ctx, _ := newRefreshContext("")
	RateLimitKeyRefresh(nil, enabledBucket)(ctx)
	if ctx.IsAborted() {
		t.Fatal("expected request to pass through with nil limiter")
	}
}

func TestRateLimitKeyRefresh_RetryAfterAtLeastOneSecond(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 500 * time.Millisecond}}
	ctx, rec := newRefreshContext("")

	RateLimitKeyRefresh(limiter, enabledBucket)(ctx)

	if retryAfter := rec.Header().Get("Retry-After"); retryAfter != "1" {
		t.Fatalf("expected Retry-After: 1 (minimum), got %s", retryAfter)
	}
}
