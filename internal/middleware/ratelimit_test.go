package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/service"
)

type stubLimiter struct {
	decision service.Decision
	calls    int
}

func (s *stubLimiter) Admit(ctx context.Context, accountID, svc string) service.Decision {
	s.calls++
	return s.decision
}

func requestWithAccount(id string) *http.Request {
	req := httptest.NewRequest("GET", "/v1/credits/balance", nil)
	ctx := context.WithValue(req.Context(), AccountContextKey, &model.Account{ID: id})
	return req.WithContext(ctx)
}

func TestRateLimitMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("passes allowed requests and sets rate limit headers", func(t *testing.T) {
		resetAt := time.Now().Add(time.Minute)
		limiter := &stubLimiter{decision: service.Decision{
			Allowed:   true,
			Limit:     60,
			Remaining: 42,
			ResetAt:   resetAt,
		}}
		middleware := NewRateLimitMiddleware(limiter)

		rec := httptest.NewRecorder()
		middleware.Handler(okHandler).ServeHTTP(rec, requestWithAccount("acc-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "42", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("rejects with 429 and Retry-After when over the limit", func(t *testing.T) {
		limiter := &stubLimiter{decision: service.Decision{
			Allowed:    false,
			Limit:      60,
			Remaining:  0,
			RetryAfter: 30 * time.Second,
			ResetAt:    time.Now().Add(30 * time.Second),
		}}
		middleware := NewRateLimitMiddleware(limiter)

		rec := httptest.NewRecorder()
		middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		})).ServeHTTP(rec, requestWithAccount("acc-1"))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	})

	t.Run("skips unauthenticated requests", func(t *testing.T) {
		limiter := &stubLimiter{decision: service.Decision{Allowed: false}}
		middleware := NewRateLimitMiddleware(limiter)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/health", nil)
		middleware.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, limiter.calls)
	})

	t.Run("Retry-After is never below one second", func(t *testing.T) {
		limiter := &stubLimiter{decision: service.Decision{
			Allowed:    false,
			RetryAfter: 200 * time.Millisecond,
		}}
		middleware := NewRateLimitMiddleware(limiter)

		rec := httptest.NewRecorder()
		middleware.Handler(okHandler).ServeHTTP(rec, requestWithAccount("acc-1"))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})
}
