package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectiq/credit-server-go/internal/config"
)

func TestBodyLimitMiddleware(t *testing.T) {
	echoHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.Write(body)
	})

	t.Run("passes bodies under the limit", func(t *testing.T) {
		middleware := NewBodyLimitMiddleware(64)
		req := httptest.NewRequest("POST", "/v1/services/email-finder", strings.NewReader(`{"email":"a@b.co"}`))
		rec := httptest.NewRecorder()

		middleware.Handler(echoHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"email":"a@b.co"}`, rec.Body.String())
	})

	t.Run("rejects a declared oversize body with 413", func(t *testing.T) {
		middleware := NewBodyLimitMiddleware(16)
		req := httptest.NewRequest("POST", "/v1/services/email-finder", strings.NewReader(strings.Repeat("x", 100)))
		rec := httptest.NewRecorder()

		middleware.Handler(echoHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "maxBytes")
	})

	t.Run("cuts off an undeclared oversize body mid-read", func(t *testing.T) {
		middleware := NewBodyLimitMiddleware(16)
		req := httptest.NewRequest("POST", "/v1/services/email-finder", strings.NewReader(strings.Repeat("x", 100)))
		req.ContentLength = -1
		rec := httptest.NewRecorder()

		middleware.Handler(echoHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("a non-positive size falls back to the configured cap", func(t *testing.T) {
		middleware := NewBodyLimitMiddleware(0)
		require.Equal(t, int64(config.MaxRequestBodyBytes), middleware.maxSize)
	})
}
