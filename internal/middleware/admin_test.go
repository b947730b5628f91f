package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAdminMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-token"), bcrypt.MinCost)
	require.NoError(t, err)
	tokenHash := string(hash)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allows request with valid X-Admin-Token header", func(t *testing.T) {
		middleware := NewAdminMiddleware(tokenHash)
		req := httptest.NewRequest("POST", "/v1/admin/accounts", nil)
		req.Header.Set("X-Admin-Token", "admin-token")
		rec := httptest.NewRecorder()

		middleware.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("allows request with valid bearer token", func(t *testing.T) {
		middleware := NewAdminMiddleware(tokenHash)
		req := httptest.NewRequest("POST", "/v1/admin/accounts", nil)
		req.Header.Set("Authorization", "Bearer admin-token")
		rec := httptest.NewRecorder()

		middleware.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		middleware := NewAdminMiddleware(tokenHash)
		req := httptest.NewRequest("POST", "/v1/admin/accounts", nil)
		req.Header.Set("X-Admin-Token", "wrong-token")
		rec := httptest.NewRecorder()

		middleware.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects missing token", func(t *testing.T) {
		middleware := NewAdminMiddleware(tokenHash)
		req := httptest.NewRequest("POST", "/v1/admin/accounts", nil)
		rec := httptest.NewRecorder()

		middleware.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disables routes entirely with no hash configured", func(t *testing.T) {
		middleware := NewAdminMiddleware("")
		req := httptest.NewRequest("POST", "/v1/admin/accounts", nil)
		req.Header.Set("X-Admin-Token", "anything")
		rec := httptest.NewRecorder()

		middleware.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
