package middleware

import (
	"net/http"
	"strings"

	"github.com/prospectiq/credit-server-go/internal/audit"
	"github.com/prospectiq/credit-server-go/internal/util"
)

// AdminMiddleware guards the admin and scheduler surfaces with a shared
// token, configured as a bcrypt hash. With no hash configured the routes are
// disabled outright.
type AdminMiddleware struct {
	tokenHash string
}

func NewAdminMiddleware(tokenHash string) *AdminMiddleware {
	return &AdminMiddleware{tokenHash: tokenHash}
}

func (m *AdminMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Admin API is not configured",
			})
			return
		}

		provided := r.Header.Get("X-Admin-Token")
		if provided == "" {
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				provided = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if provided == "" || !util.CheckTokenHash(provided, m.tokenHash) {
			audit.Log(audit.Event{
				Type:    audit.EventAdminAuthFailure,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid admin token",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
