package middleware

import (
	"net/http"

	"github.com/prospectiq/credit-server-go/internal/config"
)

// BodyLimitMiddleware rejects oversized request bodies before a handler reads
// them. A declared oversize Content-Length is refused outright; bodies without
// a declared length are cut off by MaxBytesReader mid-read.
type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = config.MaxRequestBodyBytes
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > m.maxSize {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
				"error":    "Request body too large",
				"maxBytes": m.maxSize,
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}
