package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/middleware"
	"github.com/prospectiq/credit-server-go/internal/service"
)

type GatewayHandler struct {
	gateway *service.Gateway
}

func NewGatewayHandler(gateway *service.Gateway) *GatewayHandler {
	return &GatewayHandler{gateway: gateway}
}

func (h *GatewayHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{service}", h.Call)

	return r
}

// POST /v1/services/{service}
// The request body is passed through to the provider as-is; the response
// wraps the provider result with billing metadata. A correlation id may be
// supplied via the X-Correlation-ID header to make retries idempotent.
func (h *GatewayHandler) Call(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Missing account"))
		return
	}

	serviceName := chi.URLParam(r, "service")
	correlationID := r.Header.Get("X-Correlation-ID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperrors.ValidationError("Failed to read request body"))
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	} else if !json.Valid(body) {
		writeError(w, apperrors.ValidationError("Request body must be valid JSON"))
		return
	}

	resp, err := h.gateway.Call(r.Context(), account.ID, serviceName, body, correlationID)
	if err != nil {
		if retry, ok := apperrors.RetryAfterSeconds(err); ok {
			w.Header().Set("Retry-After", strconv.FormatInt(max(retry, 1), 10))
		}
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).
				Str("accountId", account.ID).
				Str("service", serviceName).
				Msg("metered call failed")
		}
		writeError(w, err)
		return
	}

	writeRateLimitHeaders(w, resp.RateLimit)
	w.Header().Set("X-Correlation-ID", resp.CorrelationID)
	writeJSON(w, http.StatusOK, resp)
}

func writeRateLimitHeaders(w http.ResponseWriter, d service.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}
