package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/middleware"
	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/service"
)

type CreditsHandler struct {
	credits *service.CreditService
}

func NewCreditsHandler(credits *service.CreditService) *CreditsHandler {
	return &CreditsHandler{credits: credits}
}

func (h *CreditsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/balance", h.Balance)
	r.Post("/consume", h.Consume)
	r.Get("/history", h.History)

	return r
}

// GET /v1/credits/balance
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Missing account"))
		return
	}

	balances, err := h.credits.Balances(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("failed to read balances")
		writeError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accountId": account.ID,
		"balances":  balances,
	})
}

type consumeRequest struct {
	Kind          string `json:"kind" validate:"required"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	CorrelationID string `json:"correlationId" validate:"required"`
}

// POST /v1/credits/consume
// Core API: atomically deduct credits. Retrying with the same correlationId
// returns the original result instead of deducting again.
func (h *CreditsHandler) Consume(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Missing account"))
		return
	}

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperrors.ValidationError(err.Error()))
		return
	}

	result, err := h.credits.ReserveAndConsume(
		r.Context(), account.ID, model.CreditKind(req.Kind), req.Amount, req.CorrelationID,
	)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("accountId", account.ID).Msg("consume failed")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"newBalance": result.NewBalance,
		"entryId":    result.EntryID,
		"replayed":   result.Replayed,
	})
}

// GET /v1/credits/history
func (h *CreditsHandler) History(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Missing account"))
		return
	}

	page := ParsePagination(r)
	entries, total, err := h.credits.History(r.Context(), account.ID, page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("failed to read history")
		writeError(w, apperrors.Database(err))
		return
	}

	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"hasMore": page.Offset+len(entries) < total,
	})
}
