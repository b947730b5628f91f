package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/service"
)

// AdminHandler exposes the operator surface: account provisioning, credit
// grants, refunds, and ledger reconciliation. Every route is behind the admin
// token middleware.
type AdminHandler struct {
	accounts *service.AccountService
	credits  *service.CreditService
}

func NewAdminHandler(accounts *service.AccountService, credits *service.CreditService) *AdminHandler {
	return &AdminHandler{
		accounts: accounts,
		credits:  credits,
	}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts", h.ListAccounts)
	r.Get("/accounts/{id}", h.GetAccount)
	r.Delete("/accounts/{id}", h.DisableAccount)
	r.Post("/accounts/{id}/token", h.RotateToken)
	r.Post("/accounts/{id}/grants", h.CreateGrant)
	r.Post("/accounts/{id}/refunds", h.Refund)
	r.Get("/accounts/{id}/reconcile", h.Reconcile)

	return r
}

type createAccountRequest struct {
	Email string `json:"email" validate:"required,email"`
	Tier  string `json:"tier" validate:"omitempty,oneof=free pro"`
}

// POST /v1/admin/accounts
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperrors.ValidationError(err.Error()))
		return
	}

	created, err := h.accounts.Create(r.Context(), req.Email, model.AccountTier(req.Tier))
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("email", req.Email).Msg("account creation failed")
			err = apperrors.Internal("Failed to create account")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"account": created.Account,
		// Shown once; only the hash is stored.
		"apiToken": created.APIToken,
	})
}

// GET /v1/admin/accounts
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)
	accounts, total, err := h.accounts.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list accounts")
		writeError(w, apperrors.Database(err))
		return
	}

	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"total":    total,
	})
}

// GET /v1/admin/accounts/{id}
func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	account, err := h.accounts.FindByID(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("accountId", id).Msg("failed to load account")
		writeError(w, apperrors.Database(err))
		return
	}
	if account == nil {
		writeError(w, apperrors.NotFound("Account"))
		return
	}

	balances, err := h.credits.Balances(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("accountId", id).Msg("failed to read balances")
		writeError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":  account,
		"balances": balances,
	})
}

// DELETE /v1/admin/accounts/{id}
func (h *AdminHandler) DisableAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.accounts.Disable(r.Context(), id); err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("accountId", id).Msg("failed to disable account")
			err = apperrors.Internal("Failed to disable account")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"disabled": true})
}

// POST /v1/admin/accounts/{id}/token
func (h *AdminHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	token, err := h.accounts.RotateToken(r.Context(), id)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("accountId", id).Msg("failed to rotate token")
			err = apperrors.Internal("Failed to rotate token")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"apiToken": token})
}

type grantRequest struct {
	Kind          string     `json:"kind" validate:"required"`
	Amount        int64      `json:"amount" validate:"required,gt=0"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	CorrelationID *string    `json:"correlationId"`
}

// POST /v1/admin/accounts/{id}/grants
func (h *AdminHandler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperrors.ValidationError(err.Error()))
		return
	}

	account, err := h.accounts.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if account == nil {
		writeError(w, apperrors.NotFound("Account"))
		return
	}

	result, err := h.credits.Grant(r.Context(), service.GrantParams{
		AccountID:     id,
		Kind:          model.CreditKind(req.Kind),
		Amount:        req.Amount,
		ExpiresAt:     req.ExpiresAt,
		Reason:        model.ReasonPurchase,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("accountId", id).Msg("grant failed")
			err = apperrors.Internal("Failed to grant credits")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"newBalance": result.NewBalance,
		"entryId":    result.EntryID,
		"grantId":    result.GrantID,
		"replayed":   result.Replayed,
	})
}

type refundRequest struct {
	Kind          string `json:"kind" validate:"required"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	CorrelationID string `json:"correlationId" validate:"required"`
}

// POST /v1/admin/accounts/{id}/refunds
func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperrors.ValidationError(err.Error()))
		return
	}

	result, err := h.credits.Refund(r.Context(), id, model.CreditKind(req.Kind), req.Amount, req.CorrelationID)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("accountId", id).Msg("refund failed")
			err = apperrors.Internal("Failed to refund credits")
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

// GET /v1/admin/accounts/{id}/reconcile
// With ?strict=true any drift becomes a LEDGER_INCONSISTENCY error response
// instead of a 200 report, so monitoring can alert on the status code alone.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("strict") == "true" {
		if err := h.credits.VerifyLedger(r.Context(), id); err != nil {
			if !apperrors.IsAppError(err) {
				log.Error().Err(err).Str("accountId", id).Msg("reconcile failed")
				err = apperrors.Database(err)
			}
			writeError(w, err)
			return
		}
	}

	report, err := h.credits.Reconcile(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("accountId", id).Msg("reconcile failed")
		writeError(w, apperrors.Database(err))
		return
	}

	consistent := true
	for _, entry := range report {
		if !entry.Consistent {
			consistent = false
			break
		}
	}
	if report == nil {
		report = []service.KindReconciliation{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accountId":  id,
		"consistent": consistent,
		"kinds":      report,
	})
}
