package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/service"
)

// JobsHandler is the scheduler entry point. An external cron may trigger the
// sweep on top of the built-in ticker; both paths are safe to overlap.
type JobsHandler struct {
	sweeper *service.SweeperService
}

func NewJobsHandler(sweeper *service.SweeperService) *JobsHandler {
	return &JobsHandler{sweeper: sweeper}
}

func (h *JobsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sweep-expired", h.SweepExpired)

	return r
}

type sweepRequest struct {
	GrantID string `json:"grantId"`
}

// POST /v1/jobs/sweep-expired
// An empty body sweeps the whole expired batch; a grantId in the body sweeps
// just that grant.
func (h *JobsHandler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.ValidationError("Invalid request body"))
			return
		}
	}

	var (
		result *service.SweepResult
		err    error
	)
	if req.GrantID != "" {
		result, err = h.sweeper.SweepGrant(r.Context(), req.GrantID)
	} else {
		result, err = h.sweeper.SweepExpired(r.Context())
	}
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Msg("expiration sweep failed")
			err = apperrors.Internal("Sweep failed")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
