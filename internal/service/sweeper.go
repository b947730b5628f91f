package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/prospectiq/credit-server-go/internal/audit"
	"github.com/prospectiq/credit-server-go/internal/config"
	"github.com/prospectiq/credit-server-go/internal/database"
	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/repository"
)

type SweepResult struct {
	Processed    int   `json:"processed"`
	SweptCredits int64 `json:"sweptCredits"`
	Errors       int   `json:"errors"`
}

// SweeperService removes the unused remainder of expired credit grants. Each
// grant is processed in its own transaction with the same conditional-update
// discipline as consumption, so the sweep may run concurrently with live
// traffic and with overlapping scheduler triggers.
type SweeperService struct {
	db          *database.DB
	balanceRepo repository.BalanceRepository
	ledgerRepo  repository.LedgerRepository
	grantRepo   repository.GrantRepository
}

func NewSweeperService(
	db *database.DB,
	balanceRepo repository.BalanceRepository,
	ledgerRepo repository.LedgerRepository,
	grantRepo repository.GrantRepository,
) *SweeperService {
	return &SweeperService{
		db:          db,
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		grantRepo:   grantRepo,
	}
}

// SweepExpired processes every expired, unswept grant with credit remaining.
// One failing grant is logged and counted; the batch continues. Re-running is
// safe: a grant already claimed by a previous or concurrent run is skipped.
func (s *SweeperService) SweepExpired(ctx context.Context) (*SweepResult, error) {
	now := time.Now()
	grants, err := s.grantRepo.FindExpired(ctx, now, config.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("find expired grants: %w", err)
	}

	result := &SweepResult{}
	for _, grant := range grants {
		swept, err := s.sweepGrant(ctx, grant, now)
		if err != nil {
			result.Errors++
			log.Error().
				Err(err).
				Str("grantId", grant.ID).
				Str("accountId", grant.AccountID).
				Msg("failed to sweep grant")
			continue
		}
		result.Processed++
		result.SweptCredits += swept
	}

	if result.Processed > 0 || result.Errors > 0 {
		log.Info().
			Int("processed", result.Processed).
			Int64("sweptCredits", result.SweptCredits).
			Int("errors", result.Errors).
			Msg("expiration sweep finished")
	}
	return result, nil
}

// SweepGrant sweeps one grant by id, for operator-triggered cleanup of a
// single account without waiting for the batch. The grant must exist and be
// past its expiry; an already-swept grant is a no-op.
func (s *SweeperService) SweepGrant(ctx context.Context, grantID string) (*SweepResult, error) {
	grant, err := s.grantRepo.FindByID(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("find grant: %w", err)
	}
	if grant == nil {
		return nil, apperrors.NotFound("grant")
	}

	now := time.Now()
	if grant.ExpiresAt == nil || grant.ExpiresAt.After(now) {
		return nil, apperrors.InvalidInput("grantId", "grant has not expired")
	}

	swept, err := s.sweepGrant(ctx, *grant, now)
	if err != nil {
		return nil, err
	}
	return &SweepResult{Processed: 1, SweptCredits: swept}, nil
}

func (s *SweeperService) sweepGrant(ctx context.Context, grant model.CreditGrant, now time.Time) (int64, error) {
	var swept int64
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		grants := s.grantRepo.WithTx(tx)
		balances := s.balanceRepo.WithTx(tx)
		ledger := s.ledgerRepo.WithTx(tx)

		remaining, ok, err := grants.MarkSwept(ctx, grant.ID, now)
		if err != nil {
			return fmt.Errorf("mark swept: %w", err)
		}
		if !ok {
			// Claimed by a concurrent run or already swept.
			return nil
		}

		// Consumption may have drawn the live balance below this grant's
		// remaining counter; never sweep more than is actually there.
		deducted, newBalance, err := balances.DecrementClamped(ctx, grant.AccountID, grant.Kind, remaining)
		if err != nil {
			return fmt.Errorf("decrement balance: %w", err)
		}
		if deducted == 0 {
			return nil
		}

		grantID := grant.ID
		if _, err := ledger.Append(ctx, model.AppendEntryParams{
			AccountID:     grant.AccountID,
			Kind:          grant.Kind,
			Amount:        -deducted,
			BalanceAfter:  newBalance,
			Reason:        model.ReasonExpiration,
			CorrelationID: &grantID,
		}); err != nil {
			return fmt.Errorf("append entry: %w", err)
		}

		swept = deducted
		audit.Log(audit.Event{
			Type:          audit.EventCreditExpire,
			AccountID:     grant.AccountID,
			Kind:          string(grant.Kind),
			Amount:        -deducted,
			BalanceAfter:  newBalance,
			CorrelationID: grant.ID,
		})
		return nil
	})
	return swept, err
}
