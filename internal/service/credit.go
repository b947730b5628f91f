package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/prospectiq/credit-server-go/internal/audit"
	"github.com/prospectiq/credit-server-go/internal/database"
	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/repository"
)

// errCorrelationRace signals that a concurrent request with the same
// correlation id won the idempotency index. The losing transaction rolls back
// and replays the winner's entry.
var errCorrelationRace = errors.New("correlation id raced a concurrent operation")

type ConsumeResult struct {
	NewBalance int64
	EntryID    string
	Replayed   bool
}

type GrantResult struct {
	NewBalance int64
	EntryID    string
	GrantID    *string
	Replayed   bool
}

type GrantParams struct {
	AccountID     string
	Kind          model.CreditKind
	Amount        int64
	ExpiresAt     *time.Time
	Reason        model.LedgerReason
	CorrelationID *string
}

// CreditService owns all balance mutations. Balances are only ever changed
// through ledger operations; the append-only ledger is the source of truth
// and the balances table is its maintained projection.
type CreditService struct {
	db          *database.DB
	balanceRepo repository.BalanceRepository
	ledgerRepo  repository.LedgerRepository
	grantRepo   repository.GrantRepository
}

func NewCreditService(
	db *database.DB,
	balanceRepo repository.BalanceRepository,
	ledgerRepo repository.LedgerRepository,
	grantRepo repository.GrantRepository,
) *CreditService {
	return &CreditService{
		db:          db,
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		grantRepo:   grantRepo,
	}
}

// GetBalance returns the current balance for one kind; zero when the account
// or kind has no row. Read-only, safe for display and affordability checks.
func (s *CreditService) GetBalance(ctx context.Context, accountID string, kind model.CreditKind) (int64, error) {
	return s.balanceRepo.Get(ctx, accountID, kind)
}

// Balances returns every non-zero balance for the account as a kind→amount map.
func (s *CreditService) Balances(ctx context.Context, accountID string) (map[model.CreditKind]int64, error) {
	rows, err := s.balanceRepo.GetAll(ctx, accountID)
	if err != nil {
		return nil, err
	}
	balances := make(map[model.CreditKind]int64, len(rows))
	for _, b := range rows {
		balances[b.Kind] = b.Amount
	}
	return balances, nil
}

// ReserveAndConsume atomically deducts amount from the (account, kind)
// balance and appends a consumption entry. The balance check and the
// decrement are a single conditional UPDATE, so two concurrent calls can
// never jointly overdraw. A repeated call with the same correlation id
// replays the original result without deducting again.
func (s *CreditService) ReserveAndConsume(ctx context.Context, accountID string, kind model.CreditKind, amount int64, correlationID string) (*ConsumeResult, error) {
	if !kind.Valid() {
		return nil, apperrors.InvalidInput("kind", string(kind))
	}
	if amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}
	if correlationID == "" {
		return nil, apperrors.MissingRequired("correlationId")
	}

	var result ConsumeResult
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		ledger := s.ledgerRepo.WithTx(tx)
		balances := s.balanceRepo.WithTx(tx)

		existing, err := ledger.FindByCorrelation(ctx, accountID, kind, correlationID, model.ReasonConsumption)
		if err != nil {
			return fmt.Errorf("idempotency lookup: %w", err)
		}
		if existing != nil {
			result = ConsumeResult{NewBalance: existing.BalanceAfter, EntryID: existing.ID, Replayed: true}
			return nil
		}

		newBalance, ok, err := balances.Decrement(ctx, accountID, kind, amount)
		if err != nil {
			return fmt.Errorf("decrement balance: %w", err)
		}
		if !ok {
			current, err := balances.Get(ctx, accountID, kind)
			if err != nil {
				return fmt.Errorf("read balance: %w", err)
			}
			return apperrors.InsufficientCredits(string(kind), amount, current)
		}

		entry, err := ledger.Append(ctx, model.AppendEntryParams{
			AccountID:     accountID,
			Kind:          kind,
			Amount:        -amount,
			BalanceAfter:  newBalance,
			Reason:        model.ReasonConsumption,
			CorrelationID: &correlationID,
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return errCorrelationRace
			}
			return fmt.Errorf("append entry: %w", err)
		}

		if err := s.drawDownGrants(ctx, tx, accountID, kind, amount); err != nil {
			return fmt.Errorf("draw down grants: %w", err)
		}

		result = ConsumeResult{NewBalance: newBalance, EntryID: entry.ID}
		return nil
	})
	if errors.Is(err, errCorrelationRace) {
		return s.replayConsume(ctx, accountID, kind, correlationID)
	}
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		audit.Log(audit.Event{
			Type:          audit.EventCreditConsume,
			AccountID:     accountID,
			Kind:          string(kind),
			Amount:        -amount,
			BalanceAfter:  result.NewBalance,
			CorrelationID: correlationID,
		})
	}
	return &result, nil
}

// replayConsume re-reads the entry written by whichever request won the
// idempotency race.
func (s *CreditService) replayConsume(ctx context.Context, accountID string, kind model.CreditKind, correlationID string) (*ConsumeResult, error) {
	entry, err := s.ledgerRepo.FindByCorrelation(ctx, accountID, kind, correlationID, model.ReasonConsumption)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperrors.Internal("concurrent operation left no ledger entry")
	}
	return &ConsumeResult{NewBalance: entry.BalanceAfter, EntryID: entry.ID, Replayed: true}, nil
}

// Grant increases the balance, appends a purchase or refund entry, and
// records a CreditGrant when the credits expire. Idempotent when a
// correlation id is supplied.
func (s *CreditService) Grant(ctx context.Context, params GrantParams) (*GrantResult, error) {
	if !params.Kind.Valid() {
		return nil, apperrors.InvalidInput("kind", string(params.Kind))
	}
	if params.Amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}
	if params.Reason != model.ReasonPurchase && params.Reason != model.ReasonRefund {
		return nil, apperrors.InvalidInput("reason", string(params.Reason))
	}
	if params.ExpiresAt != nil && !params.ExpiresAt.After(time.Now()) {
		return nil, apperrors.InvalidInput("expiresAt", "must be in the future")
	}

	var result GrantResult
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		ledger := s.ledgerRepo.WithTx(tx)
		balances := s.balanceRepo.WithTx(tx)
		grants := s.grantRepo.WithTx(tx)

		if params.CorrelationID != nil {
			existing, err := ledger.FindByCorrelation(ctx, params.AccountID, params.Kind, *params.CorrelationID, params.Reason)
			if err != nil {
				return fmt.Errorf("idempotency lookup: %w", err)
			}
			if existing != nil {
				result = GrantResult{NewBalance: existing.BalanceAfter, EntryID: existing.ID, Replayed: true}
				return nil
			}
		}

		newBalance, err := balances.Increment(ctx, params.AccountID, params.Kind, params.Amount)
		if err != nil {
			return fmt.Errorf("increment balance: %w", err)
		}

		entry, err := ledger.Append(ctx, model.AppendEntryParams{
			AccountID:     params.AccountID,
			Kind:          params.Kind,
			Amount:        params.Amount,
			BalanceAfter:  newBalance,
			Reason:        params.Reason,
			CorrelationID: params.CorrelationID,
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return errCorrelationRace
			}
			return fmt.Errorf("append entry: %w", err)
		}

		result = GrantResult{NewBalance: newBalance, EntryID: entry.ID}

		if params.ExpiresAt != nil {
			grant, err := grants.Create(ctx, model.CreateGrantParams{
				AccountID: params.AccountID,
				Kind:      params.Kind,
				Amount:    params.Amount,
				ExpiresAt: params.ExpiresAt,
			})
			if err != nil {
				return fmt.Errorf("create grant: %w", err)
			}
			result.GrantID = &grant.ID
		}
		return nil
	})
	if errors.Is(err, errCorrelationRace) {
		return s.replayGrant(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		eventType := audit.EventCreditGrant
		if params.Reason == model.ReasonRefund {
			eventType = audit.EventCreditRefund
		}
		corrID := ""
		if params.CorrelationID != nil {
			corrID = *params.CorrelationID
		}
		audit.Log(audit.Event{
			Type:          eventType,
			AccountID:     params.AccountID,
			Kind:          string(params.Kind),
			Amount:        params.Amount,
			BalanceAfter:  result.NewBalance,
			CorrelationID: corrID,
		})
	}
	return &result, nil
}

func (s *CreditService) replayGrant(ctx context.Context, params GrantParams) (*GrantResult, error) {
	entry, err := s.ledgerRepo.FindByCorrelation(ctx, params.AccountID, params.Kind, *params.CorrelationID, params.Reason)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperrors.Internal("concurrent operation left no ledger entry")
	}
	return &GrantResult{NewBalance: entry.BalanceAfter, EntryID: entry.ID, Replayed: true}, nil
}

// Refund reverses a prior consumption identified by its correlation id. The
// refunded amount is capped at what was actually consumed under that id, so a
// retried or inflated refund can never mint credit.
func (s *CreditService) Refund(ctx context.Context, accountID string, kind model.CreditKind, amount int64, correlationID string) (*GrantResult, error) {
	if correlationID == "" {
		return nil, apperrors.MissingRequired("correlationId")
	}
	if amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}

	consumedSum, err := s.ledgerRepo.SumByCorrelation(ctx, accountID, kind, correlationID, model.ReasonConsumption)
	if err != nil {
		return nil, fmt.Errorf("sum consumption: %w", err)
	}
	consumed := -consumedSum
	if consumed <= 0 {
		return nil, apperrors.NothingToRefund(correlationID)
	}
	if amount > consumed {
		log.Warn().
			Str("accountId", accountID).
			Str("correlationId", correlationID).
			Int64("requested", amount).
			Int64("consumed", consumed).
			Msg("refund capped at consumed amount")
		amount = consumed
	}

	return s.Grant(ctx, GrantParams{
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		Reason:        model.ReasonRefund,
		CorrelationID: &correlationID,
	})
}

// History returns ledger entries for the account, newest first, plus the
// total count for pagination.
func (s *CreditService) History(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, int, error) {
	entries, err := s.ledgerRepo.FindByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ledgerRepo.CountByAccount(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

type KindReconciliation struct {
	Kind       model.CreditKind `json:"kind"`
	Projected  int64            `json:"projected"`
	EntrySum   int64            `json:"entrySum"`
	Consistent bool             `json:"consistent"`
}

// Reconcile compares the balance projection against the entry sum for every
// credit kind. A mismatch is reported and audit-logged, never corrected: the
// projection may only change through an explicit, audited ledger operation.
func (s *CreditService) Reconcile(ctx context.Context, accountID string) ([]KindReconciliation, error) {
	var report []KindReconciliation
	for _, kind := range model.AllKinds() {
		projected, err := s.balanceRepo.Get(ctx, accountID, kind)
		if err != nil {
			return nil, fmt.Errorf("read projection for %s: %w", kind, err)
		}
		entrySum, err := s.ledgerRepo.SumAmounts(ctx, accountID, kind)
		if err != nil {
			return nil, fmt.Errorf("sum entries for %s: %w", kind, err)
		}
		if projected == 0 && entrySum == 0 {
			continue
		}
		consistent := projected == entrySum
		if !consistent {
			audit.Log(audit.Event{
				Type:      audit.EventLedgerInconsistent,
				AccountID: accountID,
				Kind:      string(kind),
				Details: map[string]interface{}{
					"projected": projected,
					"entrySum":  entrySum,
				},
			})
			log.Error().
				Str("accountId", accountID).
				Str("kind", string(kind)).
				Int64("projected", projected).
				Int64("entrySum", entrySum).
				Msg("ledger inconsistency detected")
		}
		report = append(report, KindReconciliation{
			Kind:       kind,
			Projected:  projected,
			EntrySum:   entrySum,
			Consistent: consistent,
		})
	}
	return report, nil
}

// VerifyLedger is the hard-failure variant of Reconcile: the first kind whose
// projection disagrees with its entry sum becomes a LEDGER_INCONSISTENCY
// error. Used by monitoring probes that want a non-200 on drift.
func (s *CreditService) VerifyLedger(ctx context.Context, accountID string) error {
	report, err := s.Reconcile(ctx, accountID)
	if err != nil {
		return err
	}
	for _, k := range report {
		if !k.Consistent {
			return apperrors.LedgerInconsistency(accountID, string(k.Kind), k.Projected, k.EntrySum)
		}
	}
	return nil
}

// drawDownGrants reduces active grant counters FIFO by expiry after a
// consumption. Any remainder beyond tracked grants came from non-expiring
// credit and needs no bookkeeping.
func (s *CreditService) drawDownGrants(ctx context.Context, tx *sqlx.Tx, accountID string, kind model.CreditKind, amount int64) error {
	grants := s.grantRepo.WithTx(tx)
	active, err := grants.FindActiveForUpdate(ctx, accountID, kind, time.Now())
	if err != nil {
		return err
	}

	left := amount
	for _, g := range active {
		if left <= 0 {
			break
		}
		take := g.Remaining
		if take > left {
			take = left
		}
		if err := grants.ReduceRemaining(ctx, g.ID, take); err != nil {
			return err
		}
		left -= take
	}
	return nil
}
