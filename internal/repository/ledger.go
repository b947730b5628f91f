package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/prospectiq/credit-server-go/internal/model"
)

type LedgerRepository interface {
	// Append is the single write primitive. Entries are never updated or
	// deleted afterwards.
	Append(ctx context.Context, params model.AppendEntryParams) (*model.LedgerEntry, error)
	FindByCorrelation(ctx context.Context, accountID string, kind model.CreditKind, correlationID string, reason model.LedgerReason) (*model.LedgerEntry, error)
	FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error)
	CountByAccount(ctx context.Context, accountID string) (int, error)
	// SumAmounts is the cold-path correctness reference: the balances
	// projection must always equal this sum.
	SumAmounts(ctx context.Context, accountID string, kind model.CreditKind) (int64, error)
	// SumByCorrelation returns the signed total of entries for one
	// correlation id and reason, used to cap refunds.
	SumByCorrelation(ctx context.Context, accountID string, kind model.CreditKind, correlationID string, reason model.LedgerReason) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) LedgerRepository
}

type ledgerRepo struct {
	db sqlxDB
}

func NewLedgerRepository(db *sqlx.DB) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) WithTx(tx *sqlx.Tx) LedgerRepository {
	return &ledgerRepo{db: tx}
}

func (r *ledgerRepo) Append(ctx context.Context, params model.AppendEntryParams) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.GetContext(ctx, &entry, `
		INSERT INTO ledger_entries (account_id, kind, amount, balance_after, reason, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.AccountID, params.Kind, params.Amount, params.BalanceAfter, params.Reason, params.CorrelationID)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepo) FindByCorrelation(ctx context.Context, accountID string, kind model.CreditKind, correlationID string, reason model.LedgerReason) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.GetContext(ctx, &entry, `
		SELECT * FROM ledger_entries
		WHERE account_id = $1 AND kind = $2 AND correlation_id = $3 AND reason = $4
	`, accountID, kind, correlationID, reason)
	return HandleNotFound(&entry, err)
}

func (r *ledgerRepo) FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *ledgerRepo) CountByAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1
	`, accountID)
	return count, err
}

func (r *ledgerRepo) SumAmounts(ctx context.Context, accountID string, kind model.CreditKind) (int64, error) {
	var sum int64
	err := r.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE account_id = $1 AND kind = $2
	`, accountID, kind)
	return sum, err
}

func (r *ledgerRepo) SumByCorrelation(ctx context.Context, accountID string, kind model.CreditKind, correlationID string, reason model.LedgerReason) (int64, error) {
	var sum int64
	err := r.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE account_id = $1 AND kind = $2 AND correlation_id = $3 AND reason = $4
	`, accountID, kind, correlationID, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return sum, err
}
