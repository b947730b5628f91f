package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/prospectiq/credit-server-go/internal/model"
)

type BalanceRepository interface {
	Get(ctx context.Context, accountID string, kind model.CreditKind) (int64, error)
	GetAll(ctx context.Context, accountID string) ([]model.Balance, error)
	// Increment adds amount to the (account, kind) balance, creating the row
	// if absent, and returns the new balance.
	Increment(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, error)
	// Decrement subtracts amount only if the current balance covers it. The
	// condition and the write are one statement, so two concurrent calls can
	// never both succeed past the available balance. Returns the new balance
	// and false (no mutation) when the balance is too low.
	Decrement(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, bool, error)
	// DecrementClamped subtracts up to amount, stopping at zero, and returns
	// how much was actually removed along with the new balance. Used by the
	// expiration sweep, where the live balance may already be below the
	// grant's remaining counter.
	DecrementClamped(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (deducted, newBalance int64, err error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) BalanceRepository
}

type balanceRepo struct {
	db sqlxDB
}

func NewBalanceRepository(db *sqlx.DB) BalanceRepository {
	return &balanceRepo{db: db}
}

func (r *balanceRepo) WithTx(tx *sqlx.Tx) BalanceRepository {
	return &balanceRepo{db: tx}
}

func (r *balanceRepo) Get(ctx context.Context, accountID string, kind model.CreditKind) (int64, error) {
	var amount int64
	err := r.db.GetContext(ctx, &amount, `
		SELECT amount FROM balances WHERE account_id = $1 AND kind = $2
	`, accountID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (r *balanceRepo) GetAll(ctx context.Context, accountID string) ([]model.Balance, error) {
	var balances []model.Balance
	err := r.db.SelectContext(ctx, &balances, `
		SELECT * FROM balances
		WHERE account_id = $1
		ORDER BY kind
	`, accountID)
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *balanceRepo) Increment(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, error) {
	var newBalance int64
	err := r.db.GetContext(ctx, &newBalance, `
		INSERT INTO balances (account_id, kind, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, kind)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
		RETURNING amount
	`, accountID, kind, amount)
	return newBalance, err
}

func (r *balanceRepo) Decrement(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, bool, error) {
	var newBalance int64
	err := r.db.GetContext(ctx, &newBalance, `
		UPDATE balances
		SET amount = amount - $3, updated_at = now()
		WHERE account_id = $1 AND kind = $2 AND amount >= $3
		RETURNING amount
	`, accountID, kind, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newBalance, true, nil
}

func (r *balanceRepo) DecrementClamped(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, int64, error) {
	var result struct {
		Deducted   int64 `db:"deducted"`
		NewBalance int64 `db:"new_balance"`
	}
	err := r.db.GetContext(ctx, &result, `
		WITH cur AS (
			SELECT amount FROM balances
			WHERE account_id = $1 AND kind = $2
			FOR UPDATE
		)
		UPDATE balances b
		SET amount = b.amount - LEAST(b.amount, $3), updated_at = now()
		FROM cur
		WHERE b.account_id = $1 AND b.kind = $2
		RETURNING LEAST(cur.amount, $3) AS deducted, b.amount AS new_balance
	`, accountID, kind, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return result.Deducted, result.NewBalance, nil
}
