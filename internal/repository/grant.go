package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/prospectiq/credit-server-go/internal/model"
)

type GrantRepository interface {
	Create(ctx context.Context, params model.CreateGrantParams) (*model.CreditGrant, error)
	FindByID(ctx context.Context, id string) (*model.CreditGrant, error)
	// FindActiveForUpdate returns non-expired, unswept grants with credit
	// remaining, oldest expiry first, row-locked for the enclosing
	// transaction. Consumption draws these down FIFO.
	FindActiveForUpdate(ctx context.Context, accountID string, kind model.CreditKind, now time.Time) ([]model.CreditGrant, error)
	ReduceRemaining(ctx context.Context, id string, by int64) error
	// FindExpired lists sweep candidates: expired, unswept, credit remaining.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]model.CreditGrant, error)
	// MarkSwept claims a grant for sweeping. The conditional update makes the
	// sweep idempotent: a grant already swept by a concurrent or earlier run
	// returns ok=false and must be skipped.
	MarkSwept(ctx context.Context, id string, now time.Time) (remaining int64, ok bool, err error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) GrantRepository
}

type grantRepo struct {
	db sqlxDB
}

func NewGrantRepository(db *sqlx.DB) GrantRepository {
	return &grantRepo{db: db}
}

func (r *grantRepo) WithTx(tx *sqlx.Tx) GrantRepository {
	return &grantRepo{db: tx}
}

func (r *grantRepo) Create(ctx context.Context, params model.CreateGrantParams) (*model.CreditGrant, error) {
	var grant model.CreditGrant
	err := r.db.GetContext(ctx, &grant, `
		INSERT INTO credit_grants (account_id, kind, initial_amount, remaining, expires_at)
		VALUES ($1, $2, $3, $3, $4)
		RETURNING *
	`, params.AccountID, params.Kind, params.Amount, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *grantRepo) FindByID(ctx context.Context, id string) (*model.CreditGrant, error) {
	var grant model.CreditGrant
	err := r.db.GetContext(ctx, &grant, `
		SELECT * FROM credit_grants WHERE id = $1
	`, id)
	return HandleNotFound(&grant, err)
}

func (r *grantRepo) FindActiveForUpdate(ctx context.Context, accountID string, kind model.CreditKind, now time.Time) ([]model.CreditGrant, error) {
	var grants []model.CreditGrant
	err := r.db.SelectContext(ctx, &grants, `
		SELECT * FROM credit_grants
		WHERE account_id = $1 AND kind = $2
		  AND swept_at IS NULL AND remaining > 0
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY expires_at ASC NULLS LAST, created_at ASC
		FOR UPDATE
	`, accountID, kind, now)
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *grantRepo) ReduceRemaining(ctx context.Context, id string, by int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE credit_grants
		SET remaining = remaining - $2
		WHERE id = $1 AND remaining >= $2
	`, id, by)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.New("grant remaining below requested reduction")
	}
	return nil
}

func (r *grantRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.CreditGrant, error) {
	var grants []model.CreditGrant
	err := r.db.SelectContext(ctx, &grants, `
		SELECT * FROM credit_grants
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		  AND swept_at IS NULL AND remaining > 0
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *grantRepo) MarkSwept(ctx context.Context, id string, now time.Time) (int64, bool, error) {
	var remaining int64
	err := r.db.GetContext(ctx, &remaining, `
		WITH cur AS (
			SELECT remaining FROM credit_grants
			WHERE id = $1 AND swept_at IS NULL AND remaining > 0
			FOR UPDATE
		)
		UPDATE credit_grants g
		SET swept_at = $2, remaining = 0
		FROM cur
		WHERE g.id = $1
		RETURNING cur.remaining
	`, id, now)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return remaining, true, nil
}
