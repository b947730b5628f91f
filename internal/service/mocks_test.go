package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/prospectiq/credit-server-go/internal/database"
	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/repository"
)

// newTestDB returns a database handle backed by sqlmock. Repository behavior
// is stubbed at the interface level; the mock only has to satisfy the
// transaction begin/commit/rollback sequence.
func newTestDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &database.DB{DB: sqlx.NewDb(db, "sqlmock")}, mock
}

type mockBalanceRepo struct {
	getFunc              func(ctx context.Context, accountID string, kind model.CreditKind) (int64, error)
	getAllFunc           func(ctx context.Context, accountID string) ([]model.Balance, error)
	incrementFunc        func(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, error)
	decrementFunc        func(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, bool, error)
	decrementClampedFunc func(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, int64, error)
}

func (m *mockBalanceRepo) Get(ctx context.Context, accountID string, kind model.CreditKind) (int64, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, accountID, kind)
	}
	return 0, nil
}

func (m *mockBalanceRepo) GetAll(ctx context.Context, accountID string) ([]model.Balance, error) {
	if m.getAllFunc != nil {
		return m.getAllFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *mockBalanceRepo) Increment(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, error) {
	if m.incrementFunc != nil {
		return m.incrementFunc(ctx, accountID, kind, amount)
	}
	return amount, nil
}

func (m *mockBalanceRepo) Decrement(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, bool, error) {
	if m.decrementFunc != nil {
		return m.decrementFunc(ctx, accountID, kind, amount)
	}
	return 0, false, nil
}

func (m *mockBalanceRepo) DecrementClamped(ctx context.Context, accountID string, kind model.CreditKind, amount int64) (int64, int64, error) {
	if m.decrementClampedFunc != nil {
		return m.decrementClampedFunc(ctx, accountID, kind, amount)
	}
	return 0, 0, nil
}

func (m *mockBalanceRepo) WithTx(tx *sqlx.Tx) repository.BalanceRepository {
	return m
}

type mockLedgerRepo struct {
	appendFunc            func(ctx context.Context, params model.AppendEntryParams) (*model.LedgerEntry, error)
	findByCorrelationFunc func(ctx context.Context, accountID string, kind model.CreditKind, correlationID string, reason model.LedgerReason) (*model.LedgerEntry, error)
	findByAccountFunc     func(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error)
	countByAccountFunc    func(ctx context.Context, accountID string) (int, error)
	sumAmountsFunc        func(ctx context.Context, accountID string, kind model.CreditKind) (int64, error)
	sumByCorrelationFunc  func(ctx context.Context, accountID string, kind model.CreditKind, correlationID string, reason model.LedgerReason) (int64, error)
}

func (m *mockLedgerRepo) Append(ctx context.Context, params model.AppendEntryParams) (*model.LedgerEntry, error) {
	if m.appendFunc != nil {
		return m.appendFunc(ctx, params)
	}
	return &model.LedgerEntry{
		ID:            "entry-1",
		AccountID:     params.AccountID,
		Kind:          params.Kind,
		Amount:        params.Amount,
		BalanceAfter:  params.BalanceAfter,
		Reason:        params.Reason,
		CorrelationID: params.CorrelationID,
	}, nil
}

func (m *mockLedgerRepo) FindByCorrelation(ctx context.Context, accountID string, kind model.CreditKind, correlationID string, reason model.LedgerReason) (*model.LedgerEntry, error) {
	if m.findByCorrelationFunc != nil {
		return m.findByCorrelationFunc(ctx, accountID, kind, correlationID, reason)
	}
	return nil, nil
}

func (m *mockLedgerRepo) FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	if m.findByAccountFunc != nil {
		return m.findByAccountFunc(ctx, accountID, limit, offset)
	}
	return nil, nil
}

func (m *mockLedgerRepo) CountByAccount(ctx context.Context, accountID string) (int, error) {
	if m.countByAccountFunc != nil {
		return m.countByAccountFunc(ctx, accountID)
	}
	return 0, nil
}

func (m *mockLedgerRepo) SumAmounts(ctx context.Context, accountID string, kind model.CreditKind) (int64, error) {
	if m.sumAmountsFunc != nil {
		return m.sumAmountsFunc(ctx, accountID, kind)
	}
	return 0, nil
}

func (m *mockLedgerRepo) SumByCorrelation(ctx context.Context, accountID string, kind model.CreditKind, correlationID string, reason model.LedgerReason) (int64, error) {
	if m.sumByCorrelationFunc != nil {
		return m.sumByCorrelationFunc(ctx, accountID, kind, correlationID, reason)
	}
	return 0, nil
}

func (m *mockLedgerRepo) WithTx(tx *sqlx.Tx) repository.LedgerRepository {
	return m
}

type mockGrantRepo struct {
	createFunc              func(ctx context.Context, params model.CreateGrantParams) (*model.CreditGrant, error)
	findByIDFunc            func(ctx context.Context, id string) (*model.CreditGrant, error)
	findActiveForUpdateFunc func(ctx context.Context, accountID string, kind model.CreditKind, now time.Time) ([]model.CreditGrant, error)
	reduceRemainingFunc     func(ctx context.Context, id string, by int64) error
	findExpiredFunc         func(ctx context.Context, now time.Time, limit int) ([]model.CreditGrant, error)
	markSweptFunc           func(ctx context.Context, id string, now time.Time) (int64, bool, error)
}

func (m *mockGrantRepo) Create(ctx context.Context, params model.CreateGrantParams) (*model.CreditGrant, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, params)
	}
	return &model.CreditGrant{
		ID:            "grant-1",
		AccountID:     params.AccountID,
		Kind:          params.Kind,
		InitialAmount: params.Amount,
		Remaining:     params.Amount,
		ExpiresAt:     params.ExpiresAt,
	}, nil
}

func (m *mockGrantRepo) FindByID(ctx context.Context, id string) (*model.CreditGrant, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockGrantRepo) FindActiveForUpdate(ctx context.Context, accountID string, kind model.CreditKind, now time.Time) ([]model.CreditGrant, error) {
	if m.findActiveForUpdateFunc != nil {
		return m.findActiveForUpdateFunc(ctx, accountID, kind, now)
	}
	return nil, nil
}

func (m *mockGrantRepo) ReduceRemaining(ctx context.Context, id string, by int64) error {
	if m.reduceRemainingFunc != nil {
		return m.reduceRemainingFunc(ctx, id, by)
	}
	return nil
}

func (m *mockGrantRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.CreditGrant, error) {
	if m.findExpiredFunc != nil {
		return m.findExpiredFunc(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockGrantRepo) MarkSwept(ctx context.Context, id string, now time.Time) (int64, bool, error) {
	if m.markSweptFunc != nil {
		return m.markSweptFunc(ctx, id, now)
	}
	return 0, false, nil
}

func (m *mockGrantRepo) WithTx(tx *sqlx.Tx) repository.GrantRepository {
	return m
}
