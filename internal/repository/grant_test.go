package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantMarkSwept(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("claims an unswept grant and returns its remaining credit", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE credit_grants g`).
			WithArgs("grant-1", now).
			WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow(40))

		repo := NewGrantRepository(db)
		remaining, ok, err := repo.MarkSwept(ctx, "grant-1", now)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(40), remaining)
	})

	t.Run("reports already-swept grants without error", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE credit_grants g`).
			WithArgs("grant-1", now).
			WillReturnRows(sqlmock.NewRows([]string{"remaining"}))

		repo := NewGrantRepository(db)
		_, ok, err := repo.MarkSwept(ctx, "grant-1", now)

		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestGrantReduceRemaining(t *testing.T) {
	ctx := context.Background()

	t.Run("reduces when the counter covers the amount", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE credit_grants`).
			WithArgs("grant-1", int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		repo := NewGrantRepository(db)
		assert.NoError(t, repo.ReduceRemaining(ctx, "grant-1", 3))
	})

	t.Run("errors when the conditional update matches nothing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE credit_grants`).
			WithArgs("grant-1", int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		repo := NewGrantRepository(db)
		assert.Error(t, repo.ReduceRemaining(ctx, "grant-1", 100))
	})
}

func TestGrantFindExpired(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	expiredAt := now.Add(-time.Hour)

	mock.ExpectQuery(`SELECT \* FROM credit_grants`).
		WithArgs(now, 500).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "account_id", "kind", "initial_amount", "remaining", "expires_at", "swept_at", "created_at"},
		).AddRow("grant-1", "acc-1", "lead-lookup", 50, 40, expiredAt, nil, now.Add(-48*time.Hour)))

	repo := NewGrantRepository(db)
	grants, err := repo.FindExpired(context.Background(), now, 500)

	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "grant-1", grants[0].ID)
	assert.Equal(t, int64(40), grants[0].Remaining)
}
