package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/provider"
)

type stubLimiter struct {
	decision Decision
}

func (s *stubLimiter) Admit(context.Context, string, string) Decision {
	return s.decision
}

func allowAll() *stubLimiter {
	return &stubLimiter{decision: Decision{Allowed: true, Limit: 10, Remaining: 9}}
}

type stubProvider struct {
	name   string
	result *provider.Result
	err    error
	calls  int
}

func (s *stubProvider) Name() string {
	return s.name
}

func (s *stubProvider) Call(context.Context, json.RawMessage) (*provider.Result, error) {
	s.calls++
	return s.result, s.err
}

func testRegistry(p provider.Provider, kind model.CreditKind, cost int64) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("email-finder", provider.Entry{Provider: p, Kind: kind, Cost: cost})
	return registry
}

func TestGatewayCall(t *testing.T) {
	ctx := context.Background()
	params := json.RawMessage(`{"domain":"example.com"}`)

	t.Run("bills exactly once on confirmed success", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		var appended *model.AppendEntryParams
		balances := &mockBalanceRepo{
			getFunc: func(context.Context, string, model.CreditKind) (int64, error) {
				return 10, nil
			},
			decrementFunc: func(context.Context, string, model.CreditKind, int64) (int64, bool, error) {
				return 9, true, nil
			},
		}
		ledger := &mockLedgerRepo{
			appendFunc: func(_ context.Context, p model.AppendEntryParams) (*model.LedgerEntry, error) {
				appended = &p
				return &model.LedgerEntry{ID: "entry-1", BalanceAfter: p.BalanceAfter}, nil
			},
		}
		credits := NewCreditService(db, balances, ledger, &mockGrantRepo{})

		p := &stubProvider{name: "email-finder", result: &provider.Result{
			Provider: "email-finder",
			Body:     json.RawMessage(`{"email":"a@example.com"}`),
			Elapsed:  50 * time.Millisecond,
		}}
		gateway := NewGateway(allowAll(), credits, testRegistry(p, model.KindLeadLookup, 1))

		resp, err := gateway.Call(ctx, "acc-1", "email-finder", params, "corr-1")

		require.NoError(t, err)
		assert.Equal(t, "email-finder", resp.Service)
		assert.Equal(t, model.KindLeadLookup, resp.Kind)
		assert.Equal(t, int64(1), resp.Cost)
		assert.Equal(t, int64(9), resp.NewBalance)
		assert.Equal(t, "corr-1", resp.CorrelationID)
		assert.JSONEq(t, `{"email":"a@example.com"}`, string(resp.Result))

		assert.Equal(t, 1, p.calls)
		require.NotNil(t, appended)
		assert.Equal(t, int64(-1), appended.Amount)
	})

	t.Run("generates a correlation id when none is supplied", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		balances := &mockBalanceRepo{
			getFunc: func(context.Context, string, model.CreditKind) (int64, error) { return 10, nil },
			decrementFunc: func(context.Context, string, model.CreditKind, int64) (int64, bool, error) {
				return 9, true, nil
			},
		}
		credits := NewCreditService(db, balances, &mockLedgerRepo{}, &mockGrantRepo{})

		p := &stubProvider{name: "email-finder", result: &provider.Result{Provider: "email-finder", Body: json.RawMessage(`{}`)}}
		gateway := NewGateway(allowAll(), credits, testRegistry(p, model.KindLeadLookup, 1))

		resp, err := gateway.Call(ctx, "acc-1", "email-finder", params, "")

		require.NoError(t, err)
		assert.NotEmpty(t, resp.CorrelationID)
	})

	t.Run("rejects unknown services before anything else", func(t *testing.T) {
		db, _ := newTestDB(t)
		credits := NewCreditService(db, &mockBalanceRepo{}, &mockLedgerRepo{}, &mockGrantRepo{})
		gateway := NewGateway(allowAll(), credits, provider.NewRegistry())

		_, err := gateway.Call(ctx, "acc-1", "no-such-service", params, "")

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnknownService))
	})

	t.Run("rate limited calls are never billed", func(t *testing.T) {
		db, _ := newTestDB(t)
		credits := NewCreditService(db, &mockBalanceRepo{}, &mockLedgerRepo{}, &mockGrantRepo{})

		p := &stubProvider{name: "email-finder", result: &provider.Result{Provider: "email-finder"}}
		limiter := &stubLimiter{decision: Decision{Allowed: false, RetryAfter: 30 * time.Second}}
		gateway := NewGateway(limiter, credits, testRegistry(p, model.KindLeadLookup, 1))

		_, err := gateway.Call(ctx, "acc-1", "email-finder", params, "")

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimited))
		assert.Equal(t, 0, p.calls)
	})

	t.Run("rejects before dispatch when the balance cannot cover the cost", func(t *testing.T) {
		db, _ := newTestDB(t)
		balances := &mockBalanceRepo{
			getFunc: func(context.Context, string, model.CreditKind) (int64, error) { return 2, nil },
		}
		credits := NewCreditService(db, balances, &mockLedgerRepo{}, &mockGrantRepo{})

		p := &stubProvider{name: "email-finder", result: &provider.Result{Provider: "email-finder"}}
		gateway := NewGateway(allowAll(), credits, testRegistry(p, model.KindLeadLookup, 5))

		_, err := gateway.Call(ctx, "acc-1", "email-finder", params, "")

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInsufficientCredits))
		assert.Equal(t, 0, p.calls)
	})

	t.Run("provider failure is not billed", func(t *testing.T) {
		db, _ := newTestDB(t)
		appendCalled := false
		balances := &mockBalanceRepo{
			getFunc: func(context.Context, string, model.CreditKind) (int64, error) { return 10, nil },
		}
		ledger := &mockLedgerRepo{
			appendFunc: func(context.Context, model.AppendEntryParams) (*model.LedgerEntry, error) {
				appendCalled = true
				return nil, nil
			},
		}
		credits := NewCreditService(db, balances, ledger, &mockGrantRepo{})

		p := &stubProvider{name: "email-finder", err: errors.New("upstream 500")}
		gateway := NewGateway(allowAll(), credits, testRegistry(p, model.KindLeadLookup, 1))

		_, err := gateway.Call(ctx, "acc-1", "email-finder", params, "")

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderError))
		assert.False(t, appendCalled)
	})

	t.Run("provider timeout maps to its own code and is not billed", func(t *testing.T) {
		db, _ := newTestDB(t)
		balances := &mockBalanceRepo{
			getFunc: func(context.Context, string, model.CreditKind) (int64, error) { return 10, nil },
		}
		credits := NewCreditService(db, balances, &mockLedgerRepo{}, &mockGrantRepo{})

		p := &stubProvider{name: "email-finder", err: provider.ErrTimeout}
		gateway := NewGateway(allowAll(), credits, testRegistry(p, model.KindLeadLookup, 1))

		_, err := gateway.Call(ctx, "acc-1", "email-finder", params, "")

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderTimeout))
	})

	t.Run("result is discarded when consumption fails after dispatch", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		balances := &mockBalanceRepo{
			getFunc: func(context.Context, string, model.CreditKind) (int64, error) { return 10, nil },
			decrementFunc: func(context.Context, string, model.CreditKind, int64) (int64, bool, error) {
				// A concurrent spender emptied the balance mid-flight.
				return 0, false, nil
			},
		}
		credits := NewCreditService(db, balances, &mockLedgerRepo{}, &mockGrantRepo{})

		p := &stubProvider{name: "email-finder", result: &provider.Result{Provider: "email-finder", Body: json.RawMessage(`{}`)}}
		gateway := NewGateway(allowAll(), credits, testRegistry(p, model.KindLeadLookup, 1))

		resp, err := gateway.Call(ctx, "acc-1", "email-finder", params, "corr-1")

		assert.Nil(t, resp)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInsufficientCredits))
		assert.Equal(t, 1, p.calls)
	})
}
