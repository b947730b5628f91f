package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/provider"
)

// MeteredResponse is the outcome of one successful metered call.
type MeteredResponse struct {
	Service       string           `json:"service"`
	Kind          model.CreditKind `json:"kind"`
	Cost          int64            `json:"cost"`
	NewBalance    int64            `json:"newBalance"`
	CorrelationID string           `json:"correlationId"`
	Result        json.RawMessage  `json:"result"`
	RateLimit     Decision         `json:"-"`
}

// Gateway runs the metered-call sequence every billable endpoint shares:
// admit, check affordability, call the provider, and consume credits only on
// confirmed success. An ambiguous provider outcome (timeout, transport error)
// is never billed.
type Gateway struct {
	limiter  RateLimiter
	credits  *CreditService
	registry *provider.Registry
}

func NewGateway(limiter RateLimiter, credits *CreditService, registry *provider.Registry) *Gateway {
	return &Gateway{
		limiter:  limiter,
		credits:  credits,
		registry: registry,
	}
}

func (g *Gateway) Call(ctx context.Context, accountID, service string, params json.RawMessage, correlationID string) (*MeteredResponse, error) {
	entry, ok := g.registry.Lookup(service)
	if !ok {
		return nil, apperrors.UnknownService(service)
	}

	// Rate limiting runs before any balance read: it is the cheaper check
	// and rejections are never billed.
	decision := g.limiter.Admit(ctx, accountID, service)
	if !decision.Allowed {
		log.Warn().
			Str("accountId", accountID).
			Str("service", service).
			Msg("metered call rate limited")
		return nil, apperrors.RateLimited(int64(decision.RetryAfter.Seconds()))
	}

	balance, err := g.credits.GetBalance(ctx, accountID, entry.Kind)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if balance < entry.Cost {
		return nil, apperrors.InsufficientCredits(string(entry.Kind), entry.Cost, balance)
	}

	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	// Billing must survive a caller disconnect: once the provider call is
	// dispatched, the consume step runs to completion regardless of whether
	// anyone is still waiting for the response.
	callCtx := context.WithoutCancel(ctx)

	result, err := entry.Provider.Call(callCtx, params)
	if err != nil {
		if errors.Is(err, provider.ErrTimeout) {
			return nil, apperrors.ProviderTimeout(service)
		}
		return nil, apperrors.ProviderError(service, err)
	}

	consume, err := g.credits.ReserveAndConsume(callCtx, accountID, entry.Kind, entry.Cost, correlationID)
	if err != nil {
		// The provider already did the work but the deduction failed (e.g.
		// a concurrent spender emptied the balance). The result is discarded
		// rather than given away unbilled.
		log.Warn().
			Err(err).
			Str("accountId", accountID).
			Str("service", service).
			Str("correlationId", correlationID).
			Msg("provider call succeeded but consumption failed")
		return nil, err
	}

	log.Info().
		Str("accountId", accountID).
		Str("service", service).
		Str("provider", result.Provider).
		Str("correlationId", correlationID).
		Int64("cost", entry.Cost).
		Int64("newBalance", consume.NewBalance).
		Dur("providerElapsed", result.Elapsed).
		Msg("metered call completed")

	return &MeteredResponse{
		Service:       service,
		Kind:          entry.Kind,
		Cost:          entry.Cost,
		NewBalance:    consume.NewBalance,
		CorrelationID: correlationID,
		Result:        result.Body,
		RateLimit:     decision,
	}, nil
}
