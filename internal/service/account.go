package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prospectiq/credit-server-go/internal/audit"
	"github.com/prospectiq/credit-server-go/internal/config"
	apperrors "github.com/prospectiq/credit-server-go/internal/errors"
	"github.com/prospectiq/credit-server-go/internal/model"
	"github.com/prospectiq/credit-server-go/internal/repository"
	"github.com/prospectiq/credit-server-go/internal/util"
)

// AccountService provisions accounts and their API tokens. Balances are not
// touched directly here; starter credit goes through the credit service like
// every other grant.
type AccountService struct {
	accountRepo repository.AccountRepository
	credits     *CreditService
}

func NewAccountService(accountRepo repository.AccountRepository, credits *CreditService) *AccountService {
	return &AccountService{
		accountRepo: accountRepo,
		credits:     credits,
	}
}

type CreatedAccount struct {
	Account *model.Account
	// APIToken is returned exactly once; only its hash is stored.
	APIToken string
}

func (s *AccountService) Create(ctx context.Context, email string, tier model.AccountTier) (*CreatedAccount, error) {
	if tier == "" {
		tier = model.TierFree
	}
	if tier != model.TierFree && tier != model.TierPro {
		return nil, apperrors.InvalidInput("tier", string(tier))
	}

	existing, err := s.accountRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("account")
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	account, err := s.accountRepo.Create(ctx, model.CreateAccountParams{
		Email:        email,
		Tier:         tier,
		APITokenHash: util.HashToken(token),
	})
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	if tier == model.TierFree {
		s.issueStarterGrants(ctx, account.ID)
	}

	audit.Log(audit.Event{
		Type:      audit.EventAccountCreate,
		AccountID: account.ID,
		Details:   map[string]interface{}{"tier": string(tier)},
	})
	log.Info().
		Str("accountId", account.ID).
		Str("tier", string(tier)).
		Str("apiToken", util.MaskToken(token)).
		Msg("account created")

	return &CreatedAccount{Account: account, APIToken: token}, nil
}

// issueStarterGrants gives new free-tier accounts their expiring starter
// credit. A failed grant is logged but does not fail the signup; the admin
// can re-issue it.
func (s *AccountService) issueStarterGrants(ctx context.Context, accountID string) {
	expiresAt := time.Now().Add(config.FreeTierGrantTTL)
	for kind, amount := range config.FreeTierGrants {
		corrID := fmt.Sprintf("starter:%s:%s", accountID, kind)
		_, err := s.credits.Grant(ctx, GrantParams{
			AccountID:     accountID,
			Kind:          kind,
			Amount:        amount,
			ExpiresAt:     &expiresAt,
			Reason:        model.ReasonPurchase,
			CorrelationID: &corrID,
		})
		if err != nil {
			log.Error().
				Err(err).
				Str("accountId", accountID).
				Str("kind", string(kind)).
				Msg("failed to issue starter grant")
		}
	}
}

func (s *AccountService) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return s.accountRepo.FindByID(ctx, id)
}

func (s *AccountService) List(ctx context.Context, limit, offset int) ([]model.Account, int, error) {
	accounts, err := s.accountRepo.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.accountRepo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

// RotateToken replaces the account's API token and returns the new plaintext.
func (s *AccountService) RotateToken(ctx context.Context, id string) (string, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	account, err := s.accountRepo.UpdateToken(ctx, id, util.HashToken(token))
	if err != nil {
		return "", fmt.Errorf("update token: %w", err)
	}
	if account == nil {
		return "", apperrors.NotFound("account")
	}

	audit.Log(audit.Event{
		Type:      audit.EventTokenRegenerate,
		AccountID: id,
		Details:   map[string]interface{}{"token": util.MaskToken(token)},
	})
	return token, nil
}

func (s *AccountService) Disable(ctx context.Context, id string) error {
	account, err := s.accountRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return apperrors.NotFound("account")
	}
	return s.accountRepo.Disable(ctx, id)
}
