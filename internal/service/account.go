package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/db"
	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// handles account operations
type AccountService struct {
	store  db.Store
	audit  *Auditor
	logger *slog.Logger
}

// creates a new Account Service
func NewAccountService(store db.Store, audit *Auditor, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

// CreateAccountInput describes a new account. Type defaults to savings and a
// nil AccountNumber takes the next number in sequence.
type CreateAccountInput struct {
	Type           models.AccountType
	OpeningBalance decimal.Decimal
	AccountNumber  *int64
}

// creates a new pending account owned by the actor
func (s *AccountService) CreateAccount(ctx context.Context, actor *auth.Actor, in CreateAccountInput) (*models.Account, error) {
	if err := auth.Require(actor, auth.RequireAuthenticated); err != nil {
		return nil, err
	}

	accountType, err := models.ParseAccountType(string(in.Type))
	if err != nil {
		return nil, err
	}
	if err := models.ValidateMoney("opening balance", in.OpeningBalance, false); err != nil {
		return nil, err
	}
	if in.AccountNumber != nil {
		if !actor.IsStaffOrAdmin() {
			return nil, models.NewForbiddenError("forbidden: only staff can choose an account number")
		}
		if *in.AccountNumber <= 0 {
			return nil, models.NewValidationError("account number must be positive")
		}
	}

	var account *models.Account
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx db.Store) error {
		// a chosen number must not inherit the history of a deleted account
		if in.AccountNumber != nil {
			prior, err := tx.ListTransactions(ctx, *in.AccountNumber, 1, 0)
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				return models.NewConflictError(fmt.Errorf("account number %d has ledger history", *in.AccountNumber))
			}
		}

		created, err := tx.CreateAccount(ctx, models.NewAccount{
			AccountNumber:  in.AccountNumber,
			Owner:          actor.ID,
			Type:           accountType,
			OpeningBalance: in.OpeningBalance,
		})
		if err != nil {
			return err
		}
		account = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		"account", account.AccountNumber,
		"owner", account.Owner,
		"type", account.Type,
		"opening_balance", account.OpeningBalance.StringFixed(2),
	)
	s.audit.Record(ctx, actor, models.ActionCreateAccount, account.AccountNumber)

	return account, nil
}

// retrieves an account by number
func (s *AccountService) GetAccount(ctx context.Context, actor *auth.Actor, accountNumber int64) (*models.Account, error) {
	if err := auth.Require(actor, auth.RequireAuthenticated); err != nil {
		return nil, err
	}

	account, err := s.store.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(actor, account.Owner) {
		return nil, models.NewForbiddenError("forbidden: account belongs to another user")
	}
	return account, nil
}

// ListAccounts returns accounts matching filter. Clients only ever see their own.
func (s *AccountService) ListAccounts(ctx context.Context, actor *auth.Actor, filter models.AccountFilter) ([]*models.Account, error) {
	if err := auth.Require(actor, auth.RequireAuthenticated); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		if _, err := models.ParseAccountStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	if !actor.IsStaffOrAdmin() {
		filter.Owner = actor.ID
	}

	accounts, err := s.store.ListAccounts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount removes an account. Its ledger entries stay in place.
func (s *AccountService) DeleteAccount(ctx context.Context, actor *auth.Actor, accountNumber int64) error {
	if err := auth.Require(actor, auth.RequireAdmin); err != nil {
		return err
	}

	if err := s.store.DeleteAccount(ctx, accountNumber); err != nil {
		return err
	}

	s.logger.Info("account deleted", "account", accountNumber, "actor", actor.ID)
	s.audit.Record(ctx, actor, models.ActionDeleteAccount, accountNumber)
	return nil
}
