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

// handles credits, debits and ledger reads
type TransactionService struct {
	store  db.Store
	audit  *Auditor
	logger *slog.Logger
}

// creates a new TransactionService
func NewTransactionService(store db.Store, audit *Auditor, logger *slog.Logger) *TransactionService {
	return &TransactionService{
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

// Credit adds amount to an active account and appends the matching ledger entry.
func (s *TransactionService) Credit(ctx context.Context, actor *auth.Actor, accountNumber int64, amount decimal.Decimal) (*models.LedgerResult, error) {
	return s.apply(ctx, actor, accountNumber, amount, models.Credit)
}

// Debit removes amount from an active account holding at least amount.
func (s *TransactionService) Debit(ctx context.Context, actor *auth.Actor, accountNumber int64, amount decimal.Decimal) (*models.LedgerResult, error) {
	return s.apply(ctx, actor, accountNumber, amount, models.Debit)
}

// apply moves the balance and appends the ledger entry in one store
// transaction. Either both land or neither does.
func (s *TransactionService) apply(ctx context.Context, actor *auth.Actor, accountNumber int64, amount decimal.Decimal, txType models.TransactionType) (*models.LedgerResult, error) {
	if err := auth.Require(actor, auth.RequireStaff); err != nil {
		return nil, err
	}
	if err := models.ValidateMoney("amount", amount, true); err != nil {
		return nil, err
	}

	var result *models.LedgerResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx db.Store) error {
		account, err := tx.LockAccount(ctx, accountNumber)
		if err != nil {
			return err
		}
		if account.Status != models.StatusActive {
			return models.ErrInactiveAccount
		}

		newBalance := account.Balance.Add(amount)
		if txType == models.Debit {
			if account.Balance.LessThan(amount) {
				return models.ErrInsufficientFunds
			}
			newBalance = account.Balance.Sub(amount)
		} else if newBalance.GreaterThan(models.MaxMoney) {
			return models.NewValidationError("credit would take the balance above " + models.MaxMoney.StringFixed(2))
		}

		updated, err := tx.UpdateAccountBalance(ctx, accountNumber, account.Version, newBalance)
		if err != nil {
			return err
		}

		rec, err := tx.AppendTransaction(ctx, &models.TransactionRecord{
			AccountNumber: accountNumber,
			Type:          txType,
			Amount:        amount,
			OldBalance:    account.Balance,
			NewBalance:    updated.Balance,
			Cashier:       actor.ID,
			Sequence:      updated.Version,
		})
		if err != nil {
			return err
		}

		result = &models.LedgerResult{Transaction: rec, Account: updated}
		return nil
	})
	if err != nil {
		s.logger.Warn("ledger operation rejected",
			"type", txType,
			"account", accountNumber,
			"amount", amount.StringFixed(2),
			"kind", models.KindOf(err),
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("ledger operation completed",
		"type", txType,
		"account", accountNumber,
		"amount", amount.StringFixed(2),
		"transaction", result.Transaction.ID,
		"cashier", actor.ID,
	)

	action := models.ActionCredit
	if txType == models.Debit {
		action = models.ActionDebit
	}
	s.audit.Record(ctx, actor, action, accountNumber)

	return result, nil
}

// GetTransaction retrieves a transaction by ID. Clients only see entries of their own accounts.
func (s *TransactionService) GetTransaction(ctx context.Context, actor *auth.Actor, id string) (*models.TransactionRecord, error) {
	if err := auth.Require(actor, auth.RequireAuthenticated); err != nil {
		return nil, err
	}

	rec, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsStaffOrAdmin() {
		return rec, nil
	}

	if _, err := s.ownedAccount(ctx, actor, rec.AccountNumber); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListTransactions returns the entries of an account newest first. Staff can
// still read the history of a deleted account; clients need an account they own.
func (s *TransactionService) ListTransactions(ctx context.Context, actor *auth.Actor, accountNumber int64, limit, offset int) ([]*models.TransactionRecord, error) {
	if err := auth.Require(actor, auth.RequireAuthenticated); err != nil {
		return nil, err
	}
	if !actor.IsStaffOrAdmin() {
		if _, err := s.ownedAccount(ctx, actor, accountNumber); err != nil {
			return nil, err
		}
	}

	txs, err := s.store.ListTransactions(ctx, accountNumber, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return txs, nil
}

// ReconcileAccount replays the ledger of an account from its opening balance
// and compares the result with the stored balance.
func (s *TransactionService) ReconcileAccount(ctx context.Context, actor *auth.Actor, accountNumber int64) (*models.Reconciliation, error) {
	if err := auth.Require(actor, auth.RequireStaff); err != nil {
		return nil, err
	}

	var rec *models.Reconciliation
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx db.Store) error {
		// the lock holds writers off until every ledger page has been read
		account, err := tx.LockAccount(ctx, accountNumber)
		if err != nil {
			return err
		}

		expected := account.OpeningBalance
		chained := true
		entries := 0
		var newer *models.TransactionRecord
		for offset := 0; ; offset += db.MaxPageSize {
			page, err := tx.ListTransactions(ctx, accountNumber, db.MaxPageSize, offset)
			if err != nil {
				return err
			}
			for i, e := range page {
				if entries == 0 && i == 0 && !e.NewBalance.Equal(account.Balance) {
					chained = false
				}
				if newer != nil && !newer.OldBalance.Equal(e.NewBalance) {
					chained = false
				}
				if e.Type == models.Debit {
					expected = expected.Sub(e.Amount)
				} else {
					expected = expected.Add(e.Amount)
				}
				newer = e
			}
			entries += len(page)
			if len(page) < db.MaxPageSize {
				break
			}
		}
		if newer != nil && !newer.OldBalance.Equal(account.OpeningBalance) {
			chained = false
		}

		rec = &models.Reconciliation{
			AccountNumber:   accountNumber,
			Balance:         account.Balance,
			ExpectedBalance: expected,
			Entries:         entries,
			Consistent:      chained && expected.Equal(account.Balance),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.Consistent {
		s.logger.Error("account does not reconcile with its ledger",
			"account", accountNumber,
			"balance", rec.Balance.StringFixed(2),
			"expected", rec.ExpectedBalance.StringFixed(2),
			"entries", rec.Entries,
		)
	}
	return rec, nil
}

// ownedAccount loads an account the actor owns.
func (s *TransactionService) ownedAccount(ctx context.Context, actor *auth.Actor, accountNumber int64) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(actor, account.Owner) {
		return nil, models.NewForbiddenError("forbidden: account belongs to another user")
	}
	return account, nil
}
