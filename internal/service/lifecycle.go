package service

import (
	"context"
	"fmt"

	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/db"
	"github.com/abkawan/banka-ledger/internal/models"
)

// SetStatus moves an account to the requested status. Staff and admins only.
func (s *AccountService) SetStatus(ctx context.Context, actor *auth.Actor, accountNumber int64, requested string) (*models.Account, error) {
	if err := auth.Require(actor, auth.RequireStaff); err != nil {
		return nil, err
	}

	next, err := models.ParseAccountStatus(requested)
	if err != nil {
		return nil, err
	}

	var account *models.Account
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx db.Store) error {
		current, err := tx.LockAccount(ctx, accountNumber)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(next) {
			return models.NewValidationError(fmt.Sprintf("cannot move account from %s to %s", current.Status, next))
		}

		updated, err := tx.UpdateAccountStatus(ctx, accountNumber, next)
		if err != nil {
			return err
		}
		account = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account status updated",
		"account", accountNumber,
		"status", next,
		"actor", actor.ID,
	)
	s.audit.Record(ctx, actor, models.ActionUpdateStatus, accountNumber)

	return account, nil
}
