package service

import (
	"context"
	"errors"
	"testing"

	"github.com/abkawan/banka-ledger/internal/db"
	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountAssignsSequentialNumbers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemory())

	var last int64
	for i := 0; i < 3; i++ {
		a, err := f.accounts.CreateAccount(ctx, clientActor, CreateAccountInput{OpeningBalance: dec("0")})
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, models.FirstAccountNumber, a.AccountNumber)
		} else {
			assert.Greater(t, a.AccountNumber, last)
		}
		last = a.AccountNumber

		assert.Equal(t, models.StatusPending, a.Status)
		assert.Equal(t, models.Savings, a.Type)
		assert.Equal(t, clientActor.ID, a.Owner)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemory())
	number := int64(200000000)

	_, err := f.accounts.CreateAccount(ctx, clientActor, CreateAccountInput{Type: "checking"})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.accounts.CreateAccount(ctx, clientActor, CreateAccountInput{OpeningBalance: dec("-1")})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.accounts.CreateAccount(ctx, clientActor, CreateAccountInput{OpeningBalance: dec("1.005")})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.accounts.CreateAccount(ctx, clientActor, CreateAccountInput{AccountNumber: &number})
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = f.accounts.CreateAccount(ctx, nil, CreateAccountInput{})
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))

	a, err := f.accounts.CreateAccount(ctx, staffActor, CreateAccountInput{
		Type:           models.Current,
		OpeningBalance: dec("10.50"),
		AccountNumber:  &number,
	})
	require.NoError(t, err)
	assert.Equal(t, number, a.AccountNumber)
	assert.True(t, a.Balance.Equal(dec("10.5")))

	_, err = f.accounts.CreateAccount(ctx, staffActor, CreateAccountInput{AccountNumber: &number})
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestChosenNumberCannotReuseLedgerHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemory())
	a := f.openActive(t, "5")
	_, err := f.transactions.Credit(ctx, staffActor, a.AccountNumber, dec("1"))
	require.NoError(t, err)
	require.NoError(t, f.accounts.DeleteAccount(ctx, adminActor, a.AccountNumber))

	number := a.AccountNumber
	_, err = f.accounts.CreateAccount(ctx, staffActor, CreateAccountInput{AccountNumber: &number})
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestGetAndListAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemory())
	mine := f.openActive(t, "0")
	theirs, err := f.accounts.CreateAccount(ctx, otherClient, CreateAccountInput{})
	require.NoError(t, err)

	got, err := f.accounts.GetAccount(ctx, clientActor, mine.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, mine.AccountNumber, got.AccountNumber)

	_, err = f.accounts.GetAccount(ctx, clientActor, theirs.AccountNumber)
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = f.accounts.GetAccount(ctx, staffActor, 1)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	list, err := f.accounts.ListAccounts(ctx, clientActor, models.AccountFilter{Owner: otherClient.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.AccountNumber, list[0].AccountNumber)

	list, err = f.accounts.ListAccounts(ctx, staffActor, models.AccountFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = f.accounts.ListAccounts(ctx, staffActor, models.AccountFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, theirs.AccountNumber, list[0].AccountNumber)

	_, err = f.accounts.ListAccounts(ctx, staffActor, models.AccountFilter{Status: "closed"})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemory())
	a, err := f.accounts.CreateAccount(ctx, clientActor, CreateAccountInput{})
	require.NoError(t, err)

	_, err = f.accounts.SetStatus(ctx, clientActor, a.AccountNumber, "active")
	assert.True(t, errors.Is(err, models.ErrForbidden))

	for _, status := range []models.AccountStatus{models.StatusActive, models.StatusDormant, models.StatusPending, models.StatusPending} {
		updated, err := f.accounts.SetStatus(ctx, staffActor, a.AccountNumber, string(status))
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
	}

	updated, err := f.accounts.SetStatus(ctx, adminActor, a.AccountNumber, "active")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, updated.Status)

	_, err = f.accounts.SetStatus(ctx, staffActor, a.AccountNumber, "frozen")
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.accounts.SetStatus(ctx, staffActor, 1, "active")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestDeleteAccountKeepsLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemory())
	a := f.openActive(t, "20")
	_, err := f.transactions.Debit(ctx, staffActor, a.AccountNumber, dec("5"))
	require.NoError(t, err)

	assert.True(t, errors.Is(f.accounts.DeleteAccount(ctx, staffActor, a.AccountNumber), models.ErrForbidden))
	assert.True(t, errors.Is(f.accounts.DeleteAccount(ctx, clientActor, a.AccountNumber), models.ErrForbidden))

	require.NoError(t, f.accounts.DeleteAccount(ctx, adminActor, a.AccountNumber))
	assert.True(t, errors.Is(f.accounts.DeleteAccount(ctx, adminActor, a.AccountNumber), models.ErrNotFound))

	_, err = f.accounts.GetAccount(ctx, staffActor, a.AccountNumber)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	entries, err := f.transactions.ListTransactions(ctx, staffActor, a.AccountNumber, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.transactions.ListTransactions(ctx, clientActor, a.AccountNumber, 0, 0)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	assert.Contains(t, f.auditActions(), models.ActionDeleteAccount)
}
