package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func dec128(t *testing.T, s string) primitive.Decimal128 {
	t.Helper()
	d, err := primitive.ParseDecimal128(s)
	require.NoError(t, err)
	return d
}

func accountBSON(t *testing.T, number int64, balance string, version int64) bson.D {
	return bson.D{
		{Key: "accountNumber", Value: number},
		{Key: "owner", Value: "u1"},
		{Key: "type", Value: "savings"},
		{Key: "status", Value: "active"},
		{Key: "balance", Value: dec128(t, balance)},
		{Key: "openingBalance", Value: dec128(t, "0")},
		{Key: "createdOn", Value: time.Now().UTC()},
		{Key: "version", Value: version},
	}
}

func TestMongoDB(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("get account", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "ledger.accounts", mtest.FirstBatch,
			accountBSON(t, 100000003, "250.75", 4)))

		a, err := store.GetAccount(context.Background(), 100000003)
		require.NoError(mt, err)
		assert.Equal(mt, int64(100000003), a.AccountNumber)
		assert.True(mt, a.Balance.Equal(decimal.RequireFromString("250.75")))
		assert.Equal(mt, int64(4), a.Version)
		assert.Equal(mt, models.StatusActive, a.Status)
	})

	mt.Run("get missing account", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "ledger.accounts", mtest.FirstBatch))

		_, err := store.GetAccount(context.Background(), 1)
		assert.True(mt, errors.Is(err, models.ErrNotFound))
	})

	mt.Run("update balance", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: accountBSON(t, 100000003, "300.00", 5)}))

		a, err := store.UpdateAccountBalance(context.Background(), 100000003, 4, decimal.RequireFromString("300"))
		require.NoError(mt, err)
		assert.Equal(mt, int64(5), a.Version)
		assert.True(mt, a.Balance.Equal(decimal.RequireFromString("300")))
	})

	mt.Run("update balance with a stale version", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		mt.AddMockResponses(
			// no document matched the version filter
			mtest.CreateSuccessResponse(),
			mtest.CreateCursorResponse(0, "ledger.accounts", mtest.FirstBatch,
				accountBSON(t, 100000003, "310.00", 6)),
		)

		_, err := store.UpdateAccountBalance(context.Background(), 100000003, 4, decimal.RequireFromString("300"))
		assert.True(mt, errors.Is(err, models.ErrConflict), "got %v", err)
	})

	mt.Run("update balance of a missing account", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateCursorResponse(0, "ledger.accounts", mtest.FirstBatch),
		)

		_, err := store.UpdateAccountBalance(context.Background(), 100000003, 4, decimal.RequireFromString("300"))
		assert.True(mt, errors.Is(err, models.ErrNotFound), "got %v", err)
	})

	mt.Run("create account takes the next number", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
				{Key: "_id", Value: accountSequenceID},
				{Key: "seq", Value: int64(3)},
			}}),
			mtest.CreateSuccessResponse(),
		)

		a, err := store.CreateAccount(context.Background(), models.NewAccount{
			Owner:          "u1",
			Type:           models.Current,
			OpeningBalance: decimal.RequireFromString("12.30"),
		})
		require.NoError(mt, err)
		assert.Equal(mt, models.FirstAccountNumber+2, a.AccountNumber)
		assert.Equal(mt, models.StatusPending, a.Status)
		assert.True(mt, a.Balance.Equal(a.OpeningBalance))
		assert.Equal(mt, int64(1), a.Version)
	})

	mt.Run("create account with a taken number", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		number := models.FirstAccountNumber
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}),
		)

		_, err := store.CreateAccount(context.Background(), models.NewAccount{AccountNumber: &number, Owner: "u1"})
		assert.True(mt, errors.Is(err, models.ErrConflict))
	})

	mt.Run("list transactions", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "ledger.transactions", mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: "t2"},
				{Key: "accountNumber", Value: int64(5)},
				{Key: "type", Value: "debit"},
				{Key: "amount", Value: dec128(t, "0.60")},
				{Key: "oldBalance", Value: dec128(t, "1.00")},
				{Key: "newBalance", Value: dec128(t, "0.40")},
				{Key: "cashier", Value: "staff-1"},
				{Key: "createdOn", Value: time.Now().UTC()},
				{Key: "sequence", Value: int64(3)},
			},
		))

		out, err := store.ListTransactions(context.Background(), 5, 0, 0)
		require.NoError(mt, err)
		require.Len(mt, out, 1)
		assert.Equal(mt, models.Debit, out[0].Type)
		assert.True(mt, out[0].NewBalance.Equal(decimal.RequireFromString("0.4")))
		assert.Equal(mt, int64(3), out[0].Sequence)
	})

	mt.Run("redelivered audit entry is ignored", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		err := store.InsertAudit(context.Background(), &models.AuditEntry{ID: "a1", Actor: "staff-1", Action: models.ActionCredit})
		assert.NoError(mt, err)
	})
}

func TestMongoErr(t *testing.T) {
	conflict := mongo.CommandError{Code: mongoWriteConflict, Message: "WriteConflict"}
	assert.True(t, errors.Is(mongoErr("update", conflict), models.ErrConflict))

	transient := mongo.CommandError{Code: 251, Labels: []string{"TransientTransactionError"}}
	assert.True(t, errors.Is(mongoErr("commit", transient), models.ErrConflict))

	assert.True(t, errors.Is(mongoErr("find", errors.New("socket closed")), models.ErrStorage))

	notFound := models.NewNotFoundError("account not found")
	assert.Same(t, notFound, mongoErr("transaction", notFound))
}
