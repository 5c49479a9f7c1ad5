package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/db"
	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/abkawan/banka-ledger/internal/queue"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Record(ctx context.Context, entry *models.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// failingLedger is a store whose ledger appends always fail.
type failingLedger struct {
	db.Store
}

func (f failingLedger) RunInTx(ctx context.Context, fn func(ctx context.Context, tx db.Store) error) error {
	return f.Store.RunInTx(ctx, func(ctx context.Context, tx db.Store) error {
		return fn(ctx, failingLedger{tx})
	})
}

func (f failingLedger) AppendTransaction(ctx context.Context, tx *models.TransactionRecord) (*models.TransactionRecord, error) {
	return nil, models.NewStorageError("insert transaction", errors.New("disk full"))
}

// lockRecorder notes how accounts are read inside RunInTx.
type lockRecorder struct {
	db.Store
	reads *[]string
}

func (l lockRecorder) RunInTx(ctx context.Context, fn func(ctx context.Context, tx db.Store) error) error {
	return l.Store.RunInTx(ctx, func(ctx context.Context, tx db.Store) error {
		return fn(ctx, lockRecorder{Store: tx, reads: l.reads})
	})
}

func (l lockRecorder) GetAccount(ctx context.Context, number int64) (*models.Account, error) {
	*l.reads = append(*l.reads, "get")
	return l.Store.GetAccount(ctx, number)
}

func (l lockRecorder) LockAccount(ctx context.Context, number int64) (*models.Account, error) {
	*l.reads = append(*l.reads, "lock")
	return l.Store.LockAccount(ctx, number)
}

// fakeSource hands out deliveries from a channel.
type fakeSource struct {
	ch  chan queue.AuditDelivery
	err error
}

func (f *fakeSource) ConsumeAudit(ctx context.Context) (<-chan queue.AuditDelivery, error) {
	return f.ch, f.err
}

var (
	clientActor = &auth.Actor{ID: "client-1", Role: auth.RoleClient}
	otherClient = &auth.Actor{ID: "client-2", Role: auth.RoleClient}
	staffActor  = &auth.Actor{ID: "staff-1", Role: auth.RoleStaff}
	adminActor  = &auth.Actor{ID: "admin-1", Role: auth.RoleAdmin, IsAdmin: true}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store        db.Store
	sink         *MockAuditSink
	accounts     *AccountService
	transactions *TransactionService
}

func newFixture(t *testing.T, store db.Store) *fixture {
	t.Helper()
	sink := &MockAuditSink{}
	sink.On("Record", mock.Anything, mock.Anything).Return(nil).Maybe()
	auditor := NewAuditor(sink, 0, discardLogger())
	return &fixture{
		store:        store,
		sink:         sink,
		accounts:     NewAccountService(store, auditor, discardLogger()),
		transactions: NewTransactionService(store, auditor, discardLogger()),
	}
}

// openActive creates an account for clientActor with the given balance and activates it.
func (f *fixture) openActive(t *testing.T, balance string) *models.Account {
	t.Helper()
	ctx := context.Background()
	a, err := f.accounts.CreateAccount(ctx, clientActor, CreateAccountInput{OpeningBalance: dec(balance)})
	require.NoError(t, err)
	a, err = f.accounts.SetStatus(ctx, staffActor, a.AccountNumber, string(models.StatusActive))
	require.NoError(t, err)
	return a
}

// auditActions lists the actions recorded on the sink, oldest first.
func (f *fixture) auditActions() []string {
	var actions []string
	for _, call := range f.sink.Calls {
		if call.Method == "Record" {
			actions = append(actions, call.Arguments.Get(1).(*models.AuditEntry).Action)
		}
	}
	return actions
}
