// Package db persists accounts, ledger entries and audit entries.
//
// Three backends implement Store: MongoDB (the default), PostgreSQL and an
// in-memory store. Writes that must land together go through RunInTx.
package db

import (
	"context"

	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// AccountStore owns account records, including balance and status.
type AccountStore interface {
	GetAccount(ctx context.Context, number int64) (*models.Account, error)
	// LockAccount reads the account and, inside RunInTx, locks it against
	// concurrent writers where the backend supports row locks.
	LockAccount(ctx context.Context, number int64) (*models.Account, error)
	CreateAccount(ctx context.Context, in models.NewAccount) (*models.Account, error)
	UpdateAccountStatus(ctx context.Context, number int64, status models.AccountStatus) (*models.Account, error)
	// UpdateAccountBalance writes newBalance only if the stored version still
	// equals expectedVersion, and returns a conflict error otherwise.
	UpdateAccountBalance(ctx context.Context, number int64, expectedVersion int64, newBalance decimal.Decimal) (*models.Account, error)
	DeleteAccount(ctx context.Context, number int64) error
	ListAccounts(ctx context.Context, filter models.AccountFilter) ([]*models.Account, error)
}

// TransactionLedger is the append-only log of balance movements.
type TransactionLedger interface {
	AppendTransaction(ctx context.Context, tx *models.TransactionRecord) (*models.TransactionRecord, error)
	// ListTransactions returns entries for an account newest first.
	ListTransactions(ctx context.Context, accountNumber int64, limit, offset int) ([]*models.TransactionRecord, error)
	GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error)
}

// AuditStore keeps audit entries.
type AuditStore interface {
	InsertAudit(ctx context.Context, entry *models.AuditEntry) error
	// ListAudit returns entries newest first.
	ListAudit(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error)
}

// Store is a full backend.
type Store interface {
	AccountStore
	TransactionLedger
	AuditStore

	// RunInTx runs fn as one unit: every write made through tx commits together
	// or none does. Conflicts with concurrent units surface as conflict errors
	// and are not retried.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// NormalizePage clamps limit and offset to sane values.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func accountNotFound() error {
	return models.NewNotFoundError("account not found")
}

func transactionNotFound() error {
	return models.NewNotFoundError("transaction not found")
}
