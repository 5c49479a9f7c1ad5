package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const accountColumns = `account_number, owner, type, status, balance, opening_balance, created_on, version`

const (
	qSchema = `
	CREATE SEQUENCE IF NOT EXISTS account_number_seq START WITH 100000000 MINVALUE 1;

	CREATE TABLE IF NOT EXISTS accounts (
		account_number BIGINT PRIMARY KEY,
		owner VARCHAR(64) NOT NULL,
		type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		balance NUMERIC(20, 2) NOT NULL,
		opening_balance NUMERIC(20, 2) NOT NULL,
		created_on TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS accounts_owner_idx ON accounts (owner);

	CREATE TABLE IF NOT EXISTS transactions (
		id VARCHAR(36) PRIMARY KEY,
		account_number BIGINT NOT NULL,
		type VARCHAR(8) NOT NULL,
		amount NUMERIC(20, 2) NOT NULL,
		old_balance NUMERIC(20, 2) NOT NULL,
		new_balance NUMERIC(20, 2) NOT NULL,
		cashier VARCHAR(64),
		created_on TIMESTAMPTZ NOT NULL,
		sequence BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS transactions_account_idx ON transactions (account_number, sequence DESC);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(36) PRIMARY KEY,
		actor VARCHAR(64) NOT NULL,
		action VARCHAR(64) NOT NULL,
		target_type VARCHAR(32),
		target_id VARCHAR(64),
		timestamp TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS audit_logs_timestamp_idx ON audit_logs (timestamp DESC);`

	qGetAccount  = `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	qLockAccount = qGetAccount + ` FOR UPDATE`

	qInsertAccountSeq = `INSERT INTO accounts (` + accountColumns + `)
	VALUES (nextval('account_number_seq'), $1, $2, $3, $4, $4, $5, 1)
	RETURNING ` + accountColumns

	qInsertAccount = `INSERT INTO accounts (` + accountColumns + `)
	VALUES ($1, $2, $3, $4, $5, $5, $6, 1)
	RETURNING ` + accountColumns

	qAdvanceSequence = `SELECT setval('account_number_seq', $1::bigint) FROM account_number_seq WHERE $1::bigint >= last_value`

	qUpdateStatus = `UPDATE accounts SET status = $1, version = version + 1
	WHERE account_number = $2
	RETURNING ` + accountColumns

	qUpdateBalance = `UPDATE accounts SET balance = $1, version = version + 1
	WHERE account_number = $2 AND version = $3
	RETURNING ` + accountColumns

	qDeleteAccount = `DELETE FROM accounts WHERE account_number = $1`

	qListAccounts = `SELECT ` + accountColumns + ` FROM accounts
	WHERE ($1 = '' OR status = $1) AND ($2 = '' OR owner = $2)
	ORDER BY account_number ASC`

	transactionColumns = `id, account_number, type, amount, old_balance, new_balance, cashier, created_on, sequence`

	qInsertTransaction = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	qListTransactions = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE account_number = $1
	ORDER BY sequence DESC, created_on DESC
	LIMIT $2 OFFSET $3`

	qGetTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	qInsertAudit = `INSERT INTO audit_logs (id, actor, action, target_type, target_id, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING`

	qListAudit = `SELECT id, actor, action, target_type, target_id, timestamp FROM audit_logs
	ORDER BY timestamp DESC
	LIMIT $1 OFFSET $2`
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Postgres.go handles PostgreSQL database operations
type Postgres struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// creates a new Postgres instance
func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return newPostgresStore(db), nil
}

func newPostgresStore(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// initialize the database schema
func (p *Postgres) InitSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, qSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RunInTx runs fn on one sql.Tx; rows read with LockAccount stay locked until commit.
func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) (err error) {
	if p.inTx {
		return fn(ctx, p)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return pgErr("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &Postgres{db: p.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return pgErr("commit transaction", err)
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, number int64) (*models.Account, error) {
	return p.scanAccount(p.q.QueryRowContext(ctx, qGetAccount, number), "get account")
}

// LockAccount takes a row lock when called inside RunInTx.
func (p *Postgres) LockAccount(ctx context.Context, number int64) (*models.Account, error) {
	if !p.inTx {
		return p.GetAccount(ctx, number)
	}
	return p.scanAccount(p.q.QueryRowContext(ctx, qLockAccount, number), "lock account")
}

func (p *Postgres) CreateAccount(ctx context.Context, in models.NewAccount) (*models.Account, error) {
	now := time.Now().UTC()

	if in.AccountNumber == nil {
		row := p.q.QueryRowContext(ctx, qInsertAccountSeq,
			in.Owner, string(in.Type), string(models.StatusPending), in.OpeningBalance, now)
		return p.scanAccount(row, "create account")
	}

	if _, err := p.q.ExecContext(ctx, qAdvanceSequence, *in.AccountNumber); err != nil {
		return nil, pgErr("advance account number", err)
	}
	row := p.q.QueryRowContext(ctx, qInsertAccount,
		*in.AccountNumber, in.Owner, string(in.Type), string(models.StatusPending), in.OpeningBalance, now)
	return p.scanAccount(row, "create account")
}

func (p *Postgres) UpdateAccountStatus(ctx context.Context, number int64, status models.AccountStatus) (*models.Account, error) {
	return p.scanAccount(p.q.QueryRowContext(ctx, qUpdateStatus, string(status), number), "update account status")
}

func (p *Postgres) UpdateAccountBalance(ctx context.Context, number int64, expectedVersion int64, newBalance decimal.Decimal) (*models.Account, error) {
	account, err := p.scanAccount(p.q.QueryRowContext(ctx, qUpdateBalance, newBalance, number, expectedVersion), "update account balance")
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := p.GetAccount(ctx, number); getErr != nil {
			return nil, getErr
		}
		return nil, models.NewConflictError(fmt.Errorf("account %d changed since version %d", number, expectedVersion))
	}
	return account, err
}

func (p *Postgres) DeleteAccount(ctx context.Context, number int64) error {
	res, err := p.q.ExecContext(ctx, qDeleteAccount, number)
	if err != nil {
		return pgErr("delete account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pgErr("delete account", err)
	}
	if n == 0 {
		return accountNotFound()
	}
	return nil
}

func (p *Postgres) ListAccounts(ctx context.Context, filter models.AccountFilter) ([]*models.Account, error) {
	rows, err := p.q.QueryContext(ctx, qListAccounts, string(filter.Status), filter.Owner)
	if err != nil {
		return nil, pgErr("list accounts", err)
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.AccountNumber, &a.Owner, &a.Type, &a.Status,
			&a.Balance, &a.OpeningBalance, &a.CreatedOn, &a.Version); err != nil {
			return nil, pgErr("scan account", err)
		}
		accounts = append(accounts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list accounts", err)
	}
	return accounts, nil
}

func (p *Postgres) AppendTransaction(ctx context.Context, tx *models.TransactionRecord) (*models.TransactionRecord, error) {
	rec := *tx
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedOn.IsZero() {
		rec.CreatedOn = time.Now().UTC()
	}

	cashier := sql.NullString{String: rec.Cashier, Valid: rec.Cashier != ""}
	_, err := p.q.ExecContext(ctx, qInsertTransaction,
		rec.ID, rec.AccountNumber, string(rec.Type), rec.Amount,
		rec.OldBalance, rec.NewBalance, cashier, rec.CreatedOn, rec.Sequence)
	if err != nil {
		return nil, pgErr("insert transaction", err)
	}
	return &rec, nil
}

func (p *Postgres) ListTransactions(ctx context.Context, accountNumber int64, limit, offset int) ([]*models.TransactionRecord, error) {
	limit, offset = NormalizePage(limit, offset)

	rows, err := p.q.QueryContext(ctx, qListTransactions, accountNumber, limit, offset)
	if err != nil {
		return nil, pgErr("list transactions", err)
	}
	defer rows.Close()

	out := make([]*models.TransactionRecord, 0)
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list transactions", err)
	}
	return out, nil
}

func (p *Postgres) GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error) {
	rec, err := scanTransaction(p.q.QueryRowContext(ctx, qGetTransaction, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transactionNotFound()
	}
	return rec, err
}

func (p *Postgres) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := p.q.ExecContext(ctx, qInsertAudit, id, entry.Actor, entry.Action, entry.TargetType, entry.TargetID, ts)
	if err != nil {
		return pgErr("insert audit entry", err)
	}
	return nil
}

func (p *Postgres) ListAudit(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error) {
	limit, offset = NormalizePage(limit, offset)

	rows, err := p.q.QueryContext(ctx, qListAudit, limit, offset)
	if err != nil {
		return nil, pgErr("list audit entries", err)
	}
	defer rows.Close()

	out := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		var targetType, targetID sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &targetType, &targetID, &e.Timestamp); err != nil {
			return nil, pgErr("scan audit entry", err)
		}
		e.TargetType = targetType.String
		e.TargetID = targetID.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list audit entries", err)
	}
	return out, nil
}

func (p *Postgres) scanAccount(row *sql.Row, op string) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.AccountNumber, &a.Owner, &a.Type, &a.Status,
		&a.Balance, &a.OpeningBalance, &a.CreatedOn, &a.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accountNotFound()
		}
		return nil, pgErr(op, err)
	}
	return &a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.TransactionRecord, error) {
	var rec models.TransactionRecord
	var cashier sql.NullString
	err := row.Scan(&rec.ID, &rec.AccountNumber, &rec.Type, &rec.Amount,
		&rec.OldBalance, &rec.NewBalance, &cashier, &rec.CreatedOn, &rec.Sequence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, pgErr("scan transaction", err)
	}
	rec.Cashier = cashier.String
	return &rec, nil
}

// pgErr maps driver failures onto the ledger's error kinds.
func pgErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01":
			return models.NewConflictError(fmt.Errorf("%s: %w", op, err))
		}
	}
	return models.NewStorageError(op, err)
}
