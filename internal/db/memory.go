package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is a Store kept in process memory. One mutex serializes every call,
// and RunInTx holds it for the whole unit, restoring a snapshot if fn fails.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	accounts     map[int64]*models.Account
	transactions []*models.TransactionRecord
	byID         map[string]*models.TransactionRecord
	audit        []*models.AuditEntry
	nextNumber   int64
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		accounts:   make(map[int64]*models.Account),
		byID:       make(map[string]*models.TransactionRecord),
		nextNumber: models.FirstAccountNumber,
	}}
}

func (s *memState) clone() *memState {
	cp := &memState{
		accounts:     make(map[int64]*models.Account, len(s.accounts)),
		transactions: append([]*models.TransactionRecord(nil), s.transactions...),
		byID:         make(map[string]*models.TransactionRecord, len(s.byID)),
		audit:        append([]*models.AuditEntry(nil), s.audit...),
		nextNumber:   s.nextNumber,
	}
	for k, v := range s.accounts {
		a := *v
		cp.accounts[k] = &a
	}
	for k, v := range s.byID {
		cp.byID[k] = v
	}
	return cp
}

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, &memTx{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, number int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).GetAccount(ctx, number)
}

func (m *Memory) LockAccount(ctx context.Context, number int64) (*models.Account, error) {
	return m.GetAccount(ctx, number)
}

func (m *Memory) CreateAccount(ctx context.Context, in models.NewAccount) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).CreateAccount(ctx, in)
}

func (m *Memory) UpdateAccountStatus(ctx context.Context, number int64, status models.AccountStatus) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).UpdateAccountStatus(ctx, number, status)
}

func (m *Memory) UpdateAccountBalance(ctx context.Context, number int64, expectedVersion int64, newBalance decimal.Decimal) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).UpdateAccountBalance(ctx, number, expectedVersion, newBalance)
}

func (m *Memory) DeleteAccount(ctx context.Context, number int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).DeleteAccount(ctx, number)
}

func (m *Memory) ListAccounts(ctx context.Context, filter models.AccountFilter) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).ListAccounts(ctx, filter)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx *models.TransactionRecord) (*models.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).AppendTransaction(ctx, tx)
}

func (m *Memory) ListTransactions(ctx context.Context, accountNumber int64, limit, offset int) ([]*models.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).ListTransactions(ctx, accountNumber, limit, offset)
}

func (m *Memory) GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).GetTransaction(ctx, id)
}

func (m *Memory) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).InsertAudit(ctx, entry)
}

func (m *Memory) ListAudit(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).ListAudit(ctx, limit, offset)
}

// memTx operates on the state directly; the caller holds the mutex.
type memTx struct {
	state *memState
}

func (t *memTx) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

func (t *memTx) GetAccount(ctx context.Context, number int64) (*models.Account, error) {
	a, ok := t.state.accounts[number]
	if !ok {
		return nil, accountNotFound()
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) LockAccount(ctx context.Context, number int64) (*models.Account, error) {
	return t.GetAccount(ctx, number)
}

func (t *memTx) CreateAccount(ctx context.Context, in models.NewAccount) (*models.Account, error) {
	number := t.state.nextNumber
	if in.AccountNumber != nil {
		number = *in.AccountNumber
		if _, exists := t.state.accounts[number]; exists {
			return nil, models.NewConflictError(nil)
		}
	}
	if number >= t.state.nextNumber {
		t.state.nextNumber = number + 1
	}

	a := &models.Account{
		AccountNumber:  number,
		Owner:          in.Owner,
		Type:           in.Type,
		Status:         models.StatusPending,
		Balance:        in.OpeningBalance,
		OpeningBalance: in.OpeningBalance,
		CreatedOn:      time.Now().UTC(),
		Version:        1,
	}
	t.state.accounts[number] = a
	cp := *a
	return &cp, nil
}

func (t *memTx) UpdateAccountStatus(ctx context.Context, number int64, status models.AccountStatus) (*models.Account, error) {
	a, ok := t.state.accounts[number]
	if !ok {
		return nil, accountNotFound()
	}
	a.Status = status
	a.Version++
	cp := *a
	return &cp, nil
}

func (t *memTx) UpdateAccountBalance(ctx context.Context, number int64, expectedVersion int64, newBalance decimal.Decimal) (*models.Account, error) {
	a, ok := t.state.accounts[number]
	if !ok {
		return nil, accountNotFound()
	}
	if a.Version != expectedVersion {
		return nil, models.NewConflictError(nil)
	}
	a.Balance = newBalance
	a.Version++
	cp := *a
	return &cp, nil
}

func (t *memTx) DeleteAccount(ctx context.Context, number int64) error {
	if _, ok := t.state.accounts[number]; !ok {
		return accountNotFound()
	}
	delete(t.state.accounts, number)
	return nil
}

func (t *memTx) ListAccounts(ctx context.Context, filter models.AccountFilter) ([]*models.Account, error) {
	out := make([]*models.Account, 0)
	for _, a := range t.state.accounts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Owner != "" && a.Owner != filter.Owner {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out, nil
}

func (t *memTx) AppendTransaction(ctx context.Context, tx *models.TransactionRecord) (*models.TransactionRecord, error) {
	rec := *tx
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedOn.IsZero() {
		rec.CreatedOn = time.Now().UTC()
	}
	if _, exists := t.state.byID[rec.ID]; exists {
		return nil, models.NewConflictError(nil)
	}
	t.state.transactions = append(t.state.transactions, &rec)
	t.state.byID[rec.ID] = &rec
	out := rec
	return &out, nil
}

func (t *memTx) ListTransactions(ctx context.Context, accountNumber int64, limit, offset int) ([]*models.TransactionRecord, error) {
	limit, offset = NormalizePage(limit, offset)

	out := make([]*models.TransactionRecord, 0)
	skipped := 0
	for i := len(t.state.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		rec := t.state.transactions[i]
		if rec.AccountNumber != accountNumber {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (t *memTx) GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error) {
	rec, ok := t.state.byID[id]
	if !ok {
		return nil, transactionNotFound()
	}
	cp := *rec
	return &cp, nil
}

func (t *memTx) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	e := *entry
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	t.state.audit = append(t.state.audit, &e)
	return nil
}

func (t *memTx) ListAudit(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error) {
	limit, offset = NormalizePage(limit, offset)

	out := make([]*models.AuditEntry, 0, limit)
	for i := len(t.state.audit) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		e := *t.state.audit[i]
		out = append(out, &e)
	}
	return out, nil
}
