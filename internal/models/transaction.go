package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	// Credit adds the amount to the account balance
	Credit TransactionType = "credit"

	// Debit removes the amount from the account balance
	Debit TransactionType = "debit"
)

// TransactionRecord is one completed balance movement. Records are immutable once appended.
type TransactionRecord struct {
	ID            string          `json:"id"`
	AccountNumber int64           `json:"accountNumber"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	OldBalance    decimal.Decimal `json:"oldBalance"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	Cashier       string          `json:"cashier,omitempty"`
	CreatedOn     time.Time       `json:"createdOn"`
	Sequence      int64           `json:"sequence"`
}

// LedgerResult is what a credit or debit hands back: the new entry and the account after it.
type LedgerResult struct {
	Transaction *TransactionRecord
	Account     *Account
}

// represents the request body of a credit or debit
type TransactionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// represents the API response for a completed credit or debit
type TransactionResponse struct {
	TransactionID   string          `json:"transactionId"`
	AccountNumber   int64           `json:"accountNumber"`
	Amount          decimal.Decimal `json:"amount"`
	Cashier         string          `json:"cashier,omitempty"`
	TransactionType TransactionType `json:"transactionType"`
	OldBalance      decimal.Decimal `json:"oldBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
	AccountBalance  decimal.Decimal `json:"accountBalance"`
	CreatedOn       time.Time       `json:"createdOn"`
}

func NewTransactionResponse(res *LedgerResult) TransactionResponse {
	tx := res.Transaction
	return TransactionResponse{
		TransactionID:   tx.ID,
		AccountNumber:   tx.AccountNumber,
		Amount:          tx.Amount,
		Cashier:         tx.Cashier,
		TransactionType: tx.Type,
		OldBalance:      tx.OldBalance,
		NewBalance:      tx.NewBalance,
		AccountBalance:  res.Account.Balance,
		CreatedOn:       tx.CreatedOn,
	}
}

// Reconciliation compares an account balance with its ledger.
type Reconciliation struct {
	AccountNumber   int64           `json:"accountNumber"`
	Balance         decimal.Decimal `json:"balance"`
	ExpectedBalance decimal.Decimal `json:"expectedBalance"`
	Entries         int             `json:"entries"`
	Consistent      bool            `json:"consistent"`
}
