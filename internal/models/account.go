package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FirstAccountNumber seeds the account-number sequence when no account exists yet.
const FirstAccountNumber int64 = 100000000

type AccountType string

const (
	Savings AccountType = "savings"
	Current AccountType = "current"
)

// ParseAccountType returns the account type named by s. An empty string means savings.
func ParseAccountType(s string) (AccountType, error) {
	switch AccountType(s) {
	case "":
		return Savings, nil
	case Savings, Current:
		return AccountType(s), nil
	}
	return "", NewValidationError("account type must be savings or current")
}

type AccountStatus string

const (
	// StatusPending is the status of every freshly opened account.
	StatusPending AccountStatus = "pending"

	// StatusActive is the only status that allows credits and debits.
	StatusActive AccountStatus = "active"

	// StatusDormant disables ledger operations until staff reactivate the account.
	StatusDormant AccountStatus = "dormant"
)

// ParseAccountStatus returns the status named by s.
func ParseAccountStatus(s string) (AccountStatus, error) {
	switch AccountStatus(s) {
	case StatusPending, StatusActive, StatusDormant:
		return AccountStatus(s), nil
	}
	return "", NewValidationError("status must be pending, active or dormant")
}

// CanTransitionTo reports whether staff may move an account from s to next.
// Every move between the three statuses is allowed, including back to pending.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	_, err := ParseAccountStatus(string(next))
	return err == nil
}

// Account is a customer account. Balance only changes through the ledger.
type Account struct {
	AccountNumber  int64           `json:"accountNumber"`
	Owner          string          `json:"owner"`
	Type           AccountType     `json:"type"`
	Status         AccountStatus   `json:"status"`
	Balance        decimal.Decimal `json:"balance"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	CreatedOn      time.Time       `json:"createdOn"`
	Version        int64           `json:"-"`
}

// NewAccount holds what a store needs to open an account.
// A nil AccountNumber lets the store assign the next number in sequence.
type NewAccount struct {
	AccountNumber  *int64
	Owner          string
	Type           AccountType
	OpeningBalance decimal.Decimal
}

// AccountFilter narrows ListAccounts. Zero values match everything.
type AccountFilter struct {
	Status AccountStatus
	Owner  string
}

type CreateAccountRequest struct {
	Type          string          `json:"type" validate:"omitempty,oneof=savings current"`
	Balance       decimal.Decimal `json:"balance"`
	AccountNumber *int64          `json:"accountNumber,omitempty" validate:"omitempty,gt=0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type AccountResponse struct {
	AccountNumber  int64           `json:"accountNumber"`
	Owner          string          `json:"owner"`
	Type           AccountType     `json:"type"`
	Status         AccountStatus   `json:"status"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedOn      time.Time       `json:"createdOn"`
}

func NewAccountResponse(a *Account) AccountResponse {
	return AccountResponse{
		AccountNumber:  a.AccountNumber,
		Owner:          a.Owner,
		Type:           a.Type,
		Status:         a.Status,
		OpeningBalance: a.OpeningBalance,
		Balance:        a.Balance,
		CreatedOn:      a.CreatedOn,
	}
}

// MaxMoney is the largest amount or balance the stores can hold (NUMERIC(20,2)).
var MaxMoney = decimal.RequireFromString("999999999999999999.99")

const (
	maxIntegerDigits = 18
	// amounts written with more fractional digits than this are rejected
	// before rounding, even if the extra digits are zeros
	maxScale = 20
)

// ValidateMoney checks that d is a non-negative amount no larger than MaxMoney
// with at most two fractional digits. positive additionally rejects zero.
func ValidateMoney(field string, d decimal.Decimal, positive bool) error {
	if d.IsNegative() || (positive && d.IsZero()) {
		if positive {
			return NewValidationError(fmt.Sprintf("%s must be a positive number", field))
		}
		return NewValidationError(fmt.Sprintf("%s cannot be negative", field))
	}
	// size checks run on digit counts so huge exponents are never expanded
	if !d.IsZero() && d.NumDigits()+int(d.Exponent()) > maxIntegerDigits {
		return NewValidationError(fmt.Sprintf("%s cannot exceed %s", field, MaxMoney.StringFixed(2)))
	}
	if d.Exponent() < -maxScale || !d.Equal(d.Round(2)) {
		return NewValidationError(fmt.Sprintf("%s must have at most two decimal places", field))
	}
	return nil
}
