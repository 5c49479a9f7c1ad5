package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can map them to user-facing results.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindInactiveAccount   ErrorKind = "inactive_account"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindForbidden         ErrorKind = "forbidden"
	KindUnauthenticated   ErrorKind = "unauthenticated"
	KindConflict          ErrorKind = "conflict"
	KindStorage           ErrorKind = "storage"
)

// Error is the error type returned across the ledger. Err keeps the underlying
// cause for logs; Message is safe to show to the caller.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// whatever the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInactiveAccount   = &Error{Kind: KindInactiveAccount, Message: "account not active"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated, Message: "access denied"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "concurrent update detected, retry the request"}
	ErrStorage           = &Error{Kind: KindStorage, Message: "storage unavailable, retry the request"}
)

func NewValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NewNotFoundError(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func NewForbiddenError(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NewConflictError wraps a lost concurrency race.
func NewConflictError(err error) error {
	return &Error{Kind: KindConflict, Message: ErrConflict.Message, Err: err}
}

// NewStorageError wraps a driver failure. The driver text stays in Err and never reaches Message.
func NewStorageError(op string, err error) error {
	return &Error{Kind: KindStorage, Message: ErrStorage.Message, Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf returns the kind of err. Errors that are not *Error count as storage failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// PublicMessage returns the caller-facing text of err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrStorage.Message
}
