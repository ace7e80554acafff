package ledger

import (
	"errors"
	"fmt"

	"github.com/pesacore/pesacore/internal/balance"
	"github.com/pesacore/pesacore/internal/model"
)

var (
	// ErrAccountNotFound is returned when a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidAmount covers null, zero and negative amounts, and self-transfers.
	ErrInvalidAmount = balance.ErrInvalidAmount
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = balance.ErrInsufficientFunds
	// ErrStore marks transient infrastructure failures, including timeouts.
	ErrStore = errors.New("ledger store unavailable")

	// ErrVersionConflict is returned by CommitBatch when an account changed
	// after it was read.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrDuplicateTransaction is returned by CommitBatch when a transaction id
	// already exists.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrAccountExists is returned when creating an account whose id or
	// account number is taken.
	ErrAccountExists = errors.New("account already exists")
)

// Stable error codes exposed at the transport boundary.
const (
	CodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	CodeInvalidAmount     = "INVALID_AMOUNT"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

// Code maps err onto its stable error code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return CodeAccountNotFound
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrStore):
		return CodeStoreUnavailable
	default:
		return CodeInternal
	}
}

// Rejection is a business-rule failure. Unless it happened before any account
// was loaded, Transaction holds the Failed record that was committed for it.
type Rejection struct {
	Kind        error // ErrInvalidAmount or ErrInsufficientFunds
	Reason      string
	Transaction *model.Transaction
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Kind
}

// FailedTransaction returns the Failed record carried by err, if any.
func FailedTransaction(err error) (model.Transaction, bool) {
	var rej *Rejection
	if errors.As(err, &rej) && rej.Transaction != nil {
		return *rej.Transaction, true
	}
	return model.Transaction{}, false
}

func notFound(role, id string) error {
	if role == "" {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return fmt.Errorf("%s %w: %s", role, ErrAccountNotFound, id)
}

func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
