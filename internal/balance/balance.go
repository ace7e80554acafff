// Package balance checks a requested amount against a proposed balance change.
package balance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pesacore/pesacore/internal/model"
)

// Operation is the direction of a balance change.
type Operation string

const (
	// Credit increases the balance (deposit, transfer receipt).
	Credit Operation = "CREDIT"
	// Debit decreases the balance (withdrawal, transfer send).
	Debit Operation = "DEBIT"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Reasons recorded on failed transactions.
const (
	ReasonAmountRequired    = "amount is required"
	ReasonAmountNotPositive = "amount must be greater than zero"
	ReasonAmountTooPrecise  = "amount has more than 4 decimal places"
	ReasonInsufficientFunds = "insufficient funds"
)

// Violation is a rejected balance change. It unwraps to ErrInvalidAmount or
// ErrInsufficientFunds.
type Violation struct {
	Err    error
	Reason string
}

func (v *Violation) Error() string {
	return v.Reason
}

func (v *Violation) Unwrap() error {
	return v.Err
}

// Validate returns the balance that results from applying amount to current.
func Validate(current decimal.Decimal, amount decimal.NullDecimal, op Operation) (decimal.Decimal, error) {
	if !amount.Valid {
		return decimal.Decimal{}, &Violation{Err: ErrInvalidAmount, Reason: ReasonAmountRequired}
	}
	if !amount.Decimal.IsPositive() {
		return decimal.Decimal{}, &Violation{Err: ErrInvalidAmount, Reason: ReasonAmountNotPositive}
	}
	if !amount.Decimal.Equal(amount.Decimal.Truncate(model.BalanceScale)) {
		return decimal.Decimal{}, &Violation{Err: ErrInvalidAmount, Reason: ReasonAmountTooPrecise}
	}

	switch op {
	case Credit:
		return current.Add(amount.Decimal), nil
	case Debit:
		if current.LessThan(amount.Decimal) {
			return decimal.Decimal{}, &Violation{Err: ErrInsufficientFunds, Reason: ReasonInsufficientFunds}
		}
		return current.Sub(amount.Decimal), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unknown balance operation %q", op)
	}
}

// Reason returns the recorded reason for a validation error, or err's text.
func Reason(err error) string {
	var v *Violation
	if errors.As(err, &v) {
		return v.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
