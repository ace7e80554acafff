package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceScale is the number of fractional digits a balance carries.
const BalanceScale = 4

// Account is a ledger account. Balance is only ever changed by the transaction engine.
type Account struct {
	ID            string
	AccountNumber string
	OwnerID       string
	Balance       decimal.Decimal
	Currency      string
	Version       int64 // incremented once per committed mutation
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Summary returns the transport-neutral view of an account.
func (a Account) Summary() AccountSummary {
	return AccountSummary{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		OwnerID:       a.OwnerID,
		Balance:       a.Balance,
		Currency:      a.Currency,
	}
}

// AccountSummary identifies an account in operation results.
type AccountSummary struct {
	ID            string
	AccountNumber string
	OwnerID       string
	Balance       decimal.Decimal
	Currency      string
}

// FormatAmount renders an amount at balance scale, e.g. "150.0000".
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(BalanceScale)
}
