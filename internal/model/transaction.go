package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the operation that produced a transaction record.
type TransactionType string

const (
	TypeDeposit  TransactionType = "DEPOSIT"
	TypeWithdraw TransactionType = "WITHDRAW"
	TypeTransfer TransactionType = "TRANSFER"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdraw, TypeTransfer:
		return true
	}
	return false
}

// TransactionStatus is the outcome recorded for a transaction.
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusFailed  TransactionStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Transaction is one immutable audit record against a single account.
type Transaction struct {
	ID           string
	AccountID    string
	Counterparty string // other account of a transfer, empty otherwise
	Type         TransactionType
	Status       TransactionStatus
	Amount       decimal.Decimal // positive = credit, negative = debit
	Currency     string
	Reason       string
	CreatedAt    time.Time
}

// Succeeded reports whether the record moved the account balance.
func (t Transaction) Succeeded() bool {
	return t.Status == StatusSuccess
}

// SumSucceeded returns the sum of signed amounts of the successful records in txns.
func SumSucceeded(txns []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txns {
		if t.Succeeded() {
			total = total.Add(t.Amount)
		}
	}
	return total
}
