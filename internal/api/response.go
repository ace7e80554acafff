package api

import (
	"time"

	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
)

// Amounts are rendered as strings at balance scale.

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID            string    `json:"id"`
	AccountNumber string    `json:"accountNumber"`
	OwnerID       string    `json:"ownerId"`
	Balance       string    `json:"balance"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// RecipientResponse identifies the receiving side of a transfer without
// disclosing its balance.
type RecipientResponse struct {
	AccountID     string `json:"accountId"`
	AccountNumber string `json:"accountNumber"`
	OwnerID       string `json:"ownerId"`
}

// SenderResponse is the sending side of a transfer after the debit.
type SenderResponse struct {
	ID            string `json:"id"`
	AccountNumber string `json:"accountNumber"`
	OwnerID       string `json:"ownerId"`
	Balance       string `json:"balance"`
	Currency      string `json:"currency"`
}

// TransactionResponse is one ledger record.
type TransactionResponse struct {
	TransactionID string    `json:"transactionId"`
	AccountID     string    `json:"accountId"`
	Counterparty  string    `json:"counterpartyAccountId,omitempty"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// TransferResponse reports a committed transfer from the sender's side.
type TransferResponse struct {
	TransactionID string            `json:"transactionId"`
	Status        string            `json:"status"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	Timestamp     time.Time         `json:"timestamp"`
	Sender        SenderResponse    `json:"sender"`
	Receiver      RecipientResponse `json:"receiver"`
}

// ReconciliationResponse reports the balance invariant for one account.
type ReconciliationResponse struct {
	AccountID       string `json:"accountId"`
	AccountNumber   string `json:"accountNumber"`
	Balance         string `json:"balance"`
	ComputedBalance string `json:"computedBalance"`
	Version         int64  `json:"version"`
	Succeeded       int    `json:"succeeded"`
	Failed          int    `json:"failed"`
	Balanced        bool   `json:"balanced"`
}

// ErrorResponse is the body of every non-2xx reply. Transaction is the Failed
// record of a rejected operation.
type ErrorResponse struct {
	Code        string               `json:"code"`
	Message     string               `json:"message"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
}

func NewAccountResponse(a model.Account) AccountResponse {
	return AccountResponse{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		OwnerID:       a.OwnerID,
		Balance:       model.FormatAmount(a.Balance),
		Currency:      a.Currency,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func NewAccountResponses(accts []model.Account) []AccountResponse {
	out := make([]AccountResponse, 0, len(accts))
	for _, a := range accts {
		out = append(out, NewAccountResponse(a))
	}
	return out
}

func NewTransactionResponse(t model.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Counterparty:  t.Counterparty,
		Type:          string(t.Type),
		Status:        string(t.Status),
		Amount:        model.FormatAmount(t.Amount),
		Currency:      t.Currency,
		Reason:        t.Reason,
		Timestamp:     t.CreatedAt,
	}
}

func NewTransactionResponses(txns []model.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, NewTransactionResponse(t))
	}
	return out
}

// NewTransferResponse assembles the transfer reply. Amount is the transferred
// magnitude, not the sender's signed record amount.
func NewTransferResponse(r ledger.TransferResult) TransferResponse {
	return TransferResponse{
		TransactionID: r.TransactionID,
		Status:        string(r.Status),
		Amount:        model.FormatAmount(r.Amount),
		Currency:      r.Currency,
		Timestamp:     r.Timestamp,
		Sender: SenderResponse{
			ID:            r.Sender.ID,
			AccountNumber: r.Sender.AccountNumber,
			OwnerID:       r.Sender.OwnerID,
			Balance:       model.FormatAmount(r.Sender.Balance),
			Currency:      r.Sender.Currency,
		},
		Receiver: RecipientResponse{
			AccountID:     r.Recipient.ID,
			AccountNumber: r.Recipient.AccountNumber,
			OwnerID:       r.Recipient.OwnerID,
		},
	}
}

func NewReconciliationResponse(r ledger.Reconciliation) ReconciliationResponse {
	return ReconciliationResponse{
		AccountID:       r.AccountID,
		AccountNumber:   r.AccountNumber,
		Balance:         model.FormatAmount(r.Balance),
		ComputedBalance: model.FormatAmount(r.Computed),
		Version:         r.Version,
		Succeeded:       r.Succeeded,
		Failed:          r.Failed,
		Balanced:        r.Balanced(),
	}
}
