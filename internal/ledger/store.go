package ledger

import (
	"context"
	"sort"

	"github.com/pesacore/pesacore/internal/model"
)

// Store is the durable home of accounts and transactions that the engine
// builds on. Implementations must be safe for concurrent use.
type Store interface {
	// GetAccount returns ErrAccountNotFound when id is unknown.
	GetAccount(ctx context.Context, id string) (model.Account, error)
	// CommitBatch applies every staged write or none of them. It returns
	// ErrVersionConflict or ErrDuplicateTransaction without applying anything.
	CommitBatch(ctx context.Context, b Batch) error
	// ListTransactions returns an account's records, oldest first.
	ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error)
}

// AccountMutation stages a new account state, valid only against the version
// it was read at.
type AccountMutation struct {
	Account         model.Account
	ExpectedVersion int64
}

// Batch is a set of writes committed together.
type Batch struct {
	Accounts     []AccountMutation
	Transactions []model.Transaction
}

// SaveAccount stages acct. The stored account must still be at expectedVersion
// when the batch commits; acct.Version is set to expectedVersion+1.
func (b *Batch) SaveAccount(acct model.Account, expectedVersion int64) {
	acct.Version = expectedVersion + 1
	b.Accounts = append(b.Accounts, AccountMutation{Account: acct, ExpectedVersion: expectedVersion})
}

// SaveTransaction stages an immutable transaction record.
func (b *Batch) SaveTransaction(txn model.Transaction) {
	b.Transactions = append(b.Transactions, txn)
}

// Empty reports whether the batch stages nothing.
func (b Batch) Empty() bool {
	return len(b.Accounts) == 0 && len(b.Transactions) == 0
}

// AccountIDs returns every account the batch touches in ascending order, the
// order stores lock in.
func (b Batch) AccountIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, m := range b.Accounts {
		add(m.Account.ID)
	}
	for _, t := range b.Transactions {
		add(t.AccountID)
	}
	sort.Strings(ids)
	return ids
}

// SortedAccounts returns the staged account mutations in ascending id order.
func (b Batch) SortedAccounts() []AccountMutation {
	out := make([]AccountMutation, len(b.Accounts))
	copy(out, b.Accounts)
	sort.Slice(out, func(i, j int) bool { return out[i].Account.ID < out[j].Account.ID })
	return out
}
