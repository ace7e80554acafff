// Package memstore keeps accounts and transactions in memory. Each account has
// its own lock, so commits on disjoint accounts do not wait for each other.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
)

// Options hooks persistence into the store. A hook runs after a write has been
// validated and before it is applied; if it fails nothing is applied.
type Options struct {
	OnCommit func(b ledger.Batch) error
	OnCreate func(acct model.Account) error
}

type entry struct {
	lock chan struct{} // one-slot semaphore so waits observe ctx
	acct model.Account
	txns []string
}

func newEntry(acct model.Account) *entry {
	return &entry{lock: make(chan struct{}, 1), acct: acct}
}

func (e *entry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for account %s: %w", e.acct.ID, ctx.Err())
	}
}

func (e *entry) release() {
	<-e.lock
}

// Store is an in-memory ledger.Store.
type Store struct {
	opts Options

	mu       sync.RWMutex // guards accounts and byNumber
	accounts map[string]*entry
	byNumber map[string]string

	txMu sync.Mutex // guards txns; taken after account locks
	txns map[string]model.Transaction
}

var _ ledger.Store = (*Store)(nil)

// New creates an empty Store.
func New(opts Options) *Store {
	return &Store{
		opts:     opts,
		accounts: make(map[string]*entry),
		byNumber: make(map[string]string),
		txns:     make(map[string]model.Transaction),
	}
}

// Restore replaces the store contents without running hooks. Transactions are
// appended to their accounts in slice order.
func (s *Store) Restore(accounts []model.Account, txns []model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.accounts = make(map[string]*entry, len(accounts))
	s.byNumber = make(map[string]string, len(accounts))
	s.txns = make(map[string]model.Transaction, len(txns))

	for _, a := range accounts {
		if _, ok := s.accounts[a.ID]; ok {
			return fmt.Errorf("restoring account %s: %w", a.ID, ledger.ErrAccountExists)
		}
		s.accounts[a.ID] = newEntry(a)
		s.byNumber[a.AccountNumber] = a.ID
	}
	for _, t := range txns {
		e, ok := s.accounts[t.AccountID]
		if !ok {
			return fmt.Errorf("restoring transaction %s: %w: %s", t.ID, ledger.ErrAccountNotFound, t.AccountID)
		}
		if _, ok := s.txns[t.ID]; ok {
			return fmt.Errorf("restoring transaction %s: %w", t.ID, ledger.ErrDuplicateTransaction)
		}
		s.txns[t.ID] = t
		e.txns = append(e.txns, t.ID)
	}
	return nil
}

// CreateAccount adds a new account.
func (s *Store) CreateAccount(ctx context.Context, acct model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return fmt.Errorf("account id %s: %w", acct.ID, ledger.ErrAccountExists)
	}
	if _, ok := s.byNumber[acct.AccountNumber]; ok {
		return fmt.Errorf("account number %s: %w", acct.AccountNumber, ledger.ErrAccountExists)
	}
	if s.opts.OnCreate != nil {
		if err := s.opts.OnCreate(acct); err != nil {
			return err
		}
	}
	s.accounts[acct.ID] = newEntry(acct)
	s.byNumber[acct.AccountNumber] = acct.ID
	return nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[id]
	return e, ok
}

// GetAccount returns a copy of the account.
func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	e, ok := s.lookup(id)
	if !ok {
		return model.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if err := e.acquire(ctx); err != nil {
		return model.Account{}, err
	}
	defer e.release()
	return e.acct, nil
}

// ListAccounts returns every account ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.accounts))
	for _, e := range s.accounts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.Account, 0, len(entries))
	for _, e := range entries {
		if err := e.acquire(ctx); err != nil {
			return nil, err
		}
		out = append(out, e.acct)
		e.release()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListTransactions returns an account's records in commit order.
func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	e, ok := s.lookup(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	s.txMu.Lock()
	defer s.txMu.Unlock()

	out := make([]model.Transaction, 0, len(e.txns))
	for _, id := range e.txns {
		out = append(out, s.txns[id])
	}
	return out, nil
}

// CommitBatch locks every touched account in ascending id order, checks
// versions and transaction ids, then applies the whole batch.
func (s *Store) CommitBatch(ctx context.Context, b ledger.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}

	ids := b.AccountIDs()
	entries := make(map[string]*entry, len(ids))
	for _, id := range ids {
		e, ok := s.lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
		}
		entries[id] = e
	}

	for i, id := range ids {
		if err := entries[id].acquire(ctx); err != nil {
			for _, held := range ids[:i] {
				entries[held].release()
			}
			return err
		}
	}
	defer func() {
		for _, id := range ids {
			entries[id].release()
		}
	}()

	for _, m := range b.Accounts {
		if got := entries[m.Account.ID].acct.Version; got != m.ExpectedVersion {
			return fmt.Errorf("account %s at version %d, expected %d: %w", m.Account.ID, got, m.ExpectedVersion, ledger.ErrVersionConflict)
		}
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	staged := make(map[string]bool, len(b.Transactions))
	for _, t := range b.Transactions {
		if _, ok := s.txns[t.ID]; ok || staged[t.ID] {
			return fmt.Errorf("transaction %s: %w", t.ID, ledger.ErrDuplicateTransaction)
		}
		staged[t.ID] = true
	}

	if s.opts.OnCommit != nil {
		if err := s.opts.OnCommit(b); err != nil {
			return err
		}
	}

	for _, m := range b.Accounts {
		entries[m.Account.ID].acct = m.Account
	}
	for _, t := range b.Transactions {
		s.txns[t.ID] = t
		e := entries[t.AccountID]
		e.txns = append(e.txns, t.ID)
	}
	return nil
}
