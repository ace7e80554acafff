// Package csvstore persists the ledger as two CSV files in a data directory:
// accounts.csv, a registry of opened accounts, and transactions.csv, an
// append-only journal. Balances and versions are rebuilt by replaying the
// journal when the store is opened. An open Store holds an exclusive lock on
// the directory until Close, so only one process replays and appends at a time.
package csvstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
	"github.com/pesacore/pesacore/internal/store/memstore"
)

const (
	accountsFile     = "accounts.csv"
	transactionsFile = "transactions.csv"
	lockFile         = "LOCK"

	lockRetryDelay = 10 * time.Millisecond
)

// ErrUnrepresentable is returned for a batch whose account mutations are not
// each backed by exactly one successful transaction, since replay could not
// reproduce it.
var ErrUnrepresentable = errors.New("batch cannot be journaled")

var (
	// ErrLocked is returned by Open when another Store holds the directory
	// until ctx is done.
	ErrLocked = errors.New("data directory is locked by another process")
	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("store is closed")
)

// Store is a ledger.Store backed by CSV files. Reads are served from memory.
type Store struct {
	*memstore.Store

	dir    string
	log    *zap.Logger
	lock   *flock.Flock
	mu     sync.Mutex // serializes file writes
	size   int64      // length of transactions.csv after the last good append
	closed bool
}

var _ ledger.Store = (*Store)(nil)

// Open locks dir and loads the ledger in it, creating the directory and files
// if needed. It waits for another Store's lock until ctx is done. A torn final
// batch left by a crash is cut off.
func Open(ctx context.Context, dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("locking data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	s := &Store{
		dir:  dir,
		log:  logger.With(zap.String("store", "csv"), zap.String("dir", dir)),
		lock: lock,
	}
	s.Store = memstore.New(memstore.Options{
		OnCommit: s.appendBatch,
		OnCreate: s.appendAccount,
	})

	if err := s.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	accts, err := s.loadAccounts()
	if err != nil {
		return err
	}
	rows, err := s.loadJournal()
	if err != nil {
		return err
	}

	replayed, txns, err := Replay(accts, rows)
	if err != nil {
		return err
	}
	if err := s.Restore(replayed, txns); err != nil {
		return fmt.Errorf("restoring ledger: %w", err)
	}

	s.log.Info("ledger opened", zap.Int("accounts", len(replayed)), zap.Int("transactions", len(txns)))
	return nil
}

// Close releases the directory lock. Later writes fail with ErrClosed; reads
// keep serving the last loaded state. Close is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlocking data dir: %w", err)
	}
	return nil
}

// Replay rebuilds balances and versions from the journal. Each successful row
// moves its account's balance by its amount and bumps its version by one.
func Replay(accts []model.Account, rows []Row) ([]model.Account, []model.Transaction, error) {
	index := make(map[string]int, len(accts))
	out := make([]model.Account, len(accts))
	for i, a := range accts {
		index[a.ID] = i
		out[i] = a
	}

	txns := make([]model.Transaction, 0, len(rows))
	for _, r := range rows {
		i, ok := index[r.Txn.AccountID]
		if !ok {
			return nil, nil, fmt.Errorf("transaction %s: %w: %s", r.Txn.ID, ledger.ErrAccountNotFound, r.Txn.AccountID)
		}
		if r.Txn.Succeeded() {
			out[i].Balance = out[i].Balance.Add(r.Txn.Amount)
			out[i].Version++
			out[i].UpdatedAt = r.Txn.CreatedAt
		}
		txns = append(txns, r.Txn)
	}
	return out, txns, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) loadAccounts() ([]model.Account, error) {
	path := s.path(accountsFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		if err := os.WriteFile(path, []byte(AccountsHeader+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("creating %s: %w", accountsFile, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", accountsFile, err)
	}

	if i := bytes.LastIndexByte(data, '\n'); i+1 != len(data) {
		s.log.Warn("truncating torn account row", zap.Int("offset", i+1))
		data = data[:i+1]
		if len(data) == 0 {
			data = []byte(AccountsHeader + "\n")
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return nil, fmt.Errorf("rewriting %s: %w", accountsFile, err)
			}
		} else if err := os.Truncate(path, int64(len(data))); err != nil {
			return nil, fmt.Errorf("truncating %s: %w", accountsFile, err)
		}
	}

	accts, err := ReadAccounts(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", accountsFile, err)
	}
	return accts, nil
}

func (s *Store) loadJournal() ([]Row, error) {
	path := s.path(transactionsFile)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", transactionsFile, err)
	}

	j, err := ReadJournal(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", transactionsFile, err)
	}

	if j.Valid == 0 {
		header := []byte(TransactionsHeader + "\n")
		if err := os.WriteFile(path, header, 0o644); err != nil {
			return nil, fmt.Errorf("creating %s: %w", transactionsFile, err)
		}
		s.size = int64(len(header))
		return nil, nil
	}

	if j.Valid < int64(len(data)) {
		s.log.Warn("truncating torn batch",
			zap.Int64("offset", j.Valid), zap.Int64("dropped_bytes", int64(len(data))-j.Valid))
		if err := os.Truncate(path, j.Valid); err != nil {
			return nil, fmt.Errorf("truncating %s: %w", transactionsFile, err)
		}
	}
	s.size = j.Valid
	return j.Rows, nil
}

func (s *Store) appendAccount(a model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(MarshalAccount(a)); err != nil {
		return fmt.Errorf("encoding account %s: %w", a.ID, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("encoding account %s: %w", a.ID, err)
	}

	if err := appendFile(s.path(accountsFile), buf.Bytes()); err != nil {
		return fmt.Errorf("appending account %s: %w", a.ID, err)
	}
	return nil
}

// appendBatch writes the whole batch in a single append and syncs it. On a
// failed write the file is cut back to its previous length.
func (s *Store) appendBatch(b ledger.Batch) error {
	if err := checkRepresentable(b); err != nil {
		return err
	}

	batchID := uuid.NewString()
	rows := make([]Row, len(b.Transactions))
	for i, t := range b.Transactions {
		rows[i] = Row{BatchID: batchID, BatchSize: len(b.Transactions), Txn: t}
	}

	var buf bytes.Buffer
	if err := AppendRows(&buf, rows); err != nil {
		return fmt.Errorf("encoding batch %s: %w", batchID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	path := s.path(transactionsFile)
	if err := appendFile(path, buf.Bytes()); err != nil {
		if terr := os.Truncate(path, s.size); terr != nil {
			s.log.Error("rolling back torn append", zap.String("batch_id", batchID), zap.Error(terr))
		}
		return fmt.Errorf("appending batch %s: %w", batchID, err)
	}
	s.size += int64(buf.Len())
	return nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func checkRepresentable(b ledger.Batch) error {
	if len(b.Transactions) == 0 {
		return fmt.Errorf("%w: no transactions", ErrUnrepresentable)
	}

	succeeded := make(map[string]int)
	for _, t := range b.Transactions {
		if t.Succeeded() {
			succeeded[t.AccountID]++
		}
	}
	var bad []string
	for _, m := range b.Accounts {
		if succeeded[m.Account.ID] != 1 {
			bad = append(bad, m.Account.ID)
		}
		delete(succeeded, m.Account.ID)
	}
	for acct := range succeeded {
		bad = append(bad, acct)
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: accounts %s", ErrUnrepresentable, strings.Join(bad, ", "))
	}
	return nil
}
