// Package pgstore is a ledger.Store on PostgreSQL. A batch commits in one
// database transaction; optimistic version checks ride on the UPDATE itself.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Config holds connection settings.
type Config struct {
	URL      string
	MaxConns int32
}

// Store is a PostgreSQL ledger.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is not set")
	}

	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

const accountColumns = `id, account_number, owner_id, balance::text, currency, version, created_at, updated_at`

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	var balance string
	if err := row.Scan(&a.ID, &a.AccountNumber, &a.OwnerID, &balance, &a.Currency, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return model.Account{}, err
	}
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return model.Account{}, fmt.Errorf("parsing balance %q: %w", balance, err)
	}
	a.Balance = d
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return a, nil
}

// CreateAccount inserts acct.
func (s *Store) CreateAccount(ctx context.Context, acct model.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, account_number, owner_id, balance, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
		acct.ID, acct.AccountNumber, acct.OwnerID, acct.Balance.String(), acct.Currency, acct.Version, acct.CreatedAt, acct.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s: %w", acct.ID, ledger.ErrAccountExists)
	}
	if err != nil {
		return fmt.Errorf("inserting account %s: %w", acct.ID, err)
	}
	return nil
}

// GetAccount returns the account with id.
func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("selecting account %s: %w", id, err)
	}
	return a, nil
}

// ListAccounts returns every account ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListTransactions returns an account's records in commit order.
func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking account %s: %w", accountID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, counterparty, type, status, amount::text, currency, reason, created_at
		FROM transactions WHERE account_id = $1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var typ, status, amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Counterparty, &typ, &status, &amount, &t.Currency, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
		}
		t.Type = model.TransactionType(typ)
		t.Status = model.TransactionStatus(status)
		t.Amount = d
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// CommitBatch applies b in one database transaction. Accounts are updated in
// ascending id order, each guarded by its expected version.
func (s *Store) CommitBatch(ctx context.Context, b ledger.Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range b.SortedAccounts() {
		a := m.Account
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET balance = $2::numeric, version = $3, updated_at = $4
			WHERE id = $1 AND version = $5`,
			a.ID, a.Balance.String(), a.Version, a.UpdatedAt, m.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("updating account %s: %w", a.ID, err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := s.getInTx(ctx, tx, a.ID); err != nil {
				return err
			}
			return fmt.Errorf("account %s changed since version %d: %w", a.ID, m.ExpectedVersion, ledger.ErrVersionConflict)
		}
	}

	for _, t := range b.Transactions {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (id, account_id, counterparty, type, status, amount, currency, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)`,
			t.ID, t.AccountID, t.Counterparty, string(t.Type), string(t.Status), t.Amount.String(), t.Currency, t.Reason, t.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", t.ID, ledger.ErrDuplicateTransaction)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("transaction %s: %w: %s", t.ID, ledger.ErrAccountNotFound, t.AccountID)
		}
		if err != nil {
			return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (s *Store) getInTx(ctx context.Context, tx pgx.Tx, id string) (model.Account, error) {
	a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("selecting account %s: %w", id, err)
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
