// Package accounts opens and looks up ledger accounts.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesacore/pesacore/internal/id"
	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
)

var (
	ErrOwnerRequired   = errors.New("owner id is required")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter ISO code")
)

// numberAttempts bounds retries when a generated account number is taken.
const numberAttempts = 3

// Repository is the account storage the service needs. Every ledger store
// in this module satisfies it.
type Repository interface {
	CreateAccount(ctx context.Context, acct model.Account) error
	GetAccount(ctx context.Context, id string) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// CreateParams describes a new account. An empty Currency takes the service default.
type CreateParams struct {
	OwnerID  string
	Currency string
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	DefaultCurrency string
	Now             func() time.Time
	NewID           func() string
	NewNumber       func() string
}

// Service provides account creation and lookup over a Repository.
type Service struct {
	repo     Repository
	currency string
	now      func() time.Time
	newID    func() string
	newNum   func() string
}

// NewService creates a Service over repo.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:     repo,
		currency: opts.DefaultCurrency,
		now:      opts.Now,
		newID:    opts.NewID,
		newNum:   opts.NewNumber,
	}
	if s.currency == "" {
		s.currency = "KES"
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = id.NewAccountID
	}
	if s.newNum == nil {
		s.newNum = id.NewAccountNumber
	}
	return s
}

// ValidCurrency reports whether c is three upper-case ASCII letters.
func ValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Create opens an account at zero balance.
func (s *Service) Create(ctx context.Context, p CreateParams) (model.Account, error) {
	owner := strings.TrimSpace(p.OwnerID)
	if owner == "" {
		return model.Account{}, ErrOwnerRequired
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = s.currency
	}
	if !ValidCurrency(currency) {
		return model.Account{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, p.Currency)
	}

	now := s.now()
	acct := model.Account{
		ID:        s.newID(),
		OwnerID:   owner,
		Balance:   decimal.Zero,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var err error
	for i := 0; i < numberAttempts; i++ {
		acct.AccountNumber = s.newNum()
		err = s.repo.CreateAccount(ctx, acct)
		if !errors.Is(err, ledger.ErrAccountExists) {
			break
		}
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("creating account: %w", err)
	}
	return acct, nil
}

// Get returns an account by ID.
func (s *Service) Get(ctx context.Context, accountID string) (model.Account, error) {
	acct, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return model.Account{}, err
	}
	return acct, nil
}

// List returns all accounts, oldest first.
func (s *Service) List(ctx context.Context) ([]model.Account, error) {
	accts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accts, nil
}
