package accounts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesacore/pesacore/internal/id"
	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
	"github.com/pesacore/pesacore/internal/store/memstore"
)

var now = time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	return NewService(repo, Options{Now: func() time.Time { return now }})
}

func TestCreate(t *testing.T) {
	svc := newTestService(memstore.New(memstore.Options{}))

	acct, err := svc.Create(context.Background(), CreateParams{OwnerID: " user-1 ", Currency: "usd"})
	require.NoError(t, err)

	assert.NotEmpty(t, acct.ID)
	assert.NoError(t, id.ValidateAccountNumber(acct.AccountNumber))
	assert.Equal(t, "user-1", acct.OwnerID)
	assert.Equal(t, "USD", acct.Currency)
	assert.True(t, acct.Balance.IsZero())
	assert.Zero(t, acct.Version)
	assert.Equal(t, now, acct.CreatedAt)

	got, err := svc.Get(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.AccountNumber, got.AccountNumber)
}

func TestCreate_DefaultCurrency(t *testing.T) {
	svc := NewService(memstore.New(memstore.Options{}), Options{DefaultCurrency: "TZS"})
	acct, err := svc.Create(context.Background(), CreateParams{OwnerID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "TZS", acct.Currency)
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService(memstore.New(memstore.Options{}))
	tests := []struct {
		name string
		p    CreateParams
		want error
	}{
		{"no owner", CreateParams{OwnerID: "  "}, ErrOwnerRequired},
		{"long currency", CreateParams{OwnerID: "u", Currency: "EURO"}, ErrInvalidCurrency},
		{"digits", CreateParams{OwnerID: "u", Currency: "K3S"}, ErrInvalidCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.p)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	accts, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accts)
}

func TestCreate_RetriesTakenNumber(t *testing.T) {
	store := memstore.New(memstore.Options{})
	numbers := []string{"ACC-000000000001", "ACC-000000000001", "ACC-000000000002"}
	n := 0
	svc := NewService(store, Options{NewNumber: func() string {
		defer func() { n++ }()
		return numbers[n]
	}})

	first, err := svc.Create(context.Background(), CreateParams{OwnerID: "a"})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), CreateParams{OwnerID: "b"})
	require.NoError(t, err)

	assert.Equal(t, "ACC-000000000001", first.AccountNumber)
	assert.Equal(t, "ACC-000000000002", second.AccountNumber)
}

type failingRepo struct {
	Repository
	err error
}

func (r failingRepo) CreateAccount(context.Context, model.Account) error { return r.err }

func TestCreate_RepositoryError(t *testing.T) {
	boom := errors.New("disk full")
	svc := newTestService(failingRepo{Repository: memstore.New(memstore.Options{}), err: boom})
	_, err := svc.Create(context.Background(), CreateParams{OwnerID: "u"})
	assert.ErrorIs(t, err, boom)
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(memstore.New(memstore.Options{}))
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestList_Ordered(t *testing.T) {
	clock := now
	svc := NewService(memstore.New(memstore.Options{}), Options{Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}})
	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), CreateParams{OwnerID: fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
	}

	accts, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accts, 3)
	for i, a := range accts {
		assert.Equal(t, fmt.Sprintf("u%d", i), a.OwnerID)
	}
}

func TestValidCurrency(t *testing.T) {
	assert.True(t, ValidCurrency("KES"))
	assert.False(t, ValidCurrency("kes"))
	assert.False(t, ValidCurrency(""))
}
