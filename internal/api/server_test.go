package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesacore/pesacore/internal/accounts"
	"github.com/pesacore/pesacore/internal/api"
	"github.com/pesacore/pesacore/internal/idempotency"
	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
	"github.com/pesacore/pesacore/internal/store/memstore"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	store   *memstore.Store
}

func newAPI(t *testing.T, store ledger.Store, opts ...func(*api.Options)) *testAPI {
	t.Helper()
	mem := memstore.New(memstore.Options{})
	if store == nil {
		store = mem
	}
	o := api.Options{
		Accounts: accounts.NewService(mem, accounts.Options{}),
		Engine:   ledger.NewEngine(store, ledger.Options{}),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &testAPI{t: t, handler: api.NewServer(o).Handler(), store: mem}
}

func (a *testAPI) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (a *testAPI) createAccount(owner string) api.AccountResponse {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/api/v1/accounts", map[string]string{"ownerId": owner})
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[api.AccountResponse](a.t, rr)
}

func (a *testAPI) deposit(accountID, amount string) *httptest.ResponseRecorder {
	a.t.Helper()
	return a.do(http.MethodPost, "/api/v1/accounts/"+accountID+"/transactions/deposit", `{"amount":`+amount+`}`)
}

func TestCreateAndGetAccount(t *testing.T) {
	a := newAPI(t, nil)

	acct := a.createAccount("user-1")
	assert.Equal(t, "user-1", acct.OwnerID)
	assert.Equal(t, "KES", acct.Currency)
	assert.Equal(t, "0.0000", acct.Balance)
	assert.Regexp(t, `^ACC-[0-9A-F]{12}$`, acct.AccountNumber)

	rr := a.do(http.MethodGet, "/api/v1/accounts/"+acct.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, acct.AccountNumber, decode[api.AccountResponse](t, rr).AccountNumber)

	a.createAccount("user-2")
	rr = a.do(http.MethodGet, "/api/v1/accounts/all", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]api.AccountResponse](t, rr), 2)
}

func TestCreateAccount_Validation(t *testing.T) {
	a := newAPI(t, nil)
	tests := []struct {
		name string
		body any
	}{
		{"missing owner", map[string]string{}},
		{"bad currency", map[string]string{"ownerId": "u", "currency": "EURO"}},
		{"malformed", `{"ownerId":`},
		{"empty", nil},
		{"unknown field", map[string]string{"ownerId": "u", "balance": "100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := a.do(http.MethodPost, "/api/v1/accounts", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, api.CodeValidation, decode[api.ErrorResponse](t, rr).Code)
		})
	}
}

func TestGetAccount_Errors(t *testing.T) {
	a := newAPI(t, nil)

	rr := a.do(http.MethodGet, "/api/v1/accounts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(http.MethodGet, "/api/v1/accounts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, ledger.CodeAccountNotFound, decode[api.ErrorResponse](t, rr).Code)
}

func TestDepositAndWithdraw(t *testing.T) {
	a := newAPI(t, nil)
	acct := a.createAccount("u")

	rr := a.deposit(acct.ID, `"150.00"`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	txn := decode[api.TransactionResponse](t, rr)
	assert.Equal(t, "DEPOSIT", txn.Type)
	assert.Equal(t, "SUCCESS", txn.Status)
	assert.Equal(t, "150.0000", txn.Amount)
	assert.Equal(t, acct.ID, txn.AccountID)

	rr = a.do(http.MethodPost, "/api/v1/accounts/"+acct.ID+"/transactions/withdraw", `{"amount": 50.5}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "-50.5000", decode[api.TransactionResponse](t, rr).Amount)

	rr = a.do(http.MethodGet, "/api/v1/accounts/"+acct.ID, nil)
	assert.Equal(t, "99.5000", decode[api.AccountResponse](t, rr).Balance)
}

func TestDeposit_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		status   int
		code     string
		recorded bool
		reason   string
	}{
		{"zero", `"0"`, http.StatusBadRequest, ledger.CodeInvalidAmount, true, "amount must be greater than zero"},
		{"negative", `-5`, http.StatusBadRequest, ledger.CodeInvalidAmount, true, "amount must be greater than zero"},
		{"null", `null`, http.StatusBadRequest, ledger.CodeInvalidAmount, true, "amount is required"},
		{"below minimum", `"0.001"`, http.StatusBadRequest, api.CodeValidation, false, ""},
		{"too precise", `"1.00001"`, http.StatusBadRequest, api.CodeValidation, false, ""},
		{"not a number", `"ten"`, http.StatusBadRequest, api.CodeValidation, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAPI(t, nil)
			acct := a.createAccount("u")

			rr := a.deposit(acct.ID, tt.amount)
			assert.Equal(t, tt.status, rr.Code)
			body := decode[api.ErrorResponse](t, rr)
			assert.Equal(t, tt.code, body.Code)

			if tt.recorded {
				require.NotNil(t, body.Transaction)
				assert.Equal(t, "FAILED", body.Transaction.Status)
				assert.Equal(t, tt.reason, body.Transaction.Reason)
			} else {
				assert.Nil(t, body.Transaction)
			}

			hist := decode[[]api.TransactionResponse](t, a.do(http.MethodGet, "/api/v1/accounts/"+acct.ID+"/transactions", nil))
			if tt.recorded {
				assert.Len(t, hist, 1)
			} else {
				assert.Empty(t, hist)
			}
		})
	}
}

func TestDeposit_TrailingZerosAccepted(t *testing.T) {
	a := newAPI(t, nil)
	acct := a.createAccount("u")
	rr := a.deposit(acct.ID, `"10.500000"`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	a := newAPI(t, nil)
	acct := a.createAccount("u")
	require.Equal(t, http.StatusOK, a.deposit(acct.ID, `"10"`).Code)

	rr := a.do(http.MethodPost, "/api/v1/accounts/"+acct.ID+"/transactions/withdraw", `{"amount":"10.01"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decode[api.ErrorResponse](t, rr)
	assert.Equal(t, ledger.CodeInsufficientFunds, body.Code)
	require.NotNil(t, body.Transaction)
	assert.Equal(t, "insufficient funds", body.Transaction.Reason)
}

func TestTransfer(t *testing.T) {
	a := newAPI(t, nil)
	sender := a.createAccount("alice")
	recipient := a.createAccount("bob")
	require.Equal(t, http.StatusOK, a.deposit(sender.ID, `"150.00"`).Code)
	require.Equal(t, http.StatusOK, a.deposit(recipient.ID, `"20.00"`).Code)

	rr := a.do(http.MethodPost, "/api/v1/accounts/"+sender.ID+"/transactions/transfer",
		map[string]string{"recipientAccountId": recipient.ID, "amount": "100.00"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	res := decode[api.TransferResponse](t, rr)
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, "SUCCESS", res.Status)
	assert.Equal(t, "100.0000", res.Amount)
	assert.Equal(t, "KES", res.Currency)
	assert.Equal(t, sender.ID, res.Sender.ID)
	assert.Equal(t, "50.0000", res.Sender.Balance)
	assert.Equal(t, recipient.ID, res.Receiver.AccountID)
	assert.Equal(t, recipient.AccountNumber, res.Receiver.AccountNumber)
	assert.Equal(t, "bob", res.Receiver.OwnerID)

	raw := map[string]any{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.NotContains(t, raw["receiver"], "balance")

	got := decode[api.AccountResponse](t, a.do(http.MethodGet, "/api/v1/accounts/"+recipient.ID, nil))
	assert.Equal(t, "120.0000", got.Balance)

	hist := decode[[]api.TransactionResponse](t, a.do(http.MethodGet, "/api/v1/accounts/"+recipient.ID+"/transactions", nil))
	require.Len(t, hist, 2)
	assert.Equal(t, "received 100.0000 from "+sender.AccountNumber, hist[1].Reason)
	assert.Equal(t, sender.ID, hist[1].Counterparty)

	for _, id := range []string{sender.ID, recipient.ID} {
		rec := decode[api.ReconciliationResponse](t, a.do(http.MethodGet, "/api/v1/accounts/"+id+"/reconciliation", nil))
		assert.True(t, rec.Balanced)
		assert.Equal(t, rec.Balance, rec.ComputedBalance)
	}
}

func TestTransfer_Rejections(t *testing.T) {
	a := newAPI(t, nil)
	sender := a.createAccount("alice")
	require.Equal(t, http.StatusOK, a.deposit(sender.ID, `"50"`).Code)
	path := "/api/v1/accounts/" + sender.ID + "/transactions/transfer"

	rr := a.do(http.MethodPost, path, map[string]string{"recipientAccountId": sender.ID, "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[api.ErrorResponse](t, rr)
	assert.Equal(t, ledger.CodeInvalidAmount, body.Code)
	assert.Nil(t, body.Transaction)

	rr = a.do(http.MethodPost, path, map[string]string{"amount": "10"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, api.CodeValidation, decode[api.ErrorResponse](t, rr).Code)

	rr = a.do(http.MethodPost, path, map[string]string{"recipientAccountId": uuid.NewString(), "amount": "10"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rr).Message, "receiver account not found")

	recipient := a.createAccount("bob")
	rr = a.do(http.MethodPost, path, map[string]string{"recipientAccountId": recipient.ID, "amount": "75"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	hist := decode[[]api.TransactionResponse](t, a.do(http.MethodGet, "/api/v1/accounts/"+recipient.ID+"/transactions", nil))
	assert.Empty(t, hist)
}

type downStore struct {
	ledger.Store
}

func (downStore) CommitBatch(context.Context, ledger.Batch) error {
	return errors.New("connection refused")
}

func TestStoreFailureIs503(t *testing.T) {
	mem := memstore.New(memstore.Options{})
	a := newAPI(t, downStore{Store: mem}, func(o *api.Options) {
		o.Accounts = accounts.NewService(mem, accounts.Options{})
	})
	acct := a.createAccount("u")

	rr := a.deposit(acct.ID, `"10"`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[api.ErrorResponse](t, rr)
	assert.Equal(t, ledger.CodeStoreUnavailable, body.Code)
	assert.NotContains(t, body.Message, "connection refused")

	got, err := mem.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
}

// downRepository fails every account lookup the way an unreachable database would.
type downRepository struct{}

func (downRepository) CreateAccount(context.Context, model.Account) error {
	return errors.New("dial tcp: connection refused")
}

func (downRepository) GetAccount(context.Context, string) (model.Account, error) {
	return model.Account{}, errors.New("dial tcp: connection refused")
}

func (downRepository) ListAccounts(context.Context) ([]model.Account, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestAccountStoreFailureIs503(t *testing.T) {
	a := newAPI(t, nil, func(o *api.Options) {
		o.Accounts = accounts.NewService(downRepository{}, accounts.Options{})
	})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"create", http.MethodPost, "/api/v1/accounts", map[string]string{"ownerId": "u"}},
		{"get", http.MethodGet, "/api/v1/accounts/" + uuid.NewString(), nil},
		{"list", http.MethodGet, "/api/v1/accounts/all", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := a.do(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusServiceUnavailable, rr.Code, rr.Body.String())
			body := decode[api.ErrorResponse](t, rr)
			assert.Equal(t, ledger.CodeStoreUnavailable, body.Code)
			assert.NotContains(t, body.Message, "connection refused")
		})
	}

	rr := a.do(http.MethodPost, "/api/v1/accounts", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORS(t *testing.T) {
	a := newAPI(t, nil, func(o *api.Options) {
		o.AllowedOrigins = []string{"http://localhost:3000"}
	})

	rr := a.do(http.MethodOptions, "/api/v1/accounts", nil,
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodPost)
	assert.Less(t, rr.Code, 300)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	rr = a.do(http.MethodGet, "/api/v1/accounts/all", nil, "Origin", "http://evil.example")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_DisabledWithoutOrigins(t *testing.T) {
	a := newAPI(t, nil)
	rr := a.do(http.MethodGet, "/api/v1/accounts/all", nil, "Origin", "http://localhost:3000")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestIdempotentDeposit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	a := newAPI(t, nil, func(o *api.Options) {
		o.Idempotency = idempotency.Middleware(rdb, idempotency.Options{})
	})
	acct := a.createAccount("u")
	path := "/api/v1/accounts/" + acct.ID + "/transactions/deposit"

	first := a.do(http.MethodPost, path, `{"amount":"25"}`, idempotency.Header, "dep-1")
	second := a.do(http.MethodPost, path, `{"amount":"25"}`, idempotency.Header, "dep-1")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotency.ReplayedHeader))
	assert.Equal(t, decode[api.TransactionResponse](t, first).TransactionID, decode[api.TransactionResponse](t, second).TransactionID)

	got := decode[api.AccountResponse](t, a.do(http.MethodGet, "/api/v1/accounts/"+acct.ID, nil))
	assert.Equal(t, "25.0000", got.Balance)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	a := newAPI(t, nil)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/nope", nil).Code)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, api.Status(ledger.CodeAccountNotFound))
	assert.Equal(t, http.StatusBadRequest, api.Status(ledger.CodeInvalidAmount))
	assert.Equal(t, http.StatusUnprocessableEntity, api.Status(ledger.CodeInsufficientFunds))
	assert.Equal(t, http.StatusServiceUnavailable, api.Status(ledger.CodeStoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, api.Status(ledger.CodeInternal))
}

func TestNewTransferResponseUsesMagnitude(t *testing.T) {
	res := api.NewTransferResponse(ledger.TransferResult{
		Status: model.StatusSuccess,
		Sender: model.AccountSummary{ID: "s"},
	})
	assert.Equal(t, "0.0000", res.Amount)
	assert.Equal(t, "SUCCESS", res.Status)
}
