// Package api serves the ledger over HTTP under /api/v1/accounts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pesacore/pesacore/internal/accounts"
	"github.com/pesacore/pesacore/internal/id"
	"github.com/pesacore/pesacore/internal/idempotency"
	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
)

const maxBodyBytes = 1 << 20

// MinAmount is the smallest positive amount accepted over HTTP.
var MinAmount = decimal.New(1, -2)

// Options wires a Server. Idempotency, when set, wraps every POST route.
// AllowedOrigins, when set, enables CORS for those origins.
type Options struct {
	Accounts       *accounts.Service
	Engine         *ledger.Engine
	Logger         *zap.Logger
	Idempotency    func(http.Handler) http.Handler
	AllowedOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	accounts *accounts.Service
	engine   *ledger.Engine
	log      *zap.Logger
	idem     func(http.Handler) http.Handler
	origins  []string
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	s := &Server{
		accounts: opts.Accounts,
		engine:   opts.Engine,
		log:      opts.Logger,
		idem:     opts.Idempotency,
		origins:  opts.AllowedOrigins,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.idem == nil {
		s.idem = func(next http.Handler) http.Handler { return next }
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{idempotency.ReplayedHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/accounts", func(r chi.Router) {
		r.With(s.idem).Post("/", s.createAccount)
		r.Get("/all", s.listAccounts)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getAccount)
			r.Get("/transactions", s.history)
			r.Get("/reconciliation", s.reconcile)

			r.Group(func(r chi.Router) {
				r.Use(s.idem)
				r.Post("/transactions/deposit", s.deposit)
				r.Post("/transactions/withdraw", s.withdraw)
				r.Post("/transactions/transfer", s.transfer)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: "ROUTE_NOT_FOUND", Message: "no such route"})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

type createAccountRequest struct {
	OwnerID  string `json:"ownerId"`
	Currency string `json:"currency"`
}

type transactionRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
}

type transferRequest struct {
	RecipientAccountID string              `json:"recipientAccountId"`
	Amount             decimal.NullDecimal `json:"amount"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("request body is required")
		}
		return invalid(fmt.Sprintf("malformed request body: %v", err))
	}
	return nil
}

func pathID(r *http.Request) (string, error) {
	accountID, err := id.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		return "", invalid(err.Error())
	}
	return accountID, nil
}

// ValidateAmount applies the transport limits: at most four fractional digits
// and, when positive, at least MinAmount. Null, zero and negative amounts go
// through so the ledger records the rejected attempt.
func ValidateAmount(amount decimal.NullDecimal) error {
	if !amount.Valid {
		return nil
	}
	d := amount.Decimal
	if !d.Equal(d.Truncate(4)) {
		return invalid("amount must have at most 4 fractional digits")
	}
	if d.IsPositive() && d.LessThan(MinAmount) {
		return invalid("amount must be at least " + MinAmount.StringFixed(2))
	}
	return nil
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.accounts.Create(r.Context(), accounts.CreateParams{OwnerID: req.OwnerID, Currency: req.Currency})
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusCreated, NewAccountResponse(acct))
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.accounts.List(r.Context())
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, NewAccountResponses(accts))
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.accounts.Get(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, NewAccountResponse(acct))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	txns, err := s.engine.History(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTransactionResponses(txns))
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.engine.Reconcile(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewReconciliationResponse(rec))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.single(w, r, s.engine.Deposit)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.single(w, r, s.engine.Withdraw)
}

type singleOp func(ctx context.Context, accountID string, amount decimal.NullDecimal) (model.Transaction, error)

func (s *Server) single(w http.ResponseWriter, r *http.Request, op singleOp) {
	accountID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transactionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := ValidateAmount(req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}

	txn, err := op(r.Context(), accountID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTransactionResponse(txn))
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	senderID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transferRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RecipientAccountID == "" {
		s.writeError(w, r, invalid("recipientAccountId is required"))
		return
	}
	recipientID, err := id.ParseID(req.RecipientAccountID)
	if err != nil {
		s.writeError(w, r, invalid(err.Error()))
		return
	}
	if err := ValidateAmount(req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.Transfer(r.Context(), senderID, recipientID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTransferResponse(res))
}
