// Package ledger implements the transaction engine: deposits, withdrawals and
// transfers applied atomically against a Store, with every attempt recorded.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pesacore/pesacore/internal/balance"
	"github.com/pesacore/pesacore/internal/id"
	"github.com/pesacore/pesacore/internal/model"
	"github.com/pesacore/pesacore/internal/retry"
)

// ReasonSameAccount rejects a transfer whose sender and recipient match.
const ReasonSameAccount = "cannot transfer to the same account"

const (
	defaultTimeout     = 5 * time.Second
	defaultMaxAttempts = 5
	defaultBaseDelay   = 5 * time.Millisecond
	defaultMaxDelay    = 250 * time.Millisecond
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Logger *zap.Logger
	// Timeout bounds each operation, store access and retries included.
	Timeout time.Duration
	// Retry governs re-reading and recommitting after a version conflict.
	Retry retry.Policy
	Now   func() time.Time
	NewID func() string
}

// Engine orchestrates ledger operations. It holds no account state and is safe
// for concurrent use.
type Engine struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
	retry   retry.Policy
	now     func() time.Time
	newID   func() string
}

// NewEngine creates an Engine over store.
func NewEngine(store Store, opts Options) *Engine {
	e := &Engine{
		store:   store,
		log:     opts.Logger,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.retry.MaxAttempts <= 0 {
		e.retry.MaxAttempts = defaultMaxAttempts
	}
	if e.retry.BaseDelay <= 0 {
		e.retry.BaseDelay = defaultBaseDelay
	}
	if e.retry.MaxDelay <= 0 {
		e.retry.MaxDelay = defaultMaxDelay
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = id.NewTransactionID
	}
	return e
}

// TransferResult describes a committed transfer from the sender's side.
type TransferResult struct {
	TransactionID        string
	Status               model.TransactionStatus
	Amount               decimal.Decimal
	Currency             string
	Timestamp            time.Time
	Sender               model.AccountSummary
	Recipient            model.AccountSummary
	SenderTransaction    model.Transaction
	RecipientTransaction model.Transaction
}

// Deposit credits amount to an account.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount decimal.NullDecimal) (model.Transaction, error) {
	return e.apply(ctx, model.TypeDeposit, balance.Credit, accountID, amount)
}

// Withdraw debits amount from an account.
func (e *Engine) Withdraw(ctx context.Context, accountID string, amount decimal.NullDecimal) (model.Transaction, error) {
	return e.apply(ctx, model.TypeWithdraw, balance.Debit, accountID, amount)
}

func (e *Engine) apply(ctx context.Context, typ model.TransactionType, op balance.Operation, accountID string, amount decimal.NullDecimal) (model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	log := e.log.With(zap.String("op", string(typ)), zap.String("account_id", accountID))
	txnID := e.newID()

	var out model.Transaction
	err := e.retry.Do(ctx, isConflict, func(attempt int) error {
		acct, err := e.load(ctx, "", accountID)
		if err != nil {
			return err
		}

		now := e.now()
		next, err := balance.Validate(acct.Balance, amount, op)
		if err != nil {
			return e.reject(ctx, log, err, model.Transaction{
				ID:        txnID,
				AccountID: acct.ID,
				Type:      typ,
				Status:    model.StatusFailed,
				Amount:    givenAmount(amount),
				Currency:  acct.Currency,
				CreatedAt: now,
			})
		}

		signed := amount.Decimal
		reason := "deposit"
		if op == balance.Debit {
			signed = signed.Neg()
			reason = "withdrawal"
		}

		txn := model.Transaction{
			ID:        txnID,
			AccountID: acct.ID,
			Type:      typ,
			Status:    model.StatusSuccess,
			Amount:    signed,
			Currency:  acct.Currency,
			Reason:    reason,
			CreatedAt: now,
		}
		acct.Balance = next
		acct.UpdatedAt = now

		var b Batch
		b.SaveAccount(acct, acct.Version)
		b.SaveTransaction(txn)
		if err := e.store.CommitBatch(ctx, b); err != nil {
			if isConflict(err) {
				log.Warn("version conflict, retrying", zap.Int("attempt", attempt))
			}
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		return model.Transaction{}, e.fail(log, string(typ), err)
	}

	log.Info("transaction committed",
		zap.String("transaction_id", out.ID),
		zap.String("amount", model.FormatAmount(out.Amount)))
	return out, nil
}

// Transfer moves amount from sender to recipient. Both balances and both
// records commit in one batch.
func (e *Engine) Transfer(ctx context.Context, senderID, recipientID string, amount decimal.NullDecimal) (TransferResult, error) {
	log := e.log.With(zap.String("op", string(model.TypeTransfer)),
		zap.String("sender_id", senderID), zap.String("recipient_id", recipientID))

	if senderID == recipientID {
		log.Warn("transfer rejected", zap.String("code", CodeInvalidAmount), zap.String("reason", ReasonSameAccount))
		return TransferResult{}, &Rejection{Kind: ErrInvalidAmount, Reason: ReasonSameAccount}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	senderTxnID, recipientTxnID := e.newID(), e.newID()

	var out TransferResult
	err := e.retry.Do(ctx, isConflict, func(attempt int) error {
		sender, err := e.load(ctx, "sender", senderID)
		if err != nil {
			return err
		}
		recipient, err := e.load(ctx, "receiver", recipientID)
		if err != nil {
			return err
		}

		now := e.now()
		senderNext, err := balance.Validate(sender.Balance, amount, balance.Debit)
		if err != nil {
			return e.reject(ctx, log, err, model.Transaction{
				ID:           senderTxnID,
				AccountID:    sender.ID,
				Counterparty: recipient.ID,
				Type:         model.TypeTransfer,
				Status:       model.StatusFailed,
				Amount:       givenAmount(amount),
				Currency:     sender.Currency,
				CreatedAt:    now,
			})
		}
		recipientNext, err := balance.Validate(recipient.Balance, amount, balance.Credit)
		if err != nil {
			return fmt.Errorf("crediting receiver: %w", err)
		}

		amt := amount.Decimal
		senderTxn := model.Transaction{
			ID:           senderTxnID,
			AccountID:    sender.ID,
			Counterparty: recipient.ID,
			Type:         model.TypeTransfer,
			Status:       model.StatusSuccess,
			Amount:       amt.Neg(),
			Currency:     sender.Currency,
			Reason:       fmt.Sprintf("transferred %s to %s", model.FormatAmount(amt), recipient.AccountNumber),
			CreatedAt:    now,
		}
		recipientTxn := model.Transaction{
			ID:           recipientTxnID,
			AccountID:    recipient.ID,
			Counterparty: sender.ID,
			Type:         model.TypeTransfer,
			Status:       model.StatusSuccess,
			Amount:       amt,
			Currency:     recipient.Currency,
			Reason:       fmt.Sprintf("received %s from %s", model.FormatAmount(amt), sender.AccountNumber),
			CreatedAt:    now,
		}

		sender.Balance, sender.UpdatedAt = senderNext, now
		recipient.Balance, recipient.UpdatedAt = recipientNext, now

		var b Batch
		b.SaveAccount(sender, sender.Version)
		b.SaveAccount(recipient, recipient.Version)
		b.SaveTransaction(senderTxn)
		b.SaveTransaction(recipientTxn)
		if err := e.store.CommitBatch(ctx, b); err != nil {
			if isConflict(err) {
				log.Warn("version conflict, retrying", zap.Int("attempt", attempt))
			}
			return err
		}

		sender.Version++
		recipient.Version++
		out = TransferResult{
			TransactionID:        senderTxn.ID,
			Status:               senderTxn.Status,
			Amount:               amt,
			Currency:             sender.Currency,
			Timestamp:            now,
			Sender:               sender.Summary(),
			Recipient:            recipient.Summary(),
			SenderTransaction:    senderTxn,
			RecipientTransaction: recipientTxn,
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, e.fail(log, string(model.TypeTransfer), err)
	}

	log.Info("transfer committed",
		zap.String("transaction_id", out.TransactionID),
		zap.String("amount", model.FormatAmount(out.Amount)))
	return out, nil
}

// History returns an account's transaction records, oldest first.
func (e *Engine) History(ctx context.Context, accountID string) ([]model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if _, err := e.load(ctx, "", accountID); err != nil {
		return nil, err
	}
	txns, err := e.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, storeFailure("listing transactions", err)
	}
	return txns, nil
}

// load reads an account, tagging a miss with role ("sender", "receiver").
func (e *Engine) load(ctx context.Context, role, accountID string) (model.Account, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return model.Account{}, notFound(role, accountID)
	}
	if err != nil {
		return model.Account{}, storeFailure("loading account", err)
	}
	return acct, nil
}

// reject commits the Failed record for a validation error, then returns the
// rejection carrying it. A failing commit is reported as a store error instead.
func (e *Engine) reject(ctx context.Context, log *zap.Logger, verr error, failed model.Transaction) error {
	var v *balance.Violation
	if !errors.As(verr, &v) {
		return verr
	}
	failed.Reason = v.Reason

	var b Batch
	b.SaveTransaction(failed)
	if err := e.store.CommitBatch(ctx, b); err != nil {
		return storeFailure("recording failed transaction", err)
	}

	log.Warn("transaction rejected",
		zap.String("code", Code(v.Err)),
		zap.String("reason", v.Reason),
		zap.String("transaction_id", failed.ID))
	return &Rejection{Kind: v.Err, Reason: v.Reason, Transaction: &failed}
}

// fail normalizes an operation error: business errors pass through, anything
// else (exhausted retries, deadlines) becomes ErrStore.
func (e *Engine) fail(log *zap.Logger, op string, err error) error {
	var rej *Rejection
	switch {
	case errors.As(err, &rej), errors.Is(err, ErrAccountNotFound):
		if rej == nil {
			log.Warn("account lookup failed", zap.Error(err))
		}
		return err
	case errors.Is(err, ErrStore):
	default:
		err = storeFailure(op, err)
	}
	log.Error("ledger store failure", zap.Error(err))
	return err
}

func isConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// givenAmount is the amount recorded on a Failed transaction; null is recorded as zero.
func givenAmount(amount decimal.NullDecimal) decimal.Decimal {
	if !amount.Valid {
		return decimal.Zero
	}
	return amount.Decimal
}
