package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pesacore/pesacore/internal/model"
)

// Reconciliation compares an account's stored balance with the sum of its
// successful transaction amounts.
type Reconciliation struct {
	AccountID     string
	AccountNumber string
	Balance       decimal.Decimal
	Computed      decimal.Decimal
	Version       int64
	Succeeded     int
	Failed        int
}

// Balanced reports whether the balance equals the successful sum and every
// committed mutation is backed by exactly one successful record.
func (r Reconciliation) Balanced() bool {
	return r.Balance.Equal(r.Computed) && r.Version == int64(r.Succeeded)
}

// Reconcile checks the reconciliation invariant for one account. The history is
// re-read if the account changes while it is being summed.
func (e *Engine) Reconcile(ctx context.Context, accountID string) (Reconciliation, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out Reconciliation
	err := e.retry.Do(ctx, isConflict, func(int) error {
		before, err := e.load(ctx, "", accountID)
		if err != nil {
			return err
		}
		txns, err := e.store.ListTransactions(ctx, accountID)
		if err != nil {
			return storeFailure("listing transactions", err)
		}
		after, err := e.load(ctx, "", accountID)
		if err != nil {
			return err
		}
		if after.Version != before.Version {
			return fmt.Errorf("account %s changed during reconciliation: %w", accountID, ErrVersionConflict)
		}

		out = Reconciliation{
			AccountID:     after.ID,
			AccountNumber: after.AccountNumber,
			Balance:       after.Balance,
			Computed:      model.SumSucceeded(txns),
			Version:       after.Version,
		}
		for _, t := range txns {
			if t.Succeeded() {
				out.Succeeded++
			} else {
				out.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, e.fail(e.log.With(zap.String("op", "RECONCILE"), zap.String("account_id", accountID)), "reconcile", err)
	}
	return out, nil
}
