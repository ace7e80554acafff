package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/pesacore/pesacore/internal/api"
	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

func parseAmount(s string) (decimal.NullDecimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	amount := decimal.NewNullDecimal(d)
	if err := api.ValidateAmount(amount); err != nil {
		return decimal.NullDecimal{}, err
	}
	return amount, nil
}

func printAccount(out io.Writer, a model.Account) {
	fmt.Fprintf(out, "ID:       %s\n", a.ID)
	fmt.Fprintf(out, "Number:   %s\n", a.AccountNumber)
	fmt.Fprintf(out, "Owner:    %s\n", a.OwnerID)
	fmt.Fprintf(out, "Balance:  %s %s\n", model.FormatAmount(a.Balance), a.Currency)
	fmt.Fprintf(out, "Created:  %s\n", a.CreatedAt.Format(timeLayout))
}

func printAccounts(out io.Writer, accts []model.Account) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tOWNER\tBALANCE\tCURRENCY")
	for _, a := range accts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.AccountNumber, a.OwnerID, model.FormatAmount(a.Balance), a.Currency)
	}
	return tw.Flush()
}

func printTransaction(out io.Writer, t model.Transaction) {
	fmt.Fprintf(out, "%s %s %s %s (%s)\n", t.Status, t.Type, model.FormatAmount(t.Amount), t.Currency, t.ID)
}

func printTransactions(out io.Writer, txns []model.Transaction) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tSTATUS\tAMOUNT\tREASON\tID")
	for _, t := range txns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.Format(timeLayout), t.Type, t.Status, model.FormatAmount(t.Amount), t.Reason, t.ID)
	}
	return tw.Flush()
}

// reportRejection prints the Failed record a rejection wrote, then returns err.
func reportRejection(out io.Writer, err error) error {
	if failed, ok := ledger.FailedTransaction(err); ok {
		fmt.Fprintf(out, "Recorded failed %s %s (%s)\n", failed.Type, failed.ID, failed.Reason)
	}
	return err
}
