package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/model"
)

func newHistoryCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history <account-id>",
		Short: "List an account's transactions, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			txns, err := rt.engine.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(txns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transactions.")
				return nil
			}
			return printTransactions(cmd.OutOrStdout(), txns)
		},
	}
}

func newReconcileCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [account-id]",
		Short: "Check balances against transaction history",
		Long:  "Checks one account, or every account when no id is given. Exits non-zero if any account is out of balance.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			var ids []string
			if len(args) == 1 {
				ids = args
			} else {
				accts, err := rt.accounts.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, a := range accts {
					ids = append(ids, a.ID)
				}
			}

			results := make([]ledger.Reconciliation, 0, len(ids))
			for _, id := range ids {
				r, err := rt.engine.Reconcile(cmd.Context(), id)
				if err != nil {
					return err
				}
				results = append(results, r)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NUMBER\tBALANCE\tCOMPUTED\tSUCCEEDED\tFAILED\tSTATUS")
			unbalanced := 0
			for _, r := range results {
				status := "OK"
				if !r.Balanced() {
					status = "MISMATCH"
					unbalanced++
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.AccountNumber, model.FormatAmount(r.Balance), model.FormatAmount(r.Computed), r.Succeeded, r.Failed, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if unbalanced > 0 {
				return fmt.Errorf("%d of %d accounts out of balance", unbalanced, len(results))
			}
			return nil
		},
	}
}
