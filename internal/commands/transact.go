package commands

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pesacore/pesacore/internal/model"
)

type singleOp func(rt *runtime, ctx context.Context, accountID string, amount decimal.NullDecimal) (model.Transaction, error)

func newDepositCommand(cfgPath *string) *cobra.Command {
	return newSingleCommand(cfgPath, "deposit", "Credit an account", func(rt *runtime, ctx context.Context, id string, amt decimal.NullDecimal) (model.Transaction, error) {
		return rt.engine.Deposit(ctx, id, amt)
	})
}

func newWithdrawCommand(cfgPath *string) *cobra.Command {
	return newSingleCommand(cfgPath, "withdraw", "Debit an account", func(rt *runtime, ctx context.Context, id string, amt decimal.NullDecimal) (model.Transaction, error) {
		return rt.engine.Withdraw(ctx, id, amt)
	})
}

func newSingleCommand(cfgPath *string, use, short string, op singleOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <account-id> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			txn, err := op(rt, cmd.Context(), args[0], amount)
			if err != nil {
				return reportRejection(cmd.OutOrStdout(), err)
			}
			printTransaction(cmd.OutOrStdout(), txn)
			return nil
		},
	}
}

func newTransferCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <sender-id> <recipient-id> <amount>",
		Short: "Move funds between two accounts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.engine.Transfer(cmd.Context(), args[0], args[1], amount)
			if err != nil {
				return reportRejection(cmd.OutOrStdout(), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s TRANSFER %s %s (%s)\n", res.Status, model.FormatAmount(res.Amount), res.Currency, res.TransactionID)
			fmt.Fprintf(out, "  from %s  balance %s\n", res.Sender.AccountNumber, model.FormatAmount(res.Sender.Balance))
			fmt.Fprintf(out, "  to   %s\n", res.Recipient.AccountNumber)
			return nil
		},
	}
}
