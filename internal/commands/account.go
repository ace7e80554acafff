package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pesacore/pesacore/internal/accounts"
)

func newAccountCommand(cfgPath *string) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Open and inspect accounts",
	}
	accountCmd.AddCommand(
		newAccountCreateCommand(cfgPath),
		newAccountShowCommand(cfgPath),
		newAccountListCommand(cfgPath),
	)
	return accountCmd
}

func newAccountCreateCommand(cfgPath *string) *cobra.Command {
	var owner, currency string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open an account at zero balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			acct, err := rt.accounts.Create(cmd.Context(), accounts.CreateParams{OwnerID: owner, Currency: currency})
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), acct)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	cmd.Flags().StringVar(&currency, "currency", "", "currency code (default from config)")

	return cmd
}

func newAccountShowCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			acct, err := rt.accounts.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), acct)
			return nil
		},
	}
}

func newAccountListCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			accts, err := rt.accounts.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(accts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accounts.")
				return nil
			}
			return printAccounts(cmd.OutOrStdout(), accts)
		},
	}
}
