package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pesacore/pesacore/internal/buildinfo"
	"github.com/pesacore/pesacore/internal/config"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:     "pesacore",
		Short:   "Account ledger with deposits, withdrawals and transfers",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.FileName, "path to pesacore.yaml")

	rootCmd.AddCommand(
		newInitCommand(),
		newAccountCommand(&cfgPath),
		newDepositCommand(&cfgPath),
		newWithdrawCommand(&cfgPath),
		newTransferCommand(&cfgPath),
		newHistoryCommand(&cfgPath),
		newReconcileCommand(&cfgPath),
		newServeCommand(&cfgPath),
	)

	return rootCmd
}
