package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pesacore/pesacore/internal/config"
	"github.com/pesacore/pesacore/internal/store/csvstore"
)

func newInitCommand() *cobra.Command {
	var driver string
	var currency string
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a pesacore.yaml and prepare the data directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.Context(), cmd.OutOrStdout(), absDir, driver, currency, force)
		},
	}

	cmd.Flags().StringVar(&driver, "driver", config.DriverCSV, "store driver: csv, memory or postgres")
	cmd.Flags().StringVar(&currency, "currency", "KES", "default currency for new accounts")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pesacore.yaml")

	return cmd
}

func runInit(ctx context.Context, out io.Writer, dir, driver, currency string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
	}

	cfg := config.Default()
	cfg.Store.Driver = driver
	cfg.Ledger.Currency = currency
	if driver == config.DriverPostgres {
		cfg.Store.DatabaseURL = "postgres://localhost:5432/pesacore"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if driver == config.DriverCSV {
		ctx, cancel := context.WithTimeout(ctx, cfg.Ledger.StoreTimeout)
		defer cancel()
		s, err := csvstore.Open(ctx, dataDir(cfgPath, cfg), nil)
		if err != nil {
			return fmt.Errorf("preparing data directory: %w", err)
		}
		if err := s.Close(); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Initialized pesacore at %s (store: %s)\n", dir, driver)
	return nil
}
