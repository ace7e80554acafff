package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pesacore/pesacore/internal/accounts"
	"github.com/pesacore/pesacore/internal/config"
	"github.com/pesacore/pesacore/internal/ledger"
	"github.com/pesacore/pesacore/internal/logging"
	"github.com/pesacore/pesacore/internal/retry"
	"github.com/pesacore/pesacore/internal/store/csvstore"
	"github.com/pesacore/pesacore/internal/store/memstore"
	"github.com/pesacore/pesacore/internal/store/pgstore"
)

// store is what every driver provides.
type store interface {
	ledger.Store
	accounts.Repository
}

// runtime is the wired application for one command invocation.
type runtime struct {
	cfg      *config.Config
	log      *zap.Logger
	store    store
	engine   *ledger.Engine
	accounts *accounts.Service
	closers  []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	_ = rt.log.Sync()
}

// loadConfig reads cfgPath, falling back to defaults when it does not exist,
// then applies environment overrides and validates.
func loadConfig(cfgPath string) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

// dataDir resolves a relative data_dir against the config file's directory.
func dataDir(cfgPath string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.Store.DataDir) {
		return cfg.Store.DataDir
	}
	return filepath.Join(filepath.Dir(cfgPath), cfg.Store.DataDir)
}

func openRuntime(ctx context.Context, cfgPath string) (*runtime, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: logger}
	switch cfg.Store.Driver {
	case config.DriverMemory:
		rt.store = memstore.New(memstore.Options{})
	case config.DriverCSV:
		lockCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.StoreTimeout)
		s, err := csvstore.Open(lockCtx, dataDir(cfgPath, cfg), logger)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("opening csv store: %w", err)
		}
		rt.closers = append(rt.closers, func() {
			if err := s.Close(); err != nil {
				logger.Warn("closing csv store", zap.Error(err))
			}
		})
		rt.store = s
	case config.DriverPostgres:
		s, err := pgstore.Open(ctx, pgstore.Config{URL: cfg.Store.DatabaseURL, MaxConns: cfg.Store.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		rt.closers = append(rt.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		rt.store = s
	}

	rt.engine = ledger.NewEngine(rt.store, ledger.Options{
		Logger:  logger,
		Timeout: cfg.Ledger.StoreTimeout,
		Retry:   retry.Policy{MaxAttempts: cfg.Ledger.MaxAttempts, BaseDelay: cfg.Ledger.RetryBaseDelay},
	})
	rt.accounts = accounts.NewService(rt.store, accounts.Options{DefaultCurrency: cfg.Ledger.Currency})
	return rt, nil
}
