package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pesacore/pesacore/internal/api"
	"github.com/pesacore/pesacore/internal/idempotency"
)

func newServeCommand(cfgPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.cfg.HTTP.Addr
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", ln.Addr())
			return runServe(ctx, rt, ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// runServe serves on ln until ctx is done, then drains in-flight requests.
func runServe(ctx context.Context, rt *runtime, ln net.Listener) error {
	opts := api.Options{
		Accounts:       rt.accounts,
		Engine:         rt.engine,
		Logger:         rt.log,
		AllowedOrigins: rt.cfg.HTTP.AllowedOrigins,
	}

	if rt.cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: rt.cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			ln.Close()
			return fmt.Errorf("connecting to redis %s: %w", rt.cfg.Redis.Addr, err)
		}
		opts.Idempotency = idempotency.Middleware(rdb, idempotency.Options{
			TTL:         rt.cfg.Redis.IdempotencyTTL,
			LockTimeout: rt.cfg.Redis.LockTimeout,
			Logger:      rt.log,
		})
		rt.log.Info("idempotency enabled", zap.String("redis", rt.cfg.Redis.Addr))
	}

	srv := &http.Server{
		Handler:           api.NewServer(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	rt.log.Info("http server started", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	rt.log.Info("http server stopped")
	return nil
}
