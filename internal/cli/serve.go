package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/transfa/ledger-service/internal/api"
	"github.com/transfa/ledger-service/internal/app"
)

const shutdownTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger service with the interest accrual scheduler",
	Long: `Start the ledger service: connect the store, event publisher and tick lock,
start the interest accrual scheduler and serve /health, /ready and /metrics until
SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// resolveLender finds the account that funds loans. uuid.Nil means loan requests fail
// with a configuration error until a lender is configured.
func resolveLender(ctx context.Context, rt *runtime) uuid.UUID {
	lenderID, err := app.ResolveLenderAccount(ctx, rt.repo, rt.cfg.LenderAccountID, rt.cfg.BankUserID)
	if err != nil {
		rt.logger.Error("lender account unresolved; loans disabled", "component", "bootstrap", "error", err)
		return uuid.Nil
	}
	rt.logger.Info("lender account resolved", "component", "bootstrap", "lender_account_id", lenderID)
	return lenderID
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	lenderID := resolveLender(ctx, rt)
	rt.logger.Info("ledger store ready", "component", "bootstrap", "loans_enabled", lenderID != uuid.Nil)

	scheduler := app.NewScheduler(rt.newAccrual(), rt.tickLock, rt.logger)
	scheduler.Start()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", rt.cfg.ServerPort),
		Handler:           api.NewRouter(rt.repo, rt.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		rt.logger.Info("server listening", "component", "http", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		rt.logger.Info("shutdown signal received", "component", "bootstrap")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn("http server shutdown incomplete", "component", "http", "error", err)
	}

	select {
	case <-scheduler.Stop().Done():
		rt.logger.Info("scheduler stopped gracefully", "component", "scheduler")
	case <-shutdownCtx.Done():
		rt.logger.Warn("scheduler did not stop before deadline", "component", "scheduler")
	}

	return runErr
}
