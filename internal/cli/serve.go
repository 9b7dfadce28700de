package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"foldly/upload-api/app"
	"foldly/upload-api/internal"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := internal.NewDeps(ctx, cfg)
	if err != nil {
		return err
	}

	// A zero interval turns periodic reconciliation off
	if cfg.Reconcile.Interval > 0 {
		d.Reconciler.Schedule(ctx, cfg.Reconcile.Interval)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Host.Port),
		Handler:           app.NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("Server starting", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			d.Close(context.Background())
			return fmt.Errorf("server stopped, %w", err)
		}
	case <-ctx.Done():
		zap.L().Info("Shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		zap.L().Warn("HTTP server did not stop cleanly", zap.Error(err))
	}

	return d.Close(sctx)
}
