package cmd

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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/api"
	"github.com/JakeFAU/shadowprobe/internal/clock/system"
	"github.com/JakeFAU/shadowprobe/internal/id/uuid"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the probe API. Runs submitted with POST /v1/probes execute in the
background; poll GET /v1/probes/{run_id} for the report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root)
		},
	}
	cmd.Flags().Int("port", 8080, "listen port")
	cmd.Flags().String("catalog", "", "catalog file (yaml or json); default is the built-in list")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions) error {
	cfg, logger, err := setup(cmd, root)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	apiServer := api.NewServer(a, api.NewRunStore(), uuid.New(), system.New(), api.Config{
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := apiServer.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close app: %w", err))
	}
	logger.Info("server stopped")
	return errors.Join(errs...)
}
