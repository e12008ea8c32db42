package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/api"
	"github.com/sells-group/diligence-cli/internal/monitoring"
	"github.com/sells-group/diligence-cli/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the background job runner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner := scheduler.New(cfg.Pipeline.Concurrency, cfg.Pipeline.QueueSize)

		env, err := initPipeline(ctx, runner)
		if err != nil {
			return err
		}
		defer env.Close()

		// Jobs outlive the request that started them; the runner context is
		// cancelled only by Shutdown.
		runner.Start(context.WithoutCancel(ctx))

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.StuckJobMins)*time.Minute),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
			zap.L().Info("monitoring enabled",
				zap.Int("check_interval_secs", cfg.Monitoring.CheckIntervalSecs),
				zap.Bool("webhook", cfg.Monitoring.WebhookURL != ""),
			)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: api.NewHandler(api.Deps{
				Controller:     env.Controller,
				Companies:      env.Store,
				Feed:           env.Feed,
				AllowedOrigins: cfg.Server.AllowedOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- eris.Wrap(err, "server listen")
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				_ = runner.Shutdown(context.Background())
				return err
			}
		}

		zap.L().Info("shutting down server",
			zap.Int("jobs_in_flight", runner.InFlight()),
			zap.Int("jobs_pending", runner.Pending()),
		)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
		if err := runner.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "stop job runner")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
