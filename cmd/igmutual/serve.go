package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"igmutual/internal/api"
	"igmutual/pkg/metrics"
	"igmutual/pkg/ui"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Process queued checks and serve the HTTP API",
	Long: `Start the check engine and the HTTP API.

The engine requeues checks interrupted by a previous shutdown, then claims
queued checks up to the concurrency ceiling. On SIGINT or SIGTERM running
checks stop at the next page boundary and keep their checkpoints.`,
	Example: `  igmutual serve
  igmutual serve --listen :9090 --redis localhost:6379`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address")
	serveCmd.Flags().Int("concurrency", 0, "maximum checks processed at once")
	serveCmd.Flags().String("redis", "", "redis address of the result cache")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		if err := a.engine.Start(ctx); err != nil {
			return err
		}
		defer a.engine.Stop()

		deps := &api.RouterDeps{
			Service:    a.engine,
			AdminToken: a.cfg.API.AdminToken,
			Logger:     a.logger,
		}
		if a.cfg.Metrics.Enabled {
			deps.Metrics = metrics.Handler(a.registry)
		}
		if deps.AdminToken == "" {
			ui.PrintWarning("No admin token configured", "session administration is open to every client")
		}

		srv := &http.Server{
			Addr:              a.cfg.API.ListenAddr,
			Handler:           api.NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		ui.PrintInfo("Listening", a.cfg.API.ListenAddr)
		ui.PrintInfo("Max concurrent checks", fmt.Sprintf("%d", a.cfg.Queue.MaxConcurrent))

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		ui.PrintDim("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("HTTP server did not shut down cleanly")
		}
		return nil
	})
}
