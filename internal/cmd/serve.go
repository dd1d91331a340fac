package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docuquery-api/internal/observability"
	"docuquery-api/internal/server"
	"docuquery-api/internal/server/handlers"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

SIGINT or SIGTERM triggers a graceful shutdown bounded by SHUTDOWN_TIMEOUT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, o)
		},
	}
	cmd.Flags().String("host", "", "listen host (overrides HOST)")
	cmd.Flags().Int("port", 0, "listen port (overrides PORT)")
	_ = o.v.BindPFlag("host", cmd.Flags().Lookup("host"))
	_ = o.v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(cmd *cobra.Command, o *rootOptions) error {
	st, err := o.load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(st.App.LogLevel, cmd.OutOrStdout(), st.App.Debug)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	lim, err := buildLimiter(ctx, st, logger, metrics)
	if err != nil {
		return err
	}
	defer lim.Close()

	started := time.Now()
	hm := handlers.NewHealthManager(st.App.Version, st.App.Environment, started)
	for name, c := range lim.checkers {
		hm.RegisterChecker(name, c)
	}

	srv := server.New(server.Deps{
		Settings: st,
		Logger:   logger,
		Metrics:  metrics,
		Health:   hm,
		Info: handlers.NewInfo(st, o.build, started, handlers.LimiterState{
			Stats:    lim.stats,
			Clients:  lim.clients,
			InFlight: lim.concurrency.InFlight,
		}),
		Concurrency: lim.concurrency.Middleware,
		RateLimit:   lim.rateLimit,
	})

	errCh := make(chan error, 2)

	var metricsSrv *http.Server
	if st.Monitoring.PrometheusEnabled {
		metricsSrv = server.NewMetricsServer(fmt.Sprintf("%s:%d", st.Server.Host, st.Monitoring.PrometheusPort), metrics)
		go func() {
			logger.Info().Str("addr", metricsSrv.Addr).Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	logger.Info().
		Str("app", st.App.Name).
		Str("version", o.build.Version).
		Str("environment", st.App.Environment).
		Str("addr", srv.Addr()).
		Bool("rate_limit", st.RateLimit.Enabled).
		Str("rate_limit_backend", st.RateLimit.Backend).
		Int("rate_limit_requests", st.RateLimit.Requests).
		Int("rate_limit_window", st.RateLimit.WindowSeconds).
		Int("concurrency_max", st.Concurrency.Max).
		Msg("starting")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), st.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	logger.Info().Msg("stopped")
	return errors.Join(errs...)
}
