package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/api"
	"github.com/JakeFAU/realtime-news-indexer/internal/scheduler"
)

// newServeCmd creates the 'serve' subcommand: scheduler plus HTTP API until
// SIGINT/SIGTERM.
func newServeCmd() *cobra.Command {
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduler and HTTP API until interrupted",
		Long: `Starts the HTTP API and, unless --no-schedule is set, runs the pipeline
immediately and then every pipeline.interval, and the retention sweeper every
retention.interval. SIGINT or SIGTERM drains the server and stops both loops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a App) error {
				return serve(ctx, a, !noSchedule)
			})
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API without periodic runs and sweeps")
	return cmd
}

func serve(ctx context.Context, a App, schedule bool) error {
	cfg := a.Config()
	logger := a.Logger()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	apiServer := api.NewServer(a.Runner(), a.Retention(), a.Reader(), cfg.Auth, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(apiServer.Handler(), "newsindexer.api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedDone := make(chan struct{})
	if schedule {
		sched := scheduler.New(a.Runner(), a.Retention(), scheduler.Config{
			RunInterval:   cfg.Pipeline.Interval,
			SweepInterval: cfg.Retention.Interval,
		}, logger.Named("scheduler"))
		go func() {
			defer close(schedDone)
			logger.Info("scheduler started",
				zap.Duration("run_interval", cfg.Pipeline.Interval),
				zap.Duration("sweep_interval", cfg.Retention.Interval),
			)
			sched.Run(ctx)
		}()
	} else {
		close(schedDone)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
