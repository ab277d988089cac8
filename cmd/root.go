// Package cmd defines and implements the CLI commands for the newsindexer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/api"
	"github.com/JakeFAU/realtime-news-indexer/internal/app"
	"github.com/JakeFAU/realtime-news-indexer/internal/config"
	"github.com/JakeFAU/realtime-news-indexer/internal/logging"
	"github.com/JakeFAU/realtime-news-indexer/internal/scheduler"
)

// Retention is the sweeper as the commands use it: on demand or on a ticker.
type Retention interface {
	api.SweepRunner
	scheduler.SweepLoop
}

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Runner() scheduler.Runner
	Retention() Retention
	Reader() api.Reader
	Close() error
}

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// services adapts *app.App to the App interface.
type services struct {
	*app.App
}

func (s services) Runner() scheduler.Runner { return s.Orchestrator() }
func (s services) Retention() Retention { return s.Sweeper() }
func (s services) Reader() api.Reader { return s.Index() }

// newApp is the application factory. It's a variable so tests can swap in a fake.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return services{a}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "newsindexer",
		Short: "Near-real-time news ingestion into a searchable index.",
		Long: `newsindexer pulls article metadata from a news feed, renders each
article page to recover its body text, normalizes and optionally enriches
the result, and upserts it into a search index keyed by a link-derived
document ID. A retention sweeper deletes articles past the configured horizon.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application once config is known and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); environment overrides apply")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp runs fn with the initialized App and closes the App afterwards,
// whether or not fn failed.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a App) error) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeApp(appInstance); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(cmd.Context(), appInstance)
}

func closeApp(appInstance App) error {
	logger := appInstance.Logger()
	logger.Info("shutting down application services")
	closeErr := appInstance.Close()
	// Sync fails on stderr/stdout for some platforms; nothing useful to do about it.
	_ = logger.Sync()
	if closeErr != nil {
		return fmt.Errorf("close services: %w", closeErr)
	}
	return nil
}

// Execute is the main entry point. It returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd(), os.Args[1:], os.Stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "newsindexer: %v\n", err)
		return 1
	}
	return 0
}

// shutdownTimeout bounds HTTP drain on serve shutdown.
const shutdownTimeout = 10 * time.Second
