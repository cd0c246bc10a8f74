// Package cmd defines and implements the CLI commands for the snaply executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/config"
	"github.com/TomaszPielecki/Snaply/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App carries the loaded configuration and logger, plus cleanup hooks that
// commands register for the resources they open.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	closers []func() error
}

// OnClose registers fn to run when the command finishes. Hooks run in
// reverse order of registration.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close runs the registered hooks and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("cleanup failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}

// newApp is the application factory. It's a variable so tests can swap in a
// preconfigured App.
var newApp = func(_ context.Context, cfgPath string) (*App, error) {
	if err := config.LoadEnvFiles(".env.local", ".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &App{Config: cfg, Logger: logger}, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snaply",
		Short: "Full-page screenshot service for websites and their same-domain links.",
		Long: `snaply captures full-page screenshots of a website and a bounded set of
its same-domain links in a mobile or desktop viewport. It runs as an HTTP
service with background jobs, or as a one-shot command.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables use the SNAPLY_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newJobsCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKey).(*App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
