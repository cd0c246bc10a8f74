package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/api"
	"github.com/TomaszPielecki/Snaply/internal/clock/system"
	"github.com/TomaszPielecki/Snaply/internal/id/uuid"
	"github.com/TomaszPielecki/Snaply/internal/jobs"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job runner and record sweeper",
		Long: `Starts the HTTP API. Submitted jobs run in the background, one goroutine
per job, and old job records are swept on the configured schedule. SIGINT or
SIGTERM drains in-flight jobs for up to server.shutdown_timeout.`,
		Args: cobra.NoArgs,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := appInstance.Config
	logger := appInstance.Logger
	zap.ReplaceGlobals(logger)

	if err := os.MkdirAll(cfg.Capture.ScreenshotDir, 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}

	clock := system.New()
	store, err := buildJobStore(ctx, appInstance, clock)
	if err != nil {
		return err
	}
	mirror, err := buildMirror(ctx, appInstance)
	if err != nil {
		return err
	}
	publisher, err := buildPublisher(ctx, appInstance)
	if err != nil {
		return err
	}
	crawler, err := buildCrawler(appInstance, mirror)
	if err != nil {
		return err
	}
	domains, err := buildDomains(appInstance)
	if err != nil {
		return err
	}

	hub, broadcaster := buildHub(appInstance, publisher)
	runner := jobs.NewRunner(crawler, store, uuid.New(), clock, hub, logger.Named("runner"))
	sweeper := jobs.NewSweeper(store, cfg.Jobs.MaxAge, logger.Named("sweeper"))
	if err := sweeper.Start(cfg.Jobs.SweepSchedule); err != nil {
		return err
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(runner, domains, broadcaster, api.Options{
		ScreenshotDir: cfg.Capture.ScreenshotDir,
		LinkBudget:    cfg.Capture.LinkBudget,
		APIKey:        apiKey,
		Ready:         readyCheck(cfg.Capture.ScreenshotDir, logger),
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	shutdown := func(name string, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := fn(sctx); err != nil {
			logger.Error("shutdown step failed", zap.String("step", name), zap.Error(err))
		}
	}
	shutdown("http", srv.Shutdown)
	shutdown("runner", runner.Shutdown)
	shutdown("sweeper", sweeper.Stop)
	shutdown("progress", hub.Close)
	logger.Info("shutdown complete")
	return runErr
}
