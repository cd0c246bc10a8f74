package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/browser/headless"
	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/config"
	"github.com/TomaszPielecki/Snaply/internal/policy/ratelimit"
	"github.com/TomaszPielecki/Snaply/internal/progress"
	"github.com/TomaszPielecki/Snaply/internal/progress/sinks"
	pubsubpublisher "github.com/TomaszPielecki/Snaply/internal/publisher/pubsub"
	"github.com/TomaszPielecki/Snaply/internal/registry"
	registryBadger "github.com/TomaszPielecki/Snaply/internal/registry/badger"
	registryFile "github.com/TomaszPielecki/Snaply/internal/registry/file"
	fileStorage "github.com/TomaszPielecki/Snaply/internal/storage/file"
	gcsStorage "github.com/TomaszPielecki/Snaply/internal/storage/gcs"
	localStorage "github.com/TomaszPielecki/Snaply/internal/storage/local"
	memoryStorage "github.com/TomaszPielecki/Snaply/internal/storage/memory"
	postgresStorage "github.com/TomaszPielecki/Snaply/internal/storage/postgres"
)

const jobTable = "capture_jobs"

// buildJobStore opens the configured job store and registers its cleanup.
func buildJobStore(ctx context.Context, app *App, clock capture.Clock) (capture.JobStore, error) {
	cfg := app.Config.Jobs
	switch cfg.Backend {
	case config.BackendFile:
		store, err := fileStorage.NewJobStore(cfg.Dir, clock, app.Logger.Named("jobstore"))
		if err != nil {
			return nil, fmt.Errorf("open file job store: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		store, err := postgresStorage.NewJobStore(ctx, postgresStorage.Config{
			DSN:   cfg.PostgresDSN,
			Table: jobTable,
		}, clock, app.Logger.Named("jobstore"))
		if err != nil {
			return nil, fmt.Errorf("open postgres job store: %w", err)
		}
		app.OnClose(func() error {
			store.Close()
			return nil
		})
		return store, nil
	case config.BackendMemory:
		return memoryStorage.NewJobStore(clock), nil
	default:
		return nil, fmt.Errorf("jobs.backend %q is not supported", cfg.Backend)
	}
}

// buildMirror returns the optional screenshot mirror; nil when disabled.
func buildMirror(ctx context.Context, app *App) (capture.BlobStore, error) {
	cfg := app.Config.Storage
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memoryStorage.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := localStorage.New(localStorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("open local mirror: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		store, err := gcsStorage.Open(ctx, gcsStorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs mirror: %w", err)
		}
		app.OnClose(store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("storage.backend %q is not supported", cfg.Backend)
	}
}

// buildPublisher returns the completion publisher; nil when no topic is set.
func buildPublisher(ctx context.Context, app *App) (capture.Publisher, error) {
	cfg := app.Config.PubSub
	if cfg.Topic == "" {
		return nil, nil
	}
	pub, err := pubsubpublisher.Open(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("open pubsub publisher: %w", err)
	}
	app.OnClose(pub.Close)
	return pub, nil
}

// buildCrawler assembles the browser launcher and the capture pipeline.
func buildCrawler(app *App, mirror capture.BlobStore) (*capture.Crawler, error) {
	cfg := app.Config
	logger := app.Logger
	launcher, err := headless.NewLauncher(headless.Config{
		MaxParallel:       cfg.Browser.MaxParallel,
		ExecPath:          cfg.Browser.ExecPath,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.Browser.NavTimeout,
		NoSandbox:         cfg.Browser.NoSandbox,
		MobileViewport:    cfg.MobileViewport(),
		DesktopViewport:   cfg.DesktopViewport(),
	})
	if err != nil {
		return nil, fmt.Errorf("init browser launcher: %w", err)
	}

	engine := capture.NewEngine(capture.EngineConfig{
		Root:         cfg.Capture.ScreenshotDir,
		MobileWidth:  cfg.Capture.MobileWidth,
		ResizeSettle: cfg.Capture.ResizeSettle,
		MirrorPrefix: cfg.Storage.Prefix,
	}, mirror, logger.Named("engine"))
	dismisser := capture.NewDismisser(cfg.Capture.ConsentWait, cfg.Capture.ConsentRetryDelay, logger.Named("consent"))
	links := capture.NewLinkExtractor(logger.Named("links"))

	var pacer capture.Pacer
	if cfg.Capture.NavigationQPS > 0 {
		pacer = ratelimit.New(ratelimit.Config{QPS: cfg.Capture.NavigationQPS, Burst: 1})
	}

	return capture.NewCrawler(capture.CrawlConfig{
		ScreenshotDir:   cfg.Capture.ScreenshotDir,
		DOMTimeout:      cfg.Capture.DOMTimeout,
		SettleTime:      cfg.Capture.SettleTime,
		DesktopViewport: cfg.DesktopViewport(),
	}, launcher, engine, dismisser, links, pacer, logger.Named("crawler")), nil
}

// buildHub starts the progress hub with the log, metrics, publish and
// broadcast sinks. The returned broadcaster feeds websocket streams.
func buildHub(app *App, publisher capture.Publisher) (*progress.Hub, *sinks.Broadcaster) {
	logger := app.Logger
	broadcaster := sinks.NewBroadcaster()
	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("progress")),
		sinks.NewMetricsSink(),
		broadcaster,
	}
	if publisher != nil {
		hubSinks = append(hubSinks, sinks.NewPublishSink(publisher, app.Config.PubSub.Topic, logger.Named("publish")))
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("hub")}, hubSinks...)
	return hub, broadcaster
}

// buildDomains opens the domain registry backend.
func buildDomains(app *App) (*registry.Domains, error) {
	cfg := app.Config.Registry
	switch cfg.Backend {
	case config.BackendFile:
		kv, err := registryFile.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open domain registry: %w", err)
		}
		return registry.NewDomains(kv), nil
	case config.BackendBadger:
		kv, err := registryBadger.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open domain registry: %w", err)
		}
		app.OnClose(kv.Close)
		return registry.NewDomains(kv), nil
	default:
		return nil, fmt.Errorf("registry.backend %q is not supported", cfg.Backend)
	}
}

// readyCheck reports whether the screenshot directory is usable.
func readyCheck(dir string, logger *zap.Logger) func(context.Context) error {
	return func(context.Context) error {
		info, err := os.Stat(filepath.Clean(dir))
		if err != nil {
			logger.Warn("screenshot dir not ready", zap.String("dir", dir), zap.Error(err))
			return fmt.Errorf("screenshot dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("screenshot dir %s is not a directory", dir)
		}
		return nil
	}
}
