package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// CrawlState names a step of one crawl.
type CrawlState string

// Crawl states in the order a successful crawl visits them.
const (
	CrawlCreated       CrawlState = "created"
	CrawlLoadingRoot   CrawlState = "loading-root"
	CrawlExtracting    CrawlState = "extracting-links"
	CrawlCapturingLink CrawlState = "capturing-link"
	CrawlDone          CrawlState = "done"
	CrawlFailed        CrawlState = "failed"
)

// CrawlConfig holds crawler timing and layout settings.
type CrawlConfig struct {
	ScreenshotDir string
	DOMTimeout    time.Duration
	SettleTime    time.Duration
	// DesktopViewport is applied after each desktop navigation.
	DesktopViewport Viewport
}

// Pacer delays navigations, typically per host.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// CrawlRequest describes one crawl.
type CrawlRequest struct {
	JobID      string
	URL        string
	Device     DeviceType
	LinkBudget int
	Token      *CancelToken
}

// CrawlResult summarizes what a crawl wrote.
type CrawlResult struct {
	Target      Target
	Files       []string
	LinksFound  int
	LinksFailed int
	Canceled    bool
}

// Crawler captures a root page and a bounded set of its same-domain links.
type Crawler struct {
	cfg       CrawlConfig
	launcher  Launcher
	engine    *Engine
	dismisser *Dismisser
	links     *LinkExtractor
	pacer     Pacer
	logger    *zap.Logger
	Sleep     Sleeper
}

// NewCrawler wires the pipeline components. pacer may be nil.
func NewCrawler(
	cfg CrawlConfig,
	launcher Launcher,
	engine *Engine,
	dismisser *Dismisser,
	links *LinkExtractor,
	pacer Pacer,
	logger *zap.Logger,
) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DOMTimeout <= 0 {
		cfg.DOMTimeout = 20 * time.Second
	}
	return &Crawler{
		cfg:       cfg,
		launcher:  launcher,
		engine:    engine,
		dismisser: dismisser,
		links:     links,
		pacer:     pacer,
		logger:    logger,
		Sleep:     ContextSleep,
	}
}

// Crawl runs one job to completion. Root page and session failures are
// returned; per-link failures are logged and skipped. Screenshots already
// written are kept on failure.
func (c *Crawler) Crawl(ctx context.Context, req CrawlRequest) (result CrawlResult, err error) {
	logger := c.logger.With(zap.String("job_id", req.JobID), zap.String("device", string(req.Device)))
	state := CrawlCreated
	transition := func(next CrawlState, fields ...zap.Field) {
		state = next
		logger.Info("crawl state", append([]zap.Field{zap.String("state", string(state))}, fields...)...)
	}
	defer func() {
		if err != nil {
			logger.Error("crawl state",
				zap.String("state", string(CrawlFailed)),
				zap.String("from", string(state)),
				zap.Error(err),
			)
		}
	}()

	target, err := NewTarget(req.URL, req.Device)
	if err != nil {
		return result, err
	}
	result.Target = target
	logger = logger.With(zap.String("domain", target.DomainName))
	if err := EnsureFolders(c.cfg.ScreenshotDir, target); err != nil {
		return result, err
	}
	outDir := DeviceDir(c.cfg.ScreenshotDir, target)

	session, err := c.launcher.Launch(ctx, target.Device)
	if err != nil {
		if errors.Is(err, ErrSession) {
			return result, err
		}
		return result, fmt.Errorf("%w: %v", ErrSession, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("close browser session", zap.Error(closeErr))
		}
	}()

	transition(CrawlLoadingRoot, zap.String("url", target.URL))
	if err := c.load(ctx, session, target.URL, target.Device); err != nil {
		return result, fmt.Errorf("load root page: %w", err)
	}
	mainPath := filepath.Join(outDir, MainPageFile(target.Device))
	canceled, err := c.engine.Capture(ctx, session, mainPath, target.Device, req.Token)
	if err != nil {
		return result, fmt.Errorf("capture root page: %w", err)
	}
	result.Files = append(result.Files, mainPath)
	if canceled {
		result.Canceled = true
		logger.Info("crawl canceled after root capture")
		transition(CrawlDone)
		return result, nil
	}

	transition(CrawlExtracting)
	links := c.links.Extract(ctx, session, target.URL)
	result.LinksFound = len(links)
	logger.Info("links extracted", zap.Int("count", len(links)))

	processed := make(map[string]struct{}, len(links))
	captured := 0
	for i, link := range links {
		if captured >= req.LinkBudget {
			break
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("%w: %v", ErrNavigation, ctx.Err())
		}
		if req.Token.Canceled() {
			result.Canceled = true
			logger.Info("crawl canceled", zap.Int("captured", captured))
			break
		}
		if _, done := processed[link]; done {
			continue
		}
		processed[link] = struct{}{}

		ordinal := i + 1
		state = CrawlCapturingLink
		linkPath := filepath.Join(outDir, LinkFile(ordinal, target.Device))
		canceled, err := c.captureLink(ctx, session, link, linkPath, target.Device, req.Token)
		if err != nil {
			result.LinksFailed++
			logger.Warn("link capture failed",
				zap.Int("ordinal", ordinal),
				zap.String("url", link),
				zap.Error(err),
			)
			continue
		}
		captured++
		result.Files = append(result.Files, linkPath)
		logger.Info("link captured", zap.Int("ordinal", ordinal), zap.String("url", link))
		if canceled {
			result.Canceled = true
			logger.Info("crawl canceled", zap.Int("captured", captured))
			break
		}
	}

	transition(CrawlDone, zap.Int("files", len(result.Files)))
	return result, nil
}

func (c *Crawler) captureLink(
	ctx context.Context,
	page Page,
	link, dest string,
	device DeviceType,
	token *CancelToken,
) (bool, error) {
	if err := c.load(ctx, page, link, device); err != nil {
		return false, err
	}
	return c.engine.Capture(ctx, page, dest, device, token)
}

// load navigates, waits for the body, settles and clears consent overlays.
func (c *Crawler) load(ctx context.Context, page Page, url string, device DeviceType) error {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, url); err != nil {
			return fmt.Errorf("%w: %v", ErrNavigation, err)
		}
	}
	if err := page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	if err := page.WaitReady(ctx, "body", c.cfg.DOMTimeout); err != nil {
		return fmt.Errorf("%w: body not ready for %s: %v", ErrNavigation, url, err)
	}
	if c.Sleep != nil {
		if err := c.Sleep(ctx, c.cfg.SettleTime); err != nil {
			return fmt.Errorf("%w: %v", ErrNavigation, err)
		}
	}
	if device == DeviceDesktop && c.cfg.DesktopViewport.Width > 0 {
		if err := page.SetViewport(ctx, c.cfg.DesktopViewport); err != nil {
			return fmt.Errorf("%w: set desktop viewport: %v", ErrNavigation, err)
		}
	}
	if c.dismisser != nil {
		c.dismisser.DismissWithRetry(ctx, page)
	}
	return nil
}
