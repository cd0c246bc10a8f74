// Package headless provides browser sessions backed by chromedp and headless Chrome.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

// Config controls how browser sessions are launched.
type Config struct {
	// MaxParallel caps concurrently open browsers; zero means unlimited.
	MaxParallel       int
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	NoSandbox         bool
	MobileViewport    capture.Viewport
	DesktopViewport   capture.Viewport
}

// Launcher starts one Chrome process per session so jobs never share a browser.
type Launcher struct {
	cfg     Config
	limiter chan struct{}
}

// NewLauncher validates cfg and returns a Launcher.
func NewLauncher(cfg Config) (*Launcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.MobileViewport.Width <= 0 || cfg.MobileViewport.Height <= 0 {
		cfg.MobileViewport = capture.Viewport{Width: 375, Height: 812}
	}
	if cfg.DesktopViewport.Width <= 0 || cfg.DesktopViewport.Height <= 0 {
		cfg.DesktopViewport = capture.Viewport{Width: 1920, Height: 1080}
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Launcher{cfg: cfg, limiter: limiter}, nil
}

func (l *Launcher) allocatorOptions(vp capture.Viewport) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.WindowSize(vp.Width, vp.Height),
	)
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	return opts
}

func (l *Launcher) viewportFor(device capture.DeviceType) capture.Viewport {
	if device == capture.DeviceMobile {
		return l.cfg.MobileViewport
	}
	return l.cfg.DesktopViewport
}

// Launch starts a browser configured for device. The caller must Close the
// returned session.
func (l *Launcher) Launch(ctx context.Context, device capture.DeviceType) (capture.Session, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrSession, err)
	}
	vp := l.viewportFor(device)
	mobile := device == capture.DeviceMobile

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(vp)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		ctx:        tabCtx,
		navTimeout: l.cfg.NavigationTimeout,
		viewport:   vp,
		mobile:     mobile,
	}
	s.closeFn = func() {
		tabCancel()
		allocCancel()
		l.release()
	}

	// The first Run starts the browser; it must use the tab context itself so
	// the process lifetime is not bound to a timeout.
	if err := chromedp.Run(tabCtx, s.metricsAction(vp)); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: start browser: %v", capture.ErrSession, err)
	}
	return s, nil
}

func (l *Launcher) acquire(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	select {
	case l.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (l *Launcher) release() {
	if l.limiter == nil {
		return
	}
	select {
	case <-l.limiter:
	default:
	}
}

// Session is one browser tab owned by a single job.
type Session struct {
	ctx        context.Context
	navTimeout time.Duration
	closeFn    func()
	closeOnce  sync.Once

	mu        sync.Mutex
	viewport  capture.Viewport
	mobile    bool
	frameExec runtime.ExecutionContextID
}

var _ capture.Session = (*Session)(nil)

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
	return nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url in the tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	return nil
}

// WaitReady waits until selector exists in the document.
func (s *Session) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// WaitVisible waits until selector is visible.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Evaluate runs script in the current evaluation target and decodes the result into out.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	s.mu.Lock()
	execID := s.frameExec
	s.mu.Unlock()

	if execID == 0 {
		return s.run(ctx, s.navTimeout, chromedp.Evaluate(script, out))
	}
	return s.run(ctx, s.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exc, err := runtime.Evaluate(script).
			WithContextID(execID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("frame evaluate: %w", err)
		}
		if exc != nil {
			return fmt.Errorf("frame evaluate: %s", exc.Text)
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(res.Value), out)
	}))
}

// HTML returns the rendered document markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.navTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read outer html: %w", err)
	}
	return html, nil
}

// Location returns the current document URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.navTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Viewport returns the size last applied to the tab.
func (s *Session) Viewport() capture.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// SetViewport resizes the emulated viewport.
func (s *Session) SetViewport(ctx context.Context, vp capture.Viewport) error {
	if err := s.run(ctx, s.navTimeout, s.metricsAction(vp)); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	s.mu.Lock()
	s.viewport = vp
	s.mu.Unlock()
	return nil
}

func (s *Session) metricsAction(vp capture.Viewport) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1, s.mobile).Do(ctx)
	})
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Frames lists iframe elements of the main document.
func (s *Session) Frames(ctx context.Context) ([]capture.Frame, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, s.navTimeout,
		chromedp.Nodes("iframe", &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return nil, fmt.Errorf("list iframes: %w", err)
	}
	frames := make([]capture.Frame, 0, len(nodes))
	for _, n := range nodes {
		if n.FrameID == "" {
			continue
		}
		frames = append(frames, capture.Frame{
			ID:        string(n.FrameID),
			Src:       n.AttributeValue("src"),
			Name:      n.AttributeValue("name"),
			ElementID: n.AttributeValue("id"),
		})
	}
	return frames, nil
}

// EnterFrame makes Evaluate target the given frame.
func (s *Session) EnterFrame(ctx context.Context, frameID string) error {
	if frameID == "" {
		return errors.New("frame id is required")
	}
	var execID runtime.ExecutionContextID
	if err := s.run(ctx, s.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := page.CreateIsolatedWorld(cdp.FrameID(frameID)).
			WithWorldName("snaply").
			WithGrantUniveralAccess(true).
			Do(ctx)
		if err != nil {
			return err
		}
		execID = id
		return nil
	})); err != nil {
		return fmt.Errorf("enter frame: %w", err)
	}
	s.mu.Lock()
	s.frameExec = execID
	s.mu.Unlock()
	return nil
}

// ExitFrame makes Evaluate target the main document again.
func (s *Session) ExitFrame(_ context.Context) error {
	s.mu.Lock()
	s.frameExec = 0
	s.mu.Unlock()
	return nil
}
