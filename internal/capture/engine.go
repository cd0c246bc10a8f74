package capture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/metrics"
)

const pageExtentScript = `(() => {
  const d = document.documentElement, b = document.body || d;
  return {
    width: Math.max(d.scrollWidth, b.scrollWidth, d.clientWidth),
    height: Math.max(d.scrollHeight, b.scrollHeight, d.clientHeight)
  };
})()`

type pageExtent struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EngineConfig controls full-page capture.
type EngineConfig struct {
	// Root is the screenshot base directory; mirror keys are relative to it.
	Root         string
	MobileWidth  int
	ResizeSettle time.Duration
	// MirrorPrefix is prepended to mirror object keys.
	MirrorPrefix string
}

// Engine writes one full-page screenshot per call.
type Engine struct {
	cfg    EngineConfig
	mirror BlobStore
	logger *zap.Logger
	Sleep  Sleeper
}

// NewEngine constructs an Engine. mirror may be nil.
func NewEngine(cfg EngineConfig, mirror BlobStore, logger *zap.Logger) *Engine {
	if cfg.MobileWidth <= 0 {
		cfg.MobileWidth = 375
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, mirror: mirror, logger: logger, Sleep: ContextSleep}
}

// Capture resizes the viewport to the page's full extent, writes the image to
// dest and restores the previous viewport. The returned bool reports whether
// token was canceled once the file was written.
func (e *Engine) Capture(ctx context.Context, page Page, dest string, device DeviceType, token *CancelToken) (bool, error) {
	start := time.Now()
	err := e.capture(ctx, page, dest, device)
	metrics.ObserveCapture(string(device), err == nil, time.Since(start))
	return token.Canceled(), err
}

func (e *Engine) capture(ctx context.Context, page Page, dest string, device DeviceType) error {
	original := page.Viewport()

	var extent pageExtent
	if err := page.Evaluate(ctx, pageExtentScript, &extent); err != nil {
		return fmt.Errorf("%w: read page extent: %v", ErrCapture, err)
	}
	if extent.Height <= 0 {
		extent.Height = original.Height
	}
	width := extent.Width
	switch {
	case device == DeviceMobile:
		width = e.cfg.MobileWidth
	case width <= 0:
		width = original.Width
	}

	if err := page.SetViewport(ctx, Viewport{Width: width, Height: extent.Height}); err != nil {
		return fmt.Errorf("%w: resize viewport: %v", ErrCapture, err)
	}
	defer func() {
		if restoreErr := page.SetViewport(ctx, original); restoreErr != nil {
			e.logger.Warn("restore viewport failed", zap.Error(restoreErr))
		}
	}()

	if e.Sleep != nil {
		if err := e.Sleep(ctx, e.cfg.ResizeSettle); err != nil {
			return fmt.Errorf("%w: settle after resize: %v", ErrCapture, err)
		}
	}

	img, err := page.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("%w: screenshot: %v", ErrCapture, err)
	}
	if err := os.WriteFile(dest, img, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrCapture, dest, err)
	}
	e.mirrorFile(ctx, dest, img)
	return nil
}

// mirrorFile copies a written screenshot to the blob store. Disk stays the
// source of truth, so failures are only logged.
func (e *Engine) mirrorFile(ctx context.Context, dest string, img []byte) {
	if e.mirror == nil {
		return
	}
	key := filepath.Base(dest)
	if e.cfg.Root != "" {
		if rel, err := filepath.Rel(e.cfg.Root, dest); err == nil {
			key = filepath.ToSlash(rel)
		}
	}
	if e.cfg.MirrorPrefix != "" {
		key = path.Join(e.cfg.MirrorPrefix, key)
	}
	uri, err := e.mirror.PutObject(ctx, key, "image/png", bytes.NewReader(img))
	if err != nil {
		e.logger.Warn("mirror screenshot failed", zap.String("path", dest), zap.Error(err))
		return
	}
	e.logger.Debug("screenshot mirrored", zap.String("path", dest), zap.String("uri", uri))
}
