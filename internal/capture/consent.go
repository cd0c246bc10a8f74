package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/metrics"
)

// Dismisser detects and clears cookie or privacy overlays. It never fails:
// every layer swallows its own errors and the next one is tried.
type Dismisser struct {
	// WaitTimeout bounds the wait for a banner container to appear.
	WaitTimeout time.Duration
	// RetryDelay is the pause before the second attempt of DismissWithRetry.
	RetryDelay time.Duration
	Sleep      Sleeper
	logger     *zap.Logger
	layers     []consentLayer
}

type consentLayer struct {
	name string
	run  func(ctx context.Context, page Page) (bool, error)
}

// NewDismisser builds a Dismisser with the full layer stack.
func NewDismisser(waitTimeout, retryDelay time.Duration, logger *zap.Logger) *Dismisser {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dismisser{
		WaitTimeout: waitTimeout,
		RetryDelay:  retryDelay,
		Sleep:       ContextSleep,
		logger:      logger,
	}
	d.layers = []consentLayer{
		{name: LayerContainerScan, run: evalLayer(containerScanScript(LayerContainerScan, true))},
		{name: LayerContainerWait, run: d.waitForContainer},
		{name: LayerTextSearch, run: evalLayer(textSearchScript(LayerTextSearch))},
		{name: LayerAriaLabel, run: evalLayer(ariaLabelScript())},
		{name: LayerSelector, run: evalLayer(selectorScript())},
		{name: LayerIframe, run: d.searchFrames},
		{name: LayerRemoval, run: evalLayer(removalScript())},
	}
	return d
}

// Dismiss runs the layers in order and stops at the first one that acts.
func (d *Dismisser) Dismiss(ctx context.Context, page Page) bool {
	for _, layer := range d.layers {
		if ctx.Err() != nil {
			return false
		}
		ok, err := d.runLayer(ctx, page, layer)
		if err != nil {
			d.logger.Debug("consent layer failed", zap.String("layer", layer.name), zap.Error(err))
			continue
		}
		if ok {
			d.logger.Info("consent popup dismissed", zap.String("layer", layer.name))
			metrics.ObserveConsentDismissal(layer.name)
			return true
		}
	}
	return false
}

// DismissWithRetry calls Dismiss and, if nothing was found, tries once more
// after RetryDelay for banners that render late.
func (d *Dismisser) DismissWithRetry(ctx context.Context, page Page) bool {
	if d.Dismiss(ctx, page) {
		return true
	}
	if d.Sleep != nil {
		if err := d.Sleep(ctx, d.RetryDelay); err != nil {
			return false
		}
	}
	return d.Dismiss(ctx, page)
}

func (d *Dismisser) runLayer(ctx context.Context, page Page, layer consentLayer) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("consent layer panic: %v", r)
		}
	}()
	return layer.run(ctx, page)
}

func evalLayer(script string) func(ctx context.Context, page Page) (bool, error) {
	return func(ctx context.Context, page Page) (bool, error) {
		var clicked bool
		if err := page.Evaluate(ctx, script, &clicked); err != nil {
			return false, err
		}
		return clicked, nil
	}
}

func (d *Dismisser) waitForContainer(ctx context.Context, page Page) (bool, error) {
	if d.WaitTimeout <= 0 {
		return false, nil
	}
	if err := page.WaitVisible(ctx, strings.Join(BannerSelectors, ", "), d.WaitTimeout); err != nil {
		return false, err
	}
	return evalLayer(containerScanScript(LayerContainerWait, false))(ctx, page)
}

func (d *Dismisser) searchFrames(ctx context.Context, page Page) (bool, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return false, err
	}
	var errs []error
	for _, frame := range frames {
		if !consentFrame(frame) {
			continue
		}
		ok, err := d.searchFrame(ctx, page, frame)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// searchFrame always leaves the page evaluating in the main document.
func (d *Dismisser) searchFrame(ctx context.Context, page Page, frame Frame) (ok bool, err error) {
	if err := page.EnterFrame(ctx, frame.ID); err != nil {
		_ = page.ExitFrame(ctx)
		return false, fmt.Errorf("enter frame %s: %w", frame.ID, err)
	}
	defer func() {
		if exitErr := page.ExitFrame(ctx); exitErr != nil && err == nil {
			err = fmt.Errorf("exit frame %s: %w", frame.ID, exitErr)
		}
	}()
	return evalLayer(textSearchScript(LayerIframe))(ctx, page)
}

func consentFrame(frame Frame) bool {
	haystack := strings.ToLower(frame.Src + " " + frame.ElementID + " " + frame.Name)
	for _, hint := range consentFrameHints {
		if strings.Contains(haystack, hint) {
			return true
		}
	}
	return false
}
