package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

func noSleep(context.Context, time.Duration) error { return nil }

type fakePage struct {
	mu sync.Mutex

	pages         map[string]string
	navErr        map[string]error
	waitErr       map[string]error
	screenshotErr map[string]error
	layerResult   map[string]bool
	layerErr      map[string]error
	htmlFailures  int
	frames        []Frame
	enterErr      error
	waitVisibleOK bool
	extent        pageExtent
	onNavigate    func(url string)

	current     string
	viewport    Viewport
	navigations []string
	layers      []string
	viewports   []Viewport
	inFrame     bool
	frameExits  int
	closed      bool
}

func newFakePage() *fakePage {
	return &fakePage{
		pages:         map[string]string{},
		navErr:        map[string]error{},
		waitErr:       map[string]error{},
		screenshotErr: map[string]error{},
		layerResult:   map[string]bool{},
		layerErr:      map[string]error{},
		extent:        pageExtent{Width: 1280, Height: 3000},
		viewport:      Viewport{Width: 1920, Height: 1080},
	}
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if p.onNavigate != nil {
		p.onNavigate(url)
	}
	if err := p.navErr[url]; err != nil {
		return err
	}
	p.current = url
	return nil
}

func (p *fakePage) WaitReady(_ context.Context, _ string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr[p.current]
}

func (p *fakePage) WaitVisible(_ context.Context, _ string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.waitVisibleOK {
		return context.DeadlineExceeded
	}
	return nil
}

func (p *fakePage) Evaluate(_ context.Context, script string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if script == pageExtentScript {
		ext, ok := out.(*pageExtent)
		if !ok {
			return fmt.Errorf("unexpected out type %T", out)
		}
		*ext = p.extent
		return nil
	}
	const marker = "/* consent:"
	if !strings.HasPrefix(script, marker) {
		return errors.New("unknown script")
	}
	layer := script[len(marker):strings.Index(script, " */")]
	if p.inFrame {
		layer = "frame:" + layer
	}
	p.layers = append(p.layers, layer)
	if err := p.layerErr[layer]; err != nil {
		return err
	}
	clicked, ok := out.(*bool)
	if !ok {
		return fmt.Errorf("unexpected out type %T", out)
	}
	*clicked = p.layerResult[layer]
	return nil
}

func (p *fakePage) HTML(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.htmlFailures > 0 {
		p.htmlFailures--
		return "", errors.New("node detached")
	}
	return p.pages[p.current], nil
}

func (p *fakePage) Location(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *fakePage) Viewport() Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

func (p *fakePage) SetViewport(_ context.Context, vp Viewport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = vp
	p.viewports = append(p.viewports, vp)
	return nil
}

func (p *fakePage) Screenshot(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.screenshotErr[p.current]; err != nil {
		return nil, err
	}
	return []byte("PNG:" + p.current), nil
}

func (p *fakePage) Frames(_ context.Context) ([]Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames, nil
}

func (p *fakePage) EnterFrame(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enterErr != nil {
		return p.enterErr
	}
	p.inFrame = true
	return nil
}

func (p *fakePage) ExitFrame(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFrame = false
	p.frameExits++
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeLauncher struct {
	page    *fakePage
	err     error
	devices []DeviceType
}

func (l *fakeLauncher) Launch(_ context.Context, device DeviceType) (Session, error) {
	l.devices = append(l.devices, device)
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (b *fakeBlobStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	b.objects[path] = raw
	return "fake://" + path, nil
}
